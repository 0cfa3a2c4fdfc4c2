package ledger

import (
	"database/sql/driver"
	"fmt"
)

// OrderState is the lifecycle state of a tracked order.
type OrderState string

const (
	OrderOpen            OrderState = "open"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderCancelled       OrderState = "cancelled"
)

// transitions lists the states reachable in one step. Terminal states map to nil.
var transitions = map[OrderState][]OrderState{
	OrderOpen:            {OrderPartiallyFilled, OrderFilled, OrderCancelled},
	OrderPartiallyFilled: {OrderFilled, OrderCancelled},
	OrderFilled:          nil,
	OrderCancelled:       nil,
}

// Valid reports whether s is one of the known states.
func (s OrderState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s OrderState) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to OrderState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionResult tells the store what to do with a requested transition.
type TransitionResult int

const (
	// TransitionApply means the state and modified stamp must be updated.
	TransitionApply TransitionResult = iota
	// TransitionNoop means the order is already in the target state.
	TransitionNoop
)

// Transition decides whether an order may move from current to target.
// Re-applying the current state is a no-op; anything not in the table fails
// with ErrIllegalTransition.
func Transition(current, target OrderState) (TransitionResult, error) {
	if !target.Valid() {
		return TransitionNoop, fmt.Errorf("%w: unknown target state %q", ErrIllegalTransition, target)
	}
	if current == target {
		return TransitionNoop, nil
	}
	if !CanTransition(current, target) {
		return TransitionNoop, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, target)
	}
	return TransitionApply, nil
}

// Scan implements sql.Scanner for the order_state column.
func (s *OrderState) Scan(src any) error {
	var v string
	switch x := src.(type) {
	case string:
		v = x
	case []byte:
		v = string(x)
	default:
		return fmt.Errorf("order state: cannot scan %T", src)
	}
	st := OrderState(v)
	if !st.Valid() {
		return fmt.Errorf("order state: unknown value %q", v)
	}
	*s = st
	return nil
}

// Value implements driver.Valuer.
func (s OrderState) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("order state: unknown value %q", string(s))
	}
	return string(s), nil
}
