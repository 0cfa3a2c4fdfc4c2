package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/exledger/internal/ledger"
)

const orderColumns = `o.order_id, o.remote_transaction_id, o.market_id, o.created_stamp_id,
		o.modified_stamp_id, o.price, o.base_quantity, o.quote_quantity, o.side, o.kind, o.state`

// orderRow carries the instant of the last observation so transitions can
// refuse observations older than it.
type orderRow struct {
	ledger.Order
	ModifiedInstant time.Time `db:"modified_instant"`
}

// RecordOrder inserts an order seen for the first time, or applies its
// observed state to the order already tracked under the same remote id.
func (s *LedgerStore) RecordOrder(ctx context.Context, o ledger.NewOrder) (ledger.Order, error) {
	if err := o.Validate(); err != nil {
		return ledger.Order{}, err
	}

	var out ledger.Order
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		current, err := s.lockOrder(ctx, tx, o.RemoteID)
		if err == nil {
			out, err = s.transition(ctx, tx, current, o.State, o.Stamp)
			return err
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		id, err := s.insert(ctx, tx, ledger.CounterOrder, "insert order", `
			INSERT INTO orders (order_id, remote_transaction_id, market_id, created_stamp_id,
				modified_stamp_id, price, base_quantity, quote_quantity, side, kind, state)
			VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, $9, $10)`,
			o.RemoteID, o.Market, o.Stamp, o.Price, o.BaseQuantity, o.QuoteQuantity,
			string(o.Side), string(o.Kind), o.State)
		if err != nil {
			return err
		}
		out = ledger.Order{
			ID:            id,
			RemoteID:      o.RemoteID,
			Market:        o.Market,
			CreatedStamp:  o.Stamp,
			ModifiedStamp: o.Stamp,
			Price:         o.Price,
			BaseQuantity:  o.BaseQuantity,
			QuoteQuantity: o.QuoteQuantity,
			Side:          o.Side,
			Kind:          o.Kind,
			State:         o.State,
		}
		return nil
	})
	if err != nil {
		return ledger.Order{}, err
	}
	return out, nil
}

// TransitionOrder moves the order to target as observed at stamp. Re-applying
// the current state changes nothing; unreachable states and observations
// older than the last one fail with ledger.ErrIllegalTransition.
func (s *LedgerStore) TransitionOrder(ctx context.Context, remoteID string, target ledger.OrderState, stamp ledger.ID) (ledger.Order, error) {
	var out ledger.Order
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		current, err := s.lockOrder(ctx, tx, remoteID)
		if err != nil {
			return err
		}
		out, err = s.transition(ctx, tx, current, target, stamp)
		return err
	})
	if err != nil {
		return ledger.Order{}, err
	}
	return out, nil
}

func (s *LedgerStore) lockOrder(ctx context.Context, tx *sqlx.Tx, remoteID string) (orderRow, error) {
	var row orderRow
	err := tx.GetContext(ctx, &row, `
		SELECT `+orderColumns+`, ms.instant AS modified_instant
		FROM orders o
		JOIN stamp ms ON ms.stamp_id = o.modified_stamp_id
		WHERE o.remote_transaction_id = $1
		FOR UPDATE OF o`, remoteID)
	if err != nil {
		return orderRow{}, notFound(fmt.Sprintf("order %s", remoteID), err)
	}
	return row, nil
}

func (s *LedgerStore) transition(ctx context.Context, tx *sqlx.Tx, current orderRow, target ledger.OrderState, stamp ledger.ID) (ledger.Order, error) {
	res, err := ledger.Transition(current.State, target)
	if err != nil {
		return ledger.Order{}, fmt.Errorf("order %s: %w", current.RemoteID, err)
	}
	if res == ledger.TransitionNoop {
		return current.Order, nil
	}

	var observed time.Time
	if err := tx.GetContext(ctx, &observed, `SELECT instant FROM stamp WHERE stamp_id = $1`, stamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Order{}, fmt.Errorf("order %s: stamp %d: %w", current.RemoteID, stamp, ledger.ErrReferenceNotFound)
		}
		return ledger.Order{}, classify("select observation stamp", err)
	}
	if observed.Before(current.ModifiedInstant) {
		return ledger.Order{}, fmt.Errorf("%w: order %s observed at %s, last modified at %s",
			ledger.ErrIllegalTransition, current.RemoteID,
			observed.UTC().Format(time.RFC3339), current.ModifiedInstant.UTC().Format(time.RFC3339))
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET state = $1, modified_stamp_id = $2
		WHERE order_id = $3`, target, stamp, current.ID)
	if err != nil {
		return ledger.Order{}, classify("update order state", err)
	}

	out := current.Order
	out.State = target
	out.ModifiedStamp = stamp
	return out, nil
}

// Order finds an order by its remote transaction id
func (s *LedgerStore) Order(ctx context.Context, remoteID string) (ledger.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var o ledger.Order
	err := s.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders o WHERE o.remote_transaction_id = $1`, remoteID)
	if err != nil {
		return ledger.Order{}, notFound(fmt.Sprintf("order %s", remoteID), err)
	}
	return o, nil
}

// OpenOrders lists the market's orders that can still change state
func (s *LedgerStore) OpenOrders(ctx context.Context, market ledger.ID) ([]ledger.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.Order
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+orderColumns+`
		FROM orders o
		WHERE o.market_id = $1 AND o.state IN ('open', 'partially_filled')
		ORDER BY o.order_id`, market)
	if err != nil {
		return nil, classify("select open orders", err)
	}
	return out, nil
}
