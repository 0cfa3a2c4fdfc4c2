// Package memory is an in-process ledger with the same invariants as the
// PostgreSQL store. Tests and dry runs use it in place of a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/exledger/internal/ledger"
	"github.com/sawpanic/exledger/internal/persistence"
)

// Store holds one logical database in memory
type Store struct {
	mu          sync.Mutex
	unavailable bool

	counters map[ledger.Counter]ledger.ID

	stamps          map[ledger.ID]ledger.Stamp
	stampsByInstant map[int64]ledger.ID

	currencies       map[ledger.ID]ledger.Currency
	currencyBySymbol map[string]ledger.ID
	markets          map[ledger.ID]ledger.Market

	balances []ledger.Balance
	prices   []ledger.Price
	book     []ledger.OrderBookEntry
	orders   map[string]ledger.Order

	services map[ledger.ID]ledger.Service
	assets   map[ledger.ID]ledger.Asset
	rates    []ledger.ExchangeRate
	history  []ledger.AssetHistory
}

var (
	_ persistence.LedgerStore = (*Store)(nil)
	_ persistence.AssetStore  = (*Store)(nil)
	_ persistence.Pruner      = (*Store)(nil)
	_ persistence.Allocator   = (*Store)(nil)
)

// New creates an empty store with every counter at 1
func New() *Store {
	s := &Store{
		counters:         make(map[ledger.Counter]ledger.ID, len(ledger.Counters)),
		stamps:           make(map[ledger.ID]ledger.Stamp),
		stampsByInstant:  make(map[int64]ledger.ID),
		currencies:       make(map[ledger.ID]ledger.Currency),
		currencyBySymbol: make(map[string]ledger.ID),
		markets:          make(map[ledger.ID]ledger.Market),
		orders:           make(map[string]ledger.Order),
		services:         make(map[ledger.ID]ledger.Service),
		assets:           make(map[ledger.ID]ledger.Asset),
	}
	for _, c := range ledger.Counters {
		s.counters[c] = 1
	}
	return s
}

// Repository exposes the store as a logical database
func (s *Store) Repository(target persistence.Target) *persistence.Repository {
	return &persistence.Repository{Target: target, Ledger: s, Assets: s, Pruner: s}
}

// SetUnavailable makes every later call fail with ledger.ErrStorageUnavailable
// until it is reset.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrStorageUnavailable, err)
	}
	s.mu.Lock()
	if s.unavailable {
		s.mu.Unlock()
		return nil, fmt.Errorf("memory store: %w", ledger.ErrStorageUnavailable)
	}
	return s.mu.Unlock, nil
}

// Next implements persistence.Allocator. q is ignored.
func (s *Store) Next(ctx context.Context, _ sqlx.QueryerContext, counter ledger.Counter) (ledger.ID, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ledger.ErrAllocationFailure, err)
	}
	defer unlock()
	return s.next(counter)
}

func (s *Store) next(counter ledger.Counter) (ledger.ID, error) {
	v, ok := s.counters[counter]
	if !ok {
		return 0, fmt.Errorf("%w: unknown counter %q", ledger.ErrAllocationFailure, counter)
	}
	s.counters[counter] = v + 1
	return v, nil
}

func missing(kind string, id ledger.ID) error {
	return fmt.Errorf("%s %d: %w", kind, id, ledger.ErrReferenceNotFound)
}

// Stamp returns the stamp of the normalized instant, inserting it on first use
func (s *Store) Stamp(ctx context.Context, instant time.Time) (ledger.Stamp, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Stamp{}, err
	}
	defer unlock()

	instant = ledger.NormalizeInstant(instant)
	if id, ok := s.stampsByInstant[instant.Unix()]; ok {
		return s.stamps[id], nil
	}
	id, err := s.next(ledger.CounterStamp)
	if err != nil {
		return ledger.Stamp{}, err
	}
	st := ledger.Stamp{ID: id, Instant: instant}
	s.stamps[id] = st
	s.stampsByInstant[instant.Unix()] = id
	return st, nil
}

func (s *Store) sortedStamps() []ledger.Stamp {
	out := make([]ledger.Stamp, 0, len(s.stamps))
	for _, st := range s.stamps {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instant.Before(out[j].Instant) })
	return out
}

// StampsBetween returns stamps inside tr, oldest first
func (s *Store) StampsBetween(ctx context.Context, tr ledger.TimeRange) ([]ledger.Stamp, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []ledger.Stamp
	for _, st := range s.sortedStamps() {
		if tr.Contains(st.Instant) {
			out = append(out, st)
		}
	}
	return out, nil
}

// FirstStampAtOrAfter returns the earliest stamp not before t
func (s *Store) FirstStampAtOrAfter(ctx context.Context, t time.Time) (ledger.Stamp, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Stamp{}, err
	}
	defer unlock()

	for _, st := range s.sortedStamps() {
		if !st.Instant.Before(t) {
			return st, nil
		}
	}
	return ledger.Stamp{}, fmt.Errorf("first stamp at or after %s: %w", t.Format(time.RFC3339), ledger.ErrNotFound)
}

// LatestStampAtOrBefore returns the latest stamp not after t; zero t selects
// the latest overall.
func (s *Store) LatestStampAtOrBefore(ctx context.Context, t time.Time) (ledger.Stamp, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Stamp{}, err
	}
	defer unlock()

	stamps := s.sortedStamps()
	for i := len(stamps) - 1; i >= 0; i-- {
		if t.IsZero() || !stamps[i].Instant.After(t) {
			return stamps[i], nil
		}
	}
	return ledger.Stamp{}, fmt.Errorf("latest stamp: %w", ledger.ErrNotFound)
}

// UpsertCurrency creates the currency or refreshes its display name
func (s *Store) UpsertCurrency(ctx context.Context, symbol, displayName string) (ledger.Currency, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ledger.Currency{}, fmt.Errorf("currency symbol is required")
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Currency{}, err
	}
	defer unlock()

	if id, ok := s.currencyBySymbol[symbol]; ok {
		c := s.currencies[id]
		if displayName != "" && displayName != c.DisplayName {
			c.DisplayName = displayName
			s.currencies[id] = c
		}
		return c, nil
	}
	if displayName == "" {
		displayName = symbol
	}
	id, err := s.next(ledger.CounterCurrency)
	if err != nil {
		return ledger.Currency{}, err
	}
	c := ledger.Currency{ID: id, Symbol: symbol, DisplayName: displayName}
	s.currencies[id] = c
	s.currencyBySymbol[symbol] = id
	return c, nil
}

// Currencies lists every currency ordered by id
func (s *Store) Currencies(ctx context.Context) ([]ledger.Currency, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]ledger.Currency, 0, len(s.currencies))
	for _, c := range s.currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EnsureMarket returns the base/quote market, creating it on first use
func (s *Store) EnsureMarket(ctx context.Context, base, quote ledger.ID) (ledger.Market, error) {
	if base == quote {
		return ledger.Market{}, fmt.Errorf("market %d/%d: base and quote must differ", base, quote)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Market{}, err
	}
	defer unlock()

	for _, m := range s.markets {
		if m.Base == base && m.Quote == quote {
			return m, nil
		}
	}
	if _, ok := s.currencies[base]; !ok {
		return ledger.Market{}, missing("currency", base)
	}
	if _, ok := s.currencies[quote]; !ok {
		return ledger.Market{}, missing("currency", quote)
	}
	id, err := s.next(ledger.CounterMarket)
	if err != nil {
		return ledger.Market{}, err
	}
	m := ledger.Market{ID: id, Base: base, Quote: quote}
	s.markets[id] = m
	return m, nil
}

// Markets lists every market ordered by id
func (s *Store) Markets(ctx context.Context) ([]ledger.Market, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]ledger.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddBalance appends a balance snapshot
func (s *Store) AddBalance(ctx context.Context, currency, stamp ledger.ID, available, pending decimal.Decimal) (ledger.Balance, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Balance{}, err
	}
	defer unlock()

	if _, ok := s.currencies[currency]; !ok {
		return ledger.Balance{}, missing("currency", currency)
	}
	if _, ok := s.stamps[stamp]; !ok {
		return ledger.Balance{}, missing("stamp", stamp)
	}
	id, err := s.next(ledger.CounterBalance)
	if err != nil {
		return ledger.Balance{}, err
	}
	b := ledger.Balance{ID: id, Currency: currency, Stamp: stamp, Available: available, Pending: pending}
	s.balances = append(s.balances, b)
	return b, nil
}

// BalancesAt returns balances recorded at any of the stamps
func (s *Store) BalancesAt(ctx context.Context, stamps []ledger.ID) ([]ledger.Balance, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	want := make(map[ledger.ID]bool, len(stamps))
	for _, id := range stamps {
		want[id] = true
	}
	var out []ledger.Balance
	for _, b := range s.balances {
		if want[b.Stamp] {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Stamp != out[j].Stamp {
			return out[i].Stamp < out[j].Stamp
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

// AddPrice appends a market price observation
func (s *Store) AddPrice(ctx context.Context, market, stamp ledger.ID, price decimal.Decimal) (ledger.Price, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Price{}, err
	}
	defer unlock()

	if _, ok := s.markets[market]; !ok {
		return ledger.Price{}, missing("market", market)
	}
	if _, ok := s.stamps[stamp]; !ok {
		return ledger.Price{}, missing("stamp", stamp)
	}
	id, err := s.next(ledger.CounterPrice)
	if err != nil {
		return ledger.Price{}, err
	}
	p := ledger.Price{ID: id, Market: market, Stamp: stamp, Price: price}
	s.prices = append(s.prices, p)
	return p, nil
}

// PricesAt returns every price recorded at stamp
func (s *Store) PricesAt(ctx context.Context, stamp ledger.ID) ([]ledger.Price, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []ledger.Price
	for _, p := range s.prices {
		if p.Stamp == stamp {
			out = append(out, p)
		}
	}
	return out, nil
}

// AddOrderBookEntries appends one snapshot; nothing is stored if any entry is invalid
func (s *Store) AddOrderBookEntries(ctx context.Context, entries []ledger.OrderBookEntry) ([]ledger.OrderBookEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for i, e := range entries {
		if !e.Side.Valid() {
			return nil, fmt.Errorf("order book entry %d: unknown side %q", i, e.Side)
		}
		if _, ok := s.markets[e.Market]; !ok {
			return nil, missing("market", e.Market)
		}
		if _, ok := s.stamps[e.Stamp]; !ok {
			return nil, missing("stamp", e.Stamp)
		}
	}

	out := make([]ledger.OrderBookEntry, 0, len(entries))
	for _, e := range entries {
		id, err := s.next(ledger.CounterOrderBook)
		if err != nil {
			return nil, err
		}
		e.ID = id
		out = append(out, e)
	}
	s.book = append(s.book, out...)
	return out, nil
}

// OrderBookAt returns the entries of market at stamp, for reconciliation checks
func (s *Store) OrderBookAt(market, stamp ledger.ID) []ledger.OrderBookEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.OrderBookEntry
	for _, e := range s.book {
		if e.Market == market && e.Stamp == stamp {
			out = append(out, e)
		}
	}
	return out
}

// RecordOrder inserts a newly seen order or transitions a known one
func (s *Store) RecordOrder(ctx context.Context, o ledger.NewOrder) (ledger.Order, error) {
	if err := o.Validate(); err != nil {
		return ledger.Order{}, err
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Order{}, err
	}
	defer unlock()

	if current, ok := s.orders[o.RemoteID]; ok {
		return s.transition(current, o.State, o.Stamp)
	}
	if _, ok := s.markets[o.Market]; !ok {
		return ledger.Order{}, missing("market", o.Market)
	}
	if _, ok := s.stamps[o.Stamp]; !ok {
		return ledger.Order{}, missing("stamp", o.Stamp)
	}
	id, err := s.next(ledger.CounterOrder)
	if err != nil {
		return ledger.Order{}, err
	}
	order := ledger.Order{
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
	s.orders[o.RemoteID] = order
	return order, nil
}

// TransitionOrder moves the order to target as observed at stamp
func (s *Store) TransitionOrder(ctx context.Context, remoteID string, target ledger.OrderState, stamp ledger.ID) (ledger.Order, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Order{}, err
	}
	defer unlock()

	current, ok := s.orders[remoteID]
	if !ok {
		return ledger.Order{}, fmt.Errorf("order %s: %w", remoteID, ledger.ErrNotFound)
	}
	return s.transition(current, target, stamp)
}

func (s *Store) transition(current ledger.Order, target ledger.OrderState, stamp ledger.ID) (ledger.Order, error) {
	res, err := ledger.Transition(current.State, target)
	if err != nil {
		return ledger.Order{}, fmt.Errorf("order %s: %w", current.RemoteID, err)
	}
	if res == ledger.TransitionNoop {
		return current, nil
	}

	observed, ok := s.stamps[stamp]
	if !ok {
		return ledger.Order{}, fmt.Errorf("order %s: %w", current.RemoteID, missing("stamp", stamp))
	}
	if observed.Instant.Before(s.stamps[current.ModifiedStamp].Instant) {
		return ledger.Order{}, fmt.Errorf("%w: order %s observed before its last modification",
			ledger.ErrIllegalTransition, current.RemoteID)
	}

	current.State = target
	current.ModifiedStamp = stamp
	s.orders[current.RemoteID] = current
	return current, nil
}

// Order finds an order by its remote transaction id
func (s *Store) Order(ctx context.Context, remoteID string) (ledger.Order, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Order{}, err
	}
	defer unlock()

	o, ok := s.orders[remoteID]
	if !ok {
		return ledger.Order{}, fmt.Errorf("order %s: %w", remoteID, ledger.ErrNotFound)
	}
	return o, nil
}

// OpenOrders lists the market's orders that can still change state
func (s *Store) OpenOrders(ctx context.Context, market ledger.ID) ([]ledger.Order, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []ledger.Order
	for _, o := range s.orders {
		if o.Market == market && !o.State.Terminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PruneOrderBook deletes entries stamped before cutoff
func (s *Store) PruneOrderBook(ctx context.Context, cutoff time.Time) (int64, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	kept := s.book[:0]
	var deleted int64
	for _, e := range s.book {
		if s.stamps[e.Stamp].Instant.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.book = kept
	return deleted, nil
}

// DatabaseSize approximates storage as the number of rows held
func (s *Store) DatabaseSize(ctx context.Context) (int64, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	rows := len(s.stamps) + len(s.currencies) + len(s.markets) + len(s.balances) +
		len(s.prices) + len(s.book) + len(s.orders) + len(s.services) + len(s.assets) +
		len(s.rates) + len(s.history)
	return int64(rows), nil
}
