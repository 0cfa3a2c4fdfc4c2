// Package history is the read path behind the balance dashboard: sampled
// balance snapshots valued in a fiat currency, and daily asset holdings.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/exledger/internal/ledger"
	"github.com/sawpanic/exledger/internal/metrics"
	"github.com/sawpanic/exledger/internal/persistence"
)

// ErrDatabaseDisabled is returned for queries against a database that is
// not configured
var ErrDatabaseDisabled = errors.New("database is not enabled")

// Query selects balance snapshots
type Query struct {
	Since      *time.Time    `json:"since,omitempty"`
	Until      *time.Time    `json:"until,omitempty"`
	Step       time.Duration `json:"step"`
	Fiat       string        `json:"fiat,omitempty"`
	Symbols    []string      `json:"symbols,omitempty"`
	Simulation bool          `json:"simulation"`
}

// normalize puts q into a canonical form for cache keys
func (q Query) normalize() Query {
	if q.Step <= 0 {
		q.Step = DefaultStep
	}
	q.Fiat = strings.ToUpper(strings.TrimSpace(q.Fiat))
	if q.Since != nil {
		t := ledger.NormalizeInstant(*q.Since)
		q.Since = &t
	}
	if q.Until != nil {
		t := ledger.NormalizeInstant(*q.Until)
		q.Until = &t
	}
	if len(q.Symbols) > 0 {
		symbols := make([]string, 0, len(q.Symbols))
		for _, s := range q.Symbols {
			symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
		}
		sort.Strings(symbols)
		q.Symbols = symbols
	}
	return q
}

func (q Query) key() string {
	data, _ := json.Marshal(q)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CurrencyRow is one currency holding in a snapshot
type CurrencyRow struct {
	Symbol    string           `json:"symbol"`
	Name      string           `json:"name"`
	Available decimal.Decimal  `json:"available"`
	Pending   decimal.Decimal  `json:"pending"`
	Rate      *decimal.Decimal `json:"rate,omitempty"`
}

// Snapshot is the state of every holding at one stamp
type Snapshot struct {
	Stamp      time.Time     `json:"stamp"`
	Currencies []CurrencyRow `json:"currencies"`
}

// Service answers history queries. Stamps and prices always come from the
// live database; balances from the simulation database on request.
type Service struct {
	live     *persistence.Repository
	sim      *persistence.Repository
	cache    Cache
	cacheTTL time.Duration
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewService creates a service. sim and cache may be nil.
func NewService(live, sim *persistence.Repository, cache Cache, cacheTTL time.Duration, m *metrics.Registry) *Service {
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Service{live: live, sim: sim, cache: cache, cacheTTL: cacheTTL, metrics: m, now: time.Now}
}

// Balances returns the sampled snapshots for q in ascending stamp order.
// Queries that end in the past only see immutable rows, so they are served
// from the cache when one is configured.
func (s *Service) Balances(ctx context.Context, q Query) ([]Snapshot, error) {
	if s.live == nil {
		return nil, fmt.Errorf("live %w", ErrDatabaseDisabled)
	}
	if q.Simulation && s.sim == nil {
		return nil, fmt.Errorf("simulation %w", ErrDatabaseDisabled)
	}
	q = q.normalize()

	cacheable := s.cache != nil && q.Until != nil && q.Until.Before(s.now())
	if cacheable {
		if snaps, ok := s.fromCache(ctx, q); ok {
			return snaps, nil
		}
	}

	snaps, err := s.balances(ctx, q)
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.toCache(ctx, q, snaps)
	}
	return snaps, nil
}

func (s *Service) fromCache(ctx context.Context, q Query) ([]Snapshot, bool) {
	data, found, err := s.cache.Get(ctx, q.key())
	if err != nil {
		log.Debug().Err(err).Msg("History cache unavailable, reading database")
		return nil, false
	}
	s.metrics.RecordCache(found)
	if !found {
		return nil, false
	}

	var snaps []Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		log.Warn().Err(err).Msg("Discarding undecodable history cache entry")
		return nil, false
	}
	return snaps, true
}

func (s *Service) toCache(ctx context.Context, q Query, snaps []Snapshot) {
	data, err := json.Marshal(snaps)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, q.key(), data, s.cacheTTL); err != nil {
		log.Debug().Err(err).Msg("History cache write skipped")
	}
}

func (s *Service) balances(ctx context.Context, q Query) ([]Snapshot, error) {
	stamps, err := SelectStamps(ctx, s.live.Ledger, q.Since, q.Until, q.Step)
	if err != nil {
		return nil, err
	}
	if len(stamps) == 0 {
		return []Snapshot{}, nil
	}

	source := s.live.Ledger
	if q.Simulation {
		source = s.sim.Ledger
	}
	holdings, err := holdingsAt(ctx, source, stamps)
	if err != nil {
		return nil, err
	}

	liveSymbols, err := symbolsByID(ctx, s.live.Ledger)
	if err != nil {
		return nil, err
	}
	var markets []ledger.Market
	if q.Fiat != "" {
		if markets, err = s.live.Ledger.Markets(ctx); err != nil {
			return nil, err
		}
	}

	wanted := make(map[string]bool, len(q.Symbols))
	for _, sym := range q.Symbols {
		wanted[sym] = true
	}

	out := make([]Snapshot, 0, len(stamps))
	for i, st := range stamps {
		var rates []ledger.Rate[string]
		if q.Fiat != "" {
			if rates, err = s.ratesAt(ctx, st, markets, liveSymbols); err != nil {
				return nil, err
			}
		}

		snap := Snapshot{Stamp: st.Instant, Currencies: []CurrencyRow{}}
		for _, v := range ledger.Valuate(holdings[i].rows, rates, q.Fiat) {
			if len(wanted) > 0 && !wanted[v.Asset] {
				continue
			}
			row := CurrencyRow{
				Symbol:    v.Asset,
				Name:      holdings[i].names[v.Asset],
				Available: v.Available,
				Pending:   v.Pending,
			}
			if q.Fiat != "" {
				row.Rate = v.Rate
			}
			snap.Currencies = append(snap.Currencies, row)
		}
		out = append(out, snap)
	}
	return out, nil
}

// SelectStamps picks the stamps a query covers. With both bounds every stamp
// in the range; with only since the first stamp at or after it; with only
// until the last stamp at or before it; with neither the latest stamp. The
// result is thinned so consecutive stamps are at least step apart.
func SelectStamps(ctx context.Context, store persistence.LedgerStore, since, until *time.Time, step time.Duration) ([]ledger.Stamp, error) {
	var stamps []ledger.Stamp

	switch {
	case since != nil && until != nil:
		all, err := store.StampsBetween(ctx, ledger.TimeRange{From: *since, To: *until})
		if err != nil {
			return nil, err
		}
		stamps = all
	default:
		var st ledger.Stamp
		var err error
		if since != nil {
			st, err = store.FirstStampAtOrAfter(ctx, *since)
		} else if until != nil {
			st, err = store.LatestStampAtOrBefore(ctx, *until)
		} else {
			st, err = store.LatestStampAtOrBefore(ctx, time.Time{})
		}
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		stamps = []ledger.Stamp{st}
	}

	return thin(stamps, step), nil
}

func thin(stamps []ledger.Stamp, step time.Duration) []ledger.Stamp {
	if len(stamps) == 0 {
		return stamps
	}
	kept := []ledger.Stamp{stamps[0]}
	for _, st := range stamps[1:] {
		if st.Instant.Sub(kept[len(kept)-1].Instant) >= step {
			kept = append(kept, st)
		}
	}
	return kept
}

type stampHoldings struct {
	rows  []ledger.Holding[string]
	names map[string]string
}

// holdingsAt loads the balances of source at the instants of stamps. Stamp
// ids differ between databases, so simulation stamps are matched by instant.
func holdingsAt(ctx context.Context, source persistence.LedgerStore, stamps []ledger.Stamp) ([]stampHoldings, error) {
	index := make(map[ledger.ID]int, len(stamps))
	ids := make([]ledger.ID, 0, len(stamps))
	for i, st := range stamps {
		local, err := source.StampsBetween(ctx, ledger.TimeRange{From: st.Instant, To: st.Instant})
		if err != nil {
			return nil, err
		}
		for _, l := range local {
			index[l.ID] = i
			ids = append(ids, l.ID)
		}
	}

	currencies, err := source.Currencies(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[ledger.ID]ledger.Currency, len(currencies))
	for _, c := range currencies {
		byID[c.ID] = c
	}

	out := make([]stampHoldings, len(stamps))
	for i := range out {
		out[i].names = map[string]string{}
	}
	if len(ids) == 0 {
		return out, nil
	}

	balances, err := source.BalancesAt(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, b := range balances {
		c, ok := byID[b.Currency]
		if !ok {
			continue
		}
		h := &out[index[b.Stamp]]
		h.rows = append(h.rows, ledger.Holding[string]{Asset: c.Symbol, Available: b.Available, Pending: b.Pending})
		h.names[c.Symbol] = c.DisplayName
	}
	for i := range out {
		rows := out[i].rows
		sort.SliceStable(rows, func(a, b int) bool { return rows[a].Asset < rows[b].Asset })
	}
	return out, nil
}

func symbolsByID(ctx context.Context, store persistence.LedgerStore) (map[ledger.ID]string, error) {
	currencies, err := store.Currencies(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[ledger.ID]string, len(currencies))
	for _, c := range currencies {
		out[c.ID] = c.Symbol
	}
	return out, nil
}

func (s *Service) ratesAt(ctx context.Context, st ledger.Stamp, markets []ledger.Market, symbols map[ledger.ID]string) ([]ledger.Rate[string], error) {
	prices, err := s.live.Ledger.PricesAt(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[ledger.ID]ledger.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	rates := make([]ledger.Rate[string], 0, len(prices))
	for _, p := range prices {
		m, ok := byID[p.Market]
		if !ok {
			continue
		}
		rates = append(rates, ledger.Rate[string]{Base: symbols[m.Base], Quote: symbols[m.Quote], Value: p.Price})
	}
	return rates, nil
}
