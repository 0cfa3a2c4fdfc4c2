package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/exledger/internal/ledger"
)

// EnsureService returns the service called name, creating it on first use
func (s *Store) EnsureService(ctx context.Context, name string) (ledger.Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Service{}, fmt.Errorf("service name is required")
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Service{}, err
	}
	defer unlock()

	for _, svc := range s.services {
		if svc.Name == name {
			return svc, nil
		}
	}
	id, err := s.next(ledger.CounterService)
	if err != nil {
		return ledger.Service{}, err
	}
	svc := ledger.Service{ID: id, Name: name}
	s.services[id] = svc
	return svc, nil
}

// Services lists every service ordered by id
func (s *Store) Services(ctx context.Context) ([]ledger.Service, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]ledger.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EnsureAsset returns the asset keyed by unit, creating it on first use
func (s *Store) EnsureAsset(ctx context.Context, name *string, unit string) (ledger.Asset, error) {
	unit = strings.ToUpper(strings.TrimSpace(unit))
	if unit == "" {
		return ledger.Asset{}, fmt.Errorf("asset unit is required")
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.Asset{}, err
	}
	defer unlock()

	for _, a := range s.assets {
		if a.Unit == unit {
			return a, nil
		}
	}
	id, err := s.next(ledger.CounterAsset)
	if err != nil {
		return ledger.Asset{}, err
	}
	a := ledger.Asset{ID: id, Name: name, Unit: unit}
	s.assets[id] = a
	return a, nil
}

// Assets lists every asset ordered by id
func (s *Store) Assets(ctx context.Context) ([]ledger.Asset, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]ledger.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddExchangeRate records the base/target rate for the day of date
func (s *Store) AddExchangeRate(ctx context.Context, date time.Time, base, target ledger.ID, rate decimal.Decimal) (ledger.ExchangeRate, error) {
	if base == target {
		return ledger.ExchangeRate{}, fmt.Errorf("exchange rate %d/%d: base and target must differ", base, target)
	}
	if !rate.IsPositive() {
		return ledger.ExchangeRate{}, fmt.Errorf("exchange rate %d/%d: rate must be positive, got %s", base, target, rate)
	}
	date = ledger.NormalizeDate(date)

	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.ExchangeRate{}, err
	}
	defer unlock()

	for _, id := range []ledger.ID{base, target} {
		if _, ok := s.assets[id]; !ok {
			return ledger.ExchangeRate{}, missing("asset", id)
		}
	}
	for _, r := range s.rates {
		if r.Date.Equal(date) && r.Base == base && r.Target == target {
			return ledger.ExchangeRate{}, fmt.Errorf("exchange rate %s %d/%d: %w", date.Format(time.DateOnly), base, target, ledger.ErrDuplicate)
		}
	}
	id, err := s.next(ledger.CounterExchangeRate)
	if err != nil {
		return ledger.ExchangeRate{}, err
	}
	r := ledger.ExchangeRate{ID: id, Date: date, Base: base, Target: target, Rate: rate}
	s.rates = append(s.rates, r)
	return r, nil
}

// ExchangeRatesOn returns the rates recorded for the day of date
func (s *Store) ExchangeRatesOn(ctx context.Context, date time.Time) ([]ledger.ExchangeRate, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	date = ledger.NormalizeDate(date)
	var out []ledger.ExchangeRate
	for _, r := range s.rates {
		if r.Date.Equal(date) {
			out = append(out, r)
		}
	}
	return out, nil
}

// AddAssetHistory appends the amount of asset held at service on the day of date
func (s *Store) AddAssetHistory(ctx context.Context, date time.Time, service, asset ledger.ID, amount decimal.Decimal) (ledger.AssetHistory, error) {
	date = ledger.NormalizeDate(date)

	unlock, err := s.lock(ctx)
	if err != nil {
		return ledger.AssetHistory{}, err
	}
	defer unlock()

	if _, ok := s.services[service]; !ok {
		return ledger.AssetHistory{}, missing("service", service)
	}
	if _, ok := s.assets[asset]; !ok {
		return ledger.AssetHistory{}, missing("asset", asset)
	}
	for _, h := range s.history {
		if h.Date.Equal(date) && h.Service == service && h.Asset == asset {
			return ledger.AssetHistory{}, fmt.Errorf("asset history %s %d/%d: %w", date.Format(time.DateOnly), service, asset, ledger.ErrDuplicate)
		}
	}
	id, err := s.next(ledger.CounterAssetHistory)
	if err != nil {
		return ledger.AssetHistory{}, err
	}
	h := ledger.AssetHistory{ID: id, Date: date, Service: service, Asset: asset, Amount: amount}
	s.history = append(s.history, h)
	return h, nil
}

// AssetHistoryOn returns every holding recorded for the day of date
func (s *Store) AssetHistoryOn(ctx context.Context, date time.Time) ([]ledger.AssetHistory, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	date = ledger.NormalizeDate(date)
	var out []ledger.AssetHistory
	for _, h := range s.history {
		if h.Date.Equal(date) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}
