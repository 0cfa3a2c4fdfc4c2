package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/exledger/internal/ledger"
	"github.com/sawpanic/exledger/internal/persistence"
)

// AssetStore implements persistence.AssetStore on PostgreSQL
type AssetStore struct {
	base
}

var _ persistence.AssetStore = (*AssetStore)(nil)

// NewAssetStore creates the asset-valuation store
func NewAssetStore(db *sqlx.DB, timeout time.Duration, alloc persistence.Allocator) *AssetStore {
	return &AssetStore{base: newBase(db, timeout, alloc)}
}

// EnsureService returns the service called name, creating it on first use
func (s *AssetStore) EnsureService(ctx context.Context, name string) (ledger.Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Service{}, fmt.Errorf("service name is required")
	}

	var svc ledger.Service
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &svc, `SELECT service_id, name FROM service WHERE name = $1`, name)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return classify("select service", err)
		}

		id, err := s.insert(ctx, tx, ledger.CounterService, "insert service",
			`INSERT INTO service (service_id, name) VALUES ($1, $2)`, name)
		if err != nil {
			return err
		}
		svc = ledger.Service{ID: id, Name: name}
		return nil
	})
	if err != nil {
		return ledger.Service{}, err
	}
	return svc, nil
}

// Services lists every service ordered by id
func (s *AssetStore) Services(ctx context.Context) ([]ledger.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.Service
	if err := s.db.SelectContext(ctx, &out, `SELECT service_id, name FROM service ORDER BY service_id`); err != nil {
		return nil, classify("select services", err)
	}
	return out, nil
}

// EnsureAsset returns the asset keyed by unit, creating it on first use. An
// existing asset keeps its name.
func (s *AssetStore) EnsureAsset(ctx context.Context, name *string, unit string) (ledger.Asset, error) {
	unit = strings.ToUpper(strings.TrimSpace(unit))
	if unit == "" {
		return ledger.Asset{}, fmt.Errorf("asset unit is required")
	}

	var a ledger.Asset
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &a, `SELECT asset_id, name, unit FROM asset WHERE unit = $1`, unit)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return classify("select asset", err)
		}

		id, err := s.insert(ctx, tx, ledger.CounterAsset, "insert asset",
			`INSERT INTO asset (asset_id, name, unit) VALUES ($1, $2, $3)`, name, unit)
		if err != nil {
			return err
		}
		a = ledger.Asset{ID: id, Name: name, Unit: unit}
		return nil
	})
	if err != nil {
		return ledger.Asset{}, err
	}
	return a, nil
}

// Assets lists every asset ordered by id
func (s *AssetStore) Assets(ctx context.Context) ([]ledger.Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.Asset
	if err := s.db.SelectContext(ctx, &out, `SELECT asset_id, name, unit FROM asset ORDER BY asset_id`); err != nil {
		return nil, classify("select assets", err)
	}
	return out, nil
}

// AddExchangeRate records the base/target rate for the day of date
func (s *AssetStore) AddExchangeRate(ctx context.Context, date time.Time, baseID, targetID ledger.ID, rate decimal.Decimal) (ledger.ExchangeRate, error) {
	if baseID == targetID {
		return ledger.ExchangeRate{}, fmt.Errorf("exchange rate %d/%d: base and target must differ", baseID, targetID)
	}
	if !rate.IsPositive() {
		return ledger.ExchangeRate{}, fmt.Errorf("exchange rate %d/%d: rate must be positive, got %s", baseID, targetID, rate)
	}
	date = ledger.NormalizeDate(date)

	var r ledger.ExchangeRate
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		id, err := s.insert(ctx, tx, ledger.CounterExchangeRate, "insert exchange rate", `
			INSERT INTO exchange_rate (exchange_rate_id, rate_date, base_asset_id, target_asset_id, rate)
			VALUES ($1, $2, $3, $4, $5)`, date, baseID, targetID, rate)
		if err != nil {
			return err
		}
		r = ledger.ExchangeRate{ID: id, Date: date, Base: baseID, Target: targetID, Rate: rate}
		return nil
	})
	if err != nil {
		return ledger.ExchangeRate{}, err
	}
	return r, nil
}

// ExchangeRatesOn returns the rates recorded for the day of date
func (s *AssetStore) ExchangeRatesOn(ctx context.Context, date time.Time) ([]ledger.ExchangeRate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.ExchangeRate
	err := s.db.SelectContext(ctx, &out, `
		SELECT exchange_rate_id, rate_date, base_asset_id, target_asset_id, rate
		FROM exchange_rate
		WHERE rate_date = $1
		ORDER BY exchange_rate_id`, ledger.NormalizeDate(date))
	if err != nil {
		return nil, classify("select exchange rates", err)
	}
	return out, nil
}

// AddAssetHistory appends the amount of asset held at service on the day of date
func (s *AssetStore) AddAssetHistory(ctx context.Context, date time.Time, service, asset ledger.ID, amount decimal.Decimal) (ledger.AssetHistory, error) {
	date = ledger.NormalizeDate(date)

	var h ledger.AssetHistory
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		id, err := s.insert(ctx, tx, ledger.CounterAssetHistory, "insert asset history", `
			INSERT INTO asset_history (asset_history_id, history_date, service_id, asset_id, amount)
			VALUES ($1, $2, $3, $4, $5)`, date, service, asset, amount)
		if err != nil {
			return err
		}
		h = ledger.AssetHistory{ID: id, Date: date, Service: service, Asset: asset, Amount: amount}
		return nil
	})
	if err != nil {
		return ledger.AssetHistory{}, err
	}
	return h, nil
}

// AssetHistoryOn returns every holding recorded for the day of date
func (s *AssetStore) AssetHistoryOn(ctx context.Context, date time.Time) ([]ledger.AssetHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.AssetHistory
	err := s.db.SelectContext(ctx, &out, `
		SELECT asset_history_id, history_date, service_id, asset_id, amount
		FROM asset_history
		WHERE history_date = $1
		ORDER BY service_id, asset_id`, ledger.NormalizeDate(date))
	if err != nil {
		return nil, classify("select asset history", err)
	}
	return out, nil
}
