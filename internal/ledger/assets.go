package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Service is an external custodian whose holdings are recorded daily.
type Service struct {
	ID   ID     `json:"id" db:"service_id"`
	Name string `json:"name" db:"name"`
}

// Asset is a holdable unit in the valuation ledger. Name is optional; Unit is
// the ticker-like key ("BTC", "JPY").
type Asset struct {
	ID   ID      `json:"id" db:"asset_id"`
	Name *string `json:"name,omitempty" db:"name"`
	Unit string  `json:"unit" db:"unit"`
}

// ExchangeRate records how many Target units one Base unit was worth on Date.
type ExchangeRate struct {
	ID     ID              `json:"id" db:"exchange_rate_id"`
	Date   time.Time       `json:"date" db:"rate_date"`
	Base   ID              `json:"base" db:"base_asset_id"`
	Target ID              `json:"target" db:"target_asset_id"`
	Rate   decimal.Decimal `json:"rate" db:"rate"`
}

// AssetHistory is one append-only daily holding of an asset at a service.
type AssetHistory struct {
	ID      ID              `json:"id" db:"asset_history_id"`
	Date    time.Time       `json:"date" db:"history_date"`
	Service ID              `json:"service" db:"service_id"`
	Asset   ID              `json:"asset" db:"asset_id"`
	Amount  decimal.Decimal `json:"amount" db:"amount"`
}

// NormalizeDate maps an instant onto the daily axis of the valuation ledger.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
