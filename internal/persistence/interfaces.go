package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/exledger/internal/ledger"
)

// Target names one logical database. Live and simulation share the schema but
// not their data or identifier spaces.
type Target string

const (
	TargetLive       Target = "live"
	TargetSimulation Target = "simulation"
)

// Targets lists the logical databases in pipeline order.
var Targets = []Target{TargetLive, TargetSimulation}

// Allocator hands out per-counter identifiers independent of any storage
// autoincrement. q is the transaction the caller will insert the entity with,
// so the counter bump and the row commit together; a nil-tx allocator may
// ignore it.
type Allocator interface {
	Next(ctx context.Context, q sqlx.QueryerContext, counter ledger.Counter) (ledger.ID, error)
}

// LedgerStore is the trade ledger: stamps, reference data, snapshots and orders.
type LedgerStore interface {
	// Stamp returns the stamp for the normalized instant, creating it once
	Stamp(ctx context.Context, instant time.Time) (ledger.Stamp, error)

	// StampsBetween returns stamps inside the range in ascending order
	StampsBetween(ctx context.Context, tr ledger.TimeRange) ([]ledger.Stamp, error)

	// FirstStampAtOrAfter returns the earliest stamp not before t
	FirstStampAtOrAfter(ctx context.Context, t time.Time) (ledger.Stamp, error)

	// LatestStampAtOrBefore returns the latest stamp not after t; zero t means now
	LatestStampAtOrBefore(ctx context.Context, t time.Time) (ledger.Stamp, error)

	// UpsertCurrency creates the currency or refreshes its display name
	UpsertCurrency(ctx context.Context, symbol, displayName string) (ledger.Currency, error)

	// Currencies lists all currencies
	Currencies(ctx context.Context) ([]ledger.Currency, error)

	// EnsureMarket returns the base/quote market, creating it once
	EnsureMarket(ctx context.Context, base, quote ledger.ID) (ledger.Market, error)

	// Markets lists all markets
	Markets(ctx context.Context) ([]ledger.Market, error)

	// AddBalance appends a balance snapshot
	AddBalance(ctx context.Context, currency, stamp ledger.ID, available, pending decimal.Decimal) (ledger.Balance, error)

	// BalancesAt returns every balance recorded at the given stamps
	BalancesAt(ctx context.Context, stamps []ledger.ID) ([]ledger.Balance, error)

	// AddPrice appends a market price observation
	AddPrice(ctx context.Context, market, stamp ledger.ID, price decimal.Decimal) (ledger.Price, error)

	// PricesAt returns every price recorded at the stamp
	PricesAt(ctx context.Context, stamp ledger.ID) ([]ledger.Price, error)

	// AddOrderBookEntries appends one order book snapshot atomically
	AddOrderBookEntries(ctx context.Context, entries []ledger.OrderBookEntry) ([]ledger.OrderBookEntry, error)

	// RecordOrder inserts a newly seen order or transitions a known one
	RecordOrder(ctx context.Context, o ledger.NewOrder) (ledger.Order, error)

	// TransitionOrder moves an order to target as observed at stamp
	TransitionOrder(ctx context.Context, remoteID string, target ledger.OrderState, stamp ledger.ID) (ledger.Order, error)

	// Order finds an order by its remote transaction id
	Order(ctx context.Context, remoteID string) (ledger.Order, error)

	// OpenOrders lists orders of the market that are not in a terminal state
	OpenOrders(ctx context.Context, market ledger.ID) ([]ledger.Order, error)
}

// AssetStore is the asset-valuation ledger kept per day and per service.
type AssetStore interface {
	EnsureService(ctx context.Context, name string) (ledger.Service, error)
	Services(ctx context.Context) ([]ledger.Service, error)
	EnsureAsset(ctx context.Context, name *string, unit string) (ledger.Asset, error)
	Assets(ctx context.Context) ([]ledger.Asset, error)
	AddExchangeRate(ctx context.Context, date time.Time, base, target ledger.ID, rate decimal.Decimal) (ledger.ExchangeRate, error)
	ExchangeRatesOn(ctx context.Context, date time.Time) ([]ledger.ExchangeRate, error)
	AddAssetHistory(ctx context.Context, date time.Time, service, asset ledger.ID, amount decimal.Decimal) (ledger.AssetHistory, error)
	AssetHistoryOn(ctx context.Context, date time.Time) ([]ledger.AssetHistory, error)
}

// Pruner removes high-volume rows past their retention window.
type Pruner interface {
	// PruneOrderBook deletes order book entries stamped before cutoff
	PruneOrderBook(ctx context.Context, cutoff time.Time) (int64, error)

	// DatabaseSize reports the on-disk size of the logical database in bytes
	DatabaseSize(ctx context.Context) (int64, error)
}

// Repository aggregates the stores of one logical database
type Repository struct {
	Target Target
	Ledger LedgerStore
	Assets AssetStore
	Pruner Pruner
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Target         Target         `json:"target"`
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error
}
