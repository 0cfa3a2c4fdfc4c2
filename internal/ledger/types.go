// Package ledger holds the exchange ledger data model: stamped snapshots of
// balances, prices and order books, tracked orders, and the parallel
// asset-valuation ledger. It has no storage dependency; see internal/persistence.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ID is a ledger row identifier issued by the sequence allocator.
type ID uint64

// Counter names one sequence of identifiers. There is one counter per entity kind.
type Counter string

const (
	CounterStamp        Counter = "stamp"
	CounterCurrency     Counter = "currency"
	CounterMarket       Counter = "market"
	CounterBalance      Counter = "balance"
	CounterPrice        Counter = "price"
	CounterOrderBook    Counter = "order_book"
	CounterOrder        Counter = "orders"
	CounterService      Counter = "service"
	CounterAsset        Counter = "asset"
	CounterExchangeRate Counter = "exchange_rate"
	CounterAssetHistory Counter = "asset_history"
)

// Counters lists every counter the schema seeds.
var Counters = []Counter{
	CounterStamp, CounterCurrency, CounterMarket, CounterBalance, CounterPrice,
	CounterOrderBook, CounterOrder, CounterService, CounterAsset,
	CounterExchangeRate, CounterAssetHistory,
}

// StampPrecision is the resolution of the shared time axis.
const StampPrecision = time.Second

// NormalizeInstant maps a wall-clock observation onto the shared time axis.
// Every stamped entity goes through here so that a single scrape run, whose
// rows are observed microseconds apart, resolves to one Stamp.
func NormalizeInstant(t time.Time) time.Time {
	return t.UTC().Truncate(StampPrecision)
}

// Stamp deduplicates an instant referenced by many rows.
type Stamp struct {
	ID      ID        `json:"id" db:"stamp_id"`
	Instant time.Time `json:"instant" db:"instant"`
}

// Currency is static reference data keyed by symbol.
type Currency struct {
	ID          ID     `json:"id" db:"currency_id"`
	Symbol      string `json:"symbol" db:"symbol"`
	DisplayName string `json:"display_name" db:"display_name"`
}

// Market is a tradeable base/quote pair.
type Market struct {
	ID    ID `json:"id" db:"market_id"`
	Base  ID `json:"base" db:"base_id"`
	Quote ID `json:"quote" db:"quote_id"`
}

// Balance is one append-only snapshot of a currency holding.
type Balance struct {
	ID        ID              `json:"id" db:"balance_id"`
	Currency  ID              `json:"currency" db:"currency_id"`
	Stamp     ID              `json:"stamp" db:"stamp_id"`
	Available decimal.Decimal `json:"available" db:"available"`
	Pending   decimal.Decimal `json:"pending" db:"pending"`
}

// Price is one append-only market price observation.
type Price struct {
	ID     ID              `json:"id" db:"price_id"`
	Market ID              `json:"market" db:"market_id"`
	Stamp  ID              `json:"stamp" db:"stamp_id"`
	Price  decimal.Decimal `json:"price" db:"price"`
}

// Side is the book side of an order book level.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Valid reports whether s is a known book side.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// OrderBookEntry is one level of a raw order book snapshot. These rows are
// high-volume and pruned after the retention window.
type OrderBookEntry struct {
	ID     ID              `json:"id" db:"order_book_id"`
	Market ID              `json:"market" db:"market_id"`
	Stamp  ID              `json:"stamp" db:"stamp_id"`
	Side   Side            `json:"side" db:"side"`
	Price  decimal.Decimal `json:"price" db:"price"`
	Volume decimal.Decimal `json:"volume" db:"volume"`
}

// OrderSide is the direction of one of our own orders.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderKind is the execution type of an order.
type OrderKind string

const (
	OrderLimit  OrderKind = "limit"
	OrderMarket OrderKind = "market"
)

// Order is an order placed on the exchange and reconciled by the collaborators.
// Only ModifiedStamp and State change after creation.
type Order struct {
	ID            ID              `json:"id" db:"order_id"`
	RemoteID      string          `json:"remote_transaction_id" db:"remote_transaction_id"`
	Market        ID              `json:"market" db:"market_id"`
	CreatedStamp  ID              `json:"created_stamp" db:"created_stamp_id"`
	ModifiedStamp ID              `json:"modified_stamp" db:"modified_stamp_id"`
	Price         decimal.Decimal `json:"price" db:"price"`
	BaseQuantity  decimal.Decimal `json:"base_quantity" db:"base_quantity"`
	QuoteQuantity decimal.Decimal `json:"quote_quantity" db:"quote_quantity"`
	Side          OrderSide       `json:"side" db:"side"`
	Kind          OrderKind       `json:"kind" db:"kind"`
	State         OrderState      `json:"state" db:"state"`
}

// NewOrder carries what a collaborator observed about an order at a stamp.
type NewOrder struct {
	RemoteID      string
	Market        ID
	Stamp         ID
	Price         decimal.Decimal
	BaseQuantity  decimal.Decimal
	QuoteQuantity decimal.Decimal
	Side          OrderSide
	Kind          OrderKind
	State         OrderState
}

// Validate checks the fields that the store cannot check through references.
func (o NewOrder) Validate() error {
	if o.RemoteID == "" {
		return fmt.Errorf("order: remote transaction id is required")
	}
	if !o.State.Valid() {
		return fmt.Errorf("order %s: unknown state %q", o.RemoteID, o.State)
	}
	if o.Side != OrderBuy && o.Side != OrderSell {
		return fmt.Errorf("order %s: unknown side %q", o.RemoteID, o.Side)
	}
	if o.Kind != OrderLimit && o.Kind != OrderMarket {
		return fmt.Errorf("order %s: unknown kind %q", o.RemoteID, o.Kind)
	}
	return nil
}

// TimeRange is an inclusive window on the shared time axis.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t lies inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}
