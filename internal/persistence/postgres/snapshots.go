package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/exledger/internal/ledger"
)

// AddBalance appends a balance snapshot for currency at stamp
func (s *LedgerStore) AddBalance(ctx context.Context, currency, stamp ledger.ID, available, pending decimal.Decimal) (ledger.Balance, error) {
	var b ledger.Balance
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		id, err := s.insert(ctx, tx, ledger.CounterBalance, "insert balance", `
			INSERT INTO balance (balance_id, currency_id, stamp_id, available, pending)
			VALUES ($1, $2, $3, $4, $5)`, currency, stamp, available, pending)
		if err != nil {
			return err
		}
		b = ledger.Balance{ID: id, Currency: currency, Stamp: stamp, Available: available, Pending: pending}
		return nil
	})
	if err != nil {
		return ledger.Balance{}, err
	}
	return b, nil
}

// BalancesAt returns balances recorded at any of the stamps
func (s *LedgerStore) BalancesAt(ctx context.Context, stamps []ledger.ID) ([]ledger.Balance, error) {
	if len(stamps) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.Balance
	err := s.db.SelectContext(ctx, &out, `
		SELECT balance_id, currency_id, stamp_id, available, pending
		FROM balance
		WHERE stamp_id = ANY($1)
		ORDER BY stamp_id, currency_id, balance_id`, idArray(stamps))
	if err != nil {
		return nil, classify("select balances", err)
	}
	return out, nil
}

// AddPrice appends a price observation for market at stamp
func (s *LedgerStore) AddPrice(ctx context.Context, market, stamp ledger.ID, price decimal.Decimal) (ledger.Price, error) {
	var p ledger.Price
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		id, err := s.insert(ctx, tx, ledger.CounterPrice, "insert price", `
			INSERT INTO price (price_id, market_id, stamp_id, price)
			VALUES ($1, $2, $3, $4)`, market, stamp, price)
		if err != nil {
			return err
		}
		p = ledger.Price{ID: id, Market: market, Stamp: stamp, Price: price}
		return nil
	})
	if err != nil {
		return ledger.Price{}, err
	}
	return p, nil
}

// PricesAt returns every price recorded at stamp
func (s *LedgerStore) PricesAt(ctx context.Context, stamp ledger.ID) ([]ledger.Price, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.Price
	err := s.db.SelectContext(ctx, &out, `
		SELECT price_id, market_id, stamp_id, price
		FROM price
		WHERE stamp_id = $1
		ORDER BY market_id, price_id`, stamp)
	if err != nil {
		return nil, classify("select prices", err)
	}
	return out, nil
}

// AddOrderBookEntries appends a whole order book snapshot in one transaction;
// either every level is stored or none is.
func (s *LedgerStore) AddOrderBookEntries(ctx context.Context, entries []ledger.OrderBookEntry) ([]ledger.OrderBookEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	for i, e := range entries {
		if !e.Side.Valid() {
			return nil, fmt.Errorf("order book entry %d: unknown side %q", i, e.Side)
		}
	}

	out := make([]ledger.OrderBookEntry, 0, len(entries))
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO order_book (order_book_id, market_id, stamp_id, side, price, volume)
			VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			return classify("prepare order book insert", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			id, err := s.alloc.Next(ctx, tx, ledger.CounterOrderBook)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, id, e.Market, e.Stamp, string(e.Side), e.Price, e.Volume); err != nil {
				return classify("insert order book entry", err)
			}
			e.ID = id
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
