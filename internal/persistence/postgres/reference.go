package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/exledger/internal/ledger"
)

// UpsertCurrency creates the currency for symbol or refreshes its display name.
// Symbols are stored upper-case so every exchange reports the same key.
func (s *LedgerStore) UpsertCurrency(ctx context.Context, symbol, displayName string) (ledger.Currency, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ledger.Currency{}, fmt.Errorf("currency symbol is required")
	}

	var c ledger.Currency
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &c, `
			SELECT currency_id, symbol, display_name
			FROM currency
			WHERE symbol = $1
			FOR UPDATE`, symbol)
		switch {
		case err == nil:
			if displayName == "" || displayName == c.DisplayName {
				return nil
			}
			if _, err := tx.ExecContext(ctx, `UPDATE currency SET display_name = $1 WHERE currency_id = $2`, displayName, c.ID); err != nil {
				return classify("update currency", err)
			}
			c.DisplayName = displayName
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return classify("select currency", err)
		}

		if displayName == "" {
			displayName = symbol
		}
		id, err := s.insert(ctx, tx, ledger.CounterCurrency, "insert currency",
			`INSERT INTO currency (currency_id, symbol, display_name) VALUES ($1, $2, $3)`, symbol, displayName)
		if err != nil {
			return err
		}
		c = ledger.Currency{ID: id, Symbol: symbol, DisplayName: displayName}
		return nil
	})
	if err != nil {
		return ledger.Currency{}, err
	}
	return c, nil
}

// Currencies lists every currency ordered by id
func (s *LedgerStore) Currencies(ctx context.Context) ([]ledger.Currency, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.Currency
	if err := s.db.SelectContext(ctx, &out, `SELECT currency_id, symbol, display_name FROM currency ORDER BY currency_id`); err != nil {
		return nil, classify("select currencies", err)
	}
	return out, nil
}

// EnsureMarket returns the base/quote market, creating it on first use.
// Both currencies must exist.
func (s *LedgerStore) EnsureMarket(ctx context.Context, baseID, quoteID ledger.ID) (ledger.Market, error) {
	if baseID == quoteID {
		return ledger.Market{}, fmt.Errorf("market %d/%d: base and quote must differ", baseID, quoteID)
	}

	var m ledger.Market
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &m, `
			SELECT market_id, base_id, quote_id
			FROM market
			WHERE base_id = $1 AND quote_id = $2`, baseID, quoteID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return classify("select market", err)
		}

		id, err := s.insert(ctx, tx, ledger.CounterMarket, "insert market",
			`INSERT INTO market (market_id, base_id, quote_id) VALUES ($1, $2, $3)`, baseID, quoteID)
		if err != nil {
			return err
		}
		m = ledger.Market{ID: id, Base: baseID, Quote: quoteID}
		return nil
	})
	if err != nil {
		return ledger.Market{}, err
	}
	return m, nil
}

// Markets lists every market ordered by id
func (s *LedgerStore) Markets(ctx context.Context) ([]ledger.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []ledger.Market
	if err := s.db.SelectContext(ctx, &out, `SELECT market_id, base_id, quote_id FROM market ORDER BY market_id`); err != nil {
		return nil, classify("select markets", err)
	}
	return out, nil
}
