package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/exledger/internal/ledger"
	"github.com/sawpanic/exledger/internal/persistence"
)

// LedgerStore implements persistence.LedgerStore on PostgreSQL
type LedgerStore struct {
	base
}

var _ persistence.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates the trade ledger store. A nil allocator selects the
// sequence_counters table.
func NewLedgerStore(db *sqlx.DB, timeout time.Duration, alloc persistence.Allocator) *LedgerStore {
	return &LedgerStore{base: newBase(db, timeout, alloc)}
}

const stampColumns = `stamp_id, instant`

// Stamp returns the stamp of the normalized instant, inserting it on first use
func (s *LedgerStore) Stamp(ctx context.Context, instant time.Time) (ledger.Stamp, error) {
	instant = ledger.NormalizeInstant(instant)

	var st ledger.Stamp
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &st, `SELECT `+stampColumns+` FROM stamp WHERE instant = $1`, instant)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return classify("select stamp", err)
		}

		id, err := s.insert(ctx, tx, ledger.CounterStamp, "insert stamp",
			`INSERT INTO stamp (stamp_id, instant) VALUES ($1, $2)`, instant)
		if err != nil {
			return err
		}
		st = ledger.Stamp{ID: id, Instant: instant}
		return nil
	})

	// Another writer created the same instant between our select and insert;
	// the row now exists, so read it back.
	if errors.Is(err, ledger.ErrDuplicate) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.db.GetContext(ctx, &st, `SELECT `+stampColumns+` FROM stamp WHERE instant = $1`, instant); err != nil {
			return ledger.Stamp{}, notFound("reselect stamp", err)
		}
		return st, nil
	}
	if err != nil {
		return ledger.Stamp{}, err
	}
	return st, nil
}

// StampsBetween returns stamps inside tr, oldest first
func (s *LedgerStore) StampsBetween(ctx context.Context, tr ledger.TimeRange) ([]ledger.Stamp, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stamps []ledger.Stamp
	err := s.db.SelectContext(ctx, &stamps, `
		SELECT `+stampColumns+`
		FROM stamp
		WHERE instant BETWEEN $1 AND $2
		ORDER BY instant`, tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return nil, classify("select stamps between", err)
	}
	return stamps, nil
}

// FirstStampAtOrAfter returns the earliest stamp not before t
func (s *LedgerStore) FirstStampAtOrAfter(ctx context.Context, t time.Time) (ledger.Stamp, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var st ledger.Stamp
	err := s.db.GetContext(ctx, &st, `
		SELECT `+stampColumns+`
		FROM stamp
		WHERE instant >= $1
		ORDER BY instant
		LIMIT 1`, t.UTC())
	if err != nil {
		return ledger.Stamp{}, notFound(fmt.Sprintf("first stamp at or after %s", t.Format(time.RFC3339)), err)
	}
	return st, nil
}

// LatestStampAtOrBefore returns the latest stamp not after t. A zero t
// selects the latest stamp overall.
func (s *LedgerStore) LatestStampAtOrBefore(ctx context.Context, t time.Time) (ledger.Stamp, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var st ledger.Stamp
	var err error
	if t.IsZero() {
		err = s.db.GetContext(ctx, &st, `SELECT `+stampColumns+` FROM stamp ORDER BY instant DESC LIMIT 1`)
	} else {
		err = s.db.GetContext(ctx, &st, `
			SELECT `+stampColumns+`
			FROM stamp
			WHERE instant <= $1
			ORDER BY instant DESC
			LIMIT 1`, t.UTC())
	}
	if err != nil {
		return ledger.Stamp{}, notFound("latest stamp", err)
	}
	return st, nil
}
