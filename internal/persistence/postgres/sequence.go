package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/exledger/internal/ledger"
)

// SequenceAllocator issues identifiers from the sequence_counters table.
// The increment and the read happen in one UPDATE ... RETURNING statement, so
// two callers can never observe the same value even if guarded runs overlap.
type SequenceAllocator struct{}

// NewSequenceAllocator creates the table-backed allocator
func NewSequenceAllocator() *SequenceAllocator {
	return &SequenceAllocator{}
}

const nextValueQuery = `
		UPDATE sequence_counters
		SET next_value = next_value + 1
		WHERE counter_name = $1
		RETURNING next_value - 1`

// Next returns the next identifier for counter. When q is a transaction, the
// new high-water mark commits together with whatever the caller inserts.
func (a *SequenceAllocator) Next(ctx context.Context, q sqlx.QueryerContext, counter ledger.Counter) (ledger.ID, error) {
	var id int64
	err := q.QueryRowxContext(ctx, nextValueQuery, string(counter)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: unknown counter %q", ledger.ErrAllocationFailure, counter)
		}
		return 0, fmt.Errorf("%w: counter %q: %w", ledger.ErrAllocationFailure, counter, classify("bump counter", err))
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: counter %q returned %d", ledger.ErrAllocationFailure, counter, id)
	}
	return ledger.ID(id), nil
}

// SeedCounters makes sure every counter row exists without touching existing
// high-water marks. Migrations seed them too; this covers counters added later.
func SeedCounters(ctx context.Context, db sqlx.ExecerContext) error {
	for _, c := range ledger.Counters {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sequence_counters (counter_name, next_value)
			VALUES ($1, 1)
			ON CONFLICT (counter_name) DO NOTHING`, string(c))
		if err != nil {
			return classify(fmt.Sprintf("seed counter %s", c), err)
		}
	}
	return nil
}
