package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/exledger/internal/ledger"
	"github.com/sawpanic/exledger/internal/persistence"
)

// base carries what every repository in this package needs
type base struct {
	db      *sqlx.DB
	timeout time.Duration
	alloc   persistence.Allocator
}

func newBase(db *sqlx.DB, timeout time.Duration, alloc persistence.Allocator) base {
	if alloc == nil {
		alloc = NewSequenceAllocator()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return base{db: db, timeout: timeout, alloc: alloc}
}

// inTx runs fn in one transaction. Any error rolls back both the entity rows
// and the counter bumps made through the same tx.
func (b base) inTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return classify("commit", tx.Commit())
}

// insert allocates an id for counter and executes query with it as $1
func (b base) insert(ctx context.Context, tx *sqlx.Tx, counter ledger.Counter, op, query string, args ...any) (ledger.ID, error) {
	id, err := b.alloc.Next(ctx, tx, counter)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, query, append([]any{id}, args...)...); err != nil {
		return 0, classify(op, err)
	}
	return id, nil
}

func idArray(ids []ledger.ID) any {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return pq.Array(out)
}

// Open wires the stores of one logical database onto a shared pool.
func Open(target persistence.Target, db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	alloc := NewSequenceAllocator()
	return &persistence.Repository{
		Target: target,
		Ledger: NewLedgerStore(db, timeout, alloc),
		Assets: NewAssetStore(db, timeout, alloc),
		Pruner: NewRetentionRepo(db, timeout),
	}
}
