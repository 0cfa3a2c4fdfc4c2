package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/exledger/internal/persistence"
)

// RetentionRepo deletes expired order book rows and reports database size
type RetentionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ persistence.Pruner = (*RetentionRepo)(nil)

// NewRetentionRepo creates the pruner for one logical database
func NewRetentionRepo(db *sqlx.DB, timeout time.Duration) *RetentionRepo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RetentionRepo{db: db, timeout: timeout}
}

// PruneOrderBook deletes, in one statement, every order book row whose stamp
// is older than cutoff. Only order_book is locked.
func (r *RetentionRepo) PruneOrderBook(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM order_book ob
		USING stamp s
		WHERE ob.stamp_id = s.stamp_id
		  AND s.instant < $1`, cutoff.UTC())
	if err != nil {
		return 0, classify("prune order book", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("prune order book rows affected", err)
	}
	return n, nil
}

// DatabaseSize returns pg_database_size of the connected database
func (r *RetentionRepo) DatabaseSize(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var size int64
	if err := r.db.GetContext(ctx, &size, `SELECT pg_database_size(current_database())`); err != nil {
		return 0, classify("database size", err)
	}
	return size, nil
}
