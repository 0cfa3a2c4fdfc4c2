package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/sawpanic/exledger/internal/ledger"
)

// classify maps driver errors onto the ledger error taxonomy. The original
// error stays in the chain so callers can still inspect *pq.Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23503":
			return fmt.Errorf("%s: %w: %w", op, ledger.ErrReferenceNotFound, err)
		case pqErr.Code == "23505":
			return fmt.Errorf("%s: %w: %w", op, ledger.ErrDuplicate, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57", pqErr.Code == "53300":
			return fmt.Errorf("%s: %w: %w", op, ledger.ErrStorageUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return fmt.Errorf("%s: %w: %w", op, ledger.ErrStorageUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// notFound turns sql.ErrNoRows into ledger.ErrNotFound and classifies the rest.
func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
	}
	return classify(op, err)
}
