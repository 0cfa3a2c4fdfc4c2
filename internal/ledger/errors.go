package ledger

import "errors"

// Error taxonomy shared by every ledger component. Callers match with errors.Is;
// implementations wrap these with context via fmt.Errorf("...: %w", err).
var (
	// ErrAllocationFailure means the sequence allocator could not durably persist a
	// new counter value. The entity that asked for the id must not be written.
	ErrAllocationFailure = errors.New("sequence allocation failed")

	// ErrAlreadyRunning means the batch run marker is present.
	ErrAlreadyRunning = errors.New("batch run already in progress")

	// ErrIllegalTransition means the requested order state is not reachable from
	// the current one, or the observation predates the last recorded one.
	ErrIllegalTransition = errors.New("illegal order state transition")

	// ErrReferenceNotFound means a referenced row does not exist at write time.
	ErrReferenceNotFound = errors.New("referenced row not found")

	// ErrStorageUnavailable means the underlying store could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDuplicate means an append-only row already exists for its natural key.
	ErrDuplicate = errors.New("duplicate ledger row")

	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("ledger row not found")
)
