// Package runguard keeps ledger-writing batches from overlapping.
//
// The guard is a marker file at a well-known path. Its presence means a run is
// in progress or crashed before cleaning up; the guard never tries to tell the
// two apart. An operator clears a stale marker with Clear.
package runguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/exledger/internal/ledger"
)

// ErrAlreadyRunning is returned by Acquire while the marker exists
var ErrAlreadyRunning = ledger.ErrAlreadyRunning

// Guard owns one marker path
type Guard struct {
	path string
}

// New creates a guard for the marker at path
func New(path string) *Guard {
	return &Guard{path: path}
}

// Path returns the marker location
func (g *Guard) Path() string { return g.path }

// Handle is a held guard. Release is safe to call more than once.
type Handle struct {
	path     string
	acquired time.Time
	once     sync.Once
	err      error
}

// Acquire creates the marker. Creation is exclusive, so of two callers racing
// for the same path exactly one succeeds.
func (g *Guard) Acquire() (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(g.path), 0755); err != nil {
		return nil, fmt.Errorf("create marker directory: %w", err)
	}

	f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: marker %s is present", ErrAlreadyRunning, g.path)
		}
		return nil, fmt.Errorf("create marker %s: %w", g.path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(g.path)
		return nil, fmt.Errorf("close marker %s: %w", g.path, err)
	}

	log.Debug().Str("marker", g.path).Msg("Run guard acquired")
	return &Handle{path: g.path, acquired: time.Now()}, nil
}

// Release removes the marker
func (h *Handle) Release() error {
	h.once.Do(func() {
		err := os.Remove(h.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.err = fmt.Errorf("remove marker %s: %w", h.path, err)
			return
		}
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("marker", h.path).Msg("Run guard marker vanished before release")
		}
		log.Debug().
			Str("marker", h.path).
			Dur("held", time.Since(h.acquired)).
			Msg("Run guard released")
	})
	return h.err
}

// Run executes fn while holding the guard. The marker is removed on every
// exit path of fn, including a panic, which is re-raised after cleanup.
func (g *Guard) Run(fn func() error) (err error) {
	h, err := g.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}

// Status describes the marker for an operator
type Status struct {
	Path    string    `json:"path"`
	Present bool      `json:"present"`
	Since   time.Time `json:"since,omitempty"`
}

// Status reports whether the marker exists and when it was created
func (g *Guard) Status() (Status, error) {
	st := Status{Path: g.path}
	info, err := os.Stat(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("stat marker %s: %w", g.path, err)
	}
	st.Present = true
	st.Since = info.ModTime().UTC()
	return st, nil
}

// Clear removes a marker left behind by a crashed run. It reports whether a
// marker was present. Clearing while a run is really active lets the next
// run overlap it.
func (g *Guard) Clear() (bool, error) {
	err := os.Remove(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove marker %s: %w", g.path, err)
	}
	log.Warn().Str("marker", g.path).Msg("Run guard marker cleared manually")
	return true, nil
}
