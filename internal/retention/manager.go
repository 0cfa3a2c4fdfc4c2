// Package retention bounds the storage footprint of the ledger: it prunes
// order book snapshots past the retention window, reports database sizes,
// and bundles the operational logs.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/exledger/internal/metrics"
	"github.com/sawpanic/exledger/internal/persistence"
)

// DefaultWindow is how long order book snapshots are kept
const DefaultWindow = 24 * time.Hour

// PruneResult is the outcome of pruning one logical database
type PruneResult struct {
	Target  persistence.Target `json:"target"`
	Cutoff  time.Time          `json:"cutoff"`
	Deleted int64              `json:"deleted"`
}

// SizeReport is the storage size of one logical database
type SizeReport struct {
	Target persistence.Target `json:"target"`
	Bytes  int64              `json:"bytes"`
}

// Manager prunes every enabled logical database
type Manager struct {
	repos   []*persistence.Repository
	window  time.Duration
	metrics *metrics.Registry
}

// NewManager creates a manager. A non-positive window falls back to
// DefaultWindow.
func NewManager(repos []*persistence.Repository, window time.Duration, m *metrics.Registry) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Manager{repos: repos, window: window, metrics: m}
}

// Prune deletes order book entries stamped before now minus the window. Each
// database is pruned with a single bulk delete; a failure on one does not
// stop the others and is returned after all have been tried.
func (m *Manager) Prune(ctx context.Context, now time.Time) ([]PruneResult, error) {
	cutoff := now.UTC().Add(-m.window)
	results := make([]PruneResult, 0, len(m.repos))
	var firstErr error

	for _, repo := range m.repos {
		deleted, err := repo.Pruner.PruneOrderBook(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Str("database", string(repo.Target)).Msg("Order book pruning failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("prune %s: %w", repo.Target, err)
			}
			continue
		}

		m.metrics.RecordPrune(string(repo.Target), deleted)
		log.Info().
			Str("database", string(repo.Target)).
			Time("cutoff", cutoff).
			Int64("deleted", deleted).
			Msg("Order book pruned")
		results = append(results, PruneResult{Target: repo.Target, Cutoff: cutoff, Deleted: deleted})
	}

	return results, firstErr
}

// ReportSizes queries every database size concurrently. It is observability
// only; the ledger is not written.
func (m *Manager) ReportSizes(ctx context.Context) ([]SizeReport, error) {
	reports := make([]SizeReport, len(m.repos))
	g, ctx := errgroup.WithContext(ctx)

	for i, repo := range m.repos {
		g.Go(func() error {
			size, err := repo.Pruner.DatabaseSize(ctx)
			if err != nil {
				return fmt.Errorf("size of %s: %w", repo.Target, err)
			}
			reports[i] = SizeReport{Target: repo.Target, Bytes: size}
			m.metrics.SetDatabaseSize(string(repo.Target), size)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range reports {
		log.Info().Str("database", string(r.Target)).Int64("bytes", r.Bytes).Msg("Database size")
	}
	return reports, nil
}
