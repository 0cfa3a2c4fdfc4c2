package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/exledger/internal/persistence"
)

// Integration holds the live and simulation databases side by side. They
// share the schema but not data or identifier spaces.
type Integration struct {
	managers map[persistence.Target]*Manager
}

// NewIntegration opens every configured logical database
func NewIntegration(configs map[persistence.Target]Config) (*Integration, error) {
	in := &Integration{managers: make(map[persistence.Target]*Manager, len(configs))}
	for _, target := range persistence.Targets {
		cfg, ok := configs[target]
		if !ok {
			continue
		}
		m, err := NewManager(target, cfg)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.managers[target] = m
	}

	log.Info().
		Bool("live_enabled", in.Enabled(persistence.TargetLive)).
		Bool("simulation_enabled", in.Enabled(persistence.TargetSimulation)).
		Msg("Database integration initialized")

	return in, nil
}

// NewIntegrationWith builds an integration from ready managers
func NewIntegrationWith(managers ...*Manager) *Integration {
	in := &Integration{managers: make(map[persistence.Target]*Manager, len(managers))}
	for _, m := range managers {
		in.managers[m.Target()] = m
	}
	return in
}

// Manager returns the manager of target, or nil if it is not configured
func (i *Integration) Manager(target persistence.Target) *Manager {
	return i.managers[target]
}

// Enabled reports whether target is configured and open
func (i *Integration) Enabled(target persistence.Target) bool {
	m := i.managers[target]
	return m != nil && m.IsEnabled()
}

// Repository returns the stores of target, or nil if it is disabled
func (i *Integration) Repository(target persistence.Target) *persistence.Repository {
	if m := i.managers[target]; m != nil {
		return m.Repository()
	}
	return nil
}

// Repositories returns the stores of every enabled database in pipeline order
func (i *Integration) Repositories() []*persistence.Repository {
	var out []*persistence.Repository
	for _, target := range persistence.Targets {
		if repo := i.Repository(target); repo != nil {
			out = append(out, repo)
		}
	}
	return out
}

// Health returns the status of every configured database
func (i *Integration) Health(ctx context.Context) []persistence.HealthCheck {
	var out []persistence.HealthCheck
	for _, target := range persistence.Targets {
		if m := i.managers[target]; m != nil {
			out = append(out, m.Health().Health(ctx))
		}
	}
	return out
}

// RunMigrations migrates every enabled database; a failure on one does not
// stop the other.
func (i *Integration) RunMigrations(ctx context.Context) error {
	var errs []error
	ran := 0
	for _, target := range persistence.Targets {
		if !i.Enabled(target) {
			continue
		}
		ran++
		if err := i.managers[target].Migrate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if ran == 0 {
		return fmt.Errorf("no database is enabled - cannot run migrations")
	}
	return errors.Join(errs...)
}

// Close closes every pool
func (i *Integration) Close() error {
	var errs []error
	for _, m := range i.managers {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s database: %w", m.Target(), err))
		}
	}
	return errors.Join(errs...)
}
