package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/exledger/internal/persistence"
	"github.com/sawpanic/exledger/internal/persistence/postgres"
)

// Manager manages the connection pool and stores of one logical database
type Manager struct {
	target persistence.Target
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager opens and pings the database described by config
func NewManager(target persistence.Target, config Config) (*Manager, error) {
	if !config.Enabled {
		return &Manager{
			target: target,
			config: config,
			health: &healthChecker{target: target, enabled: false},
		}, nil
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("%s database DSN is required when enabled", target)
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", target, err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", target, err)
	}

	return NewManagerWithDB(target, db, config), nil
}

// NewManagerWithDB wires the stores onto an already opened pool
func NewManagerWithDB(target persistence.Target, db *sqlx.DB, config Config) *Manager {
	config.Enabled = true
	return &Manager{
		target: target,
		db:     db,
		config: config,
		repos:  postgres.Open(target, db, config.QueryTimeout),
		health: &healthChecker{
			target:  target,
			enabled: true,
			db:      db,
			timeout: config.QueryTimeout,
		},
	}
}

// Target names the logical database
func (m *Manager) Target() persistence.Target {
	return m.target
}

// Repository returns the stores, or nil if the database is disabled
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// Health returns the health checker interface
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// DB returns the underlying pool
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// IsEnabled returns whether the database is configured and open
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Migrate applies the embedded schema migrations
func (m *Manager) Migrate(ctx context.Context) error {
	if !m.IsEnabled() {
		return fmt.Errorf("%s database is not enabled - cannot run migrations", m.target)
	}
	return postgres.Migrate(ctx, m.target, m.db)
}

// Close closes the pool
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth
type healthChecker struct {
	target  persistence.Target
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

// Health returns current repository health status
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	if !h.enabled {
		return persistence.HealthCheck{
			Target:         h.target,
			Healthy:        true,
			Errors:         []string{"Database disabled"},
			ConnectionPool: map[string]int{"status": 0},
			LastCheck:      time.Now(),
			ResponseTimeMS: 0,
		}
	}

	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errors []string
	healthy := true

	if err := h.db.PingContext(pingCtx); err != nil {
		errors = append(errors, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	connectionPool := map[string]int{
		"max_open":      stats.MaxOpenConnections,
		"open":          stats.OpenConnections,
		"in_use":        stats.InUse,
		"idle":          stats.Idle,
		"wait_count":    int(stats.WaitCount),
		"wait_duration": int(stats.WaitDuration.Milliseconds()),
	}

	return persistence.HealthCheck{
		Target:         h.target,
		Healthy:        healthy,
		Errors:         errors,
		ConnectionPool: connectionPool,
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Ping tests basic connectivity to database
func (h *healthChecker) Ping(ctx context.Context) error {
	if !h.enabled {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	return h.db.PingContext(pingCtx)
}
