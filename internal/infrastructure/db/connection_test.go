package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/exledger/internal/persistence"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 4, config.MaxOpenConns)
	assert.Equal(t, 2, config.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, config.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled) // Needs a DSN first
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SIM_DATABASE_URL", "postgres://sim@localhost/sim")
	t.Setenv("EXLEDGER_SIM_MAX_OPEN_CONNS", "7")
	t.Setenv("EXLEDGER_SIM_QUERY_TIMEOUT", "5s")
	t.Setenv("EXLEDGER_SIM_MAX_IDLE_CONNS", "not-a-number")

	config := DefaultConfig()
	ApplyEnvOverrides(&config, "SIM_DATABASE_URL", "EXLEDGER_SIM_")

	assert.True(t, config.Enabled)
	assert.Equal(t, "postgres://sim@localhost/sim", config.DSN)
	assert.Equal(t, 7, config.MaxOpenConns)
	assert.Equal(t, 5*time.Second, config.QueryTimeout)
	assert.Equal(t, 2, config.MaxIdleConns, "unparsable values are ignored")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"enabled without dsn", func(c *Config) { c.Enabled = true }, "databases.live.dsn"},
		{"no connections", func(c *Config) { c.MaxOpenConns = 0 }, "max_open_conns"},
		{"negative idle", func(c *Config) { c.MaxIdleConns = -1 }, "max_idle_conns"},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 9 }, "cannot exceed"},
		{"no timeout", func(c *Config) { c.QueryTimeout = 0 }, "query_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate("databases.live")
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := NewManager(persistence.TargetSimulation, Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Repository())
	assert.Nil(t, manager.DB())
	assert.NoError(t, manager.Close())

	healthCheck := manager.Health().Health(context.Background())
	assert.True(t, healthCheck.Healthy)
	assert.Equal(t, persistence.TargetSimulation, healthCheck.Target)
	assert.Contains(t, healthCheck.Errors[0], "disabled")

	assert.Error(t, manager.Migrate(context.Background()))
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := NewManager(persistence.TargetLive, Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func newMockManager(t *testing.T, target persistence.Target) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	config := DefaultConfig()
	config.DSN = "test_dsn" // Not dialed; the mock is injected
	return NewManagerWithDB(target, sqlx.NewDb(mockDB, "postgres"), config), mock
}

func TestHealthChecker_Enabled(t *testing.T) {
	manager, mock := newMockManager(t, persistence.TargetLive)
	require.True(t, manager.IsEnabled())
	require.NotNil(t, manager.Repository())
	assert.Equal(t, persistence.TargetLive, manager.Repository().Target)

	mock.ExpectPing()

	healthCheck := manager.Health().Health(context.Background())
	assert.True(t, healthCheck.Healthy)
	assert.Empty(t, healthCheck.Errors)
	assert.GreaterOrEqual(t, healthCheck.ResponseTimeMS, int64(0))
	assert.Contains(t, healthCheck.ConnectionPool, "max_open")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_PingFailure(t *testing.T) {
	manager, mock := newMockManager(t, persistence.TargetLive)

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)

	healthCheck := manager.Health().Health(context.Background())
	assert.False(t, healthCheck.Healthy)
	require.Len(t, healthCheck.Errors, 1)
	assert.Contains(t, healthCheck.Errors[0], "ping failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntegration_PipelineOrder(t *testing.T) {
	sim, _ := newMockManager(t, persistence.TargetSimulation)
	live, _ := newMockManager(t, persistence.TargetLive)
	in := NewIntegrationWith(sim, live)

	repos := in.Repositories()
	require.Len(t, repos, 2)
	assert.Equal(t, persistence.TargetLive, repos[0].Target)
	assert.Equal(t, persistence.TargetSimulation, repos[1].Target)
	assert.True(t, in.Enabled(persistence.TargetSimulation))
}

func TestIntegration_SimulationDisabled(t *testing.T) {
	live, mock := newMockManager(t, persistence.TargetLive)
	sim, err := NewManager(persistence.TargetSimulation, Config{})
	require.NoError(t, err)
	in := NewIntegrationWith(live, sim)

	assert.Nil(t, in.Repository(persistence.TargetSimulation))
	assert.Len(t, in.Repositories(), 1)

	mock.ExpectPing()
	health := in.Health(context.Background())
	require.Len(t, health, 2)
	assert.Equal(t, persistence.TargetLive, health[0].Target)
	assert.Equal(t, persistence.TargetSimulation, health[1].Target)
}

func TestIntegration_RunMigrationsNothingEnabled(t *testing.T) {
	sim, err := NewManager(persistence.TargetSimulation, Config{})
	require.NoError(t, err)

	err = NewIntegrationWith(sim).RunMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database is enabled")
}
