package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/exledger/internal/config"
	"github.com/sawpanic/exledger/internal/persistence"
)

func TestHistoryQueryFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	addHistoryFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{
		"--since", "2024-01-01T00:00:00Z",
		"--until", "2024-01-31T00:00:00Z",
		"--step", "6_hour",
		"--fiat", "jpy",
		"--symbols", "BTC,ETH",
		"--sim",
	}))

	q, err := historyQuery(cmd.Flags())
	require.NoError(t, err)
	require.NotNil(t, q.Since)
	require.NotNil(t, q.Until)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), q.Since.UTC())
	assert.Equal(t, 6*time.Hour, q.Step)
	assert.Equal(t, "jpy", q.Fiat)
	assert.Equal(t, []string{"BTC", "ETH"}, q.Symbols)
	assert.True(t, q.Simulation)
}

func TestHistoryQueryRejectsBadInput(t *testing.T) {
	cases := map[string][]string{
		"bad since":          {"--since", "yesterday"},
		"bad step":           {"--step", "3_weeks"},
		"until before since": {"--since", "2024-02-01T00:00:00Z", "--until", "2024-01-01T00:00:00Z"},
	}
	for name, argv := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := &cobra.Command{}
			addHistoryFlags(cmd.Flags())
			require.NoError(t, cmd.Flags().Parse(argv))
			_, err := historyQuery(cmd.Flags())
			assert.Error(t, err)
		})
	}
}

func TestDSNsOnlyEnabledDatabases(t *testing.T) {
	cfg := config.DefaultAppConfig()
	cfg.Databases.Live.Enabled = true
	cfg.Databases.Live.DSN = "postgres://live"
	cfg.Databases.Simulation.DSN = "postgres://sim"

	a := &app{cfg: cfg}
	assert.Equal(t, map[persistence.Target]string{persistence.TargetLive: "postgres://live"}, a.dsns())
}
