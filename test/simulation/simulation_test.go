package simulation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/test/simulation/config"
	"github.com/arloliu/cqlcore/test/simulation/scenarios"
	"github.com/arloliu/cqlcore/test/testutil"
)

func TestNewRequiresCluster(t *testing.T) {
	_, err := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestDrainScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulation in short mode")
	}

	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(3))

	settings := config.Default()
	settings.Simulation.Duration = time.Minute
	settings.Simulation.ConsoleInterval = time.Second
	settings.Simulation.Workers = 2

	sim, err := New(Config{Profile: "quick", Cluster: fc, Settings: settings},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	sim.RegisterScenario(&scenarios.DrainMode{})
	require.NoError(t, sim.Run(t.Context()))
}
