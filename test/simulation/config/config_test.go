package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, 5*time.Minute, cfg.Simulation.Duration)
	require.Equal(t, []string{"dc1", "dc1", "dc1"}, cfg.Cluster.Datacenters)
	require.Equal(t, "dc1", cfg.Driver.LocalDC)
	require.InDelta(t, 0.99, cfg.Simulation.MinSuccessRatio, 1e-9)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
simulation:
  duration: 30s
  workers: 8
cluster:
  datacenters: [east, east, west]
driver:
  speculative_delay: 20ms
  latency_aware: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Simulation.Duration)
	require.Equal(t, 8, cfg.Simulation.Workers)
	require.Equal(t, "east", cfg.Driver.LocalDC)
	require.Equal(t, 20*time.Millisecond, cfg.Driver.SpeculativeDelay)
	require.True(t, cfg.Driver.LatencyAware)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
