package types

import (
	"context"
	"log/slog"

	"github.com/arloliu/cqlcore"
	"github.com/arloliu/cqlcore/test/simulation/chaos"
	"github.com/arloliu/cqlcore/test/simulation/workload"
	"github.com/arloliu/cqlcore/topology"
)

// Environment holds the shared resources for the simulation.
type Environment struct {
	Session *cqlcore.Session
	Chaos   *chaos.Cluster
	Drain   *topology.Local
	Tracker *workload.Tracker
	Logger  *slog.Logger
}

// Scenario defines a test scenario interface.
type Scenario interface {
	// Name returns the unique name of the scenario.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Run executes the scenario logic.
	Run(ctx context.Context, env *Environment) error
}
