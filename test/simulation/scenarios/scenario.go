package scenarios

import (
	"context"

	"github.com/arloliu/cqlcore/test/simulation/types"
)

// Scenario defines a test scenario interface.
type Scenario interface {
	// Name returns the unique name of the scenario.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Run executes the scenario logic.
	Run(ctx context.Context, env *types.Environment) error
}

var (
	_ Scenario = (*NodeFailure)(nil)
	_ Scenario = (*DegradedNode)(nil)
	_ Scenario = (*DrainMode)(nil)
	_ Scenario = (*OverloadedNode)(nil)
	_ Scenario = (*RollingRestart)(nil)
	_ Scenario = (*PreparedLoss)(nil)
	_ Scenario = (*Burst)(nil)
)
