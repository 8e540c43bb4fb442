package scenarios

import (
	"context"
	"time"

	"github.com/arloliu/cqlcore/test/simulation/types"
)

// NodeFailure stops one node and brings it back.
type NodeFailure struct{}

func (s *NodeFailure) Name() string {
	return "node-failure"
}

func (s *NodeFailure) Description() string {
	return "Stops one node to verify requests move to the remaining hosts"
}

func (s *NodeFailure) Run(ctx context.Context, env *types.Environment) error {
	env.Logger.Info("Starting NodeFailure scenario")
	victim := env.Chaos.Size() - 1

	env.Logger.Info("Killing node", "endpoint", env.Chaos.Endpoint(victim))
	env.Chaos.KillNode(victim)

	startCount := env.Tracker.Count()
	_ = awaitCompleted(ctx, env, startCount, 200, 15*time.Second)

	env.Logger.Info("Restarting node", "endpoint", env.Chaos.Endpoint(victim))
	if err := env.Chaos.RestartNode(victim); err != nil {
		return err
	}

	// the node rejoins once the reconnection policy reaches it
	before := env.Chaos.Requests(victim)
	if err := awaitNodeTraffic(ctx, env, victim, before, 30*time.Second); err != nil {
		env.Logger.Warn("Restarted node did not receive traffic", "endpoint", env.Chaos.Endpoint(victim))
	}

	env.Logger.Info("NodeFailure scenario completed")

	return nil
}
