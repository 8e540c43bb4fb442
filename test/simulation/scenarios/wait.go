package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/arloliu/cqlcore/test/simulation/types"
)

const pollInterval = 200 * time.Millisecond

// awaitCompleted blocks until the workload completed n more requests than
// from, the timeout elapsed or ctx ended.
func awaitCompleted(ctx context.Context, env *types.Environment, from, n int64, timeout time.Duration) error {
	return poll(ctx, timeout, func() error {
		if done := env.Tracker.Count() - from; done < n {
			return fmt.Errorf("%d of %d requests completed", done, n)
		}

		return nil
	})
}

// awaitNodeTraffic blocks until node served a request after the count
// before, proving the session routes to it again.
func awaitNodeTraffic(ctx context.Context, env *types.Environment, node int, before int64, timeout time.Duration) error {
	return poll(ctx, timeout, func() error {
		if env.Chaos.Requests(node) <= before {
			return fmt.Errorf("no request reached %s", env.Chaos.Endpoint(node))
		}

		return nil
	})
}

func poll(ctx context.Context, timeout time.Duration, check func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, check()
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(pollInterval)),
		backoff.WithMaxElapsedTime(timeout),
	)

	return err
}
