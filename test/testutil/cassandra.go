package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/cassandra"
)

// CassandraContainer wraps a Cassandra test container.
type CassandraContainer struct {
	Container *cassandra.CassandraContainer
	// Endpoint is the "host:port" address of the native transport.
	Endpoint string
	// Datacenter is the datacenter the node reports.
	Datacenter string
}

// CassandraOptions configures the Cassandra container.
type CassandraOptions struct {
	// Image is the Cassandra image to use. Defaults to "cassandra:4.1".
	Image string
	// Datacenter is the node datacenter. Defaults to "datacenter1".
	Datacenter string
}

// DefaultCassandraOptions returns default options for Cassandra container.
func DefaultCassandraOptions() CassandraOptions {
	return CassandraOptions{
		Image:      "cassandra:4.1",
		Datacenter: "datacenter1",
	}
}

// StartCassandra starts a Cassandra container for testing.
//
// The container is automatically terminated when the test completes. The
// module waits for the native transport before returning, so the endpoint
// is ready for a session.
//
// Parameters:
//   - ctx: Context for container operations
//   - t: Testing context for cleanup registration
//   - opts: Optional configuration (nil uses defaults)
//
// Returns:
//   - *CassandraContainer: Container with connection details
//   - error: Error if container fails to start
func StartCassandra(ctx context.Context, t *testing.T, opts *CassandraOptions) (*CassandraContainer, error) {
	t.Helper()

	c, err := RunCassandra(ctx, opts)
	if err != nil {
		return nil, err
	}

	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Cassandra container: %v", err)
		}
	})

	return c, nil
}

// RunCassandra starts a Cassandra container the caller terminates, for
// containers shared by a whole package from TestMain.
func RunCassandra(ctx context.Context, opts *CassandraOptions) (*CassandraContainer, error) {
	if opts == nil {
		defaultOpts := DefaultCassandraOptions()
		opts = &defaultOpts
	}

	container, err := cassandra.Run(ctx, opts.Image,
		testcontainers.WithEnv(map[string]string{
			"HEAP_NEWSIZE":     "128M",
			"MAX_HEAP_SIZE":    "512M",
			"CASSANDRA_SNITCH": "GossipingPropertyFileSnitch",
			"CASSANDRA_DC":     opts.Datacenter,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start Cassandra container: %w", err)
	}

	endpoint, err := container.ConnectionHost(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get connection host: %w", err)
	}

	return &CassandraContainer{
		Container:  container,
		Endpoint:   endpoint,
		Datacenter: opts.Datacenter,
	}, nil
}

// Terminate stops and removes the container.
func (c *CassandraContainer) Terminate(ctx context.Context) error {
	return c.Container.Terminate(ctx)
}
