package integration_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore"
	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/test/testutil"
)

// shared holds the Cassandra container used by every integration test.
var shared *testutil.CassandraContainer

// TestMain starts one Cassandra container for the package.
// This avoids the overhead of starting containers for each individual test.
func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		return
	}

	// Check if we should skip container setup (for unit tests or CI without Docker)
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "1" {
		fmt.Println("Skipping integration tests (SKIP_INTEGRATION_TESTS=1)")

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	c, err := testutil.RunCassandra(ctx, nil)
	cancel()
	if err != nil {
		fmt.Printf("Failed to start Cassandra: %v\n", err)

		return
	}
	shared = c

	fmt.Printf("Cassandra ready at %s\n", c.Endpoint)

	code := m.Run()

	_ = c.Terminate(context.Background())
	os.Exit(code)
}

// connect opens a session to the shared container and closes it when the
// test ends.
func connect(t *testing.T, opts ...cqlcore.Option) *cqlcore.Session {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if shared == nil {
		t.Skip("Cassandra container not available (run with -short=false and Docker)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := []cqlcore.Option{
		cqlcore.WithContactPoints(shared.Endpoint),
		cqlcore.WithLoadBalancingPolicy(policy.NewTokenAware(policy.NewDCAwareRoundRobin(shared.Datacenter))),
		cqlcore.WithConsistency(cqlcore.One),
		cqlcore.WithRequestTimeout(20 * time.Second),
	}

	s, err := cqlcore.Connect(ctx, append(base, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})

	return s
}

// createKeyspace creates a keyspace unique to the test.
func createKeyspace(t *testing.T, s *cqlcore.Session) string {
	t.Helper()

	ks := fmt.Sprintf("it_%d", time.Now().UnixNano())
	err := s.Query(fmt.Sprintf(
		"CREATE KEYSPACE %s WITH replication = {'class': 'NetworkTopologyStrategy', '%s': 1}",
		ks, shared.Datacenter,
	)).Exec(t.Context())
	require.NoError(t, err)

	return ks
}
