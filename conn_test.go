package cqlcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/internal/logging"
	"github.com/arloliu/cqlcore/internal/metrics"
	"github.com/arloliu/cqlcore/test/testutil"
	"github.com/arloliu/cqlcore/types"
)

func testConnConfig() connConfig {
	return connConfig{
		version:        primitive.ProtocolVersion4,
		connectTimeout: time.Second,
		highWaterMark:  256,
		lowWaterMark:   128,
		logger:         logging.NewNopLogger(),
		metrics:        metrics.NewNopMetrics(),
	}
}

func testConn(t *testing.T, endpoint string, cfg connConfig) *Conn {
	t.Helper()

	c, err := dialConn(testContext(t), endpoint, cfg, connHandlers{})
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		c.wait()
	})

	return c
}

func userQuery(q string) *message.Query {
	return &message.Query{Query: q, Options: &message.QueryOptions{Consistency: primitive.ConsistencyLevelOne}}
}

func TestConnRequest(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	c := testConn(t, fc.Node(0).Endpoint(), testConnConfig())

	require.True(t, c.IsAccepting())
	require.Equal(t, primitive.ProtocolVersion4, c.ProtocolVersion())

	resp, err := c.request(testContext(t), userQuery("SELECT v FROM ks.tbl"))
	require.NoError(t, err)
	require.IsType(t, &message.RowsResult{}, resp)
	require.Zero(t, c.InFlight())

	require.NoError(t, c.useKeyspace(testContext(t), "ks"))
	require.Equal(t, "ks", c.Keyspace())
}

func TestConnServerErrorIsReturned(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	fc.AddRule(testutil.FakeRule{Match: "broken", Error: &message.SyntaxError{ErrorMessage: "line 1"}})
	c := testConn(t, fc.Node(0).Endpoint(), testConnConfig())

	_, err := c.request(testContext(t), userQuery("SELECT broken"))

	var serverErr *types.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, types.ErrorKindSyntaxError, serverErr.Kind)
}

func TestConnWaterMarks(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	fc.AddRule(testutil.FakeRule{Match: "slow", Delay: 200 * time.Millisecond})

	cfg := testConnConfig()
	cfg.highWaterMark = 2
	cfg.lowWaterMark = 1
	c := testConn(t, fc.Node(0).Endpoint(), cfg)
	ctx := testContext(t)

	first, err := c.Send(ctx, userQuery("SELECT slow"))
	require.NoError(t, err)
	require.True(t, c.IsAccepting())

	second, err := c.Send(ctx, userQuery("SELECT slow"))
	require.NoError(t, err)
	require.False(t, c.IsAccepting())
	require.Equal(t, 2, c.InFlight())

	_, err = c.Send(ctx, userQuery("SELECT slow"))
	require.ErrorIs(t, err, types.ErrConnectionOverloaded)

	for _, cl := range []*call{first, second} {
		res := <-cl.done
		require.NoError(t, res.err)
	}
	require.True(t, c.IsAccepting())
	require.Zero(t, c.InFlight())
}

func TestConnCloseFailsPendingRequests(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	fc.AddRule(testutil.FakeRule{Match: "lost", Blackhole: true})
	c := testConn(t, fc.Node(0).Endpoint(), testConnConfig())

	cl, err := c.Send(testContext(t), userQuery("SELECT lost"))
	require.NoError(t, err)

	c.Close()

	res := <-cl.done
	var connErr *types.ConnectionError
	require.ErrorAs(t, res.err, &connErr)
	require.ErrorIs(t, res.err, types.ErrConnectionClosed)
	require.True(t, c.IsClosed())

	_, err = c.Send(testContext(t), userQuery("SELECT 1"))
	require.ErrorIs(t, err, types.ErrConnectionClosed)
}

func TestConnRecyclesAfterTooManyOrphans(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	fc.AddRule(testutil.FakeRule{Match: "lost", Blackhole: true})

	cfg := testConnConfig()
	cfg.maxOrphaned = 1
	c := testConn(t, fc.Node(0).Endpoint(), cfg)

	for range 2 {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := c.request(ctx, userQuery("SELECT lost"))
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}

	require.True(t, c.IsClosed())
	require.True(t, errors.Is(c.Err(), errRecycled))
	require.True(t, errors.Is(c.Err(), errTooManyOrphans))
}

func TestConnDialUnreachable(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	endpoint := fc.Node(0).Endpoint()
	fc.Node(0).Stop()

	_, err := dialConn(testContext(t), endpoint, testConnConfig(), connHandlers{})

	var connErr *types.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, endpoint, connErr.Host)
}

func TestQuoteIdentifier(t *testing.T) {
	require.Equal(t, `"ks"`, quoteIdentifier("ks"))
	require.Equal(t, `"My""Ks"`, quoteIdentifier(`My"Ks`))
}
