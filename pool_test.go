package cqlcore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/test/testutil"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

type poolEvents struct {
	mu   sync.Mutex
	up   int
	down int
}

func (e *poolEvents) onUp(*topology.Host) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.up++
}

func (e *poolEvents) onDown(*topology.Host, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.down++
}

func (e *poolEvents) counts() (up, down int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.up, e.down
}

func testPool(t *testing.T, endpoint string, core, maxConns int) (*hostPool, *poolEvents) {
	t.Helper()

	reg := topology.NewRegistry()
	h, _ := reg.AddOrUpdate(endpoint, topology.HostInfo{Datacenter: "dc1"})

	events := &poolEvents{}
	p := newHostPool(h, poolConfig{
		core:         core,
		max:          maxConns,
		threshold:    1,
		conn:         testConnConfig(),
		reconnection: policy.NewConstantReconnection(20 * time.Millisecond),
	}, events.onUp, events.onDown)
	t.Cleanup(p.close)

	return p, events
}

func TestPoolWarmUp(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	p, _ := testPool(t, fc.Node(0).Endpoint(), 2, 4)

	require.NoError(t, p.warmUp(testContext(t)))
	require.Equal(t, 2, p.size())

	total, available := p.stats()
	require.Equal(t, 2, total)
	require.Equal(t, 2, available)
	require.EqualValues(t, 2, fc.Node(0).Accepted())

	c, err := p.acquire()
	require.NoError(t, err)
	require.Equal(t, fc.Node(0).Endpoint(), c.Endpoint())
}

func TestPoolWarmUpUnreachableReportsDown(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	endpoint := fc.Node(0).Endpoint()
	fc.Node(0).Stop()

	p, events := testPool(t, endpoint, 1, 1)

	require.Error(t, p.warmUp(testContext(t)))
	require.Zero(t, p.size())
	_, down := events.counts()
	require.Equal(t, 1, down)

	_, err := p.acquire()
	require.ErrorIs(t, err, types.ErrNoConnection)
}

func TestPoolReconnectsAfterHostReturns(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	node := fc.Node(0)
	p, events := testPool(t, node.Endpoint(), 1, 1)

	require.NoError(t, p.warmUp(testContext(t)))

	node.Stop()
	require.Eventually(t, func() bool {
		_, down := events.counts()
		return down == 1 && p.size() == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, node.Start())
	require.Eventually(t, func() bool {
		up, _ := events.counts()
		return up == 1 && p.size() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPoolReplacesRecycledConnection(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	p, events := testPool(t, fc.Node(0).Endpoint(), 1, 1)

	require.NoError(t, p.warmUp(testContext(t)))
	old := p.connections()[0]

	p.recycle(old, errTooManyOrphans)

	require.Eventually(t, func() bool {
		conns := p.connections()
		return len(conns) == 1 && conns[0] != old
	}, 2*time.Second, 10*time.Millisecond)

	// a recycled connection is not a host failure
	_, down := events.counts()
	require.Zero(t, down)
}

func TestPoolGrowsPastThreshold(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	fc.AddRule(testutil.FakeRule{Match: "slow", Delay: 300 * time.Millisecond})
	p, _ := testPool(t, fc.Node(0).Endpoint(), 1, 2)

	require.NoError(t, p.warmUp(testContext(t)))

	c, err := p.acquire()
	require.NoError(t, err)
	_, err = c.Send(testContext(t), userQuery("SELECT slow"))
	require.NoError(t, err)

	// the busy connection is still handed out while a second one opens
	c2, err := p.acquire()
	require.NoError(t, err)
	require.Same(t, c, c2)

	require.Eventually(t, func() bool { return p.size() == 2 }, 2*time.Second, 10*time.Millisecond)

	// max reached
	p.spawn(5)
	require.Never(t, func() bool { return p.size() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestPoolReadyAfterFirstConnection(t *testing.T) {
	fc := testutil.NewFakeCluster(t)
	p, _ := testPool(t, fc.Node(0).Endpoint(), 1, 2)

	select {
	case <-p.ready:
		t.Fatal("pool ready before any connection")
	default:
	}

	p.spawn(1)

	select {
	case <-p.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("pool never became ready")
	}
	require.Equal(t, 1, p.size())
}
