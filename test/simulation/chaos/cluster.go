package chaos

import (
	"fmt"
	"sync"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/message"

	"github.com/arloliu/cqlcore/test/testutil"
)

// Cluster injects faults into the nodes of a fake cluster.
type Cluster struct {
	mu      sync.Mutex
	cluster *testutil.FakeCluster
	stopped map[int]bool
}

// NewCluster wraps a running fake cluster.
func NewCluster(fc *testutil.FakeCluster) *Cluster {
	return &Cluster{
		cluster: fc,
		stopped: make(map[int]bool),
	}
}

// Size returns the number of nodes.
func (c *Cluster) Size() int {
	return len(c.cluster.Nodes())
}

// Endpoint returns the endpoint of node i.
func (c *Cluster) Endpoint(i int) string {
	return c.cluster.Node(i).Endpoint()
}

// Requests returns the number of user requests node i served.
func (c *Cluster) Requests(i int) int64 {
	return c.cluster.Node(i).Requests()
}

// KillNode stops node i.
func (c *Cluster) KillNode(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped[i] {
		return
	}
	c.cluster.Node(i).Stop()
	c.stopped[i] = true
}

// RestartNode starts node i again.
func (c *Cluster) RestartNode(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped[i] {
		return nil
	}
	if err := c.cluster.Node(i).Start(); err != nil {
		return fmt.Errorf("restart node %d: %w", i, err)
	}
	delete(c.stopped, i)

	return nil
}

// SetLatency delays every user request of node i by d. Zero removes the delay.
func (c *Cluster) SetLatency(i int, d time.Duration) {
	n := c.cluster.Node(i)
	n.ClearRules()
	if d > 0 {
		n.AddRule(testutil.FakeRule{Delay: d})
	}
}

// SetOverloaded makes node i answer every user request with OVERLOADED.
func (c *Cluster) SetOverloaded(i int, overloaded bool) {
	n := c.cluster.Node(i)
	n.ClearRules()
	if overloaded {
		n.AddRule(testutil.FakeRule{Error: &message.Overloaded{ErrorMessage: "chaos: overloaded"}})
	}
}

// DropPreparedStatements makes every node forget its prepared statements.
func (c *Cluster) DropPreparedStatements() {
	c.cluster.ClearPrepared()
}

// Reset removes every fault and restarts stopped nodes.
func (c *Cluster) Reset() error {
	for _, n := range c.cluster.Nodes() {
		n.ClearRules()
	}

	c.mu.Lock()
	stopped := make([]int, 0, len(c.stopped))
	for i := range c.stopped {
		stopped = append(stopped, i)
	}
	c.mu.Unlock()

	for _, i := range stopped {
		if err := c.RestartNode(i); err != nil {
			return err
		}
	}

	return nil
}
