package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/test/testutil"
)

func TestKillAndRestart(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(2))
	c := NewCluster(fc)
	require.Equal(t, 2, c.Size())

	c.KillNode(1)
	c.KillNode(1)
	require.False(t, fc.Node(1).IsRunning())

	require.NoError(t, c.RestartNode(1))
	require.True(t, fc.Node(1).IsRunning())
	require.NoError(t, c.RestartNode(1))
}

func TestResetRestartsNodes(t *testing.T) {
	fc := testutil.NewFakeCluster(t, testutil.WithFakeNodes(3))
	c := NewCluster(fc)

	c.KillNode(0)
	c.KillNode(2)
	c.SetLatency(1, time.Second)

	require.NoError(t, c.Reset())
	for _, n := range fc.Nodes() {
		require.True(t, n.IsRunning())
	}
}
