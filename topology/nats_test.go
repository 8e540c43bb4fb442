package topology_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/test/testutil"
	"github.com/arloliu/cqlcore/topology"
)

func waitUpdate(t *testing.T, updates <-chan topology.DrainUpdate) topology.DrainUpdate {
	t.Helper()

	select {
	case u, ok := <-updates:
		require.True(t, ok, "updates channel closed")
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for drain update")
	}

	return topology.DrainUpdate{}
}

func TestNewNATSNilKV(t *testing.T) {
	_, err := topology.NewNATS(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KeyValue store is nil")
}

func TestNewNATSOptions(t *testing.T) {
	store := testutil.StartDrainStore(t, "test-options")

	watcher, err := topology.NewNATS(store.KV())
	require.NoError(t, err)
	assert.Equal(t, testutil.DrainKey, watcher.Config().Key)
	assert.Equal(t, 5*time.Second, watcher.Config().PollInterval)
	require.NoError(t, watcher.Close())

	watcher, err = topology.NewNATS(store.KV(),
		topology.WithKey("custom.drain.key"),
		topology.WithPollInterval(10*time.Second),
		topology.WithInitialFetchTimeout(30*time.Second),
	)
	require.NoError(t, err)
	defer watcher.Close()

	assert.Equal(t, "custom.drain.key", watcher.Config().Key)
	assert.Equal(t, 10*time.Second, watcher.Config().PollInterval)
	assert.Equal(t, 30*time.Second, watcher.Config().InitialFetchTimeout)
}

func TestNATSDrainAndRestore(t *testing.T) {
	store := testutil.StartDrainStore(t, "test-drain")

	watcher, err := topology.NewNATS(store.KV())
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	updates := watcher.Watch(ctx)
	assert.False(t, watcher.IsDraining("10.0.0.2:9042"))

	store.Drain("OS Patching", "10.0.0.2:9042")

	update := waitUpdate(t, updates)
	assert.Equal(t, "10.0.0.2:9042", update.Endpoint)
	assert.True(t, update.Draining)
	assert.Equal(t, "OS Patching", update.Reason)
	assert.True(t, watcher.IsDraining("10.0.0.2:9042"))

	store.Restore()

	update = waitUpdate(t, updates)
	assert.Equal(t, "10.0.0.2:9042", update.Endpoint)
	assert.False(t, update.Draining)
	assert.False(t, watcher.IsDraining("10.0.0.2:9042"))
}

func TestNATSInvalidJSONClearsDrain(t *testing.T) {
	store := testutil.StartDrainStore(t, "test-invalid")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	store.Drain("", "10.0.0.3:9042")

	watcher, err := topology.NewNATS(store.KV())
	require.NoError(t, err)
	defer watcher.Close()

	updates := watcher.Watch(ctx)
	update := waitUpdate(t, updates)
	assert.True(t, update.Draining)

	store.Put([]byte("{not json"))

	update = waitUpdate(t, updates)
	assert.False(t, update.Draining)
	assert.False(t, watcher.IsDraining("10.0.0.3:9042"))
}

func TestNATSCloseClosesChannel(t *testing.T) {
	store := testutil.StartDrainStore(t, "test-close")

	watcher, err := topology.NewNATS(store.KV())
	require.NoError(t, err)

	updates := watcher.Watch(t.Context())
	require.NoError(t, watcher.Close())
	require.NoError(t, watcher.Close())

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates channel not closed")
		}
	}
}
