package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSetDrain(t *testing.T) {
	local := NewLocal()
	defer local.Close()

	ctx := t.Context()
	updates := local.Watch(ctx)

	err := local.SetDrain(ctx, "10.0.0.1:9042", true, "disk replacement")
	require.NoError(t, err)

	select {
	case update := <-updates:
		assert.Equal(t, "10.0.0.1:9042", update.Endpoint)
		assert.True(t, update.Draining)
		assert.Equal(t, "disk replacement", update.Reason)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for update")
	}

	assert.True(t, local.IsDraining("10.0.0.1:9042"))
	assert.False(t, local.IsDraining("10.0.0.2:9042"))
	assert.Equal(t, "disk replacement", local.DrainReason("10.0.0.1:9042"))
}

func TestLocalRestore(t *testing.T) {
	local := NewLocal()
	defer local.Close()

	ctx := t.Context()
	updates := local.Watch(ctx)

	_ = local.SetDrain(ctx, "10.0.0.1:9042", true, "test")
	<-updates

	// no update when the state does not change
	_ = local.SetDrain(ctx, "10.0.0.1:9042", true, "again")

	require.NoError(t, local.SetDrain(ctx, "10.0.0.1:9042", false, ""))

	select {
	case update := <-updates:
		assert.False(t, update.Draining)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for restore update")
	}

	assert.False(t, local.IsDraining("10.0.0.1:9042"))
}

func TestLocalCloseClosesChannel(t *testing.T) {
	local := NewLocal()
	updates := local.Watch(context.Background())

	require.NoError(t, local.Close())
	require.NoError(t, local.Close())

	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// mutations after close are ignored
	require.NoError(t, local.SetDrain(context.Background(), "10.0.0.1:9042", true, ""))
	assert.False(t, local.IsDraining("10.0.0.1:9042"))
}

func TestLocalContextCancel(t *testing.T) {
	local := NewLocal()
	defer local.Close()

	ctx, cancel := context.WithCancel(context.Background())
	updates := local.Watch(ctx)
	cancel()

	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed on cancel")
	}
}
