package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/cqlcore/topology"
)

// DrainKey is the key the drain watcher reads by default.
const DrainKey = "cqlcore.topology.drain"

// DrainStore is a JetStream KV bucket holding operator drain overrides,
// backed by an embedded NATS server that lives for the test.
type DrainStore struct {
	t  testing.TB
	kv jetstream.KeyValue
}

// StartDrainStore starts an embedded JetStream server and creates a KV
// bucket for drain overrides.
//
// Parameters:
//   - t: The testing context
//   - bucket: The KV bucket name, unique per test
//
// Returns:
//   - *DrainStore: The store, cleaned up when the test completes
func StartDrainStore(t testing.TB, bucket string) *DrainStore {
	t.Helper()

	js := startJetStream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	require.NoError(t, err, "failed to create drain bucket")

	return &DrainStore{t: t, kv: kv}
}

// KV returns the bucket to hand to topology.NewNATS.
func (d *DrainStore) KV() jetstream.KeyValue { return d.kv }

// Drain publishes a drain override for endpoints under DrainKey.
func (d *DrainStore) Drain(reason string, endpoints ...string) {
	d.t.Helper()

	data, err := json.Marshal(topology.DrainConfig{Drain: endpoints, Reason: reason})
	require.NoError(d.t, err)
	d.Put(data)
}

// Put stores raw bytes under DrainKey.
func (d *DrainStore) Put(data []byte) {
	d.t.Helper()

	_, err := d.kv.Put(context.Background(), DrainKey, data)
	require.NoError(d.t, err)
}

// Restore deletes the drain override so every endpoint serves again.
func (d *DrainStore) Restore() {
	d.t.Helper()

	require.NoError(d.t, d.kv.Delete(context.Background(), DrainKey))
}

func startJetStream(t testing.TB) jetstream.JetStream {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoSigs:    true,
	})
	require.NoError(t, err, "failed to create NATS server")

	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready for connections")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("cqlcore-drain-test"))
	require.NoError(t, err, "failed to connect to NATS server")

	js, err := jetstream.New(nc)
	require.NoError(t, err, "failed to create JetStream context")

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return js
}
