package cqlcore

import (
	"context"
	"testing"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"

	"github.com/arloliu/cqlcore/internal/metrics"
	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/test/testutil"
	"github.com/arloliu/cqlcore/types"
)

// =============================================================================
// Benchmark Infrastructure
// =============================================================================

func benchSession(b *testing.B, nodes int, opts ...Option) *Session {
	b.Helper()

	fc := testutil.NewFakeCluster(b, testutil.WithFakeNodes(nodes))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := []Option{
		WithContactPoints(fc.ContactPoints()...),
		WithHeartbeatInterval(0),
		WithIdleTimeout(0),
	}
	s, err := Connect(ctx, append(base, opts...)...)
	if err != nil {
		b.Fatalf("connect: %v", err)
	}

	b.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = s.Close(closeCtx)
	})

	return s
}

// =============================================================================
// Request Path
// =============================================================================

func BenchmarkQueryExec(b *testing.B) {
	s := benchSession(b, 3)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		if err := s.Query("INSERT INTO ks.tbl (k, v) VALUES ('a', 'b')").Exec(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPreparedExec(b *testing.B) {
	s := benchSession(b, 3)
	ctx := context.Background()

	p, err := s.Prepare(ctx, "INSERT INTO ks.tbl (k, v) VALUES (?, ?)")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		if err := p.Bind("a", "b").Exec(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkQueryExecParallel(b *testing.B) {
	s := benchSession(b, 3, WithConnectionsPerHost(1, 4))
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := s.Query("SELECT v FROM ks.tbl").Idempotent(true).Exec(ctx); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkSpeculativeExecParallel(b *testing.B) {
	s := benchSession(b, 3,
		WithSpeculativeExecutionPolicy(policy.NewConstantSpeculativeExecution(time.Millisecond, 1)),
	)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := s.Query("SELECT v FROM ks.tbl").Idempotent(true).Exec(ctx); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// =============================================================================
// Encoding
// =============================================================================

func BenchmarkBuildQueryMessage(b *testing.B) {
	q := NewQuery("INSERT INTO t (k, v, n) VALUES (?, ?, ?)", "key", []byte("value"), int64(42))
	params := messageParams{version: primitive.ProtocolVersion4, consistency: types.LocalQuorum, timestamp: 1}

	b.ReportAllocs()

	for b.Loop() {
		if _, err := q.buildMessage(params); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBoundRoutingKey(b *testing.B) {
	p, err := newPrepared(nil, "INSERT INTO ks.tbl (a, b, c) VALUES (?, ?, ?)", "ks", &message.PreparedResult{
		PreparedQueryId: []byte{1},
		VariablesMetadata: &message.VariablesMetadata{
			PkIndices: []uint16{0, 1},
			Columns: []*message.ColumnMetadata{
				{Name: "a", Type: datatype.Varchar},
				{Name: "b", Type: datatype.Int},
				{Name: "c", Type: datatype.Varchar},
			},
		},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()

	for b.Loop() {
		_ = p.Bind("tenant", int32(7), "x").routingKey()
	}
}

// =============================================================================
// Metrics
// =============================================================================

func BenchmarkObserveRequestDuration(b *testing.B) {
	m := newSessionMetrics(metrics.NewNopMetrics())
	b.Cleanup(m.stop)

	b.ReportAllocs()

	for b.Loop() {
		m.ObserveRequestDuration(0.0015)
	}
}
