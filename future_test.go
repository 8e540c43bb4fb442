package cqlcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureCompletesOnce(t *testing.T) {
	f := newFuture()
	require.False(t, f.IsDone())
	require.Equal(t, RequestNotStarted, f.State())

	res := emptyResult("127.0.0.1:9042")

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i == 0 {
				wins <- f.complete(res, nil)
				return
			}
			wins <- f.complete(nil, errors.New("late"))
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	require.Equal(t, 1, won)
	require.True(t, f.IsDone())

	select {
	case <-f.Done():
	default:
		t.Fatal("Done channel is not closed")
	}
}

func TestFutureGetHonorsContext(t *testing.T) {
	f := newFuture()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, f.IsDone())

	f.complete(emptyResult("h"), nil)
	res, err := f.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "h", res.Host())
}

func TestFailedFuture(t *testing.T) {
	f := failedFuture(ErrSessionClosed)

	require.True(t, f.IsDone())
	require.Equal(t, RequestFailed, f.State())

	_, err := f.Get(context.Background())
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestRequestState(t *testing.T) {
	tests := []struct {
		state    RequestState
		name     string
		terminal bool
	}{
		{RequestNotStarted, "NOT_STARTED", false},
		{RequestWaitingForConnection, "WAITING_FOR_CONNECTION", false},
		{RequestInFlight, "IN_FLIGHT", false},
		{RequestRetrying, "RETRYING", false},
		{RequestSpeculativeInFlight, "SPECULATIVE_IN_FLIGHT", false},
		{RequestCompleted, "COMPLETED", true},
		{RequestFailed, "FAILED", true},
		{RequestState(42), "UNKNOWN", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.name, tt.state.String())
			require.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}
