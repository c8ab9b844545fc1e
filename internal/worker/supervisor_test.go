package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_RunsImmediatelyAndRecovers(t *testing.T) {
	s := NewSupervisor()

	var calls, panics atomic.Int32
	require.NoError(t, s.Register("ok", time.Hour, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, s.Register("boom", time.Hour, func(ctx context.Context) error {
		panics.Add(1)
		panic("reconciler blew up")
	}))
	require.NoError(t, s.Register("fails", time.Hour, func(ctx context.Context) error {
		return errors.New("upstream unavailable")
	}))

	s.Start()
	assert.Eventually(t, func() bool {
		return calls.Load() == 1 && panics.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSupervisor_StopCancelsTaskContext(t *testing.T) {
	s := NewSupervisor()

	started := make(chan struct{})
	require.NoError(t, s.Register("blocking", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestSupervisor_RejectsBadInterval(t *testing.T) {
	s := NewSupervisor()
	assert.Error(t, s.Register("never", 0, func(context.Context) error { return nil }))
}
