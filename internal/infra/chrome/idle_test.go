package chrome

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleTracker_IdleImmediately(t *testing.T) {
	tr := newIdleTracker()
	start := time.Now()
	require.NoError(t, tr.wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestIdleTracker_WaitsForInflightRequests(t *testing.T) {
	tr := newIdleTracker()
	tr.start("1")
	tr.start("2")

	done := make(chan error, 1)
	go func() { done <- tr.wait(context.Background(), 20*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("wait returned while requests were in flight")
	default:
	}

	tr.finish("1")
	tr.finish("2")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after requests finished")
	}
}

func TestIdleTracker_ActivityRestartsQuietWindow(t *testing.T) {
	tr := newIdleTracker()
	quiet := 60 * time.Millisecond

	start := time.Now()
	go func() {
		time.Sleep(30 * time.Millisecond)
		tr.start("a")
		tr.finish("a")
	}()
	require.NoError(t, tr.wait(context.Background(), quiet))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond+quiet)
}

func TestIdleTracker_RedirectCountsOnce(t *testing.T) {
	tr := newIdleTracker()
	tr.start("r")
	tr.start("r")
	tr.finish("r")
	n, _ := tr.snapshot()
	assert.Zero(t, n)

	tr.finish("unknown")
	n, _ = tr.snapshot()
	assert.Zero(t, n)
}

func TestIdleTracker_DeadlineWhileBusy(t *testing.T) {
	tr := newIdleTracker()
	tr.start("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := tr.wait(ctx, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "1 request(s) in flight")
}

func TestIdleTracker_CancelDuringQuietWindow(t *testing.T) {
	tr := newIdleTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.wait(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
