package chrome

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// idleTracker counts in-flight network requests of one page. Long-lived
// streams (WebSocket, EventSource) are never tracked since they would keep
// the page busy forever.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	changed  chan struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{inflight: make(map[string]struct{}), changed: make(chan struct{})}
}

// start registers a request. Redirects reuse the id and count once.
func (t *idleTracker) start(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.notify()
}

func (t *idleTracker) finish(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.notify()
}

// notify wakes every waiter. Callers hold mu.
func (t *idleTracker) notify() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *idleTracker) snapshot() (int, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight), t.changed
}

// wait returns once no request has been in flight for quiet, or ctx ends.
func (t *idleTracker) wait(ctx context.Context, quiet time.Duration) error {
	for {
		n, changed := t.snapshot()
		if n > 0 {
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return fmt.Errorf("network not idle, %d request(s) in flight: %w", n, ctx.Err())
			}
		}

		timer := time.NewTimer(quiet)
		select {
		case <-timer.C:
			return nil
		case <-changed:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("network not idle: %w", ctx.Err())
		}
	}
}
