// Package ledger counts renderer processes launched and terminated, so the
// no-leak invariant (launched == terminated once idle) can be observed.
package ledger

import (
	"context"
	"sync/atomic"
)

// Counts is a point-in-time view of the ledger.
type Counts struct {
	Launched   int64 `json:"launched"`
	Terminated int64 `json:"terminated"`
}

// Active is the number of processes launched but not yet terminated.
func (c Counts) Active() int64 { return c.Launched - c.Terminated }

// Ledger records process lifecycle events. Implementations must be safe for
// concurrent use and must not fail the caller.
type Ledger interface {
	Launched(ctx context.Context)
	Terminated(ctx context.Context)
	Snapshot(ctx context.Context) (Counts, error)
}

// Memory is a per-process ledger backed by atomics.
type Memory struct {
	launched   atomic.Int64
	terminated atomic.Int64
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Launched(context.Context) { m.launched.Add(1) }
func (m *Memory) Terminated(context.Context) { m.terminated.Add(1) }

func (m *Memory) Snapshot(context.Context) (Counts, error) {
	return Counts{Launched: m.launched.Load(), Terminated: m.terminated.Load()}, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Launched(context.Context) {}
func (Nop) Terminated(context.Context) {}
func (Nop) Snapshot(context.Context) (Counts, error) { return Counts{}, nil }
