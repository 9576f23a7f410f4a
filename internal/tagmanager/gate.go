package tagmanager

import (
	"context"
	"sync"
)

// Readiness reports whether the tag runtime can accept pushes right now.
type Readiness interface {
	Ready() bool
}

type neverReady struct{}

func (neverReady) Ready() bool { return false }

// NeverReady is the Readiness used when none is supplied: nothing is pushed
// and syncs stay parked.
var NeverReady Readiness = neverReady{}

// Gate is the readiness capability shared between the application shell,
// which owns the runtime's lifecycle, and the consent synchronizer.
//
// Invariant: subscribers run once per not-ready → ready transition, outside
// the gate's lock, in subscription order.
type Gate struct {
	mu          sync.Mutex
	ready       bool
	subscribers []func(ctx context.Context)
}

func NewGate() *Gate {
	return &Gate{}
}

// Ready implements Readiness.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// MarkReady flips the gate to ready. It reports whether this call caused
// the transition; subscribers are only notified when it did.
func (g *Gate) MarkReady(ctx context.Context) bool {
	g.mu.Lock()
	if g.ready {
		g.mu.Unlock()
		return false
	}
	g.ready = true
	subscribers := make([]func(ctx context.Context), len(g.subscribers))
	copy(subscribers, g.subscribers)
	g.mu.Unlock()

	for _, fn := range subscribers {
		fn(ctx)
	}
	return true
}

// Reset marks the runtime as gone. A later MarkReady notifies again.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready = false
}

// Subscribe registers fn for readiness transitions.
func (g *Gate) Subscribe(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers = append(g.subscribers, fn)
}
