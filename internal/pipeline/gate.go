package pipeline

import (
	"sync/atomic"
)

// Gate enforces the single-in-flight inference rule. A frame is admitted
// only when no cycle is running; everything else is dropped at arrival
// and counted. Dropping is the designed behavior under load, not an
// error, so the counters are the only trace besides debug logs.
type Gate struct {
	inFlight atomic.Bool
	admitted atomic.Uint64
	dropped  atomic.Uint64
}

// NewGate creates an open gate
func NewGate() *Gate {
	return &Gate{}
}

// TryAdmit claims the in-flight slot. Returns false, and counts a drop,
// when a cycle is already running.
func (g *Gate) TryAdmit() bool {
	if g.inFlight.CompareAndSwap(false, true) {
		g.admitted.Add(1)
		return true
	}
	g.dropped.Add(1)
	return false
}

// Release frees the in-flight slot after a cycle completes, whether it
// published or failed
func (g *Gate) Release() {
	g.inFlight.Store(false)
}

// Reset force-clears the in-flight slot. Called during a sensor switch,
// after the previous cycle has finished, so the first frame from the new
// stream is never refused.
func (g *Gate) Reset() {
	g.inFlight.Store(false)
}

// InFlight reports whether a cycle currently holds the slot
func (g *Gate) InFlight() bool {
	return g.inFlight.Load()
}

// Admitted returns the number of frames that entered a cycle
func (g *Gate) Admitted() uint64 {
	return g.admitted.Load()
}

// Dropped returns the number of frames refused while a cycle was running
func (g *Gate) Dropped() uint64 {
	return g.dropped.Load()
}
