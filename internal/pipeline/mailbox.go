package pipeline

import (
	"sync"

	"github.com/ebalodis/faceframe/internal/frame"
)

// Mailbox is the single-slot handoff between a frame source and the
// pipeline goroutine. Put never blocks: an unconsumed frame is simply
// overwritten and counted, so the consumer always sees the most recent
// capture and nothing older ever queues up behind it.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *frame.Frame
	drops  uint64
	closed bool
}

// NewMailbox creates an empty mailbox
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put stores a frame, overwriting any unconsumed one. No-op after Close.
func (m *Mailbox) Put(f *frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.frame != nil {
		m.drops++
	}
	m.frame = f
	m.cond.Signal()
}

// Take blocks until a frame is available or the mailbox is closed. The
// second return value is false once closed. Single consumer only.
func (m *Mailbox) Take() (*frame.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return nil, false
	}

	f := m.frame
	m.frame = nil
	return f, true
}

// Drain discards any unconsumed frame. Used when the active sensor
// changes so a frame from the previous stream never reaches the new
// pipeline state.
func (m *Mailbox) Drain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = nil
}

// Drops returns the number of frames overwritten before consumption
func (m *Mailbox) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// Close wakes the consumer and makes further Take calls return false
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}
