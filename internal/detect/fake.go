package detect

import (
	"context"
	"sync"
	"time"

	"github.com/ebalodis/faceframe/internal/frame"
)

// FakeEngine is a deterministic in-process engine used by replay runs
// and tests. With no scripted results it reports one centered face
// covering the middle third of the image, with a fixed track identifier,
// so the full pipeline can be exercised without an inference sidecar.
type FakeEngine struct {
	mu       sync.Mutex
	results  []Detection
	scripted bool
	err      error
	delay    time.Duration
	calls    int
}

// NewFakeEngine creates a fake engine with the default centered result
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

// Name identifies the engine in logs and status output
func (e *FakeEngine) Name() string {
	return "fake"
}

// SetResult scripts the detections returned by subsequent calls
func (e *FakeEngine) SetResult(detections []Detection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = detections
	e.scripted = true
	e.err = nil
}

// Fail scripts an error for subsequent calls
func (e *FakeEngine) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// SetDelay makes each call block for d before returning
func (e *FakeEngine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// Calls reports how many Detect calls completed
func (e *FakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Detect returns the scripted result, the scripted error, or a centered
// default detection derived from the descriptor
func (e *FakeEngine) Detect(ctx context.Context, buf []byte, desc frame.ImageDescriptor) ([]Detection, error) {
	e.mu.Lock()
	delay := e.delay
	err := e.err
	scripted := e.scripted
	results := e.results
	e.calls++
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, err
	}
	if scripted {
		out := make([]Detection, len(results))
		copy(out, results)
		return out, nil
	}

	track := 1
	w := float64(desc.Width)
	h := float64(desc.Height)
	return []Detection{{
		Box:        Box{Left: w / 3, Top: h / 3, Right: 2 * w / 3, Bottom: 2 * h / 3},
		Confidence: 0.99,
		TrackID:    &track,
	}}, nil
}

// HealthCheck always succeeds for the fake engine
func (e *FakeEngine) HealthCheck(ctx context.Context) error {
	return nil
}
