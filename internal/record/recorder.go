package record

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebalodis/faceframe/internal/config"
	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/logger"
	"github.com/ebalodis/faceframe/internal/service"
)

// Recorder persists published DetectionSets for later review. It
// subscribes to the publication event and pulls the latest set from the
// provider, so a burst of publications may collapse into one save; the
// sequence guard keeps duplicates out.
type Recorder struct {
	*service.ServiceBase

	cfg     config.RecordConfig
	store   *Store
	current func() *detect.DetectionSet

	lastSeq atomic.Uint64
	saved   atomic.Uint64
	pruned  atomic.Uint64

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRecorder opens the detection database and creates the recorder.
// current returns the latest published DetectionSet, or nil before the
// first one.
func NewRecorder(cfg config.RecordConfig, current func() *detect.DetectionSet, log *logger.Logger) (*Recorder, error) {
	if current == nil {
		return nil, fmt.Errorf("recorder requires a detection provider")
	}

	store, err := NewStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		ServiceBase: service.NewServiceBase("recorder", log),
		cfg:         cfg,
		store:       store,
		current:     current,
	}, nil
}

// Store returns the underlying store for queries
func (r *Recorder) Store() *Store {
	return r.store
}

// Start subscribes to publication events and starts the retention loop
func (r *Recorder) Start(ctx context.Context) error {
	r.GetStatus().SetStatus(service.StatusStarting)
	r.runCtx, r.cancel = context.WithCancel(context.Background())

	if bus := r.GetEventBus(); bus != nil {
		detections := bus.Subscribe(service.EventTypeDetections)
		r.wg.Add(1)
		go r.watch(detections)
	}

	r.wg.Add(1)
	go r.pruneLoop()

	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("Detection recorder started", "db_path", r.cfg.DBPath, "retain_days", r.cfg.RetainDays)
	return nil
}

// Stop stops the recorder and closes the database
func (r *Recorder) Stop(ctx context.Context) error {
	r.GetStatus().SetStatus(service.StatusStopping)

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := r.store.Close()
	r.GetStatus().SetStatus(service.StatusStopped)
	r.LogInfo("Detection recorder stopped", "saved", r.saved.Load())
	return err
}

func (r *Recorder) watch(detections <-chan service.Event) {
	defer r.wg.Done()

	for {
		select {
		case <-r.runCtx.Done():
			return
		case _, ok := <-detections:
			if !ok {
				return
			}
			r.record()
		}
	}
}

func (r *Recorder) record() {
	set := r.current()
	if set == nil || set.Seq <= r.lastSeq.Load() {
		return
	}
	r.lastSeq.Store(set.Seq)

	ctx, cancel := context.WithTimeout(r.runCtx, 5*time.Second)
	defer cancel()

	if _, err := r.store.SaveSet(ctx, set); err != nil {
		r.LogWarn("Failed to save detection set", "seq", set.Seq, "error", err)
		return
	}
	r.saved.Add(1)
}

// pruneLoop enforces the retention window. It runs once at startup so
// restarts don't accumulate stale rows, then hourly.
func (r *Recorder) pruneLoop() {
	defer r.wg.Done()

	r.prune()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-r.runCtx.Done():
			return
		case <-ticker.C:
			r.prune()
		}
	}
}

func (r *Recorder) prune() {
	retain := time.Duration(r.cfg.RetainDays) * 24 * time.Hour
	if retain <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(r.runCtx, 30*time.Second)
	defer cancel()

	removed, err := r.store.Prune(ctx, retain)
	if err != nil {
		r.LogWarn("Failed to prune old detection sets", "error", err)
		return
	}
	if removed > 0 {
		r.pruned.Add(uint64(removed))
		r.LogInfo("Pruned old detection sets", "removed", removed)
	}
}

// Saved returns how many sets have been persisted
func (r *Recorder) Saved() uint64 {
	return r.saved.Load()
}
