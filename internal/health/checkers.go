package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/pipeline"
	"github.com/ebalodis/faceframe/internal/record"
)

// EngineChecker checks inference engine reachability
type EngineChecker struct {
	engine detect.Engine
}

func NewEngineChecker(engine detect.Engine) *EngineChecker {
	return &EngineChecker{engine: engine}
}

func (c *EngineChecker) Name() string {
	return "engine"
}

// Check reports degraded rather than unhealthy on engine failure: the
// pipeline keeps the last published detections and retries with the
// next frame, so the process stays useful.
func (c *EngineChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"engine": c.engine.Name()},
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.engine.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Engine unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Engine is reachable"
	return check
}

// StoreChecker checks recordings database connectivity
type StoreChecker struct {
	store *record.Store
}

func NewStoreChecker(store *record.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

func (c *StoreChecker) Name() string {
	return "store"
}

func (c *StoreChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"db_path": c.store.Path()},
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// PipelineChecker checks that frames are flowing
type PipelineChecker struct {
	stats      func() pipeline.StatsSnapshot
	staleAfter time.Duration
}

// NewPipelineChecker builds a checker over a stats provider. staleAfter
// is how long the frame stream may be silent before the check degrades;
// zero selects 10 seconds.
func NewPipelineChecker(stats func() pipeline.StatsSnapshot, staleAfter time.Duration) *PipelineChecker {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Second
	}
	return &PipelineChecker{stats: stats, staleAfter: staleAfter}
}

func (c *PipelineChecker) Name() string {
	return "pipeline"
}

func (c *PipelineChecker) Check(ctx context.Context) Check {
	snap := c.stats()
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"active_sensor":     snap.ActiveSensor,
			"frames_delivered":  snap.FramesDelivered,
			"cycles_published":  snap.CyclesPublished,
			"last_frame_age_ms": snap.LastFrameAgeMs,
		},
	}

	if snap.FramesDelivered == 0 {
		check.Status = StatusDegraded
		check.Message = "No frames delivered yet"
		return check
	}
	if time.Duration(snap.LastFrameAgeMs)*time.Millisecond > c.staleAfter {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Frame stream silent for %dms", snap.LastFrameAgeMs)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Frames are flowing"
	return check
}

// SystemChecker reports process-level runtime figures
type SystemChecker struct{}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Check{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "Process running",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"goroutines":     runtime.NumGoroutine(),
			"heap_alloc_mb":  mem.HeapAlloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"num_gc":         mem.NumGC,
		},
	}
}
