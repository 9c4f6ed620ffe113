package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebalodis/faceframe/internal/config"
	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/logger"
	"github.com/ebalodis/faceframe/internal/service"
	"github.com/ebalodis/faceframe/internal/source"
)

// Pipeline runs the capture-to-detection loop for the active sensor.
//
// One frame at a time moves through admission, assembly and inference.
// Frames arriving while a cycle is running are dropped at the gate, so
// the engine always works on the freshest capture and latency cannot
// accumulate. A successful cycle atomically replaces the published
// DetectionSet; a failed one leaves the previous set in place and the
// next frame is the retry.
type Pipeline struct {
	*service.ServiceBase
	cfg       config.PipelineConfig
	engine    detect.Engine
	assembler *frame.Assembler
	sources   map[string]source.FrameSource
	order     []string
	mailbox   *Mailbox
	gate      *Gate
	state     *State
	stats     counters
	seq       atomic.Uint64
	current   atomic.Pointer[detect.DetectionSet]

	switchMu sync.Mutex // serializes sensor switches
	cycleMu  sync.Mutex // held for the duration of one processing cycle

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline over the given sensors. The first sensor in the
// slice becomes active at Start.
func New(cfg config.PipelineConfig, engine detect.Engine, sources []source.FrameSource, log *logger.Logger) (*Pipeline, error) {
	if engine == nil {
		return nil, fmt.Errorf("pipeline requires an engine")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one sensor")
	}

	p := &Pipeline{
		ServiceBase: service.NewServiceBase("pipeline", log),
		cfg:         cfg,
		engine:      engine,
		assembler:   frame.NewAssembler(),
		sources:     make(map[string]source.FrameSource),
		mailbox:     NewMailbox(),
		gate:        NewGate(),
		state:       NewState(!cfg.DisableFrontCompensation),
	}

	for _, src := range sources {
		id := src.Sensor().ID
		if _, dup := p.sources[id]; dup {
			return nil, fmt.Errorf("duplicate sensor id: %s", id)
		}
		p.sources[id] = src
		p.order = append(p.order, id)
	}

	return p, nil
}

// Start verifies the engine, selects the first sensor and begins
// processing frames
func (p *Pipeline) Start(ctx context.Context) error {
	p.GetStatus().SetStatus(service.StatusStarting)

	hctx, hcancel := context.WithTimeout(ctx, 5*time.Second)
	defer hcancel()
	if err := p.engine.HealthCheck(hctx); err != nil {
		p.GetStatus().SetError(err)
		p.PublishEvent(service.EventTypeEngineUnavailable, map[string]interface{}{
			"engine": p.engine.Name(),
			"error":  err.Error(),
		})
		return fmt.Errorf("engine not ready: %w", err)
	}

	p.runCtx, p.cancel = context.WithCancel(context.Background())

	first := p.sources[p.order[0]]
	p.state.Reset(first.Sensor())

	if err := first.Start(p.runCtx, p.deliver); err != nil {
		p.cancel()
		p.GetStatus().SetError(err)
		return fmt.Errorf("starting sensor %s: %w", first.Sensor().ID, err)
	}

	p.wg.Add(1)
	go p.run()
	if p.cfg.StatsInterval > 0 {
		p.wg.Add(1)
		go p.logStats()
	}

	p.GetStatus().SetStatus(service.StatusRunning)
	p.LogInfo("Pipeline started",
		"sensor_id", first.Sensor().ID,
		"effective_rotation", p.state.Rotation(),
		"engine", p.engine.Name(),
	)
	return nil
}

// Stop halts frame delivery and waits for the processing loop to drain
func (p *Pipeline) Stop(ctx context.Context) error {
	p.GetStatus().SetStatus(service.StatusStopping)

	active := p.state.Sensor()
	if src, ok := p.sources[active.ID]; ok {
		if err := src.Stop(ctx); err != nil {
			p.LogError("Failed to stop frame source", err, "sensor_id", active.ID)
		}
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.mailbox.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.GetStatus().SetStatus(service.StatusStopped)
		return ctx.Err()
	}

	p.GetStatus().SetStatus(service.StatusStopped)
	p.LogInfo("Pipeline stopped")
	return nil
}

// deliver is the frame arrival path, called from the source's goroutine.
// It must stay cheap: count, admit or drop, hand off.
func (p *Pipeline) deliver(f *frame.Frame) {
	p.stats.delivered.Add(1)
	p.stats.lastFrameNanos.Store(time.Now().UnixNano())

	if !p.gate.TryAdmit() {
		p.LogDebug("Frame dropped, cycle in flight", "sensor_id", f.SensorID)
		return
	}
	p.mailbox.Put(f)
}

// run consumes admitted frames until the mailbox closes
func (p *Pipeline) run() {
	defer p.wg.Done()

	for {
		f, ok := p.mailbox.Take()
		if !ok {
			return
		}
		p.runCycle(f)
	}
}

// runCycle processes one admitted frame end to end
func (p *Pipeline) runCycle(f *frame.Frame) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	defer p.gate.Release()

	sensor, rotation := p.state.Snapshot()
	if f.SensorID != sensor.ID {
		// Frame admitted before a switch; its geometry belongs to the
		// previous sensor and must not reach the engine.
		p.stats.sensorMismatches.Add(1)
		p.PublishEvent(service.EventTypeCycleSkipped, map[string]interface{}{
			"reason":        "sensor_mismatch",
			"frame_sensor":  f.SensorID,
			"active_sensor": sensor.ID,
		})
		return
	}

	buf, desc, err := p.assembler.Assemble(f, rotation)
	if err != nil {
		p.stats.invalidFrames.Add(1)
		p.LogWarn("Skipping invalid frame", "sensor_id", f.SensorID, "error", err)
		return
	}
	defer p.assembler.Release(buf)

	ctx, cancel := context.WithTimeout(p.runCtx, p.cfg.EngineTimeout)
	defer cancel()

	start := time.Now()
	detections, err := p.engine.Detect(ctx, buf, desc)
	latency := time.Since(start)
	if err != nil {
		p.stats.inferenceFailures.Add(1)
		p.LogWarn("Inference failed, retaining previous detections",
			"sensor_id", sensor.ID,
			"error", err,
			"latency_ms", latency.Milliseconds(),
		)
		return
	}

	set := &detect.DetectionSet{
		Detections:  detections,
		ImageWidth:  f.Width,
		ImageHeight: f.Height,
		Facing:      sensor.Facing,
		SensorID:    sensor.ID,
		Seq:         p.seq.Add(1),
		Timestamp:   time.Now(),
		Latency:     latency,
	}
	p.current.Store(set)
	p.stats.published.Add(1)
	p.stats.lastLatencyMs.Store(latency.Milliseconds())

	p.PublishEvent(service.EventTypeDetections, map[string]interface{}{
		"sensor_id":  set.SensorID,
		"seq":        set.Seq,
		"count":      len(set.Detections),
		"latency_ms": latency.Milliseconds(),
	})
}

// SwitchSensor stops the active sensor, resets pipeline state and starts
// the named one. The previously published DetectionSet stays visible
// until the new sensor's first successful cycle replaces it.
func (p *Pipeline) SwitchSensor(ctx context.Context, id string) error {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	next, ok := p.sources[id]
	if !ok {
		return fmt.Errorf("unknown sensor: %s", id)
	}
	active := p.state.Sensor()
	if active.ID == id {
		return nil
	}

	if src, ok := p.sources[active.ID]; ok {
		if err := src.Stop(ctx); err != nil {
			return fmt.Errorf("stopping sensor %s: %w", active.ID, err)
		}
	}

	// Wait out any cycle already running, then clear everything the old
	// stream left behind before the new one delivers its first frame.
	p.cycleMu.Lock()
	p.mailbox.Drain()
	p.gate.Reset()
	p.state.Reset(next.Sensor())
	p.cycleMu.Unlock()

	if err := next.Start(p.runCtx, p.deliver); err != nil {
		if src, ok := p.sources[active.ID]; ok {
			p.state.Reset(src.Sensor())
			if rerr := src.Start(p.runCtx, p.deliver); rerr != nil {
				p.LogError("Failed to restore previous sensor", rerr, "sensor_id", active.ID)
			}
		}
		return fmt.Errorf("starting sensor %s: %w", id, err)
	}

	p.stats.switches.Add(1)
	_, rotation := p.state.Snapshot()
	p.LogInfo("Sensor switched", "from", active.ID, "to", id, "effective_rotation", rotation)
	p.PublishEvent(service.EventTypeSensorSwitched, map[string]interface{}{
		"from":               active.ID,
		"to":                 id,
		"effective_rotation": rotation,
	})
	return nil
}

// Current returns the most recently published DetectionSet, or nil
// before the first successful cycle
func (p *Pipeline) Current() *detect.DetectionSet {
	return p.current.Load()
}

// ActiveSensor returns the sensor currently feeding the pipeline
func (p *Pipeline) ActiveSensor() source.Sensor {
	return p.state.Sensor()
}

// Sensors lists all configured sensors in configuration order
func (p *Pipeline) Sensors() []source.Sensor {
	out := make([]source.Sensor, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.sources[id].Sensor())
	}
	return out
}

// Stats assembles a snapshot of the pipeline counters
func (p *Pipeline) Stats() StatsSnapshot {
	sensor, rotation := p.state.Snapshot()
	snap := StatsSnapshot{
		ActiveSensor:      sensor.ID,
		EffectiveRotation: rotation,
		Engine:            p.engine.Name(),
		FramesDelivered:   p.stats.delivered.Load(),
		FramesDroppedBusy: p.gate.Dropped(),
		MailboxOverwrites: p.mailbox.Drops(),
		InvalidFrames:     p.stats.invalidFrames.Load(),
		CyclesPublished:   p.stats.published.Load(),
		InferenceFailures: p.stats.inferenceFailures.Load(),
		SensorMismatches:  p.stats.sensorMismatches.Load(),
		SensorSwitches:    p.stats.switches.Load(),
		LastLatencyMs:     p.stats.lastLatencyMs.Load(),
	}
	if n := p.stats.lastFrameNanos.Load(); n > 0 {
		snap.LastFrameAgeMs = time.Since(time.Unix(0, n)).Milliseconds()
	}
	return snap
}

// logStats logs a stats snapshot at the configured interval
func (p *Pipeline) logStats() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.runCtx.Done():
			return
		case <-ticker.C:
			s := p.Stats()
			p.LogInfo("Pipeline stats",
				"sensor_id", s.ActiveSensor,
				"delivered", s.FramesDelivered,
				"dropped_busy", s.FramesDroppedBusy,
				"published", s.CyclesPublished,
				"failures", s.InferenceFailures,
				"last_latency_ms", s.LastLatencyMs,
			)
		}
	}
}
