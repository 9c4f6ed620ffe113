package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ebalodis/faceframe/internal/config"
	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/logger"
	"github.com/ebalodis/faceframe/internal/service"
	"github.com/ebalodis/faceframe/internal/source"
)

// testSource hands the deliver callback to the test so frame arrival is
// fully deterministic
type testSource struct {
	sensor  source.Sensor
	mu      sync.Mutex
	deliver func(*frame.Frame)
	started bool
	stopped bool
}

func (s *testSource) Sensor() source.Sensor {
	return s.sensor
}

func (s *testSource) Start(ctx context.Context, deliver func(*frame.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = deliver
	s.started = true
	s.stopped = false
	return nil
}

func (s *testSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = nil
	s.stopped = true
	return nil
}

func (s *testSource) push(f *frame.Frame) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver != nil {
		deliver(f)
	}
}

func (s *testSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// unavailableEngine reports a healthy-looking API whose health check
// always fails
type unavailableEngine struct {
	detect.FakeEngine
}

func (e *unavailableEngine) HealthCheck(ctx context.Context) error {
	return fmt.Errorf("%w: engine offline", detect.ErrResourceUnavailable)
}

func makeFrame(sensorID string, w, h int) *frame.Frame {
	return &frame.Frame{
		Width:     w,
		Height:    h,
		Format:    frame.FormatGray8,
		Planes:    []frame.Plane{{Data: make([]byte, w*h), RowStride: w}},
		Timestamp: time.Now(),
		SensorID:  sensorID,
	}
}

func backSensor() source.Sensor {
	return source.Sensor{ID: "cam0", Label: "Back", Facing: frame.FacingBack, Rotation: 0}
}

func frontSensor() source.Sensor {
	return source.Sensor{ID: "cam1", Label: "Front", Facing: frame.FacingFront, Rotation: 180}
}

func newTestPipeline(t *testing.T, engine detect.Engine, sensors ...source.Sensor) (*Pipeline, *service.EventBus, map[string]*testSource) {
	t.Helper()

	srcs := make([]source.FrameSource, 0, len(sensors))
	byID := make(map[string]*testSource)
	for _, s := range sensors {
		ts := &testSource{sensor: s}
		srcs = append(srcs, ts)
		byID[s.ID] = ts
	}

	cfg := config.PipelineConfig{
		EngineTimeout: time.Second,
		StatsInterval: time.Hour,
	}
	p, err := New(cfg, engine, srcs, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	bus := service.NewEventBus(64)
	p.SetEventBus(bus)
	return p, bus, byID
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMailbox_PutTake(t *testing.T) {
	m := NewMailbox()
	f := makeFrame("cam0", 4, 4)

	m.Put(f)
	got, ok := m.Take()
	if !ok {
		t.Fatal("Take should succeed")
	}
	if got != f {
		t.Error("Take should return the stored frame")
	}
	if m.Drops() != 0 {
		t.Errorf("Expected 0 drops, got %d", m.Drops())
	}
}

func TestMailbox_OverwriteCountsDrop(t *testing.T) {
	m := NewMailbox()
	f1 := makeFrame("cam0", 4, 4)
	f2 := makeFrame("cam0", 4, 4)

	m.Put(f1)
	m.Put(f2)

	got, ok := m.Take()
	if !ok {
		t.Fatal("Take should succeed")
	}
	if got != f2 {
		t.Error("Take should return the most recent frame")
	}
	if m.Drops() != 1 {
		t.Errorf("Expected 1 drop, got %d", m.Drops())
	}
}

func TestMailbox_CloseUnblocksTake(t *testing.T) {
	m := NewMailbox()

	done := make(chan bool, 1)
	go func() {
		_, ok := m.Take()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	m.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Take should report closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not unblock on Close")
	}

	// Put after close is a no-op
	m.Put(makeFrame("cam0", 4, 4))
	if _, ok := m.Take(); ok {
		t.Error("Take after Close should report closed")
	}
}

func TestMailbox_Drain(t *testing.T) {
	m := NewMailbox()
	m.Put(makeFrame("cam0", 4, 4))
	m.Drain()

	done := make(chan bool, 1)
	go func() {
		_, ok := m.Take()
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("Take should block after Drain")
	case <-time.After(50 * time.Millisecond):
	}
	m.Close()
}

func TestGate_AdmitRelease(t *testing.T) {
	g := NewGate()

	if !g.TryAdmit() {
		t.Fatal("First admission should succeed")
	}
	if !g.InFlight() {
		t.Error("Gate should report in flight")
	}
	if g.TryAdmit() {
		t.Error("Second admission should fail while in flight")
	}

	g.Release()
	if g.InFlight() {
		t.Error("Gate should be free after Release")
	}
	if !g.TryAdmit() {
		t.Error("Admission should succeed after Release")
	}

	if g.Admitted() != 2 {
		t.Errorf("Expected 2 admitted, got %d", g.Admitted())
	}
	if g.Dropped() != 1 {
		t.Errorf("Expected 1 dropped, got %d", g.Dropped())
	}
}

func TestGate_SingleAdmission(t *testing.T) {
	g := NewGate()

	const workers = 32
	var wg sync.WaitGroup
	admitted := make(chan int, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if g.TryAdmit() {
				admitted <- n
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 1 {
		t.Errorf("Exactly one admission expected, got %d", count)
	}
	if g.Dropped() != workers-1 {
		t.Errorf("Expected %d drops, got %d", workers-1, g.Dropped())
	}
}

func TestState_ResetComputesRotation(t *testing.T) {
	tests := []struct {
		name         string
		sensor       source.Sensor
		compensation bool
		want         int
	}{
		{"back 90", source.Sensor{ID: "a", Facing: frame.FacingBack, Rotation: 90}, true, 90},
		{"front 90 compensated", source.Sensor{ID: "b", Facing: frame.FacingFront, Rotation: 90}, true, 180},
		{"front 270 wraps", source.Sensor{ID: "c", Facing: frame.FacingFront, Rotation: 270}, true, 0},
		{"front 90 compensation off", source.Sensor{ID: "d", Facing: frame.FacingFront, Rotation: 90}, false, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(tt.compensation)
			s.Reset(tt.sensor)
			if got := s.Rotation(); got != tt.want {
				t.Errorf("Expected rotation %d, got %d", tt.want, got)
			}
			if s.Sensor().ID != tt.sensor.ID {
				t.Errorf("Expected sensor %s, got %s", tt.sensor.ID, s.Sensor().ID)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	log := logger.NewNopLogger()
	src := &testSource{sensor: backSensor()}

	if _, err := New(config.PipelineConfig{}, nil, []source.FrameSource{src}, log); err == nil {
		t.Error("New should fail without an engine")
	}

	if _, err := New(config.PipelineConfig{}, detect.NewFakeEngine(), nil, log); err == nil {
		t.Error("New should fail without sensors")
	}

	dup := []source.FrameSource{src, &testSource{sensor: backSensor()}}
	if _, err := New(config.PipelineConfig{}, detect.NewFakeEngine(), dup, log); err == nil {
		t.Error("New should fail on duplicate sensor ids")
	}
}

func TestPipeline_PublishesDetections(t *testing.T) {
	engine := detect.NewFakeEngine()
	p, bus, sources := newTestPipeline(t, engine, backSensor())

	events := bus.Subscribe(service.EventTypeDetections)
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	if p.Current() != nil {
		t.Error("No DetectionSet should be published before the first cycle")
	}

	sources["cam0"].push(makeFrame("cam0", 1280, 720))

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("No detections event published")
	}

	set := p.Current()
	if set == nil {
		t.Fatal("Current should return the published set")
	}
	if set.SensorID != "cam0" {
		t.Errorf("Expected sensor cam0, got %s", set.SensorID)
	}
	if set.Facing != frame.FacingBack {
		t.Errorf("Expected back facing, got %s", set.Facing)
	}
	if set.ImageWidth != 1280 || set.ImageHeight != 720 {
		t.Errorf("Expected 1280x720, got %dx%d", set.ImageWidth, set.ImageHeight)
	}
	if set.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", set.Seq)
	}
	if len(set.Detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(set.Detections))
	}

	// A second cycle replaces the set and advances the sequence
	sources["cam0"].push(makeFrame("cam0", 1280, 720))
	waitFor(t, func() bool { return p.Stats().CyclesPublished == 2 }, "second cycle never published")

	if p.Current().Seq != 2 {
		t.Errorf("Expected seq 2 after second cycle, got %d", p.Current().Seq)
	}
}

func TestPipeline_DropsWhileBusy(t *testing.T) {
	engine := detect.NewFakeEngine()
	engine.SetDelay(150 * time.Millisecond)
	p, _, sources := newTestPipeline(t, engine, backSensor())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	for i := 0; i < 5; i++ {
		sources["cam0"].push(makeFrame("cam0", 640, 480))
	}

	waitFor(t, func() bool { return p.Stats().CyclesPublished == 1 }, "first cycle never published")

	stats := p.Stats()
	if stats.FramesDelivered != 5 {
		t.Errorf("Expected 5 delivered, got %d", stats.FramesDelivered)
	}
	if stats.FramesDroppedBusy != 4 {
		t.Errorf("Expected 4 dropped while busy, got %d", stats.FramesDroppedBusy)
	}
	if stats.CyclesPublished != 1 {
		t.Errorf("Expected 1 published, got %d", stats.CyclesPublished)
	}
	if engine.Calls() != 1 {
		t.Errorf("Engine should see exactly 1 call, got %d", engine.Calls())
	}
}

func TestPipeline_FailureRetainsPrevious(t *testing.T) {
	engine := detect.NewFakeEngine()
	p, _, sources := newTestPipeline(t, engine, backSensor())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	sources["cam0"].push(makeFrame("cam0", 640, 480))
	waitFor(t, func() bool { return p.Stats().CyclesPublished == 1 }, "first cycle never published")
	first := p.Current()

	engine.Fail(errors.New("model crashed"))
	sources["cam0"].push(makeFrame("cam0", 640, 480))
	waitFor(t, func() bool { return p.Stats().InferenceFailures == 1 }, "failure never recorded")

	if p.Current() != first {
		t.Error("Failed cycle must leave the previous DetectionSet in place")
	}
	if p.Stats().CyclesPublished != 1 {
		t.Errorf("Expected 1 published after failure, got %d", p.Stats().CyclesPublished)
	}

	// The next frame is the retry; recovery needs no special handling
	engine.SetResult(nil)
	sources["cam0"].push(makeFrame("cam0", 640, 480))
	waitFor(t, func() bool { return p.Stats().CyclesPublished == 2 }, "recovery cycle never published")

	if p.Current().Seq != 2 {
		t.Errorf("Expected seq 2 after recovery, got %d", p.Current().Seq)
	}
	if len(p.Current().Detections) != 0 {
		t.Errorf("Expected empty detections, got %d", len(p.Current().Detections))
	}
}

func TestPipeline_InvalidFrameSkipsCycle(t *testing.T) {
	engine := detect.NewFakeEngine()
	p, _, sources := newTestPipeline(t, engine, backSensor())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	sources["cam0"].push(&frame.Frame{SensorID: "cam0", Timestamp: time.Now()})
	waitFor(t, func() bool { return p.Stats().InvalidFrames == 1 }, "invalid frame never recorded")

	if p.Current() != nil {
		t.Error("Invalid frame must not publish a DetectionSet")
	}
	if engine.Calls() != 0 {
		t.Errorf("Invalid frame must not reach the engine, got %d calls", engine.Calls())
	}

	// The pipeline keeps going: a valid frame publishes normally
	sources["cam0"].push(makeFrame("cam0", 640, 480))
	waitFor(t, func() bool { return p.Stats().CyclesPublished == 1 }, "cycle after invalid frame never published")
}

func TestPipeline_SwitchSensor(t *testing.T) {
	engine := detect.NewFakeEngine()
	p, bus, sources := newTestPipeline(t, engine, backSensor(), frontSensor())

	switched := bus.Subscribe(service.EventTypeSensorSwitched)
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	if p.ActiveSensor().ID != "cam0" {
		t.Fatalf("Expected cam0 active, got %s", p.ActiveSensor().ID)
	}
	if p.Stats().EffectiveRotation != 0 {
		t.Errorf("Expected rotation 0 for back sensor, got %d", p.Stats().EffectiveRotation)
	}

	sources["cam0"].push(makeFrame("cam0", 1280, 720))
	waitFor(t, func() bool { return p.Stats().CyclesPublished == 1 }, "first cycle never published")
	stale := p.Current()

	if err := p.SwitchSensor(ctx, "cam1"); err != nil {
		t.Fatalf("SwitchSensor failed: %v", err)
	}

	if !sources["cam0"].isStopped() {
		t.Error("Previous source should be stopped after switch")
	}
	if p.ActiveSensor().ID != "cam1" {
		t.Errorf("Expected cam1 active, got %s", p.ActiveSensor().ID)
	}
	// Front sensor at 180 picks up the +90 compensation
	if p.Stats().EffectiveRotation != 270 {
		t.Errorf("Expected rotation 270 after switch, got %d", p.Stats().EffectiveRotation)
	}
	if p.Current() != stale {
		t.Error("Previous DetectionSet should stay visible across the switch")
	}

	select {
	case ev := <-switched:
		if ev.Data["to"] != "cam1" {
			t.Errorf("Expected switch event to cam1, got %v", ev.Data["to"])
		}
	case <-time.After(time.Second):
		t.Fatal("No sensor switch event published")
	}

	sources["cam1"].push(makeFrame("cam1", 640, 480))
	waitFor(t, func() bool { return p.Stats().CyclesPublished == 2 }, "cycle on new sensor never published")

	set := p.Current()
	if set.SensorID != "cam1" {
		t.Errorf("Expected sensor cam1, got %s", set.SensorID)
	}
	if set.Facing != frame.FacingFront {
		t.Errorf("Expected front facing, got %s", set.Facing)
	}
	if set.Seq != 2 {
		t.Errorf("Sequence should keep rising across switches, got %d", set.Seq)
	}
}

func TestPipeline_SwitchSensor_Unknown(t *testing.T) {
	engine := detect.NewFakeEngine()
	p, _, _ := newTestPipeline(t, engine, backSensor())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	if err := p.SwitchSensor(ctx, "cam9"); err == nil {
		t.Error("Switch to an unknown sensor should fail")
	}
	if p.ActiveSensor().ID != "cam0" {
		t.Errorf("Active sensor should be unchanged, got %s", p.ActiveSensor().ID)
	}
}

func TestPipeline_SwitchSensor_Same(t *testing.T) {
	engine := detect.NewFakeEngine()
	p, _, sources := newTestPipeline(t, engine, backSensor())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	if err := p.SwitchSensor(ctx, "cam0"); err != nil {
		t.Fatalf("Switch to the active sensor should be a no-op: %v", err)
	}
	if sources["cam0"].isStopped() {
		t.Error("Active source should not be stopped by a same-sensor switch")
	}
	if p.Stats().SensorSwitches != 0 {
		t.Errorf("Same-sensor switch should not count, got %d", p.Stats().SensorSwitches)
	}
}

func TestPipeline_MismatchedFrameDiscarded(t *testing.T) {
	engine := detect.NewFakeEngine()
	p, _, _ := newTestPipeline(t, engine, backSensor(), frontSensor())

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(ctx)

	if err := p.SwitchSensor(ctx, "cam1"); err != nil {
		t.Fatalf("SwitchSensor failed: %v", err)
	}

	// A straggler from the old stream arrives after the switch
	p.deliver(makeFrame("cam0", 640, 480))
	waitFor(t, func() bool { return p.Stats().SensorMismatches == 1 }, "mismatch never recorded")

	if engine.Calls() != 0 {
		t.Errorf("Mismatched frame must not reach the engine, got %d calls", engine.Calls())
	}
	if p.Current() != nil {
		t.Error("Mismatched frame must not publish")
	}
}

func TestPipeline_StartFailsWhenEngineUnavailable(t *testing.T) {
	engine := &unavailableEngine{}
	p, bus, _ := newTestPipeline(t, engine, backSensor())

	unavailable := bus.Subscribe(service.EventTypeEngineUnavailable)

	err := p.Start(context.Background())
	if err == nil {
		p.Stop(context.Background())
		t.Fatal("Start should fail when the engine is unavailable")
	}
	if !errors.Is(err, detect.ErrResourceUnavailable) {
		t.Errorf("Expected ErrResourceUnavailable, got %v", err)
	}

	select {
	case <-unavailable:
	case <-time.After(time.Second):
		t.Fatal("No engine unavailable event published")
	}
}
