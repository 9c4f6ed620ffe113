package integration

import (
	"context"
	"testing"
	"time"

	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/overlay"
	"github.com/ebalodis/faceframe/internal/pipeline"
	"github.com/ebalodis/faceframe/internal/record"
	"github.com/ebalodis/faceframe/internal/service"
	"github.com/ebalodis/faceframe/internal/source"
)

// buildSources constructs frame sources for every configured sensor
func buildSources(t *testing.T, env *TestEnvironment) []source.FrameSource {
	t.Helper()
	sources := make([]source.FrameSource, 0, len(env.Config.Sensors))
	for _, sc := range env.Config.Sensors {
		src, err := source.New(sc, env.Logger)
		if err != nil {
			t.Fatalf("Failed to build source %s: %v", sc.ID, err)
		}
		sources = append(sources, src)
	}
	return sources
}

// TestPipeline_EndToEnd runs the full chain from synthetic capture
// through inference, publication, overlay rendering and recording
func TestPipeline_EndToEnd(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := context.Background()

	engine := detect.NewFakeEngine()
	pipe, err := pipeline.New(env.Config.Pipeline, engine, buildSources(t, env), env.Logger)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	surface := overlay.NewImageSurface(env.Config.Overlay.Width, env.Config.Overlay.Height)
	renderer, err := overlay.NewRenderer(surface, pipe.Current, env.Logger)
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}

	recorder, err := record.NewRecorder(env.Config.Record, pipe.Current, env.Logger)
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}

	manager := service.NewManager(env.Logger)
	manager.Register(pipe)
	manager.Register(renderer)
	manager.Register(recorder)

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	}()

	// First publication
	if !WaitForCondition(5*time.Second, func() bool { return pipe.Current() != nil }) {
		t.Fatal("No detection set published")
	}

	set := pipe.Current()
	if set.SensorID != "back" {
		t.Errorf("Expected sensor 'back', got '%s'", set.SensorID)
	}
	if set.ImageWidth != 320 || set.ImageHeight != 240 {
		t.Errorf("Expected 320x240 image, got %dx%d", set.ImageWidth, set.ImageHeight)
	}
	if len(set.Detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(set.Detections))
	}

	// Overlay catches up with publications
	if !WaitForCondition(5*time.Second, func() bool { return renderer.Renders() > 0 }) {
		t.Fatal("Renderer never drew the published set")
	}
	snap := surface.Snapshot()
	drawn := false
	for _, v := range snap.Pix {
		if v != 0 {
			drawn = true
			break
		}
	}
	if !drawn {
		t.Error("Overlay surface is empty after rendering")
	}

	// Recorder persists publications
	if !WaitForCondition(5*time.Second, func() bool { return recorder.Saved() > 0 }) {
		t.Fatal("Recorder never saved a detection set")
	}
	records, total, err := recorder.Store().ListSets(ctx, record.ListOptions{})
	if err != nil {
		t.Fatalf("Failed to list recordings: %v", err)
	}
	if total == 0 || len(records) == 0 {
		t.Fatal("Expected at least one recording")
	}
	if records[0].SensorID != "back" {
		t.Errorf("Expected recording from 'back', got '%s'", records[0].SensorID)
	}
}

// TestPipeline_SensorSwitchEndToEnd switches sensors mid-stream and
// verifies the published geometry context follows
func TestPipeline_SensorSwitchEndToEnd(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := context.Background()

	engine := detect.NewFakeEngine()
	pipe, err := pipeline.New(env.Config.Pipeline, engine, buildSources(t, env), env.Logger)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	manager := service.NewManager(env.Logger)
	manager.Register(pipe)

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	if !WaitForCondition(5*time.Second, func() bool { return pipe.Current() != nil }) {
		t.Fatal("No detection set published")
	}
	beforeSeq := pipe.Current().Seq

	if err := pipe.SwitchSensor(ctx, "front"); err != nil {
		t.Fatalf("Failed to switch sensor: %v", err)
	}
	if pipe.ActiveSensor().ID != "front" {
		t.Errorf("Expected active sensor 'front', got '%s'", pipe.ActiveSensor().ID)
	}

	// Publications resume under the new sensor's identity
	if !WaitForCondition(5*time.Second, func() bool {
		set := pipe.Current()
		return set != nil && set.SensorID == "front"
	}) {
		t.Fatal("No publication from the new sensor")
	}

	set := pipe.Current()
	if set.Seq <= beforeSeq {
		t.Errorf("Sequence did not advance across switch: before=%d after=%d", beforeSeq, set.Seq)
	}
	if set.Facing != "front" {
		t.Errorf("Expected facing 'front', got '%s'", set.Facing)
	}

	stats := pipe.Stats()
	if stats.SensorSwitches != 1 {
		t.Errorf("Expected 1 sensor switch, got %d", stats.SensorSwitches)
	}
}

// TestRecorder_PersistsAcrossRestart verifies recordings survive process
// restarts by reopening the store on the same path
func TestRecorder_PersistsAcrossRestart(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := context.Background()

	engine := detect.NewFakeEngine()
	pipe, err := pipeline.New(env.Config.Pipeline, engine, buildSources(t, env), env.Logger)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	recorder, err := record.NewRecorder(env.Config.Record, pipe.Current, env.Logger)
	if err != nil {
		t.Fatalf("Failed to create recorder: %v", err)
	}

	manager := service.NewManager(env.Logger)
	manager.Register(pipe)
	manager.Register(recorder)

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}

	if !WaitForCondition(5*time.Second, func() bool { return recorder.Saved() > 0 }) {
		t.Fatal("Recorder never saved a detection set")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// Simulate a restart by opening a fresh store on the same database
	store, err := record.NewStore(env.Config.Record.DBPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store.Close()

	_, total, err := store.ListSets(ctx, record.ListOptions{})
	if err != nil {
		t.Fatalf("Failed to list recordings: %v", err)
	}
	if total == 0 {
		t.Fatal("Recordings did not survive the restart")
	}
}
