package overlay

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/logger"
	"github.com/ebalodis/faceframe/internal/service"
)

// labelOffset is the vertical distance between a box's top edge and its
// label baseline, in render-surface units
const labelOffset = 20

// palette colors boxes per track so the same face keeps its color
// across frames. Untracked detections are colored by list position.
var palette = []color.RGBA{
	{R: 0x4C, G: 0xAF, B: 0x50, A: 0xFF}, // green
	{R: 0x21, G: 0x96, B: 0xF3, A: 0xFF}, // blue
	{R: 0xFF, G: 0xC1, B: 0x07, A: 0xFF}, // amber
	{R: 0xE9, G: 0x1E, B: 0x63, A: 0xFF}, // pink
	{R: 0x00, G: 0xBC, B: 0xD4, A: 0xFF}, // cyan
	{R: 0xFF, G: 0x98, B: 0x00, A: 0xFF}, // orange
}

// Renderer draws the active DetectionSet onto a Surface. It re-renders
// only when a new set is published, the sensor switches, or the surface
// is resized; raw frame delivery never triggers drawing.
//
// The detection provider decouples the renderer from the pipeline: the
// renderer always pulls the latest published set at draw time, so a set
// announced by event and the set actually drawn can differ by at most
// one publication, never by a half-updated value.
type Renderer struct {
	*service.ServiceBase

	surface Surface
	current func() *detect.DetectionSet

	renderMu sync.Mutex
	renders  atomic.Uint64
	skipped  atomic.Uint64

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRenderer creates a renderer drawing onto surface. current returns
// the latest published DetectionSet, or nil before the first one.
func NewRenderer(surface Surface, current func() *detect.DetectionSet, log *logger.Logger) (*Renderer, error) {
	if surface == nil {
		return nil, fmt.Errorf("renderer requires a surface")
	}
	if current == nil {
		return nil, fmt.Errorf("renderer requires a detection provider")
	}

	return &Renderer{
		ServiceBase: service.NewServiceBase("renderer", log),
		surface:     surface,
		current:     current,
	}, nil
}

// Start subscribes to the events that trigger re-rendering and draws
// the initial (usually empty) overlay
func (r *Renderer) Start(ctx context.Context) error {
	r.GetStatus().SetStatus(service.StatusStarting)
	r.runCtx, r.cancel = context.WithCancel(context.Background())

	if bus := r.GetEventBus(); bus != nil {
		detections := bus.Subscribe(service.EventTypeDetections)
		switched := bus.Subscribe(service.EventTypeSensorSwitched)
		r.wg.Add(1)
		go r.watch(detections, switched)
	}

	r.Render()

	width, height := r.surface.Size()
	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("Overlay renderer started", "width", width, "height", height)
	return nil
}

// Stop stops the event watcher
func (r *Renderer) Stop(ctx context.Context) error {
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

	r.GetStatus().SetStatus(service.StatusStopped)
	r.LogInfo("Overlay renderer stopped", "renders", r.renders.Load())
	return nil
}

// watch re-renders on every event that can change what the overlay
// should show
func (r *Renderer) watch(detections, switched <-chan service.Event) {
	defer r.wg.Done()

	for {
		select {
		case <-r.runCtx.Done():
			return
		case _, ok := <-detections:
			if !ok {
				return
			}
			r.Render()
		case _, ok := <-switched:
			if !ok {
				return
			}
			r.Render()
		}
	}
}

// Render draws the active DetectionSet onto the surface. Rendering is
// idempotent: drawing the same set twice produces identical content.
// The coordinate transform is derived fresh on every pass so surface
// resizes take effect immediately.
func (r *Renderer) Render() {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()

	set := r.current()
	if set == nil {
		r.surface.Clear()
		return
	}

	width, height := r.surface.Size()
	tr, err := NewTransform(set.ImageWidth, set.ImageHeight, set.Facing, width, height)
	if err != nil {
		// Keep the previous overlay on screen rather than drawing garbage
		r.skipped.Add(1)
		r.LogWarn("Skipping overlay render", "error", err, "seq", set.Seq)
		return
	}

	r.surface.Clear()
	for i, d := range set.Detections {
		col := detectionColor(d, i)
		rect := tr.MapBox(d.Box)
		r.surface.StrokeRect(rect, col)

		for _, lm := range d.Landmarks {
			x, y := tr.MapPoint(lm.X, lm.Y)
			r.surface.MarkPoint(x, y, col)
		}

		if d.TrackID != nil {
			r.surface.DrawLabel(fmt.Sprintf("face %d", *d.TrackID), rect.Left, rect.Top-labelOffset, col)
		}
	}

	r.renders.Add(1)
	r.PublishEvent(service.EventTypeOverlayRendered, map[string]interface{}{
		"seq":   set.Seq,
		"count": len(set.Detections),
	})
}

// Resize changes the render surface size and redraws immediately
func (r *Renderer) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: render surface %dx%d", ErrDegenerateGeometry, width, height)
	}

	r.surface.Resize(width, height)
	r.Render()

	r.PublishEvent(service.EventTypeSurfaceResized, map[string]interface{}{
		"width":  width,
		"height": height,
	})
	r.LogInfo("Render surface resized", "width", width, "height", height)
	return nil
}

// Renders returns how many render passes have completed
func (r *Renderer) Renders() uint64 {
	return r.renders.Load()
}

// Skipped returns how many sets were skipped for degenerate geometry
func (r *Renderer) Skipped() uint64 {
	return r.skipped.Load()
}

func detectionColor(d detect.Detection, index int) color.RGBA {
	if d.TrackID != nil {
		id := *d.TrackID
		if id < 0 {
			id = -id
		}
		return palette[id%len(palette)]
	}
	return palette[index%len(palette)]
}
