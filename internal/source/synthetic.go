package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/logger"
)

// SyntheticSource generates a deterministic test pattern: a bright square
// drifting across a dark field. Used by the replay command without input
// files and by tests that need a live frame stream.
//
// URL form: synthetic:?width=640&height=480&fps=15&format=gray8
type SyntheticSource struct {
	sensor Sensor
	logger *logger.Logger
	width  int
	height int
	fps    int
	format frame.PixelFormat

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSyntheticSource parses the synthetic: URL and builds the generator
func NewSyntheticSource(sensor Sensor, rawURL string, log *logger.Logger) (*SyntheticSource, error) {
	s := &SyntheticSource{
		sensor: sensor,
		logger: log,
		width:  640,
		height: 480,
		fps:    15,
		format: frame.FormatGray8,
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid synthetic url %q: %w", rawURL, err)
	}
	q := u.Query()
	if v := q.Get("width"); v != "" {
		if s.width, err = strconv.Atoi(v); err != nil || s.width <= 0 {
			return nil, fmt.Errorf("invalid synthetic width %q", v)
		}
	}
	if v := q.Get("height"); v != "" {
		if s.height, err = strconv.Atoi(v); err != nil || s.height <= 0 {
			return nil, fmt.Errorf("invalid synthetic height %q", v)
		}
	}
	if v := q.Get("fps"); v != "" {
		if s.fps, err = strconv.Atoi(v); err != nil || s.fps <= 0 {
			return nil, fmt.Errorf("invalid synthetic fps %q", v)
		}
	}
	switch q.Get("format") {
	case "", "gray8":
		s.format = frame.FormatGray8
	case "nv21":
		s.format = frame.FormatNV21
	default:
		return nil, fmt.Errorf("unsupported synthetic format %q", q.Get("format"))
	}

	return s, nil
}

// Sensor returns the sensor this source feeds
func (s *SyntheticSource) Sensor() Sensor {
	return s.sensor
}

// Start begins generating frames at the configured rate
func (s *SyntheticSource) Start(ctx context.Context, deliver func(*frame.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%w: synthetic source %s already running", detect.ErrResourceUnavailable, s.sensor.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("Synthetic source started",
		"sensor_id", s.sensor.ID,
		"size", fmt.Sprintf("%dx%d", s.width, s.height),
		"fps", s.fps,
		"format", string(s.format),
	)

	go s.run(runCtx, deliver)
	return nil
}

// Stop halts generation and waits for the delivery goroutine to exit
func (s *SyntheticSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *SyntheticSource) run(ctx context.Context, deliver func(*frame.Frame)) {
	defer close(s.done)

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deliver(s.generate(seq))
			seq++
		}
	}
}

// generate renders frame number seq. The square advances two pixels per
// frame and wraps, so consecutive frames differ deterministically.
func (s *SyntheticSource) generate(seq int) *frame.Frame {
	y := make([]byte, s.width*s.height)
	for i := range y {
		y[i] = 0x10
	}

	side := s.height / 4
	if side < 8 {
		side = 8
	}
	if side >= s.width {
		side = s.width / 2
	}
	if side >= s.height {
		side = s.height / 2
	}
	if side < 1 {
		side = 1
	}
	offX := (seq * 2) % (s.width - side + 1)
	offY := (seq * 2) % (s.height - side + 1)
	for row := offY; row < offY+side; row++ {
		base := row * s.width
		for col := offX; col < offX+side; col++ {
			y[base+col] = 0xEB
		}
	}

	f := &frame.Frame{
		Width:     s.width,
		Height:    s.height,
		Format:    s.format,
		Rotation:  s.sensor.Rotation,
		Timestamp: time.Now(),
		SensorID:  s.sensor.ID,
	}

	switch s.format {
	case frame.FormatNV21:
		uv := make([]byte, s.width*s.height/2)
		for i := range uv {
			uv[i] = 0x80
		}
		f.Planes = []frame.Plane{
			{Data: y, RowStride: s.width},
			{Data: uv, RowStride: s.width},
		}
	default:
		f.Planes = []frame.Plane{{Data: y, RowStride: s.width}}
	}

	return f
}
