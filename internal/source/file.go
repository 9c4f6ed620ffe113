package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/logger"
)

// FileSource replays JPEG frames from a single file or a directory. A
// directory is played in name order and looped, which makes recorded
// frame dumps usable as an endless stream for the replay command.
type FileSource struct {
	sensor Sensor
	logger *logger.Logger
	path   string
	fps    int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewFileSource creates a replay source. fps 0 selects the default of 15.
func NewFileSource(sensor Sensor, path string, fps int, log *logger.Logger) *FileSource {
	if fps <= 0 {
		fps = 15
	}
	return &FileSource{
		sensor: sensor,
		logger: log,
		path:   path,
		fps:    fps,
	}
}

// Sensor returns the sensor this source feeds
func (s *FileSource) Sensor() Sensor {
	return s.sensor
}

// Start loads the frame list and begins delivery
func (s *FileSource) Start(ctx context.Context, deliver func(*frame.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%w: file source %s already running", detect.ErrResourceUnavailable, s.sensor.ID)
	}

	files, err := s.listFrames()
	if err != nil {
		return fmt.Errorf("%w: %v", detect.ErrResourceUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("File source started",
		"sensor_id", s.sensor.ID,
		"path", s.path,
		"frames", len(files),
		"fps", s.fps,
	)

	go s.run(runCtx, files, deliver)
	return nil
}

// Stop halts replay and waits for the delivery goroutine to exit
func (s *FileSource) Stop(ctx context.Context) error {
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

// listFrames resolves the path to an ordered list of JPEG files
func (s *FileSource) listFrames() ([]string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("frame path %s: %v", s.path, err)
	}

	if !info.IsDir() {
		return []string{s.path}, nil
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory %s: %v", s.path, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			files = append(files, filepath.Join(s.path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no JPEG frames in %s", s.path)
	}
	sort.Strings(files)
	return files, nil
}

func (s *FileSource) run(ctx context.Context, files []string, deliver func(*frame.Frame)) {
	defer close(s.done)

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, err := s.loadFrame(files[idx])
			if err != nil {
				s.logger.Warn("Failed to load frame", "file", files[idx], "error", err)
			} else {
				deliver(f)
			}
			idx = (idx + 1) % len(files)
		}
	}
}

// loadFrame decodes one JPEG into a frame. 4:2:0 YCbCr images keep their
// native three planes; everything else is reduced to a single luma plane.
func (s *FileSource) loadFrame(path string) (*frame.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	bounds := img.Bounds()
	f := &frame.Frame{
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Rotation:  s.sensor.Rotation,
		Timestamp: time.Now(),
		SensorID:  s.sensor.ID,
	}

	if ycbcr, ok := img.(*image.YCbCr); ok && ycbcr.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		f.Format = frame.FormatYUV420
		f.Planes = []frame.Plane{
			{Data: ycbcr.Y, RowStride: ycbcr.YStride},
			{Data: ycbcr.Cb, RowStride: ycbcr.CStride},
			{Data: ycbcr.Cr, RowStride: ycbcr.CStride},
		}
		return f, nil
	}

	gray := make([]byte, f.Width*f.Height)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray[y*f.Width+x] = byte((19595*r + 38470*g + 7471*b + 1<<15) >> 24)
		}
	}
	f.Format = frame.FormatGray8
	f.Planes = []frame.Plane{{Data: gray, RowStride: f.Width}}
	return f, nil
}
