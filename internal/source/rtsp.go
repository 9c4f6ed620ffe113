package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"

	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/logger"
)

// RTSPSource pulls a live RTSP stream and delivers decoded NV21 frames.
// The stream is verified over RTSP first, then ffmpeg handles transport
// and decoding; frames arrive on stdout as fixed-size rawvideo buffers
// scaled to the configured analysis size.
type RTSPSource struct {
	sensor Sensor
	logger *logger.Logger
	url    string
	width  int
	height int

	lastFrame atomic.Int64 // unix nanos of the most recent delivered frame

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewRTSPSource creates a source for one RTSP stream. width and height
// are the decode size; zero selects 1280x720.
func NewRTSPSource(sensor Sensor, rawURL string, width, height int, log *logger.Logger) *RTSPSource {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return &RTSPSource{
		sensor: sensor,
		logger: log,
		url:    rawURL,
		width:  width,
		height: height,
	}
}

// Sensor returns the sensor this source feeds
func (s *RTSPSource) Sensor() Sensor {
	return s.sensor
}

// Start verifies the stream and begins frame delivery
func (s *RTSPSource) Start(ctx context.Context, deliver func(*frame.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%w: rtsp source %s already running", detect.ErrResourceUnavailable, s.sensor.ID)
	}

	if _, err := describeStream(s.url); err != nil {
		return fmt.Errorf("%w: rtsp stream %s: %v", detect.ErrResourceUnavailable, s.url, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.lastFrame.Store(time.Now().UnixNano())

	s.logger.Info("RTSP source started",
		"sensor_id", s.sensor.ID,
		"url", s.url,
		"size", fmt.Sprintf("%dx%d", s.width, s.height),
	)

	go s.run(runCtx, deliver)
	go s.watchdog(runCtx)
	return nil
}

// Stop terminates the pull process and waits for delivery to cease
func (s *RTSPSource) Stop(ctx context.Context) error {
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

// run pulls the stream and reconnects on failure
func (s *RTSPSource) run(ctx context.Context, deliver func(*frame.Frame)) {
	defer close(s.done)

	for {
		err := s.pull(ctx, deliver)
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("RTSP stream error, reconnecting", "sensor_id", s.sensor.ID, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// pull runs one ffmpeg session until the stream ends or the context is
// cancelled. NV21 frames are width*height*3/2 bytes: a full-resolution
// luma plane followed by interleaved half-resolution chroma.
func (s *RTSPSource) pull(ctx context.Context, deliver func(*frame.Frame)) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", s.url,
		"-vf", fmt.Sprintf("scale=%d:%d", s.width, s.height),
		"-f", "rawvideo",
		"-pix_fmt", "nv21",
		"-",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %v", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %v", err)
	}
	defer cmd.Wait()

	lumaSize := s.width * s.height
	frameSize := lumaSize * 3 / 2
	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			return fmt.Errorf("stream read: %v (%s)", err, strings.TrimSpace(stderr.String()))
		}

		s.lastFrame.Store(time.Now().UnixNano())
		deliver(&frame.Frame{
			Width:    s.width,
			Height:   s.height,
			Format:   frame.FormatNV21,
			Rotation: s.sensor.Rotation,
			Planes: []frame.Plane{
				{Data: buf[:lumaSize], RowStride: s.width},
				{Data: buf[lumaSize:], RowStride: s.width},
			},
			Timestamp: time.Now(),
			SensorID:  s.sensor.ID,
		})
	}
}

// watchdog flags a stream that stops producing frames
func (s *RTSPSource) watchdog(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastFrame.Load())
			if time.Since(last) > 10*time.Second {
				s.logger.Warn("No frames received from RTSP stream",
					"sensor_id", s.sensor.ID,
					"url", s.url,
					"last_frame_age", time.Since(last).Round(time.Second).String(),
				)
			}
		}
	}
}

// describeStream opens an RTSP session long enough to confirm the stream
// answers and carries H.264 video
func describeStream(rawURL string) (*description.Session, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %v", err)
	}

	client := &gortsplib.Client{}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("connecting: %v", err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("describe failed: %v", err)
	}

	if findH264(desc) == nil {
		return nil, fmt.Errorf("no H.264 video in stream")
	}
	return desc, nil
}

// findH264 locates the H.264 video media in a stream description
func findH264(desc *description.Session) *description.Media {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if _, ok := forma.(*format.H264); ok {
				return media
			}
		}
	}
	return nil
}
