package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/ebalodis/faceframe/internal/config"
	"github.com/ebalodis/faceframe/internal/frame"
	"github.com/ebalodis/faceframe/internal/logger"
)

// Sensor describes one selectable camera sensor. Rotation is the fixed
// mounting rotation in degrees; it never changes while the process runs.
type Sensor struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Facing   frame.Facing `json:"facing"`
	Rotation int          `json:"rotation"`
}

// FrameSource produces camera frames for one sensor. Start begins
// delivery; deliver is invoked from the source's own goroutine, once per
// captured frame, and must not be called again after Stop returns.
// Delivered frames are owned by the receiver and are never touched by
// the source afterwards.
type FrameSource interface {
	Sensor() Sensor
	Start(ctx context.Context, deliver func(*frame.Frame)) error
	Stop(ctx context.Context) error
}

// New builds the frame source for a sensor based on its URL scheme:
// rtsp:// streams, synthetic: generated test patterns, anything else a
// JPEG file or directory to replay.
func New(cfg config.SensorConfig, log *logger.Logger) (FrameSource, error) {
	sensor := Sensor{
		ID:       cfg.ID,
		Label:    cfg.Label,
		Facing:   frame.Facing(cfg.Facing),
		Rotation: cfg.Rotation,
	}

	switch {
	case strings.HasPrefix(cfg.URL, "rtsp://"):
		return NewRTSPSource(sensor, cfg.URL, cfg.Width, cfg.Height, log), nil
	case strings.HasPrefix(cfg.URL, "synthetic:"):
		return NewSyntheticSource(sensor, cfg.URL, log)
	case cfg.URL != "":
		return NewFileSource(sensor, cfg.URL, 0, log), nil
	default:
		return nil, fmt.Errorf("sensor %s has no url", cfg.ID)
	}
}
