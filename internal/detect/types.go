package detect

import (
	"errors"
	"time"

	"github.com/ebalodis/faceframe/internal/frame"
)

// ErrInference indicates the engine failed, timed out, or returned
// malformed output. The cycle is skipped and the previously published
// DetectionSet stays visible; the next frame is the retry.
var ErrInference = errors.New("inference failure")

// ErrResourceUnavailable indicates a sensor or the engine could not be
// acquired. It is surfaced to the operator layer rather than retried
// by the pipeline.
var ErrResourceUnavailable = errors.New("resource unavailable")

// Box is an axis-aligned bounding box in frame-pixel coordinates
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns the horizontal extent of the box
func (b Box) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent of the box
func (b Box) Height() float64 { return b.Bottom - b.Top }

// Landmark is a single facial landmark point in frame-pixel coordinates
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one detected face. TrackID is a stable identifier the
// engine assigns to the same physical face across consecutive frames.
// Landmarks and Scores are engine output passed through unmodified.
type Detection struct {
	Box        Box                `json:"box"`
	Confidence float64            `json:"confidence"`
	TrackID    *int               `json:"track_id,omitempty"`
	Landmarks  []Landmark         `json:"landmarks,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// DetectionSet bundles detections with the frame metadata they were
// computed under. Geometry must never be interpreted without this
// context; the image size and facing are captured at the same instant
// as the detections.
type DetectionSet struct {
	Detections  []Detection   `json:"detections"`
	ImageWidth  int           `json:"image_width"`
	ImageHeight int           `json:"image_height"`
	Facing      frame.Facing  `json:"facing"`
	SensorID    string        `json:"sensor_id"`
	Seq         uint64        `json:"seq"`
	Timestamp   time.Time     `json:"timestamp"`
	Latency     time.Duration `json:"latency"`
}

// PerformanceMode selects the engine's speed/accuracy trade-off
type PerformanceMode string

const (
	PerformanceFast     PerformanceMode = "fast"
	PerformanceAccurate PerformanceMode = "accurate"
)

// Options is the immutable detector option set, constructed once at
// startup and sent with every inference request.
type Options struct {
	Classification  bool            `json:"classification"`
	Landmarks       bool            `json:"landmarks"`
	Tracking        bool            `json:"tracking"`
	PerformanceMode PerformanceMode `json:"performance_mode"`
}
