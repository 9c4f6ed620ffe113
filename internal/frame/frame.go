package frame

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFrame indicates a malformed or empty capture. The processing
// cycle for such a frame is skipped; the error is never fatal.
var ErrInvalidFrame = errors.New("invalid frame")

// PixelFormat tags the raw pixel layout of a captured frame
type PixelFormat string

const (
	FormatYUV420   PixelFormat = "yuv420"
	FormatNV21     PixelFormat = "nv21"
	FormatBGRA8888 PixelFormat = "bgra8888"
	FormatGray8    PixelFormat = "gray8"
)

// Facing identifies the lens direction of the sensor a frame came from
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// Plane is one plane of raw pixel data with its row stride
type Plane struct {
	Data      []byte
	RowStride int
}

// Frame is a single captured camera frame. Immutable once captured and
// owned exclusively by the pipeline for the duration of one processing
// cycle; released after inference completes or the cycle is skipped.
type Frame struct {
	Width     int
	Height    int
	Format    PixelFormat
	Rotation  int // delivery rotation reported by the source, degrees
	Planes    []Plane
	Timestamp time.Time
	SensorID  string
}

// Validate checks that the frame is usable for assembly
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if len(f.Planes) == 0 {
		return fmt.Errorf("%w: no planes", ErrInvalidFrame)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if len(f.Planes[0].Data) == 0 {
		return fmt.Errorf("%w: empty primary plane", ErrInvalidFrame)
	}
	return nil
}

// TotalBytes returns the summed byte length of all planes
func (f *Frame) TotalBytes() int {
	total := 0
	for _, p := range f.Planes {
		total += len(p.Data)
	}
	return total
}

// ImageDescriptor carries the metadata the inference engine needs to
// interpret an assembled buffer
type ImageDescriptor struct {
	Width       int
	Height      int
	Rotation    int
	Format      PixelFormat
	BytesPerRow int
}

// EffectiveRotation derives the rotation the detector must compensate for
// a given sensor selection. Front-facing sensors on platforms that deliver
// uncompensated frames get an extra +90 degrees. The result is fixed for
// the lifetime of a sensor selection and is cached in the pipeline state,
// never recomputed per frame.
func EffectiveRotation(mounting int, facing Facing, frontCompensation bool) int {
	r := mounting % 360
	if r < 0 {
		r += 360
	}
	if facing == FacingFront && frontCompensation {
		r = (r + 90) % 360
	}
	return r
}
