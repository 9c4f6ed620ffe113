package overlay

import (
	"errors"
	"fmt"

	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/frame"
)

// ErrDegenerateGeometry indicates image metadata with a zero dimension.
// The overlay for that DetectionSet is skipped and the previous overlay
// stays on screen; nothing else is affected.
var ErrDegenerateGeometry = errors.New("degenerate geometry")

// Rect is an axis-aligned rectangle in render-surface coordinates
type Rect struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

// Width returns the horizontal extent of the rect
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns the vertical extent of the rect
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Transform maps detection geometry from sensor space into
// render-surface space.
//
// The sensor delivers its image rotated a quarter turn relative to the
// portrait render surface, so the scale factors pair render width with
// image height and render height with image width. A front-facing
// sensor additionally mirrors horizontally, so the overlay matches what
// the user sees.
//
// A Transform is derived fresh for every render pass: the render
// surface can be resized at any time, so cached scale factors would go
// stale silently.
type Transform struct {
	scaleX      float64
	scaleY      float64
	mirror      bool
	renderWidth float64
}

// NewTransform derives the mapping for one DetectionSet against the
// current surface size. Fails with ErrDegenerateGeometry when either
// size has a zero dimension.
func NewTransform(imageWidth, imageHeight int, facing frame.Facing, renderWidth, renderHeight int) (*Transform, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return nil, fmt.Errorf("%w: image %dx%d", ErrDegenerateGeometry, imageWidth, imageHeight)
	}
	if renderWidth <= 0 || renderHeight <= 0 {
		return nil, fmt.Errorf("%w: render surface %dx%d", ErrDegenerateGeometry, renderWidth, renderHeight)
	}

	return &Transform{
		scaleX:      float64(renderWidth) / float64(imageHeight),
		scaleY:      float64(renderHeight) / float64(imageWidth),
		mirror:      facing == frame.FacingFront,
		renderWidth: float64(renderWidth),
	}, nil
}

// MapBox converts a detection box to render-surface coordinates. The
// box's top and bottom edges become the horizontal edges of the result
// and vice versa, reflecting the quarter-turn between sensor and
// surface. Mirroring reverses the horizontal edge order; the result is
// normalized so Left <= Right.
func (t *Transform) MapBox(b detect.Box) Rect {
	r := Rect{
		Left:   b.Top * t.scaleX,
		Top:    b.Left * t.scaleY,
		Right:  b.Bottom * t.scaleX,
		Bottom: b.Right * t.scaleY,
	}
	if t.mirror {
		r.Left, r.Right = t.renderWidth-r.Right, t.renderWidth-r.Left
	}
	return r
}

// MapPoint converts a single point, such as a landmark, to
// render-surface coordinates
func (t *Transform) MapPoint(x, y float64) (float64, float64) {
	rx := y * t.scaleX
	if t.mirror {
		rx = t.renderWidth - rx
	}
	return rx, x * t.scaleY
}
