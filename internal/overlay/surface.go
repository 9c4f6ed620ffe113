package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	strokeWidth = 2
	pointRadius = 2
)

// Surface is the drawing target for overlay rendering. Coordinates are
// render-surface pixels with the origin at the top-left corner.
//
// Implementations must be safe for concurrent use: the renderer draws
// from its own goroutine while streaming handlers read snapshots.
type Surface interface {
	Size() (width, height int)
	Resize(width, height int)
	Clear()
	StrokeRect(r Rect, c color.Color)
	MarkPoint(x, y float64, c color.Color)
	DrawLabel(text string, x, y float64, c color.Color)
}

// ImageSurface is an in-memory RGBA surface. The backing image has a
// transparent background so it can be composited over a video frame or
// a solid fill by whoever consumes the snapshot.
type ImageSurface struct {
	mu  sync.Mutex
	img *image.RGBA
}

// NewImageSurface creates a cleared surface of the given size
func NewImageSurface(width, height int) *ImageSurface {
	return &ImageSurface{
		img: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

// Size returns the current surface dimensions
func (s *ImageSurface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Resize replaces the backing image with a cleared one of the new
// size. Existing content is discarded; the caller re-renders.
func (s *ImageSurface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Clear resets every pixel to transparent
func (s *ImageSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.img, s.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// StrokeRect draws the outline of r. Edges falling outside the surface
// are clipped.
func (s *ImageSurface) StrokeRect(r Rect, c color.Color) {
	l := int(math.Round(r.Left))
	t := int(math.Round(r.Top))
	rr := int(math.Round(r.Right))
	b := int(math.Round(r.Bottom))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fill(image.Rect(l, t, rr, t+strokeWidth), c)
	s.fill(image.Rect(l, b-strokeWidth, rr, b), c)
	s.fill(image.Rect(l, t, l+strokeWidth, b), c)
	s.fill(image.Rect(rr-strokeWidth, t, rr, b), c)
}

// MarkPoint draws a small filled square centered on the point
func (s *ImageSurface) MarkPoint(x, y float64, c color.Color) {
	cx := int(math.Round(x))
	cy := int(math.Round(y))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fill(image.Rect(cx-pointRadius, cy-pointRadius, cx+pointRadius+1, cy+pointRadius+1), c)
}

// DrawLabel draws text with its baseline at the given position
func (s *ImageSurface) DrawLabel(text string, x, y float64, c color.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
	}
	d.DrawString(text)
}

// Snapshot returns a copy of the current surface content
func (s *ImageSurface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst := image.NewRGBA(s.img.Bounds())
	draw.Draw(dst, dst.Bounds(), s.img, s.img.Bounds().Min, draw.Src)
	return dst
}

// fill paints a clipped solid rectangle. Caller holds s.mu.
func (s *ImageSurface) fill(r image.Rectangle, c color.Color) {
	r = r.Intersect(s.img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(s.img, r, image.NewUniform(c), image.Point{}, draw.Src)
}
