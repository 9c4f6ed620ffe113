package frame

import (
	"sync"
)

// Assembler packs multi-plane frames into single contiguous buffers for
// the inference engine. Planes are concatenated in delivery order with no
// gaps, padding or reformatting; the byte layout for each format tag is a
// fixed contract with the engine.
//
// Destination buffers are recycled through a pool. A released buffer must
// not be referenced again by the caller.
type Assembler struct {
	pool sync.Pool
}

// NewAssembler creates an assembler with an empty buffer pool
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble validates the frame and copies its planes into one contiguous
// buffer. rotation is the effective rotation cached for the active sensor.
// The returned descriptor pairs the buffer with the metadata it was
// assembled under.
func (a *Assembler) Assemble(f *Frame, rotation int) ([]byte, ImageDescriptor, error) {
	if err := f.Validate(); err != nil {
		return nil, ImageDescriptor{}, err
	}

	buf := a.get(f.TotalBytes())
	off := 0
	for _, p := range f.Planes {
		off += copy(buf[off:], p.Data)
	}

	desc := ImageDescriptor{
		Width:       f.Width,
		Height:      f.Height,
		Rotation:    rotation,
		Format:      f.Format,
		BytesPerRow: f.Planes[0].RowStride,
	}
	return buf, desc, nil
}

// Release returns a buffer to the pool for reuse
func (a *Assembler) Release(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	b := buf[:0]
	a.pool.Put(&b)
}

func (a *Assembler) get(n int) []byte {
	if v := a.pool.Get(); v != nil {
		if b, ok := v.(*[]byte); ok && cap(*b) >= n {
			return (*b)[:n]
		}
	}
	return make([]byte, n)
}
