// Package region implements the rectangular region algebra the preprocess
// and paint passes use to track opaque coverage and damage. A Region is a
// flat list of rectangles that may overlap (Union appends rather than
// splitting), the same shape XFixes accepts on the wire, so converting to
// and from a backend's region type is a straight copy of the Rects slice.
package region

import (
	"image"
	"sync/atomic"
)

// Region is an immutable-once-shared set of rectangles. Zero value is the
// empty region.
type Region struct {
	Rects []image.Rectangle
}

// Empty reports whether r contains no area.
func (r *Region) Empty() bool {
	return r == nil || len(r.Rects) == 0
}

// RectSlice returns the rectangles making up r. Callers must not mutate the
// returned slice.
func (r *Region) RectSlice() []image.Rectangle {
	if r == nil {
		return nil
	}
	return r.Rects
}

// New builds an empty region.
func New() *Region {
	return &Region{}
}

// NewRect builds a region containing a single rectangle. A degenerate
// rectangle (zero or negative area) yields the empty region.
func NewRect(r image.Rectangle) *Region {
	if r.Empty() {
		return New()
	}
	return &Region{Rects: []image.Rectangle{r}}
}

// Clone returns a deep copy of r.
func (r *Region) Clone() *Region {
	out := &Region{Rects: make([]image.Rectangle, len(r.RectSlice()))}
	copy(out.Rects, r.RectSlice())
	return out
}

// Union returns the region covering every point in a or b.
func Union(a, b *Region) *Region {
	if a.Empty() {
		return b.Clone()
	}
	if b.Empty() {
		return a.Clone()
	}
	out := a.Clone()
	out.Rects = append(out.Rects, b.RectSlice()...)
	return normalize(out)
}

// Intersect returns the region covering points in both a and b.
func Intersect(a, b *Region) *Region {
	if a.Empty() || b.Empty() {
		return New()
	}
	var out []image.Rectangle
	for _, ra := range a.Rects {
		for _, rb := range b.Rects {
			if ix := ra.Intersect(rb); !ix.Empty() {
				out = append(out, ix)
			}
		}
	}
	return normalize(&Region{Rects: out})
}

// Subtract returns the region covering points in a but not in b.
func Subtract(a, b *Region) *Region {
	if a.Empty() {
		return New()
	}
	if b.Empty() {
		return a.Clone()
	}
	rects := append([]image.Rectangle(nil), a.Rects...)
	for _, rb := range b.Rects {
		var next []image.Rectangle
		for _, ra := range rects {
			next = append(next, subtractRect(ra, rb)...)
		}
		rects = next
	}
	return normalize(&Region{Rects: rects})
}

// Translate returns r shifted by (dx, dy).
func Translate(r *Region, dx, dy int) *Region {
	if r.Empty() {
		return New()
	}
	out := &Region{Rects: make([]image.Rectangle, len(r.Rects))}
	d := image.Pt(dx, dy)
	for i, rect := range r.Rects {
		out.Rects[i] = rect.Add(d)
	}
	return out
}

// subtractRect splits a into the pieces of a that do not overlap b. At most
// four rectangles are produced (top, bottom, left, right bands).
func subtractRect(a, b image.Rectangle) []image.Rectangle {
	ix := a.Intersect(b)
	if ix.Empty() {
		return []image.Rectangle{a}
	}

	var out []image.Rectangle
	if ix.Min.Y > a.Min.Y {
		out = append(out, image.Rect(a.Min.X, a.Min.Y, a.Max.X, ix.Min.Y))
	}
	if ix.Max.Y < a.Max.Y {
		out = append(out, image.Rect(a.Min.X, ix.Max.Y, a.Max.X, a.Max.Y))
	}
	if ix.Min.X > a.Min.X {
		out = append(out, image.Rect(a.Min.X, ix.Min.Y, ix.Min.X, ix.Max.Y))
	}
	if ix.Max.X < a.Max.X {
		out = append(out, image.Rect(ix.Max.X, ix.Min.Y, a.Max.X, ix.Max.Y))
	}
	return out
}

// normalize drops empty and fully-contained rectangles. It does not attempt
// a minimal banded decomposition; exactness of set membership matters for
// the reg_ignore invariants, a minimal rectangle count does not.
func normalize(r *Region) *Region {
	out := r.Rects[:0]
	for _, rect := range r.Rects {
		if rect.Empty() {
			continue
		}
		contained := false
		for _, other := range out {
			if rect.In(other) {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, rect)
		}
	}
	r.Rects = out
	return r
}

// Shared is a reference-counted Region, used for the per-window reg_ignore
// cache. Every reference is held
// by exactly one window; the DAG of shared instances is never cyclic.
type Shared struct {
	region *Region
	refs   int32
}

// NewShared wraps r in a Shared with one reference already held by the
// caller.
func NewShared(r *Region) *Shared {
	return &Shared{region: r, refs: 1}
}

// Region returns the wrapped region.
func (s *Shared) Region() *Region {
	if s == nil {
		return New()
	}
	return s.region
}

// Ref increments the reference count and returns s, so call sites can write
// `w.regIgnore = below.regIgnore.Ref()`.
func (s *Shared) Ref() *Shared {
	if s == nil {
		return nil
	}
	atomic.AddInt32(&s.refs, 1)
	return s
}

// Unref decrements the reference count, freeing the underlying region once
// it reaches zero. Unref is a no-op on a nil receiver so callers don't need
// to guard unset caches.
func (s *Shared) Unref() {
	if s == nil {
		return
	}
	if atomic.AddInt32(&s.refs, -1) == 0 {
		s.region = nil
	}
}
