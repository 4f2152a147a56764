// Package damage implements the per-buffer-age damage ring.
package damage

import (
	"image"

	"github.com/xcompd/xcompd/internal/region"
)

// Ring is an array of regions of length maxBufferAge, indexed modulo its
// length by a rotating cursor. Adding damage in a frame unions into the
// slot at Current; reading back for a buffer of age k unions the slots from
// Current back through (Current-k+1).
type Ring struct {
	slots   []*region.Region
	current int
}

// New allocates a ring sized to maxBufferAge (backend-reported, >= 1).
func New(maxBufferAge int) *Ring {
	if maxBufferAge < 1 {
		maxBufferAge = 1
	}
	slots := make([]*region.Region, maxBufferAge)
	for i := range slots {
		slots[i] = region.New()
	}
	return &Ring{slots: slots}
}

// Len reports the ring's capacity (== max_buffer_age).
func (r *Ring) Len() int { return len(r.slots) }

// Add unions dmg into the current slot.
func (r *Ring) Add(dmg *region.Region) {
	if dmg.Empty() {
		return
	}
	r.slots[r.current] = region.Union(r.slots[r.current], dmg)
}

// ReadBack returns the union of the slots covering a buffer of the given
// age (1 == the just-presented buffer). age must be between 1 and Len();
// an out-of-range age (stale or empty buffer, backend reports -1) is the
// caller's cue to repaint the whole screen instead of calling ReadBack.
func (r *Ring) ReadBack(age int) *region.Region {
	out := region.New()
	n := len(r.slots)
	if age < 1 {
		age = 1
	}
	if age > n {
		age = n
	}
	for i := 0; i < age; i++ {
		idx := (r.current - i + n) % n
		out = region.Union(out, r.slots[idx])
	}
	return out
}

// Advance rotates the ring forward one slot after a present, clearing the
// new current slot for the next frame's damage.
func (r *Ring) Advance() {
	r.current = (r.current + 1) % len(r.slots)
	r.slots[r.current] = region.New()
}

// Reset clears every slot, used on a screen-geometry change.
func (r *Ring) Reset() {
	for i := range r.slots {
		r.slots[i] = region.New()
	}
	r.current = 0
}

// Screen intersects dmg with the on-screen rectangle before it is added,
// the bound every damage source (DamageNotify translation, visibility
// flips) must respect.
func Screen(dmg *region.Region, screen image.Rectangle) *region.Region {
	return region.Intersect(dmg, region.NewRect(screen))
}
