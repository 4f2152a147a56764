package damage

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xcompd/xcompd/internal/region"
)

// TestBufferAgeAwareDamage replays damage over several frames and reads back per buffer age.
func TestBufferAgeAwareDamage(t *testing.T) {
	r := New(3)

	r1 := region.NewRect(image.Rect(0, 0, 10, 10))
	r.Add(r1)
	r.Advance()

	r2 := region.NewRect(image.Rect(10, 0, 20, 10))
	r.Add(r2)
	r.Advance()

	r3 := region.NewRect(image.Rect(20, 0, 30, 10))
	r.Add(r3)

	readback := r.ReadBack(3)
	union := region.Union(region.Union(r1, r2), r3)
	assert.ElementsMatch(t, union.RectSlice(), readback.RectSlice())

	r.Advance() // r1's slot gets cleared on this rotation's wraparound reuse
	r.Add(region.NewRect(image.Rect(30, 0, 40, 10)))

	// After three advances from the first Add, slot 0 (holding r1) has been
	// recycled and cleared; only r2, r3, and the newest damage remain live
	// within a 3-age window.
	readback2 := r.ReadBack(3)
	assert.NotContains(t, readback2.RectSlice(), image.Rect(0, 0, 10, 10))
}

func TestReadBackClampsAge(t *testing.T) {
	r := New(2)
	r.Add(region.NewRect(image.Rect(0, 0, 1, 1)))
	assert.True(t, r.ReadBack(0).Empty() == false) // clamps up to age 1
	assert.NotPanics(t, func() { r.ReadBack(99) })  // clamps down to Len()
}

func TestResetClearsAllSlots(t *testing.T) {
	r := New(2)
	r.Add(region.NewRect(image.Rect(0, 0, 5, 5)))
	r.Reset()
	assert.True(t, r.ReadBack(2).Empty())
}
