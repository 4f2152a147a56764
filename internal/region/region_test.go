package region

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rectsEqual(t *testing.T, want []image.Rectangle, r *Region) {
	t.Helper()
	got := map[image.Point]bool{}
	for _, rect := range r.RectSlice() {
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				got[image.Pt(x, y)] = true
			}
		}
	}
	wantSet := map[image.Point]bool{}
	for _, rect := range want {
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				wantSet[image.Pt(x, y)] = true
			}
		}
	}
	assert.Equal(t, wantSet, got)
}

func TestEmptyOperandsWellDefined(t *testing.T) {
	empty := New()
	rect := NewRect(image.Rect(0, 0, 10, 10))

	require.True(t, Union(empty, empty).Empty())
	require.True(t, Intersect(empty, rect).Empty())
	require.True(t, Intersect(rect, empty).Empty())
	require.True(t, Subtract(empty, rect).Empty())
	rectsEqual(t, rect.RectSlice(), Subtract(rect, empty))
	rectsEqual(t, rect.RectSlice(), Union(rect, empty))
}

func TestUnionIntersectSubtract(t *testing.T) {
	a := NewRect(image.Rect(0, 0, 10, 10))
	b := NewRect(image.Rect(5, 5, 15, 15))

	rectsEqual(t, []image.Rectangle{image.Rect(0, 0, 10, 10), image.Rect(5, 5, 15, 15)}, Union(a, b))
	rectsEqual(t, []image.Rectangle{image.Rect(5, 5, 10, 10)}, Intersect(a, b))
	rectsEqual(t, []image.Rectangle{
		image.Rect(0, 0, 10, 5),
		image.Rect(0, 5, 5, 10),
	}, Subtract(a, b))
}

func TestTranslate(t *testing.T) {
	a := NewRect(image.Rect(0, 0, 10, 10))
	moved := Translate(a, 3, -2)
	rectsEqual(t, []image.Rectangle{image.Rect(3, -2, 13, 8)}, moved)
}

func TestSharedRefcount(t *testing.T) {
	s := NewShared(NewRect(image.Rect(0, 0, 1, 1)))
	s2 := s.Ref()
	require.Same(t, s, s2)

	s.Unref()
	require.NotNil(t, s.Region(), "still one ref outstanding")

	s.Unref()
	require.Nil(t, s.region)
}

func TestNilSharedIsEmptyRegion(t *testing.T) {
	var s *Shared
	require.True(t, s.Region().Empty())
	s.Unref() // must not panic
}
