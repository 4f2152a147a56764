package shadow

import (
	"image"
	"image/color"
)

// RootTile is the desktop background the paint pass draws into the
// uncovered screen region before any window body.
type RootTile struct {
	// Image is carried for callers; the paint pass does not read it.
	Image image.Image
	// Fill is the flat color the paint pass draws; it keeps the paint
	// pass well-defined even with no wallpaper set.
	Fill color.Color
}

// NewSolidTile returns a root tile that paints as a flat fill color.
// cmd/xcompd builds every root tile with it, whether or not a background
// pixel could be read back.
func NewSolidTile(c color.Color) *RootTile {
	return &RootTile{Fill: c}
}

// Resize produces a tile repeated/cropped to the given size using the
// backend tile-resize image op, represented here as plain
// tiling over an image.NRGBA so the reference backend can hand it straight
// to its render-format conversion.
func Resize(src image.Image, w, h int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return out
	}
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y%b.Dy()
		for x := 0; x < w; x++ {
			sx := b.Min.X + x%b.Dx()
			out.Set(x, y, src.At(sx, sy))
		}
	}
	return out
}
