// Package fakebackend is an in-memory backend.Backend used by the
// compositor core's own tests, so preprocess/paint/redirect logic can be
// exercised without a real X server. It records the calls it receives
// rather than producing pixels.
package fakebackend

import (
	"image/color"

	"github.com/xcompd/xcompd/internal/backend"
	"github.com/xcompd/xcompd/internal/region"
)

type Image struct {
	PixmapID uint32
	Released bool
}

func (i *Image) Release() { i.Released = true }

// Backend is a configurable fake: set the exported fields before handing it
// to the code under test to control bind failures, buffer age, etc.
type Backend struct {
	BindErr      error
	MaxAge       int
	Age          int
	Transparent  bool
	Composed     []ComposeCall
	Presented    int
	BlurCalls    int
	ShadowsDrawn int
}

type ComposeCall struct {
	Image  backend.Image
	DstX   int
	DstY   int
	Region *region.Region
}

func New() *Backend {
	return &Backend{MaxAge: 1, Age: 1}
}

func (b *Backend) Deinit() error { return nil }

func (b *Backend) BindPixmap(pixmapID uint32, visual backend.VisualInfo, owned bool) (backend.Image, error) {
	if b.BindErr != nil {
		return nil, b.BindErr
	}
	return &Image{PixmapID: pixmapID}, nil
}

func (b *Backend) ReleaseImage(img backend.Image) {
	if img != nil {
		img.Release()
	}
}

func (b *Backend) Compose(img backend.Image, dstX, dstY int, regPaint, regVisible *region.Region) {
	b.Composed = append(b.Composed, ComposeCall{Image: img, DstX: dstX, DstY: dstY, Region: regPaint})
}

func (b *Backend) RenderShadow(w, h int, kernelValues []float32, kernelRadius int, c color.NRGBA) (backend.Image, error) {
	b.ShadowsDrawn++
	return &Image{}, nil
}

func (b *Backend) Blur(opacity float64, regBlur, regVisible *region.Region) bool {
	b.BlurCalls++
	return true
}

func (b *Backend) Fill(c color.NRGBA, reg *region.Region) error { return nil }

func (b *Backend) Present() error {
	b.Presented++
	return nil
}

func (b *Backend) ImageOp(op backend.Op, img backend.Image, regOp, regVisible *region.Region, args any) bool {
	return true
}

func (b *Backend) IsImageTransparent(img backend.Image) bool { return b.Transparent }

func (b *Backend) BufferAge() int { return b.Age }

func (b *Backend) MaxBufferAge() int { return b.MaxAge }

var _ backend.Backend = (*Backend)(nil)
