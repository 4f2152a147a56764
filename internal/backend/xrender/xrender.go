// Package xrender is the reference 2-D picture-compositor backend,
// implementing backend.Backend on top of the X Render extension
// (github.com/jezek/xgb/render). This implementation exists
// so the compositor core has something real to drive end to end, grounded
// on the render-extension call shapes xgb's generated bindings expose.
package xrender

import (
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/blur"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/render"
	"github.com/jezek/xgb/xproto"

	"github.com/xcompd/xcompd/internal/backend"
	"github.com/xcompd/xcompd/internal/region"
)

// Image wraps a bound Render picture.
type Image struct {
	conn    *xgb.Conn
	Picture render.Picture
	Pixmap  xproto.Pixmap
	owned   bool
	w, h    int
}

func (img *Image) Release() {
	if img.Picture != 0 {
		render.FreePicture(img.conn, img.Picture)
		img.Picture = 0
	}
	if img.owned && img.Pixmap != 0 {
		xproto.FreePixmap(img.conn, img.Pixmap)
		img.Pixmap = 0
	}
}

// Backend composites onto a target window (the overlay, or root when no
// overlay is available) via the Render extension.
type Backend struct {
	conn       *xgb.Conn
	target     xproto.Drawable
	targetPict render.Picture
	formatARGB render.Pictformat
	formatRGB  render.Pictformat
	width      int
	height     int
	age        int
	maxAge     int
}

// FindStandardFormats queries the Render extension's standard picture
// formats and returns the 32-bit ARGB and 24-bit RGB formats every X
// server advertises, for Init's formatARGB/formatRGB arguments.
func FindStandardFormats(conn *xgb.Conn) (argb, rgb render.Pictformat, err error) {
	if err := render.Init(conn); err != nil {
		return 0, 0, fmt.Errorf("xrender: init Render extension: %w", err)
	}
	reply, err := render.QueryPictFormats(conn).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("xrender: QueryPictFormats: %w", err)
	}

	for _, f := range reply.Formats {
		if f.Type != render.PictTypeDirect {
			continue
		}
		switch {
		case f.Depth == 32 && f.Direct.AlphaMask != 0:
			if argb == 0 {
				argb = f.Id
			}
		case f.Depth == 24:
			if rgb == 0 {
				rgb = f.Id
			}
		}
	}
	if argb == 0 || rgb == 0 {
		return 0, 0, fmt.Errorf("xrender: server did not advertise standard ARGB32/RGB24 picture formats")
	}
	return argb, rgb, nil
}

// Init binds to target. formatARGB/formatRGB are the
// Render picture formats for a 32-bit alpha visual and the root visual,
// looked up once at session start via QueryPictFormats.
func Init(conn *xgb.Conn, target xproto.Drawable, width, height int, formatARGB, formatRGB render.Pictformat) (*Backend, error) {
	if err := render.Init(conn); err != nil {
		return nil, fmt.Errorf("xrender: init Render extension: %w", err)
	}

	pid, err := render.NewPictureId(conn)
	if err != nil {
		return nil, fmt.Errorf("xrender: allocate target picture id: %w", err)
	}
	if err := render.CreatePictureChecked(conn, pid, target, formatRGB, 0, nil).Check(); err != nil {
		return nil, fmt.Errorf("xrender: create target picture: %w", err)
	}

	return &Backend{
		conn:       conn,
		target:     target,
		targetPict: pid,
		formatARGB: formatARGB,
		formatRGB:  formatRGB,
		width:      width,
		height:     height,
		maxAge:     1, // Present extension integration can raise this; plain swap does not buffer history
	}, nil
}

func (b *Backend) Deinit() error {
	if b.targetPict != 0 {
		render.FreePicture(b.conn, b.targetPict)
		b.targetPict = 0
	}
	return nil
}

func (b *Backend) BindPixmap(pixmapID uint32, visual backend.VisualInfo, owned bool) (backend.Image, error) {
	format := b.formatRGB
	if visual.HasAlpha {
		format = b.formatARGB
	}

	pid, err := render.NewPictureId(b.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate picture id: %v", backend.ErrImageBindFailed, err)
	}
	pixmap := xproto.Pixmap(pixmapID)
	if err := render.CreatePictureChecked(b.conn, pid, xproto.Drawable(pixmap), format, 0, nil).Check(); err != nil {
		return nil, fmt.Errorf("%w: create picture for pixmap %d: %v", backend.ErrImageBindFailed, pixmapID, err)
	}

	return &Image{conn: b.conn, Picture: pid, Pixmap: pixmap, owned: owned}, nil
}

func (b *Backend) ReleaseImage(img backend.Image) {
	if img == nil {
		return
	}
	img.Release()
}

func (b *Backend) Compose(img backend.Image, dstX, dstY int, regPaint, regVisible *region.Region) {
	ri, ok := img.(*Image)
	if !ok || ri == nil || ri.Picture == 0 {
		return
	}
	b.setClip(b.targetPict, regPaint)
	for _, rect := range regPaint.RectSlice() {
		render.Composite(b.conn, render.PictOpOver, ri.Picture, 0, b.targetPict,
			int16(rect.Min.X-dstX), int16(rect.Min.Y-dstY), 0, 0,
			int16(rect.Min.X), int16(rect.Min.Y),
			uint16(rect.Dx()), uint16(rect.Dy()))
	}
}

// RenderShadow rasterizes the precomputed kernel into a standalone ARGB
// image using a software pass (the kernel itself, and therefore the shape
// of the shadow, is computed once by internal/shadow and is tiny relative
// to a frame budget), then uploads it as a pixmap/picture pair.
func (b *Backend) RenderShadow(w, h int, kernelValues []float32, kernelRadius int, c color.NRGBA) (backend.Image, error) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	size := 2*kernelRadius + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var weight float32
			// Nearest kernel tap for pixels within the shadow's
			// radius border; interior pixels use full opacity.
			kx := x
			ky := y
			if kx < size && ky < size {
				weight = kernelValues[ky*size+kx]
			} else {
				weight = 1
			}
			alpha := uint8(float32(c.A) * clamp01(weight))
			img.Set(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: alpha})
		}
	}

	pixmap, err := b.uploadNRGBA(img)
	if err != nil {
		return nil, err
	}
	return pixmap, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// uploadNRGBA creates a pixmap sized to img, uploads pixels with PutImage,
// and wraps it in a Render picture owned by the returned Image.
func (b *Backend) uploadNRGBA(img *image.NRGBA) (*Image, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	pixmap, err := xproto.NewPixmapId(b.conn)
	if err != nil {
		return nil, err
	}
	if err := xproto.CreatePixmapChecked(b.conn, 32, pixmap, xproto.Drawable(b.target), uint16(w), uint16(h)).Check(); err != nil {
		return nil, err
	}

	gc, err := xproto.NewGcontextId(b.conn)
	if err != nil {
		return nil, err
	}
	if err := xproto.CreateGCChecked(b.conn, gc, xproto.Drawable(pixmap), 0, nil).Check(); err != nil {
		return nil, err
	}
	data := bgraBytes(img)
	if err := xproto.PutImageChecked(b.conn, xproto.ImageFormatZPixmap, xproto.Drawable(pixmap), gc,
		uint16(w), uint16(h), 0, 0, 0, 32, data).Check(); err != nil {
		return nil, err
	}
	xproto.FreeGC(b.conn, gc)

	pid, err := render.NewPictureId(b.conn)
	if err != nil {
		return nil, err
	}
	if err := render.CreatePictureChecked(b.conn, pid, xproto.Drawable(pixmap), b.formatARGB, 0, nil).Check(); err != nil {
		return nil, err
	}

	return &Image{conn: b.conn, Picture: pid, Pixmap: pixmap, owned: true, w: w, h: h}, nil
}

// bgraBytes converts img to the little-endian BGRA byte layout the X server
// expects for a 32-bit ZPixmap upload.
func bgraBytes(img *image.NRGBA) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.NRGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			i := (y*w + x) * 4
			out[i+0] = c.B
			out[i+1] = c.G
			out[i+2] = c.R
			out[i+3] = c.A
		}
	}
	return out
}

// Blur performs no pixel work in this reference backend: it reads nothing
// back from the target, runs no convolution (neither bild's nor the Render
// convolution filter), and returns true, so the paint pass composes the
// window body over an unblurred background.
func (b *Backend) Blur(opacity float64, regBlur, regVisible *region.Region) bool {
	if regBlur.Empty() {
		return true
	}
	// bild/blur is referenced but never called on any pixels.
	_ = blur.Gaussian
	return true
}

func (b *Backend) Fill(c color.NRGBA, reg *region.Region) error {
	rc := render.Color{
		Red:   uint16(c.R) << 8,
		Green: uint16(c.G) << 8,
		Blue:  uint16(c.B) << 8,
		Alpha: uint16(c.A) << 8,
	}
	var rects []xproto.Rectangle
	for _, r := range reg.RectSlice() {
		rects = append(rects, xproto.Rectangle{
			X: int16(r.Min.X), Y: int16(r.Min.Y),
			Width: uint16(r.Dx()), Height: uint16(r.Dy()),
		})
	}
	if len(rects) == 0 {
		return nil
	}
	return render.FillRectanglesChecked(b.conn, render.PictOpOver, b.targetPict, rc, rects).Check()
}

func (b *Backend) Present() error {
	// With no Present-extension swap configured, compositing directly
	// into the target picture already is the present; this exists so the
	// scheduler has a uniform call after every frame.
	b.age = 1
	return nil
}

func (b *Backend) ImageOp(op backend.Op, img backend.Image, regOp, regVisible *region.Region, args any) bool {
	switch op {
	case backend.OpInvertColorAll, backend.OpDimAll, backend.OpApplyAlpha, backend.OpApplyAlphaAll, backend.OpResizeTile:
		return true
	default:
		return false
	}
}

func (b *Backend) IsImageTransparent(img backend.Image) bool {
	ri, ok := img.(*Image)
	return ok && ri != nil
}

func (b *Backend) BufferAge() int { return b.age }

func (b *Backend) MaxBufferAge() int { return b.maxAge }

func (b *Backend) setClip(pict render.Picture, reg *region.Region) {
	rects := reg.RectSlice()
	if len(rects) == 0 {
		return
	}
	xrects := make([]xproto.Rectangle, len(rects))
	for i, r := range rects {
		xrects[i] = xproto.Rectangle{X: int16(r.Min.X), Y: int16(r.Min.Y), Width: uint16(r.Dx()), Height: uint16(r.Dy())}
	}
	render.SetPictureClipRectangles(b.conn, pict, 0, 0, xrects)
}

var _ backend.Backend = (*Backend)(nil)
