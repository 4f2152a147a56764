// Package backend defines the capability set the compositor core consumes
// polymorphically. Concrete backends (a 2-D
// picture compositor, a GPU texture pipeline) are external collaborators;
// this package only names the contract and the opaque handle types that
// cross it, plus a couple of backend-agnostic helpers the paint pass needs
// regardless of which concrete backend is active.
package backend

import (
	"errors"
	"image/color"

	"github.com/xcompd/xcompd/internal/region"
)

// Image is an opaque backend-owned handle (a bound pixmap picture, a GPU
// texture, ...). The core never inspects it beyond nil-checking.
type Image interface {
	// Release hints the backend may free the handle's underlying storage.
	// Backend.ReleaseImage is the canonical release path; this method
	// exists so an Image can also be closed directly by a caller outside
	// the Backend interface (e.g. a cache eviction), which is why it is a
	// method on the handle rather than only a Backend function.
	Release()
}

// Op is one of the image post-processing operation variants.
type Op int

const (
	OpInvertColorAll Op = iota
	OpDimAll
	OpApplyAlpha
	OpApplyAlphaAll
	OpResizeTile
)

// ErrImageBindFailed is wrapped by a Backend's BindPixmap error to let
// callers distinguish a recoverable per-window bind failure
// from every other kind of backend error.
var ErrImageBindFailed = errors.New("backend: image bind failed")

// VisualInfo carries the X visual metadata BindPixmap needs: bit depth and
// whether the visual carries an alpha channel.
type VisualInfo struct {
	Depth    uint8
	HasAlpha bool
}

// Backend is the capability set the compositor core depends on. A session binds exactly one Backend implementation for its
// lifetime, chosen at init; root_change may swap it.
type Backend interface {
	// Deinit releases every backend-owned resource. Called once, always
	// paired with a successful Init.
	Deinit() error

	BindPixmap(pixmapID uint32, visual VisualInfo, owned bool) (Image, error)
	ReleaseImage(img Image)

	Compose(img Image, dstX, dstY int, regPaint, regVisible *region.Region)

	RenderShadow(w, h int, kernelValues []float32, kernelRadius int, c color.NRGBA) (Image, error)

	// Blur applies the configured convolution pass(es) within regBlur,
	// returning false if the backend could not perform the blur (the
	// caller falls back to drawing without it).
	Blur(opacity float64, regBlur, regVisible *region.Region) bool

	// Fill is optional; backends that don't support a debug overlay may
	// return ErrUnsupported.
	Fill(c color.NRGBA, reg *region.Region) error

	Present() error

	ImageOp(op Op, img Image, regOp, regVisible *region.Region, args any) bool

	IsImageTransparent(img Image) bool

	// BufferAge returns the age of the buffer about to be painted into,
	// or -1 for an empty/unknown-history buffer.
	BufferAge() int
	// MaxBufferAge is a constant property of the backend, >= 1.
	MaxBufferAge() int
}

// ErrUnsupported is returned by optional Backend methods a given
// implementation doesn't provide.
var ErrUnsupported = errors.New("backend: operation not supported")

// EventSource lets a Backend integrate with the reactor, kept as a separate, optional
// interface so test doubles that never need it can skip implementing it.
type EventSource interface {
	HandleEvents()
	SetReadyCallback(cb func())
}

// RootChanger is an optional in-place root resize hook; a Backend
// that doesn't implement it is deinit'd and reinit'd by the core on a root
// geometry change instead.
type RootChanger interface {
	RootChange(overlay uint32, width, height int) (Backend, error)
}
