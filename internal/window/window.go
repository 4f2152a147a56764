// Package window implements the per-window lifecycle state machine and
// opacity-target computation. A Window is a tagged
// variant over State; every exhaustive switch in this package has a
// `default: panic` arm so a new state added to the enum is caught at the
// first call site that forgets it, not silently mishandled at runtime.
package window

import (
	"image"
	"math"
	"time"

	"github.com/xcompd/xcompd/internal/region"
	"github.com/xcompd/xcompd/internal/wintype"
)

// State is the window's lifecycle state.
type State int

const (
	Unmapped State = iota
	Mapping
	Mapped
	Fading
	Unmapping
	Destroying
)

func (s State) String() string {
	switch s {
	case Unmapped:
		return "UNMAPPED"
	case Mapping:
		return "MAPPING"
	case Mapped:
		return "MAPPED"
	case Fading:
		return "FADING"
	case Unmapping:
		return "UNMAPPING"
	case Destroying:
		return "DESTROYING"
	default:
		panic("window: unhandled state in String")
	}
}

// OpacitySource records why Window.OpacityTgt has its current value, per
// the opacity-source flag.
type OpacitySource int

const (
	OpacityNone OpacitySource = iota
	OpacityProperty
	OpacityRule
	OpacityTypeDefault
	OpacityActive
	OpacityInactive
)

// Mode is the per-frame paint classification computed in preprocess
//.
type Mode int

const (
	ModeSolid Mode = iota
	ModeFrameTrans
	ModeTrans
)

// Paint fade/opacity tuning, the values a Window.StepFade call needs.
// FadeDelta is the minimum wall-clock interval between fade ticks;
// FadeInStep/FadeOutStep are the opacity deltas applied per elapsed tick.
type FadeConfig struct {
	FadeDelta   time.Duration
	FadeInStep  float64
	FadeOutStep float64
}

// OpacityConfig carries the compositor-wide opacity tunables consulted by
// the opacity priority table.
type OpacityConfig struct {
	InactiveOpacityOverride bool
	ActiveOpacity           float64
	InactiveOpacity         float64
	ForceOpacity            *float64 // control-surface force override (UNSET == nil)
}

// Window is the compositor's per-window record.
type Window struct {
	ID     uint32
	Client uint32 // client-window id; equals ID when the toplevel carries WM_STATE itself

	// Geometry
	X, Y                       int32
	Width, Height, BorderWidth uint32

	MapState bool // X map state, independent of the lifecycle State below
	State    State

	WinType wintype.Type

	Opacity       float64
	OpacityTgt    float64
	OpacitySource OpacitySource
	Focused       bool

	BoundingShape *region.Region // window-local coordinates
	HasAlpha      bool

	FrameExtentTop, FrameExtentRight, FrameExtentBottom, FrameExtentLeft uint32
	FrameOpacity                                                        float64

	Shadow        bool
	ShadowOpacity float64
	InvertColor   bool
	BlurBG        bool
	Dim           bool

	EverDamaged bool
	StaleImage  bool
	ImageError  bool

	RegIgnore      *region.Shared
	RegIgnoreValid bool
	// PaintedSolid records whether this window contributed its extents to
	// the reg_ignore accumulator on the previous pass; a flip expires the
	// caches of every window below it.
	PaintedSolid bool

	PaintExcluded   bool // rule cache
	UnredirExcluded bool // rule cache

	Leader      uint32
	CacheLeader bool

	Mode    Mode
	ToPaint bool

	// Image is the backend-owned bound pixmap handle, opaque to this
	// package. It is nil whenever State == Unmapped.
	Image any
	// ShadowImage is the lazily built drop-shadow handle, sized to the
	// window plus twice the shadow radius. Invalidated on resize.
	ShadowImage any
	// ShadowImageAlpha is the opacity baked into ShadowImage when it was
	// rendered; a differing current shadow opacity forces a rebuild.
	ShadowImageAlpha uint8

	lastStepTime time.Time
	stepSet      bool
}

// New returns a freshly created, UNMAPPED window.
func New(id uint32) *Window {
	return &Window{ID: id, Client: id, State: Unmapped, FrameOpacity: 1}
}

// Extents returns the window's on-screen rectangle.
func (w *Window) Extents() image.Rectangle {
	x, y := int(w.X), int(w.Y)
	width := int(w.Width) + 2*int(w.BorderWidth)
	height := int(w.Height) + 2*int(w.BorderWidth)
	return image.Rect(x, y, x+width, y+height)
}

// Map transitions UNMAPPED -> MAPPING. Calling Map on any other state is a
// caller error (double map); the transition table has no such edge.
func (w *Window) Map() {
	if w.State != Unmapped {
		panic("window: Map called outside UNMAPPED")
	}
	w.State = Mapping
	w.MapState = true
	w.stepSet = false
}

// Unmap transitions MAPPED/MAPPING/FADING -> UNMAPPING, forcing the target
// opacity to zero immediately.
func (w *Window) Unmap() {
	switch w.State {
	case Mapped, Mapping, Fading:
		w.State = Unmapping
		w.MapState = false
		w.OpacityTgt = 0
		w.OpacitySource = OpacityNone
		w.stepSet = false
	case Unmapped, Unmapping, Destroying:
		// already heading toward/at unmapped; nothing to do.
	default:
		panic("window: unhandled state in Unmap")
	}
}

// Destroy transitions any state to DESTROYING, forcing the target opacity to
// zero.
func (w *Window) Destroy() {
	if w.State == Destroying {
		return
	}
	w.State = Destroying
	w.OpacityTgt = 0
	w.OpacitySource = OpacityNone
	w.stepSet = false
}

// RecomputeTarget applies the opacity priority table. It is a no-op
// for DESTROYING/UNMAPPING windows, whose target is pinned to zero by
// Destroy/Unmap.
func (w *Window) RecomputeTarget(cfg OpacityConfig, defaults wintype.Defaults, propOpacity float64, propOK bool) {
	if w.State == Destroying || w.State == Unmapping {
		return
	}

	switch {
	case cfg.ForceOpacity != nil:
		w.OpacityTgt = *cfg.ForceOpacity
		w.OpacitySource = OpacityRule
	case cfg.InactiveOpacityOverride && !w.Focused:
		w.OpacityTgt = cfg.InactiveOpacity
		w.OpacitySource = OpacityInactive
	case propOK:
		w.OpacityTgt = propOpacity
		w.OpacitySource = OpacityProperty
	case !math.IsNaN(defaults.Opacity):
		w.OpacityTgt = defaults.Opacity
		w.OpacitySource = OpacityTypeDefault
	case w.Focused:
		w.OpacityTgt = cfg.ActiveOpacity
		w.OpacitySource = OpacityActive
	case !w.Focused:
		w.OpacityTgt = cfg.InactiveOpacity
		w.OpacitySource = OpacityInactive
	default:
		w.OpacityTgt = 1.0
		w.OpacitySource = OpacityNone
	}

	if w.OpacityTgt != w.Opacity && w.State == Mapped {
		w.State = Fading
	}
}

// SkipFade snaps opacity straight to target, implementing the fade-skip rule
// (redirection off, or a no-fade rule match).
func (w *Window) SkipFade() {
	w.Opacity = w.OpacityTgt
	w.stepSet = false
}

// StepFade advances the fade state machine at wall-clock now. It
// returns true if opacity changed.
func (w *Window) StepFade(now time.Time, cfg FadeConfig) bool {
	if w.Opacity == w.OpacityTgt {
		return false
	}

	if !w.stepSet {
		w.lastStepTime = now
		w.stepSet = true
		return false
	}

	elapsed := now.Sub(w.lastStepTime)
	if cfg.FadeDelta <= 0 || elapsed < cfg.FadeDelta {
		return false
	}
	steps := int64(elapsed / cfg.FadeDelta)
	w.lastStepTime = w.lastStepTime.Add(time.Duration(steps) * cfg.FadeDelta)

	before := w.Opacity
	if w.OpacityTgt > w.Opacity {
		w.Opacity += float64(steps) * cfg.FadeInStep
		if w.Opacity > w.OpacityTgt {
			w.Opacity = w.OpacityTgt
		}
	} else {
		w.Opacity -= float64(steps) * cfg.FadeOutStep
		if w.Opacity < w.OpacityTgt {
			w.Opacity = w.OpacityTgt
		}
	}
	return w.Opacity != before
}

// CheckFadeFinished advances the lifecycle state machine once opacity has
// reached its target, implementing the fade-done transitions.
// It returns true when the window has reached DESTROYING's terminal point
// and should be freed by the caller (finish_destroy).
func (w *Window) CheckFadeFinished() (shouldFree bool) {
	if w.Opacity != w.OpacityTgt {
		return false
	}

	switch w.State {
	case Mapping, Fading:
		w.State = Mapped
		return false
	case Unmapping:
		w.State = Unmapped
		w.Image = nil
		w.ShadowImage = nil
		return false
	case Destroying:
		return true
	case Unmapped, Mapped:
		return false
	default:
		panic("window: unhandled state in CheckFadeFinished")
	}
}
