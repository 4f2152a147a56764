// Package session holds the process-wide compositor state: everything that is not owned by an individual window.
package session

import (
	"image"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"

	"github.com/xcompd/xcompd/internal/backend"
	"github.com/xcompd/xcompd/internal/damage"
	"github.com/xcompd/xcompd/internal/matcher"
	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/shadow"
	"github.com/xcompd/xcompd/internal/window"
	"github.com/xcompd/xcompd/internal/xatom"
	"github.com/xcompd/xcompd/internal/xerr"
)

// Config is the live, hot-reloadable configuration snapshot consulted by
// preprocess and paint every frame. It intentionally holds only compositor
// engine knobs; command-line/file parsing lives in internal/config.
type Config struct {
	FadeConfig    window.FadeConfig
	OpacityConfig window.OpacityConfig

	ShadowEnabled   bool
	ShadowRadius    int
	ShadowOpacity   float64
	ShadowOffsetX   int
	ShadowOffsetY   int
	ShadowRed       float64
	ShadowGreen     float64
	ShadowBlue      float64
	ClipShadowAboveFn func(matcher.Subject) bool

	BlurBackgroundFixed bool
	BlurKernelPasses    int

	InactiveDim      float64
	InactiveDimFixed bool

	UnredirIfPossible    bool
	UnredirDelay         time.Duration
	UnredirExcludeRootFn func(matcher.Subject) bool

	TrackFocus        bool
	SWOpacity         bool
	Benchmark         bool
	BenchmarkPaints   int
	RefreshRate       int

	// ForceWinOpacity holds per-window opacity forces written by the
	// control surface; a present key pins that window's target (absent ==
	// UNSET). Consulted by OpacityConfigFor on every target recompute.
	ForceWinOpacity map[uint32]float64

	// NoFadeMatch is the fade blacklist: a window it matches snaps to its
	// target opacity instead of animating. Nil means nothing is
	// blacklisted.
	NoFadeMatch func(*window.Window) bool
}

// OpacityConfigFor returns the opacity tunables for one window, with any
// per-window force override from the control surface folded in.
func (c *Config) OpacityConfigFor(id uint32) window.OpacityConfig {
	oc := c.OpacityConfig
	if v, ok := c.ForceWinOpacity[id]; ok {
		oc.ForceOpacity = &v
	}
	return oc
}

// DefaultConfig mirrors the reference compositor's out-of-the-box tunables.
func DefaultConfig() Config {
	return Config{
		FadeConfig: window.FadeConfig{
			FadeDelta:   10 * time.Millisecond,
			FadeInStep:  0.028,
			FadeOutStep: 0.03,
		},
		OpacityConfig: window.OpacityConfig{
			ActiveOpacity:   1.0,
			InactiveOpacity: 1.0,
		},
		ShadowEnabled: true,
		ShadowRadius:  12,
		ShadowOpacity: 0.75,
		ShadowOffsetX: -15,
		ShadowOffsetY: -15,
		InactiveDim:   0,
		UnredirDelay:  0,
		RefreshRate:   60,
	}
}

// RootChangePending tracks a geometry or backend change that must be applied
// on the next safe point in the frame loop rather than from inside an event
// handler.
type RootChangePending struct {
	Width, Height int
	Pending       bool
}

// Session is the compositor's process-wide state.
type Session struct {
	Conn *xgb.Conn
	Root xproto.Window

	Overlay     xproto.Window
	HasOverlay  bool
	ScreenRect  image.Rectangle

	// MonitorRegions are the per-monitor rectangles from RandR/Xinerama,
	// used to crop a window's shadow to the monitor it sits on. Empty when
	// neither extension is available; shadows then clip to ScreenRect only.
	MonitorRegions []image.Rectangle

	Atoms *xatom.Cache

	Registry *registry.Registry
	Windows  map[registry.ID]*window.Window

	Redirected bool
	DamageRing *damage.Ring

	Backend backend.Backend

	RootTile *shadow.RootTile

	ActiveWin    registry.ID
	ActiveLeader uint32

	ShadowKernel *shadow.Kernel

	Config Config

	PendingRootChange RootChangePending

	IgnoreList xerr.List

	Matcher matcher.Evaluator

	FadeRunning bool

	// UnredirTimerDeadline is non-zero while the unredirect grace timer
	// is armed.
	UnredirTimerDeadline time.Time
	UnredirTimerArmed    bool

	// BindStaleImage rebinds a window's backend image after its pixmap
	// went stale (a resize, a Shape change). Wired by cmd/xcompd at
	// startup; nil in tests that never exercise image rebind.
	BindStaleImage func(w *window.Window)

	// FetchRootTile re-reads the desktop background pixmap after a
	// _XROOTPMAP_ID/_XSETROOT_ID change on the root window. Wired by
	// cmd/xcompd; nil leaves RootTile as-is.
	FetchRootTile func()
}

// New returns a Session with its registry, window map and default config
// initialized; the X-facing fields are filled in by the connect/init
// sequence in cmd/xcompd.
func New() *Session {
	return &Session{
		Registry: registry.New(),
		Windows:  make(map[registry.ID]*window.Window),
		Config:   DefaultConfig(),
		Matcher:  matcher.Noop{},
	}
}

// Window looks up a tracked window by id, or nil.
func (s *Session) Window(id registry.ID) *window.Window {
	return s.Windows[id]
}

// ForgetWindow drops the window-map entry for id; the registry node is
// unlinked separately by Registry.FinishDestroy. Used by finish_destroy once
// a window's fade-out has reached zero.
func (s *Session) ForgetWindow(id registry.ID) {
	delete(s.Windows, id)
}
