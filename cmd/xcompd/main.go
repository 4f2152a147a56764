package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/google/uuid"
	"github.com/jezek/xgb"
	xdamage "github.com/jezek/xgb/damage"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/shape"
	"github.com/jezek/xgb/xproto"
	"github.com/joho/godotenv"
	"github.com/phsym/console-slog"

	"github.com/xcompd/xcompd/closer"
	"github.com/xcompd/xcompd/internal/backend/xrender"
	"github.com/xcompd/xcompd/internal/build"
	"github.com/xcompd/xcompd/internal/bus"
	"github.com/xcompd/xcompd/internal/config"
	compdamage "github.com/xcompd/xcompd/internal/damage"
	"github.com/xcompd/xcompd/internal/dispatch"
	"github.com/xcompd/xcompd/internal/httpdebug"
	"github.com/xcompd/xcompd/internal/matcher"
	"github.com/xcompd/xcompd/internal/pidfile"
	"github.com/xcompd/xcompd/internal/reactor"
	"github.com/xcompd/xcompd/internal/redirect"
	"github.com/xcompd/xcompd/internal/region"
	"github.com/xcompd/xcompd/internal/registry"
	"github.com/xcompd/xcompd/internal/scheduler"
	"github.com/xcompd/xcompd/internal/session"
	"github.com/xcompd/xcompd/internal/shadow"
	"github.com/xcompd/xcompd/internal/window"
	"github.com/xcompd/xcompd/internal/xatom"
	"github.com/xcompd/xcompd/pkg/sutureext"
)

type Options struct {
	Debug     bool   `doc:"enable debug logging"`
	DebugAddr string `doc:"introspection server listen address, e.g. 127.0.0.1:8080 (empty disables)"`
	Config    string `doc:"config file" default:".xcompd.yaml"`
	Display   string `doc:"X display to connect to (defaults to $DISPLAY)"`
	Screen    int    `doc:"X screen number" default:"0"`
	Benchmark int    `doc:"paint this many frames then exit (0 disables)"`
}

func main() {
	godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		if options.Debug {
			initLogger(slog.LevelDebug)
		} else {
			initLogger(slog.LevelInfo)
		}

		onServe(hooks, func(ctx context.Context) error {
			bus.SetContext(ctx)
			return run(ctx, options)
		})
	})

	cli.Root().Version = build.Current.Version

	cli.Run()
}

func run(ctx context.Context, options *Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.SetDefault(slog.Default().With("session", uuid.NewString()))
	slog.Info("starting", "build", build.Current.String())

	configFilePath, err := filepath.Abs(options.Config)
	if err != nil {
		return err
	}

	driver := config.NewDriver(configFilePath)
	store, err := config.NewStore(driver)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fileCfg, err := store.GetConfig()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	if fileCfg.PidFile != "" {
		if err := pidfile.Write(fileCfg.PidFile); err != nil {
			return err
		}
		defer pidfile.Remove(fileCfg.PidFile)
	}

	conn, err := xgb.NewConnDisplay(options.Display)
	if err != nil {
		return fmt.Errorf("connect to X server: %w", err)
	}
	defer conn.Close()

	if err := xdamage.Init(conn); err != nil {
		return fmt.Errorf("Damage extension unavailable: %w", err)
	}
	if err := shape.Init(conn); err != nil {
		return fmt.Errorf("Shape extension unavailable: %w", err)
	}
	hasRandr := true
	if err := randr.Init(conn); err != nil {
		slog.Warn("RandR unavailable, shadows clip to the whole screen", "error", err)
		hasRandr = false
	}

	sess := session.New()
	sess.Conn = conn
	sess.Config = config.ToSession(fileCfg)
	if options.Benchmark > 0 {
		sess.Config.Benchmark = true
		sess.Config.BenchmarkPaints = options.Benchmark
	}
	sess.Matcher = matcher.Noop{}
	wireRuleFns(sess)

	setup := xproto.Setup(conn)
	screenNum := options.Screen
	if screenNum < 0 || screenNum >= len(setup.Roots) {
		screenNum = conn.DefaultScreen
	}
	screen := setup.Roots[screenNum]
	sess.Root = screen.Root
	sess.ScreenRect = image.Rect(0, 0, int(screen.WidthInPixels), int(screen.HeightInPixels))

	sess.Atoms = xatom.NewCache(conn)
	if err := sess.Atoms.MustPreload(); err != nil {
		return fmt.Errorf("preload atoms: %w", err)
	}

	cmAtomName := fmt.Sprintf("_NET_WM_CM_S%d", screenNum)
	cmAtom, err := sess.Atoms.Atom(cmAtomName)
	if err != nil {
		return fmt.Errorf("intern %s: %w", cmAtomName, err)
	}
	if err := redirect.AcquireSelection(conn, cmAtom, screen.Root); err != nil {
		return err
	}
	if err := sess.Atoms.SetVersion(screen.Root, build.Current.Version); err != nil {
		slog.Warn("set COMPTON_VERSION failed", "error", err)
	}
	if err := sess.Atoms.SetPid(screen.Root, uint32(os.Getpid())); err != nil {
		slog.Warn("set _NET_WM_PID failed", "error", err)
	}

	redirectCtl := redirect.New(conn)
	if err := redirectCtl.NegotiateVersion(); err != nil {
		return err
	}
	overlay, err := redirectCtl.AcquireOverlay(screen.Root)
	if err != nil {
		return err
	}
	sess.Overlay = overlay
	sess.HasOverlay = true

	formatARGB, formatRGB, err := xrender.FindStandardFormats(conn)
	if err != nil {
		return err
	}
	rend, err := xrender.Init(conn, xproto.Drawable(overlay), sess.ScreenRect.Dx(), sess.ScreenRect.Dy(), formatARGB, formatRGB)
	if err != nil {
		return err
	}
	defer func() { rend.Deinit() }()
	sess.Backend = rend

	sess.ShadowKernel = shadow.NewGaussian(sess.Config.ShadowRadius, float32(sess.Config.ShadowRadius)/2.0)
	sess.BindStaleImage = func(w *window.Window) {
		redirect.BindOrMarkError(sess, w)
	}
	sess.FetchRootTile = func() { fetchRootTile(sess) }
	sess.FetchRootTile()

	rootMask := uint32(xproto.EventMaskSubstructureNotify |
		xproto.EventMaskStructureNotify |
		xproto.EventMaskExposure |
		xproto.EventMaskPropertyChange)
	if err := xproto.ChangeWindowAttributesChecked(conn, screen.Root, xproto.CwEventMask, []uint32{rootMask}).Check(); err != nil {
		return fmt.Errorf("select root events: %w", err)
	}
	if hasRandr {
		if err := randr.SelectInputChecked(conn, screen.Root, randr.NotifyMaskScreenChange).Check(); err != nil {
			slog.Warn("RandR select input failed", "error", err)
		}
		fetchMonitors(sess)
	}

	disp := dispatch.New()
	if err := scanExistingWindows(sess, disp); err != nil {
		return fmt.Errorf("scan existing windows: %w", err)
	}

	if err := redirect.Start(sess); err != nil {
		return fmt.Errorf("start redirection: %w", err)
	}

	// A SIGINT can arrive while suture's own shutdown sequence is still
	// tearing down services; subwindow redirection, the overlay window and
	// the PID file must be released even then, not only on the clean
	// context-cancellation path.
	cleanupID := closer.Add(func() error {
		_ = redirect.Stop(sess)
		_ = redirectCtl.ReleaseOverlay(screen.Root)
		return pidfile.Remove(fileCfg.PidFile)
	})
	defer closer.Remove(cleanupID)

	var sched *scheduler.Scheduler
	disp.RequestRedraw = func() {
		if sched != nil {
			sched.QueueRedraw()
		}
	}
	disp.RequestRootReinit = func(width, height int) {
		sess.PendingRootChange = session.RootChangePending{Width: width, Height: height, Pending: true}
	}
	disp.RequestExit = cancel
	disp.RefetchMonitors = func() {
		if hasRandr {
			fetchMonitors(sess)
		}
	}

	react := reactor.New(ctx, conn, func() {})
	sched = scheduler.New(sess, react, func(ev any) { disp.Dispatch(sess, ev) })
	sched.StopRedirect = func() {
		if err := redirect.Stop(sess); err != nil {
			slog.Error("stop redirection failed", "error", err)
		}
	}
	sched.Quit = cancel
	sched.RootChange = func(width, height int) {
		sess.ScreenRect = image.Rect(0, 0, width, height)
		if err := rend.Deinit(); err != nil {
			slog.Warn("backend deinit failed", "error", err)
		}
		newRend, err := xrender.Init(conn, xproto.Drawable(overlay), width, height, formatARGB, formatRGB)
		if err != nil {
			slog.Error("backend reinit after root change failed", "error", err)
			cancel()
			return
		}
		rend = newRend
		sess.Backend = rend
	}

	stopWatch, err := config.Watch(configFilePath, driver)
	if err != nil {
		slog.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}
	bus.Subscribe("config-reload", func(ctx context.Context, ev config.Reloaded) error {
		cfg := config.ToSession(config.Snapshot(ev.Config))
		cfg.ForceWinOpacity = sess.Config.ForceWinOpacity
		sess.Config = cfg
		wireRuleFns(sess)
		if sess.DamageRing != nil {
			sess.DamageRing.Add(compdamage.Screen(region.NewRect(sess.ScreenRect), sess.ScreenRect))
		}
		if sched != nil {
			sched.QueueRedraw()
		}
		slog.Info("config reloaded", "path", configFilePath)
		return nil
	})

	super := sutureext.NewSimple("xcompd")
	if options.DebugAddr != "" {
		sutureext.Add(super, sutureext.NewServiceFunc("debugserver", func(ctx context.Context) error {
			return serveDebug(ctx, sess, options)
		}))
	}
	sutureext.Add(super, sutureext.NewServiceFunc("eventloop", func(ctx context.Context) error {
		return eventLoop(ctx, sess, sched, react)
	}))

	return super.Serve(ctx)
}

// eventLoop is the single-threaded heart of the compositor: every 5ms it
// runs one Prepare (dispatching the events the reactor's background
// goroutine queued) followed by any pending idle callback.
func eventLoop(ctx context.Context, sess *session.Session, sched *scheduler.Scheduler, react *reactor.XGB) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sched.Prepare()
			react.RunIdle()
		}
	}
}

func serveDebug(ctx context.Context, sess *session.Session, options *Options) error {
	router := httpdebug.NewRouter(sess, time.Second)

	srv := &http.Server{Addr: options.DebugAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("debug server listening", "addr", options.DebugAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// wireRuleFns points the session's func-valued rule hooks at the live
// matcher. Re-run after every config reload since ToSession returns a fresh
// Config with nil hooks.
func wireRuleFns(sess *session.Session) {
	sess.Config.ClipShadowAboveFn = func(s matcher.Subject) bool {
		return sess.Matcher.MatchBool("clip-shadow-above", s)
	}
	sess.Config.UnredirExcludeRootFn = func(s matcher.Subject) bool {
		return sess.Matcher.MatchBool("unredir-exclude-root", s)
	}
	sess.Config.NoFadeMatch = func(w *window.Window) bool {
		return sess.Matcher.MatchBool("no-fade", matcher.Subject{
			ID:       w.ID,
			WinType:  w.WinType.String(),
			HasAlpha: w.HasAlpha,
			Focused:  w.Focused,
			Leader:   w.Leader,
		})
	}
}

// scanExistingWindows adopts every pre-existing child of root so windows
// mapped before the compositor started are tracked and painted. QueryTree
// returns children bottom-to-top, so each child is inserted above the one
// before it.
func scanExistingWindows(sess *session.Session, disp *dispatch.Dispatcher) error {
	tree, err := xproto.QueryTree(sess.Conn, sess.Root).Reply()
	if err != nil {
		return err
	}
	var prev registry.ID
	for _, child := range tree.Children {
		if sess.HasOverlay && child == sess.Overlay {
			continue
		}
		attrs, err := xproto.GetWindowAttributes(sess.Conn, child).Reply()
		if err != nil || attrs.Class == xproto.WindowClassInputOnly {
			continue
		}
		geom, err := xproto.GetGeometry(sess.Conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}
		disp.AddExisting(sess, child, prev, geom.X, geom.Y, geom.Width, geom.Height,
			geom.BorderWidth, geom.Depth, attrs.MapState == xproto.MapStateViewable)
		prev = registry.ID(child)
	}
	slog.Info("adopted existing windows", "count", sess.Registry.Len())
	return nil
}

// fetchMonitors refreshes the per-monitor rectangles used to crop shadows
// at monitor boundaries.
func fetchMonitors(sess *session.Session) {
	res, err := randr.GetScreenResourcesCurrent(sess.Conn, sess.Root).Reply()
	if err != nil {
		slog.Warn("RandR screen resources query failed", "error", err)
		sess.MonitorRegions = nil
		return
	}
	var regions []image.Rectangle
	for _, crtc := range res.Crtcs {
		info, err := randr.GetCrtcInfo(sess.Conn, crtc, res.ConfigTimestamp).Reply()
		if err != nil || info.Width == 0 || info.Height == 0 {
			continue
		}
		regions = append(regions, image.Rect(int(info.X), int(info.Y),
			int(info.X)+int(info.Width), int(info.Y)+int(info.Height)))
	}
	sess.MonitorRegions = regions
}

// fetchRootTile resolves the desktop background into the session's root
// tile. The full wallpaper pixmap is not read back; a one-pixel sample
// gives the fill color, which is all the paint pass composes beneath
// window bodies.
func fetchRootTile(sess *session.Session) {
	fallback := shadow.NewSolidTile(color.NRGBA{A: 255})

	pixmap, ok := sess.Atoms.RootPixmap(sess.Root)
	if !ok {
		sess.RootTile = fallback
		return
	}
	reply, err := xproto.GetImage(sess.Conn, xproto.ImageFormatZPixmap, xproto.Drawable(pixmap),
		0, 0, 1, 1, 0xFFFFFFFF).Reply()
	if err != nil || len(reply.Data) < 3 {
		sess.RootTile = fallback
		return
	}
	// ZPixmap rows at depth 24/32 are BGRx on the wire.
	sess.RootTile = shadow.NewSolidTile(color.NRGBA{
		R: reply.Data[2], G: reply.Data[1], B: reply.Data[0], A: 255,
	})
}

func initLogger(level slog.Level) {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		Level: level,
	})))
}

func onServe(hooks humacli.Hooks, serveFn func(ctx context.Context) error) {
	stopC := make(chan struct{})
	hooks.OnStart(func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errC := make(chan error, 1)

		go func() { errC <- serveFn(ctx) }()

		select {
		case <-stopC:
			cancel()
		case err := <-errC:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Fatal(err)
			}
			return
		}

		<-errC
		<-stopC
	})
	hooks.OnStop(func() {
		stopC <- struct{}{}
		stopC <- struct{}{}
	})
}
