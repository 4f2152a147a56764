package config

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jinzhu/copier"

	"github.com/xcompd/xcompd/internal/bus"
	"github.com/xcompd/xcompd/internal/session"
)

type Driver interface {
	Exists() (bool, error)
	Write(config Config) error
	Read() (Config, error)
}

func NewStore(driver Driver) (Store, error) {
	exists, err := driver.Exists()
	if err != nil {
		return Store{}, err
	}
	if !exists {
		if err := driver.Write(defaultConfig); err != nil {
			return Store{}, err
		}
	}

	return Store{
		driver: driver,
	}, nil
}

type Store struct {
	driver Driver
}

func (p *Store) GetConfig() (Config, error) {
	return p.driver.Read()
}

func (p *Store) UpdateConfig(fn func(cfg Config) (Config, error)) error {
	cfg, err := p.driver.Read()
	if err != nil {
		return err
	}

	cfg, err = fn(cfg)
	if err != nil {
		return err
	}

	return p.driver.Write(cfg)
}

// Reloaded is published on the bus every time the watcher below picks up a
// changed config file and successfully parses it.
type Reloaded struct {
	Config Config
}

// Watch watches filePath with fsnotify and republishes Reloaded on every
// write, debouncing the double-events some editors/package managers emit
// by coalescing anything within 100ms. It returns a stop func; the caller
// owns the watcher's lifetime.
func Watch(filePath string, driver Driver) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filePath); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					cfg, err := driver.Read()
					if err != nil {
						slog.Error("config: reload failed", "error", err)
						return
					}
					bus.Publish(Reloaded{Config: cfg})
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config: watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// Snapshot deep-copies cfg via copier so a reload in progress never shares
// backing storage with the value published on the bus (Config holds only
// scalars and strings today, so the copy equals a plain value copy).
func Snapshot(cfg Config) Config {
	var dst Config
	if err := copier.Copy(&dst, &cfg); err != nil {
		// copier only fails here on a struct shape bug, not bad data; a
		// plain value copy is always a safe fallback.
		return cfg
	}
	return dst
}

// ToSession translates the on-disk tunables onto session.Config's engine
// knobs. It never sets the func-valued matcher hooks (ClipShadowAboveFn,
// UnredirExcludeRootFn, NoFadeMatch); cmd/xcompd wires those against the
// session's matcher.Evaluator at startup and again after every reload.
func ToSession(cfg Config) session.Config {
	sc := session.DefaultConfig()

	sc.FadeConfig.FadeDelta = time.Duration(cfg.FadeDeltaMs) * time.Millisecond
	sc.FadeConfig.FadeInStep = cfg.FadeInStep
	sc.FadeConfig.FadeOutStep = cfg.FadeOutStep

	sc.OpacityConfig.ActiveOpacity = cfg.ActiveOpacity
	sc.OpacityConfig.InactiveOpacity = cfg.InactiveOpacity
	sc.OpacityConfig.InactiveOpacityOverride = cfg.InactiveOpacityOverride

	sc.ShadowEnabled = cfg.Shadow
	sc.ShadowRadius = cfg.ShadowRadius
	sc.ShadowOpacity = cfg.ShadowOpacity
	sc.ShadowOffsetX = cfg.ShadowOffsetX
	sc.ShadowOffsetY = cfg.ShadowOffsetY
	sc.ShadowRed = cfg.ShadowRed
	sc.ShadowGreen = cfg.ShadowGreen
	sc.ShadowBlue = cfg.ShadowBlue

	sc.BlurBackgroundFixed = cfg.BlurBackgroundFixed
	sc.BlurKernelPasses = cfg.BlurKernelPasses

	sc.InactiveDim = cfg.InactiveDim
	sc.InactiveDimFixed = cfg.InactiveDimFixed

	sc.UnredirIfPossible = cfg.UnredirIfPossible
	sc.UnredirDelay = time.Duration(cfg.UnredirDelayMs) * time.Millisecond

	sc.TrackFocus = cfg.TrackFocus
	sc.SWOpacity = cfg.SWOpacity
	sc.Benchmark = cfg.Benchmark
	sc.BenchmarkPaints = cfg.BenchmarkPaints
	if cfg.RefreshRate > 0 {
		sc.RefreshRate = cfg.RefreshRate
	}

	return sc
}
