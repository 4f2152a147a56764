// Package sutureext adapts suture supervision to slog-based services:
// event-hook logging, a func-backed Service, and error sanitizing so a
// wrapped context error from a service body doesn't read as a shutdown
// request to the supervisor.
package sutureext

import (
	"context"
	"errors"
	"log/slog"

	"github.com/thejerf/suture/v4"
)

func NewSimple(name string) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook: EventHook(),
	})
}

func EventHook() suture.EventHook {
	return func(ei suture.Event) {
		switch e := ei.(type) {
		case suture.EventStopTimeout:
			slog.Warn("Service did not stop in time",
				slog.String("supervisor", e.SupervisorName), slog.String("service", e.ServiceName))
		case suture.EventServicePanic:
			slog.Error("Service panicked", slog.String("panic", e.PanicMsg))
			slog.Debug(e.Stacktrace)
		case suture.EventServiceTerminate:
			slog.Error("Service terminated",
				slog.Any("error", e.Err),
				slog.String("supervisor", e.SupervisorName), slog.String("service", e.ServiceName))
		case suture.EventBackoff:
			slog.Debug("Supervisor entering backoff", slog.String("supervisor", e.SupervisorName))
		case suture.EventResume:
			slog.Debug("Supervisor leaving backoff", slog.String("supervisor", e.SupervisorName))
		default:
			slog.Warn("Unhandled supervisor event", "type", int(e.Type()))
		}
	}
}

// Service requires a String method so supervisor logs name the service.
type Service interface {
	String() string
	suture.Service
}

func Add(super *suture.Supervisor, service Service) suture.ServiceToken {
	return super.Add(sanitized{Service: service})
}

type sanitized struct {
	Service
}

func (s sanitized) Serve(ctx context.Context) error {
	return SanitizeError(ctx, s.Service.Serve(ctx))
}

// SanitizeError rewraps err so that a context error returned while ctx is
// still live does not read as a shutdown signal to suture, which would
// otherwise stop the service instead of restarting it. The restart-control
// sentinels survive the rewrap.
func SanitizeError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	wrapped := []error{errors.New(err.Error())}
	if errors.Is(err, suture.ErrDoNotRestart) {
		wrapped = append(wrapped, suture.ErrDoNotRestart)
	}
	if errors.Is(err, suture.ErrTerminateSupervisorTree) {
		wrapped = append(wrapped, suture.ErrTerminateSupervisorTree)
	}
	return errors.Join(wrapped...)
}

type ServiceFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func NewServiceFunc(name string, fn func(ctx context.Context) error) ServiceFunc {
	return ServiceFunc{name: name, fn: fn}
}

func (s ServiceFunc) String() string { return s.name }

func (s ServiceFunc) Serve(ctx context.Context) error { return s.fn(ctx) }
