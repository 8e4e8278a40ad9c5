// Package app wires parley's subsystems into a running application.
//
// The App struct owns the full lifecycle: New assembles the orchestrator,
// presenter and operator endpoints, Run executes the session alongside the
// health listener and config watcher, and Shutdown tears everything down.
//
// Devices and the live provider are injected through [Providers] so tests
// can substitute fakes; main.go populates them from the transport registry
// and the host audio devices.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/fault"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/status"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// serverShutdownTimeout bounds the graceful stop of the operator listener.
const serverShutdownTimeout = 5 * time.Second

// Providers holds the external collaborators. A nil Live is created from the
// registry passed to New.
type Providers struct {
	Live       live.Provider
	Microphone capture.Microphone
	Speaker    playback.Device
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers Providers

	watcher   *config.Watcher
	level     *slog.LevelVar
	metrics   *observe.Metrics
	reporter  observe.Reporter
	gatherer  prometheus.Gatherer
	out       io.Writer
	presenter *Presenter
	orch      *session.Orchestrator
	handler   http.Handler

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithWatcher makes every session start from the watcher's current config.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLevelVar lets config reloads adjust the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics records metrics on m instead of the global meter.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithReporter injects an error reporter instead of creating one from the
// reporting section.
func WithReporter(r observe.Reporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithGatherer serves /metrics from g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithOutput directs the console presenter to w. Default: stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// New creates an App. It performs all initialisation synchronously and does
// not touch the network or the audio devices; that happens in Run.
func New(cfg *config.Config, reg *config.Registry, providers Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers, out: os.Stdout}
	for _, o := range opts {
		o(a)
	}

	if a.providers.Live == nil {
		if reg == nil {
			return nil, errors.New("app: no live provider and no registry")
		}
		p, err := reg.Create(cfg.Live)
		if err != nil {
			return nil, fmt.Errorf("app: create live provider: %w", err)
		}
		a.providers.Live = p
	}
	if a.providers.Microphone == nil || a.providers.Speaker == nil {
		return nil, errors.New("app: microphone and speaker are required")
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if err := a.initReporter(); err != nil {
		return nil, fmt.Errorf("app: init reporter: %w", err)
	}

	a.presenter = NewPresenter(a.out)
	a.orch = session.New(session.Deps{
		Provider:     a.providers.Live,
		Microphone:   a.providers.Microphone,
		Speaker:      a.providers.Speaker,
		OnTranscript: a.presenter.Turn,
		OnStatus:     a.presenter.Status,
	},
		session.WithMetrics(a.metrics),
		session.WithReporter(a.reporter),
		session.WithThinkingCue(a.presenter.Thinking),
	)

	hopts := []health.Option{health.WithStatus(a.orch.Status)}
	if a.gatherer != nil {
		hopts = append(hopts, health.WithGatherer(a.gatherer))
	}
	h := health.New([]health.Checker{health.SessionChecker(a.orch.Status)}, hopts...)
	mux := http.NewServeMux()
	h.Register(mux)
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

func (a *App) initReporter() error {
	if a.reporter != nil {
		return nil
	}
	if a.cfg.Reporting.SentryDSN == "" {
		a.reporter = observe.NopReporter{}
		return nil
	}
	r, err := observe.NewSentryReporter(observe.SentryConfig{
		DSN:         a.cfg.Reporting.SentryDSN,
		Environment: a.cfg.Reporting.Environment,
	})
	if err != nil {
		return err
	}
	a.reporter = r
	a.closers = append(a.closers, func() error {
		r.Flush(2 * time.Second)
		return nil
	})
	return nil
}

// Handler returns the operator HTTP handler (/healthz, /readyz, /statusz,
// /metrics).
func (a *App) Handler() http.Handler { return a.handler }

// Status returns the current session status.
func (a *App) Status() (status.Status, string) { return a.orch.Status() }

// SessionID returns the current session's ID.
func (a *App) SessionID() string { return a.orch.SessionID() }

// config returns the config the next session starts from.
func (a *App) config() *config.Config {
	if a.watcher != nil {
		return a.watcher.Current()
	}
	return a.cfg
}

// SessionConfig converts cfg into the orchestrator's per-session config.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Live:             cfg.LiveSessionConfig(),
		FrameSize:        cfg.Audio.FrameSize,
		SendQueue:        cfg.Audio.SendQueue,
		OutputSampleRate: cfg.Audio.OutputSampleRate,
	}
}

// Run starts a session and serves the operator endpoints until ctx is
// cancelled or a component fails. A session refused with a classified error
// (for example missing credentials) leaves the status in Error and Run keeps
// going, so the session can be restarted once the cause is fixed.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error { return a.serve(gctx, addr) })
	}
	g.Go(func() error {
		if err := a.Start(gctx); err != nil {
			var fe *fault.Error
			if !errors.As(err, &fe) {
				return err
			}
			slog.Warn("session not started; restart once fixed", "kind", fe.Kind.String(), "err", err)
		}
		<-gctx.Done()
		return a.orch.Stop()
	})

	return g.Wait()
}

// Start begins a session from the current config.
func (a *App) Start(ctx context.Context) error {
	return a.orch.Start(ctx, SessionConfig(a.config()))
}

// Stop ends the current session.
func (a *App) Stop() error { return a.orch.Stop() }

// Restart stops the current session and starts a new one from the current
// config, picking up any reloaded settings.
func (a *App) Restart(ctx context.Context) error {
	if err := a.orch.Stop(); err != nil {
		slog.Warn("stopping previous session", "err", err)
	}
	return a.Start(ctx)
}

func (a *App) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("operator endpoints listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve %s: %w", addr, err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// OnConfigChange applies the parts of a reloaded config that take effect
// immediately. Everything else is picked up by the next session.
func (a *App) OnConfigChange(_, new *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LiveChanged || d.AudioChanged {
		slog.Info("session settings changed; restart the session to apply",
			"voice", new.Live.Voice,
			"transport", new.Live.Transport,
		)
	}
	if d.ListenAddrChanged || d.ReportingChanged {
		slog.Warn("config change requires a process restart", "sections", d.Sections())
	}
}

// Shutdown stops the session and runs the closers. If ctx expires before all
// closers finish, the remaining ones are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if err := a.orch.Stop(); err != nil {
			slog.Warn("session stop error", "err", err)
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// LevelFor maps a configured log level onto slog.
func LevelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
