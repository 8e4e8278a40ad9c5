// Command parley runs a live spoken conversation with a Gemini Live model
// from the terminal, using the host microphone and speaker.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio/device"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/live/gemini"
	"github.com/MrWong99/parley/pkg/provider/live/genai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "dotenv file read before the environment")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	var level slog.LevelVar
	var application *app.App
	watched := true
	w, err := config.NewWatcher(*configPath, config.WithOnChange(func(old, new *config.Config, d config.ConfigDiff) {
		if application != nil {
			application.OnConfigChange(old, new, d)
		}
	}))
	var cfg *config.Config
	switch {
	case err == nil:
		cfg = w.Current()
	case errors.Is(err, os.ErrNotExist):
		// No file: run on defaults and the environment.
		watched = false
		if cfg, err = config.LoadFromReader(strings.NewReader("")); err != nil {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
			return 1
		}
		cfg.ResolveAPIKey()
	default:
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level.Set(app.LevelFor(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"config_found", watched,
		"transport", cfg.Live.Transport,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     prometheus.DefaultRegisterer,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otelProviders.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Transport registry ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinTransports(reg)

	// ── Audio devices ─────────────────────────────────────────────────────────
	speaker, err := device.OpenSpeaker(cfg.Audio.OutputSampleRate, cfg.Audio.SpeakerBufferMS)
	if err != nil {
		slog.Error("failed to open speaker", "err", err)
		return 1
	}
	defer func() {
		if err := speaker.Close(); err != nil {
			slog.Warn("speaker close error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLevelVar(&level),
		app.WithMetrics(metrics),
		app.WithGatherer(prometheus.DefaultGatherer),
	}
	if watched {
		opts = append(opts, app.WithWatcher(w))
	}
	application, err = app.New(cfg, reg, app.Providers{
		Microphone: device.Microphone{},
		Speaker:    speaker,
	}, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg, reg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readCommands(ctx, os.Stdin, application, cancel)
	if watched {
		go reloadOnHangup(ctx, w)
	}

	slog.Info("session starting; type r to restart, s to stop, q to quit")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Transport wiring ──────────────────────────────────────────────────────────

// registerBuiltinTransports wires the live transports that ship with parley
// into reg.
func registerBuiltinTransports(reg *config.Registry) {
	reg.Register(config.TransportWebSocket, func(lc config.LiveConfig) (live.Provider, error) {
		var opts []gemini.Option
		if lc.Model != "" {
			opts = append(opts, gemini.WithModel(lc.Model))
		}
		if lc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(lc.BaseURL))
		}
		return gemini.New(opts...), nil
	})

	reg.Register(config.TransportGenAI, func(lc config.LiveConfig) (live.Provider, error) {
		var opts []genai.Option
		if lc.Model != "" {
			opts = append(opts, genai.WithModel(lc.Model))
		}
		if lc.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(lc.BaseURL))
		}
		return genai.New(opts...), nil
	})

	for _, t := range reg.Transports() {
		slog.Debug("registered transport", "name", t)
	}
}

// ── Console commands ──────────────────────────────────────────────────────────

// readCommands handles single-letter commands typed on in until ctx ends or
// in is exhausted.
func readCommands(ctx context.Context, in io.Reader, a *app.App, quit context.CancelFunc) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "r", "restart":
			if err := a.Restart(ctx); err != nil {
				slog.Error("restart failed", "err", err)
			}
		case "s", "stop":
			if err := a.Stop(); err != nil {
				slog.Warn("stop error", "err", err)
			}
		case "q", "quit":
			quit()
			return
		case "":
		default:
			slog.Info("unknown command; type r, s or q")
		}
	}
}

// reloadOnHangup rereads the config file on SIGHUP without waiting for the
// next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if !w.Reload() {
				slog.Info("SIGHUP: configuration unchanged")
			}
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, reg *config.Registry) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         parley · startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Transport", string(cfg.Live.Transport))
	printField("Model", cfg.Live.Model)
	printField("Voice", cfg.Live.Voice)
	printField("Tools", fmt.Sprintf("%d", len(cfg.Live.Tools)))
	printField("Input rate", fmt.Sprintf("%d Hz", cfg.Audio.InputSampleRate))
	printField("Output rate", fmt.Sprintf("%d Hz", cfg.Audio.OutputSampleRate))
	if cfg.Live.APIKey == "" {
		printField("API key", "(missing)")
	} else {
		printField("API key", "(set)")
	}
	if cfg.Reporting.SentryDSN != "" {
		printField("Reporting", "sentry")
	}
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	printField("Transports", strings.Join(transportNames(reg), ","))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value, 19))
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func transportNames(reg *config.Registry) []string {
	ts := reg.Transports()
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
