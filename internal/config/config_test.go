package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/live"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
live:
  transport: genai
  api_key: from-file
  model: models/custom
  voice: Kore
  instructions: |
    You are a concise assistant.
  tools:
    - google_search
audio:
  frame_size: 2048
  send_queue: 8
reporting:
  sentry_dsn: https://public@example.com/1
  environment: staging
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Live.Transport != config.TransportGenAI {
		t.Errorf("transport: got %q", cfg.Live.Transport)
	}
	if cfg.Live.Voice != "Kore" {
		t.Errorf("voice: got %q", cfg.Live.Voice)
	}
	if got := strings.TrimSpace(cfg.Live.Instructions); got != "You are a concise assistant." {
		t.Errorf("instructions: got %q", got)
	}
	if len(cfg.Live.Tools) != 1 || cfg.Live.Tools[0] != live.ToolGoogleSearch {
		t.Errorf("tools: got %v", cfg.Live.Tools)
	}
	if cfg.Audio.FrameSize != 2048 || cfg.Audio.SendQueue != 8 {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	// Unset fields still receive defaults.
	if cfg.Audio.InputSampleRate != config.DefaultInputSampleRate {
		t.Errorf("input_sample_rate: got %d", cfg.Audio.InputSampleRate)
	}
	if cfg.Reporting.Environment != "staging" {
		t.Errorf("environment: got %q", cfg.Reporting.Environment)
	}
}

func TestLoadFromReader_EmptyIsDefault(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := config.AudioConfig{
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		FrameSize:        4096,
		SendQueue:        32,
		SpeakerBufferMS:  100,
	}
	if cfg.Audio != want {
		t.Errorf("audio defaults: got %+v, want %+v", cfg.Audio, want)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level default: got %q", cfg.Server.LogLevel)
	}
	if cfg.Live.Transport != config.TransportWebSocket {
		t.Errorf("transport default: got %q", cfg.Live.Transport)
	}
	if cfg.Live.Voice != config.DefaultVoice {
		t.Errorf("voice default: got %q", cfg.Live.Voice)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("live:\n  voise: Kore\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/parley.yaml")
	if err == nil || !strings.Contains(err.Error(), "open") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestLiveSessionConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lc := cfg.LiveSessionConfig()
	if lc.APIKey != "from-file" || lc.Model != "models/custom" || lc.Voice != "Kore" {
		t.Errorf("live config: got %+v", lc)
	}
	if lc.InputSampleRate != 16000 {
		t.Errorf("input rate: got %d", lc.InputSampleRate)
	}

	lc.Tools[0] = live.ToolGoogleMaps
	if cfg.Live.Tools[0] != live.ToolGoogleSearch {
		t.Error("LiveSessionConfig must not alias the tools slice")
	}
}

func TestIsKnownVoice(t *testing.T) {
	t.Parallel()
	if !config.IsKnownVoice("Puck") {
		t.Error("Puck should be known")
	}
	if config.IsKnownVoice("puck") {
		t.Error("voice names are case-sensitive")
	}
}

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.Create(config.LiveConfig{Transport: config.TransportGenAI})
	if !errors.Is(err, config.ErrTransportNotRegistered) {
		t.Errorf("expected ErrTransportNotRegistered, got %v", err)
	}
}

type stubProvider struct{ baseURL string }

func (s *stubProvider) Connect(context.Context, live.Config) (live.SessionHandle, error) {
	return nil, errors.New("stub")
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.Register(config.TransportWebSocket, func(lc config.LiveConfig) (live.Provider, error) {
		return &stubProvider{baseURL: lc.BaseURL}, nil
	})
	r.Register(config.TransportGenAI, func(config.LiveConfig) (live.Provider, error) {
		return nil, errors.New("factory failed")
	})

	p, err := r.Create(config.LiveConfig{Transport: config.TransportWebSocket, BaseURL: "ws://x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sp, ok := p.(*stubProvider); !ok || sp.baseURL != "ws://x" {
		t.Errorf("factory did not receive the live config: %#v", p)
	}

	if _, err := r.Create(config.LiveConfig{Transport: config.TransportGenAI}); err == nil || err.Error() != "factory failed" {
		t.Errorf("factory error should pass through, got %v", err)
	}

	got := r.Transports()
	if len(got) != 2 || got[0] != config.TransportGenAI || got[1] != config.TransportWebSocket {
		t.Errorf("Transports: got %v", got)
	}
}
