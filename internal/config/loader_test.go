package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "invalid log level", yaml: "server:\n  log_level: bananas\n", wantErr: "server.log_level"},
		{name: "invalid transport", yaml: "live:\n  transport: grpc\n", wantErr: "live.transport"},
		{name: "invalid tool", yaml: "live:\n  tools: [code_execution]\n", wantErr: "live.tools[0]"},
		{name: "duplicate tool", yaml: "live:\n  tools: [google_maps, google_maps]\n", wantErr: "duplicate"},
		{name: "negative frame size", yaml: "audio:\n  frame_size: -1\n", wantErr: "audio.frame_size"},
		{name: "unknown voice only warns", yaml: "live:\n  voice: Nobody\n"},
		{name: "missing api key is not an error", yaml: "live:\n  transport: websocket\n"},
		{name: "maps on genai only warns", yaml: "live:\n  transport: genai\n  tools: [google_maps]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
live:
  transport: carrier-pigeon
audio:
  send_queue: -4
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "live.transport", "audio.send_queue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

// Environment tests mutate process state and cannot run in parallel.

func TestResolveAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		fromFile string
		primary  string
		fallback string
		want     string
	}{
		{name: "file wins", fromFile: "file", primary: "env", fallback: "other", want: "file"},
		{name: "primary env", primary: "env", fallback: "other", want: "env"},
		{name: "fallback env", fallback: "other", want: "other"},
		{name: "none", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(config.EnvAPIKey, tc.primary)
			t.Setenv(config.EnvFallbackAPIKey, tc.fallback)

			cfg := &config.Config{Live: config.LiveConfig{APIKey: tc.fromFile}}
			ok := cfg.ResolveAPIKey()
			if cfg.Live.APIKey != tc.want {
				t.Errorf("api key: got %q, want %q", cfg.Live.APIKey, tc.want)
			}
			if ok != (tc.want != "") {
				t.Errorf("ResolveAPIKey returned %v", ok)
			}
		})
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	os.Unsetenv(config.EnvAPIKey)

	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	writeFile(t, envPath, config.EnvAPIKey+"=dotenv-key\n")

	if err := config.LoadEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	cfg := &config.Config{}
	if !cfg.ResolveAPIKey() || cfg.Live.APIKey != "dotenv-key" {
		t.Errorf("api key from dotenv: got %q", cfg.Live.APIKey)
	}
}

func TestLoadEnv_DoesNotOverride(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "already-set")

	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	writeFile(t, envPath, config.EnvAPIKey+"=dotenv-key\n")

	if err := config.LoadEnv(envPath); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv(config.EnvAPIKey); got != "already-set" {
		t.Errorf("existing variable overridden: got %q", got)
	}
}
