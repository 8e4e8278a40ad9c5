package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// API key environment variables, in lookup order.
const (
	EnvAPIKey         = "GEMINI_API_KEY"
	EnvFallbackAPIKey = "API_KEY"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// A missing API key is not a validation error; it surfaces when a session
// starts.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Live.Transport != "" && !cfg.Live.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("live.transport %q is invalid; valid values: websocket, genai", cfg.Live.Transport))
	}
	if cfg.Live.Voice != "" && !IsKnownVoice(cfg.Live.Voice) {
		slog.Warn("unknown voice name, the engine may reject it",
			"voice", cfg.Live.Voice,
			"known", KnownVoices,
		)
	}
	seen := make(map[string]int, len(cfg.Live.Tools))
	for i, tool := range cfg.Live.Tools {
		if !tool.IsValid() {
			errs = append(errs, fmt.Errorf("live.tools[%d] %q is invalid; valid values: google_search, google_maps", i, tool))
			continue
		}
		if prev, ok := seen[string(tool)]; ok {
			errs = append(errs, fmt.Errorf("live.tools[%d] %q is a duplicate of live.tools[%d]", i, tool, prev))
		}
		seen[string(tool)] = i
	}
	if _, ok := seen["google_maps"]; ok && cfg.Live.Transport == TransportGenAI {
		slog.Warn("google_maps is not supported by the genai transport and will be skipped")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"audio.input_sample_rate", cfg.Audio.InputSampleRate},
		{"audio.output_sample_rate", cfg.Audio.OutputSampleRate},
		{"audio.frame_size", cfg.Audio.FrameSize},
		{"audio.send_queue", cfg.Audio.SendQueue},
		{"audio.speaker_buffer_ms", cfg.Audio.SpeakerBufferMS},
	}
	for _, p := range positive {
		if p.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", p.name, p.value))
		}
	}

	if cfg.Reporting.Environment != "" && cfg.Reporting.SentryDSN == "" {
		slog.Warn("reporting.environment is set but reporting.sentry_dsn is empty; error reporting stays disabled")
	}

	return errors.Join(errs...)
}

// LoadEnv loads KEY=VALUE pairs from the given dotenv files (default ".env")
// into the process environment. Variables already set are not overridden and
// missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var errs []error
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("config: load env %q: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// ResolveAPIKey fills Live.APIKey from the environment when the file left it
// empty: GEMINI_API_KEY first, then API_KEY. It reports whether a key is set
// afterwards.
func (c *Config) ResolveAPIKey() bool {
	if c.Live.APIKey == "" {
		c.Live.APIKey = os.Getenv(EnvAPIKey)
	}
	if c.Live.APIKey == "" {
		c.Live.APIKey = os.Getenv(EnvFallbackAPIKey)
	}
	return c.Live.APIKey != ""
}
