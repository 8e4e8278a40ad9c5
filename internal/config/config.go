// Package config provides the configuration schema, loader, hot-reload watcher
// and live transport registry for parley.
package config

import (
	"slices"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Transport selects the implementation used to talk to the live engine.
type Transport string

const (
	// TransportWebSocket speaks BidiGenerateContent directly over a WebSocket.
	TransportWebSocket Transport = "websocket"

	// TransportGenAI goes through the google.golang.org/genai SDK.
	TransportGenAI Transport = "genai"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportWebSocket || t == TransportGenAI
}

// KnownVoices lists the prebuilt voices the engine offers.
var KnownVoices = []string{
	"Aoede", "Charon", "Fenrir", "Kore", "Leda", "Orus", "Puck", "Zephyr",
}

// IsKnownVoice reports whether v is one of [KnownVoices].
func IsKnownVoice(v string) bool {
	return slices.Contains(KnownVoices, v)
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultTransport        = TransportWebSocket
	DefaultVoice            = "Puck"
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultFrameSize        = 4096
	DefaultSendQueue        = 32
	DefaultSpeakerBufferMS  = 100
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Live      LiveConfig      `yaml:"live"`
	Audio     AudioConfig     `yaml:"audio"`
	Reporting ReportingConfig `yaml:"reporting"`
}

// ServerConfig holds the operator listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g. ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LiveConfig configures the conversational engine session.
type LiveConfig struct {
	// Transport selects the registered transport. Default: websocket.
	Transport Transport `yaml:"transport"`

	// APIKey authenticates against the engine. When empty it is resolved from
	// the environment by [Config.ResolveAPIKey].
	APIKey string `yaml:"api_key"`

	// Model overrides the transport's default model.
	Model string `yaml:"model"`

	// BaseURL overrides the engine endpoint. Leave empty for the default.
	BaseURL string `yaml:"base_url"`

	// Voice is the prebuilt voice name. Default: Puck.
	Voice string `yaml:"voice"`

	// Instructions is the system instruction sent at session setup.
	Instructions string `yaml:"instructions"`

	// Tools lists the auxiliary lookup tools to enable.
	Tools []live.Tool `yaml:"tools"`
}

// AudioConfig holds capture and playback parameters.
type AudioConfig struct {
	InputSampleRate  int `yaml:"input_sample_rate"`
	OutputSampleRate int `yaml:"output_sample_rate"`

	// FrameSize is the number of samples per outbound chunk.
	FrameSize int `yaml:"frame_size"`

	// SendQueue bounds the capture send queue, in frames.
	SendQueue int `yaml:"send_queue"`

	// SpeakerBufferMS sizes the output device buffer.
	SpeakerBufferMS int `yaml:"speaker_buffer_ms"`
}

// ReportingConfig enables error reporting to Sentry.
type ReportingConfig struct {
	// SentryDSN enables reporting when set.
	SentryDSN string `yaml:"sentry_dsn"`

	Environment string `yaml:"environment"`
}

// ApplyDefaults fills every zero-valued field that has a default.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Live.Transport == "" {
		c.Live.Transport = DefaultTransport
	}
	if c.Live.Voice == "" {
		c.Live.Voice = DefaultVoice
	}
	if c.Audio.InputSampleRate == 0 {
		c.Audio.InputSampleRate = DefaultInputSampleRate
	}
	if c.Audio.OutputSampleRate == 0 {
		c.Audio.OutputSampleRate = DefaultOutputSampleRate
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = DefaultFrameSize
	}
	if c.Audio.SendQueue == 0 {
		c.Audio.SendQueue = DefaultSendQueue
	}
	if c.Audio.SpeakerBufferMS == 0 {
		c.Audio.SpeakerBufferMS = DefaultSpeakerBufferMS
	}
}

// LiveSessionConfig converts the live section into the transport's session
// configuration.
func (c *Config) LiveSessionConfig() live.Config {
	return live.Config{
		APIKey:          c.Live.APIKey,
		Model:           c.Live.Model,
		Voice:           c.Live.Voice,
		Instructions:    c.Live.Instructions,
		Tools:           slices.Clone(c.Live.Tools),
		InputSampleRate: c.Audio.InputSampleRate,
	}
}
