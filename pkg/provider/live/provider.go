// Package live defines the Provider interface for real-time conversational
// engines that take microphone audio in and stream partial transcripts plus
// synthesised speech out over a single stateful connection.
//
// The central abstraction is SessionHandle: a bidirectional session that
// accepts outbound audio chunks and delivers inbound [ServerMessage] values in
// arrival order on a channel. Lifecycle events map onto it as follows:
//
//   - open: [Provider.Connect] returns without error.
//   - message: a value is received from [SessionHandle.Messages].
//   - error: the channel closes and [SessionHandle.Err] is non-nil.
//   - close: the channel closes and [SessionHandle.Err] is nil.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
)

// Tool names an auxiliary lookup tool the engine may use while answering.
type Tool string

const (
	// ToolGoogleSearch lets the engine ground answers in web search results.
	ToolGoogleSearch Tool = "google_search"

	// ToolGoogleMaps lets the engine ground answers in map/place results.
	ToolGoogleMaps Tool = "google_maps"
)

// IsValid reports whether t is a recognised tool.
func (t Tool) IsValid() bool {
	return t == ToolGoogleSearch || t == ToolGoogleMaps
}

// Config is the configuration for a new live session.
type Config struct {
	// APIKey authenticates against the engine. Required.
	APIKey string

	// Model selects the engine model. Empty means the provider default.
	Model string

	// Voice is the prebuilt voice used for synthesised speech.
	Voice string

	// Instructions is the system instruction defining conversational policy.
	Instructions string

	// Tools lists the auxiliary lookup tools to enable.
	Tools []Tool

	// InputSampleRate is the rate of outbound audio chunks.
	InputSampleRate int
}

// Chunk is one outbound audio payload.
type Chunk struct {
	// MIMEType declares the payload format, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the raw PCM payload; transports base64-encode it on the wire.
	Data []byte
}

// ChunkFromFrame wraps an encoded capture frame as an outbound chunk.
func ChunkFromFrame(f audio.Frame) Chunk {
	return Chunk{MIMEType: audio.PCMMIMEType(f.SampleRate), Data: f.Data}
}

// Transcription is a partial transcript carried by a server message.
type Transcription struct {
	Text string
}

// SourceKind identifies where a grounding chunk came from.
type SourceKind string

const (
	SourceWeb       SourceKind = "web"
	SourceRetrieved SourceKind = "retrieved"
	SourceMaps      SourceKind = "maps"
)

// GroundingChunk is one citation the engine attributes to its answer.
type GroundingChunk struct {
	Kind  SourceKind
	Title string
	URI   string
}

// ServerMessage is one inbound protocol message. Every field is optional.
type ServerMessage struct {
	// InputTranscription is the engine's current whole-utterance guess of what
	// the user said. Each one supersedes the previous.
	InputTranscription *Transcription

	// OutputTranscription is an incremental delta of what the engine is saying.
	OutputTranscription *Transcription

	// Audio is the decoded inline audio payload of the model turn, if any.
	Audio []byte

	// AudioMIMEType is the declared format of Audio.
	AudioMIMEType string

	// TurnComplete marks the end of the engine's turn.
	TurnComplete bool

	// Interrupted reports that the user barged in while the engine was
	// still producing audio.
	Interrupted bool

	// Grounding carries citations for the current model turn.
	Grounding []GroundingChunk
}

// Empty reports whether msg carries nothing the session would act on.
func (m *ServerMessage) Empty() bool {
	return m.InputTranscription == nil && m.OutputTranscription == nil &&
		len(m.Audio) == 0 && !m.TurnComplete && !m.Interrupted && len(m.Grounding) == 0
}

// SessionHandle represents an open live session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendRealtimeInput delivers an audio chunk to the engine. It is
	// fire-and-forget: a returned error means the chunk was not written, never
	// that the engine rejected it.
	SendRealtimeInput(chunk Chunk) error

	// Messages returns the channel of inbound messages in arrival order. It is
	// closed when the session ends for any reason.
	Messages() <-chan ServerMessage

	// Err returns the error that ended the session, or nil if it was closed
	// cleanly. Only meaningful after Messages is closed.
	Err() error

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over a live conversational engine.
type Provider interface {
	// Connect opens a session and completes the setup handshake. It blocks
	// until the engine acknowledged the setup, the handshake failed, or ctx is
	// cancelled. The caller owns the returned SessionHandle.
	Connect(ctx context.Context, cfg Config) (SessionHandle, error)
}
