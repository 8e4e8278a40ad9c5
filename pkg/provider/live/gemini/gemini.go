// Package gemini implements the live.Provider interface for Google's Gemini
// Live API over a raw WebSocket.
//
// It dials the BidiGenerateContent endpoint, sends the setup message, waits for
// the setupComplete acknowledgement and then exchanges JSON frames. Audio is
// transmitted as base64-encoded PCM; transcripts of both directions and
// grounding metadata are surfaced as [live.ServerMessage] values.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	endpointPath   = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	messageBuffer = 64

	// readLimit bounds a single inbound frame. Audio turns are chunked by the
	// server but grounding-heavy frames can exceed the library default.
	readLimit = 8 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default Gemini model used when the session config does
// not name one.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithKeepalive overrides the ping interval. Zero disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	model     string
	baseURL   string
	keepalive time.Duration
}

// New creates a new Gemini Live Provider. The API key travels with each
// [live.Config] so one Provider can serve sessions with rotating credentials.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:     defaultModel,
		baseURL:   defaultBaseURL,
		keepalive: keepaliveInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Live endpoint, sends the setup message and waits for the
// server's setupComplete acknowledgement.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.SessionHandle, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	wsURL := p.baseURL + endpointPath + "?key=" + url.QueryEscape(cfg.APIKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		messages: make(chan live.ServerMessage, messageBuffer),
		done:     make(chan struct{}),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	if err := sess.writeJSON(buildSetup(model, cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := sess.awaitSetupComplete(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusNormalClosure, "setup failed")
		return nil, err
	}

	go sess.receiveLoop()
	if p.keepalive > 0 {
		go sess.keepaliveLoop(p.keepalive)
	}

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool       `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
	GoogleMaps   *struct{} `json:"googleMaps,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio inlineData `json:"audio"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn         `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	InputTranscription  *transcription     `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription     `json:"outputTranscription,omitempty"`
	GroundingMetadata   *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type groundingMetadata struct {
	GroundingChunks []groundingChunk `json:"groundingChunks"`
}

type groundingChunk struct {
	Web              *groundingSource `json:"web,omitempty"`
	RetrievedContext *groundingSource `json:"retrievedContext,omitempty"`
	Maps             *groundingSource `json:"maps,omitempty"`
}

type groundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// ServerError is a protocol-level error reported by the Live endpoint,
// either as an error frame or as a non-normal WebSocket close.
type ServerError struct {
	Code    int
	Status  string
	Message string
}

func (e *ServerError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: %s (%d %s)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("gemini: %s (%d)", e.Message, e.Code)
}

// buildSetup assembles the BidiGenerateContent setup message for cfg.
func buildSetup(model string, cfg live.Config) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	for _, t := range cfg.Tools {
		switch t {
		case live.ToolGoogleSearch:
			msg.Setup.Tools = append(msg.Setup.Tools, geminiTool{GoogleSearch: &struct{}{}})
		case live.ToolGoogleMaps:
			msg.Setup.Tools = append(msg.Setup.Tools, geminiTool{GoogleMaps: &struct{}{}})
		}
	}

	return msg
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	messages chan live.ServerMessage

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// awaitSetupComplete reads frames until the server acknowledges the setup.
// Frames other than setupComplete or error are not expected before the ack
// and are skipped.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if se := closeError(err); se != nil {
				return se
			}
			return fmt.Errorf("gemini: await setup: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return serverError(msg.Error)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the messages channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			if se := closeError(err); se != nil {
				s.setErr(se)
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(fmt.Errorf("gemini: read: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if msg.Error != nil {
			s.setErr(serverError(msg.Error))
			return
		}
		if msg.GoAway != nil {
			slog.Warn("gemini: server announced disconnect", "go_away", string(*msg.GoAway))
		}
		if msg.ServerContent == nil {
			continue
		}

		out := translate(msg.ServerContent)
		if out.Empty() {
			continue
		}
		select {
		case s.messages <- out:
		case <-s.ctx.Done():
			return
		}
	}
}

// translate maps the wire serverContent onto a live.ServerMessage. Only the
// first inline audio part of a model turn is used; the server sends one per
// frame.
func translate(sc *serverContent) live.ServerMessage {
	var out live.ServerMessage

	if sc.InputTranscription != nil {
		out.InputTranscription = &live.Transcription{Text: sc.InputTranscription.Text}
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscription = &live.Transcription{Text: sc.OutputTranscription.Text}
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			out.Audio = data
			out.AudioMIMEType = p.InlineData.MIMEType
			break
		}
	}

	if gm := sc.GroundingMetadata; gm != nil {
		for _, c := range gm.GroundingChunks {
			switch {
			case c.Web != nil:
				out.Grounding = append(out.Grounding, live.GroundingChunk{Kind: live.SourceWeb, Title: c.Web.Title, URI: c.Web.URI})
			case c.RetrievedContext != nil:
				out.Grounding = append(out.Grounding, live.GroundingChunk{Kind: live.SourceRetrieved, Title: c.RetrievedContext.Title, URI: c.RetrievedContext.URI})
			case c.Maps != nil:
				out.Grounding = append(out.Grounding, live.GroundingChunk{Kind: live.SourceMaps, Title: c.Maps.Title, URI: c.Maps.URI})
			}
		}
	}

	out.TurnComplete = sc.TurnComplete
	out.Interrupted = sc.Interrupted
	return out
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.messages)
	})
}

// serverError converts an error frame into a *ServerError.
func serverError(ge *geminiError) *ServerError {
	msg := ge.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &ServerError{Code: ge.Code, Status: ge.Status, Message: msg}
}

// closeError converts a non-normal close frame into a *ServerError carrying
// the close reason. Gemini reports invalid keys and exhausted quota this way.
func closeError(err error) *ServerError {
	var ce websocket.CloseError
	if !errors.As(err, &ce) || ce.Code == websocket.StatusNormalClosure {
		return nil
	}
	reason := ce.Reason
	if reason == "" {
		reason = "connection closed"
	}
	return &ServerError{Code: int(ce.Code), Message: reason}
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendRealtimeInput delivers a PCM audio chunk to the model.
func (s *session) SendRealtimeInput(chunk live.Chunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: inlineData{
				MIMEType: chunk.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(chunk.Data),
			},
		},
	}
	return s.writeJSON(msg)
}

// Messages returns the channel on which server messages arrive.
func (s *session) Messages() <-chan live.ServerMessage { return s.messages }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
