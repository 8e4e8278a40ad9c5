// Package genai implements live.Provider on top of the official
// google.golang.org/genai SDK. It speaks the same Live protocol as the
// gemini package but lets the SDK own framing, auth and reconnect policy.
//
// Only the Google Search tool is forwarded; maps grounding is available
// through the websocket transport.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	genaisdk "google.golang.org/genai"

	"github.com/MrWong99/parley/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	defaultModel  = "gemini-2.5-flash-native-audio-preview-09-2025"
	messageBuffer = 64
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the default model used when the session config names none.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the SDK at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements live.Provider using the genai SDK.
type Provider struct {
	model   string
	baseURL string
}

// New creates a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect opens an SDK live session and waits for the setup acknowledgement.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.SessionHandle, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("genai: api key is required")
	}

	cc := &genaisdk.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genaisdk.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genaisdk.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genaisdk.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	sdkSess, err := client.Live.Connect(ctx, model, buildConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	s := &session{
		sdk:      sdkSess,
		messages: make(chan live.ServerMessage, messageBuffer),
	}
	if err := s.awaitSetupComplete(ctx); err != nil {
		_ = sdkSess.Close()
		return nil, err
	}
	go s.receiveLoop()
	return s, nil
}

// buildConfig translates a live.Config into the SDK's connect config.
func buildConfig(cfg live.Config) *genaisdk.LiveConnectConfig {
	lc := &genaisdk.LiveConnectConfig{
		ResponseModalities:       []genaisdk.Modality{genaisdk.ModalityAudio},
		InputAudioTranscription:  &genaisdk.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genaisdk.AudioTranscriptionConfig{},
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &genaisdk.Content{
			Parts: []*genaisdk.Part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genaisdk.SpeechConfig{
			VoiceConfig: &genaisdk.VoiceConfig{
				PrebuiltVoiceConfig: &genaisdk.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	for _, t := range cfg.Tools {
		switch t {
		case live.ToolGoogleSearch:
			lc.Tools = append(lc.Tools, &genaisdk.Tool{GoogleSearch: &genaisdk.GoogleSearch{}})
		default:
			slog.Warn("genai: tool not supported by sdk transport, skipping", "tool", string(t))
		}
	}
	return lc
}

type session struct {
	sdk      *genaisdk.Session
	messages chan live.ServerMessage

	mu     sync.Mutex
	err    error
	closed bool
}

type recvResult struct {
	msg *genaisdk.LiveServerMessage
	err error
}

// awaitSetupComplete reads until the SDK reports setupComplete. The SDK's
// Receive is not cancellable, so ctx expiry closes the session to unblock it.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	res := make(chan recvResult, 1)
	go func() {
		for {
			msg, err := s.sdk.Receive()
			if err != nil || msg.SetupComplete != nil {
				res <- recvResult{msg: msg, err: err}
				return
			}
		}
	}()
	select {
	case r := <-res:
		if r.err != nil {
			return fmt.Errorf("genai: setup: %w", r.err)
		}
		return nil
	case <-ctx.Done():
		_ = s.sdk.Close()
		return fmt.Errorf("genai: setup: %w", ctx.Err())
	}
}

func (s *session) receiveLoop() {
	defer close(s.messages)
	for {
		msg, err := s.sdk.Receive()
		if err != nil {
			if !s.isClosed() && !isNormalClose(err) {
				s.setErr(fmt.Errorf("genai: receive: %w", err))
			}
			return
		}
		if msg.GoAway != nil {
			slog.Warn("genai: server announced disconnect")
		}
		if msg.ServerContent == nil {
			continue
		}
		out := translate(msg.ServerContent)
		if out.Empty() {
			continue
		}
		s.messages <- out
	}
}

// isNormalClose reports whether err is the SDK surfacing a 1000 close frame.
func isNormalClose(err error) bool {
	return strings.Contains(err.Error(), "close 1000")
}

func translate(sc *genaisdk.LiveServerContent) live.ServerMessage {
	var out live.ServerMessage
	if sc.InputTranscription != nil {
		out.InputTranscription = &live.Transcription{Text: sc.InputTranscription.Text}
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscription = &live.Transcription{Text: sc.OutputTranscription.Text}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			out.Audio = p.InlineData.Data
			out.AudioMIMEType = p.InlineData.MIMEType
			break
		}
	}
	if gm := sc.GroundingMetadata; gm != nil {
		for _, c := range gm.GroundingChunks {
			switch {
			case c == nil:
			case c.Web != nil:
				out.Grounding = append(out.Grounding, live.GroundingChunk{Kind: live.SourceWeb, Title: c.Web.Title, URI: c.Web.URI})
			case c.RetrievedContext != nil:
				out.Grounding = append(out.Grounding, live.GroundingChunk{Kind: live.SourceRetrieved, Title: c.RetrievedContext.Title, URI: c.RetrievedContext.URI})
			}
		}
	}
	out.TurnComplete = sc.TurnComplete
	out.Interrupted = sc.Interrupted
	return out
}

func (s *session) SendRealtimeInput(chunk live.Chunk) error {
	if s.isClosed() {
		return errors.New("genai: session closed")
	}
	return s.sdk.SendRealtimeInput(genaisdk.LiveRealtimeInput{
		Audio: &genaisdk.Blob{MIMEType: chunk.MIMEType, Data: chunk.Data},
	})
}

func (s *session) Messages() <-chan live.ServerMessage { return s.messages }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if err := s.sdk.Close(); err != nil {
		slog.Debug("genai: close", "err", err)
	}
	return nil
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
