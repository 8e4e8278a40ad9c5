// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to feed inbound server messages and inspect which audio chunks
// the orchestrator sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(live.ServerMessage{TurnComplete: true})
//	sess.Finish(errors.New("network error"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until Gate is closed or ctx is
	// done. Used to hold a session in its handshake.
	Gate chan struct{}

	// Entered, if non-nil, receives one value each time Connect is entered.
	Entered chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	gate, entered := p.Gate, p.Entered
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.SessionHandle.
type Session struct {
	mu sync.Mutex

	messages chan live.ServerMessage
	finished bool
	err      error

	// SendErr, if non-nil, is returned by every SendRealtimeInput call.
	SendErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Sent records every chunk passed to SendRealtimeInput in order.
	Sent []live.Chunk

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered message channel.
func NewSession() *Session {
	return &Session{messages: make(chan live.ServerMessage, 64)}
}

// Push delivers msg to the session's Messages channel. It is a no-op after
// Finish.
func (s *Session) Push(msg live.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.messages <- msg
}

// Finish ends the session as the remote side would: err becomes the value of
// Err and the Messages channel is closed. A nil err models a clean close.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.messages)
}

// SendRealtimeInput records the chunk and returns SendErr.
func (s *Session) SendRealtimeInput(chunk live.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk.Data))
	copy(cp, chunk.Data)
	s.Sent = append(s.Sent, live.Chunk{MIMEType: chunk.MIMEType, Data: cp})
	return s.SendErr
}

// SentChunks returns a copy of the recorded chunks. Thread-safe.
func (s *Session) SentChunks() []live.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.Chunk(nil), s.Sent...)
}

// Messages returns the inbound message channel.
func (s *Session) Messages() <-chan live.ServerMessage { return s.messages }

// Err returns the error passed to Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call, ends the Messages channel as a real transport
// would and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.finished {
		s.finished = true
		close(s.messages)
	}
	return s.CloseErr
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ live.SessionHandle = (*Session)(nil)
