// Package session runs one live conversation at a time: it opens the
// transport, acquires the microphone once the handshake succeeds, and turns
// inbound engine messages into transcript turns, scheduled playback and status
// changes.
//
// All reactions of a session run on a single event-loop goroutine reading one
// ordered event channel. Outbound microphone frames bypass the loop through
// the capture pipeline's send queue.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/fault"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/status"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// ErrSessionActive is returned by [Orchestrator.Start] while the previous
// session has not reached [StateClosed].
var ErrSessionActive = errors.New("session: a session is already active")

// State is the lifecycle stage of a session.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	// Provider opens transport sessions. Required.
	Provider live.Provider

	// Microphone is acquired after each successful handshake. Required.
	Microphone capture.Microphone

	// Speaker renders scheduled playback. Required.
	Speaker playback.Device

	// OnTranscript receives every transcript turn snapshot, partial and final.
	OnTranscript func(transcript.Turn)

	// OnStatus receives every status change with its optional message.
	OnStatus func(status.Status, string)
}

// Config is the per-session configuration passed to [Orchestrator.Start].
type Config struct {
	// Live is handed to the provider. Live.APIKey is required.
	Live live.Config

	// FrameSize is the number of samples per outbound chunk.
	FrameSize int

	// SendQueue bounds the outbound frame queue.
	SendQueue int

	// OutputSampleRate is the rate inbound audio is played at.
	OutputSampleRate int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records session metrics on m instead of the global meter.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithReporter sends classified failures to r.
func WithReporter(r observe.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithThinkingCue registers fn to run each time the status crosses into
// Processing.
func WithThinkingCue(fn func()) Option {
	return func(o *Orchestrator) { o.cue = fn }
}

// Orchestrator owns at most one active session. It is safe for concurrent
// use, but Stop must not be called from within the OnTranscript or OnStatus
// callbacks since those run on the session's event loop.
type Orchestrator struct {
	deps     Deps
	metrics  *observe.Metrics
	reporter observe.Reporter
	cue      func()
	machine  *status.Machine

	mu  sync.Mutex
	cur *session
}

// New creates an Orchestrator in status Idle.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{deps: deps, reporter: observe.NopReporter{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	var mopts []status.Option
	if o.cue != nil {
		mopts = append(mopts, status.WithThinkingCue(o.cue))
	}
	o.machine = status.New(o.statusChanged, mopts...)
	return o
}

func (o *Orchestrator) statusChanged(s status.Status, msg string) {
	if o.deps.OnStatus != nil {
		o.deps.OnStatus(s, msg)
	}
}

// Start begins a new session and returns once the handshake is under way.
// Without an API key it fails with a MissingCredential [*fault.Error] before
// touching the network or any device, and the status moves to Error.
func (o *Orchestrator) Start(ctx context.Context, cfg Config) error {
	o.mu.Lock()
	if o.cur != nil && o.cur.State() != StateClosed {
		o.mu.Unlock()
		return ErrSessionActive
	}
	if cfg.Live.APIKey == "" {
		o.mu.Unlock()
		fe := fault.Missing()
		observe.Logger(ctx).Error("cannot start session", "kind", fe.Kind.String(), "err", fe.Err)
		o.metrics.RecordSessionError(ctx, fe.Kind.String())
		o.machine.Fail(fe.Error())
		return fe
	}
	s := newSession(ctx, o, uuid.NewString(), cfg)
	o.cur = s
	o.mu.Unlock()

	o.machine.Fire(status.Start)
	go s.run()
	return nil
}

// Stop tears the current session down and waits until it is closed. It is
// idempotent and safe at every lifecycle stage. It returns the error of
// releasing the session's resources, if the call performed the release.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	s := o.cur
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	s.requestStop()
	<-s.done
	return s.takeStopErr()
}

// State returns the lifecycle stage of the current session.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return StateIdle
	}
	return o.cur.State()
}

// Status returns the current status and its message.
func (o *Orchestrator) Status() (status.Status, string) {
	return o.machine.Current()
}

// SessionID returns the ID of the current session, or "" before the first
// Start.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return ""
	}
	return o.cur.id
}

// session is one Opening → Active → Closing → Closed run.
type session struct {
	o      *Orchestrator
	id     string
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	events   chan any // inbound messages and playback completions
	results  chan any // handshake and device results; unbuffered
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// Loop-owned.
	handle   live.SessionHandle
	pipeline *capture.Pipeline
	sched    *playback.Scheduler
	recon    *transcript.Reconciler
	active   bool

	errMu   sync.Mutex
	stopErr error
}

func newSession(parent context.Context, o *Orchestrator, id string, cfg Config) *session {
	ctx, cancel := context.WithCancel(observe.WithSessionID(parent, id))
	s := &session{
		o:       o,
		id:      id,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan any, 64),
		results: make(chan any),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.recon = transcript.NewReconciler(s.emitTurn)
	return s
}

func (s *session) State() State { return State(s.state.Load()) }

func (s *session) setState(st State) { s.state.Store(int32(st)) }

func (s *session) requestStop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		// Unblocks an in-flight handshake or device acquisition.
		s.cancel()
	})
}

func (s *session) setStopErr(err error) {
	s.errMu.Lock()
	s.stopErr = err
	s.errMu.Unlock()
}

func (s *session) takeStopErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.stopErr
	s.stopErr = nil
	return err
}

func (s *session) emitTurn(t transcript.Turn) {
	if t.Final {
		s.o.metrics.RecordTurn(s.ctx, string(t.Author))
	}
	if s.o.deps.OnTranscript != nil {
		s.o.deps.OnTranscript(t)
	}
}
