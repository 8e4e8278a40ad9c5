// Package status derives the user-visible session status from protocol and
// lifecycle events.
package status

import "sync"

// Status is the session status shown to the user.
type Status int

const (
	Idle Status = iota
	Connecting
	Listening
	Processing
	Speaking
	Error
)

var names = [...]string{"idle", "connecting", "listening", "processing", "speaking", "error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(names) {
		return "unknown"
	}
	return names[s]
}

// Event drives a transition.
type Event int

const (
	// Start is an explicit session start or restart.
	Start Event = iota
	// DeviceReady means the transport is open and the microphone acquired.
	DeviceReady
	// UserSpeech is an inbound user transcription.
	UserSpeech
	// BotSpeech is an inbound bot transcription.
	BotSpeech
	// TurnComplete ends the engine's turn.
	TurnComplete
	// Reset is an explicit stop.
	Reset
)

// next holds the allowed transitions. Fail is handled separately since it
// applies from every state.
var next = map[Status]map[Event]Status{
	Idle:       {Start: Connecting},
	Error:      {Start: Connecting},
	Connecting: {DeviceReady: Listening},
	Listening:  {UserSpeech: Processing, BotSpeech: Speaking},
	Processing: {BotSpeech: Speaking, TurnComplete: Listening},
	Speaking:   {TurnComplete: Listening},
}

// Option configures a Machine.
type Option func(*Machine)

// WithThinkingCue registers fn to run each time the status enters Processing
// from another state.
func WithThinkingCue(fn func()) Option {
	return func(m *Machine) { m.cue = fn }
}

// Machine is the status state machine. Observers run synchronously on the
// goroutine that fired the event, after the machine's lock is released.
type Machine struct {
	observe func(Status, string)
	cue     func()

	mu      sync.Mutex
	current Status
	message string
}

// New creates a Machine in Idle. observe is called on every change with the
// new status and, for Error, its message.
func New(observe func(Status, string), opts ...Option) *Machine {
	m := &Machine{observe: observe}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Current returns the status and its message.
func (m *Machine) Current() (Status, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.message
}

// Fire applies ev. Pairs without a transition are ignored. It reports
// whether the status changed.
func (m *Machine) Fire(ev Event) bool {
	m.mu.Lock()
	from := m.current
	var to Status
	var ok bool
	if ev == Reset {
		to, ok = Idle, from != Idle
	} else {
		to, ok = next[from][ev]
	}
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.current, m.message = to, ""
	m.mu.Unlock()

	m.changed(from, to, "")
	return true
}

// Fail moves to Error carrying msg. Repeated failures update the message.
func (m *Machine) Fail(msg string) {
	m.mu.Lock()
	from := m.current
	m.current, m.message = Error, msg
	m.mu.Unlock()
	m.changed(from, Error, msg)
}

func (m *Machine) changed(from, to Status, msg string) {
	if m.observe != nil {
		m.observe(to, msg)
	}
	if to == Processing && from != Processing && m.cue != nil {
		m.cue()
	}
}
