// Package capture turns a continuous microphone sample stream into fixed-size
// PCM16 frames and forwards them, in capture order, to whatever transport is
// currently resolved.
//
// The device callback never blocks. Frames cut while no transport is resolved
// are dropped, not queued; frames that do not fit the send queue are dropped
// with a warning. A single sender goroutine drains the queue so transport
// writes never reorder.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrDeviceUnavailable is wrapped around every failure to acquire the
// microphone.
var ErrDeviceUnavailable = errors.New("capture: audio input device unavailable")

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("capture: pipeline closed")

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 4096
	DefaultQueueSize  = 32
)

// Format describes what the pipeline asks of the microphone.
type Format struct {
	SampleRate int
	Channels   int
	// FrameSize is the preferred callback period in samples. Devices may
	// deliver any count; the pipeline re-slices.
	FrameSize int
}

// Stream is an open microphone stream.
type Stream interface {
	Close() error
}

// Microphone opens an exclusive capture stream that calls onSamples with mono
// float32 samples in [-1, 1]. onSamples must not retain the slice.
type Microphone interface {
	Open(ctx context.Context, format Format, onSamples func([]float32)) (Stream, error)
}

// Sender delivers one encoded frame to the transport.
type Sender interface {
	SendFrame(f audio.Frame) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(audio.Frame) error

// SendFrame calls fn(f).
func (fn SenderFunc) SendFrame(f audio.Frame) error { return fn(f) }

// Outcome labels what happened to a frame; used for metrics.
type Outcome string

const (
	OutcomeSent                Outcome = "sent"
	OutcomeDroppedUnresolved   Outcome = "dropped_unresolved"
	OutcomeDroppedBackpressure Outcome = "dropped_backpressure"
)

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Captured            int64
	Sent                int64
	DroppedUnresolved   int64
	DroppedBackpressure int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFrameSize sets the number of samples per frame.
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.format.FrameSize = n
		}
	}
}

// WithSampleRate sets the capture rate.
func WithSampleRate(hz int) Option {
	return func(p *Pipeline) {
		if hz > 0 {
			p.format.SampleRate = hz
		}
	}
}

// WithQueueSize sets the send queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithObserver registers fn to be called with the outcome of every frame.
func WithObserver(fn func(Outcome)) Option {
	return func(p *Pipeline) { p.observe = fn }
}

type job struct {
	frame  audio.Frame
	sender Sender
}

// Pipeline is a capture pipeline bound to one microphone. It is safe for
// concurrent use.
type Pipeline struct {
	mic       Microphone
	format    Format
	queueSize int
	observe   func(Outcome)

	mu       sync.Mutex
	stream   Stream
	sender   Sender
	queue    chan job
	pending  []float32
	captured int // samples cut into frames so far
	started  bool
	closed   bool
	done     chan struct{}

	nCaptured    atomic.Int64
	nSent        atomic.Int64
	nUnresolved  atomic.Int64
	nBackpressed atomic.Int64

	warnOnce sync.Once
}

// New creates an idle pipeline. Call Start to acquire the device.
func New(mic Microphone, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic: mic,
		format: Format{
			SampleRate: DefaultSampleRate,
			Channels:   1,
			FrameSize:  DefaultFrameSize,
		},
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Format returns the capture format.
func (p *Pipeline) Format() Format { return p.format }

// Start acquires the microphone and begins framing. A device failure is
// returned wrapped in ErrDeviceUnavailable and leaves the pipeline unusable.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return errors.New("capture: already started")
	}
	p.started = true
	p.queue = make(chan job, p.queueSize)
	queue := p.queue
	p.mu.Unlock()

	go p.sendLoop(queue)

	stream, err := p.mic.Open(ctx, p.format, p.onSamples)
	if err != nil {
		p.Close()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// Close raced with acquisition; release the device immediately.
		_ = stream.Close()
		return ErrClosed
	}
	p.stream = stream
	return nil
}

// Resolve marks the transport as available. Passing nil unresolves it and
// subsequent frames are dropped again.
func (p *Pipeline) Resolve(s Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender = s
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Captured:            p.nCaptured.Load(),
		Sent:                p.nSent.Load(),
		DroppedUnresolved:   p.nUnresolved.Load(),
		DroppedBackpressure: p.nBackpressed.Load(),
	}
}

// Close stops the device and the sender goroutine. Frames still queued are
// discarded. Close is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stream := p.stream
	p.stream = nil
	p.sender = nil
	p.pending = nil
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()

	close(p.done)

	if stream != nil {
		if err := stream.Close(); err != nil {
			return fmt.Errorf("capture: close device: %w", err)
		}
	}
	return nil
}

// onSamples is the device callback.
func (p *Pipeline) onSamples(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = append(p.pending, samples...)
	n := p.format.FrameSize
	for len(p.pending) >= n {
		ts := time.Duration(p.captured) * time.Second / time.Duration(p.format.SampleRate)
		frame := audio.Frame{
			Data:       audio.Float32ToPCM16(p.pending[:n]),
			SampleRate: p.format.SampleRate,
			Channels:   1,
			Timestamp:  ts,
		}
		p.captured += n
		p.pending = p.pending[n:]
		p.nCaptured.Add(1)
		p.dispatchLocked(frame)
	}
	if len(p.pending) == 0 {
		p.pending = p.pending[:0:0]
	}
}

func (p *Pipeline) dispatchLocked(frame audio.Frame) {
	if p.sender == nil {
		p.nUnresolved.Add(1)
		p.report(OutcomeDroppedUnresolved)
		return
	}
	select {
	case p.queue <- job{frame: frame, sender: p.sender}:
	default:
		p.nBackpressed.Add(1)
		p.report(OutcomeDroppedBackpressure)
		p.warnOnce.Do(func() {
			slog.Warn("capture: send queue full, dropping frames", "queue_size", p.queueSize)
		})
	}
}

func (p *Pipeline) sendLoop(queue <-chan job) {
	for j := range queue {
		select {
		case <-p.done:
			return
		default:
		}
		if err := j.sender.SendFrame(j.frame); err != nil {
			slog.Debug("capture: send failed", "err", err)
			continue
		}
		p.nSent.Add(1)
		p.report(OutcomeSent)
	}
}

func (p *Pipeline) report(o Outcome) {
	if p.observe != nil {
		p.observe(o)
	}
}
