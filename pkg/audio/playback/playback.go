// Package playback schedules decoded speech chunks back-to-back on an audio
// device clock so consecutive chunks play without gaps, and cancels all of
// them at once when the user barges in.
//
// The Scheduler keeps a watermark: the device-clock time at which the next
// chunk should start. Every enqueue clamps the watermark to the current
// device time (so a late chunk never starts in the past), schedules the chunk
// there and advances the watermark by the chunk's duration. Interrupt stops
// every scheduled output and resets the watermark to zero.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// DefaultSampleRate is the rate of the live engine's synthesised speech.
const DefaultSampleRate = 24000

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback: scheduler closed")

// Buffer is one decoded mono chunk.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of b.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Decode interprets payload as little-endian int16 mono PCM at rate.
func Decode(payload []byte, rate int) (Buffer, error) {
	if len(payload)%2 != 0 {
		return Buffer{}, fmt.Errorf("playback: odd payload length %d", len(payload))
	}
	if rate <= 0 {
		return Buffer{}, fmt.Errorf("playback: invalid sample rate %d", rate)
	}
	return Buffer{Samples: audio.PCM16ToFloat32(payload), SampleRate: rate}, nil
}

// Voice is one scheduled output on a Device.
type Voice interface {
	// Stop cancels the output. It is safe to call after the voice finished.
	Stop()
}

// Device is an output device with a monotonic clock.
type Device interface {
	// Now returns the device clock.
	Now() time.Duration

	// Play schedules buf to start at the given clock time. done is called once
	// when the buffer finished playing naturally; it is not called after Stop
	// and never from within Play.
	Play(buf Buffer, at time.Duration, done func()) (Voice, error)
}

// Entry describes one scheduled chunk.
type Entry struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSampleRate sets the rate payloads are decoded at.
func WithSampleRate(hz int) Option {
	return func(s *Scheduler) {
		if hz > 0 {
			s.rate = hz
		}
	}
}

// WithOnComplete registers fn to be called with the ID of every chunk that
// finished playing naturally.
func WithOnComplete(fn func(id uint64)) Option {
	return func(s *Scheduler) { s.onComplete = fn }
}

// Scheduler owns the live output arena of one session. It is safe for
// concurrent use.
type Scheduler struct {
	dev        Device
	rate       int
	onComplete func(uint64)

	mu        sync.Mutex
	watermark time.Duration
	nextID    uint64
	live      map[uint64]Voice
	closed    bool
}

// New creates a Scheduler playing on dev.
func New(dev Device, opts ...Option) *Scheduler {
	s := &Scheduler{
		dev:  dev,
		rate: DefaultSampleRate,
		live: make(map[uint64]Voice),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SampleRate returns the rate payloads are decoded at.
func (s *Scheduler) SampleRate() int { return s.rate }

// Enqueue decodes payload and schedules it immediately after everything
// already scheduled.
func (s *Scheduler) Enqueue(payload []byte) (Entry, error) {
	buf, err := Decode(payload, s.rate)
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}

	if now := s.dev.Now(); s.watermark < now {
		s.watermark = now
	}
	s.nextID++
	id := s.nextID
	entry := Entry{ID: id, Start: s.watermark, Duration: buf.Duration()}

	v, err := s.dev.Play(buf, entry.Start, func() { s.finished(id) })
	if err != nil {
		return Entry{}, fmt.Errorf("playback: schedule chunk: %w", err)
	}
	s.live[id] = v
	s.watermark += entry.Duration
	return entry, nil
}

// finished removes id from the arena if it is still live.
func (s *Scheduler) finished(id uint64) {
	s.mu.Lock()
	_, ok := s.live[id]
	delete(s.live, id)
	s.mu.Unlock()
	if ok && s.onComplete != nil {
		s.onComplete(id)
	}
}

// Interrupt stops every live output, clears the arena and resets the
// watermark. It returns the number of outputs stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := s.live
	s.live = make(map[uint64]Voice)
	s.watermark = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Watermark returns the start time of the next chunk (before clamping).
func (s *Scheduler) Watermark() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// Live returns the number of scheduled outputs that have neither finished
// nor been stopped.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close interrupts all output and rejects further enqueues. Close is
// idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Interrupt()
}
