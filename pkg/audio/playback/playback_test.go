package playback_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio/playback"
)

// fakeDevice is a Device with a hand-driven clock.
type fakeDevice struct {
	mu      sync.Mutex
	now     time.Duration
	playErr error
	voices  []*fakeVoice
}

type fakeVoice struct {
	at      time.Duration
	buf     playback.Buffer
	done    func()
	stopped bool
}

func (v *fakeVoice) Stop() { v.stopped = true }

func (d *fakeDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *fakeDevice) Play(buf playback.Buffer, at time.Duration, done func()) (playback.Voice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		return nil, d.playErr
	}
	v := &fakeVoice{at: at, buf: buf, done: done}
	d.voices = append(d.voices, v)
	return v, nil
}

func (d *fakeDevice) setNow(t time.Duration) {
	d.mu.Lock()
	d.now = t
	d.mu.Unlock()
}

// pcm returns n samples of silence at 24 kHz.
func pcm(samples int) []byte { return make([]byte, samples*2) }

const chunk = 2400 // 100 ms at 24 kHz

func TestDecode(t *testing.T) {
	t.Parallel()
	if _, err := playback.Decode([]byte{1, 2, 3}, 24000); err == nil {
		t.Error("odd payload should be rejected")
	}
	if _, err := playback.Decode(pcm(2), 0); err == nil {
		t.Error("zero rate should be rejected")
	}
	buf, err := playback.Decode(pcm(chunk), 24000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got, want := buf.Duration(), 100*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
}

func TestScheduler_GaplessWatermark(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{now: 50 * time.Millisecond}
	s := playback.New(dev)

	e1, err := s.Enqueue(pcm(chunk))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e2, err := s.Enqueue(pcm(chunk))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if e1.Start != 50*time.Millisecond {
		t.Errorf("first start = %v; watermark must clamp to the device clock", e1.Start)
	}
	if e2.Start != e1.Start+e1.Duration {
		t.Errorf("second start = %v, want %v (back-to-back)", e2.Start, e1.Start+e1.Duration)
	}
	if got, want := s.Watermark(), 250*time.Millisecond; got != want {
		t.Errorf("Watermark = %v, want %v", got, want)
	}
	if e1.ID == e2.ID {
		t.Error("entries must have distinct IDs")
	}
}

func TestScheduler_LateChunkClampsToNow(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	s := playback.New(dev)

	if _, err := s.Enqueue(pcm(chunk)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	dev.setNow(time.Second) // the device ran dry

	e, err := s.Enqueue(pcm(chunk))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if e.Start != time.Second {
		t.Errorf("late chunk start = %v, want %v", e.Start, time.Second)
	}
}

func TestScheduler_InterruptStopsAllLive(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	s := playback.New(dev)

	for range 2 {
		if _, err := s.Enqueue(pcm(chunk)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if s.Live() != 2 {
		t.Fatalf("Live = %d, want 2", s.Live())
	}

	if n := s.Interrupt(); n != 2 {
		t.Errorf("Interrupt stopped %d, want 2", n)
	}
	for i, v := range dev.voices {
		if !v.stopped {
			t.Errorf("voice %d not stopped", i)
		}
	}
	if s.Live() != 0 || s.Watermark() != 0 {
		t.Errorf("after interrupt: live=%d watermark=%v; want 0, 0", s.Live(), s.Watermark())
	}

	// A stale completion for a stopped voice must not resurface.
	dev.voices[0].done()
	if s.Live() != 0 {
		t.Errorf("Live = %d after stale completion", s.Live())
	}
}

func TestScheduler_CompletionRemovesFromArena(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	completed := make(chan uint64, 4)
	s := playback.New(dev, playback.WithOnComplete(func(id uint64) { completed <- id }))

	e1, _ := s.Enqueue(pcm(chunk))
	_, _ = s.Enqueue(pcm(chunk))

	dev.voices[0].done()
	if got := <-completed; got != e1.ID {
		t.Errorf("completed ID = %d, want %d", got, e1.ID)
	}
	if s.Live() != 1 {
		t.Errorf("Live = %d, want 1", s.Live())
	}

	// Duplicate completions are ignored.
	dev.voices[0].done()
	select {
	case id := <-completed:
		t.Errorf("unexpected second completion for %d", id)
	default:
	}
}

func TestScheduler_InvalidPayload(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	s := playback.New(dev)
	if _, err := s.Enqueue([]byte{1}); err == nil {
		t.Fatal("Enqueue of odd payload should fail")
	}
	if s.Watermark() != 0 || len(dev.voices) != 0 {
		t.Error("failed enqueue must not schedule or advance the watermark")
	}
}

func TestScheduler_PlayError(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{playErr: errors.New("device lost")}
	s := playback.New(dev)
	if _, err := s.Enqueue(pcm(chunk)); err == nil {
		t.Fatal("Enqueue should surface device errors")
	}
	if s.Watermark() != 0 {
		t.Errorf("Watermark = %v after failed play, want 0", s.Watermark())
	}
}

func TestScheduler_Close(t *testing.T) {
	t.Parallel()
	dev := &fakeDevice{}
	s := playback.New(dev)
	_, _ = s.Enqueue(pcm(chunk))

	s.Close()
	s.Close()
	if !dev.voices[0].stopped {
		t.Error("Close must stop live voices")
	}
	if _, err := s.Enqueue(pcm(chunk)); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
}

func TestScheduler_SampleRateOption(t *testing.T) {
	t.Parallel()
	s := playback.New(&fakeDevice{}, playback.WithSampleRate(16000))
	e, err := s.Enqueue(pcm(1600))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if e.Duration != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms at 16 kHz", e.Duration)
	}
}
