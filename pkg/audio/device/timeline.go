// Package device binds the capture pipeline and the playback scheduler to real
// hardware: malgo for the microphone and oto for the speaker.
//
// The speaker side is a pull model. oto reads PCM from a [Timeline], which
// mixes every scheduled buffer at its start position and advances its clock by
// the number of samples handed out. The Timeline therefore doubles as the
// playback device clock.
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
)

var _ playback.Device = (*Timeline)(nil)

// Timeline is a sample-accurate mixing clock. It implements playback.Device
// and io.Reader (mono int16 little-endian PCM). Read never blocks and emits
// silence when nothing is scheduled.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64 // samples handed to the reader so far
	voices map[*voice]struct{}
	mix    []float32
}

type voice struct {
	tl      *Timeline
	start   int64
	samples []float32
	done    func()
}

// Stop removes the voice from the mix. Its done callback will not fire.
func (v *voice) Stop() {
	v.tl.mu.Lock()
	delete(v.tl.voices, v)
	v.tl.mu.Unlock()
}

// NewTimeline creates a Timeline producing audio at rate Hz.
func NewTimeline(rate int) *Timeline {
	return &Timeline{rate: rate, voices: make(map[*voice]struct{})}
}

// SampleRate returns the output rate.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the clock: the duration of audio read so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.pos)
}

// Play schedules buf at the given clock time. A start in the past is moved to
// the current position.
func (t *Timeline) Play(buf playback.Buffer, at time.Duration, done func()) (playback.Voice, error) {
	if buf.SampleRate != t.rate {
		return nil, fmt.Errorf("device: buffer rate %d does not match output rate %d", buf.SampleRate, t.rate)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	start := t.toSamples(at)
	if start < t.pos {
		start = t.pos
	}
	v := &voice{tl: t, start: start, samples: buf.Samples, done: done}
	t.voices[v] = struct{}{}
	return v, nil
}

// Read fills p with the mixed output for the next len(p)/2 samples.
func (t *Timeline) Read(p []byte) (int, error) {
	n := len(p) / 2
	if n == 0 {
		return 0, nil
	}

	t.mu.Lock()
	if cap(t.mix) < n {
		t.mix = make([]float32, n)
	}
	mix := t.mix[:n]
	clear(mix)

	from, to := t.pos, t.pos+int64(n)
	var finished []func()
	for v := range t.voices {
		end := v.start + int64(len(v.samples))
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			for i := lo; i < hi; i++ {
				mix[i-from] += v.samples[i-v.start]
			}
		}
		if end <= to {
			delete(t.voices, v)
			if v.done != nil {
				finished = append(finished, v.done)
			}
		}
	}
	t.pos = to

	copy(p, audio.Float32ToPCM16(mix))
	t.mu.Unlock()

	for _, fn := range finished {
		fn()
	}
	return n * 2, nil
}

// Pending returns the number of voices still scheduled.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// toSamples rounds to the nearest sample. Durations built from whole-sample
// buffers are truncated to the nanosecond, so flooring here would start each
// buffer one sample early.
func (t *Timeline) toSamples(d time.Duration) int64 {
	half := int64(time.Second) / 2
	return (int64(d)*int64(t.rate) + half) / int64(time.Second)
}

func (t *Timeline) toDuration(samples int64) time.Duration {
	if t.rate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(t.rate)
}
