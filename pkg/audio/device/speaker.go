package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Speaker drives a Timeline through the system audio output.
type Speaker struct {
	*Timeline

	player *oto.Player
	once   sync.Once
}

var (
	otoMu  sync.Mutex
	otoCtx *oto.Context
	otoCfg oto.NewContextOptions
)

// OpenSpeaker starts playback of a fresh Timeline at rate Hz. bufferMS sizes
// the driver buffer; smaller values lower latency at the risk of glitches.
//
// oto allows one context per process, so the first call fixes the rate and
// later calls must request the same one.
func OpenSpeaker(rate, bufferMS int) (*Speaker, error) {
	ctx, err := sharedContext(rate, bufferMS)
	if err != nil {
		return nil, err
	}
	tl := NewTimeline(rate)
	player := ctx.NewPlayer(tl)
	player.Play()
	return &Speaker{Timeline: tl, player: player}, nil
}

func sharedContext(rate, bufferMS int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if otoCfg.SampleRate != rate {
			return nil, fmt.Errorf("device: speaker already open at %d Hz", otoCfg.SampleRate)
		}
		return otoCtx, nil
	}
	opts := oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(bufferMS) * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(&opts)
	if err != nil {
		return nil, fmt.Errorf("device: open speaker: %w", err)
	}
	<-ready
	otoCtx, otoCfg = ctx, opts
	return ctx, nil
}

// Close stops the player. Scheduled voices are dropped without completion.
func (s *Speaker) Close() error {
	var err error
	s.once.Do(func() {
		s.player.Pause()
		err = s.player.Close()
	})
	return err
}
