package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
)

var _ capture.Microphone = Microphone{}

// Microphone opens the default system capture device through malgo.
type Microphone struct{}

type micStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	once   sync.Once
}

// Open initialises a malgo context and starts an int16 capture device in the
// requested format. Samples are delivered as float32 in [-1, 1].
func (Microphone) Open(ctx context.Context, f capture.Format, onSamples func([]float32)) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("device: malgo", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(max(f.Channels, 1))
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInFrames = uint32(f.FrameSize)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			onSamples(audio.PCM16ToFloat32(in))
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: open microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: start microphone: %w", err)
	}
	return &micStream{ctx: mctx, device: dev}, nil
}

// Close stops capture and releases the device.
func (s *micStream) Close() error {
	var err error
	s.once.Do(func() {
		if stopErr := s.device.Stop(); stopErr != nil {
			err = fmt.Errorf("device: stop microphone: %w", stopErr)
		}
		s.device.Uninit()
		_ = s.ctx.Uninit()
		s.ctx.Free()
	})
	return err
}
