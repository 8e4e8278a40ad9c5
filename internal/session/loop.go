package session

import (
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/fault"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/status"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Loop events.
type (
	connected struct {
		handle live.SessionHandle
		err    error
	}
	acquired struct{ err error }
	inbound  struct{ msg live.ServerMessage }
	ended    struct{ err error }
	finished struct{ id uint64 }
)

func (s *session) log() *slog.Logger { return observe.Logger(s.ctx) }

// run is the session's event loop. It returns once the session is closed.
func (s *session) run() {
	defer close(s.done)

	s.setState(StateOpening)
	s.log().Info("session opening", "model", s.cfg.Live.Model, "voice", s.cfg.Live.Voice)
	go s.connect()

	for {
		select {
		case <-s.stopCh:
			s.finish()
			return
		case <-s.ctx.Done():
			// Parent context cancelled without an explicit stop.
			s.finish()
			return
		case ev := <-s.results:
			if !s.react(ev) {
				return
			}
		case ev := <-s.events:
			if !s.react(ev) {
				return
			}
		}
	}
}

// deliver hands a lifecycle result to the loop. If the loop has already
// exited, release frees whatever the result carries.
func (s *session) deliver(ev any, release func()) {
	select {
	case s.results <- ev:
	case <-s.done:
		if release != nil {
			release()
		}
	}
}

// post queues an inbound event. It gives up once the loop has exited.
func (s *session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *session) connect() {
	ctx, span := observe.StartSpan(s.ctx, "session.connect",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("live.model", s.cfg.Live.Model),
		),
	)
	start := time.Now()
	h, err := s.o.deps.Provider.Connect(ctx, s.cfg.Live)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		s.o.metrics.HandshakeDuration.Record(ctx, time.Since(start).Seconds())
	}
	span.End()

	s.deliver(connected{handle: h, err: err}, func() {
		if h != nil {
			_ = h.Close()
		}
	})
}

func (s *session) acquire(p *capture.Pipeline) {
	err := p.Start(s.ctx)
	// A pipeline closed by teardown has already released the device.
	s.deliver(acquired{err: err}, nil)
}

// pump forwards inbound messages in arrival order, then reports how the
// transport ended.
func (s *session) pump(h live.SessionHandle) {
	for msg := range h.Messages() {
		s.post(inbound{msg: msg})
	}
	s.post(ended{err: h.Err()})
}

// react handles one event and reports whether the loop continues.
func (s *session) react(ev any) bool {
	switch ev := ev.(type) {
	case connected:
		if ev.err != nil {
			return s.abort(fault.SourceTransport, ev.err)
		}
		s.opened(ev.handle)
	case acquired:
		if ev.err != nil {
			return s.abort(fault.SourceDevice, ev.err)
		}
		s.ready()
	case inbound:
		s.dispatch(ev.msg)
	case ended:
		if ev.err != nil {
			// A stop closes the transport, which may report an error first.
			return s.abort(fault.SourceTransport, ev.err)
		}
		s.log().Info("transport closed by remote")
		s.finish()
		return false
	case finished:
		s.log().Debug("playback chunk finished", "id", ev.id, "live", s.sched.Live())
	}
	return true
}

// abort fails the session unless the error is the result of cancellation.
func (s *session) abort(source fault.Source, err error) bool {
	if s.ctx.Err() != nil {
		s.finish()
		return false
	}
	s.fail(source, err)
	return false
}

func (s *session) opened(h live.SessionHandle) {
	s.handle = h
	s.sched = playback.New(s.o.deps.Speaker,
		playback.WithSampleRate(s.cfg.OutputSampleRate),
		playback.WithOnComplete(func(id uint64) { s.post(finished{id: id}) }),
	)
	s.pipeline = capture.New(s.o.deps.Microphone,
		capture.WithSampleRate(s.cfg.Live.InputSampleRate),
		capture.WithFrameSize(s.cfg.FrameSize),
		capture.WithQueueSize(s.cfg.SendQueue),
		capture.WithObserver(func(out capture.Outcome) {
			s.o.metrics.RecordCaptureChunk(s.ctx, string(out))
		}),
	)
	s.log().Info("transport open, acquiring microphone")
	go s.pump(h)
	go s.acquire(s.pipeline)
}

func (s *session) ready() {
	h := s.handle
	s.pipeline.Resolve(capture.SenderFunc(func(f audio.Frame) error {
		return h.SendRealtimeInput(live.ChunkFromFrame(f))
	}))
	s.active = true
	s.setState(StateActive)
	s.o.metrics.ActiveSessions.Add(s.ctx, 1)
	s.log().Info("session active", "format", s.pipeline.Format())
	s.o.machine.Fire(status.DeviceReady)
}

// dispatch applies one inbound message: transcript first, then playback,
// then status.
func (s *session) dispatch(msg live.ServerMessage) {
	if len(msg.Grounding) > 0 {
		s.recon.AddGrounding(sources(msg.Grounding))
	}
	if msg.InputTranscription != nil {
		s.recon.ReplaceUser(msg.InputTranscription.Text)
	}
	if msg.OutputTranscription != nil {
		s.recon.AppendBot(msg.OutputTranscription.Text)
	}
	if msg.TurnComplete {
		s.recon.Complete()
	}

	if msg.Interrupted {
		s.interrupt()
	}
	if len(msg.Audio) > 0 {
		s.schedule(msg.Audio, msg.AudioMIMEType)
	}

	if msg.InputTranscription != nil {
		s.o.machine.Fire(status.UserSpeech)
	}
	if msg.OutputTranscription != nil {
		s.o.machine.Fire(status.BotSpeech)
	}
	if msg.TurnComplete {
		s.o.machine.Fire(status.TurnComplete)
	}
}

func (s *session) interrupt() {
	n := s.sched.Interrupt()
	s.recon.Interrupt()
	s.o.metrics.PlaybackInterruptions.Add(s.ctx, 1)
	s.log().Debug("playback interrupted", "stopped", n)
}

func (s *session) schedule(payload []byte, mime string) {
	rate := s.sched.SampleRate()
	src, err := audio.ParsePCMRate(mime, rate)
	if err != nil {
		s.log().Warn("dropping inbound audio", "mime", mime, "err", err)
		return
	}
	if src != rate {
		payload = audio.ResampleMono16(payload, src, rate)
	}
	entry, err := s.sched.Enqueue(payload)
	if err != nil {
		s.log().Warn("dropping inbound audio", "err", err)
		return
	}
	s.o.metrics.PlaybackChunks.Add(s.ctx, 1,
		metric.WithAttributes(attribute.Int("rate", src)))
	s.log().Debug("audio scheduled", "id", entry.ID, "start", entry.Start, "duration", entry.Duration)
}

func sources(chunks []live.GroundingChunk) []transcript.GroundingSource {
	out := make([]transcript.GroundingSource, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, transcript.GroundingSource{Title: c.Title, URI: c.URI})
	}
	return out
}

// fail classifies err, tears the session down and leaves the status in
// Error.
func (s *session) fail(source fault.Source, err error) {
	fe := fault.Classify(source, err)
	s.log().Error("session failed",
		"kind", fe.Kind.String(),
		"source", source.String(),
		"err", err,
	)
	s.o.metrics.RecordSessionError(s.ctx, fe.Kind.String())
	s.o.reporter.Report(s.ctx, fe, map[string]string{
		"kind":   fe.Kind.String(),
		"source": source.String(),
	})
	if terr := s.teardown(); terr != nil {
		s.log().Warn("session teardown", "err", terr)
	}
	s.o.machine.Fail(fe.Error())
	s.setState(StateClosed)
}

// finish tears the session down and returns the status to Idle.
func (s *session) finish() {
	s.setStopErr(s.teardown())
	s.o.machine.Fire(status.Reset)
	s.setState(StateClosed)
}

// teardown releases every resource the session acquired. The loop calls it
// exactly once, right before exiting. The caller marks the session Closed
// after the final status is emitted so a new Start cannot interleave.
func (s *session) teardown() error {
	s.setState(StateClosing)
	var errs []error
	var totals capture.Stats
	if s.pipeline != nil {
		errs = append(errs, s.pipeline.Close())
		totals = s.pipeline.Stats()
	}
	if s.sched != nil {
		s.sched.Close()
	}
	if s.handle != nil {
		errs = append(errs, s.handle.Close())
	}
	s.recon.Reset()
	if s.active {
		s.active = false
		s.o.metrics.ActiveSessions.Add(s.ctx, -1)
	}
	s.cancel()
	s.log().Info("session closed",
		"frames_captured", totals.Captured,
		"frames_sent", totals.Sent,
		"dropped_unresolved", totals.DroppedUnresolved,
		"dropped_backpressure", totals.DroppedBackpressure,
	)
	return errors.Join(errs...)
}
