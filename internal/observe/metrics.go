// Package observe provides the observability primitives for parley:
// OpenTelemetry metrics, tracing, trace-aware structured logging, HTTP
// middleware and optional Sentry error reporting.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so they can be scraped from
// /metrics. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// ActiveSessions is the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HandshakeDuration tracks time from Start until the transport
	// acknowledged the setup.
	HandshakeDuration metric.Float64Histogram

	// CaptureChunks counts microphone frames. Use with attribute:
	//   attribute.String("status", "sent"|"dropped_unresolved"|"dropped_backpressure")
	CaptureChunks metric.Int64Counter

	// PlaybackChunks counts inbound audio chunks scheduled for playback.
	PlaybackChunks metric.Int64Counter

	// PlaybackInterruptions counts barge-in events that stopped playback.
	PlaybackInterruptions metric.Int64Counter

	// TranscriptTurns counts finalised turns. Use with attribute:
	//   attribute.String("author", "user"|"bot")
	TranscriptTurns metric.Int64Counter

	// SessionErrors counts classified session failures. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time on the
	// health/metrics listener.
	HTTPRequestDuration metric.Float64Histogram
}

// handshakeBuckets are histogram boundaries (in seconds) for session setup.
var handshakeBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.sessions.active",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("parley.session.handshake.duration",
		metric.WithDescription("Time until the live transport acknowledged session setup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(handshakeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureChunks, err = m.Int64Counter("parley.capture.chunks",
		metric.WithDescription("Microphone frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("parley.playback.chunks",
		metric.WithDescription("Inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterruptions, err = m.Int64Counter("parley.playback.interruptions",
		metric.WithDescription("Barge-in interruptions that stopped playback."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptTurns, err = m.Int64Counter("parley.transcript.turns",
		metric.WithDescription("Finalised transcript turns by author."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("parley.session.errors",
		metric.WithDescription("Classified session failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCaptureChunk counts one microphone frame with its outcome.
func (m *Metrics) RecordCaptureChunk(ctx context.Context, status string) {
	m.CaptureChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTurn counts one finalised transcript turn.
func (m *Metrics) RecordTurn(ctx context.Context, author string) {
	m.TranscriptTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("author", author)))
}

// RecordSessionError counts one classified failure.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
