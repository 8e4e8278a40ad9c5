package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the int64 sum data point value whose attribute key equals value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHandshakeHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HandshakeDuration.Record(ctx, 0.3)
	m.HandshakeDuration.Record(ctx, 1.2)

	met := findMetric(collect(t, reader), "parley.session.handshake.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Errorf("data points = %+v, want one with count 2", hist.DataPoints)
	}
}

func TestCaptureChunks(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaptureChunk(ctx, "sent")
	m.RecordCaptureChunk(ctx, "sent")
	m.RecordCaptureChunk(ctx, "dropped_unresolved")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "parley.capture.chunks", "status", "sent"); got != 2 {
		t.Errorf("sent = %d, want 2", got)
	}
	if got := sumFor(t, rm, "parley.capture.chunks", "status", "dropped_unresolved"); got != 1 {
		t.Errorf("dropped_unresolved = %d, want 1", got)
	}
}

func TestTurnsAndErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "user")
	m.RecordTurn(ctx, "bot")
	m.RecordTurn(ctx, "bot")
	m.RecordSessionError(ctx, "network_failure")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "parley.transcript.turns", "author", "bot"); got != 2 {
		t.Errorf("bot turns = %d, want 2", got)
	}
	if got := sumFor(t, rm, "parley.session.errors", "kind", "network_failure"); got != 1 {
		t.Errorf("network errors = %d, want 1", got)
	}
}

func TestPlaybackAndSessionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.PlaybackChunks.Add(ctx, 3)
	m.PlaybackInterruptions.Add(ctx, 1)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"parley.sessions.active", 1},
		{"parley.playback.chunks", 3},
		{"parley.playback.interruptions", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumFor(t, rm, tc.name, "", ""); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
