package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// codeWriter remembers the status code the wrapped handler wrote.
type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// operatorRoutes are the paths the operator listener serves. Anything else
// is labelled "other" so stray requests cannot grow label cardinality. All
// of them are polled by probes or scrapers and log at debug when healthy.
var operatorRoutes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/statusz": true,
	"/metrics": true,
}

func routeLabel(path string) string {
	if operatorRoutes[path] {
		return path
	}
	return "other"
}

// Middleware instruments the operator listener: a server span continuing any
// W3C trace context, an X-Correlation-ID response header, a duration sample
// and one completion log line per request.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			route := routeLabel(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}

			cw := &codeWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(cw, r.WithContext(ctx))

			elapsed := time.Since(began)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.String("code", strconv.Itoa(cw.code)),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(cw.code))

			level := slog.LevelInfo
			if route != "other" && cw.code < http.StatusInternalServerError {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "operator request",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("code", cw.code),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
