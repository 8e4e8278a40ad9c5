// Package health serves the operator endpoints of a running parley process:
//
//   - /healthz: liveness probe; always 200 OK.
//   - /readyz: readiness probe; 200 only when every registered [Checker]
//     passes. The session checker fails while the session is in Error.
//   - /statusz: the current session status as JSON.
//   - /metrics: Prometheus exposition of the OpenTelemetry metrics.
//
// JSON responses carry a top-level "status" field and, for /readyz, a
// "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/status"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// StatusFunc reports the current session status and its message.
type StatusFunc func() (status.Status, string)

// SessionChecker returns a Checker that fails while the session is in Error.
func SessionChecker(current StatusFunc) Checker {
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			if s, msg := current(); s == status.Error {
				if msg == "" {
					msg = "session failed"
				}
				return errors.New(msg)
			}
			return nil
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type statusResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithStatus enables /statusz backed by fn.
func WithStatus(fn StatusFunc) Option {
	return func(h *Handler) { h.status = fn }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

// Handler serves the operator endpoints. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
	status   StatusFunc
	gatherer prometheus.Gatherer
}

// New creates a Handler evaluating checkers in order on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every Checker passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !allOK {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Statusz reports the current session status.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusNotFound, statusResult{Status: "unknown"})
		return
	}
	s, msg := h.status()
	writeJSON(w, http.StatusOK, statusResult{Status: s.String(), Message: msg})
}

// Register adds all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
