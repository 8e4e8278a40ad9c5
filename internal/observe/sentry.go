package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards failures to an external error tracker.
type Reporter interface {
	// Report records err with the given tags. It must not block on network.
	Report(ctx context.Context, err error, tags map[string]string)

	// Flush waits up to timeout for buffered reports to be delivered.
	Flush(timeout time.Duration) bool
}

// NopReporter discards every report.
type NopReporter struct{}

func (NopReporter) Report(context.Context, error, map[string]string) {}

func (NopReporter) Flush(time.Duration) bool { return true }

// SentryConfig configures a SentryReporter.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string

	// BeforeSend, if set, may inspect or drop events. Used by tests.
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// SentryReporter reports classified session failures to Sentry. It owns its
// own hub so it never touches the global Sentry state.
type SentryReporter struct {
	hub *sentry.Hub
}

var _ Reporter = (*SentryReporter)(nil)

// NewSentryReporter creates a reporter for cfg.
func NewSentryReporter(cfg SentryConfig) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("observe: init sentry: %w", err)
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report captures err with tags and, when ctx carries a session, the
// session ID.
func (r *SentryReporter) Report(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if id := SessionID(ctx); id != "" {
			scope.SetTag("session_id", id)
		}
		if cid := CorrelationID(ctx); cid != "" {
			scope.SetTag("trace_id", cid)
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for buffered events.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
