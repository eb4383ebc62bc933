package sentry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goliatone/go-transactions/core"
)

const DefaultFlushTimeout = 2 * time.Second

// AlertSink reports permanent dispatch failures to Sentry. Events are
// fingerprinted by source and side effect kind so retries of the same
// failure group together.
type AlertSink struct {
	hub *sentry.Hub
}

// NewAlertSink uses hub, or the current global hub when hub is nil.
func NewAlertSink(hub *sentry.Hub) *AlertSink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &AlertSink{hub: hub}
}

// NewAlertSinkFromOptions builds a dedicated client so alerts do not depend
// on global Sentry state.
func NewAlertSinkFromOptions(opts sentry.ClientOptions) (*AlertSink, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry: new client: %w", err)
	}
	return &AlertSink{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *AlertSink) Alert(ctx context.Context, alert core.Alert) error {
	if s == nil || s.hub == nil || s.hub.Client() == nil {
		return nil
	}
	base := s.hub
	if ctxHub := sentry.GetHubFromContext(ctx); ctxHub != nil && ctxHub.Client() != nil {
		base = ctxHub
	}
	// Workers alert concurrently; each alert gets its own scope stack.
	hub := base.Clone()

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("source", strings.TrimSpace(alert.Source))
		if alert.Kind != "" {
			scope.SetTag("side_effect_kind", string(alert.Kind))
		}
		for key, value := range alert.Tags {
			scope.SetTag(key, value)
		}
		details := sentry.Context{
			"dispatch_id": alert.DispatchID,
			"attempts":    alert.Attempts,
		}
		if !alert.OccurredAt.IsZero() {
			details["occurred_at"] = alert.OccurredAt.UTC().Format(time.RFC3339Nano)
		}
		for key, value := range alert.Fields {
			details[key] = value
		}
		scope.SetContext("dispatch", details)
		scope.SetFingerprint([]string{"transactions", alert.Source, string(alert.Kind)})

		if alert.Err != nil {
			hub.CaptureException(fmt.Errorf("%s: %w", alertMessage(alert), alert.Err))
			return
		}
		hub.CaptureMessage(alertMessage(alert))
	})
	return nil
}

// Flush waits for buffered events; call it before process exit.
func (s *AlertSink) Flush(timeout time.Duration) bool {
	if s == nil || s.hub == nil {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	return s.hub.Flush(timeout)
}

func alertMessage(alert core.Alert) string {
	message := strings.TrimSpace(alert.Message)
	if message == "" {
		message = "transactions alert"
	}
	return message
}

var _ core.AlertSink = (*AlertSink)(nil)
