package sentry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goliatone/go-transactions/core"
)

type eventCapture struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *eventCapture) beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	// Dropping the event keeps the test offline.
	return nil
}

func (c *eventCapture) all() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

func newCapturingSink(t *testing.T) (*AlertSink, *eventCapture) {
	t.Helper()
	capture := &eventCapture{}
	sink, err := NewAlertSinkFromOptions(sentry.ClientOptions{BeforeSend: capture.beforeSend})
	if err != nil {
		t.Fatalf("new alert sink: %v", err)
	}
	return sink, capture
}

func TestAlertSink_CapturesFailureAsException(t *testing.T) {
	sink, capture := newCapturingSink(t)

	err := sink.Alert(context.Background(), core.Alert{
		Source:     "job_runner",
		Message:    "dispatch failed permanently",
		DispatchID: "d_1",
		Kind:       core.SideEffectTransactionAccepted,
		Attempts:   5,
		Err:        errors.New("smtp rejected"),
		Tags:       map[string]string{"community_id": "cmty_1"},
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("alert: %v", err)
	}

	events := capture.all()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	event := events[0]
	if event.Level != sentry.LevelError {
		t.Fatalf("expected error level, got %q", event.Level)
	}
	if len(event.Exception) == 0 {
		t.Fatalf("expected exception payload")
	}
	if event.Tags["source"] != "job_runner" || event.Tags["community_id"] != "cmty_1" {
		t.Fatalf("expected alert tags, got %#v", event.Tags)
	}
	if event.Tags["side_effect_kind"] != string(core.SideEffectTransactionAccepted) {
		t.Fatalf("expected kind tag, got %#v", event.Tags)
	}
	if event.Contexts["dispatch"]["dispatch_id"] != "d_1" {
		t.Fatalf("expected dispatch context, got %#v", event.Contexts["dispatch"])
	}
	if len(event.Fingerprint) != 3 || event.Fingerprint[1] != "job_runner" {
		t.Fatalf("expected source fingerprint, got %#v", event.Fingerprint)
	}
}

func TestAlertSink_CapturesMessageWithoutError(t *testing.T) {
	sink, capture := newCapturingSink(t)

	if err := sink.Alert(context.Background(), core.Alert{Source: "job_runner"}); err != nil {
		t.Fatalf("alert: %v", err)
	}
	events := capture.all()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Message != "transactions alert" {
		t.Fatalf("expected default message, got %q", events[0].Message)
	}
}

func TestAlertSink_ConcurrentAlertsKeepTheirOwnScope(t *testing.T) {
	sink, capture := newCapturingSink(t)
	const alerts = 32

	var wg sync.WaitGroup
	for i := 0; i < alerts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("d_%d", i)
			_ = sink.Alert(context.Background(), core.Alert{
				Source:     "job_runner",
				DispatchID: id,
				Kind:       core.SideEffectKind("kind_" + id),
				Err:        errors.New("transport down"),
				Tags:       map[string]string{"dispatch_tag": id},
			})
		}(i)
	}
	wg.Wait()

	events := capture.all()
	if len(events) != alerts {
		t.Fatalf("expected %d events, got %d", alerts, len(events))
	}
	for _, event := range events {
		id := event.Tags["dispatch_tag"]
		if event.Contexts["dispatch"]["dispatch_id"] != id {
			t.Fatalf("context %v mixed with tag %q", event.Contexts["dispatch"]["dispatch_id"], id)
		}
		if len(event.Fingerprint) != 3 || event.Fingerprint[2] != "kind_"+id {
			t.Fatalf("fingerprint %#v mixed with tag %q", event.Fingerprint, id)
		}
	}
}

func TestAlertSink_NilHubIsNoop(t *testing.T) {
	var sink *AlertSink
	if err := sink.Alert(context.Background(), core.Alert{Source: "job_runner"}); err != nil {
		t.Fatalf("expected nil sink to be a no-op, got %v", err)
	}
	if !sink.Flush(time.Millisecond) {
		t.Fatalf("expected nil sink flush to report done")
	}
}

func TestAlertSink_ComposesWithLogSink(t *testing.T) {
	sink, capture := newCapturingSink(t)
	multi := core.MultiAlertSink{sink, core.LogAlertSink{}}

	if err := multi.Alert(context.Background(), core.Alert{
		Source:  "job_runner",
		Message: "dead letter",
		Err:     errors.New("boom"),
	}); err != nil {
		t.Fatalf("multi alert: %v", err)
	}
	if len(capture.all()) != 1 {
		t.Fatalf("expected sentry to receive the fanned out alert")
	}
}
