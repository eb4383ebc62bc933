package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTelemetry_ObserveOperationRecordsMetricsAndLogs(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	tel := newTelemetry(logger, metrics)

	tel.observeOperation(context.Background(), time.Now(), "transition", nil, map[string]any{
		"community_id": testCommunity,
		"to_state":     "accepted",
	})
	tel.observeOperation(context.Background(), time.Now(), "transition", errors.New("boom"), nil)

	if got := metrics.counterTotal("transactions.transition.total", map[string]string{"status": "success", "community_id": testCommunity}); got != 1 {
		t.Fatalf("expected one success counter, got %d", got)
	}
	if got := metrics.counterTotal("transactions.transition.total", map[string]string{"status": "failure"}); got != 1 {
		t.Fatalf("expected one failure counter, got %d", got)
	}
	if len(metrics.histograms) != 2 {
		t.Fatalf("expected duration histograms, got %d", len(metrics.histograms))
	}
	records := logger.snapshot()
	if !hasLog(records, "info", "transition succeeded") || !hasLog(records, "error", "transition failed") {
		t.Fatalf("expected structured logs, got %+v", records)
	}
}

func TestTelemetry_RedactsContactDetails(t *testing.T) {
	logger := newCaptureLogger()
	newTelemetry(logger, nil).logInfo(context.Background(), "notify", map[string]any{
		"recipient_email":     testStarterAddress,
		"recipient_person_id": testStarter,
		"dispatch_id":         "d_1",
		"nested":              map[string]any{"phone": "555"},
	})
	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	fields := records[0].fields
	if fields["recipient_email"] != RedactedValue {
		t.Fatalf("expected email to be redacted, got %v", fields["recipient_email"])
	}
	if fields["recipient_person_id"] != testStarter || fields["dispatch_id"] != "d_1" {
		t.Fatalf("identifiers must be kept, got %+v", fields)
	}
	nested, _ := fields["nested"].(map[string]any)
	if nested["phone"] != RedactedValue {
		t.Fatalf("expected nested phone to be redacted, got %+v", nested)
	}
}

func TestLogAlertSink_WritesErrorLog(t *testing.T) {
	logger := newCaptureLogger()
	sink := MultiAlertSink{LogAlertSink{Logger: logger}, nil}
	err := sink.Alert(context.Background(), Alert{
		Source:     "transactions.dispatch",
		Message:    "dispatch failed permanently",
		DispatchID: "d_1",
		Kind:       SideEffectTransactionAccepted,
		Attempts:   5,
		Err:        errors.New("smtp down"),
	})
	if err != nil {
		t.Fatalf("alert: %v", err)
	}
	if !hasLog(logger.snapshot(), "error", "dispatch failed permanently") {
		t.Fatalf("expected alert log")
	}
}
