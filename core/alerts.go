package core

import (
	"context"
	"errors"
	"strings"
)

// LogAlertSink writes alerts to the error log. It is the default sink.
type LogAlertSink struct {
	Logger Logger
}

func (s LogAlertSink) Alert(ctx context.Context, alert Alert) error {
	fields := cloneFields(alert.Fields)
	fields["source"] = alert.Source
	fields["dispatch_id"] = alert.DispatchID
	fields["kind"] = string(alert.Kind)
	fields["attempts"] = alert.Attempts
	if alert.Err != nil {
		fields["error"] = alert.Err.Error()
	}
	for key, value := range alert.Tags {
		fields["tag_"+key] = value
	}
	message := strings.TrimSpace(alert.Message)
	if message == "" {
		message = "transactions alert"
	}
	newTelemetry(s.Logger, nil).logError(ctx, message, fields)
	return nil
}

// MultiAlertSink fans out to every sink and joins their errors.
type MultiAlertSink []AlertSink

func (m MultiAlertSink) Alert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Alert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
