package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const DeletedParticipant = "deleted_user"

// ErasureStep is one idempotent step of participant erasure. Running a step
// twice affects nothing the second time.
type ErasureStep struct {
	Name string
	Run  func(ctx context.Context, unit ErasureUnit, personID string, at time.Time) (int, error)
}

type ErasureStepResult struct {
	Name     string
	Affected int
}

type ErasureReport struct {
	PersonID string
	Steps    []ErasureStepResult
	ErasedAt time.Time
}

// DefaultErasureSteps cancels pending dispatches before the recipient is
// scrubbed, because cancellation matches on the person id the scrub removes.
func DefaultErasureSteps() []ErasureStep {
	return []ErasureStep{
		{
			Name: "cancel_pending_dispatches",
			Run: func(ctx context.Context, unit ErasureUnit, personID string, at time.Time) (int, error) {
				return unit.CancelPendingDispatches(ctx, personID, at)
			},
		},
		{
			Name: "scrub_dispatch_recipient",
			Run: func(ctx context.Context, unit ErasureUnit, personID string, _ time.Time) (int, error) {
				return unit.ScrubDispatchRecipient(ctx, personID, DeletedParticipant)
			},
		},
		{
			Name: "anonymize_transition_actor",
			Run: func(ctx context.Context, unit ErasureUnit, personID string, _ time.Time) (int, error) {
				return unit.AnonymizeTransitionActor(ctx, personID, DeletedParticipant)
			},
		},
	}
}

type ParticipantEraser struct {
	store     ErasureStore
	steps     []ErasureStep
	telemetry telemetry
	now       func() time.Time
}

func NewParticipantEraser(store ErasureStore, steps []ErasureStep, logger Logger, metrics MetricsRecorder) (*ParticipantEraser, error) {
	if store == nil {
		return nil, fmt.Errorf("core: erasure store is required")
	}
	if len(steps) == 0 {
		steps = DefaultErasureSteps()
	}
	for _, step := range steps {
		if strings.TrimSpace(step.Name) == "" || step.Run == nil {
			return nil, fmt.Errorf("core: erasure steps need a name and a run function")
		}
	}
	return &ParticipantEraser{
		store:     store,
		steps:     append([]ErasureStep(nil), steps...),
		telemetry: newTelemetry(logger, metrics),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// EraseParticipant runs every step in order inside one storage transaction.
// A failed run leaves nothing behind and can be repeated.
func (e *ParticipantEraser) EraseParticipant(ctx context.Context, personID string) (report ErasureReport, err error) {
	if e == nil || e.store == nil {
		return ErasureReport{}, fmt.Errorf("core: participant eraser is not configured")
	}
	personID = strings.TrimSpace(personID)
	if personID == "" || personID == DeletedParticipant {
		return ErasureReport{}, fmt.Errorf("core: person id is invalid")
	}
	startedAt := time.Now()
	at := e.now()
	defer func() {
		fields := map[string]any{"steps": len(report.Steps)}
		for _, step := range report.Steps {
			fields[step.Name] = step.Affected
		}
		e.telemetry.observeOperation(ctx, startedAt, "erase_participant", err, fields)
	}()

	results := make([]ErasureStepResult, 0, len(e.steps))
	err = e.store.WithinErasure(ctx, func(ctx context.Context, unit ErasureUnit) error {
		results = results[:0]
		for _, step := range e.steps {
			affected, stepErr := step.Run(ctx, unit, personID, at)
			if stepErr != nil {
				return fmt.Errorf("core: erasure step %s: %w", step.Name, stepErr)
			}
			results = append(results, ErasureStepResult{Name: step.Name, Affected: affected})
		}
		return nil
	})
	if err != nil {
		return ErasureReport{}, err
	}
	return ErasureReport{PersonID: personID, Steps: results, ErasedAt: at}, nil
}

// ScrubRecipientMetadata drops recipient details captured on a dispatch.
func ScrubRecipientMetadata(metadata map[string]any) map[string]any {
	out := copyMap(metadata)
	for key := range out {
		if strings.HasPrefix(key, "recipient_") {
			delete(out, key)
		}
	}
	return out
}
