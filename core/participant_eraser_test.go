package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParticipantEraser_ScrubsStarter(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.initiate(t, testFreeShape)
	f.transition(t, tx.ID, StatePending, testStarter)
	accepted := f.transition(t, tx.ID, StateAccepted, testAuthor)
	ctx := context.Background()

	report, err := f.svc.EraseParticipant(ctx, testStarter)
	if err != nil {
		t.Fatalf("erase: %v", err)
	}
	if len(report.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %+v", report.Steps)
	}
	affected := map[string]int{}
	for _, step := range report.Steps {
		affected[step.Name] = step.Affected
	}
	if affected["cancel_pending_dispatches"] != 1 || affected["scrub_dispatch_recipient"] != 1 {
		t.Fatalf("unexpected dispatch counts %+v", affected)
	}
	// initiate and pending were recorded with the starter as actor
	if affected["anonymize_transition_actor"] != 2 {
		t.Fatalf("expected 2 anonymized records, got %d", affected["anonymize_transition_actor"])
	}

	notice, _ := findDispatch(f.dispatchesFor(t, accepted.ID), SideEffectTransactionAccepted)
	if notice.Status != DispatchStatusCanceled || notice.RecipientPersonID != DeletedParticipant {
		t.Fatalf("expected canceled, scrubbed notice, got %+v", notice)
	}
	if hasPrefixKey(notice.Metadata, "recipient_") {
		t.Fatalf("recipient metadata must be removed, got %+v", notice.Metadata)
	}
	history, err := f.svc.History(ctx, tx.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, record := range history {
		if record.Actor == testStarter {
			t.Fatalf("starter still appears in history: %+v", record)
		}
	}

	again, err := f.svc.EraseParticipant(ctx, testStarter)
	if err != nil {
		t.Fatalf("second erase: %v", err)
	}
	for _, step := range again.Steps {
		if step.Affected != 0 {
			t.Fatalf("repeat erasure should affect nothing, got %+v", again.Steps)
		}
	}
}

func TestParticipantEraser_RollsBackFailedRun(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.initiate(t, testFreeShape)
	f.transition(t, tx.ID, StatePending, testStarter)
	accepted := f.transition(t, tx.ID, StateAccepted, testAuthor)

	steps := append(DefaultErasureSteps(), ErasureStep{
		Name: "explode",
		Run: func(context.Context, ErasureUnit, string, time.Time) (int, error) {
			return 0, errors.New("boom")
		},
	})
	eraser, err := NewParticipantEraser(f.store.ErasureStore(), steps, nil, nil)
	if err != nil {
		t.Fatalf("new eraser: %v", err)
	}
	if _, err := eraser.EraseParticipant(context.Background(), testStarter); err == nil {
		t.Fatalf("expected erasure failure")
	}

	notice, _ := findDispatch(f.dispatchesFor(t, accepted.ID), SideEffectTransactionAccepted)
	if notice.Status != DispatchStatusPending || notice.RecipientPersonID != testStarter {
		t.Fatalf("failed erasure must leave records untouched, got %+v", notice)
	}
}

func TestParticipantEraser_RejectsInvalidPerson(t *testing.T) {
	f := newServiceFixture(t)
	for _, personID := range []string{"", "  ", DeletedParticipant} {
		if _, err := f.svc.EraseParticipant(context.Background(), personID); err == nil {
			t.Fatalf("expected error for %q", personID)
		}
	}
}
