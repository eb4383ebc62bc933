package core

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestStateMachine_FreeProcessLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.initiate(t, testFreeShape)
	if tx.CurrentState != StateFree {
		t.Fatalf("expected initial state free, got %q", tx.CurrentState)
	}
	if tx.ProcessVersion != 1 || tx.ProcessID == "" {
		t.Fatalf("expected pinned process version 1, got %q v%d", tx.ProcessID, tx.ProcessVersion)
	}

	f.transition(t, tx.ID, StatePending, testStarter)
	f.transition(t, tx.ID, StateAccepted, testAuthor)
	f.transition(t, tx.ID, StateConfirmed, testStarter)

	current, err := f.svc.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if current.CurrentState != StateConfirmed {
		t.Fatalf("expected confirmed, got %q", current.CurrentState)
	}
	if current.Version != 4 {
		t.Fatalf("expected version 4, got %d", current.Version)
	}

	history, err := f.svc.History(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 transition records, got %d", len(history))
	}
	for i, record := range history {
		if record.Sequence != i+1 {
			t.Fatalf("expected sequence %d, got %d", i+1, record.Sequence)
		}
		if i > 0 && record.FromState != history[i-1].ToState {
			t.Fatalf("history is not contiguous at %d: %s after %s", i, record.FromState, history[i-1].ToState)
		}
	}
	if history[0].FromState != StateNotStarted || history[0].ToState != StateFree {
		t.Fatalf("unexpected initial record %s -> %s", history[0].FromState, history[0].ToState)
	}
}

func TestStateMachine_RejectsTransitionOutsideProcess(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.initiate(t, testFreeShape)

	_, err := f.svc.Transition(context.Background(), TransitionRequest{TransactionID: tx.ID, ToState: StateConfirmed})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	_, err = f.svc.Transition(context.Background(), TransitionRequest{TransactionID: tx.ID, ToState: "teleported"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for unknown state, got %v", err)
	}

	history, err := f.svc.History(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("rejected transitions must not be recorded, got %d records", len(history))
	}
}

func TestStateMachine_TerminalStateHasNoExits(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.initiate(t, testFreeShape)
	f.transition(t, tx.ID, StateCanceled, testStarter)

	for _, to := range []State{StatePending, StateAccepted, StateConfirmed, StateFree} {
		_, err := f.svc.Transition(context.Background(), TransitionRequest{TransactionID: tx.ID, ToState: to})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected invalid transition from canceled to %s, got %v", to, err)
		}
	}
}

func TestStateMachine_PreauthorizeRequiresGateway(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.initiate(t, testPreauthShape)

	_, err := f.svc.Transition(context.Background(), TransitionRequest{
		TransactionID: tx.ID,
		ToState:       StatePreauthorized,
		Actor:         testStarter,
	})
	if !errors.Is(err, ErrPaymentNotConfigured) {
		t.Fatalf("expected payment not configured, got %v", err)
	}
	mapped := MapError(err)
	if mapped.TextCode != TransactionErrorPaymentNotConfigured {
		t.Fatalf("expected payment text code, got %q", mapped.TextCode)
	}

	current, err := f.svc.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if current.CurrentState != StateFree {
		t.Fatalf("state must not change, got %q", current.CurrentState)
	}
	dispatches, err := f.svc.ListDispatches(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("list dispatches: %v", err)
	}
	if len(dispatches) != 0 {
		t.Fatalf("expected no dispatches for a refused transition, got %d", len(dispatches))
	}
}

func TestStateMachine_StampsGatewayOnPreauthorize(t *testing.T) {
	f := newServiceFixture(t)
	f.provisionStripe(t)
	tx := f.initiate(t, testPreauthShape)
	if tx.PaymentGateway != PaymentGatewayNone {
		t.Fatalf("expected no gateway before payment, got %q", tx.PaymentGateway)
	}

	f.transition(t, tx.ID, StatePreauthorized, testStarter)
	current, err := f.svc.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if current.PaymentGateway != PaymentGatewayStripe {
		t.Fatalf("expected stripe gateway, got %q", current.PaymentGateway)
	}
}

func TestStateMachine_ExpectedStateMismatchIsConflict(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.initiate(t, testFreeShape)

	_, err := f.svc.TransitionWithRetry(context.Background(), TransitionRequest{
		TransactionID: tx.ID,
		ToState:       StateCanceled,
		ExpectedState: StatePending,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("conflicts should be retryable")
	}
	if got := f.metrics.counterTotal(MetricTransitionConflict, nil); got != 1 {
		t.Fatalf("expected one conflict counter, got %d", got)
	}
}

// barrierTransactionStore holds every Get until both callers have read, so
// both transitions plan against the same state.
type barrierTransactionStore struct {
	TransactionStore
	ready *sync.WaitGroup
	armed bool
}

func (s *barrierTransactionStore) Get(ctx context.Context, id string) (Transaction, error) {
	tx, err := s.TransactionStore.Get(ctx, id)
	if s.armed {
		s.ready.Done()
		s.ready.Wait()
	}
	return tx, err
}

func TestStateMachine_ConcurrentTransitionsCommitOnce(t *testing.T) {
	store := NewMemoryStore()
	ready := &sync.WaitGroup{}
	barrier := &barrierTransactionStore{TransactionStore: store.TransactionStore(), ready: ready}
	f := newServiceFixture(t, WithRepositoryFactory(store), WithTransactionStore(barrier))
	f.store = store

	tx := f.initiate(t, testFreeShape)
	f.transition(t, tx.ID, StatePending, testStarter)

	ready.Add(2)
	barrier.armed = true
	targets := []State{StateAccepted, StateRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to State) {
			defer wg.Done()
			_, errs[i] = f.svc.stateMachine.Transition(context.Background(), TransitionRequest{
				TransactionID: tx.ID,
				ToState:       to,
				Actor:         testAuthor,
			})
		}(i, to)
	}
	wg.Wait()
	barrier.armed = false

	succeeded := 0
	conflicts := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d and %d", succeeded, conflicts)
	}
	history, err := f.svc.History(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 records, got %d", len(history))
	}
}

func TestStateMachine_TransactionKeepsPinnedProcessVersion(t *testing.T) {
	f := newServiceFixture(t)
	tx := f.initiate(t, testFreeShape)

	revised := DefaultFreeProcess(testCommunity, testFreeShape)
	revised.Transitions[StateFree] = []State{StateCanceled}
	published, err := f.svc.PublishProcess(context.Background(), revised)
	if err != nil {
		t.Fatalf("publish revision: %v", err)
	}
	if published.Version != 2 || published.ID != tx.ProcessID {
		t.Fatalf("expected version 2 of %q, got %q v%d", tx.ProcessID, published.ID, published.Version)
	}

	f.transition(t, tx.ID, StatePending, testStarter)

	fresh := f.initiate(t, testFreeShape)
	if fresh.ProcessVersion != 2 {
		t.Fatalf("new transactions should use version 2, got %d", fresh.ProcessVersion)
	}
	_, err = f.svc.Transition(context.Background(), TransitionRequest{TransactionID: fresh.ID, ToState: StatePending})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected revised process to refuse free -> pending, got %v", err)
	}
}

func TestStateMachine_InitiateWithoutProcessIsConfigurationError(t *testing.T) {
	f := newServiceFixture(t)
	_, _, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CommunityID:    testCommunity,
		ListingID:      "listing_1",
		ListingShapeID: "shape_unknown",
		StarterID:      testStarter,
		AuthorID:       testAuthor,
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStateMachine_InitiateValidatesRequiredFields(t *testing.T) {
	f := newServiceFixture(t)
	_, _, err := f.svc.Initiate(context.Background(), InitiateRequest{CommunityID: testCommunity})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if mapped := MapError(err); mapped.TextCode != TransactionErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", mapped.TextCode)
	}
}

func TestRetryOnConflict_StopsOnOtherErrors(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), 3, func(context.Context) error {
		calls++
		return ErrInvalidTransition
	})
	if !errors.Is(err, ErrInvalidTransition) || calls != 1 {
		t.Fatalf("expected a single call returning invalid transition, got %d calls and %v", calls, err)
	}
}
