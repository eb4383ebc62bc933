package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingHook struct {
	mu     sync.Mutex
	events []string
	delays []time.Duration
}

func (h *recordingHook) OnStart(_ context.Context, _ JobWorkerEvent) { h.add("start", 0) }

func (h *recordingHook) OnSuccess(_ context.Context, _ JobWorkerEvent) { h.add("success", 0) }

func (h *recordingHook) OnFailure(_ context.Context, _ JobWorkerEvent) { h.add("failure", 0) }

func (h *recordingHook) OnRetry(_ context.Context, event JobWorkerEvent) { h.add("retry", event.Delay) }

func (h *recordingHook) add(name string, delay time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, name)
	h.delays = append(h.delays, delay)
}

func (h *recordingHook) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func acceptedNotice(t *testing.T, f *serviceFixture) DispatchRecord {
	t.Helper()
	tx := f.initiate(t, testFreeShape)
	f.transition(t, tx.ID, StatePending, testStarter)
	accepted := f.transition(t, tx.ID, StateAccepted, testAuthor)
	notice, ok := findDispatch(f.dispatchesFor(t, accepted.ID), SideEffectTransactionAccepted)
	if !ok {
		t.Fatalf("expected acceptance notice")
	}
	return notice
}

func TestJobRunner_RetriesWithBackoffThenFailsPermanently(t *testing.T) {
	f := newServiceFixture(t)
	notice := acceptedNotice(t, f)
	f.transport.failNext(-1)
	ctx := context.Background()
	maxAttempts := f.svc.Config().Dispatch.MaxAttempts

	for attempt := 1; attempt < maxAttempts; attempt++ {
		err := f.svc.RunDispatch(ctx, notice.ID)
		var retryErr *RetryError
		if !errors.As(err, &retryErr) {
			t.Fatalf("attempt %d: expected retry, got %v", attempt, err)
		}
		if retryErr.Attempt != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, retryErr.Attempt)
		}
		if want := f.svc.JobRunner().nextBackoffDelay(attempt); retryErr.Delay != want {
			t.Fatalf("attempt %d: expected delay %s, got %s", attempt, want, retryErr.Delay)
		}
		stored, err := f.store.DispatchStore().Get(ctx, notice.ID)
		if err != nil {
			t.Fatalf("get dispatch: %v", err)
		}
		if stored.Status != DispatchStatusPending || stored.Attempts != attempt || stored.LastError == "" {
			t.Fatalf("attempt %d: unexpected record %+v", attempt, stored)
		}

		err = f.svc.RunDispatch(ctx, notice.ID)
		if !errors.Is(err, ErrJobNotDue) {
			t.Fatalf("attempt %d: expected not due before backoff elapsed, got %v", attempt, err)
		}
		f.clock.Advance(retryErr.Delay)
	}

	err := f.svc.RunDispatch(ctx, notice.ID)
	var permanentErr *PermanentError
	if !errors.As(err, &permanentErr) || permanentErr.Attempt != maxAttempts {
		t.Fatalf("expected permanent failure on attempt %d, got %v", maxAttempts, err)
	}
	stored, err := f.store.DispatchStore().Get(ctx, notice.ID)
	if err != nil {
		t.Fatalf("get dispatch: %v", err)
	}
	if stored.Status != DispatchStatusFailed {
		t.Fatalf("expected failed record, got %q", stored.Status)
	}
	if f.alerts.count() != 1 {
		t.Fatalf("expected one alert, got %d", f.alerts.count())
	}
	if err := f.svc.RunDispatch(ctx, notice.ID); err != nil {
		t.Fatalf("failed records are settled, got %v", err)
	}
	if f.alerts.count() != 1 {
		t.Fatalf("settled records must not alert again")
	}
}

func TestJobRunner_BackoffIsCapped(t *testing.T) {
	runner := &JobRunner{dispatch: DispatchConfig{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second}}
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  8 * time.Second,
		5:  10 * time.Second,
		80: 10 * time.Second,
	}
	for attempt, want := range cases {
		if got := runner.nextBackoffDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestJobRunner_CancelBeforeExecution(t *testing.T) {
	f := newServiceFixture(t)
	notice := acceptedNotice(t, f)
	ctx := context.Background()

	canceled, err := f.svc.CancelDispatch(ctx, notice.ID)
	if err != nil || !canceled {
		t.Fatalf("expected pending dispatch to cancel, got %v %v", canceled, err)
	}
	if err := f.svc.RunDispatch(ctx, notice.ID); !errors.Is(err, ErrJobCanceled) {
		t.Fatalf("expected canceled job, got %v", err)
	}
	if len(f.transport.sentKinds()) != 0 {
		t.Fatalf("canceled dispatch must not send")
	}
	canceled, err = f.svc.CancelDispatch(ctx, notice.ID)
	if err != nil || canceled {
		t.Fatalf("second cancel should report false, got %v %v", canceled, err)
	}
}

func TestJobRunner_CancelAfterCompletionReportsFalse(t *testing.T) {
	f := newServiceFixture(t)
	notice := acceptedNotice(t, f)
	ctx := context.Background()
	if err := f.svc.RunDispatch(ctx, notice.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	canceled, err := f.svc.CancelDispatch(ctx, notice.ID)
	if err != nil || canceled {
		t.Fatalf("completed dispatch must not cancel, got %v %v", canceled, err)
	}
}

func TestJobRunner_HandleDeliveryAcksAndFiresHooks(t *testing.T) {
	hook := &recordingHook{}
	f := newServiceFixture(t, WithJobWorkerHooks(hook))
	notice := acceptedNotice(t, f)
	queue := f.svc.MemoryQueue()
	if queue.Len() != 1 {
		t.Fatalf("expected the notice to be enqueued, got %d", queue.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	delivery, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := delivery.Message().Parameters[JobParameterDispatchID]; got != notice.ID {
		t.Fatalf("expected dispatch id %q, got %v", notice.ID, got)
	}
	f.svc.JobRunner().HandleDelivery(ctx, delivery)

	events := hook.snapshot()
	if len(events) != 2 || events[0] != "start" || events[1] != "success" {
		t.Fatalf("unexpected hook events %v", events)
	}
	if queue.Len() != 0 {
		t.Fatalf("acked delivery must leave the queue")
	}
	if err := delivery.Ack(ctx); err == nil {
		t.Fatalf("expected double settle to fail")
	}
}

func TestJobRunner_HandleDeliveryRequeuesDelayedEffects(t *testing.T) {
	hook := &recordingHook{}
	f := newServiceFixture(t, WithJobWorkerHooks(hook))
	_, confirmed := confirmStripeTransaction(t, f)
	reminder, ok := findDispatch(f.dispatchesFor(t, confirmed.ID), SideEffectTestimonialReminder)
	if !ok {
		t.Fatalf("expected testimonial reminder")
	}

	queue := f.svc.MemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for queue.Len() > 0 {
		delivery, err := queue.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		f.svc.JobRunner().HandleDelivery(ctx, delivery)
	}

	stored, err := f.store.DispatchStore().Get(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("get reminder: %v", err)
	}
	if stored.Status != DispatchStatusPending || stored.Attempts != 0 {
		t.Fatalf("delayed reminder must stay pending without spending attempts, got %+v", stored)
	}
	hook.mu.Lock()
	defer hook.mu.Unlock()
	found := false
	for i, event := range hook.events {
		if event == "retry" && hook.delays[i] == 72*time.Hour {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 72h retry hook, got %v %v", hook.events, hook.delays)
	}
}

func TestJobRunner_RecoverDueReenqueuesPending(t *testing.T) {
	f := newServiceFixture(t)
	notice := acceptedNotice(t, f)
	ctx := context.Background()

	// Drain the queue as if the process crashed after commit.
	queue := f.svc.MemoryQueue()
	dequeueCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	delivery, err := queue.Dequeue(dequeueCtx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, JobNackOptions{}); err != nil {
		t.Fatalf("nack: %v", err)
	}

	recovered, err := f.svc.RecoverDispatches(ctx, 0)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 1 || queue.Len() != 1 {
		t.Fatalf("expected one recovered job, got %d (queue %d)", recovered, queue.Len())
	}
	delivery, err = queue.Dequeue(dequeueCtx)
	if err != nil {
		t.Fatalf("dequeue recovered: %v", err)
	}
	if got := delivery.Message().Parameters[JobParameterDispatchID]; got != notice.ID {
		t.Fatalf("expected recovered dispatch %q, got %v", notice.ID, got)
	}
}

func TestJobRunner_StartResumesPendingDispatches(t *testing.T) {
	f := newServiceFixture(t)
	notice := acceptedNotice(t, f)
	ctx := context.Background()

	queue := f.svc.MemoryQueue()
	dequeueCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	delivery, err := queue.Dequeue(dequeueCtx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, JobNackOptions{}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if queue.Len() != 0 {
		t.Fatalf("expected an empty queue before restart, got %d", queue.Len())
	}

	if err := f.svc.StartWorkers(ctx); err != nil {
		t.Fatalf("start workers: %v", err)
	}
	defer f.svc.StopWorkers()

	deadline := time.After(2 * time.Second)
	for {
		stored, err := f.store.DispatchStore().Get(ctx, notice.ID)
		if err != nil {
			t.Fatalf("get dispatch: %v", err)
		}
		if stored.Status == DispatchStatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("workers did not resume the pending notice, status %q", stored.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := len(f.transport.sentKinds()); got != 1 {
		t.Fatalf("expected a single send after restart, got %d", got)
	}
}

func TestJobRunner_WorkersDrainQueue(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.StartWorkers(context.Background()); err != nil {
		t.Fatalf("start workers: %v", err)
	}
	defer f.svc.StopWorkers()
	if err := f.svc.StartWorkers(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}

	acceptedNotice(t, f)
	deadline := time.After(2 * time.Second)
	for {
		if containsKind(f.transport.sentKinds(), SideEffectTransactionAccepted) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("workers did not deliver the acceptance notice")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestJobRunner_RejectsForeignMessages(t *testing.T) {
	hook := &recordingHook{}
	f := newServiceFixture(t, WithJobWorkerHooks(hook))
	queue := f.svc.MemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := queue.Enqueue(ctx, &JobExecutionMessage{JobID: "other.job"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	f.svc.JobRunner().HandleDelivery(ctx, delivery)
	if len(queue.DeadLetters()) != 1 {
		t.Fatalf("expected foreign message to be dead lettered")
	}
	if events := hook.snapshot(); len(events) != 1 || events[0] != "failure" {
		t.Fatalf("unexpected hook events %v", events)
	}
}
