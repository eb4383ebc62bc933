package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

const (
	DispatchJobID          = "transactions.dispatch"
	JobParameterDispatchID = "dispatch_id"
	JobDedupPolicyDrop     = "drop"
)

type Job struct {
	DispatchID     string
	IdempotencyKey string
}

// JobForDispatch derives the job for rec. The idempotency key is the
// (transition, kind) key so replays collapse onto one record.
func JobForDispatch(rec DispatchRecord) Job {
	return Job{
		DispatchID:     rec.ID,
		IdempotencyKey: DispatchKey(rec.TransitionID, rec.Kind),
	}
}

type JobHandle struct {
	DispatchID     string
	IdempotencyKey string
	EnqueuedAt     time.Time
}

// RetryError asks the queue to deliver the job again after Delay.
type RetryError struct {
	Attempt int
	Delay   time.Duration
	Cause   error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("core: dispatch retry in %s after attempt %d: %v", e.Delay, e.Attempt, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

// PermanentError reports a dispatch that exhausted its attempts.
type PermanentError struct {
	Attempt int
	Cause   error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("core: dispatch failed permanently after %d attempts: %v", e.Attempt, e.Cause)
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

type DispatchExecutor interface {
	Execute(ctx context.Context, rec DispatchRecord) error
}

type DispatchExecutorFunc func(ctx context.Context, rec DispatchRecord) error

func (f DispatchExecutorFunc) Execute(ctx context.Context, rec DispatchRecord) error {
	return f(ctx, rec)
}

type JobRunnerDependencies struct {
	Store    DispatchStore
	Executor DispatchExecutor
	Enqueuer JobEnqueuer
	Dequeuer JobDequeuer
	Alerts   AlertSink
	Hooks    []JobWorkerHook
	Dispatch DispatchConfig
	Worker   WorkerConfig
	Logger   Logger
	Metrics  MetricsRecorder
	Clock    func() time.Time
}

// JobRunner executes dispatch jobs with at-least-once delivery. The dispatch
// record status makes re-runs harmless: settled records are never executed
// again.
type JobRunner struct {
	store     DispatchStore
	executor  DispatchExecutor
	enqueuer  JobEnqueuer
	dequeuer  JobDequeuer
	alerts    AlertSink
	hooks     []JobWorkerHook
	dispatch  DispatchConfig
	worker    WorkerConfig
	telemetry telemetry
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewJobRunner(deps JobRunnerDependencies) (*JobRunner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("core: dispatch store is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("core: dispatch executor is required")
	}
	if deps.Enqueuer == nil {
		return nil, fmt.Errorf("core: job enqueuer is required")
	}
	defaults := DefaultConfig()
	if deps.Dispatch.MaxAttempts <= 0 {
		deps.Dispatch.MaxAttempts = defaults.Dispatch.MaxAttempts
	}
	if deps.Dispatch.InitialBackoff <= 0 {
		deps.Dispatch.InitialBackoff = defaults.Dispatch.InitialBackoff
	}
	if deps.Dispatch.MaxBackoff <= 0 {
		deps.Dispatch.MaxBackoff = defaults.Dispatch.MaxBackoff
	}
	if deps.Dispatch.BatchSize <= 0 {
		deps.Dispatch.BatchSize = defaults.Dispatch.BatchSize
	}
	if deps.Dispatch.ProcessingLease <= 0 {
		deps.Dispatch.ProcessingLease = defaults.Dispatch.ProcessingLease
	}
	if deps.Worker.Concurrency <= 0 {
		deps.Worker.Concurrency = defaults.Worker.Concurrency
	}
	if deps.Worker.PollInterval <= 0 {
		deps.Worker.PollInterval = defaults.Worker.PollInterval
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = LogAlertSink{Logger: deps.Logger}
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &JobRunner{
		store:     deps.Store,
		executor:  deps.Executor,
		enqueuer:  deps.Enqueuer,
		dequeuer:  deps.Dequeuer,
		alerts:    alerts,
		hooks:     append([]JobWorkerHook(nil), deps.Hooks...),
		dispatch:  deps.Dispatch,
		worker:    deps.Worker,
		telemetry: newTelemetry(deps.Logger, deps.Metrics),
		now:       clock,
	}, nil
}

func (r *JobRunner) Enqueue(ctx context.Context, job Job) (JobHandle, error) {
	if r == nil || r.enqueuer == nil {
		return JobHandle{}, fmt.Errorf("core: job runner is not configured")
	}
	id := strings.TrimSpace(job.DispatchID)
	if id == "" {
		return JobHandle{}, fmt.Errorf("core: dispatch id is required")
	}
	key := strings.TrimSpace(job.IdempotencyKey)
	if key == "" {
		key = "dispatch:" + id
	}
	msg := &JobExecutionMessage{
		JobID:          DispatchJobID,
		ScriptPath:     DispatchJobID,
		Parameters:     map[string]any{JobParameterDispatchID: id},
		IdempotencyKey: key,
		DedupPolicy:    JobDedupPolicyDrop,
	}
	if err := r.enqueuer.Enqueue(ctx, msg); err != nil {
		return JobHandle{}, err
	}
	return JobHandle{DispatchID: id, IdempotencyKey: key, EnqueuedAt: r.now()}, nil
}

// Run executes one attempt. It returns nil when the record settled (or
// already was), *RetryError when the job must be delivered again later and
// *PermanentError after the last attempt.
func (r *JobRunner) Run(ctx context.Context, job Job) (err error) {
	if r == nil || r.store == nil || r.executor == nil {
		return fmt.Errorf("core: job runner is not configured")
	}
	id := strings.TrimSpace(job.DispatchID)
	if id == "" {
		return fmt.Errorf("core: dispatch id is required")
	}
	startedAt := time.Now()
	outcome := "noop"
	fields := map[string]any{"dispatch_id": id}
	defer func() {
		fields["outcome"] = outcome
		r.telemetry.recordCounter(ctx, MetricDispatchOutcomes, 1, map[string]string{"outcome": outcome})
		r.telemetry.observeOperation(ctx, startedAt, "dispatch_run", err, fields)
	}()

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	fields["kind"] = string(rec.Kind)
	fields["transition_id"] = rec.TransitionID
	if rec.Status == DispatchStatusCanceled {
		outcome = "canceled"
		return ErrJobCanceled
	}
	if rec.Status.Settled() {
		return nil
	}

	now := r.now()
	if rec.Status == DispatchStatusPending && rec.NextAttemptAt != nil && rec.NextAttemptAt.After(now) {
		outcome = "deferred"
		return &RetryError{Attempt: rec.Attempts, Delay: rec.NextAttemptAt.Sub(now), Cause: ErrJobNotDue}
	}
	claimed, ok, err := r.store.Claim(ctx, id, now, now.Add(r.dispatch.ProcessingLease))
	if err != nil {
		return err
	}
	if !ok {
		if claimed.Status == DispatchStatusCanceled {
			outcome = "canceled"
			return ErrJobCanceled
		}
		outcome = "busy"
		return nil
	}

	attempt := claimed.Attempts + 1
	fields["attempt"] = attempt
	r.telemetry.recordCounter(ctx, MetricDispatchAttempts, 1, map[string]string{"kind": string(claimed.Kind)})
	execStarted := time.Now()
	execErr := r.executor.Execute(ctx, claimed)
	r.telemetry.recordHistogram(ctx, MetricDispatchDurationMS, float64(time.Since(execStarted).Milliseconds()), map[string]string{
		"kind": string(claimed.Kind),
	})
	settledAt := r.now()

	switch {
	case execErr == nil:
		outcome = "completed"
		return r.store.Complete(ctx, id, settledAt)
	case isSkippable(execErr):
		outcome = "skipped"
		fields["reason"] = execErr.Error()
		return r.store.Skip(ctx, id, execErr.Error(), settledAt)
	case attempt >= r.dispatch.MaxAttempts:
		outcome = "failed"
		if failErr := r.store.Fail(ctx, id, DispatchFailure{Cause: execErr, Permanent: true}, settledAt); failErr != nil {
			return joinErrors(failErr, execErr)
		}
		permanent := &PermanentError{Attempt: attempt, Cause: execErr}
		r.raiseAlert(ctx, claimed, attempt, execErr)
		return permanent
	default:
		outcome = "retry"
		delay := r.nextBackoffDelay(attempt)
		failure := DispatchFailure{Cause: execErr, NextAttemptAt: settledAt.Add(delay)}
		if failErr := r.store.Fail(ctx, id, failure, settledAt); failErr != nil {
			return joinErrors(failErr, execErr)
		}
		return &RetryError{Attempt: attempt, Delay: delay, Cause: execErr}
	}
}

func (r *JobRunner) raiseAlert(ctx context.Context, rec DispatchRecord, attempt int, cause error) {
	alert := Alert{
		Source:     "transactions.dispatch",
		Message:    "dispatch failed permanently",
		DispatchID: rec.ID,
		Kind:       rec.Kind,
		Attempts:   attempt,
		Err:        cause,
		Tags: map[string]string{
			"kind":         string(rec.Kind),
			"community_id": rec.CommunityID,
		},
		Fields: map[string]any{
			"transaction_id": rec.TransactionID,
			"transition_id":  rec.TransitionID,
		},
		OccurredAt: r.now(),
	}
	if err := r.alerts.Alert(ctx, alert); err != nil {
		r.telemetry.logError(ctx, "dispatch alert failed", map[string]any{
			"dispatch_id": rec.ID,
			"error":       err.Error(),
		})
	}
}

// Cancel succeeds only while the record has not started executing.
func (r *JobRunner) Cancel(ctx context.Context, handle JobHandle) (bool, error) {
	if r == nil || r.store == nil {
		return false, fmt.Errorf("core: job runner is not configured")
	}
	id := strings.TrimSpace(handle.DispatchID)
	if id == "" {
		return false, fmt.Errorf("core: dispatch id is required")
	}
	return r.store.Cancel(ctx, id, r.now())
}

// RecoverDue re-enqueues pending records that are due and processing records
// whose lease expired, for example after a crash.
func (r *JobRunner) RecoverDue(ctx context.Context, limit int) (int, error) {
	if r == nil || r.store == nil {
		return 0, fmt.Errorf("core: job runner is not configured")
	}
	if limit <= 0 {
		limit = r.dispatch.BatchSize
	}
	due, err := r.store.ListDue(ctx, r.now(), limit)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	var recoverErr error
	for _, rec := range due {
		if _, err := r.Enqueue(ctx, JobForDispatch(rec)); err != nil {
			recoverErr = joinErrors(recoverErr, err)
			continue
		}
		enqueued++
	}
	return enqueued, recoverErr
}

// Start launches the worker pool and queues once every record that is due or
// whose lease expired, so work left by a previous process resumes. Stop
// cancels the pool and waits for in-flight jobs to finish.
func (r *JobRunner) Start(ctx context.Context) error {
	if r == nil || r.dequeuer == nil {
		return fmt.Errorf("core: job dequeuer is required to start workers")
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("core: job runner already started")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	for i := 0; i < r.worker.Concurrency; i++ {
		r.wg.Add(1)
		go r.work(workerCtx)
	}
	r.mu.Unlock()

	if r.enqueuer == nil || r.store == nil {
		return nil
	}
	recovered, err := r.RecoverDue(workerCtx, 0)
	if err != nil {
		r.telemetry.logWarn(ctx, "dispatch recovery on start failed", map[string]any{
			"recovered": recovered,
			"error":     err.Error(),
		})
		return nil
	}
	if recovered > 0 {
		r.telemetry.logInfo(ctx, "dispatch recovery on start", map[string]any{"recovered": recovered})
	}
	return nil
}

func (r *JobRunner) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *JobRunner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := r.dequeuer.Dequeue(ctx)
		if err != nil || delivery == nil {
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				r.telemetry.logWarn(ctx, "dispatch dequeue failed", map[string]any{"error": err.Error()})
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.worker.PollInterval):
			}
			continue
		}
		r.HandleDelivery(ctx, delivery)
	}
}

// HandleDelivery runs the delivered job and settles the delivery with the queue.
func (r *JobRunner) HandleDelivery(ctx context.Context, delivery JobDelivery) {
	msg := delivery.Message()
	event := JobWorkerEvent{Message: msg, StartedAt: time.Now().UTC()}
	job, err := jobFromMessage(msg)
	if err != nil {
		event.Err = err
		r.nack(ctx, delivery, JobNackOptions{DeadLetter: true, Reason: err.Error()})
		r.fireHooks(ctx, event, JobWorkerHook.OnFailure)
		return
	}

	r.fireHooks(ctx, event, JobWorkerHook.OnStart)
	err = r.Run(ctx, job)
	event.Duration = time.Since(event.StartedAt)
	event.Err = err

	var retryErr *RetryError
	var permanentErr *PermanentError
	switch {
	case err == nil || errors.Is(err, ErrJobCanceled):
		event.Err = nil
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			r.telemetry.logWarn(ctx, "dispatch ack failed", map[string]any{"error": ackErr.Error()})
		}
		r.fireHooks(ctx, event, JobWorkerHook.OnSuccess)
	case errors.As(err, &retryErr):
		event.Attempt = retryErr.Attempt
		event.Delay = retryErr.Delay
		r.nack(ctx, delivery, JobNackOptions{Delay: retryErr.Delay, Requeue: true, Reason: err.Error()})
		r.fireHooks(ctx, event, JobWorkerHook.OnRetry)
	case errors.As(err, &permanentErr):
		event.Attempt = permanentErr.Attempt
		r.nack(ctx, delivery, JobNackOptions{DeadLetter: true, Reason: err.Error()})
		r.fireHooks(ctx, event, JobWorkerHook.OnFailure)
	default:
		event.Delay = r.worker.PollInterval
		r.nack(ctx, delivery, JobNackOptions{Delay: r.worker.PollInterval, Requeue: true, Reason: err.Error()})
		r.fireHooks(ctx, event, JobWorkerHook.OnFailure)
	}
}

func (r *JobRunner) nack(ctx context.Context, delivery JobDelivery, opts JobNackOptions) {
	if err := delivery.Nack(ctx, opts); err != nil {
		r.telemetry.logWarn(ctx, "dispatch nack failed", map[string]any{"error": err.Error()})
	}
}

func (r *JobRunner) fireHooks(ctx context.Context, event JobWorkerEvent, fire func(JobWorkerHook, context.Context, JobWorkerEvent)) {
	for _, hook := range r.hooks {
		if hook != nil {
			fire(hook, ctx, event)
		}
	}
}

func (r *JobRunner) nextBackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	next := float64(r.dispatch.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if next >= float64(r.dispatch.MaxBackoff) {
		return r.dispatch.MaxBackoff
	}
	return time.Duration(next)
}

func jobFromMessage(msg *JobExecutionMessage) (Job, error) {
	if msg == nil {
		return Job{}, fmt.Errorf("core: job message is required")
	}
	if strings.TrimSpace(msg.JobID) != DispatchJobID {
		return Job{}, fmt.Errorf("core: unsupported job %q", msg.JobID)
	}
	id := metadataString(msg.Parameters, JobParameterDispatchID)
	if id == "" {
		return Job{}, fmt.Errorf("core: job message has no %s", JobParameterDispatchID)
	}
	return Job{DispatchID: id, IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey)}, nil
}

var _ JobScheduler = (*JobRunner)(nil)
