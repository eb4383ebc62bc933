package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EffectExecution carries the explicit inputs of one side effect. Community
// and locale travel here; executors never read them from ambient state.
type EffectExecution struct {
	Record      DispatchRecord
	Transaction Transaction
}

type SideEffectExecutor interface {
	Execute(ctx context.Context, in EffectExecution) error
}

type SideEffectExecutorFunc func(ctx context.Context, in EffectExecution) error

func (f SideEffectExecutorFunc) Execute(ctx context.Context, in EffectExecution) error {
	return f(ctx, in)
}

type JobScheduler interface {
	Enqueue(ctx context.Context, job Job) (JobHandle, error)
}

type DispatcherDependencies struct {
	Rules          DispatchRules
	Store          DispatchStore
	Transactions   TransactionStore
	Registry       *ProcessRegistry
	Settings       *SettingsResolver
	Scheduler      JobScheduler
	Executors      map[SideEffectKind]SideEffectExecutor
	PaymentDetails PaymentDetailsChecker
	Logger         Logger
	Metrics        MetricsRecorder
	Clock          func() time.Time
	IDGenerator    func() string
}

// Dispatcher turns recorded transitions into dispatch records and executes
// them when the job runner asks.
type Dispatcher struct {
	rules          DispatchRules
	store          DispatchStore
	transactions   TransactionStore
	registry       *ProcessRegistry
	settings       *SettingsResolver
	scheduler      JobScheduler
	executors      map[SideEffectKind]SideEffectExecutor
	paymentDetails PaymentDetailsChecker
	telemetry      telemetry
	now            func() time.Time
	newID          func() string
}

func NewDispatcher(deps DispatcherDependencies) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("core: dispatch store is required")
	}
	if deps.Transactions == nil {
		return nil, fmt.Errorf("core: transaction store is required")
	}
	if deps.Registry == nil || deps.Settings == nil {
		return nil, fmt.Errorf("core: process registry and settings resolver are required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("core: job scheduler is required")
	}
	executors := make(map[SideEffectKind]SideEffectExecutor, len(deps.Executors))
	for kind, executor := range deps.Executors {
		if executor != nil {
			executors[kind] = executor
		}
	}
	if err := ValidateDispatchRules(deps.Rules, func(kind SideEffectKind) bool {
		_, ok := executors[kind]
		return ok
	}); err != nil {
		return nil, err
	}
	for _, rule := range deps.Rules.rules {
		for _, effect := range rule.Effects {
			if effect.Guard == GuardAuthorMissingPaymentDetails && deps.PaymentDetails == nil {
				return nil, fmt.Errorf("%w: effect %q needs a payment details checker", ErrConfiguration, effect.Kind)
			}
		}
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	return &Dispatcher{
		rules:          deps.Rules,
		store:          deps.Store,
		transactions:   deps.Transactions,
		registry:       deps.Registry,
		settings:       deps.Settings,
		scheduler:      deps.Scheduler,
		executors:      executors,
		paymentDetails: deps.PaymentDetails,
		telemetry:      newTelemetry(deps.Logger, deps.Metrics),
		now:            clock,
		newID:          newID,
	}, nil
}

// PlanDispatches builds the pending dispatch records for a transition that
// has not been written yet. It performs no I/O.
func (d *Dispatcher) PlanDispatches(tx Transaction, record TransitionRecord, snapshot TransitionSnapshot) []DispatchRecord {
	settings := GatewaySettings{}
	if snapshot.Settings.Active() {
		settings = snapshot.Settings.Settings
	}
	in := PlanInput{
		From:        record.FromState,
		To:          record.ToState,
		ProcessKind: snapshot.Definition.Kind,
		Gateway:     tx.PaymentGateway,
		Settings:    settings,
	}
	gateway := in.EffectiveGateway()
	descriptors := d.rules.Plan(in)
	if len(descriptors) == 0 {
		return nil
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = d.now()
	}
	out := make([]DispatchRecord, 0, len(descriptors))
	for _, descriptor := range descriptors {
		rec := DispatchRecord{
			ID:                d.newID(),
			TransitionID:      record.ID,
			TransactionID:     tx.ID,
			CommunityID:       tx.CommunityID,
			Kind:              descriptor.Kind,
			Recipient:         descriptor.Recipient,
			RecipientPersonID: descriptor.Recipient.PersonFor(tx),
			Template:          descriptor.Template,
			Variant:           descriptor.Variant,
			Guard:             descriptor.Guard,
			Status:            DispatchStatusPending,
			Metadata: map[string]any{
				"from_state":          string(record.FromState),
				"to_state":            string(record.ToState),
				"process_kind":        string(snapshot.Definition.Kind),
				"payment_gateway":     string(gateway),
				"recipient_person_id": descriptor.Recipient.PersonFor(tx),
			},
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
		if descriptor.Delay > 0 {
			due := createdAt.Add(descriptor.Delay)
			rec.NextAttemptAt = &due
		}
		out = append(out, rec)
	}
	return out
}

// OnTransition enqueues every unsettled dispatch of record. Failures are
// logged: the transition is already durable and its records stay pending for
// recovery.
func (d *Dispatcher) OnTransition(ctx context.Context, record TransitionRecord) {
	if d == nil {
		return
	}
	startedAt := time.Now()
	records, err := d.store.ListByTransition(ctx, record.ID)
	if err == nil && len(records) == 0 {
		records, err = d.ensure(ctx, record)
	}
	if err == nil {
		err = d.enqueueAll(ctx, records)
	}
	d.telemetry.observeOperation(ctx, startedAt, "dispatch_on_transition", err, map[string]any{
		"transaction_id": record.TransactionID,
		"transition_id":  record.ID,
		"to_state":       string(record.ToState),
		"dispatches":     len(records),
	})
}

// Redispatch re-creates missing dispatch records for a stored transition and
// enqueues whatever has not settled. Completed records are left alone.
func (d *Dispatcher) Redispatch(ctx context.Context, transitionID string) (records []DispatchRecord, err error) {
	if d == nil {
		return nil, fmt.Errorf("core: dispatcher is not configured")
	}
	startedAt := time.Now()
	defer func() {
		d.telemetry.observeOperation(ctx, startedAt, "redispatch", err, map[string]any{
			"transition_id": strings.TrimSpace(transitionID),
			"dispatches":    len(records),
		})
	}()
	record, err := d.transactions.GetTransition(ctx, transitionID)
	if err != nil {
		return nil, err
	}
	records, err = d.ensure(ctx, record)
	if err != nil {
		return nil, err
	}
	if err := d.enqueueAll(ctx, records); err != nil {
		return records, err
	}
	return records, nil
}

func (d *Dispatcher) ensure(ctx context.Context, record TransitionRecord) ([]DispatchRecord, error) {
	tx, err := d.transactions.Get(ctx, record.TransactionID)
	if err != nil {
		return nil, err
	}
	def, err := d.registry.SnapshotFor(ctx, tx)
	if err != nil {
		return nil, err
	}
	settings, err := d.settings.Snapshot(ctx, tx.CommunityID, def.Kind)
	if err != nil {
		return nil, err
	}
	planned := d.PlanDispatches(tx, record, TransitionSnapshot{Definition: def, Settings: settings})
	out := make([]DispatchRecord, 0, len(planned))
	for _, rec := range planned {
		stored, _, err := d.store.Ensure(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (d *Dispatcher) enqueueAll(ctx context.Context, records []DispatchRecord) error {
	var enqueueErr error
	for _, rec := range records {
		if rec.Status.Settled() {
			continue
		}
		if _, err := d.scheduler.Enqueue(ctx, JobForDispatch(rec)); err != nil {
			enqueueErr = joinErrors(enqueueErr, fmt.Errorf("core: enqueue dispatch %q: %w", rec.ID, err))
		}
	}
	return enqueueErr
}

// Execute evaluates the record's guard and runs its executor. ErrNoAddress
// and ErrGuardNotMet mean the record should be skipped.
func (d *Dispatcher) Execute(ctx context.Context, rec DispatchRecord) error {
	if d == nil {
		return fmt.Errorf("core: dispatcher is not configured")
	}
	executor, ok := d.executors[rec.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrExecutorNotRegistered, rec.Kind)
	}
	tx, err := d.transactions.Get(ctx, rec.TransactionID)
	if err != nil {
		return err
	}
	if err := d.checkGuard(ctx, rec, tx); err != nil {
		return err
	}
	return executor.Execute(ctx, EffectExecution{Record: cloneDispatchRecord(rec), Transaction: tx})
}

func (d *Dispatcher) checkGuard(ctx context.Context, rec DispatchRecord, tx Transaction) error {
	switch rec.Guard {
	case GuardNone:
		return nil
	case GuardAuthorMissingPaymentDetails:
		if d.paymentDetails == nil {
			return fmt.Errorf("%w: payment details checker is missing", ErrConfiguration)
		}
		has, err := d.paymentDetails.HasPaymentDetails(ctx, tx.CommunityID, rec.RecipientPersonID, tx.PaymentGateway)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("%w: %s already has payment details", ErrGuardNotMet, rec.RecipientPersonID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown guard %q", ErrConfiguration, rec.Guard)
	}
}

// NotificationExecutor resolves the recipient and sends through the transport.
type NotificationExecutor struct {
	Recipients RecipientResolver
	Transport  NotificationTransport
}

func (e NotificationExecutor) Execute(ctx context.Context, in EffectExecution) error {
	if e.Recipients == nil || e.Transport == nil {
		return fmt.Errorf("%w: notification executor is not configured", ErrConfiguration)
	}
	rec := in.Record
	tx := in.Transaction
	if strings.TrimSpace(rec.RecipientPersonID) == "" {
		return fmt.Errorf("%w: dispatch %q has no recipient", ErrNoAddress, rec.ID)
	}
	recipient, err := e.Recipients.ResolveRecipient(ctx, tx.CommunityID, rec.RecipientPersonID)
	if err != nil {
		return err
	}
	if len(recipient.Addresses) == 0 {
		return fmt.Errorf("%w: %s", ErrNoAddress, rec.RecipientPersonID)
	}
	if recipient.PersonID == "" {
		recipient.PersonID = rec.RecipientPersonID
	}
	return e.Transport.Send(ctx, NotificationRequest{
		DispatchID:    rec.ID,
		CommunityID:   tx.CommunityID,
		TransactionID: tx.ID,
		TransitionID:  rec.TransitionID,
		Kind:          rec.Kind,
		Template:      rec.Template,
		Variant:       rec.Variant,
		Locale:        recipient.Locale,
		Recipient:     recipient,
		Variables: map[string]any{
			"transaction_id":  tx.ID,
			"listing_id":      tx.ListingID,
			"community_id":    tx.CommunityID,
			"state":           metadataString(rec.Metadata, "to_state"),
			"payment_gateway": string(plannedGateway(rec, tx)),
			"variant":         rec.Variant,
		},
	})
}

// FeedbackExecutor marks the transaction eligible for testimonials. Repeats
// are absorbed by the store.
type FeedbackExecutor struct {
	Store FeedbackEligibilityStore
	Clock func() time.Time
}

func (e FeedbackExecutor) Execute(ctx context.Context, in EffectExecution) error {
	if e.Store == nil {
		return fmt.Errorf("%w: feedback eligibility store is missing", ErrConfiguration)
	}
	eligibleAt := time.Now().UTC()
	if e.Clock != nil {
		eligibleAt = e.Clock().UTC()
	}
	_, err := e.Store.MarkEligible(ctx, FeedbackEligibility{
		TransactionID: in.Transaction.ID,
		StarterID:     in.Transaction.StarterID,
		AuthorID:      in.Transaction.AuthorID,
		EligibleAt:    eligibleAt,
	})
	return err
}

// DefaultExecutors binds every kind in rules: feedback eligibility to the
// feedback store and everything else to notifications.
func DefaultExecutors(rules DispatchRules, notifications SideEffectExecutor, feedback SideEffectExecutor) map[SideEffectKind]SideEffectExecutor {
	out := map[SideEffectKind]SideEffectExecutor{}
	for _, kind := range rules.Kinds() {
		executor := notifications
		if kind == SideEffectFeedbackEligibility {
			executor = feedback
		}
		if executor != nil {
			out[kind] = executor
		}
	}
	return out
}

// isSkippable reports errors that settle a record as skipped instead of retrying.
func isSkippable(err error) bool {
	return errors.Is(err, ErrNoAddress) || errors.Is(err, ErrGuardNotMet)
}

// plannedGateway prefers the gateway the variant was chosen for.
func plannedGateway(rec DispatchRecord, tx Transaction) PaymentGateway {
	if raw := metadataString(rec.Metadata, "payment_gateway"); raw != "" {
		return NormalizePaymentGateway(raw)
	}
	return NormalizePaymentGateway(string(tx.PaymentGateway))
}

func metadataString(metadata map[string]any, key string) string {
	if len(metadata) == 0 {
		return ""
	}
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var (
	_ TransitionDispatcher = (*Dispatcher)(nil)
	_ SideEffectExecutor   = NotificationExecutor{}
	_ SideEffectExecutor   = FeedbackExecutor{}
)
