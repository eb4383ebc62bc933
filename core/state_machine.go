package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransitionSnapshot is the configuration a single transition is evaluated
// against. It is resolved once and never re-read during the call.
type TransitionSnapshot struct {
	Definition ProcessDefinition
	Settings   SettingsSnapshot
}

// TransitionDispatcher plans dispatch records before the ledger write and is
// notified after it commits.
type TransitionDispatcher interface {
	PlanDispatches(tx Transaction, record TransitionRecord, snapshot TransitionSnapshot) []DispatchRecord
	OnTransition(ctx context.Context, record TransitionRecord)
}

type StateMachine struct {
	transactions TransactionStore
	registry     *ProcessRegistry
	settings     *SettingsResolver
	dispatcher   TransitionDispatcher
	telemetry    telemetry
	now          func() time.Time
	newID        func() string
}

type StateMachineDependencies struct {
	Transactions TransactionStore
	Registry     *ProcessRegistry
	Settings     *SettingsResolver
	Dispatcher   TransitionDispatcher
	Logger       Logger
	Metrics      MetricsRecorder
	Clock        func() time.Time
	IDGenerator  func() string
}

func NewStateMachine(deps StateMachineDependencies) (*StateMachine, error) {
	if deps.Transactions == nil {
		return nil, fmt.Errorf("core: transaction store is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("core: process registry is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("core: settings resolver is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("core: transition dispatcher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	return &StateMachine{
		transactions: deps.Transactions,
		registry:     deps.Registry,
		settings:     deps.Settings,
		dispatcher:   deps.Dispatcher,
		telemetry:    newTelemetry(deps.Logger, deps.Metrics),
		now:          clock,
		newID:        newID,
	}, nil
}

// Initiate creates a transaction under the listing shape's current process
// and pins that process version for the transaction's lifetime.
func (m *StateMachine) Initiate(ctx context.Context, req InitiateRequest) (tx Transaction, record TransitionRecord, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"community_id":     strings.TrimSpace(req.CommunityID),
		"listing_shape_id": strings.TrimSpace(req.ListingShapeID),
	}
	defer func() {
		fields["transaction_id"] = tx.ID
		fields["to_state"] = string(tx.CurrentState)
		m.telemetry.observeOperation(ctx, startedAt, "initiate", err, fields)
	}()

	if err := validateInitiateRequest(req); err != nil {
		return Transaction{}, TransitionRecord{}, err
	}
	def, err := m.registry.DefinitionFor(ctx, req.CommunityID, req.ListingShapeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Transaction{}, TransitionRecord{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return Transaction{}, TransitionRecord{}, err
	}
	settings, err := m.settings.Snapshot(ctx, req.CommunityID, def.Kind)
	if err != nil {
		return Transaction{}, TransitionRecord{}, err
	}
	snapshot := TransitionSnapshot{Definition: def, Settings: settings}
	gateway := PaymentGatewayNone
	if def.GatewayRequired(def.InitialState) {
		if !settings.Active() {
			return Transaction{}, TransitionRecord{}, fmt.Errorf(
				"%w: community %q has no active %s gateway",
				ErrPaymentNotConfigured, req.CommunityID, def.Kind,
			)
		}
		gateway = settings.Gateway()
	}

	now := m.now()
	id := strings.TrimSpace(req.TransactionID)
	if id == "" {
		id = m.newID()
	}
	tx = Transaction{
		ID:             id,
		CommunityID:    strings.TrimSpace(req.CommunityID),
		ListingID:      strings.TrimSpace(req.ListingID),
		ListingShapeID: strings.TrimSpace(req.ListingShapeID),
		StarterID:      strings.TrimSpace(req.StarterID),
		AuthorID:       strings.TrimSpace(req.AuthorID),
		CurrentState:   StateNotStarted,
		PaymentGateway: gateway,
		ProcessID:      def.ID,
		ProcessVersion: def.Version,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	record = TransitionRecord{
		ID:            m.newID(),
		TransactionID: id,
		Sequence:      1,
		FromState:     StateNotStarted,
		ToState:       def.InitialState,
		Actor:         strings.TrimSpace(req.Actor),
		Reason:        "initiated",
		Metadata:      copyMap(req.Metadata),
		CreatedAt:     now,
	}
	dispatches := m.dispatcher.PlanDispatches(tx, record, snapshot)

	tx, record, err = m.transactions.Create(ctx, NewTransactionInput{
		Transaction: tx,
		Initial:     record,
		Dispatches:  dispatches,
	})
	if err != nil {
		return Transaction{}, TransitionRecord{}, err
	}
	m.dispatcher.OnTransition(ctx, record)
	return tx, record, nil
}

// Transition validates req against the transaction's pinned process and the
// community's gateway settings, then appends it to the ledger with a compare
// and swap on the current state. Dispatch records are written in the same
// commit; job execution happens after it.
func (m *StateMachine) Transition(ctx context.Context, req TransitionRequest) (record TransitionRecord, err error) {
	startedAt := time.Now()
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	req.ToState = NormalizeState(string(req.ToState))
	req.ExpectedState = NormalizeState(string(req.ExpectedState))
	fields := map[string]any{
		"transaction_id": req.TransactionID,
		"to_state":       string(req.ToState),
		"actor":          strings.TrimSpace(req.Actor),
	}
	defer func() {
		if errors.Is(err, ErrConflict) {
			m.telemetry.recordCounter(ctx, MetricTransitionConflict, 1, map[string]string{"to_state": string(req.ToState)})
		}
		m.telemetry.observeOperation(ctx, startedAt, "transition", err, fields)
	}()

	if req.TransactionID == "" {
		return TransitionRecord{}, fmt.Errorf("core: transaction id is required")
	}
	if !req.ToState.Valid() || req.ToState == StateNotStarted {
		return TransitionRecord{}, fmt.Errorf("%w: unknown target state %q", ErrInvalidTransition, req.ToState)
	}

	tx, err := m.transactions.Get(ctx, req.TransactionID)
	if err != nil {
		return TransitionRecord{}, err
	}
	fields["community_id"] = tx.CommunityID
	fields["from_state"] = string(tx.CurrentState)
	if req.ExpectedState != "" && req.ExpectedState != tx.CurrentState {
		return TransitionRecord{}, fmt.Errorf(
			"%w: transaction %q is %q, caller expected %q",
			ErrConflict, tx.ID, tx.CurrentState, req.ExpectedState,
		)
	}

	snapshot, err := m.resolveSnapshot(ctx, tx)
	if err != nil {
		return TransitionRecord{}, err
	}
	def := snapshot.Definition
	if !IsValidTransition(def, tx.CurrentState, req.ToState) {
		return TransitionRecord{}, fmt.Errorf(
			"%w: %s -> %s is not allowed by process %q v%d",
			ErrInvalidTransition, tx.CurrentState, req.ToState, def.ID, def.Version,
		)
	}
	var gateway PaymentGateway
	if def.GatewayRequired(req.ToState) && !tx.PaymentGateway.Stamped() {
		if !snapshot.Settings.Active() {
			return TransitionRecord{}, fmt.Errorf(
				"%w: community %q has no active %s gateway",
				ErrPaymentNotConfigured, tx.CommunityID, def.Kind,
			)
		}
		gateway = snapshot.Settings.Gateway()
	}

	pending := TransitionRecord{
		ID:            m.newID(),
		TransactionID: tx.ID,
		FromState:     tx.CurrentState,
		ToState:       req.ToState,
		Actor:         strings.TrimSpace(req.Actor),
		Reason:        strings.TrimSpace(req.Reason),
		Metadata:      copyMap(req.Metadata),
		CreatedAt:     m.now(),
	}
	planned := tx
	if gateway != "" {
		planned.PaymentGateway = gateway
	}
	dispatches := m.dispatcher.PlanDispatches(planned, pending, snapshot)
	fields["dispatches"] = len(dispatches)

	record, err = m.transactions.Append(ctx, AppendTransitionInput{
		TransactionID:  tx.ID,
		FromState:      tx.CurrentState,
		ToState:        req.ToState,
		PaymentGateway: gateway,
		Record:         pending,
		Dispatches:     dispatches,
	})
	if err != nil {
		return TransitionRecord{}, err
	}
	fields["transition_id"] = record.ID
	fields["sequence"] = record.Sequence
	m.dispatcher.OnTransition(ctx, record)
	return record, nil
}

func (m *StateMachine) resolveSnapshot(ctx context.Context, tx Transaction) (TransitionSnapshot, error) {
	def, err := m.registry.SnapshotFor(ctx, tx)
	if err != nil {
		return TransitionSnapshot{}, err
	}
	settings, err := m.settings.Snapshot(ctx, tx.CommunityID, def.Kind)
	if err != nil {
		return TransitionSnapshot{}, err
	}
	return TransitionSnapshot{Definition: def, Settings: settings}, nil
}

func (m *StateMachine) Get(ctx context.Context, id string) (Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return Transaction{}, fmt.Errorf("core: transaction id is required")
	}
	return m.transactions.Get(ctx, id)
}

func (m *StateMachine) History(ctx context.Context, transactionID string) ([]TransitionRecord, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("core: transaction id is required")
	}
	return m.transactions.History(ctx, transactionID)
}

// RetryOnConflict runs fn until it returns something other than ErrConflict,
// for at most attempts retries after the first call.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 0 {
		attempts = 0
	}
	var err error
	for try := 0; try <= attempts; try++ {
		if ctx != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return joinErrors(err, ctxErr)
			}
		}
		err = fn(ctx)
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}

func validateInitiateRequest(req InitiateRequest) error {
	var missing []string
	for _, entry := range []struct {
		name  string
		value string
	}{
		{"community_id", req.CommunityID},
		{"listing_id", req.ListingID},
		{"listing_shape_id", req.ListingShapeID},
		{"starter_id", req.StarterID},
		{"author_id", req.AuthorID},
	} {
		if strings.TrimSpace(entry.value) == "" {
			missing = append(missing, entry.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("core: %s required", strings.Join(missing, ", "))
	}
	return nil
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
