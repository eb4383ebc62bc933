package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// TransactionStore is the transition ledger. Create and Append are atomic:
// the transaction row, its transition record and the planned dispatch
// records are written together or not at all.
type TransactionStore interface {
	Create(ctx context.Context, in NewTransactionInput) (Transaction, TransitionRecord, error)
	Get(ctx context.Context, id string) (Transaction, error)
	Append(ctx context.Context, in AppendTransitionInput) (TransitionRecord, error)
	History(ctx context.Context, transactionID string) ([]TransitionRecord, error)
	GetTransition(ctx context.Context, transitionID string) (TransitionRecord, error)
}

type DispatchStore interface {
	// Ensure inserts rec unless a record with the same (transition, kind)
	// exists, in which case the existing record is returned.
	Ensure(ctx context.Context, rec DispatchRecord) (DispatchRecord, bool, error)
	Get(ctx context.Context, id string) (DispatchRecord, error)
	ListByTransition(ctx context.Context, transitionID string) ([]DispatchRecord, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]DispatchRecord, error)
	// Claim moves a due pending record, or a processing record whose lease
	// expired, to processing. It reports false when the record is not claimable.
	Claim(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (DispatchRecord, bool, error)
	Complete(ctx context.Context, id string, at time.Time) error
	Skip(ctx context.Context, id string, reason string, at time.Time) error
	Fail(ctx context.Context, id string, failure DispatchFailure, at time.Time) error
	Cancel(ctx context.Context, id string, at time.Time) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]DispatchRecord, error)
}

type ProcessDefinitionStore interface {
	Active(ctx context.Context, communityID string, listingShapeID string) (ProcessDefinition, error)
	Version(ctx context.Context, processID string, version int) (ProcessDefinition, error)
	Publish(ctx context.Context, def ProcessDefinition) (ProcessDefinition, error)
}

type GatewaySettingsStore interface {
	Active(ctx context.Context, communityID string, kind ProcessKind) (GatewaySettings, bool, error)
	// Provision stores settings; an active row replaces the previous active
	// row for the same (community, process kind).
	Provision(ctx context.Context, settings GatewaySettings) (GatewaySettings, error)
}

type FeedbackEligibilityStore interface {
	MarkEligible(ctx context.Context, in FeedbackEligibility) (FeedbackEligibility, error)
	Get(ctx context.Context, transactionID string) (FeedbackEligibility, error)
}

// ErasureUnit exposes the erasure steps inside one storage transaction.
type ErasureUnit interface {
	CancelPendingDispatches(ctx context.Context, personID string, at time.Time) (int, error)
	ScrubDispatchRecipient(ctx context.Context, personID string, replacement string) (int, error)
	AnonymizeTransitionActor(ctx context.Context, personID string, replacement string) (int, error)
}

type ErasureStore interface {
	WithinErasure(ctx context.Context, fn func(ctx context.Context, unit ErasureUnit) error) error
}

type StoreProvider interface {
	TransactionStore() TransactionStore
	DispatchStore() DispatchStore
	ProcessDefinitionStore() ProcessDefinitionStore
	GatewaySettingsStore() GatewaySettingsStore
	FeedbackEligibilityStore() FeedbackEligibilityStore
	ErasureStore() ErasureStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type Recipient struct {
	PersonID  string
	Locale    string
	Addresses []string
}

// RecipientResolver returns ErrNoAddress when the person has no confirmed address.
type RecipientResolver interface {
	ResolveRecipient(ctx context.Context, communityID string, personID string) (Recipient, error)
}

type PaymentDetailsChecker interface {
	HasPaymentDetails(ctx context.Context, communityID string, personID string, gateway PaymentGateway) (bool, error)
}

type NotificationRequest struct {
	DispatchID    string
	CommunityID   string
	TransactionID string
	TransitionID  string
	Kind          SideEffectKind
	Template      string
	Variant       string
	Locale        string
	Recipient     Recipient
	Variables     map[string]any
}

type NotificationTransport interface {
	Send(ctx context.Context, req NotificationRequest) error
}

type Alert struct {
	Source     string
	Message    string
	DispatchID string
	Kind       SideEffectKind
	Attempts   int
	Err        error
	Tags       map[string]string
	Fields     map[string]any
	OccurredAt time.Time
}

// AlertSink receives permanent failures for operators.
type AlertSink interface {
	Alert(ctx context.Context, alert Alert) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type CommandMessage interface {
	Type() string
}

// TransactionService is the surface the command and query packages drive.
type TransactionService interface {
	Initiate(ctx context.Context, req InitiateRequest) (Transaction, TransitionRecord, error)
	Transition(ctx context.Context, req TransitionRequest) (TransitionRecord, error)
	TransitionWithRetry(ctx context.Context, req TransitionRequest) (TransitionRecord, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	History(ctx context.Context, transactionID string) ([]TransitionRecord, error)
	ListDispatches(ctx context.Context, transactionID string) ([]DispatchRecord, error)
	Redispatch(ctx context.Context, transitionID string) ([]DispatchRecord, error)
	CancelDispatch(ctx context.Context, dispatchID string) (bool, error)
	EraseParticipant(ctx context.Context, personID string) (ErasureReport, error)
}
