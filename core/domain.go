package core

import (
	"slices"
	"strings"
	"time"
)

type State string

const (
	StateNotStarted    State = "not_started"
	StateFree          State = "free"
	StateInitiated     State = "initiated"
	StatePending       State = "pending"
	StatePreauthorized State = "preauthorized"
	StatePendingExt    State = "pending_ext"
	StateAccepted      State = "accepted"
	StateRejected      State = "rejected"
	StatePaid          State = "paid"
	StateConfirmed     State = "confirmed"
	StateCanceled      State = "canceled"
	StateDisputed      State = "disputed"
	StateRefunded      State = "refunded"
	StateErrored       State = "errored"
)

var knownStates = []State{
	StateNotStarted,
	StateFree,
	StateInitiated,
	StatePending,
	StatePreauthorized,
	StatePendingExt,
	StateAccepted,
	StateRejected,
	StatePaid,
	StateConfirmed,
	StateCanceled,
	StateDisputed,
	StateRefunded,
	StateErrored,
}

func KnownStates() []State {
	return slices.Clone(knownStates)
}

func (s State) Valid() bool {
	return slices.Contains(knownStates, s)
}

func NormalizeState(raw string) State {
	return State(strings.ToLower(strings.TrimSpace(raw)))
}

type PaymentGateway string

const (
	PaymentGatewayNone   PaymentGateway = "none"
	PaymentGatewayPaypal PaymentGateway = "paypal"
	PaymentGatewayStripe PaymentGateway = "stripe"
)

// Stamped reports whether a payment provider has been fixed on the
// transaction. A stamped gateway is never replaced.
func (g PaymentGateway) Stamped() bool {
	return g != "" && g != PaymentGatewayNone
}

func NormalizePaymentGateway(raw string) PaymentGateway {
	switch PaymentGateway(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentGatewayPaypal:
		return PaymentGatewayPaypal
	case PaymentGatewayStripe:
		return PaymentGatewayStripe
	default:
		return PaymentGatewayNone
	}
}

type ProcessKind string

const (
	ProcessKindNone         ProcessKind = "none"
	ProcessKindPreauthorize ProcessKind = "preauthorize"
	ProcessKindPostpay      ProcessKind = "postpay"
)

func NormalizeProcessKind(raw string) ProcessKind {
	switch ProcessKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ProcessKindPreauthorize:
		return ProcessKindPreauthorize
	case ProcessKindPostpay:
		return ProcessKindPostpay
	default:
		return ProcessKindNone
	}
}

type Transaction struct {
	ID             string
	CommunityID    string
	ListingID      string
	ListingShapeID string
	StarterID      string
	AuthorID       string
	CurrentState   State
	PaymentGateway PaymentGateway
	ProcessID      string
	ProcessVersion int
	// Version is the sequence of the last recorded transition.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TransitionRecord struct {
	ID            string
	TransactionID string
	Sequence      int
	FromState     State
	ToState       State
	Actor         string
	Reason        string
	Metadata      map[string]any
	CreatedAt     time.Time
}

type GatewaySettings struct {
	CommunityID   string
	Gateway       PaymentGateway
	ProcessKind   ProcessKind
	Active        bool
	ProvisionedAt time.Time
}

func (g GatewaySettings) Configured() bool {
	return g.Active && g.Gateway != "" && g.Gateway != PaymentGatewayNone
}

type DispatchStatus string

const (
	DispatchStatusPending    DispatchStatus = "pending"
	DispatchStatusProcessing DispatchStatus = "processing"
	DispatchStatusCompleted  DispatchStatus = "completed"
	DispatchStatusFailed     DispatchStatus = "failed"
	DispatchStatusSkipped    DispatchStatus = "skipped"
	DispatchStatusCanceled   DispatchStatus = "canceled"
)

// Settled reports whether the record will never run again.
func (s DispatchStatus) Settled() bool {
	switch s {
	case DispatchStatusCompleted, DispatchStatusFailed, DispatchStatusSkipped, DispatchStatusCanceled:
		return true
	default:
		return false
	}
}

type DispatchRecord struct {
	ID                string
	TransitionID      string
	TransactionID     string
	CommunityID       string
	Kind              SideEffectKind
	Recipient         RecipientRule
	RecipientPersonID string
	Template          string
	Variant           string
	Guard             GuardKind
	Status            DispatchStatus
	Attempts          int
	NextAttemptAt     *time.Time
	LastError         string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

func DispatchKey(transitionID string, kind SideEffectKind) string {
	return strings.TrimSpace(transitionID) + "|" + strings.TrimSpace(string(kind))
}

type FeedbackEligibility struct {
	TransactionID string
	StarterID     string
	AuthorID      string
	EligibleAt    time.Time
}

type InitiateRequest struct {
	TransactionID  string
	CommunityID    string
	ListingID      string
	ListingShapeID string
	StarterID      string
	AuthorID       string
	Actor          string
	Metadata       map[string]any
}

type TransitionRequest struct {
	TransactionID string
	ToState       State
	// ExpectedState is the state the caller observed; a mismatch is a conflict.
	ExpectedState State
	Actor         string
	Reason        string
	Metadata      map[string]any
}

type NewTransactionInput struct {
	Transaction Transaction
	Initial     TransitionRecord
	Dispatches  []DispatchRecord
}

type AppendTransitionInput struct {
	TransactionID  string
	FromState      State
	ToState        State
	PaymentGateway PaymentGateway
	Record         TransitionRecord
	Dispatches     []DispatchRecord
}

type DispatchFailure struct {
	Cause         error
	NextAttemptAt time.Time
	Permanent     bool
}

func copyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}

func cloneDispatchRecord(in DispatchRecord) DispatchRecord {
	out := in
	out.Metadata = copyMap(in.Metadata)
	out.NextAttemptAt = cloneTime(in.NextAttemptAt)
	out.CompletedAt = cloneTime(in.CompletedAt)
	return out
}

func cloneTransitionRecord(in TransitionRecord) TransitionRecord {
	out := in
	out.Metadata = copyMap(in.Metadata)
	return out
}
