package query

import (
	"strings"
)

const (
	TypeGetTransaction      = "transactions.query.transaction.get"
	TypeTransitionHistory   = "transactions.query.transaction.history"
	TypeListDispatches      = "transactions.query.dispatch.list"
	TypeFeedbackEligibility = "transactions.query.feedback_eligibility.get"
)

type GetTransactionMessage struct {
	TransactionID string
}

func (GetTransactionMessage) Type() string { return TypeGetTransaction }

func (m GetTransactionMessage) Validate() error {
	return requireTransactionID(m.TransactionID)
}

type TransitionHistoryMessage struct {
	TransactionID string
}

func (TransitionHistoryMessage) Type() string { return TypeTransitionHistory }

func (m TransitionHistoryMessage) Validate() error {
	return requireTransactionID(m.TransactionID)
}

type ListDispatchesMessage struct {
	TransactionID string
}

func (ListDispatchesMessage) Type() string { return TypeListDispatches }

func (m ListDispatchesMessage) Validate() error {
	return requireTransactionID(m.TransactionID)
}

type FeedbackEligibilityMessage struct {
	TransactionID string
}

func (FeedbackEligibilityMessage) Type() string { return TypeFeedbackEligibility }

func (m FeedbackEligibilityMessage) Validate() error {
	return requireTransactionID(m.TransactionID)
}

func requireTransactionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return queryValidationError("transaction_id", "is required")
	}
	return nil
}
