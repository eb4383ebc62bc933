package query

import (
	"context"

	"github.com/goliatone/go-transactions/core"
)

type TransactionReader interface {
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	History(ctx context.Context, transactionID string) ([]core.TransitionRecord, error)
}

type DispatchReader interface {
	ListDispatches(ctx context.Context, transactionID string) ([]core.DispatchRecord, error)
}

type FeedbackReader interface {
	FeedbackEligibility(ctx context.Context, transactionID string) (core.FeedbackEligibility, error)
}

type GetTransactionQuery struct {
	reader TransactionReader
}

func NewGetTransactionQuery(reader TransactionReader) *GetTransactionQuery {
	return &GetTransactionQuery{reader: reader}
}

func (q *GetTransactionQuery) Query(ctx context.Context, msg GetTransactionMessage) (core.Transaction, error) {
	if q == nil || q.reader == nil {
		return core.Transaction{}, queryDependencyError("query: transaction reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return q.reader.GetTransaction(ctx, msg.TransactionID)
}

type TransitionHistoryQuery struct {
	reader TransactionReader
}

func NewTransitionHistoryQuery(reader TransactionReader) *TransitionHistoryQuery {
	return &TransitionHistoryQuery{reader: reader}
}

func (q *TransitionHistoryQuery) Query(
	ctx context.Context,
	msg TransitionHistoryMessage,
) ([]core.TransitionRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: transaction reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.History(ctx, msg.TransactionID)
}

type ListDispatchesQuery struct {
	reader DispatchReader
}

func NewListDispatchesQuery(reader DispatchReader) *ListDispatchesQuery {
	return &ListDispatchesQuery{reader: reader}
}

func (q *ListDispatchesQuery) Query(ctx context.Context, msg ListDispatchesMessage) ([]core.DispatchRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dispatch reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListDispatches(ctx, msg.TransactionID)
}

type FeedbackEligibilityQuery struct {
	reader FeedbackReader
}

func NewFeedbackEligibilityQuery(reader FeedbackReader) *FeedbackEligibilityQuery {
	return &FeedbackEligibilityQuery{reader: reader}
}

func (q *FeedbackEligibilityQuery) Query(
	ctx context.Context,
	msg FeedbackEligibilityMessage,
) (core.FeedbackEligibility, error) {
	if q == nil || q.reader == nil {
		return core.FeedbackEligibility{}, queryDependencyError("query: feedback reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.FeedbackEligibility{}, err
	}
	return q.reader.FeedbackEligibility(ctx, msg.TransactionID)
}
