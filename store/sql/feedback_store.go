package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-transactions/core"
	"github.com/uptrace/bun"
)

// FeedbackEligibilityStore records at most one eligibility row per
// transaction; later marks return the first row.
type FeedbackEligibilityStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewFeedbackEligibilityStore(db *bun.DB) (*FeedbackEligibilityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &FeedbackEligibilityStore{db: db, now: utcNow}, nil
}

func (s *FeedbackEligibilityStore) MarkEligible(ctx context.Context, in core.FeedbackEligibility) (core.FeedbackEligibility, error) {
	if s == nil || s.db == nil {
		return core.FeedbackEligibility{}, fmt.Errorf("sqlstore: feedback eligibility store is not configured")
	}
	in.TransactionID = strings.TrimSpace(in.TransactionID)
	if in.TransactionID == "" {
		return core.FeedbackEligibility{}, fmt.Errorf("sqlstore: transaction id is required")
	}
	if in.EligibleAt.IsZero() {
		in.EligibleAt = s.now()
	}
	record := &feedbackEligibilityRecord{
		TransactionID: in.TransactionID,
		StarterID:     strings.TrimSpace(in.StarterID),
		AuthorID:      strings.TrimSpace(in.AuthorID),
		EligibleAt:    in.EligibleAt.UTC(),
	}
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (transaction_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx); err != nil {
		return core.FeedbackEligibility{}, err
	}
	return s.Get(ctx, in.TransactionID)
}

func (s *FeedbackEligibilityStore) Get(ctx context.Context, transactionID string) (core.FeedbackEligibility, error) {
	if s == nil || s.db == nil {
		return core.FeedbackEligibility{}, fmt.Errorf("sqlstore: feedback eligibility store is not configured")
	}
	record := &feedbackEligibilityRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.transaction_id = ?", strings.TrimSpace(transactionID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.FeedbackEligibility{}, fmt.Errorf("%w: feedback eligibility for %q", core.ErrNotFound, transactionID)
		}
		return core.FeedbackEligibility{}, err
	}
	return record.toDomain(), nil
}
