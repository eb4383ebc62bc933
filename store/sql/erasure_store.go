package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-transactions/core"
	"github.com/uptrace/bun"
)

// ErasureStore runs every erasure step inside one database transaction.
type ErasureStore struct {
	db *bun.DB
}

func NewErasureStore(db *bun.DB) (*ErasureStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ErasureStore{db: db}, nil
}

func (s *ErasureStore) WithinErasure(ctx context.Context, fn func(ctx context.Context, unit core.ErasureUnit) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: erasure store is not configured")
	}
	if fn == nil {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, erasureUnit{tx: tx})
	})
}

type erasureUnit struct {
	tx bun.Tx
}

func (u erasureUnit) CancelPendingDispatches(ctx context.Context, personID string, at time.Time) (int, error) {
	result, err := u.tx.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", string(core.DispatchStatusCanceled)).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", at.UTC()).
		Where("recipient_person_id = ?", personID).
		Where("status = ?", string(core.DispatchStatusPending)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (u erasureUnit) ScrubDispatchRecipient(ctx context.Context, personID string, replacement string) (int, error) {
	records := []dispatchRecord{}
	if err := u.tx.NewSelect().
		Model(&records).
		Where("?TableAlias.recipient_person_id = ?", personID).
		Scan(ctx); err != nil {
		return 0, err
	}
	for i := range records {
		record := &records[i]
		record.RecipientPersonID = replacement
		record.Metadata = core.ScrubRecipientMetadata(record.Metadata)
		if _, err := u.tx.NewUpdate().
			Model(record).
			Column("recipient_person_id", "metadata").
			WherePK().
			Exec(ctx); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

func (u erasureUnit) AnonymizeTransitionActor(ctx context.Context, personID string, replacement string) (int, error) {
	result, err := u.tx.NewUpdate().
		Model((*transitionRecord)(nil)).
		Set("actor = ?", replacement).
		Where("actor = ?", personID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}
