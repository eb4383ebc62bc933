package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-transactions/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var settledDispatchStatuses = []string{
	string(core.DispatchStatusCompleted),
	string(core.DispatchStatusFailed),
	string(core.DispatchStatusSkipped),
	string(core.DispatchStatusCanceled),
}

// DispatchStore persists side-effect records. The (transition_id, kind)
// unique index makes Ensure the single idempotency gate.
type DispatchStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewDispatchStore(db *bun.DB) (*DispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &DispatchStore{db: db, now: utcNow}, nil
}

func (s *DispatchStore) Ensure(ctx context.Context, rec core.DispatchRecord) (core.DispatchRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	return ensureDispatch(ctx, s.db, rec, s.now())
}

func (s *DispatchStore) Get(ctx context.Context, id string) (core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	record, err := selectDispatch(ctx, s.db, "?TableAlias.id = ?", strings.TrimSpace(id))
	if err != nil {
		return core.DispatchRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *DispatchStore) ListByTransition(ctx context.Context, transitionID string) ([]core.DispatchRecord, error) {
	return s.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.transition_id = ?", strings.TrimSpace(transitionID))
	}, 0)
}

func (s *DispatchStore) ListByTransaction(ctx context.Context, transactionID string) ([]core.DispatchRecord, error) {
	return s.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.transaction_id = ?", strings.TrimSpace(transactionID))
	}, 0)
}

func (s *DispatchStore) Claim(ctx context.Context, id string, now time.Time, leaseUntil time.Time) (core.DispatchRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	id = strings.TrimSpace(id)
	result, err := s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", string(core.DispatchStatusProcessing)).
		Set("next_attempt_at = ?", leaseUntil.UTC()).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id).
		WhereGroup(" AND ", claimableWhere(now)).
		Exec(ctx)
	if err != nil {
		return core.DispatchRecord{}, false, err
	}
	record, err := selectDispatch(ctx, s.db, "?TableAlias.id = ?", id)
	if err != nil {
		return core.DispatchRecord{}, false, err
	}
	affected, _ := result.RowsAffected()
	return record.toDomain(), affected == 1, nil
}

func (s *DispatchStore) Complete(ctx context.Context, id string, at time.Time) error {
	return s.settle(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.DispatchStatusCompleted)).
			Set("completed_at = ?", at.UTC()).
			Set("next_attempt_at = NULL").
			Set("last_error = ''").
			Set("updated_at = ?", at.UTC())
	})
}

func (s *DispatchStore) Skip(ctx context.Context, id string, reason string, at time.Time) error {
	return s.settle(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.DispatchStatusSkipped)).
			Set("next_attempt_at = NULL").
			Set("last_error = ?", strings.TrimSpace(reason)).
			Set("updated_at = ?", at.UTC())
	})
}

func (s *DispatchStore) Fail(ctx context.Context, id string, failure core.DispatchFailure, at time.Time) error {
	lastError := ""
	if failure.Cause != nil {
		lastError = failure.Cause.Error()
	}
	return s.settle(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		q = q.
			Set("attempts = attempts + 1").
			Set("last_error = ?", lastError).
			Set("updated_at = ?", at.UTC())
		if failure.Permanent {
			return q.
				Set("status = ?", string(core.DispatchStatusFailed)).
				Set("next_attempt_at = NULL")
		}
		return q.
			Set("status = ?", string(core.DispatchStatusPending)).
			Set("next_attempt_at = ?", failure.NextAttemptAt.UTC())
	})
}

func (s *DispatchStore) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	id = strings.TrimSpace(id)
	result, err := s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", string(core.DispatchStatusCanceled)).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("status = ?", string(core.DispatchStatusPending)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if affected, _ := result.RowsAffected(); affected == 1 {
		return true, nil
	}
	if _, err := selectDispatch(ctx, s.db, "?TableAlias.id = ?", id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *DispatchStore) ListDue(ctx context.Context, now time.Time, limit int) ([]core.DispatchRecord, error) {
	return s.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr(
					"?TableAlias.status = ? AND (?TableAlias.next_attempt_at IS NULL OR ?TableAlias.next_attempt_at <= ?)",
					string(core.DispatchStatusPending), now.UTC(),
				).
				WhereOr(
					"?TableAlias.status = ? AND ?TableAlias.next_attempt_at IS NOT NULL AND ?TableAlias.next_attempt_at <= ?",
					string(core.DispatchStatusProcessing), now.UTC(),
				)
		})
	}, limit)
}

func (s *DispatchStore) list(
	ctx context.Context,
	filter func(q *bun.SelectQuery) *bun.SelectQuery,
	limit int,
) ([]core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	records := []dispatchRecord{}
	query := filter(s.db.NewSelect().Model(&records)).
		OrderExpr("?TableAlias.created_at ASC").
		OrderExpr("?TableAlias.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.DispatchRecord, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

// settle applies update unless the record already settled.
func (s *DispatchStore) settle(ctx context.Context, id string, update func(q *bun.UpdateQuery) *bun.UpdateQuery) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	id = strings.TrimSpace(id)
	result, err := update(s.db.NewUpdate().Model((*dispatchRecord)(nil))).
		Where("id = ?", id).
		Where("status NOT IN (?)", bun.In(settledDispatchStatuses)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 1 {
		return nil
	}
	_, err = selectDispatch(ctx, s.db, "?TableAlias.id = ?", id)
	return err
}

func claimableWhere(now time.Time) func(q *bun.UpdateQuery) *bun.UpdateQuery {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			WhereOr(
				"status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
				string(core.DispatchStatusPending), now.UTC(),
			).
			WhereOr(
				"status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?",
				string(core.DispatchStatusProcessing), now.UTC(),
			)
	}
}

func ensureDispatch(ctx context.Context, db bun.IDB, rec core.DispatchRecord, now time.Time) (core.DispatchRecord, bool, error) {
	rec.TransitionID = strings.TrimSpace(rec.TransitionID)
	if rec.TransitionID == "" || strings.TrimSpace(string(rec.Kind)) == "" {
		return core.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch transition id and kind are required")
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = core.DispatchStatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	record := newDispatchRecord(rec)
	result, err := db.NewInsert().
		Model(record).
		On("CONFLICT (transition_id, kind) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return core.DispatchRecord{}, false, fmt.Errorf("%w: dispatch %q already exists", core.ErrConflict, rec.ID)
		}
		return core.DispatchRecord{}, false, err
	}
	if affected, _ := result.RowsAffected(); affected == 1 {
		return record.toDomain(), true, nil
	}
	existing, err := selectDispatch(ctx, db,
		"?TableAlias.transition_id = ? AND ?TableAlias.kind = ?",
		rec.TransitionID, string(rec.Kind),
	)
	if err != nil {
		return core.DispatchRecord{}, false, err
	}
	return existing.toDomain(), false, nil
}

func selectDispatch(ctx context.Context, db bun.IDB, where string, args ...any) (*dispatchRecord, error) {
	record := &dispatchRecord{}
	err := db.NewSelect().
		Model(record).
		Where(where, args...).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: dispatch %v", core.ErrNotFound, args)
		}
		return nil, err
	}
	return record, nil
}
