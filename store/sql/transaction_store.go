package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-transactions/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TransactionStore writes the transition ledger. Appends are guarded by a
// compare-and-swap on (current_state, version) so concurrent writers planning
// against the same state commit at most once.
type TransactionStore struct {
	db             *bun.DB
	repo           repository.Repository[*transactionRecord]
	transitionRepo repository.Repository[*transitionRecord]
	now            func() time.Time
}

func NewTransactionStore(db *bun.DB) (*TransactionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*transactionRecord](db, transactionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid transaction repository wiring: %w", err)
		}
	}
	transitionRepo := repository.NewRepository[*transitionRecord](db, transitionHandlers())
	if validator, ok := transitionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid transition repository wiring: %w", err)
		}
	}
	return &TransactionStore{
		db:             db,
		repo:           repo,
		transitionRepo: transitionRepo,
		now:            utcNow,
	}, nil
}

func (s *TransactionStore) Create(ctx context.Context, in core.NewTransactionInput) (core.Transaction, core.TransitionRecord, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, core.TransitionRecord{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	tx := in.Transaction
	tx.ID = strings.TrimSpace(tx.ID)
	if tx.ID == "" {
		return core.Transaction{}, core.TransitionRecord{}, fmt.Errorf("sqlstore: transaction id is required")
	}

	now := s.now()
	initial := in.Initial
	if strings.TrimSpace(initial.ID) == "" {
		initial.ID = uuid.NewString()
	}
	initial.TransactionID = tx.ID
	initial.Sequence = 1
	if initial.CreatedAt.IsZero() {
		initial.CreatedAt = now
	}
	tx.CurrentState = initial.ToState
	tx.Version = 1
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = initial.CreatedAt
	}
	tx.UpdatedAt = initial.CreatedAt

	var (
		created core.Transaction
		record  core.TransitionRecord
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, dbTx bun.Tx) error {
		inserted, err := s.repo.CreateTx(ctx, dbTx, newTransactionRecord(tx))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: transaction %q already exists", core.ErrConflict, tx.ID)
			}
			return err
		}
		transition, err := s.transitionRepo.CreateTx(ctx, dbTx, newTransitionRecord(initial))
		if err != nil {
			return err
		}
		if err := insertDispatches(ctx, dbTx, in.Dispatches, transition.ID, tx.ID, now); err != nil {
			return err
		}
		created = inserted.toDomain()
		record = transition.toDomain()
		return nil
	})
	if err != nil {
		return core.Transaction{}, core.TransitionRecord{}, err
	}
	return created, record, nil
}

func (s *TransactionStore) Get(ctx context.Context, id string) (core.Transaction, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	record, err := selectTransaction(ctx, s.db, id)
	if err != nil {
		return core.Transaction{}, err
	}
	return record.toDomain(), nil
}

func (s *TransactionStore) Append(ctx context.Context, in core.AppendTransitionInput) (core.TransitionRecord, error) {
	if s == nil || s.db == nil {
		return core.TransitionRecord{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	id := strings.TrimSpace(in.TransactionID)
	var appended core.TransitionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, dbTx bun.Tx) error {
		current, err := selectTransaction(ctx, dbTx, id)
		if err != nil {
			return err
		}
		if core.State(current.CurrentState) != in.FromState {
			return fmt.Errorf(
				"%w: transaction %q is %q, expected %q",
				core.ErrConflict, id, current.CurrentState, in.FromState,
			)
		}

		record := in.Record
		if strings.TrimSpace(record.ID) == "" {
			record.ID = uuid.NewString()
		}
		record.TransactionID = id
		record.FromState = in.FromState
		record.ToState = in.ToState
		record.Sequence = current.Version + 1
		if record.CreatedAt.IsZero() {
			record.CreatedAt = s.now()
		}

		update := dbTx.NewUpdate().
			Model((*transactionRecord)(nil)).
			Set("current_state = ?", string(in.ToState)).
			Set("version = ?", record.Sequence).
			Set("updated_at = ?", record.CreatedAt.UTC())
		if in.PaymentGateway.Stamped() && !core.NormalizePaymentGateway(current.PaymentGateway).Stamped() {
			update = update.Set("payment_gateway = ?", string(normalizeGateway(in.PaymentGateway)))
		}
		result, err := update.
			Where("id = ?", id).
			Where("current_state = ?", string(in.FromState)).
			Where("version = ?", current.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected != 1 {
			return fmt.Errorf("%w: transaction %q changed while transitioning", core.ErrConflict, id)
		}

		inserted, err := s.transitionRepo.CreateTx(ctx, dbTx, newTransitionRecord(record))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: transition %q already recorded", core.ErrConflict, record.ID)
			}
			return err
		}
		if err := insertDispatches(ctx, dbTx, in.Dispatches, inserted.ID, id, s.now()); err != nil {
			return err
		}
		appended = inserted.toDomain()
		return nil
	})
	if err != nil {
		return core.TransitionRecord{}, err
	}
	return appended, nil
}

func (s *TransactionStore) History(ctx context.Context, transactionID string) ([]core.TransitionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	id := strings.TrimSpace(transactionID)
	if _, err := selectTransaction(ctx, s.db, id); err != nil {
		return nil, err
	}
	records := []transitionRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.transaction_id = ?", id).
		OrderExpr("?TableAlias.sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.TransitionRecord, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *TransactionStore) GetTransition(ctx context.Context, transitionID string) (core.TransitionRecord, error) {
	if s == nil || s.db == nil {
		return core.TransitionRecord{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	record := &transitionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(transitionID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.TransitionRecord{}, fmt.Errorf("%w: transition %q", core.ErrNotFound, transitionID)
		}
		return core.TransitionRecord{}, err
	}
	return record.toDomain(), nil
}

func selectTransaction(ctx context.Context, db bun.IDB, id string) (*transactionRecord, error) {
	record := &transactionRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %q", core.ErrNotFound, id)
		}
		return nil, err
	}
	return record, nil
}

// insertDispatches writes the planned records for one transition. A record
// whose (transition, kind) already exists is left untouched.
func insertDispatches(
	ctx context.Context,
	db bun.IDB,
	records []core.DispatchRecord,
	transitionID string,
	transactionID string,
	now time.Time,
) error {
	for _, rec := range records {
		rec.TransitionID = transitionID
		rec.TransactionID = transactionID
		if _, _, err := ensureDispatch(ctx, db, rec, now); err != nil {
			return err
		}
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
