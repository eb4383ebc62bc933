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

// ProcessDefinitionStore keeps every published version. Exactly one version
// per (community, listing shape) is active.
type ProcessDefinitionStore struct {
	db   *bun.DB
	repo repository.Repository[*processDefinitionRecord]
	now  func() time.Time
}

func NewProcessDefinitionStore(db *bun.DB) (*ProcessDefinitionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*processDefinitionRecord](db, processDefinitionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid process definition repository wiring: %w", err)
		}
	}
	return &ProcessDefinitionStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *ProcessDefinitionStore) Active(ctx context.Context, communityID string, listingShapeID string) (core.ProcessDefinition, error) {
	if s == nil || s.repo == nil {
		return core.ProcessDefinition{}, fmt.Errorf("sqlstore: process definition store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("community_id", "=", strings.TrimSpace(communityID)),
		repository.SelectBy("listing_shape_id", "=", strings.TrimSpace(listingShapeID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.active = ?", true)
		}),
		repository.OrderBy("version DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.ProcessDefinition{}, err
	}
	if len(records) == 0 {
		return core.ProcessDefinition{}, fmt.Errorf(
			"%w: no process for community %q listing shape %q",
			core.ErrNotFound, communityID, listingShapeID,
		)
	}
	return records[0].toDomain(), nil
}

func (s *ProcessDefinitionStore) Version(ctx context.Context, processID string, version int) (core.ProcessDefinition, error) {
	if s == nil || s.db == nil {
		return core.ProcessDefinition{}, fmt.Errorf("sqlstore: process definition store is not configured")
	}
	record := &processDefinitionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.process_id = ?", strings.TrimSpace(processID)).
		Where("?TableAlias.version = ?", version).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ProcessDefinition{}, fmt.Errorf("%w: process %q version %d", core.ErrNotFound, processID, version)
		}
		return core.ProcessDefinition{}, err
	}
	return record.toDomain(), nil
}

// Publish stores def as the next version of its process and makes it the
// active version for its (community, listing shape). A definition without an
// id continues the process currently active for that pair.
func (s *ProcessDefinitionStore) Publish(ctx context.Context, def core.ProcessDefinition) (core.ProcessDefinition, error) {
	if s == nil || s.db == nil {
		return core.ProcessDefinition{}, fmt.Errorf("sqlstore: process definition store is not configured")
	}
	def.CommunityID = strings.TrimSpace(def.CommunityID)
	def.ListingShapeID = strings.TrimSpace(def.ListingShapeID)
	def.ID = strings.TrimSpace(def.ID)

	var published core.ProcessDefinition
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := []processDefinitionRecord{}
		if err := tx.NewSelect().
			Model(&current).
			Where("?TableAlias.community_id = ?", def.CommunityID).
			Where("?TableAlias.listing_shape_id = ?", def.ListingShapeID).
			Where("?TableAlias.active = ?", true).
			Scan(ctx); err != nil {
			return err
		}
		if def.ID == "" && len(current) > 0 {
			def.ID = current[0].ProcessID
		}
		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		if len(current) > 0 {
			if _, err := tx.NewUpdate().
				Model((*processDefinitionRecord)(nil)).
				Set("active = ?", false).
				Where("community_id = ?", def.CommunityID).
				Where("listing_shape_id = ?", def.ListingShapeID).
				Where("active = ?", true).
				Exec(ctx); err != nil {
				return err
			}
		}

		var latest int
		if err := tx.NewSelect().
			Model((*processDefinitionRecord)(nil)).
			ColumnExpr("COALESCE(MAX(?TableAlias.version), 0)").
			Where("?TableAlias.process_id = ?", def.ID).
			Scan(ctx, &latest); err != nil {
			return err
		}
		def.Version = latest + 1
		def.Active = true
		def.PublishedAt = s.now()

		record := newProcessDefinitionRecord(def)
		record.ID = uuid.NewString()
		inserted, err := s.repo.CreateTx(ctx, tx, record)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: process %q version %d already published", core.ErrConflict, def.ID, def.Version)
			}
			return err
		}
		published = inserted.toDomain()
		return nil
	})
	if err != nil {
		return core.ProcessDefinition{}, err
	}
	return published, nil
}
