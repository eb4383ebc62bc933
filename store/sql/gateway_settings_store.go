package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-transactions/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type GatewaySettingsStore struct {
	db   *bun.DB
	repo repository.Repository[*gatewaySettingsRecord]
	now  func() time.Time
}

func NewGatewaySettingsStore(db *bun.DB) (*GatewaySettingsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*gatewaySettingsRecord](db, gatewaySettingsHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid gateway settings repository wiring: %w", err)
		}
	}
	return &GatewaySettingsStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *GatewaySettingsStore) Active(ctx context.Context, communityID string, kind core.ProcessKind) (core.GatewaySettings, bool, error) {
	if s == nil || s.repo == nil {
		return core.GatewaySettings{}, false, fmt.Errorf("sqlstore: gateway settings store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("community_id", "=", strings.TrimSpace(communityID)),
		repository.SelectBy("process_kind", "=", string(kind)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.active = ?", true)
		}),
		repository.OrderBy("provisioned_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.GatewaySettings{}, false, err
	}
	if len(records) == 0 {
		return core.GatewaySettings{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *GatewaySettingsStore) Provision(ctx context.Context, settings core.GatewaySettings) (core.GatewaySettings, error) {
	if s == nil || s.db == nil {
		return core.GatewaySettings{}, fmt.Errorf("sqlstore: gateway settings store is not configured")
	}
	settings.CommunityID = strings.TrimSpace(settings.CommunityID)
	if settings.CommunityID == "" {
		return core.GatewaySettings{}, fmt.Errorf("sqlstore: community id is required")
	}
	if settings.ProvisionedAt.IsZero() {
		settings.ProvisionedAt = s.now()
	}
	record := &gatewaySettingsRecord{
		ID:            uuid.NewString(),
		CommunityID:   settings.CommunityID,
		Gateway:       string(normalizeGateway(settings.Gateway)),
		ProcessKind:   string(settings.ProcessKind),
		Active:        settings.Active,
		ProvisionedAt: settings.ProvisionedAt.UTC(),
	}

	var provisioned core.GatewaySettings
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if settings.Active {
			if _, err := tx.NewUpdate().
				Model((*gatewaySettingsRecord)(nil)).
				Set("active = ?", false).
				Where("community_id = ?", record.CommunityID).
				Where("process_kind = ?", record.ProcessKind).
				Where("active = ?", true).
				Exec(ctx); err != nil {
				return err
			}
		}
		inserted, err := s.repo.CreateTx(ctx, tx, record)
		if err != nil {
			return err
		}
		provisioned = inserted.toDomain()
		return nil
	})
	if err != nil {
		return core.GatewaySettings{}, err
	}
	return provisioned, nil
}
