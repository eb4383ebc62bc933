package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SettingsSnapshot is the gateway configuration resolved once for a single
// operation. It is never re-read while the operation runs.
type SettingsSnapshot struct {
	CommunityID string
	ProcessKind ProcessKind
	Settings    GatewaySettings
	Found       bool
	ResolvedAt  time.Time
}

func (s SettingsSnapshot) Active() bool {
	return s.Found && s.Settings.Configured()
}

func (s SettingsSnapshot) Gateway() PaymentGateway {
	if !s.Active() {
		return PaymentGatewayNone
	}
	return s.Settings.Gateway
}

type SettingsResolver struct {
	store GatewaySettingsStore
	now   func() time.Time
}

func NewSettingsResolver(store GatewaySettingsStore) (*SettingsResolver, error) {
	if store == nil {
		return nil, fmt.Errorf("core: gateway settings store is required")
	}
	return &SettingsResolver{
		store: store,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// ActiveSettingsFor reports false when the community has no active settings
// for the process kind.
func (r *SettingsResolver) ActiveSettingsFor(
	ctx context.Context,
	communityID string,
	kind ProcessKind,
) (GatewaySettings, bool, error) {
	if r == nil || r.store == nil {
		return GatewaySettings{}, false, fmt.Errorf("core: settings resolver is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return GatewaySettings{}, false, fmt.Errorf("core: community id is required")
	}
	if kind == ProcessKindNone || kind == "" {
		return GatewaySettings{}, false, nil
	}
	settings, ok, err := r.store.Active(ctx, communityID, kind)
	if err != nil {
		return GatewaySettings{}, false, err
	}
	if !ok || !settings.Active {
		return GatewaySettings{}, false, nil
	}
	return settings, true, nil
}

func (r *SettingsResolver) Snapshot(ctx context.Context, communityID string, kind ProcessKind) (SettingsSnapshot, error) {
	settings, ok, err := r.ActiveSettingsFor(ctx, communityID, kind)
	if err != nil {
		return SettingsSnapshot{}, err
	}
	return SettingsSnapshot{
		CommunityID: strings.TrimSpace(communityID),
		ProcessKind: kind,
		Settings:    settings,
		Found:       ok,
		ResolvedAt:  r.now(),
	}, nil
}

func (r *SettingsResolver) Provision(ctx context.Context, settings GatewaySettings) (GatewaySettings, error) {
	if r == nil || r.store == nil {
		return GatewaySettings{}, fmt.Errorf("core: settings resolver is not configured")
	}
	settings.CommunityID = strings.TrimSpace(settings.CommunityID)
	if settings.CommunityID == "" {
		return GatewaySettings{}, fmt.Errorf("core: community id is required")
	}
	settings.Gateway = NormalizePaymentGateway(string(settings.Gateway))
	settings.ProcessKind = NormalizeProcessKind(string(settings.ProcessKind))
	if settings.ProcessKind == ProcessKindNone {
		return GatewaySettings{}, fmt.Errorf("core: process kind is invalid for gateway settings")
	}
	if settings.ProvisionedAt.IsZero() {
		settings.ProvisionedAt = r.now()
	}
	return r.store.Provision(ctx, settings)
}
