package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-transactions/core"
)

const gatewaySettingsCacheKeyPrefix = "go-transactions::gateway_settings::v1"

// CachedGatewaySettingsStore serves Active lookups from a cache and drops the
// cached entry whenever settings for the same (community, process kind) are
// provisioned.
type CachedGatewaySettingsStore struct {
	base  core.GatewaySettingsStore
	cache repositorycache.CacheService
}

type gatewaySettingsLookup struct {
	Settings core.GatewaySettings
	Found    bool
}

func NewCachedGatewaySettingsStore(
	base core.GatewaySettingsStore,
	cacheService repositorycache.CacheService,
) (*CachedGatewaySettingsStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base gateway settings store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: gateway settings cache service is required")
	}
	return &CachedGatewaySettingsStore{base: base, cache: cacheService}, nil
}

// GatewaySettingsCacheKey returns
// go-transactions::gateway_settings::v1::<community_id>::<process_kind>
// with each segment URL-path escaped.
func GatewaySettingsCacheKey(communityID string, kind core.ProcessKind) (string, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return "", fmt.Errorf("sqlstore: community id is required")
	}
	segments := []string{
		url.PathEscape(communityID),
		url.PathEscape(strings.TrimSpace(string(kind))),
	}
	return strings.Join(append([]string{gatewaySettingsCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedGatewaySettingsStore) Active(ctx context.Context, communityID string, kind core.ProcessKind) (core.GatewaySettings, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.GatewaySettings{}, false, fmt.Errorf("sqlstore: cached gateway settings store is not configured")
	}
	cacheKey, err := GatewaySettingsCacheKey(communityID, kind)
	if err != nil {
		return core.GatewaySettings{}, false, err
	}
	lookup, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (gatewaySettingsLookup, error) {
		settings, found, fetchErr := s.base.Active(ctx, communityID, kind)
		if fetchErr != nil {
			return gatewaySettingsLookup{}, fetchErr
		}
		return gatewaySettingsLookup{Settings: settings, Found: found}, nil
	})
	if err != nil {
		return core.GatewaySettings{}, false, err
	}
	return lookup.Settings, lookup.Found, nil
}

func (s *CachedGatewaySettingsStore) Provision(ctx context.Context, settings core.GatewaySettings) (core.GatewaySettings, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.GatewaySettings{}, fmt.Errorf("sqlstore: cached gateway settings store is not configured")
	}
	provisioned, err := s.base.Provision(ctx, settings)
	if err != nil {
		return core.GatewaySettings{}, err
	}
	cacheKey, err := GatewaySettingsCacheKey(provisioned.CommunityID, provisioned.ProcessKind)
	if err != nil {
		return core.GatewaySettings{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.GatewaySettings{}, err
	}
	return provisioned, nil
}
