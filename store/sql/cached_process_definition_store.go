package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-transactions/core"
)

const processDefinitionCacheKeyPrefix = "go-transactions::process_definition::v1"

// CachedProcessDefinitionStore caches active lookups per (community, listing
// shape) and pinned versions per (process, version). Publishing drops the
// active entry for the pair; pinned versions never change.
type CachedProcessDefinitionStore struct {
	base  core.ProcessDefinitionStore
	cache repositorycache.CacheService
}

func NewCachedProcessDefinitionStore(
	base core.ProcessDefinitionStore,
	cacheService repositorycache.CacheService,
) (*CachedProcessDefinitionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base process definition store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: process definition cache service is required")
	}
	return &CachedProcessDefinitionStore{base: base, cache: cacheService}, nil
}

func ActiveProcessCacheKey(communityID string, listingShapeID string) string {
	return processDefinitionCacheKey("active",
		strings.TrimSpace(communityID),
		strings.TrimSpace(listingShapeID),
	)
}

func ProcessVersionCacheKey(processID string, version int) string {
	return processDefinitionCacheKey("version",
		strings.TrimSpace(processID),
		strconv.Itoa(version),
	)
}

func processDefinitionCacheKey(kind string, segments ...string) string {
	parts := []string{processDefinitionCacheKeyPrefix, kind}
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(segment))
	}
	return strings.Join(parts, "::")
}

func (s *CachedProcessDefinitionStore) Active(ctx context.Context, communityID string, listingShapeID string) (core.ProcessDefinition, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ProcessDefinition{}, fmt.Errorf("sqlstore: cached process definition store is not configured")
	}
	def, err := repositorycache.GetOrFetch(ctx, s.cache, ActiveProcessCacheKey(communityID, listingShapeID),
		func(ctx context.Context) (core.ProcessDefinition, error) {
			return s.base.Active(ctx, communityID, listingShapeID)
		},
	)
	if err != nil {
		return core.ProcessDefinition{}, err
	}
	return def.Clone(), nil
}

func (s *CachedProcessDefinitionStore) Version(ctx context.Context, processID string, version int) (core.ProcessDefinition, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ProcessDefinition{}, fmt.Errorf("sqlstore: cached process definition store is not configured")
	}
	def, err := repositorycache.GetOrFetch(ctx, s.cache, ProcessVersionCacheKey(processID, version),
		func(ctx context.Context) (core.ProcessDefinition, error) {
			return s.base.Version(ctx, processID, version)
		},
	)
	if err != nil {
		return core.ProcessDefinition{}, err
	}
	return def.Clone(), nil
}

func (s *CachedProcessDefinitionStore) Publish(ctx context.Context, def core.ProcessDefinition) (core.ProcessDefinition, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ProcessDefinition{}, fmt.Errorf("sqlstore: cached process definition store is not configured")
	}
	published, err := s.base.Publish(ctx, def)
	if err != nil {
		return core.ProcessDefinition{}, err
	}
	if err := s.cache.Delete(ctx, ActiveProcessCacheKey(published.CommunityID, published.ListingShapeID)); err != nil {
		return core.ProcessDefinition{}, err
	}
	return published, nil
}
