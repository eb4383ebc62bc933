package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-transactions/core"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds every bun-backed store over one database. When a
// cache service is configured the process definition and gateway settings
// stores are served through their cached variants.
type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService
	now   func() time.Time

	transactionStore       *TransactionStore
	dispatchStore          *DispatchStore
	processDefinitionStore core.ProcessDefinitionStore
	gatewaySettingsStore   core.GatewaySettingsStore
	feedbackStore          *FeedbackEligibilityStore
	erasureStore           *ErasureStore
}

type FactoryOption func(*RepositoryFactory)

// WithCacheService serves definition and settings reads through cacheService.
func WithCacheService(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

// WithClock sets the clock used for timestamps the stores assign.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *RepositoryFactory) {
		if now != nil {
			f.now = now
		}
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{now: utcNow}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// NewCacheService returns a go-repository-cache service whose entries live
// for ttl.
func NewCacheService(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.transactionStore != nil && f.dispatchStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) TransactionStore() core.TransactionStore {
	if f == nil || f.transactionStore == nil {
		return nil
	}
	return f.transactionStore
}

func (f *RepositoryFactory) DispatchStore() core.DispatchStore {
	if f == nil || f.dispatchStore == nil {
		return nil
	}
	return f.dispatchStore
}

func (f *RepositoryFactory) ProcessDefinitionStore() core.ProcessDefinitionStore {
	if f == nil {
		return nil
	}
	return f.processDefinitionStore
}

func (f *RepositoryFactory) GatewaySettingsStore() core.GatewaySettingsStore {
	if f == nil {
		return nil
	}
	return f.gatewaySettingsStore
}

func (f *RepositoryFactory) FeedbackEligibilityStore() core.FeedbackEligibilityStore {
	if f == nil || f.feedbackStore == nil {
		return nil
	}
	return f.feedbackStore
}

func (f *RepositoryFactory) ErasureStore() core.ErasureStore {
	if f == nil || f.erasureStore == nil {
		return nil
	}
	return f.erasureStore
}

func (f *RepositoryFactory) initStores() error {
	now := f.now
	if now == nil {
		now = utcNow
	}

	transactionStore, err := NewTransactionStore(f.db)
	if err != nil {
		return err
	}
	transactionStore.now = now
	f.transactionStore = transactionStore

	dispatchStore, err := NewDispatchStore(f.db)
	if err != nil {
		return err
	}
	dispatchStore.now = now
	f.dispatchStore = dispatchStore

	processStore, err := NewProcessDefinitionStore(f.db)
	if err != nil {
		return err
	}
	processStore.now = now
	f.processDefinitionStore = processStore

	settingsStore, err := NewGatewaySettingsStore(f.db)
	if err != nil {
		return err
	}
	settingsStore.now = now
	f.gatewaySettingsStore = settingsStore

	if f.cache != nil {
		cachedProcesses, err := NewCachedProcessDefinitionStore(processStore, f.cache)
		if err != nil {
			return err
		}
		f.processDefinitionStore = cachedProcesses
		cachedSettings, err := NewCachedGatewaySettingsStore(settingsStore, f.cache)
		if err != nil {
			return err
		}
		f.gatewaySettingsStore = cachedSettings
	}

	feedbackStore, err := NewFeedbackEligibilityStore(f.db)
	if err != nil {
		return err
	}
	feedbackStore.now = now
	f.feedbackStore = feedbackStore

	erasureStore, err := NewErasureStore(f.db)
	if err != nil {
		return err
	}
	f.erasureStore = erasureStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
