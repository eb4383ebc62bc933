package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig         Config
	logger                Logger
	loggerProvider        LoggerProvider
	metricsRecorder       MetricsRecorder
	errorMapper           ErrorMapper
	persistenceClient     any
	repositoryFactory     any
	configProvider        ConfigProvider
	optionsResolver       OptionsResolver
	transactionStore      TransactionStore
	dispatchStore         DispatchStore
	processStore          ProcessDefinitionStore
	settingsStore         GatewaySettingsStore
	feedbackStore         FeedbackEligibilityStore
	erasureStore          ErasureStore
	recipientResolver     RecipientResolver
	notificationTransport NotificationTransport
	paymentDetails        PaymentDetailsChecker
	jobEnqueuer           JobEnqueuer
	jobDequeuer           JobDequeuer
	jobHooks              []JobWorkerHook
	alertSink             AlertSink
	dispatchRules         *DispatchRules
	executors             map[SideEffectKind]SideEffectExecutor
	clock                 func() time.Time
	idGenerator           func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a RepositoryStoreFactory or a StoreProvider.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithTransactionStore(store TransactionStore) Option {
	return func(b *serviceBuilder) {
		b.transactionStore = store
	}
}

func WithDispatchStore(store DispatchStore) Option {
	return func(b *serviceBuilder) {
		b.dispatchStore = store
	}
}

func WithProcessDefinitionStore(store ProcessDefinitionStore) Option {
	return func(b *serviceBuilder) {
		b.processStore = store
	}
}

func WithGatewaySettingsStore(store GatewaySettingsStore) Option {
	return func(b *serviceBuilder) {
		b.settingsStore = store
	}
}

func WithFeedbackEligibilityStore(store FeedbackEligibilityStore) Option {
	return func(b *serviceBuilder) {
		b.feedbackStore = store
	}
}

func WithErasureStore(store ErasureStore) Option {
	return func(b *serviceBuilder) {
		b.erasureStore = store
	}
}

func WithRecipientResolver(resolver RecipientResolver) Option {
	return func(b *serviceBuilder) {
		b.recipientResolver = resolver
	}
}

func WithNotificationTransport(transport NotificationTransport) Option {
	return func(b *serviceBuilder) {
		b.notificationTransport = transport
	}
}

func WithPaymentDetailsChecker(checker PaymentDetailsChecker) Option {
	return func(b *serviceBuilder) {
		b.paymentDetails = checker
	}
}

// WithJobQueue wires an external queue. Both sides are needed for workers to run.
func WithJobQueue(enqueuer JobEnqueuer, dequeuer JobDequeuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
		b.jobDequeuer = dequeuer
	}
}

func WithJobWorkerHooks(hooks ...JobWorkerHook) Option {
	return func(b *serviceBuilder) {
		b.jobHooks = append(b.jobHooks, hooks...)
	}
}

func WithAlertSink(sink AlertSink) Option {
	return func(b *serviceBuilder) {
		b.alertSink = sink
	}
}

func WithDispatchRules(rules DispatchRules) Option {
	return func(b *serviceBuilder) {
		b.dispatchRules = &rules
	}
}

func WithSideEffectExecutor(kind SideEffectKind, executor SideEffectExecutor) Option {
	return func(b *serviceBuilder) {
		if b.executors == nil {
			b.executors = map[SideEffectKind]SideEffectExecutor{}
		}
		b.executors[kind] = executor
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func WithIDGenerator(generator func() string) Option {
	return func(b *serviceBuilder) {
		b.idGenerator = generator
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("transactions", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, loaded config and runtime overrides in
// that order of precedence. Zero values in the upper layers do not override.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	dispatch := map[string]any{}
	putInt(dispatch, "max_attempts", cfg.Dispatch.MaxAttempts, includeZero)
	putDuration(dispatch, "initial_backoff", cfg.Dispatch.InitialBackoff, includeZero)
	putDuration(dispatch, "max_backoff", cfg.Dispatch.MaxBackoff, includeZero)
	putInt(dispatch, "batch_size", cfg.Dispatch.BatchSize, includeZero)
	putDuration(dispatch, "processing_lease", cfg.Dispatch.ProcessingLease, includeZero)
	putDuration(dispatch, "testimonial_reminder_delay", cfg.Dispatch.TestimonialReminderDelay, includeZero)
	if len(dispatch) > 0 {
		layer["dispatch"] = dispatch
	}

	settings := map[string]any{}
	putDuration(settings, "cache_ttl", cfg.Settings.CacheTTL, includeZero)
	if len(settings) > 0 {
		layer["settings"] = settings
	}

	conflict := map[string]any{}
	putInt(conflict, "max_retries", cfg.Conflict.MaxRetries, includeZero)
	if len(conflict) > 0 {
		layer["conflict"] = conflict
	}

	worker := map[string]any{}
	putInt(worker, "concurrency", cfg.Worker.Concurrency, includeZero)
	putDuration(worker, "poll_interval", cfg.Worker.PollInterval, includeZero)
	if len(worker) > 0 {
		layer["worker"] = worker
	}

	database := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Database.Driver) != "" {
		database["driver"] = cfg.Database.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Database.Server) != "" {
		database["server"] = cfg.Database.Server
	}
	if includeZero || cfg.Database.Debug {
		database["debug"] = cfg.Database.Debug
	}
	putDuration(database, "ping_timeout", cfg.Database.PingTimeout, includeZero)
	if len(database) > 0 {
		layer["database"] = database
	}
	return layer
}

func putInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func putDuration(layer map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}
