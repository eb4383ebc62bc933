package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Service wires the lifecycle components over one set of stores.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	stores            resolvedStores
	registry          *ProcessRegistry
	settings          *SettingsResolver
	stateMachine      *StateMachine
	dispatcher        *Dispatcher
	jobRunner         *JobRunner
	eraser            *ParticipantEraser
	memoryQueue       *MemoryJobQueue
}

type ServiceDependencies struct {
	Logger                   Logger
	LoggerProvider           LoggerProvider
	MetricsRecorder          MetricsRecorder
	ErrorMapper              ErrorMapper
	PersistenceClient        any
	RepositoryFactory        any
	ConfigProvider           ConfigProvider
	OptionsResolver          OptionsResolver
	TransactionStore         TransactionStore
	DispatchStore            DispatchStore
	ProcessDefinitionStore   ProcessDefinitionStore
	GatewaySettingsStore     GatewaySettingsStore
	FeedbackEligibilityStore FeedbackEligibilityStore
	ErasureStore             ErasureStore
}

type resolvedStores struct {
	transactions TransactionStore
	dispatches   DispatchStore
	processes    ProcessDefinitionStore
	settings     GatewaySettingsStore
	feedback     FeedbackEligibilityStore
	erasure      ErasureStore
}

// NoPaymentDetails reports that nobody has payment details configured. It is
// the default checker, so payment-settings reminders are always sent.
type NoPaymentDetails struct{}

func (NoPaymentDetails) HasPaymentDetails(context.Context, string, string, PaymentGateway) (bool, error) {
	return false, nil
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("transactions", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("transactions"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.idGenerator == nil {
		builder.idGenerator = uuid.NewString
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	stores, err := resolveStores(&builder)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.recipientResolver == nil || builder.notificationTransport == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf(
			"%w: recipient resolver and notification transport are required", ErrConfiguration,
		))
	}
	if builder.paymentDetails == nil {
		builder.paymentDetails = NoPaymentDetails{}
	}

	var memoryQueue *MemoryJobQueue
	if builder.jobEnqueuer == nil {
		memoryQueue = NewMemoryJobQueue()
		builder.jobEnqueuer = memoryQueue
		if builder.jobDequeuer == nil {
			builder.jobDequeuer = memoryQueue
		}
	}
	if builder.alertSink == nil {
		builder.alertSink = LogAlertSink{Logger: logger}
	}

	rules := DefaultDispatchRules(finalConfig.Dispatch.TestimonialReminderDelay)
	if builder.dispatchRules != nil {
		rules = *builder.dispatchRules
	}
	executors := DefaultExecutors(rules,
		NotificationExecutor{Recipients: builder.recipientResolver, Transport: builder.notificationTransport},
		FeedbackExecutor{Store: stores.feedback, Clock: builder.clock},
	)
	for kind, executor := range builder.executors {
		executors[kind] = executor
	}

	registry, err := NewProcessRegistry(stores.processes)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	settings, err := NewSettingsResolver(stores.settings)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	settings.now = builder.clock

	var dispatcher *Dispatcher
	runner, err := NewJobRunner(JobRunnerDependencies{
		Store: stores.dispatches,
		Executor: DispatchExecutorFunc(func(ctx context.Context, rec DispatchRecord) error {
			return dispatcher.Execute(ctx, rec)
		}),
		Enqueuer: builder.jobEnqueuer,
		Dequeuer: builder.jobDequeuer,
		Alerts:   builder.alertSink,
		Hooks:    builder.jobHooks,
		Dispatch: finalConfig.Dispatch,
		Worker:   finalConfig.Worker,
		Logger:   logger,
		Metrics:  builder.metricsRecorder,
		Clock:    builder.clock,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	dispatcher, err = NewDispatcher(DispatcherDependencies{
		Rules:          rules,
		Store:          stores.dispatches,
		Transactions:   stores.transactions,
		Registry:       registry,
		Settings:       settings,
		Scheduler:      runner,
		Executors:      executors,
		PaymentDetails: builder.paymentDetails,
		Logger:         logger,
		Metrics:        builder.metricsRecorder,
		Clock:          builder.clock,
		IDGenerator:    builder.idGenerator,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	stateMachine, err := NewStateMachine(StateMachineDependencies{
		Transactions: stores.transactions,
		Registry:     registry,
		Settings:     settings,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Metrics:      builder.metricsRecorder,
		Clock:        builder.clock,
		IDGenerator:  builder.idGenerator,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	var eraser *ParticipantEraser
	if stores.erasure != nil {
		eraser, err = NewParticipantEraser(stores.erasure, nil, logger, builder.metricsRecorder)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
		eraser.now = builder.clock
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		stores:            stores,
		registry:          registry,
		settings:          settings,
		stateMachine:      stateMachine,
		dispatcher:        dispatcher,
		jobRunner:         runner,
		eraser:            eraser,
		memoryQueue:       memoryQueue,
	}, nil
}

func resolveStores(builder *serviceBuilder) (resolvedStores, error) {
	stores := resolvedStores{
		transactions: builder.transactionStore,
		dispatches:   builder.dispatchStore,
		processes:    builder.processStore,
		settings:     builder.settingsStore,
		feedback:     builder.feedbackStore,
		erasure:      builder.erasureStore,
	}
	var provider StoreProvider
	switch factory := builder.repositoryFactory.(type) {
	case RepositoryStoreFactory:
		built, err := factory.BuildStores(builder.persistenceClient)
		if err != nil {
			return resolvedStores{}, err
		}
		provider = built
	case StoreProvider:
		provider = factory
	case nil:
	default:
		return resolvedStores{}, fmt.Errorf("core: unsupported repository factory %T", builder.repositoryFactory)
	}
	if provider == nil && stores.incomplete() {
		provider = NewMemoryStore()
	}
	if provider != nil {
		stores.fillFrom(provider)
	}
	if stores.transactions == nil || stores.dispatches == nil || stores.processes == nil ||
		stores.settings == nil || stores.feedback == nil {
		return resolvedStores{}, fmt.Errorf("core: store provider returned incomplete stores")
	}
	return stores, nil
}

func (s resolvedStores) incomplete() bool {
	return s.transactions == nil || s.dispatches == nil || s.processes == nil ||
		s.settings == nil || s.feedback == nil || s.erasure == nil
}

func (s *resolvedStores) fillFrom(provider StoreProvider) {
	if s.transactions == nil {
		s.transactions = provider.TransactionStore()
	}
	if s.dispatches == nil {
		s.dispatches = provider.DispatchStore()
	}
	if s.processes == nil {
		s.processes = provider.ProcessDefinitionStore()
	}
	if s.settings == nil {
		s.settings = provider.GatewaySettingsStore()
	}
	if s.feedback == nil {
		s.feedback = provider.FeedbackEligibilityStore()
	}
	if s.erasure == nil {
		s.erasure = provider.ErasureStore()
	}
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:                   s.logger,
		LoggerProvider:           s.loggerProvider,
		MetricsRecorder:          s.metricsRecorder,
		ErrorMapper:              s.errorMapper,
		PersistenceClient:        s.persistenceClient,
		RepositoryFactory:        s.repositoryFactory,
		ConfigProvider:           s.configProvider,
		OptionsResolver:          s.optionsResolver,
		TransactionStore:         s.stores.transactions,
		DispatchStore:            s.stores.dispatches,
		ProcessDefinitionStore:   s.stores.processes,
		GatewaySettingsStore:     s.stores.settings,
		FeedbackEligibilityStore: s.stores.feedback,
		ErasureStore:             s.stores.erasure,
	}
}

func (s *Service) Registry() *ProcessRegistry {
	return s.registry
}

func (s *Service) SettingsResolver() *SettingsResolver {
	return s.settings
}

func (s *Service) StateMachine() *StateMachine {
	return s.stateMachine
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *Service) JobRunner() *JobRunner {
	return s.jobRunner
}

// MemoryQueue returns the in-process queue, or nil when an external queue is wired.
func (s *Service) MemoryQueue() *MemoryJobQueue {
	return s.memoryQueue
}

func (s *Service) MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return MapError(err)
	}
	return s.errorMapper(err)
}

func (s *Service) PublishProcess(ctx context.Context, def ProcessDefinition) (ProcessDefinition, error) {
	return s.registry.Publish(ctx, def)
}

func (s *Service) ProvisionGatewaySettings(ctx context.Context, settings GatewaySettings) (GatewaySettings, error) {
	return s.settings.Provision(ctx, settings)
}

func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (Transaction, TransitionRecord, error) {
	return s.stateMachine.Initiate(ctx, req)
}

func (s *Service) Transition(ctx context.Context, req TransitionRequest) (TransitionRecord, error) {
	return s.stateMachine.Transition(ctx, req)
}

// TransitionWithRetry re-reads state and retries on ErrConflict up to
// conflict.max_retries times. A request pinned with ExpectedState is not
// retried: the caller asked for that exact origin.
func (s *Service) TransitionWithRetry(ctx context.Context, req TransitionRequest) (TransitionRecord, error) {
	attempts := s.config.Conflict.MaxRetries
	if strings.TrimSpace(string(req.ExpectedState)) != "" {
		attempts = 0
	}
	var record TransitionRecord
	err := RetryOnConflict(ctx, attempts, func(ctx context.Context) error {
		var err error
		record, err = s.stateMachine.Transition(ctx, req)
		return err
	})
	if err != nil {
		return TransitionRecord{}, err
	}
	return record, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	return s.stateMachine.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, transactionID string) ([]TransitionRecord, error) {
	return s.stateMachine.History(ctx, transactionID)
}

func (s *Service) ListDispatches(ctx context.Context, transactionID string) ([]DispatchRecord, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("core: transaction id is required")
	}
	return s.stores.dispatches.ListByTransaction(ctx, transactionID)
}

func (s *Service) Redispatch(ctx context.Context, transitionID string) ([]DispatchRecord, error) {
	if strings.TrimSpace(transitionID) == "" {
		return nil, fmt.Errorf("core: transition id is required")
	}
	return s.dispatcher.Redispatch(ctx, transitionID)
}

func (s *Service) CancelDispatch(ctx context.Context, dispatchID string) (bool, error) {
	return s.jobRunner.Cancel(ctx, JobHandle{DispatchID: dispatchID})
}

func (s *Service) RunDispatch(ctx context.Context, dispatchID string) error {
	return s.jobRunner.Run(ctx, Job{DispatchID: dispatchID})
}

func (s *Service) RecoverDispatches(ctx context.Context, limit int) (int, error) {
	return s.jobRunner.RecoverDue(ctx, limit)
}

func (s *Service) StartWorkers(ctx context.Context) error {
	return s.jobRunner.Start(ctx)
}

func (s *Service) StopWorkers() {
	s.jobRunner.Stop()
	if s.memoryQueue != nil {
		s.memoryQueue.Close()
	}
}

func (s *Service) FeedbackEligibility(ctx context.Context, transactionID string) (FeedbackEligibility, error) {
	return s.stores.feedback.Get(ctx, transactionID)
}

func (s *Service) EraseParticipant(ctx context.Context, personID string) (ErasureReport, error) {
	if s.eraser == nil {
		return ErasureReport{}, fmt.Errorf("%w: erasure store is not configured", ErrConfiguration)
	}
	return s.eraser.EraseParticipant(ctx, personID)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}
