package transactions

import "github.com/goliatone/go-transactions/core"

type Config = core.Config

type DispatchConfig = core.DispatchConfig

type Option = core.Option

type Service = core.Service

type State = core.State
type ProcessKind = core.ProcessKind
type PaymentGateway = core.PaymentGateway
type SideEffectKind = core.SideEffectKind

type Transaction = core.Transaction
type TransitionRecord = core.TransitionRecord
type DispatchRecord = core.DispatchRecord
type ProcessDefinition = core.ProcessDefinition
type GatewaySettings = core.GatewaySettings
type FeedbackEligibility = core.FeedbackEligibility
type ErasureReport = core.ErasureReport

type InitiateRequest = core.InitiateRequest

type TransitionRequest = core.TransitionRequest

type Recipient = core.Recipient
type RecipientResolver = core.RecipientResolver
type NotificationRequest = core.NotificationRequest
type NotificationTransport = core.NotificationTransport
type PaymentDetailsChecker = core.PaymentDetailsChecker
type Alert = core.Alert
type AlertSink = core.AlertSink
type MetricsRecorder = core.MetricsRecorder

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorMapper           = core.WithErrorMapper
	WithPersistenceClient     = core.WithPersistenceClient
	WithRepositoryFactory     = core.WithRepositoryFactory
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithRecipientResolver     = core.WithRecipientResolver
	WithNotificationTransport = core.WithNotificationTransport
	WithPaymentDetailsChecker = core.WithPaymentDetailsChecker
	WithJobQueue              = core.WithJobQueue
	WithJobWorkerHooks        = core.WithJobWorkerHooks
	WithAlertSink             = core.WithAlertSink
	WithDispatchRules         = core.WithDispatchRules
	WithSideEffectExecutor    = core.WithSideEffectExecutor
	WithClock                 = core.WithClock
	WithIDGenerator           = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// NewMemoryService runs against the in-memory store; for tests and embedding.
func NewMemoryService(cfg Config, recipients RecipientResolver, transport NotificationTransport, opts ...Option) (*Service, error) {
	base := []Option{
		core.WithRepositoryFactory(core.NewMemoryStore()),
		core.WithRecipientResolver(recipients),
		core.WithNotificationTransport(transport),
	}
	return core.NewService(cfg, append(base, opts...)...)
}
