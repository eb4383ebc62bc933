package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	txcommand "github.com/goliatone/go-transactions/command"
	txquery "github.com/goliatone/go-transactions/query"
)

// TransactionService is everything the registered handlers delegate to.
type TransactionService interface {
	txcommand.MutatingService
	txcommand.AdministrationService
	txquery.TransactionReader
	txquery.DispatchReader
	txquery.FeedbackReader
}

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RegisterTransactionHandlers registers and subscribes every transaction
// command and query against svc. On error the subscriptions made so far are
// released.
func RegisterTransactionHandlers(
	adapter *RegistryAdapter,
	svc TransactionService,
	runnerOpts ...runner.Option,
) (subscriptions []commanddispatcher.Subscription, err error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if svc == nil {
		return nil, fmt.Errorf("gocommand: transaction service is required")
	}
	defer func() {
		if err == nil {
			return
		}
		for _, subscription := range subscriptions {
			if subscription != nil {
				subscription.Unsubscribe()
			}
		}
		subscriptions = nil
	}()

	register := func(subscription commanddispatcher.Subscription, registerErr error) {
		if err != nil {
			if subscription != nil {
				subscription.Unsubscribe()
			}
			return
		}
		if registerErr != nil {
			err = registerErr
			return
		}
		subscriptions = append(subscriptions, subscription)
	}

	register(RegisterAndSubscribe(adapter, txcommand.NewInitiateCommand(svc), runnerOpts...))
	register(RegisterAndSubscribe(adapter, txcommand.NewTransitionCommand(svc), runnerOpts...))
	register(RegisterAndSubscribe(adapter, txcommand.NewRedispatchCommand(svc), runnerOpts...))
	register(RegisterAndSubscribe(adapter, txcommand.NewCancelDispatchCommand(svc), runnerOpts...))
	register(RegisterAndSubscribe(adapter, txcommand.NewEraseParticipantCommand(svc), runnerOpts...))
	register(RegisterAndSubscribe(adapter, txcommand.NewPublishProcessCommand(svc), runnerOpts...))
	register(RegisterAndSubscribe(adapter, txcommand.NewProvisionGatewaySettingsCommand(svc), runnerOpts...))
	register(RegisterAndSubscribeQuery(adapter, txquery.NewGetTransactionQuery(svc), runnerOpts...))
	register(RegisterAndSubscribeQuery(adapter, txquery.NewTransitionHistoryQuery(svc), runnerOpts...))
	register(RegisterAndSubscribeQuery(adapter, txquery.NewListDispatchesQuery(svc), runnerOpts...))
	register(RegisterAndSubscribeQuery(adapter, txquery.NewFeedbackEligibilityQuery(svc), runnerOpts...))
	return subscriptions, err
}
