package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	txcommand "github.com/goliatone/go-transactions/command"
	"github.com/goliatone/go-transactions/core"
	txquery "github.com/goliatone/go-transactions/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "transactions.test.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "transactions.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "transactions.test.dispatch" }

type queueMessage struct{}

func (queueMessage) Type() string { return "transactions.test.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	executed := 0
	customResolverCalled := 0

	cmd := command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})

	if _, err := RegisterAndSubscribe(adapter, cmd); err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected command execution count=1, got %d", executed)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("transactions.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegisterTransactionHandlers_DispatchesThroughService(t *testing.T) {
	svc, err := core.NewService(core.Config{},
		core.WithRepositoryFactory(core.NewMemoryStore()),
		core.WithRecipientResolver(staticRecipients{}),
		core.WithNotificationTransport(discardTransport{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	adapter := NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := RegisterTransactionHandlers(adapter, svc)
	if err != nil {
		t.Fatalf("register transaction handlers: %v", err)
	}
	defer func() {
		for _, subscription := range subscriptions {
			subscription.Unsubscribe()
		}
	}()
	if len(subscriptions) != 11 {
		t.Fatalf("expected 11 subscriptions, got %d", len(subscriptions))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	ctx := context.Background()
	if err := Dispatch(ctx, txcommand.PublishProcessMessage{
		Definition: core.DefaultFreeProcess("cmty_1", "shape_free"),
	}); err != nil {
		t.Fatalf("dispatch publish: %v", err)
	}

	collector := command.NewResult[txcommand.InitiateResult]()
	if err := Dispatch(command.ContextWithResult(ctx, collector), txcommand.InitiateMessage{Request: core.InitiateRequest{
		CommunityID:    "cmty_1",
		ListingID:      "listing_1",
		ListingShapeID: "shape_free",
		StarterID:      "person_starter",
		AuthorID:       "person_author",
	}}); err != nil {
		t.Fatalf("dispatch initiate: %v", err)
	}
	initiated, ok := collector.Load()
	if !ok || initiated.Transaction.ID == "" {
		t.Fatalf("expected initiate result, got %#v", initiated)
	}

	if err := Dispatch(ctx, txcommand.TransitionMessage{Request: core.TransitionRequest{
		TransactionID: initiated.Transaction.ID,
		ToState:       core.StatePending,
	}}); err != nil {
		t.Fatalf("dispatch transition: %v", err)
	}

	current, err := Query[txquery.GetTransactionMessage, core.Transaction](ctx, txquery.GetTransactionMessage{
		TransactionID: initiated.Transaction.ID,
	})
	if err != nil {
		t.Fatalf("query transaction: %v", err)
	}
	if current.CurrentState != core.StatePending {
		t.Fatalf("expected pending, got %q", current.CurrentState)
	}
}

type staticRecipients struct{}

func (staticRecipients) ResolveRecipient(_ context.Context, _ string, personID string) (core.Recipient, error) {
	return core.Recipient{PersonID: personID, Locale: "en", Addresses: []string{personID + "@example.com"}}, nil
}

type discardTransport struct{}

func (discardTransport) Send(context.Context, core.NotificationRequest) error { return nil }
