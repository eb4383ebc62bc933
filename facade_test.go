package transactions

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	txcommand "github.com/goliatone/go-transactions/command"
	"github.com/goliatone/go-transactions/core"
	txquery "github.com/goliatone/go-transactions/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	svc := newFacadeTestService(t)

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.Initiate == nil || commands.Transition == nil || commands.EraseParticipant == nil || commands.ProvisionGatewaySettings == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetTransaction == nil || queries.TransitionHistory == nil || queries.ListDispatches == nil || queries.FeedbackEligibility == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if facade.Service() == nil {
		t.Fatalf("expected facade to expose its service")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := newFacadeTestService(t)
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()

	if err := facade.Commands().PublishProcess.Execute(ctx, txcommand.PublishProcessMessage{
		Definition: core.DefaultFreeProcess("cmty_1", "shape_free"),
	}); err != nil {
		t.Fatalf("execute publish command: %v", err)
	}

	collector := command.NewResult[txcommand.InitiateResult]()
	if err := facade.Commands().Initiate.Execute(command.ContextWithResult(ctx, collector), txcommand.InitiateMessage{
		Request: InitiateRequest{
			CommunityID:    "cmty_1",
			ListingID:      "listing_1",
			ListingShapeID: "shape_free",
			StarterID:      "person_starter",
			AuthorID:       "person_author",
		},
	}); err != nil {
		t.Fatalf("execute initiate command: %v", err)
	}
	initiated, ok := collector.Load()
	if !ok {
		t.Fatalf("expected initiate result to be stored")
	}
	if initiated.Transaction.CurrentState != core.StateFree {
		t.Fatalf("expected free transaction, got %q", initiated.Transaction.CurrentState)
	}

	if err := facade.Commands().Transition.Execute(ctx, txcommand.TransitionMessage{
		Request: TransitionRequest{TransactionID: initiated.Transaction.ID, ToState: core.StatePending},
	}); err != nil {
		t.Fatalf("execute transition command: %v", err)
	}

	current, err := facade.Queries().GetTransaction.Query(ctx, txquery.GetTransactionMessage{TransactionID: initiated.Transaction.ID})
	if err != nil {
		t.Fatalf("query transaction: %v", err)
	}
	if current.CurrentState != core.StatePending || current.Version != 2 {
		t.Fatalf("unexpected transaction after transition: %#v", current)
	}

	history, err := facade.Queries().TransitionHistory.Query(ctx, txquery.TransitionHistoryMessage{TransactionID: initiated.Transaction.ID})
	if err != nil {
		t.Fatalf("query history: %v", err)
	}
	if len(history) != 2 || history[1].ToState != core.StatePending {
		t.Fatalf("unexpected history: %#v", history)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

func TestNewMemoryService_RequiresCollaborators(t *testing.T) {
	if _, err := NewMemoryService(Config{}, nil, nil); err == nil {
		t.Fatalf("expected missing recipient resolver and transport to fail")
	}
}

func newFacadeTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewMemoryService(Config{}, facadeRecipients{}, facadeTransport{})
	if err != nil {
		t.Fatalf("new memory service: %v", err)
	}
	return svc
}

type facadeRecipients struct{}

func (facadeRecipients) ResolveRecipient(_ context.Context, _ string, personID string) (Recipient, error) {
	return Recipient{PersonID: personID, Locale: "en", Addresses: []string{personID + "@example.com"}}, nil
}

type facadeTransport struct{}

func (facadeTransport) Send(context.Context, NotificationRequest) error { return nil }
