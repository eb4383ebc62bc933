package transactions

import (
	"fmt"

	txcommand "github.com/goliatone/go-transactions/command"
	txquery "github.com/goliatone/go-transactions/query"
)

type CommandQueryService interface {
	txcommand.MutatingService
	txcommand.AdministrationService
	txquery.TransactionReader
	txquery.DispatchReader
	txquery.FeedbackReader
}

type Commands struct {
	Initiate                 *txcommand.InitiateCommand
	Transition               *txcommand.TransitionCommand
	Redispatch               *txcommand.RedispatchCommand
	CancelDispatch           *txcommand.CancelDispatchCommand
	EraseParticipant         *txcommand.EraseParticipantCommand
	PublishProcess           *txcommand.PublishProcessCommand
	ProvisionGatewaySettings *txcommand.ProvisionGatewaySettingsCommand
}

type Queries struct {
	GetTransaction      *txquery.GetTransactionQuery
	TransitionHistory   *txquery.TransitionHistoryQuery
	ListDispatches      *txquery.ListDispatchesQuery
	FeedbackEligibility *txquery.FeedbackEligibilityQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("transactions: command/query service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Initiate:                 txcommand.NewInitiateCommand(service),
		Transition:               txcommand.NewTransitionCommand(service),
		Redispatch:               txcommand.NewRedispatchCommand(service),
		CancelDispatch:           txcommand.NewCancelDispatchCommand(service),
		EraseParticipant:         txcommand.NewEraseParticipantCommand(service),
		PublishProcess:           txcommand.NewPublishProcessCommand(service),
		ProvisionGatewaySettings: txcommand.NewProvisionGatewaySettingsCommand(service),
	}
	facade.queries = Queries{
		GetTransaction:      txquery.NewGetTransactionQuery(service),
		TransitionHistory:   txquery.NewTransitionHistoryQuery(service),
		ListDispatches:      txquery.NewListDispatchesQuery(service),
		FeedbackEligibility: txquery.NewFeedbackEligibilityQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
