package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-transactions/core"
)

type MutatingService interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.Transaction, core.TransitionRecord, error)
	Transition(ctx context.Context, req core.TransitionRequest) (core.TransitionRecord, error)
	TransitionWithRetry(ctx context.Context, req core.TransitionRequest) (core.TransitionRecord, error)
	Redispatch(ctx context.Context, transitionID string) ([]core.DispatchRecord, error)
	CancelDispatch(ctx context.Context, dispatchID string) (bool, error)
	EraseParticipant(ctx context.Context, personID string) (core.ErasureReport, error)
}

// AdministrationService publishes process definitions and provisions gateways.
type AdministrationService interface {
	PublishProcess(ctx context.Context, def core.ProcessDefinition) (core.ProcessDefinition, error)
	ProvisionGatewaySettings(ctx context.Context, settings core.GatewaySettings) (core.GatewaySettings, error)
}

type InitiateCommand struct {
	service MutatingService
}

func NewInitiateCommand(service MutatingService) *InitiateCommand {
	return &InitiateCommand{service: service}
}

func (c *InitiateCommand) Execute(ctx context.Context, msg InitiateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: initiate service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	tx, record, err := c.service.Initiate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, InitiateResult{Transaction: tx, Record: record})
	return nil
}

type TransitionCommand struct {
	service MutatingService
}

func NewTransitionCommand(service MutatingService) *TransitionCommand {
	return &TransitionCommand{service: service}
}

func (c *TransitionCommand) Execute(ctx context.Context, msg TransitionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: transition service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	var (
		record core.TransitionRecord
		err    error
	)
	if msg.RetryOnConflict {
		record, err = c.service.TransitionWithRetry(ctx, msg.Request)
	} else {
		record, err = c.service.Transition(ctx, msg.Request)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, record)
	return nil
}

type RedispatchCommand struct {
	service MutatingService
}

func NewRedispatchCommand(service MutatingService) *RedispatchCommand {
	return &RedispatchCommand{service: service}
}

func (c *RedispatchCommand) Execute(ctx context.Context, msg RedispatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: redispatch service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	records, err := c.service.Redispatch(ctx, msg.TransitionID)
	if err != nil {
		return err
	}
	storeResult(ctx, records)
	return nil
}

type CancelDispatchCommand struct {
	service MutatingService
}

func NewCancelDispatchCommand(service MutatingService) *CancelDispatchCommand {
	return &CancelDispatchCommand{service: service}
}

func (c *CancelDispatchCommand) Execute(ctx context.Context, msg CancelDispatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: cancel dispatch service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	canceled, err := c.service.CancelDispatch(ctx, msg.DispatchID)
	if err != nil {
		return err
	}
	storeResult(ctx, canceled)
	return nil
}

type EraseParticipantCommand struct {
	service MutatingService
}

func NewEraseParticipantCommand(service MutatingService) *EraseParticipantCommand {
	return &EraseParticipantCommand{service: service}
}

func (c *EraseParticipantCommand) Execute(ctx context.Context, msg EraseParticipantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: erasure service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	report, err := c.service.EraseParticipant(ctx, msg.PersonID)
	if err != nil {
		return err
	}
	storeResult(ctx, report)
	return nil
}

type PublishProcessCommand struct {
	service AdministrationService
}

func NewPublishProcessCommand(service AdministrationService) *PublishProcessCommand {
	return &PublishProcessCommand{service: service}
}

func (c *PublishProcessCommand) Execute(ctx context.Context, msg PublishProcessMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: process administration service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	published, err := c.service.PublishProcess(ctx, msg.Definition)
	if err != nil {
		return err
	}
	storeResult(ctx, published)
	return nil
}

type ProvisionGatewaySettingsCommand struct {
	service AdministrationService
}

func NewProvisionGatewaySettingsCommand(service AdministrationService) *ProvisionGatewaySettingsCommand {
	return &ProvisionGatewaySettingsCommand{service: service}
}

func (c *ProvisionGatewaySettingsCommand) Execute(ctx context.Context, msg ProvisionGatewaySettingsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: gateway administration service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	provisioned, err := c.service.ProvisionGatewaySettings(ctx, msg.Settings)
	if err != nil {
		return err
	}
	storeResult(ctx, provisioned)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
