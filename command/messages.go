package command

import (
	"strings"

	"github.com/goliatone/go-transactions/core"
)

const (
	TypeInitiate                 = "transactions.command.initiate"
	TypeTransition               = "transactions.command.transition"
	TypeRedispatch               = "transactions.command.dispatch.redispatch"
	TypeCancelDispatch           = "transactions.command.dispatch.cancel"
	TypeEraseParticipant         = "transactions.command.participant.erase"
	TypePublishProcess           = "transactions.command.process.publish"
	TypeProvisionGatewaySettings = "transactions.command.gateway_settings.provision"
)

type InitiateMessage struct {
	Request core.InitiateRequest
}

func (InitiateMessage) Type() string { return TypeInitiate }

func (m InitiateMessage) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"community_id", m.Request.CommunityID},
		{"listing_id", m.Request.ListingID},
		{"listing_shape_id", m.Request.ListingShapeID},
		{"starter_id", m.Request.StarterID},
		{"author_id", m.Request.AuthorID},
	}
	for _, item := range required {
		if strings.TrimSpace(item.value) == "" {
			return commandValidationError(item.field, "is required")
		}
	}
	return nil
}

// InitiateResult is stored in the go-command result collector after Initiate.
type InitiateResult struct {
	Transaction core.Transaction
	Record      core.TransitionRecord
}

// TransitionMessage moves a transaction. With RetryOnConflict the command
// re-reads state and retries conflicts; it is ignored when ExpectedState is set.
type TransitionMessage struct {
	Request         core.TransitionRequest
	RetryOnConflict bool
}

func (TransitionMessage) Type() string { return TypeTransition }

func (m TransitionMessage) Validate() error {
	if strings.TrimSpace(m.Request.TransactionID) == "" {
		return commandValidationError("transaction_id", "is required")
	}
	if strings.TrimSpace(string(m.Request.ToState)) == "" {
		return commandValidationError("to_state", "is required")
	}
	if !m.Request.ToState.Valid() {
		return commandValidationError("to_state", "is not a known state")
	}
	if m.Request.ExpectedState != "" && !m.Request.ExpectedState.Valid() {
		return commandValidationError("expected_state", "is not a known state")
	}
	return nil
}

type RedispatchMessage struct {
	TransitionID string
}

func (RedispatchMessage) Type() string { return TypeRedispatch }

func (m RedispatchMessage) Validate() error {
	if strings.TrimSpace(m.TransitionID) == "" {
		return commandValidationError("transition_id", "is required")
	}
	return nil
}

type CancelDispatchMessage struct {
	DispatchID string
}

func (CancelDispatchMessage) Type() string { return TypeCancelDispatch }

func (m CancelDispatchMessage) Validate() error {
	if strings.TrimSpace(m.DispatchID) == "" {
		return commandValidationError("dispatch_id", "is required")
	}
	return nil
}

type EraseParticipantMessage struct {
	PersonID string
}

func (EraseParticipantMessage) Type() string { return TypeEraseParticipant }

func (m EraseParticipantMessage) Validate() error {
	personID := strings.TrimSpace(m.PersonID)
	if personID == "" {
		return commandValidationError("person_id", "is required")
	}
	if personID == core.DeletedParticipant {
		return commandValidationError("person_id", "is already erased")
	}
	return nil
}

type PublishProcessMessage struct {
	Definition core.ProcessDefinition
}

func (PublishProcessMessage) Type() string { return TypePublishProcess }

func (m PublishProcessMessage) Validate() error {
	if strings.TrimSpace(m.Definition.CommunityID) == "" {
		return commandValidationError("community_id", "is required")
	}
	if strings.TrimSpace(m.Definition.ListingShapeID) == "" {
		return commandValidationError("listing_shape_id", "is required")
	}
	if err := core.ValidateDefinition(m.Definition); err != nil {
		return commandWrapValidation(err, "command: invalid process definition")
	}
	return nil
}

type ProvisionGatewaySettingsMessage struct {
	Settings core.GatewaySettings
}

func (ProvisionGatewaySettingsMessage) Type() string { return TypeProvisionGatewaySettings }

func (m ProvisionGatewaySettingsMessage) Validate() error {
	if strings.TrimSpace(m.Settings.CommunityID) == "" {
		return commandValidationError("community_id", "is required")
	}
	if core.NormalizeProcessKind(string(m.Settings.ProcessKind)) == core.ProcessKindNone {
		return commandValidationError("process_kind", "must name a payment process")
	}
	if m.Settings.Active && core.NormalizePaymentGateway(string(m.Settings.Gateway)) == core.PaymentGatewayNone {
		return commandInvalidInputError("command: active gateway settings need a payment gateway")
	}
	return nil
}
