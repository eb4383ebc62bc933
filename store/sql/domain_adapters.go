package sqlstore

import (
	"time"

	"github.com/goliatone/go-transactions/core"
)

func newTransactionRecord(tx core.Transaction) *transactionRecord {
	return &transactionRecord{
		ID:             tx.ID,
		CommunityID:    tx.CommunityID,
		ListingID:      tx.ListingID,
		ListingShapeID: tx.ListingShapeID,
		StarterID:      tx.StarterID,
		AuthorID:       tx.AuthorID,
		CurrentState:   string(tx.CurrentState),
		PaymentGateway: string(normalizeGateway(tx.PaymentGateway)),
		ProcessID:      tx.ProcessID,
		ProcessVersion: tx.ProcessVersion,
		Version:        tx.Version,
		CreatedAt:      tx.CreatedAt.UTC(),
		UpdatedAt:      tx.UpdatedAt.UTC(),
	}
}

func (r *transactionRecord) toDomain() core.Transaction {
	if r == nil {
		return core.Transaction{}
	}
	return core.Transaction{
		ID:             r.ID,
		CommunityID:    r.CommunityID,
		ListingID:      r.ListingID,
		ListingShapeID: r.ListingShapeID,
		StarterID:      r.StarterID,
		AuthorID:       r.AuthorID,
		CurrentState:   core.State(r.CurrentState),
		PaymentGateway: core.NormalizePaymentGateway(r.PaymentGateway),
		ProcessID:      r.ProcessID,
		ProcessVersion: r.ProcessVersion,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func newTransitionRecord(in core.TransitionRecord) *transitionRecord {
	return &transitionRecord{
		ID:            in.ID,
		TransactionID: in.TransactionID,
		Sequence:      in.Sequence,
		FromState:     string(in.FromState),
		ToState:       string(in.ToState),
		Actor:         in.Actor,
		Reason:        in.Reason,
		Metadata:      copyAnyMap(in.Metadata),
		CreatedAt:     in.CreatedAt.UTC(),
	}
}

func (r *transitionRecord) toDomain() core.TransitionRecord {
	if r == nil {
		return core.TransitionRecord{}
	}
	return core.TransitionRecord{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		Sequence:      r.Sequence,
		FromState:     core.State(r.FromState),
		ToState:       core.State(r.ToState),
		Actor:         r.Actor,
		Reason:        r.Reason,
		Metadata:      copyAnyMap(r.Metadata),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func newDispatchRecord(in core.DispatchRecord) *dispatchRecord {
	return &dispatchRecord{
		ID:                in.ID,
		TransitionID:      in.TransitionID,
		TransactionID:     in.TransactionID,
		CommunityID:       in.CommunityID,
		Kind:              string(in.Kind),
		Recipient:         string(in.Recipient),
		RecipientPersonID: in.RecipientPersonID,
		Template:          in.Template,
		Variant:           in.Variant,
		Guard:             string(in.Guard),
		Status:            string(in.Status),
		Attempts:          in.Attempts,
		NextAttemptAt:     cloneTimePointer(in.NextAttemptAt),
		LastError:         in.LastError,
		Metadata:          copyAnyMap(in.Metadata),
		CreatedAt:         in.CreatedAt.UTC(),
		UpdatedAt:         in.UpdatedAt.UTC(),
		CompletedAt:       cloneTimePointer(in.CompletedAt),
	}
}

func (r *dispatchRecord) toDomain() core.DispatchRecord {
	if r == nil {
		return core.DispatchRecord{}
	}
	return core.DispatchRecord{
		ID:                r.ID,
		TransitionID:      r.TransitionID,
		TransactionID:     r.TransactionID,
		CommunityID:       r.CommunityID,
		Kind:              core.SideEffectKind(r.Kind),
		Recipient:         core.RecipientRule(r.Recipient),
		RecipientPersonID: r.RecipientPersonID,
		Template:          r.Template,
		Variant:           r.Variant,
		Guard:             core.GuardKind(r.Guard),
		Status:            core.DispatchStatus(r.Status),
		Attempts:          r.Attempts,
		NextAttemptAt:     cloneTimePointer(r.NextAttemptAt),
		LastError:         r.LastError,
		Metadata:          copyAnyMap(r.Metadata),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
		CompletedAt:       cloneTimePointer(r.CompletedAt),
	}
}

func newProcessDefinitionRecord(def core.ProcessDefinition) *processDefinitionRecord {
	transitions := make(map[string][]string, len(def.Transitions))
	for from, targets := range def.Transitions {
		transitions[string(from)] = statesToStrings(targets)
	}
	return &processDefinitionRecord{
		ProcessID:       def.ID,
		Version:         def.Version,
		CommunityID:     def.CommunityID,
		ListingShapeID:  def.ListingShapeID,
		Kind:            string(def.Kind),
		InitialState:    string(def.InitialState),
		States:          statesToStrings(def.States),
		Transitions:     transitions,
		TerminalStates:  statesToStrings(def.TerminalStates),
		RequiresGateway: statesToStrings(def.RequiresGateway),
		Active:          def.Active,
		PublishedAt:     def.PublishedAt.UTC(),
	}
}

func (r *processDefinitionRecord) toDomain() core.ProcessDefinition {
	if r == nil {
		return core.ProcessDefinition{}
	}
	transitions := make(map[core.State][]core.State, len(r.Transitions))
	for from, targets := range r.Transitions {
		transitions[core.State(from)] = stringsToStates(targets)
	}
	return core.ProcessDefinition{
		ID:              r.ProcessID,
		Version:         r.Version,
		CommunityID:     r.CommunityID,
		ListingShapeID:  r.ListingShapeID,
		Kind:            core.NormalizeProcessKind(r.Kind),
		InitialState:    core.State(r.InitialState),
		States:          stringsToStates(r.States),
		Transitions:     transitions,
		TerminalStates:  stringsToStates(r.TerminalStates),
		RequiresGateway: stringsToStates(r.RequiresGateway),
		Active:          r.Active,
		PublishedAt:     r.PublishedAt.UTC(),
	}
}

func (r *gatewaySettingsRecord) toDomain() core.GatewaySettings {
	if r == nil {
		return core.GatewaySettings{}
	}
	return core.GatewaySettings{
		CommunityID:   r.CommunityID,
		Gateway:       core.NormalizePaymentGateway(r.Gateway),
		ProcessKind:   core.NormalizeProcessKind(r.ProcessKind),
		Active:        r.Active,
		ProvisionedAt: r.ProvisionedAt.UTC(),
	}
}

func (r *feedbackEligibilityRecord) toDomain() core.FeedbackEligibility {
	if r == nil {
		return core.FeedbackEligibility{}
	}
	return core.FeedbackEligibility{
		TransactionID: r.TransactionID,
		StarterID:     r.StarterID,
		AuthorID:      r.AuthorID,
		EligibleAt:    r.EligibleAt.UTC(),
	}
}

func normalizeGateway(gateway core.PaymentGateway) core.PaymentGateway {
	if gateway == "" {
		return core.PaymentGatewayNone
	}
	return core.NormalizePaymentGateway(string(gateway))
}

func statesToStrings(states []core.State) []string {
	out := make([]string, 0, len(states))
	for _, state := range states {
		out = append(out, string(state))
	}
	return out
}

func stringsToStates(values []string) []core.State {
	out := make([]core.State, 0, len(values))
	for _, value := range values {
		out = append(out, core.State(value))
	}
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
