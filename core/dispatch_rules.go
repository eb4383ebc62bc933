package core

import (
	"fmt"
	"strings"
	"time"
)

type SideEffectKind string

const (
	SideEffectTransactionAccepted      SideEffectKind = "transaction_accepted"
	SideEffectTransactionRejected      SideEffectKind = "transaction_rejected"
	SideEffectTransactionConfirmed     SideEffectKind = "transaction_confirmed"
	SideEffectTransactionPreauthorized SideEffectKind = "transaction_preauthorized"
	SideEffectTransactionCanceled      SideEffectKind = "transaction_canceled"
	SideEffectTransactionRefunded      SideEffectKind = "transaction_refunded"
	SideEffectTransactionDisputed      SideEffectKind = "transaction_disputed"
	SideEffectPaymentSettingsReminder  SideEffectKind = "payment_settings_reminder"
	SideEffectTestimonialReminder      SideEffectKind = "testimonial_reminder"
	SideEffectFeedbackEligibility      SideEffectKind = "feedback_eligibility"
)

type RecipientRule string

const (
	RecipientNone    RecipientRule = ""
	RecipientStarter RecipientRule = "starter"
	RecipientAuthor  RecipientRule = "author"
)

// PersonFor returns the participant addressed by the rule.
func (r RecipientRule) PersonFor(tx Transaction) string {
	switch r {
	case RecipientStarter:
		return strings.TrimSpace(tx.StarterID)
	case RecipientAuthor:
		return strings.TrimSpace(tx.AuthorID)
	default:
		return ""
	}
}

type GuardKind string

const (
	GuardNone                        GuardKind = ""
	GuardAuthorMissingPaymentDetails GuardKind = "author_missing_payment_details"
)

type VariantSelector string

const (
	VariantFixed   VariantSelector = ""
	VariantGateway VariantSelector = "gateway"
)

const (
	VariantDefault = "default"
	VariantStripe  = "stripe"
)

// EffectSpec is one row of a dispatch rule. Delay postpones the first attempt.
type EffectSpec struct {
	Kind      SideEffectKind
	Recipient RecipientRule
	Template  string
	Variant   VariantSelector
	Delay     time.Duration
	Guard     GuardKind
}

// DispatchRule matches a transition. An empty From or empty ProcessKinds matches any.
type DispatchRule struct {
	From         State
	To           State
	ProcessKinds []ProcessKind
	Effects      []EffectSpec
}

func (r DispatchRule) matches(from State, to State, kind ProcessKind) bool {
	if r.To != to {
		return false
	}
	if r.From != "" && r.From != from {
		return false
	}
	if len(r.ProcessKinds) == 0 {
		return true
	}
	for _, candidate := range r.ProcessKinds {
		if candidate == kind {
			return true
		}
	}
	return false
}

type SideEffectDescriptor struct {
	Kind      SideEffectKind
	Recipient RecipientRule
	Template  string
	Variant   string
	Delay     time.Duration
	Guard     GuardKind
}

// PlanInput carries the gateway stamped on the transaction. Settings only
// decide the variant while no gateway is stamped.
type PlanInput struct {
	From        State
	To          State
	ProcessKind ProcessKind
	Gateway     PaymentGateway
	Settings    GatewaySettings
}

// EffectiveGateway is the gateway notices are worded for.
func (in PlanInput) EffectiveGateway() PaymentGateway {
	if in.Gateway.Stamped() {
		return in.Gateway
	}
	if in.Settings.Configured() {
		return NormalizePaymentGateway(string(in.Settings.Gateway))
	}
	return PaymentGatewayNone
}

type DispatchRules struct {
	rules []DispatchRule
}

func NewDispatchRules(rules ...DispatchRule) DispatchRules {
	copied := make([]DispatchRule, 0, len(rules))
	for _, rule := range rules {
		rule.ProcessKinds = append([]ProcessKind(nil), rule.ProcessKinds...)
		rule.Effects = append([]EffectSpec(nil), rule.Effects...)
		copied = append(copied, rule)
	}
	return DispatchRules{rules: copied}
}

func DefaultDispatchRules(testimonialReminderDelay time.Duration) DispatchRules {
	if testimonialReminderDelay <= 0 {
		testimonialReminderDelay = DefaultConfig().Dispatch.TestimonialReminderDelay
	}
	return NewDispatchRules(
		DispatchRule{
			To: StateAccepted,
			Effects: []EffectSpec{
				{Kind: SideEffectTransactionAccepted, Recipient: RecipientStarter, Template: "transaction_accepted"},
			},
		},
		DispatchRule{
			To: StateRejected,
			Effects: []EffectSpec{
				{Kind: SideEffectTransactionRejected, Recipient: RecipientStarter, Template: "transaction_rejected"},
			},
		},
		DispatchRule{
			To: StateConfirmed,
			Effects: []EffectSpec{
				{Kind: SideEffectTransactionConfirmed, Recipient: RecipientStarter, Template: "transaction_confirmed", Variant: VariantGateway},
				{Kind: SideEffectFeedbackEligibility},
				{Kind: SideEffectTestimonialReminder, Recipient: RecipientAuthor, Template: "testimonial_reminder", Delay: testimonialReminderDelay},
			},
		},
		DispatchRule{
			To: StatePreauthorized,
			Effects: []EffectSpec{
				{Kind: SideEffectTransactionPreauthorized, Recipient: RecipientAuthor, Template: "transaction_preauthorized", Variant: VariantGateway},
				{Kind: SideEffectPaymentSettingsReminder, Recipient: RecipientAuthor, Template: "payment_settings_reminder", Variant: VariantGateway, Guard: GuardAuthorMissingPaymentDetails},
			},
		},
		DispatchRule{
			To: StateCanceled,
			Effects: []EffectSpec{
				{Kind: SideEffectTransactionCanceled, Recipient: RecipientStarter, Template: "transaction_canceled"},
			},
		},
		DispatchRule{
			To: StateRefunded,
			Effects: []EffectSpec{
				{Kind: SideEffectTransactionRefunded, Recipient: RecipientStarter, Template: "transaction_refunded", Variant: VariantGateway},
			},
		},
		DispatchRule{
			To: StateDisputed,
			Effects: []EffectSpec{
				{Kind: SideEffectTransactionDisputed, Recipient: RecipientAuthor, Template: "transaction_disputed"},
			},
		},
	)
}

func (r DispatchRules) Rules() []DispatchRule {
	return NewDispatchRules(r.rules...).rules
}

// Kinds lists every side-effect kind the table can produce, in table order.
func (r DispatchRules) Kinds() []SideEffectKind {
	seen := map[SideEffectKind]struct{}{}
	out := []SideEffectKind{}
	for _, rule := range r.rules {
		for _, effect := range rule.Effects {
			if _, ok := seen[effect.Kind]; ok {
				continue
			}
			seen[effect.Kind] = struct{}{}
			out = append(out, effect.Kind)
		}
	}
	return out
}

// Plan depends only on its input. Matching rules contribute effects in table
// order; a kind already planned by an earlier rule is not repeated.
func (r DispatchRules) Plan(in PlanInput) []SideEffectDescriptor {
	out := []SideEffectDescriptor{}
	seen := map[SideEffectKind]struct{}{}
	gateway := in.EffectiveGateway()
	for _, rule := range r.rules {
		if !rule.matches(in.From, in.To, in.ProcessKind) {
			continue
		}
		for _, effect := range rule.Effects {
			if _, ok := seen[effect.Kind]; ok {
				continue
			}
			seen[effect.Kind] = struct{}{}
			out = append(out, SideEffectDescriptor{
				Kind:      effect.Kind,
				Recipient: effect.Recipient,
				Template:  effect.Template,
				Variant:   selectVariant(effect.Variant, gateway),
				Delay:     effect.Delay,
				Guard:     effect.Guard,
			})
		}
	}
	return out
}

func selectVariant(selector VariantSelector, gateway PaymentGateway) string {
	if selector == VariantGateway && gateway == PaymentGatewayStripe {
		return VariantStripe
	}
	return VariantDefault
}

// ValidateDispatchRules rejects tables that could not be executed: unknown
// states, duplicate kinds within a rule, notifications without a recipient and
// kinds nobody can execute.
func ValidateDispatchRules(rules DispatchRules, hasExecutor func(SideEffectKind) bool) error {
	var problems []string
	for i, rule := range rules.rules {
		if !rule.To.Valid() || rule.To == StateNotStarted {
			problems = append(problems, fmt.Sprintf("rule %d: invalid target state %q", i, rule.To))
		}
		if rule.From != "" && !rule.From.Valid() {
			problems = append(problems, fmt.Sprintf("rule %d: invalid source state %q", i, rule.From))
		}
		if len(rule.Effects) == 0 {
			problems = append(problems, fmt.Sprintf("rule %d: no effects", i))
		}
		kinds := map[SideEffectKind]struct{}{}
		for _, effect := range rule.Effects {
			if strings.TrimSpace(string(effect.Kind)) == "" {
				problems = append(problems, fmt.Sprintf("rule %d: effect kind is required", i))
				continue
			}
			if _, ok := kinds[effect.Kind]; ok {
				problems = append(problems, fmt.Sprintf("rule %d: duplicate effect %q", i, effect.Kind))
			}
			kinds[effect.Kind] = struct{}{}
			if effect.Template != "" && effect.Recipient == RecipientNone {
				problems = append(problems, fmt.Sprintf("rule %d: effect %q has a template but no recipient", i, effect.Kind))
			}
			if effect.Guard == GuardAuthorMissingPaymentDetails && effect.Recipient != RecipientAuthor {
				problems = append(problems, fmt.Sprintf("rule %d: effect %q guards on the author but addresses %q", i, effect.Kind, effect.Recipient))
			}
			if effect.Delay < 0 {
				problems = append(problems, fmt.Sprintf("rule %d: effect %q has a negative delay", i, effect.Kind))
			}
			if hasExecutor != nil && !hasExecutor(effect.Kind) {
				problems = append(problems, fmt.Sprintf("rule %d: %v %q", i, ErrExecutorNotRegistered, effect.Kind))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: dispatch rules: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}
