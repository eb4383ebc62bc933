package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type transactionRecord struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID             string    `bun:"id,pk"`
	CommunityID    string    `bun:"community_id,notnull"`
	ListingID      string    `bun:"listing_id,notnull"`
	ListingShapeID string    `bun:"listing_shape_id,notnull"`
	StarterID      string    `bun:"starter_id,notnull"`
	AuthorID       string    `bun:"author_id,notnull"`
	CurrentState   string    `bun:"current_state,notnull"`
	PaymentGateway string    `bun:"payment_gateway,notnull"`
	ProcessID      string    `bun:"process_id,notnull"`
	ProcessVersion int       `bun:"process_version,notnull"`
	Version        int       `bun:"version,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type transitionRecord struct {
	bun.BaseModel `bun:"table:transaction_transitions,alias:tt"`

	ID            string         `bun:"id,pk"`
	TransactionID string         `bun:"transaction_id,notnull"`
	Sequence      int            `bun:"sequence,notnull"`
	FromState     string         `bun:"from_state,notnull"`
	ToState       string         `bun:"to_state,notnull"`
	Actor         string         `bun:"actor,notnull"`
	Reason        string         `bun:"reason,notnull"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type dispatchRecord struct {
	bun.BaseModel `bun:"table:transaction_dispatches,alias:td"`

	ID                string         `bun:"id,pk"`
	TransitionID      string         `bun:"transition_id,notnull"`
	TransactionID     string         `bun:"transaction_id,notnull"`
	CommunityID       string         `bun:"community_id,notnull"`
	Kind              string         `bun:"kind,notnull"`
	Recipient         string         `bun:"recipient,notnull"`
	RecipientPersonID string         `bun:"recipient_person_id,notnull"`
	Template          string         `bun:"template,notnull"`
	Variant           string         `bun:"variant,notnull"`
	Guard             string         `bun:"guard,notnull"`
	Status            string         `bun:"status,notnull"`
	Attempts          int            `bun:"attempts,notnull"`
	NextAttemptAt     *time.Time     `bun:"next_attempt_at,nullzero"`
	LastError         string         `bun:"last_error,notnull"`
	Metadata          map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	CompletedAt       *time.Time     `bun:"completed_at,nullzero"`
}

type processDefinitionRecord struct {
	bun.BaseModel `bun:"table:transaction_process_definitions,alias:tpd"`

	ID              string              `bun:"id,pk"`
	ProcessID       string              `bun:"process_id,notnull"`
	Version         int                 `bun:"version,notnull"`
	CommunityID     string              `bun:"community_id,notnull"`
	ListingShapeID  string              `bun:"listing_shape_id,notnull"`
	Kind            string              `bun:"kind,notnull"`
	InitialState    string              `bun:"initial_state,notnull"`
	States          []string            `bun:"states,type:jsonb,notnull"`
	Transitions     map[string][]string `bun:"transitions,type:jsonb,notnull"`
	TerminalStates  []string            `bun:"terminal_states,type:jsonb,notnull"`
	RequiresGateway []string            `bun:"requires_gateway,type:jsonb,notnull"`
	Active          bool                `bun:"active,notnull"`
	PublishedAt     time.Time           `bun:"published_at,nullzero,notnull,default:current_timestamp"`
}

type gatewaySettingsRecord struct {
	bun.BaseModel `bun:"table:transaction_gateway_settings,alias:tgs"`

	ID            string    `bun:"id,pk"`
	CommunityID   string    `bun:"community_id,notnull"`
	Gateway       string    `bun:"gateway,notnull"`
	ProcessKind   string    `bun:"process_kind,notnull"`
	Active        bool      `bun:"active,notnull"`
	ProvisionedAt time.Time `bun:"provisioned_at,nullzero,notnull,default:current_timestamp"`
}

type feedbackEligibilityRecord struct {
	bun.BaseModel `bun:"table:transaction_feedback_eligibility,alias:tfe"`

	TransactionID string    `bun:"transaction_id,pk"`
	StarterID     string    `bun:"starter_id,notnull"`
	AuthorID      string    `bun:"author_id,notnull"`
	EligibleAt    time.Time `bun:"eligible_at,nullzero,notnull,default:current_timestamp"`
}
