package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ProcessDefinition is an immutable published version of a process. Editing a
// process publishes a new version; transactions keep the version they were
// created under.
type ProcessDefinition struct {
	ID              string
	Version         int
	CommunityID     string
	ListingShapeID  string
	Kind            ProcessKind
	InitialState    State
	States          []State
	Transitions     map[State][]State
	TerminalStates  []State
	RequiresGateway []State
	Active          bool
	PublishedAt     time.Time
}

func (d ProcessDefinition) Lists(state State) bool {
	return slices.Contains(d.States, state)
}

func (d ProcessDefinition) IsTerminal(state State) bool {
	return slices.Contains(d.TerminalStates, state)
}

func (d ProcessDefinition) GatewayRequired(state State) bool {
	return slices.Contains(d.RequiresGateway, state)
}

func (d ProcessDefinition) Clone() ProcessDefinition {
	out := d
	out.States = slices.Clone(d.States)
	out.TerminalStates = slices.Clone(d.TerminalStates)
	out.RequiresGateway = slices.Clone(d.RequiresGateway)
	out.Transitions = make(map[State][]State, len(d.Transitions))
	for from, to := range d.Transitions {
		out.Transitions[from] = slices.Clone(to)
	}
	return out
}

// IsValidTransition is the static adjacency check. Terminal states have no exits.
func IsValidTransition(def ProcessDefinition, from State, to State) bool {
	if def.IsTerminal(from) {
		return false
	}
	if !def.Lists(from) || !def.Lists(to) {
		return false
	}
	return slices.Contains(def.Transitions[from], to)
}

func ValidateDefinition(def ProcessDefinition) error {
	var problems []string
	if strings.TrimSpace(def.CommunityID) == "" {
		problems = append(problems, "community_id is required")
	}
	if strings.TrimSpace(def.ListingShapeID) == "" {
		problems = append(problems, "listing_shape_id is required")
	}
	if len(def.States) == 0 {
		problems = append(problems, "states are required")
	}
	seen := map[State]struct{}{}
	for _, state := range def.States {
		if !state.Valid() || state == StateNotStarted {
			problems = append(problems, fmt.Sprintf("unknown state %q", state))
		}
		if _, ok := seen[state]; ok {
			problems = append(problems, fmt.Sprintf("duplicate state %q", state))
		}
		seen[state] = struct{}{}
	}
	if !def.Lists(def.InitialState) {
		problems = append(problems, fmt.Sprintf("initial state %q is not listed", def.InitialState))
	}
	for from, targets := range def.Transitions {
		if !def.Lists(from) {
			problems = append(problems, fmt.Sprintf("transition source %q is not listed", from))
		}
		if def.IsTerminal(from) && len(targets) > 0 {
			problems = append(problems, fmt.Sprintf("terminal state %q has outgoing transitions", from))
		}
		for _, to := range targets {
			if !def.Lists(to) {
				problems = append(problems, fmt.Sprintf("transition target %q is not listed", to))
			}
		}
	}
	for _, state := range def.TerminalStates {
		if !def.Lists(state) {
			problems = append(problems, fmt.Sprintf("terminal state %q is not listed", state))
		}
	}
	for _, state := range def.RequiresGateway {
		if !def.Lists(state) {
			problems = append(problems, fmt.Sprintf("gateway state %q is not listed", state))
		}
	}
	if len(def.RequiresGateway) > 0 && def.Kind == ProcessKindNone {
		problems = append(problems, "free processes cannot require a payment gateway")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: process %q: %s", ErrConfiguration, def.ID, strings.Join(problems, "; "))
	}
	return nil
}

// DefaultFreeProcess is the inquiry process used when a listing shape takes no payment.
func DefaultFreeProcess(communityID string, listingShapeID string) ProcessDefinition {
	return ProcessDefinition{
		CommunityID:    communityID,
		ListingShapeID: listingShapeID,
		Kind:           ProcessKindNone,
		InitialState:   StateFree,
		States: []State{
			StateFree,
			StatePending,
			StateAccepted,
			StateRejected,
			StateConfirmed,
			StateCanceled,
		},
		Transitions: map[State][]State{
			StateFree:     {StatePending, StateCanceled},
			StatePending:  {StateAccepted, StateRejected, StateCanceled},
			StateAccepted: {StateConfirmed, StateCanceled},
		},
		TerminalStates: []State{StateRejected, StateConfirmed, StateCanceled},
		Active:         true,
	}
}

func DefaultPreauthorizeProcess(communityID string, listingShapeID string) ProcessDefinition {
	return ProcessDefinition{
		CommunityID:    communityID,
		ListingShapeID: listingShapeID,
		Kind:           ProcessKindPreauthorize,
		InitialState:   StateFree,
		States: []State{
			StateFree,
			StateInitiated,
			StatePending,
			StatePreauthorized,
			StateAccepted,
			StateRejected,
			StatePaid,
			StateConfirmed,
			StateCanceled,
			StateDisputed,
			StateRefunded,
			StateErrored,
		},
		Transitions: map[State][]State{
			StateFree:          {StatePending, StatePreauthorized, StateCanceled},
			StateInitiated:     {StatePreauthorized, StateErrored},
			StatePending:       {StateAccepted, StateRejected, StatePreauthorized, StateConfirmed, StateCanceled},
			StatePreauthorized: {StatePaid, StateRejected, StateCanceled},
			StateAccepted:      {StatePaid, StateConfirmed, StateCanceled},
			StatePaid:          {StateConfirmed, StateCanceled, StateDisputed},
			StateDisputed:      {StateRefunded, StateConfirmed, StateCanceled},
		},
		TerminalStates:  []State{StateConfirmed, StateCanceled, StateRefunded, StateRejected, StateErrored},
		RequiresGateway: []State{StatePreauthorized, StatePaid},
		Active:          true,
	}
}

// ProcessRegistry resolves process definitions. Current lookups go through
// the active version; snapshot lookups go through the version a transaction
// was created under.
type ProcessRegistry struct {
	store ProcessDefinitionStore
}

func NewProcessRegistry(store ProcessDefinitionStore) (*ProcessRegistry, error) {
	if store == nil {
		return nil, fmt.Errorf("core: process definition store is required")
	}
	return &ProcessRegistry{store: store}, nil
}

func (r *ProcessRegistry) DefinitionFor(ctx context.Context, communityID string, listingShapeID string) (ProcessDefinition, error) {
	if r == nil || r.store == nil {
		return ProcessDefinition{}, fmt.Errorf("core: process registry is not configured")
	}
	communityID = strings.TrimSpace(communityID)
	listingShapeID = strings.TrimSpace(listingShapeID)
	if communityID == "" || listingShapeID == "" {
		return ProcessDefinition{}, fmt.Errorf("core: community id and listing shape id are required")
	}
	def, err := r.store.Active(ctx, communityID, listingShapeID)
	if err != nil {
		return ProcessDefinition{}, err
	}
	return def.Clone(), nil
}

func (r *ProcessRegistry) SnapshotFor(ctx context.Context, tx Transaction) (ProcessDefinition, error) {
	if r == nil || r.store == nil {
		return ProcessDefinition{}, fmt.Errorf("core: process registry is not configured")
	}
	if strings.TrimSpace(tx.ProcessID) == "" || tx.ProcessVersion <= 0 {
		return ProcessDefinition{}, fmt.Errorf("%w: transaction %q has no pinned process", ErrConfiguration, tx.ID)
	}
	def, err := r.store.Version(ctx, tx.ProcessID, tx.ProcessVersion)
	if err != nil {
		if isNotFound(err) {
			return ProcessDefinition{}, fmt.Errorf(
				"%w: process %q version %d for transaction %q is missing",
				ErrConfiguration, tx.ProcessID, tx.ProcessVersion, tx.ID,
			)
		}
		return ProcessDefinition{}, err
	}
	return def.Clone(), nil
}

// Publish validates def and stores it as the next active version of its
// (community, listing shape) process.
func (r *ProcessRegistry) Publish(ctx context.Context, def ProcessDefinition) (ProcessDefinition, error) {
	if r == nil || r.store == nil {
		return ProcessDefinition{}, fmt.Errorf("core: process registry is not configured")
	}
	def.CommunityID = strings.TrimSpace(def.CommunityID)
	def.ListingShapeID = strings.TrimSpace(def.ListingShapeID)
	def.Active = true
	if err := ValidateDefinition(def); err != nil {
		return ProcessDefinition{}, err
	}
	return r.store.Publish(ctx, def.Clone())
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}
