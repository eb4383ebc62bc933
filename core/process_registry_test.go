package core

import (
	"context"
	"errors"
	"testing"
)

func TestValidateDefinition(t *testing.T) {
	if err := ValidateDefinition(DefaultFreeProcess("c", "s")); err != nil {
		t.Fatalf("free process should validate: %v", err)
	}
	if err := ValidateDefinition(DefaultPreauthorizeProcess("c", "s")); err != nil {
		t.Fatalf("preauthorize process should validate: %v", err)
	}

	cases := map[string]func(*ProcessDefinition){
		"missing community":       func(d *ProcessDefinition) { d.CommunityID = "" },
		"unlisted initial state":  func(d *ProcessDefinition) { d.InitialState = StatePaid },
		"terminal with exits":     func(d *ProcessDefinition) { d.Transitions[StateConfirmed] = []State{StatePending} },
		"unknown state":           func(d *ProcessDefinition) { d.States = append(d.States, "limbo") },
		"free requiring gateway":  func(d *ProcessDefinition) { d.RequiresGateway = []State{StateAccepted} },
		"unlisted target":         func(d *ProcessDefinition) { d.Transitions[StateFree] = []State{StatePaid} },
		"duplicate listed states": func(d *ProcessDefinition) { d.States = append(d.States, StateFree) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def := DefaultFreeProcess("c", "s")
			mutate(&def)
			if err := ValidateDefinition(def); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestIsValidTransition(t *testing.T) {
	def := DefaultPreauthorizeProcess("c", "s")
	if !IsValidTransition(def, StatePreauthorized, StatePaid) {
		t.Fatalf("expected preauthorized -> paid")
	}
	if IsValidTransition(def, StateFree, StatePaid) {
		t.Fatalf("free -> paid is not in the process")
	}
	if IsValidTransition(def, StateRefunded, StateConfirmed) {
		t.Fatalf("terminal states have no exits")
	}
}

func TestProcessRegistry_PublishVersionsAndSnapshots(t *testing.T) {
	store := NewMemoryStore()
	registry, err := NewProcessRegistry(store.ProcessDefinitionStore())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx := context.Background()

	first, err := registry.Publish(ctx, DefaultFreeProcess("c", "s"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	second, err := registry.Publish(ctx, DefaultPreauthorizeProcess("c", "s"))
	if err != nil {
		t.Fatalf("publish second: %v", err)
	}
	if second.ID != first.ID || second.Version != first.Version+1 {
		t.Fatalf("expected next version of %q, got %q v%d", first.ID, second.ID, second.Version)
	}

	current, err := registry.DefinitionFor(ctx, "c", "s")
	if err != nil {
		t.Fatalf("definition for: %v", err)
	}
	if current.Version != second.Version || current.Kind != ProcessKindPreauthorize {
		t.Fatalf("expected latest version active, got v%d %s", current.Version, current.Kind)
	}

	pinned, err := registry.SnapshotFor(ctx, Transaction{ID: "tx", ProcessID: first.ID, ProcessVersion: first.Version})
	if err != nil {
		t.Fatalf("snapshot for: %v", err)
	}
	if pinned.Kind != ProcessKindNone {
		t.Fatalf("expected pinned free process, got %s", pinned.Kind)
	}

	_, err = registry.SnapshotFor(ctx, Transaction{ID: "tx", ProcessID: first.ID, ProcessVersion: 9})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("missing pinned version should be a configuration error, got %v", err)
	}
	if _, err := registry.DefinitionFor(ctx, "c", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSettingsResolver_ActiveSettings(t *testing.T) {
	store := NewMemoryStore()
	resolver, err := NewSettingsResolver(store.GatewaySettingsStore())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	ctx := context.Background()

	if _, ok, err := resolver.ActiveSettingsFor(ctx, "c", ProcessKindPreauthorize); err != nil || ok {
		t.Fatalf("expected no settings, got %v %v", ok, err)
	}
	if _, err := resolver.Provision(ctx, GatewaySettings{CommunityID: "c", Gateway: "PAYPAL", ProcessKind: "preauthorize", Active: true}); err != nil {
		t.Fatalf("provision paypal: %v", err)
	}
	if _, err := resolver.Provision(ctx, GatewaySettings{CommunityID: "c", Gateway: PaymentGatewayStripe, ProcessKind: ProcessKindPreauthorize, Active: true}); err != nil {
		t.Fatalf("provision stripe: %v", err)
	}
	settings, ok, err := resolver.ActiveSettingsFor(ctx, "c", ProcessKindPreauthorize)
	if err != nil || !ok || settings.Gateway != PaymentGatewayStripe {
		t.Fatalf("expected active stripe settings, got %+v %v %v", settings, ok, err)
	}
	if _, ok, _ := resolver.ActiveSettingsFor(ctx, "c", ProcessKindNone); ok {
		t.Fatalf("free processes never resolve gateway settings")
	}
	if _, err := resolver.Provision(ctx, GatewaySettings{CommunityID: "c", Gateway: PaymentGatewayStripe}); err == nil {
		t.Fatalf("expected process kind to be required")
	}
}
