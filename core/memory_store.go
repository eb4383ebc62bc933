package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps every durable record in process memory. One mutex guards
// all tables so that ledger appends and their dispatch records commit together.
type MemoryStore struct {
	mu           sync.Mutex
	transactions map[string]Transaction
	transitions  map[string]TransitionRecord
	history      map[string][]string
	dispatches   map[string]DispatchRecord
	dispatchKeys map[string]string
	definitions  map[string][]ProcessDefinition
	settings     []GatewaySettings
	feedback     map[string]FeedbackEligibility
	Now          func() time.Time
	NewID        func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: map[string]Transaction{},
		transitions:  map[string]TransitionRecord{},
		history:      map[string][]string{},
		dispatches:   map[string]DispatchRecord{},
		dispatchKeys: map[string]string{},
		definitions:  map[string][]ProcessDefinition{},
		feedback:     map[string]FeedbackEligibility{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID: uuid.NewString,
	}
}

func (s *MemoryStore) TransactionStore() TransactionStore {
	return memoryTransactionStore{store: s}
}

func (s *MemoryStore) DispatchStore() DispatchStore {
	return memoryDispatchStore{store: s}
}

func (s *MemoryStore) ProcessDefinitionStore() ProcessDefinitionStore {
	return memoryProcessDefinitionStore{store: s}
}

func (s *MemoryStore) GatewaySettingsStore() GatewaySettingsStore {
	return memoryGatewaySettingsStore{store: s}
}

func (s *MemoryStore) FeedbackEligibilityStore() FeedbackEligibilityStore {
	return memoryFeedbackStore{store: s}
}

func (s *MemoryStore) ErasureStore() ErasureStore {
	return memoryErasureStore{store: s}
}

func (s *MemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryStore) newID() string {
	if s != nil && s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// insertDispatchLocked applies the (transition, kind) uniqueness rule.
func (s *MemoryStore) insertDispatchLocked(rec DispatchRecord) (DispatchRecord, bool, error) {
	rec.TransitionID = strings.TrimSpace(rec.TransitionID)
	if rec.TransitionID == "" || strings.TrimSpace(string(rec.Kind)) == "" {
		return DispatchRecord{}, false, fmt.Errorf("core: dispatch transition id and kind are required")
	}
	key := DispatchKey(rec.TransitionID, rec.Kind)
	if existingID, ok := s.dispatchKeys[key]; ok {
		return cloneDispatchRecord(s.dispatches[existingID]), false, nil
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = s.newID()
	}
	if _, ok := s.dispatches[rec.ID]; ok {
		return DispatchRecord{}, false, fmt.Errorf("%w: dispatch %q already exists", ErrConflict, rec.ID)
	}
	now := s.now()
	if rec.Status == "" {
		rec.Status = DispatchStatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec = cloneDispatchRecord(rec)
	s.dispatches[rec.ID] = rec
	s.dispatchKeys[key] = rec.ID
	return cloneDispatchRecord(rec), true, nil
}

// insertDispatchesLocked inserts all records or none.
func (s *MemoryStore) insertDispatchesLocked(records []DispatchRecord, transitionID string, transactionID string) error {
	inserted := []DispatchRecord{}
	for _, rec := range records {
		rec.TransitionID = transitionID
		rec.TransactionID = transactionID
		created, fresh, err := s.insertDispatchLocked(rec)
		if err != nil {
			for _, undo := range inserted {
				delete(s.dispatchKeys, DispatchKey(undo.TransitionID, undo.Kind))
				delete(s.dispatches, undo.ID)
			}
			return err
		}
		if fresh {
			inserted = append(inserted, created)
		}
	}
	return nil
}

func (s *MemoryStore) dispatchesLocked(match func(DispatchRecord) bool) []DispatchRecord {
	out := []DispatchRecord{}
	for _, rec := range s.dispatches {
		if match(rec) {
			out = append(out, cloneDispatchRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type memoryTransactionStore struct {
	store *MemoryStore
}

func (m memoryTransactionStore) Create(_ context.Context, in NewTransactionInput) (Transaction, TransitionRecord, error) {
	s := m.store
	if s == nil {
		return Transaction{}, TransitionRecord{}, fmt.Errorf("core: memory store is not configured")
	}
	tx := in.Transaction
	tx.ID = strings.TrimSpace(tx.ID)
	if tx.ID == "" {
		return Transaction{}, TransitionRecord{}, fmt.Errorf("core: transaction id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[tx.ID]; ok {
		return Transaction{}, TransitionRecord{}, fmt.Errorf("%w: transaction %q already exists", ErrConflict, tx.ID)
	}
	now := s.now()
	record := cloneTransitionRecord(in.Initial)
	if strings.TrimSpace(record.ID) == "" {
		record.ID = s.newID()
	}
	record.TransactionID = tx.ID
	record.Sequence = 1
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	tx.CurrentState = record.ToState
	tx.Version = 1
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = record.CreatedAt
	}
	tx.UpdatedAt = record.CreatedAt

	if err := s.insertDispatchesLocked(in.Dispatches, record.ID, tx.ID); err != nil {
		return Transaction{}, TransitionRecord{}, err
	}
	s.transactions[tx.ID] = tx
	s.transitions[record.ID] = record
	s.history[tx.ID] = []string{record.ID}
	return tx, cloneTransitionRecord(record), nil
}

func (m memoryTransactionStore) Get(_ context.Context, id string) (Transaction, error) {
	s := m.store
	if s == nil {
		return Transaction{}, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[strings.TrimSpace(id)]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: transaction %q", ErrNotFound, id)
	}
	return tx, nil
}

func (m memoryTransactionStore) Append(_ context.Context, in AppendTransitionInput) (TransitionRecord, error) {
	s := m.store
	if s == nil {
		return TransitionRecord{}, fmt.Errorf("core: memory store is not configured")
	}
	id := strings.TrimSpace(in.TransactionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return TransitionRecord{}, fmt.Errorf("%w: transaction %q", ErrNotFound, id)
	}
	if tx.CurrentState != in.FromState {
		return TransitionRecord{}, fmt.Errorf(
			"%w: transaction %q is %q, expected %q",
			ErrConflict, id, tx.CurrentState, in.FromState,
		)
	}
	record := cloneTransitionRecord(in.Record)
	if strings.TrimSpace(record.ID) == "" {
		record.ID = s.newID()
	}
	if _, exists := s.transitions[record.ID]; exists {
		return TransitionRecord{}, fmt.Errorf("%w: transition %q already recorded", ErrConflict, record.ID)
	}
	record.TransactionID = id
	record.FromState = in.FromState
	record.ToState = in.ToState
	record.Sequence = tx.Version + 1
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}

	if err := s.insertDispatchesLocked(in.Dispatches, record.ID, id); err != nil {
		return TransitionRecord{}, err
	}

	tx.CurrentState = in.ToState
	if in.PaymentGateway.Stamped() && !tx.PaymentGateway.Stamped() {
		tx.PaymentGateway = in.PaymentGateway
	}
	tx.Version = record.Sequence
	tx.UpdatedAt = record.CreatedAt
	s.transactions[id] = tx
	s.transitions[record.ID] = record
	s.history[id] = append(s.history[id], record.ID)
	return cloneTransitionRecord(record), nil
}

func (m memoryTransactionStore) History(_ context.Context, transactionID string) ([]TransitionRecord, error) {
	s := m.store
	if s == nil {
		return nil, fmt.Errorf("core: memory store is not configured")
	}
	id := strings.TrimSpace(transactionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return nil, fmt.Errorf("%w: transaction %q", ErrNotFound, id)
	}
	ids := s.history[id]
	out := make([]TransitionRecord, 0, len(ids))
	for _, recordID := range ids {
		out = append(out, cloneTransitionRecord(s.transitions[recordID]))
	}
	return out, nil
}

func (m memoryTransactionStore) GetTransition(_ context.Context, transitionID string) (TransitionRecord, error) {
	s := m.store
	if s == nil {
		return TransitionRecord{}, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.transitions[strings.TrimSpace(transitionID)]
	if !ok {
		return TransitionRecord{}, fmt.Errorf("%w: transition %q", ErrNotFound, transitionID)
	}
	return cloneTransitionRecord(record), nil
}

type memoryDispatchStore struct {
	store *MemoryStore
}

func (m memoryDispatchStore) Ensure(_ context.Context, rec DispatchRecord) (DispatchRecord, bool, error) {
	s := m.store
	if s == nil {
		return DispatchRecord{}, false, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertDispatchLocked(rec)
}

func (m memoryDispatchStore) Get(_ context.Context, id string) (DispatchRecord, error) {
	s := m.store
	if s == nil {
		return DispatchRecord{}, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dispatches[strings.TrimSpace(id)]
	if !ok {
		return DispatchRecord{}, fmt.Errorf("%w: dispatch %q", ErrNotFound, id)
	}
	return cloneDispatchRecord(rec), nil
}

func (m memoryDispatchStore) ListByTransition(_ context.Context, transitionID string) ([]DispatchRecord, error) {
	s := m.store
	if s == nil {
		return nil, fmt.Errorf("core: memory store is not configured")
	}
	transitionID = strings.TrimSpace(transitionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchesLocked(func(rec DispatchRecord) bool {
		return rec.TransitionID == transitionID
	}), nil
}

func (m memoryDispatchStore) ListByTransaction(_ context.Context, transactionID string) ([]DispatchRecord, error) {
	s := m.store
	if s == nil {
		return nil, fmt.Errorf("core: memory store is not configured")
	}
	transactionID = strings.TrimSpace(transactionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchesLocked(func(rec DispatchRecord) bool {
		return rec.TransactionID == transactionID
	}), nil
}

func (m memoryDispatchStore) Claim(_ context.Context, id string, now time.Time, leaseUntil time.Time) (DispatchRecord, bool, error) {
	s := m.store
	if s == nil {
		return DispatchRecord{}, false, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dispatches[strings.TrimSpace(id)]
	if !ok {
		return DispatchRecord{}, false, fmt.Errorf("%w: dispatch %q", ErrNotFound, id)
	}
	if !dispatchClaimable(rec, now) {
		return cloneDispatchRecord(rec), false, nil
	}
	lease := leaseUntil.UTC()
	rec.Status = DispatchStatusProcessing
	rec.NextAttemptAt = &lease
	rec.UpdatedAt = now.UTC()
	s.dispatches[rec.ID] = rec
	return cloneDispatchRecord(rec), true, nil
}

func (m memoryDispatchStore) Complete(_ context.Context, id string, at time.Time) error {
	return m.settle(id, func(rec *DispatchRecord) {
		completedAt := at.UTC()
		rec.Status = DispatchStatusCompleted
		rec.CompletedAt = &completedAt
		rec.NextAttemptAt = nil
		rec.LastError = ""
		rec.UpdatedAt = completedAt
	})
}

func (m memoryDispatchStore) Skip(_ context.Context, id string, reason string, at time.Time) error {
	return m.settle(id, func(rec *DispatchRecord) {
		rec.Status = DispatchStatusSkipped
		rec.NextAttemptAt = nil
		rec.LastError = strings.TrimSpace(reason)
		rec.UpdatedAt = at.UTC()
	})
}

func (m memoryDispatchStore) Fail(_ context.Context, id string, failure DispatchFailure, at time.Time) error {
	return m.settle(id, func(rec *DispatchRecord) {
		rec.Attempts++
		if failure.Cause != nil {
			rec.LastError = failure.Cause.Error()
		}
		rec.UpdatedAt = at.UTC()
		if failure.Permanent {
			rec.Status = DispatchStatusFailed
			rec.NextAttemptAt = nil
			return
		}
		next := failure.NextAttemptAt.UTC()
		rec.Status = DispatchStatusPending
		rec.NextAttemptAt = &next
	})
}

// settle applies fn unless the record already settled.
func (m memoryDispatchStore) settle(id string, fn func(rec *DispatchRecord)) error {
	s := m.store
	if s == nil {
		return fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dispatches[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("%w: dispatch %q", ErrNotFound, id)
	}
	if rec.Status.Settled() {
		return nil
	}
	fn(&rec)
	s.dispatches[rec.ID] = rec
	return nil
}

func (m memoryDispatchStore) Cancel(_ context.Context, id string, at time.Time) (bool, error) {
	s := m.store
	if s == nil {
		return false, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dispatches[strings.TrimSpace(id)]
	if !ok {
		return false, fmt.Errorf("%w: dispatch %q", ErrNotFound, id)
	}
	if rec.Status != DispatchStatusPending {
		return false, nil
	}
	rec.Status = DispatchStatusCanceled
	rec.NextAttemptAt = nil
	rec.UpdatedAt = at.UTC()
	s.dispatches[rec.ID] = rec
	return true, nil
}

func (m memoryDispatchStore) ListDue(_ context.Context, now time.Time, limit int) ([]DispatchRecord, error) {
	s := m.store
	if s == nil {
		return nil, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	due := s.dispatchesLocked(func(rec DispatchRecord) bool {
		return dispatchClaimable(rec, now)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func dispatchClaimable(rec DispatchRecord, now time.Time) bool {
	switch rec.Status {
	case DispatchStatusPending:
		return rec.NextAttemptAt == nil || !rec.NextAttemptAt.After(now)
	case DispatchStatusProcessing:
		return rec.NextAttemptAt != nil && !rec.NextAttemptAt.After(now)
	default:
		return false
	}
}

type memoryProcessDefinitionStore struct {
	store *MemoryStore
}

func (m memoryProcessDefinitionStore) Active(_ context.Context, communityID string, listingShapeID string) (ProcessDefinition, error) {
	s := m.store
	if s == nil {
		return ProcessDefinition{}, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, versions := range s.definitions {
		for _, def := range versions {
			if def.Active && def.CommunityID == communityID && def.ListingShapeID == listingShapeID {
				return def.Clone(), nil
			}
		}
	}
	return ProcessDefinition{}, fmt.Errorf("%w: no process for community %q listing shape %q", ErrNotFound, communityID, listingShapeID)
}

func (m memoryProcessDefinitionStore) Version(_ context.Context, processID string, version int) (ProcessDefinition, error) {
	s := m.store
	if s == nil {
		return ProcessDefinition{}, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range s.definitions[strings.TrimSpace(processID)] {
		if def.Version == version {
			return def.Clone(), nil
		}
	}
	return ProcessDefinition{}, fmt.Errorf("%w: process %q version %d", ErrNotFound, processID, version)
}

func (m memoryProcessDefinitionStore) Publish(_ context.Context, def ProcessDefinition) (ProcessDefinition, error) {
	s := m.store
	if s == nil {
		return ProcessDefinition{}, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, versions := range s.definitions {
		for i := range versions {
			if versions[i].Active && versions[i].CommunityID == def.CommunityID && versions[i].ListingShapeID == def.ListingShapeID {
				if strings.TrimSpace(def.ID) == "" {
					def.ID = id
				}
				versions[i].Active = false
			}
		}
	}
	if strings.TrimSpace(def.ID) == "" {
		def.ID = s.newID()
	}
	latest := 0
	for _, existing := range s.definitions[def.ID] {
		if existing.Version > latest {
			latest = existing.Version
		}
	}
	def.Version = latest + 1
	def.Active = true
	def.PublishedAt = s.now()
	s.definitions[def.ID] = append(s.definitions[def.ID], def.Clone())
	return def.Clone(), nil
}

type memoryGatewaySettingsStore struct {
	store *MemoryStore
}

func (m memoryGatewaySettingsStore) Active(_ context.Context, communityID string, kind ProcessKind) (GatewaySettings, bool, error) {
	s := m.store
	if s == nil {
		return GatewaySettings{}, false, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.settings) - 1; i >= 0; i-- {
		row := s.settings[i]
		if row.Active && row.CommunityID == communityID && row.ProcessKind == kind {
			return row, true, nil
		}
	}
	return GatewaySettings{}, false, nil
}

func (m memoryGatewaySettingsStore) Provision(_ context.Context, settings GatewaySettings) (GatewaySettings, error) {
	s := m.store
	if s == nil {
		return GatewaySettings{}, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.Active {
		for i := range s.settings {
			if s.settings[i].CommunityID == settings.CommunityID && s.settings[i].ProcessKind == settings.ProcessKind {
				s.settings[i].Active = false
			}
		}
	}
	if settings.ProvisionedAt.IsZero() {
		settings.ProvisionedAt = s.now()
	}
	s.settings = append(s.settings, settings)
	return settings, nil
}

type memoryFeedbackStore struct {
	store *MemoryStore
}

func (m memoryFeedbackStore) MarkEligible(_ context.Context, in FeedbackEligibility) (FeedbackEligibility, error) {
	s := m.store
	if s == nil {
		return FeedbackEligibility{}, fmt.Errorf("core: memory store is not configured")
	}
	in.TransactionID = strings.TrimSpace(in.TransactionID)
	if in.TransactionID == "" {
		return FeedbackEligibility{}, fmt.Errorf("core: transaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.feedback[in.TransactionID]; ok {
		return existing, nil
	}
	if in.EligibleAt.IsZero() {
		in.EligibleAt = s.now()
	}
	s.feedback[in.TransactionID] = in
	return in, nil
}

func (m memoryFeedbackStore) Get(_ context.Context, transactionID string) (FeedbackEligibility, error) {
	s := m.store
	if s == nil {
		return FeedbackEligibility{}, fmt.Errorf("core: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.feedback[strings.TrimSpace(transactionID)]
	if !ok {
		return FeedbackEligibility{}, fmt.Errorf("%w: feedback eligibility for %q", ErrNotFound, transactionID)
	}
	return row, nil
}

type memoryErasureStore struct {
	store *MemoryStore
}

// WithinErasure holds the store lock for the whole unit and restores the
// touched tables when fn fails.
func (m memoryErasureStore) WithinErasure(ctx context.Context, fn func(ctx context.Context, unit ErasureUnit) error) error {
	s := m.store
	if s == nil {
		return fmt.Errorf("core: memory store is not configured")
	}
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dispatches := make(map[string]DispatchRecord, len(s.dispatches))
	for id, rec := range s.dispatches {
		dispatches[id] = cloneDispatchRecord(rec)
	}
	transitions := make(map[string]TransitionRecord, len(s.transitions))
	for id, rec := range s.transitions {
		transitions[id] = cloneTransitionRecord(rec)
	}
	if err := fn(ctx, memoryErasureUnit{store: s}); err != nil {
		s.dispatches = dispatches
		s.transitions = transitions
		return err
	}
	return nil
}

// memoryErasureUnit runs with the store lock already held.
type memoryErasureUnit struct {
	store *MemoryStore
}

func (u memoryErasureUnit) CancelPendingDispatches(_ context.Context, personID string, at time.Time) (int, error) {
	count := 0
	for id, rec := range u.store.dispatches {
		if rec.RecipientPersonID != personID || rec.Status != DispatchStatusPending {
			continue
		}
		rec.Status = DispatchStatusCanceled
		rec.NextAttemptAt = nil
		rec.UpdatedAt = at.UTC()
		u.store.dispatches[id] = rec
		count++
	}
	return count, nil
}

func (u memoryErasureUnit) ScrubDispatchRecipient(_ context.Context, personID string, replacement string) (int, error) {
	count := 0
	for id, rec := range u.store.dispatches {
		if rec.RecipientPersonID != personID {
			continue
		}
		rec.RecipientPersonID = replacement
		rec.Metadata = ScrubRecipientMetadata(rec.Metadata)
		u.store.dispatches[id] = rec
		count++
	}
	return count, nil
}

func (u memoryErasureUnit) AnonymizeTransitionActor(_ context.Context, personID string, replacement string) (int, error) {
	count := 0
	for id, rec := range u.store.transitions {
		if rec.Actor != personID {
			continue
		}
		rec.Actor = replacement
		u.store.transitions[id] = rec
		count++
	}
	return count, nil
}

var (
	_ StoreProvider = (*MemoryStore)(nil)
	_ ErasureUnit   = memoryErasureUnit{}
)
