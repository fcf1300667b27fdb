// Package memory provides the in-memory transactional entity store that holds
// the canonical hospital state for a session.
package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"hospitalcore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Entity aliases domain.Entity.
	Entity = domain.Entity
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// memoryState maps kind to id to entity. Stored entities are never mutated in
// place, so cloning the state only copies the maps.
type memoryState map[domain.EntityType]map[string]Entity

func newMemoryState() memoryState {
	state := make(memoryState, len(domain.EntityTypes()))
	for _, kind := range domain.EntityTypes() {
		state[kind] = make(map[string]Entity)
	}
	return state
}

func (s memoryState) clone() memoryState {
	out := make(memoryState, len(s))
	for kind, bucket := range s {
		cp := make(map[string]Entity, len(bucket))
		for id, e := range bucket {
			cp[id] = e
		}
		out[kind] = cp
	}
	return out
}

func (s memoryState) get(kind domain.EntityType, id string) (Entity, bool) {
	e, ok := s[kind][id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// sorted returns the matching entities of a kind ordered by creation time then id.
func (s memoryState) sorted(kind domain.EntityType, match func(Entity) bool) []Entity {
	bucket := s[kind]
	out := make([]Entity, 0, len(bucket))
	for _, e := range bucket {
		if match != nil && !match(e) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Meta(), out[j].Meta()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Snapshot is a detached copy of the store state.
type Snapshot map[domain.EntityType][]Entity

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time

	subMu       sync.Mutex
	subscribers map[uint64]func([]Change)
	nextSub     uint64
	// deliverMu keeps subscriber delivery in commit order.
	deliverMu sync.Mutex
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:       newMemoryState(),
		engine:      engine,
		nowFn:       func() time.Time { return time.Now().UTC() },
		subscribers: make(map[uint64]func([]Change)),
	}
}

// SetNowFunc overrides the clock used to stamp entities.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

func newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.state))
	for kind := range s.state {
		for _, e := range s.state.sorted(kind, nil) {
			out[kind] = append(out[kind], e.Clone())
		}
	}
	return out
}

// ImportState replaces the store state with the provided snapshot. Entities
// keep their identity, timestamps, and versions; rules and subscribers are
// not invoked. References to entities missing from the snapshot do not fail
// the import: they are returned so the caller can report them.
func (s *Store) ImportState(snapshot Snapshot) ([]domain.ReferentialIntegrityError, error) {
	state := newMemoryState()
	for kind, entities := range snapshot {
		if _, ok := state[kind]; !ok {
			return nil, fmt.Errorf("import: unknown entity type %q", kind)
		}
		for _, e := range entities {
			if e.Kind() != kind {
				return nil, fmt.Errorf("import: %s entity filed under %s", e.Kind(), kind)
			}
			if e.Meta().ID == "" {
				return nil, fmt.Errorf("import: %s entity without id", kind)
			}
			state[kind][e.Meta().ID] = e.Clone()
		}
	}
	var dangling []domain.ReferentialIntegrityError
	for _, kind := range domain.EntityTypes() {
		for _, e := range state.sorted(kind, nil) {
			for _, ref := range e.References() {
				if err := resolveReference(state, e, ref); err != nil {
					var missing domain.ReferentialIntegrityError
					if !errors.As(err, &missing) {
						return nil, fmt.Errorf("import %s %s: %w", kind, e.Meta().ID, err)
					}
					dangling = append(dangling, missing)
				}
			}
		}
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return dangling, nil
}

// Subscribe registers fn to receive each committed change set. Delivery runs
// after the commit is visible and before RunInTransaction returns. fn must not
// write to the store.
func (s *Store) Subscribe(fn func([]Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) subscriberList() []func([]Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ids := make([]uint64, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func([]Change), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subscribers[id])
	}
	return out
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only view of a state to rules.
type transactionView struct {
	state memoryState
}

func (v transactionView) Get(kind domain.EntityType, id string) (Entity, bool) {
	return v.state.get(kind, id)
}

func (v transactionView) Find(kind domain.EntityType, match func(Entity) bool) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for _, e := range v.state.sorted(kind, match) {
			if !yield(e.Clone()) {
				return
			}
		}
	}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Nothing is applied when fn fails or a rule blocks the commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, transactionView{state: tx.state}, tx.changes)
		if err != nil {
			s.mu.Unlock()
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			s.mu.Unlock()
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	s.deliverMu.Lock()
	s.mu.Unlock()
	defer s.deliverMu.Unlock()

	if len(tx.changes) > 0 {
		for _, fn := range s.subscriberList() {
			fn(cloneChanges(tx.changes))
		}
	}
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: snapshot})
}

// Upsert stores a single entity in its own transaction.
func (s *Store) Upsert(ctx context.Context, e Entity) (Entity, error) {
	var stored Entity
	_, err := s.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		stored, err = tx.Upsert(e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Get returns a copy of the entity with the given id.
func (s *Store) Get(kind domain.EntityType, id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.get(kind, id)
}

// Find yields matching entities ordered by creation time then id. Every
// iteration reads the current state, so a sequence can be ranged repeatedly
// and reflects commits made between passes.
func (s *Store) Find(kind domain.EntityType, match func(Entity) bool) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		s.mu.RLock()
		matched := s.state.sorted(kind, match)
		s.mu.RUnlock()
		for _, e := range matched {
			if !yield(e.Clone()) {
				return
			}
		}
	}
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return transactionView{state: tx.state}
}

// Now returns the timestamp applied to entities written by the transaction.
func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) Get(kind domain.EntityType, id string) (Entity, bool) {
	return tx.state.get(kind, id)
}

func (tx *transaction) Find(kind domain.EntityType, match func(Entity) bool) iter.Seq[Entity] {
	return transactionView{state: tx.state}.Find(kind, match)
}

// Upsert creates or replaces an entity within the transaction. The id and
// creation timestamp of an existing entity never change.
func (tx *transaction) Upsert(e Entity) (Entity, error) {
	if e == nil {
		return nil, fmt.Errorf("upsert: nil entity")
	}
	kind := e.Kind()
	bucket, ok := tx.state[kind]
	if !ok {
		return nil, fmt.Errorf("upsert: unknown entity type %q", kind)
	}
	next := e.Clone()
	meta := next.Meta()
	if meta.ID == "" {
		meta.ID = newID()
	}

	action := domain.ActionCreate
	var before Entity
	if current, exists := bucket[meta.ID]; exists {
		action = domain.ActionUpdate
		before = current.Clone()
		prev := current.Meta()
		meta.CreatedAt = prev.CreatedAt
		meta.Version = prev.Version + 1
	} else {
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = tx.now
		}
		meta.Version = 1
	}
	meta.UpdatedAt = tx.now

	if err := checkReferences(tx.state, next, before); err != nil {
		return nil, err
	}

	bucket[meta.ID] = next
	tx.changes = append(tx.changes, Change{Entity: kind, Action: action, Before: before, After: next.Clone()})
	return next.Clone(), nil
}

// checkReferences verifies every reference of e that before did not already
// hold, so an entity imported with a dangling reference can still be updated.
func checkReferences(state memoryState, e, before Entity) error {
	held := make(map[domain.Reference]struct{})
	if before != nil {
		for _, ref := range before.References() {
			held[ref] = struct{}{}
		}
	}
	for _, ref := range e.References() {
		if _, ok := held[ref]; ok && ref.ID != "" {
			continue
		}
		if err := resolveReference(state, e, ref); err != nil {
			return err
		}
	}
	return nil
}

func resolveReference(state memoryState, e Entity, ref domain.Reference) error {
	meta := e.Meta()
	if ref.ID == "" {
		if ref.Required {
			return domain.ValidationError{Entity: e.Kind(), ID: meta.ID, Field: ref.Field, Message: "is required"}
		}
		return nil
	}
	if ref.Kind == e.Kind() && ref.ID == meta.ID {
		return nil
	}
	if _, ok := state[ref.Kind][ref.ID]; !ok {
		return domain.ReferentialIntegrityError{
			Entity:   e.Kind(),
			ID:       meta.ID,
			Field:    ref.Field,
			Target:   ref.Kind,
			TargetID: ref.ID,
		}
	}
	return nil
}

func cloneChanges(changes []Change) []Change {
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{Entity: c.Entity, Action: c.Action}
		if c.Before != nil {
			out[i].Before = c.Before.Clone()
		}
		if c.After != nil {
			out[i].After = c.After.Clone()
		}
	}
	return out
}
