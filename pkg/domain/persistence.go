package domain

import (
	"context"
	"encoding/json"
	"iter"
	"time"
)

// TransactionView provides read-only access to entity state.
type TransactionView interface {
	Get(kind EntityType, id string) (Entity, bool)
	// Find yields matching entities ordered by creation time then id. Each
	// iteration re-reads the state the view is bound to.
	Find(kind EntityType, match func(Entity) bool) iter.Seq[Entity]
}

// Transaction exposes the operations a store supports within an atomic scope.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	// Upsert creates or replaces an entity, assigning identity, timestamps,
	// and version. Dangling references fail with ReferentialIntegrityError.
	Upsert(Entity) (Entity, error)
	Now() time.Time
}

// PersistentStore is the entity store contract consumed by higher layers.
type PersistentStore interface {
	TransactionView
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Upsert(ctx context.Context, e Entity) (Entity, error)
	// Subscribe registers fn to receive each committed change set. The
	// returned function removes the subscription.
	Subscribe(fn func([]Change)) (unsubscribe func())
}

// Record is the durable representation of one entity version.
type Record struct {
	Kind      EntityType      `json:"kind"`
	ID        string          `json:"id"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Filter narrows a durable read. Zero values match everything.
type Filter struct {
	IDs          []string
	UpdatedSince time.Time
}

// Matches reports whether the record satisfies the filter.
func (f Filter) Matches(rec Record) bool {
	if !f.UpdatedSince.IsZero() && rec.UpdatedAt.Before(f.UpdatedSince) {
		return false
	}
	if len(f.IDs) == 0 {
		return true
	}
	for _, id := range f.IDs {
		if id == rec.ID {
			return true
		}
	}
	return false
}

// DurableStore is the request/response client of the remote persistence
// service. Write is conditional: a record whose version is not newer than the
// stored version is ignored, so a slow stale write cannot replace newer state.
type DurableStore interface {
	Read(ctx context.Context, kind EntityType, filter Filter) ([]Record, error)
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Get returns the typed entity with the given id.
func Get[T Entity](view TransactionView, id string) (T, bool) {
	var zero T
	e, ok := view.Get(zero.Kind(), id)
	if !ok {
		return zero, false
	}
	typed, ok := e.(T)
	return typed, ok
}

// Find yields typed entities matching the predicate. A nil predicate matches
// every entity of the kind.
func Find[T Entity](view TransactionView, match func(T) bool) iter.Seq[T] {
	var zero T
	return func(yield func(T) bool) {
		for e := range view.Find(zero.Kind(), nil) {
			typed, ok := e.(T)
			if !ok {
				continue
			}
			if match != nil && !match(typed) {
				continue
			}
			if !yield(typed) {
				return
			}
		}
	}
}
