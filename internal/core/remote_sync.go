package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hospitalcore/pkg/domain"
)

// ErrReferencePending marks a write held back until an entity it references
// reaches the durable store.
var ErrReferencePending = errors.New("referenced entity not yet durable")

// DefaultRemoteTimeout bounds each durable store call when no timeout is set.
const DefaultRemoteTimeout = 5 * time.Second

type syncKey struct {
	kind domain.EntityType
	id   string
}

// PendingSync names an entity whose latest local version is not known to be
// durable.
type PendingSync struct {
	Entity  domain.EntityType
	ID      string
	Version uint64
}

// SyncAdapter writes committed entities to the durable store. Local state is
// never rolled back on failure; failed entities stay pending until a caller
// flushes them. Writes are ordered by local version: a write older than the
// latest committed version is skipped, and durable backends ignore writes that
// are not newer than what they hold.
type SyncAdapter struct {
	durable domain.DurableStore
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	latest  map[syncKey]uint64
	pending map[syncKey]uint64
}

// NewSyncAdapter constructs an adapter over the durable store.
func NewSyncAdapter(durable domain.DurableStore, timeout time.Duration, logger Logger) *SyncAdapter {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &SyncAdapter{
		durable: durable,
		timeout: timeout,
		logger:  logger,
		latest:  make(map[syncKey]uint64),
		pending: make(map[syncKey]uint64),
	}
}

// Observe records the versions of a committed change set. It is registered as
// a store subscriber so the adapter learns about every commit in order.
func (a *SyncAdapter) Observe(changes []domain.Change) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range changes {
		if c.After == nil {
			continue
		}
		meta := c.After.Meta()
		key := syncKey{kind: c.Entity, id: meta.ID}
		if meta.Version > a.latest[key] {
			a.latest[key] = meta.Version
		}
	}
}

// Persist writes each entity to the durable store and returns a RemoteError
// (or RemoteErrors) for the writes that failed. Referenced entities are written
// before the entities pointing at them. An entity is held back, and stays
// pending, while something it references failed in this batch or is still
// pending from an earlier one, so the durable store never holds a reference
// the local store has not confirmed.
func (a *SyncAdapter) Persist(ctx context.Context, entities []domain.Entity) error {
	return a.persistAll(ctx, latestVersions(entities))
}

func (a *SyncAdapter) persistAll(ctx context.Context, entities []domain.Entity) error {
	var errs domain.RemoteErrors
	failed := make(map[syncKey]struct{})
	for _, e := range dependencyOrder(entities) {
		key := keyOf(e)
		if target, blocked := a.blockedBy(e, failed); blocked {
			failed[key] = struct{}{}
			errs = append(errs, a.hold(key, e.Meta().Version, target))
			continue
		}
		if rerr := a.persistOne(ctx, e); rerr != nil {
			failed[key] = struct{}{}
			errs = append(errs, *rerr)
		}
	}
	return remoteErr(errs)
}

// blockedBy returns the first reference of e that failed in this batch or is
// still pending.
func (a *SyncAdapter) blockedBy(e domain.Entity, failed map[syncKey]struct{}) (syncKey, bool) {
	self := keyOf(e)
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ref := range e.References() {
		if ref.ID == "" {
			continue
		}
		target := syncKey{kind: ref.Kind, id: ref.ID}
		if target == self {
			continue
		}
		if _, ok := failed[target]; ok {
			return target, true
		}
		if _, ok := a.pending[target]; ok {
			return target, true
		}
	}
	return syncKey{}, false
}

// hold marks key pending without writing it.
func (a *SyncAdapter) hold(key syncKey, version uint64, target syncKey) domain.RemoteError {
	a.mu.Lock()
	if version >= a.pending[key] {
		a.pending[key] = version
	}
	a.mu.Unlock()
	a.logger.Warn("remote write held back", "entity", key.kind, "id", key.id, "version", version, "waiting_for", string(target.kind)+"/"+target.id)
	return domain.RemoteError{
		Op:     "write",
		Entity: key.kind,
		ID:     key.id,
		Err:    fmt.Errorf("%w: %s %s", ErrReferencePending, target.kind, target.id),
	}
}

func (a *SyncAdapter) persistOne(ctx context.Context, e domain.Entity) *domain.RemoteError {
	meta := e.Meta()
	key := syncKey{kind: e.Kind(), id: meta.ID}
	version := meta.Version

	a.mu.Lock()
	if version < a.latest[key] {
		a.mu.Unlock()
		a.logger.Debug("remote write superseded", "entity", key.kind, "id", key.id, "version", version)
		return nil
	}
	if version > a.latest[key] {
		a.latest[key] = version
	}
	a.mu.Unlock()

	rec, err := domain.EncodeRecord(e)
	if err == nil {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		err = a.durable.Write(callCtx, rec)
		cancel()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if version >= a.pending[key] {
			a.pending[key] = version
		}
		rerr := &domain.RemoteError{Op: "write", Entity: key.kind, ID: key.id, Err: err}
		a.logger.Warn("remote write failed", "entity", key.kind, "id", key.id, "version", version, "timeout", rerr.Timeout(), "error", err)
		return rerr
	}
	if pendingVersion, ok := a.pending[key]; ok && version >= pendingVersion {
		delete(a.pending, key)
	}
	return nil
}

// Pending lists entities whose last write failed, ordered by kind then id.
func (a *SyncAdapter) Pending() []PendingSync {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PendingSync, 0, len(a.pending))
	for key, version := range a.pending {
		out = append(out, PendingSync{Entity: key.kind, ID: key.id, Version: version})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Flush retries every pending entity using its current local state, in
// reference order.
func (a *SyncAdapter) Flush(ctx context.Context, view domain.TransactionView) error {
	var retry []domain.Entity
	for _, p := range a.Pending() {
		e, ok := view.Get(p.Entity, p.ID)
		if !ok {
			a.mu.Lock()
			delete(a.pending, syncKey{kind: p.Entity, id: p.ID})
			a.mu.Unlock()
			continue
		}
		retry = append(retry, e)
	}
	// Clear the batch from pending so members do not block each other; a
	// failed or held write marks itself pending again.
	a.mu.Lock()
	for _, e := range retry {
		delete(a.pending, keyOf(e))
	}
	a.mu.Unlock()
	return a.persistAll(ctx, retry)
}

// Load reads every entity kind from the durable store.
func (a *SyncAdapter) Load(ctx context.Context) (map[domain.EntityType][]domain.Entity, error) {
	out := make(map[domain.EntityType][]domain.Entity)
	for _, kind := range domain.EntityTypes() {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		records, err := a.durable.Read(callCtx, kind, domain.Filter{})
		cancel()
		if err != nil {
			return nil, domain.RemoteError{Op: "read", Entity: kind, Err: err}
		}
		for _, rec := range records {
			e, err := domain.DecodeRecord(rec)
			if err != nil {
				return nil, domain.RemoteError{Op: "read", Entity: kind, ID: rec.ID, Err: err}
			}
			e.Meta().Version = rec.Version
			out[kind] = append(out[kind], e)
		}
	}
	a.mu.Lock()
	for kind, entities := range out {
		for _, e := range entities {
			key := syncKey{kind: kind, id: e.Meta().ID}
			if v := e.Meta().Version; v > a.latest[key] {
				a.latest[key] = v
			}
		}
	}
	a.mu.Unlock()
	return out, nil
}

func keyOf(e domain.Entity) syncKey {
	return syncKey{kind: e.Kind(), id: e.Meta().ID}
}

// dependencyOrder returns entities with every referenced entity of the batch
// placed before its referrers. Reference cycles keep first-seen order.
func dependencyOrder(entities []domain.Entity) []domain.Entity {
	index := make(map[syncKey]int, len(entities))
	for i, e := range entities {
		index[keyOf(e)] = i
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(entities))
	out := make([]domain.Entity, 0, len(entities))
	var visit func(i int)
	visit = func(i int) {
		if state[i] != unvisited {
			return
		}
		state[i] = visiting
		for _, ref := range entities[i].References() {
			if j, ok := index[syncKey{kind: ref.Kind, id: ref.ID}]; ok && j != i {
				visit(j)
			}
		}
		state[i] = done
		out = append(out, entities[i])
	}
	for i := range entities {
		visit(i)
	}
	return out
}

// latestVersions keeps the highest version of each entity, in first-seen order.
func latestVersions(entities []domain.Entity) []domain.Entity {
	index := make(map[syncKey]int, len(entities))
	out := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		key := syncKey{kind: e.Kind(), id: e.Meta().ID}
		if i, ok := index[key]; ok {
			if e.Meta().Version > out[i].Meta().Version {
				out[i] = e
			}
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}

func remoteErr(errs domain.RemoteErrors) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errs
	}
}
