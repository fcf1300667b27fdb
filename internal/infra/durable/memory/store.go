// Package memory provides an in-process durable store used by tests, demos,
// and the seed command. Failures and latency can be injected to exercise the
// remote sync path.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"hospitalcore/pkg/domain"
)

var _ domain.DurableStore = (*Store)(nil)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("durable store closed")

type key struct {
	kind domain.EntityType
	id   string
}

// Store keeps the newest version of every record.
type Store struct {
	mu      sync.Mutex
	records map[key]domain.Record
	closed  bool

	failWrite error
	writeHook func(domain.Record) error
	failRead  error
	latency   time.Duration
	writes    int
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[key]domain.Record)}
}

// FailWrites makes subsequent writes fail with err; nil clears the fault.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.failWrite = err
	s.mu.Unlock()
}

// FailWritesWhen fails each write for which fn returns an error; nil clears
// the fault. It is checked after FailWrites.
func (s *Store) FailWritesWhen(fn func(domain.Record) error) {
	s.mu.Lock()
	s.writeHook = fn
	s.mu.Unlock()
}

// FailReads makes subsequent reads fail with err; nil clears the fault.
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	s.failRead = err
	s.mu.Unlock()
}

// SetLatency delays every call by d, honouring context cancellation.
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// Writes returns the number of writes applied.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Record returns the stored record for kind and id.
func (s *Store) Record(kind domain.EntityType, id string) (domain.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key{kind: kind, id: id}]
	return rec, ok
}

func (s *Store) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Read returns the records of a kind matching filter, ordered by id.
func (s *Store) Read(ctx context.Context, kind domain.EntityType, filter domain.Filter) ([]domain.Record, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.failRead != nil {
		return nil, s.failRead
	}
	var out []domain.Record
	for k, rec := range s.records {
		if k.kind != kind || !filter.Matches(rec) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Write stores rec unless a record with the same or a newer version exists.
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.failWrite != nil {
		return s.failWrite
	}
	if s.writeHook != nil {
		if err := s.writeHook(rec); err != nil {
			return err
		}
	}
	k := key{kind: rec.Kind, id: rec.ID}
	if current, ok := s.records[k]; ok && current.Version >= rec.Version {
		return nil
	}
	s.records[k] = cloneRecord(rec)
	s.writes++
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cloneRecord(rec domain.Record) domain.Record {
	rec.Payload = append([]byte(nil), rec.Payload...)
	return rec
}
