// Package breaker guards a durable store with a circuit breaker. While the
// breaker is open calls fail fast with gobreaker.ErrOpenState instead of
// waiting out the remote timeout; nothing is retried.
package breaker

import (
	"context"
	"errors"
	"time"

	"hospitalcore/pkg/domain"

	"github.com/sony/gobreaker/v2"
)

var _ domain.DurableStore = (*Store)(nil)

// Defaults applied when Settings leaves a field zero.
const (
	DefaultMaxFailures = 5
	DefaultOpenTimeout = 30 * time.Second
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

// Settings configures the breaker.
type Settings struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout   time.Duration
	OnStateChange func(from, to string)
}

// Store decorates a durable store with a circuit breaker shared by reads and
// writes.
type Store struct {
	next domain.DurableStore
	cb   *gobreaker.CircuitBreaker[[]domain.Record]
}

// New wraps next.
func New(next domain.DurableStore, st Settings) *Store {
	if st.Name == "" {
		st.Name = "durable-store"
	}
	if st.MaxFailures == 0 {
		st.MaxFailures = DefaultMaxFailures
	}
	if st.OpenTimeout <= 0 {
		st.OpenTimeout = DefaultOpenTimeout
	}
	maxFailures := st.MaxFailures
	settings := gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: 1,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Caller cancellation says nothing about the remote side.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if st.OnStateChange != nil {
		notify := st.OnStateChange
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			notify(from.String(), to.String())
		}
	}
	return &Store{next: next, cb: gobreaker.NewCircuitBreaker[[]domain.Record](settings)}
}

// State reports the breaker state: closed, half-open, or open.
func (s *Store) State() string { return s.cb.State().String() }

// Read implements domain.DurableStore.
func (s *Store) Read(ctx context.Context, kind domain.EntityType, filter domain.Filter) ([]domain.Record, error) {
	return s.cb.Execute(func() ([]domain.Record, error) {
		return s.next.Read(ctx, kind, filter)
	})
}

// Write implements domain.DurableStore.
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	_, err := s.cb.Execute(func() ([]domain.Record, error) {
		return nil, s.next.Write(ctx, rec)
	})
	return err
}

// Close closes the wrapped store.
func (s *Store) Close() error { return s.next.Close() }
