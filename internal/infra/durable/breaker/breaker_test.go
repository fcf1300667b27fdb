package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"hospitalcore/internal/infra/durable/memory"
	"hospitalcore/pkg/domain"
)

type countingStore struct {
	*memory.Store
	calls int
}

func (c *countingStore) Write(ctx context.Context, rec domain.Record) error {
	c.calls++
	return c.Store.Write(ctx, rec)
}

func rec(version uint64) domain.Record {
	return domain.Record{Kind: domain.EntityBill, ID: "b1", Version: version, Payload: []byte(`{}`)}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{Store: memory.New()}
	backend.FailWrites(errors.New("unavailable"))
	var transitions []string
	store := New(backend, Settings{MaxFailures: 2, OpenTimeout: time.Hour, OnStateChange: func(from, to string) {
		transitions = append(transitions, from+"->"+to)
	}})

	for i := 0; i < 2; i++ {
		if err := store.Write(ctx, rec(uint64(i+1))); err == nil || errors.Is(err, ErrOpen) {
			t.Fatalf("write %d: expected backend error, got %v", i, err)
		}
	}
	if store.State() != "open" {
		t.Fatalf("expected open breaker, got %s", store.State())
	}
	if err := store.Write(ctx, rec(3)); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("open breaker must not reach the backend, calls=%d", backend.calls)
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{Store: memory.New()}
	backend.FailWrites(errors.New("unavailable"))
	store := New(backend, Settings{MaxFailures: 1, OpenTimeout: 20 * time.Millisecond})

	if err := store.Write(ctx, rec(1)); err == nil {
		t.Fatalf("expected failure")
	}
	backend.FailWrites(nil)
	time.Sleep(40 * time.Millisecond)
	if err := store.Write(ctx, rec(2)); err != nil {
		t.Fatalf("half-open probe should succeed: %v", err)
	}
	if store.State() != "closed" {
		t.Fatalf("expected closed breaker, got %s", store.State())
	}
	got, err := store.Read(ctx, domain.EntityBill, domain.Filter{})
	if err != nil || len(got) != 1 || got[0].Version != 2 {
		t.Fatalf("read through breaker: %v %+v", err, got)
	}
}

func TestCancelledCallsDoNotTrip(t *testing.T) {
	backend := memory.New()
	backend.SetLatency(time.Second)
	store := New(backend, Settings{MaxFailures: 1, OpenTimeout: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Write(ctx, rec(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if store.State() != "closed" {
		t.Fatalf("cancellation tripped the breaker")
	}
}
