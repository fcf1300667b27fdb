package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"hospitalcore/pkg/domain"
)

func record(id string, version uint64, payload string) domain.Record {
	return domain.Record{Kind: domain.EntityLabOrder, ID: id, Version: version, Payload: []byte(payload)}
}

func TestWriteKeepsNewestVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Write(ctx, record("a", 2, `{"v":2}`)); err != nil {
		t.Fatalf("write v2: %v", err)
	}
	if err := s.Write(ctx, record("a", 1, `{"v":1}`)); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if err := s.Write(ctx, record("a", 2, `{"v":"again"}`)); err != nil {
		t.Fatalf("rewrite v2: %v", err)
	}
	rec, ok := s.Record(domain.EntityLabOrder, "a")
	if !ok || rec.Version != 2 || string(rec.Payload) != `{"v":2}` {
		t.Fatalf("unexpected record %+v", rec)
	}
	if s.Writes() != 1 {
		t.Fatalf("expected 1 applied write, got %d", s.Writes())
	}
}

func TestReadFiltersByKindAndID(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Write(ctx, record("b", 1, `{}`))
	_ = s.Write(ctx, record("a", 1, `{}`))
	_ = s.Write(ctx, domain.Record{Kind: domain.EntityBill, ID: "c", Version: 1, Payload: []byte(`{}`)})

	all, err := s.Read(ctx, domain.EntityLabOrder, domain.Filter{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("unexpected records %+v", all)
	}
	one, err := s.Read(ctx, domain.EntityLabOrder, domain.Filter{IDs: []string{"b"}})
	if err != nil || len(one) != 1 || one[0].ID != "b" {
		t.Fatalf("filtered read: %v %+v", err, one)
	}
}

func TestInjectedFaults(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.FailWrites(boom)
	if err := s.Write(ctx, record("a", 1, `{}`)); !errors.Is(err, boom) {
		t.Fatalf("expected injected write error, got %v", err)
	}
	s.FailWrites(nil)
	s.FailReads(boom)
	if _, err := s.Read(ctx, domain.EntityLabOrder, domain.Filter{}); !errors.Is(err, boom) {
		t.Fatalf("expected injected read error, got %v", err)
	}
}

func TestWriteFaultMatchesRecords(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	s.FailWritesWhen(func(rec domain.Record) error {
		if rec.ID == "b" {
			return boom
		}
		return nil
	})
	if err := s.Write(ctx, record("a", 1, `{}`)); err != nil {
		t.Fatalf("unmatched write: %v", err)
	}
	if err := s.Write(ctx, record("b", 1, `{}`)); !errors.Is(err, boom) {
		t.Fatalf("expected matched write to fail, got %v", err)
	}
	if _, ok := s.Record(domain.EntityLabOrder, "b"); ok || s.Writes() != 1 {
		t.Fatalf("failed write must not apply")
	}
	s.FailWritesWhen(nil)
	if err := s.Write(ctx, record("b", 1, `{}`)); err != nil {
		t.Fatalf("cleared fault: %v", err)
	}
}

func TestLatencyHonoursDeadline(t *testing.T) {
	s := New()
	s.SetLatency(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Write(ctx, record("a", 1, `{}`)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if s.Writes() != 0 {
		t.Fatalf("timed out write must not apply")
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s := New()
	_ = s.Close()
	if err := s.Write(context.Background(), record("a", 1, `{}`)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
