package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hospitalcore/pkg/domain"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")
	store := openStore(t, path)
	updated := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	rec := domain.Record{Kind: domain.EntityPatient, ID: "p1", Version: 1, UpdatedAt: updated, Payload: []byte(`{"id":"p1"}`)}
	if err := store.Write(ctx, rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded := openStore(t, path)
	t.Cleanup(func() { _ = reloaded.Close() })
	got, err := reloaded.Read(ctx, domain.EntityPatient, domain.Filter{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" || got[0].Version != 1 || !got[0].UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected records %+v", got)
	}
	if string(got[0].Payload) != `{"id":"p1"}` {
		t.Fatalf("unexpected payload %s", got[0].Payload)
	}
}

func TestSQLiteStoreIgnoresStaleWrites(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "records.db"))
	t.Cleanup(func() { _ = store.Close() })
	newer := domain.Record{Kind: domain.EntityLabOrder, ID: "l1", Version: 3, UpdatedAt: time.Now(), Payload: []byte(`{"status":"completed"}`)}
	stale := domain.Record{Kind: domain.EntityLabOrder, ID: "l1", Version: 2, UpdatedAt: time.Now(), Payload: []byte(`{"status":"in-progress"}`)}
	if err := store.Write(ctx, newer); err != nil {
		t.Fatalf("write newer: %v", err)
	}
	if err := store.Write(ctx, stale); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	got, err := store.Read(ctx, domain.EntityLabOrder, domain.Filter{IDs: []string{"l1"}})
	if err != nil || len(got) != 1 {
		t.Fatalf("read: %v %+v", err, got)
	}
	if got[0].Version != 3 || string(got[0].Payload) != `{"status":"completed"}` {
		t.Fatalf("stale write replaced newer record: %+v", got[0])
	}
}

func TestSQLiteStoreFiltersByID(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "records.db"))
	t.Cleanup(func() { _ = store.Close() })
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Write(ctx, domain.Record{Kind: domain.EntityBill, ID: id, Version: 1, UpdatedAt: time.Now(), Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}
	got, err := store.Read(ctx, domain.EntityBill, domain.Filter{IDs: []string{"c", "a"}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected filtered records %+v", got)
	}
	other, err := store.Read(ctx, domain.EntityPatient, domain.Filter{})
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no patients, got %v %+v", err, other)
	}
}
