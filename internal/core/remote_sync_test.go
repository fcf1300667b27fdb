package core

import (
	"context"
	"errors"
	"testing"
	"time"

	durablememory "hospitalcore/internal/infra/durable/memory"
	"hospitalcore/pkg/domain"
)

func TestCommittedChangesReachDurableStore(t *testing.T) {
	remote := durablememory.New()
	f := newFixture(t, WithDurableStore(remote, time.Second))
	rec, ok := remote.Record(domain.EntityPatient, f.patient.ID)
	if !ok {
		t.Fatalf("patient not persisted")
	}
	if rec.Version != f.patient.Version || rec.Kind != domain.EntityPatient {
		t.Fatalf("unexpected record %+v", rec)
	}

	order, err := f.svc.CreateLabOrder(context.Background(), domain.LabOrder{PatientID: f.patient.ID, DoctorID: f.doctor.ID, TestName: "LFT"})
	if err != nil {
		t.Fatalf("create lab order: %v", err)
	}
	if _, ok := remote.Record(domain.EntityLabOrder, order.ID); !ok {
		t.Fatalf("lab order not persisted")
	}
	if pending := f.svc.PendingSync(); len(pending) != 0 {
		t.Fatalf("nothing should be pending: %+v", pending)
	}
}

func TestRemoteFailureKeepsLocalCommit(t *testing.T) {
	remote := durablememory.New()
	logger := &recordingLogger{}
	f := newFixture(t, WithDurableStore(remote, time.Second), WithLogger(logger))
	ctx := context.Background()

	boom := errors.New("connection reset")
	remote.FailWrites(boom)
	order, err := f.svc.CreateLabOrder(ctx, domain.LabOrder{PatientID: f.patient.ID, DoctorID: f.doctor.ID, TestName: "U&E"})
	rerr := expectError[domain.RemoteError](t, err)
	if !errors.Is(err, boom) || rerr.Timeout() {
		t.Fatalf("unexpected remote error %+v", rerr)
	}
	if order == nil {
		t.Fatalf("local entity should be returned alongside the remote error")
	}
	if _, ok := domain.Get[*domain.LabOrder](f.svc.Store(), order.ID); !ok {
		t.Fatalf("local commit must not be rolled back")
	}
	pending := f.svc.PendingSync()
	if len(pending) != 1 || pending[0].ID != order.ID || pending[0].Version != 1 {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if len(logger.levels("warn")) == 0 {
		t.Fatalf("remote failure should be logged as a warning")
	}

	remote.FailWrites(nil)
	if err := f.svc.FlushPending(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if pending := f.svc.PendingSync(); len(pending) != 0 {
		t.Fatalf("flush should clear pending: %+v", pending)
	}
	if _, ok := remote.Record(domain.EntityLabOrder, order.ID); !ok {
		t.Fatalf("flushed order not persisted")
	}
}

func TestRemoteTimeoutIsReported(t *testing.T) {
	remote := durablememory.New()
	f := newFixture(t, WithDurableStore(remote, 20*time.Millisecond))
	remote.SetLatency(time.Second)

	_, err := f.svc.CreateLabOrder(context.Background(), domain.LabOrder{PatientID: f.patient.ID, DoctorID: f.doctor.ID, TestName: "TSH"})
	rerr := expectError[domain.RemoteError](t, err)
	if !rerr.Timeout() {
		t.Fatalf("expected timeout, got %v", rerr)
	}
}

func TestMultipleRemoteFailuresAggregate(t *testing.T) {
	remote := durablememory.New()
	f := newFixture(t, WithDurableStore(remote, time.Second))
	remote.FailWrites(errors.New("unavailable"))

	// Starting a lab order writes the order and the doctor's notification.
	order, err := f.svc.CreateLabOrder(context.Background(), domain.LabOrder{PatientID: f.patient.ID, DoctorID: f.doctor.ID, TestName: "ESR"})
	if err == nil {
		t.Fatalf("expected remote error")
	}
	_, err = f.svc.UpdateLabOrderStatus(context.Background(), order.ID, domain.LabOrderInProgress, "")
	var errs domain.RemoteErrors
	if !errors.As(err, &errs) || len(errs) != 2 {
		t.Fatalf("expected two remote errors, got %v", err)
	}
	if got := len(f.svc.PendingSync()); got != 2 {
		t.Fatalf("expected order and notification pending, got %d", got)
	}
}

func TestSupersededWriteIsSkipped(t *testing.T) {
	remote := durablememory.New()
	adapter := NewSyncAdapter(remote, time.Second, nil)
	order := &domain.LabOrder{Base: domain.Base{ID: "lab-1", Version: 3}, TestName: "CBC"}
	adapter.Observe([]domain.Change{{Entity: domain.EntityLabOrder, Action: domain.ActionUpdate, After: order}})

	stale := &domain.LabOrder{Base: domain.Base{ID: "lab-1", Version: 2}, TestName: "CBC"}
	if err := adapter.Persist(context.Background(), []domain.Entity{stale}); err != nil {
		t.Fatalf("persist stale: %v", err)
	}
	if remote.Writes() != 0 {
		t.Fatalf("stale version must not be written")
	}
	if err := adapter.Persist(context.Background(), []domain.Entity{stale, order}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	rec, _ := remote.Record(domain.EntityLabOrder, "lab-1")
	if rec.Version != 3 || remote.Writes() != 1 {
		t.Fatalf("expected only version 3 written once, got %+v (%d writes)", rec, remote.Writes())
	}
}

func TestLoadRestoresDurableState(t *testing.T) {
	remote := durablememory.New()
	f := newFixture(t, WithDurableStore(remote, time.Second))
	bill := newBill(t, f, f.patient.ID)

	restored := NewInMemoryService(nil, WithDurableStore(remote, time.Second))
	if err := restored.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := domain.Get[*domain.Bill](restored.Store(), bill.ID)
	if !ok || got.Total != bill.Total || got.Version != bill.Version {
		t.Fatalf("bill not restored: %+v", got)
	}
	if PatientName(restored.Store(), f.patient.ID) != "Amina Hassan" {
		t.Fatalf("patient not restored")
	}

	remote.FailReads(errors.New("read refused"))
	err := restored.Load(context.Background())
	expectError[domain.RemoteError](t, err)
}

func TestPartialCommitFailureStaysLoadable(t *testing.T) {
	remote := durablememory.New()
	f := newFixture(t, WithDurableStore(remote, time.Second))
	ctx := context.Background()
	bill := newBill(t, f, f.patient.ID)

	refused := errors.New("claims table unavailable")
	remote.FailWritesWhen(func(rec domain.Record) error {
		if rec.Kind == domain.EntityInsuranceClaim {
			return refused
		}
		return nil
	})
	claim, err := f.svc.ForwardBill(ctx, bill.ID)
	var errs domain.RemoteErrors
	if !errors.As(err, &errs) || len(errs) != 2 {
		t.Fatalf("expected the claim write and its notification to fail, got %v", err)
	}
	if !errors.Is(err, refused) || !errors.Is(err, ErrReferencePending) {
		t.Fatalf("expected refused claim and held notification, got %v", err)
	}
	notes := f.notifications(func(n *domain.Notification) bool { return n.SourceID == claim.ID })
	if len(notes) != 1 {
		t.Fatalf("expected one officer notification, got %d", len(notes))
	}
	if _, ok := remote.Record(domain.EntityNotification, notes[0].ID); ok {
		t.Fatalf("notification must not reach the durable store before its claim")
	}
	if rec, ok := remote.Record(domain.EntityBill, bill.ID); !ok || rec.Version != bill.Version+1 {
		t.Fatalf("forwarded bill should be persisted, got %+v", rec)
	}
	if got := len(f.svc.PendingSync()); got != 2 {
		t.Fatalf("expected claim and notification pending, got %d", got)
	}

	// A restart before the flush loses the pending set but still loads.
	restarted := NewInMemoryService(nil, WithDurableStore(remote, time.Second))
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("load after partial failure: %v", err)
	}
	if dangling := restarted.DanglingReferences(); len(dangling) != 0 {
		t.Fatalf("expected a consistent durable state, got %+v", dangling)
	}
	if _, ok := domain.Get[*domain.InsuranceClaim](restarted.Store(), claim.ID); ok {
		t.Fatalf("claim was never persisted")
	}

	remote.FailWritesWhen(nil)
	if err := f.svc.FlushPending(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	reloaded := NewInMemoryService(nil, WithDurableStore(remote, time.Second))
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load after flush: %v", err)
	}
	if _, ok := domain.Get[*domain.Notification](reloaded.Store(), notes[0].ID); !ok {
		t.Fatalf("flush should persist the held notification")
	}
	if _, ok := domain.Get[*domain.InsuranceClaim](reloaded.Store(), claim.ID); !ok {
		t.Fatalf("flush should persist the claim")
	}
}

func TestWritesWaitForPendingReferences(t *testing.T) {
	remote := durablememory.New()
	f := newFixture(t, WithDurableStore(remote, time.Second))
	ctx := context.Background()

	remote.FailWrites(errors.New("offline"))
	patient, err := f.svc.RegisterPatient(ctx, domain.Patient{FirstName: "Wanjiku", LastName: "Mwangi"})
	expectError[domain.RemoteError](t, err)
	remote.FailWrites(nil)

	order, err := f.svc.CreateLabOrder(ctx, domain.LabOrder{PatientID: patient.ID, DoctorID: f.doctor.ID, TestName: "CBC"})
	if !errors.Is(err, ErrReferencePending) {
		t.Fatalf("expected order held behind its pending patient, got %v", err)
	}
	if _, ok := remote.Record(domain.EntityLabOrder, order.ID); ok {
		t.Fatalf("order must wait for its patient")
	}
	if err := f.svc.FlushPending(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, ok := remote.Record(domain.EntityPatient, patient.ID); !ok {
		t.Fatalf("patient not flushed")
	}
	if _, ok := remote.Record(domain.EntityLabOrder, order.ID); !ok {
		t.Fatalf("order not flushed")
	}
	if pending := f.svc.PendingSync(); len(pending) != 0 {
		t.Fatalf("flush should clear pending: %+v", pending)
	}
}

func TestLoadToleratesDanglingReferences(t *testing.T) {
	remote := durablememory.New()
	logger := &recordingLogger{}
	f := newFixture(t, WithDurableStore(remote, time.Second))
	ctx := context.Background()

	orphan := &domain.Notification{
		Base:         domain.Base{ID: "note-1", Version: 1, CreatedAt: testNow, UpdatedAt: testNow},
		RecipientIDs: []string{f.officer.ID},
		Type:         domain.NotifyBilling,
		Title:        "New Insurance Claim",
		SourceKind:   domain.EntityInsuranceClaim,
		SourceID:     "claim-lost",
	}
	rec, err := domain.EncodeRecord(orphan)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := remote.Write(ctx, rec); err != nil {
		t.Fatalf("write: %v", err)
	}

	restored := NewInMemoryService(nil, WithDurableStore(remote, time.Second), WithLogger(logger))
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load with dangling reference: %v", err)
	}
	dangling := restored.DanglingReferences()
	if len(dangling) != 1 || dangling[0].ID != "note-1" || dangling[0].Target != domain.EntityInsuranceClaim {
		t.Fatalf("expected the lost claim reported, got %+v", dangling)
	}
	if len(logger.levels("warn")) != 1 {
		t.Fatalf("dangling reference should be logged once as a warning")
	}
	if _, err := restored.MarkNotificationRead(ctx, "note-1", f.officer.ID); err != nil {
		t.Fatalf("notification with a dangling source should stay usable: %v", err)
	}
}
