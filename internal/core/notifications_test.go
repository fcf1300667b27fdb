package core

import (
	"context"
	"testing"

	"hospitalcore/pkg/domain"
)

func TestAddNotificationIsNotIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.svc.AddNotification(ctx, []string{f.doctor.ID, f.doctor.ID}, domain.NotifyQueue, "Patient waiting", "Room 3"); err != nil {
			t.Fatalf("add notification: %v", err)
		}
	}
	got := f.notifications(func(n *domain.Notification) bool { return n.Title == "Patient waiting" })
	if len(got) != 2 {
		t.Fatalf("expected two notifications, got %d", len(got))
	}
	if len(got[0].RecipientIDs) != 1 || got[0].ReadByUser(f.doctor.ID) {
		t.Fatalf("recipients should be deduplicated and unread: %+v", got[0])
	}

	_, err := f.svc.AddNotification(ctx, nil, domain.NotifyQueue, "Nobody", "")
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "recipient_ids" {
		t.Fatalf("expected recipients error, got %+v", verr)
	}
	_, err = f.svc.AddNotification(ctx, []string{"ghost"}, domain.NotifyQueue, "Ghost", "")
	expectError[domain.ReferentialIntegrityError](t, err)
}

func TestMarkNotificationRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n, err := f.svc.AddNotification(ctx, []string{f.doctor.ID}, "", "Ward round", "")
	if err != nil {
		t.Fatalf("add notification: %v", err)
	}
	if n.Type != domain.NotifyGeneral {
		t.Fatalf("empty kind should default to general, got %s", n.Type)
	}

	_, err = f.svc.MarkNotificationRead(ctx, n.ID, f.cashier.ID)
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "read_by" {
		t.Fatalf("expected read_by error, got %+v", verr)
	}

	read, err := f.svc.MarkNotificationRead(ctx, n.ID, f.doctor.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !read.ReadByUser(f.doctor.ID) {
		t.Fatalf("notification not marked read")
	}
	again, err := f.svc.MarkNotificationRead(ctx, n.ID, f.doctor.ID)
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if again.Version != read.Version || !again.ReadBy[f.doctor.ID].Equal(read.ReadBy[f.doctor.ID]) {
		t.Fatalf("second read should be a no-op: %+v vs %+v", again, read)
	}
}

func TestRoleNotificationsReachNewStaffOnlyByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill := newBill(t, f, f.patient.ID)
	claim, err := f.svc.ForwardBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	late, err := f.svc.CreateUser(ctx, domain.User{Name: "claims.late", Role: domain.RoleInsuranceOfficer})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	n := f.notifications(func(n *domain.Notification) bool { return n.SourceID == claim.ID })[0]
	if !n.AddressedTo(late) {
		t.Fatalf("role-addressed notification should reach later officers")
	}
	if _, err := f.svc.MarkNotificationRead(ctx, n.ID, late.ID); err != nil {
		t.Fatalf("late officer should be able to read: %v", err)
	}
}
