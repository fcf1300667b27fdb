package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hospitalcore/pkg/domain"
)

var testNow = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

// stepClock returns testNow plus one second per call.
type stepClock struct {
	mu    sync.Mutex
	ticks int
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return testNow.Add(time.Duration(c.ticks) * time.Second)
}

type fixture struct {
	svc       *Service
	doctor    *domain.User
	lab       *domain.User
	cashier   *domain.User
	officer   *domain.User
	ot        *domain.User
	patient   *domain.Patient
	uninsured *domain.Patient
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	opts = append([]Option{WithClock(&stepClock{})}, opts...)
	svc := NewInMemoryService(nil, opts...)
	ctx := context.Background()
	f := &fixture{svc: svc}
	user := func(name string, role domain.Role) *domain.User {
		u, err := svc.CreateUser(ctx, domain.User{Name: name, Email: name + "@hospital.test", Role: role})
		if err != nil {
			t.Fatalf("create %s: %v", role, err)
		}
		return u
	}
	f.doctor = user("dr.otieno", domain.RoleDoctor)
	f.lab = user("lab.wanjiru", domain.RoleLab)
	f.cashier = user("cashier.kamau", domain.RoleCashier)
	f.officer = user("claims.achieng", domain.RoleInsuranceOfficer)
	f.ot = user("ot.mutua", domain.RoleOTCoordinator)

	var err error
	f.patient, err = svc.RegisterPatient(ctx, domain.Patient{
		FirstName: "Amina",
		LastName:  "Hassan",
		Insurance: &domain.InsuranceInfo{Provider: "NHIF", MembershipNumber: "NH-4411"},
	})
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}
	f.uninsured, err = svc.RegisterPatient(ctx, domain.Patient{FirstName: "Brian", LastName: "Odhiambo"})
	if err != nil {
		t.Fatalf("register uninsured patient: %v", err)
	}
	return f
}

func (f *fixture) notifications(match func(*domain.Notification) bool) []*domain.Notification {
	var out []*domain.Notification
	for n := range domain.Find(f.svc.Store(), match) {
		out = append(out, n)
	}
	return out
}

func (f *fixture) count(kind domain.EntityType) int {
	n := 0
	for range f.svc.Store().Find(kind, nil) {
		n++
	}
	return n
}

func expectError[E error](t *testing.T, err error) E {
	t.Helper()
	var target E
	if !errors.As(err, &target) {
		t.Fatalf("expected %T, got %v", target, err)
	}
	return target
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) levels(level string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}
