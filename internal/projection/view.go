package projection

import (
	"context"
	"sync"
	"time"

	"hospitalcore/pkg/domain"
)

// View is the read model shown to one user. Only the sections relevant to the
// user's role are populated.
type View struct {
	Role          domain.Role       `json:"role"`
	UserID        string            `json:"user_id"`
	UserName      string            `json:"user_name"`
	Appointments  []AppointmentRow  `json:"appointments,omitempty"`
	LabOrders     []LabRow          `json:"lab_orders,omitempty"`
	Prescriptions []PrescriptionRow `json:"prescriptions,omitempty"`
	Bills         []BillRow         `json:"bills,omitempty"`
	Claims        []ClaimRow        `json:"claims,omitempty"`
	ClaimSummary  *ClaimSummary     `json:"claim_summary,omitempty"`
	Surgeries     []SurgeryRow      `json:"surgeries,omitempty"`
	Checklists    []ChecklistRow    `json:"checklists,omitempty"`
	Inbox         []InboxItem       `json:"inbox"`
	Unread        int               `json:"unread"`
}

// Project builds the view for userID. The user must exist and hold role.
func Project(view domain.TransactionView, role domain.Role, userID string, now time.Time) (View, error) {
	user, ok := domain.Get[*domain.User](view, userID)
	if !ok {
		return View{}, domain.NotFoundError{Entity: domain.EntityUser, ID: userID}
	}
	if user.Role != role {
		return View{}, domain.ValidationError{Entity: domain.EntityUser, ID: userID, Field: "role", Message: "is " + string(user.Role) + ", not " + string(role)}
	}
	out := View{Role: role, UserID: user.ID, UserName: user.Name}
	switch role {
	case domain.RoleDoctor:
		out.Appointments = DoctorToday(view, user.ID, now)
		out.LabOrders = DoctorLabResults(view, user.ID)
	case domain.RoleReceptionist, domain.RoleNurse:
		out.Appointments = DoctorToday(view, "", now)
	case domain.RoleLab:
		out.LabOrders = LabQueue(view)
	case domain.RolePharmacy:
		out.Prescriptions = PharmacyQueue(view)
	case domain.RoleCashier:
		out.Bills = OutstandingBills(view)
		out.Claims = ClaimsMatching(view, "", "")
	case domain.RoleInsuranceOfficer:
		out.Claims = ClaimsMatching(view, "", "")
	case domain.RoleOTCoordinator:
		out.Surgeries = SurgeryQueue(view)
		out.Checklists = OTChecklists(view, "")
	}
	if out.Claims != nil {
		summary := SummarizeClaims(out.Claims)
		out.ClaimSummary = &summary
	}
	out.Inbox = Inbox(view, user)
	out.Unread = UnreadCount(out.Inbox)
	return out, nil
}

// Source is a store whose commits can be observed.
type Source interface {
	View(ctx context.Context, fn func(domain.TransactionView) error) error
	Subscribe(fn func([]domain.Change)) (unsubscribe func())
}

// Live keeps a read model current by recomputing it after every commit.
type Live[T any] struct {
	source  Source
	compute func(domain.TransactionView) (T, error)

	mu       sync.RWMutex
	value    T
	err      error
	revision uint64
	onChange []func(T)

	unsubscribe func()
}

// NewLive computes the model once and then after each commit to source.
func NewLive[T any](source Source, compute func(domain.TransactionView) (T, error)) *Live[T] {
	l := &Live[T]{source: source, compute: compute}
	l.refresh()
	l.unsubscribe = source.Subscribe(func([]domain.Change) { l.refresh() })
	return l
}

// LiveView keeps the view of one user current.
func LiveView(source Source, role domain.Role, userID string, clock func() time.Time) *Live[View] {
	return NewLive(source, func(view domain.TransactionView) (View, error) {
		return Project(view, role, userID, clock())
	})
}

func (l *Live[T]) refresh() {
	var value T
	err := l.source.View(context.Background(), func(view domain.TransactionView) error {
		var err error
		value, err = l.compute(view)
		return err
	})
	l.mu.Lock()
	l.value, l.err = value, err
	l.revision++
	listeners := append(([]func(T))(nil), l.onChange...)
	l.mu.Unlock()
	if err != nil {
		return
	}
	for _, fn := range listeners {
		fn(value)
	}
}

// Current returns the latest model and the error of its computation.
func (l *Live[T]) Current() (T, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.err
}

// Revision counts how many times the model has been computed.
func (l *Live[T]) Revision() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revision
}

// OnChange registers fn to receive every successfully recomputed model.
func (l *Live[T]) OnChange(fn func(T)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, fn)
	l.mu.Unlock()
}

// Close stops following the source.
func (l *Live[T]) Close() {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
}
