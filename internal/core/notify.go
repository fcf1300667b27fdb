package core

import (
	"fmt"
	"strings"

	"hospitalcore/pkg/domain"
)

// UnknownPatient is shown in messages when a referenced patient is missing.
const UnknownPatient = "Unknown Patient"

// notificationRule maps one workflow event to its recipients and message.
type notificationRule struct {
	entity domain.EntityType
	// onCreate matches creation; otherwise the rule matches status changes
	// into one of the statuses in to (any status when to is empty).
	onCreate bool
	// reachedOnCreate also matches creations whose initial status is in to.
	reachedOnCreate bool
	to              map[string]struct{}
	kind            domain.NotificationKind
	roles           []domain.Role
	recipients      func(e domain.Entity) []string
	title           func(e domain.Entity) string
	message         func(view domain.TransactionView, e domain.Entity) string
}

func (r notificationRule) matches(change domain.Change) bool {
	if change.Entity != r.entity {
		return false
	}
	if r.onCreate {
		return change.Action == domain.ActionCreate
	}
	after, ok := change.After.(domain.Stateful)
	if !ok {
		return false
	}
	before, ok := change.Before.(domain.Stateful)
	if !ok {
		if !r.reachedOnCreate || change.Action != domain.ActionCreate {
			return false
		}
		_, ok = r.to[after.CurrentStatus()]
		return ok
	}
	if before.CurrentStatus() == after.CurrentStatus() {
		return false
	}
	if len(r.to) == 0 {
		return true
	}
	_, ok = r.to[after.CurrentStatus()]
	return ok
}

// Dispatcher creates notifications as a side effect of workflow changes. It
// writes inside the transaction that made the change, so a notification is
// visible exactly when its triggering transition is.
type Dispatcher struct {
	rules []notificationRule
}

// NewDispatcher returns a dispatcher with the hospital notification table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{rules: defaultNotificationRules()}
}

// Notify creates one unread notification. Calling it twice with the same
// arguments creates two notifications.
func (d *Dispatcher) Notify(tx domain.Transaction, n domain.Notification) (*domain.Notification, error) {
	n.ID = ""
	n.ReadBy = nil
	recipients := append([]string(nil), n.RecipientIDs...)
	n.RecipientIDs = dedupe(append(recipients, usersWithRoles(tx, n.Roles)...))
	if strings.TrimSpace(n.Title) == "" {
		return nil, domain.ValidationError{Entity: domain.EntityNotification, Field: "title", Message: "is required"}
	}
	if len(n.RecipientIDs) == 0 && len(n.Roles) == 0 && n.Department == "" {
		return nil, domain.ValidationError{Entity: domain.EntityNotification, Field: "recipient_ids", Message: "must name at least one recipient"}
	}
	if n.Type == "" {
		n.Type = domain.NotifyGeneral
	}
	stored, err := tx.Upsert(&n)
	if err != nil {
		return nil, err
	}
	return stored.(*domain.Notification), nil
}

// Dispatch applies the notification table to the changes made so far in tx
// and returns the notifications it created.
func (d *Dispatcher) Dispatch(tx domain.Transaction, changes []domain.Change) ([]*domain.Notification, error) {
	var out []*domain.Notification
	for _, change := range changes {
		for _, rule := range d.rules {
			if !rule.matches(change) {
				continue
			}
			var recipients []string
			if rule.recipients != nil {
				recipients = rule.recipients(change.After)
			}
			n, err := d.Notify(tx, domain.Notification{
				RecipientIDs: recipients,
				Roles:        rule.roles,
				Type:         rule.kind,
				Title:        rule.title(change.After),
				Message:      rule.message(tx, change.After),
				SourceKind:   change.Entity,
				SourceID:     change.After.Meta().ID,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func defaultNotificationRules() []notificationRule {
	return []notificationRule{
		{
			entity:     domain.EntityLabOrder,
			to:         toSet(string(domain.LabOrderCompleted)),
			kind:       domain.NotifyLabOrder,
			recipients: func(e domain.Entity) []string { return []string{e.(*domain.LabOrder).DoctorID} },
			title:      constTitle("Lab Results Ready"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				o := e.(*domain.LabOrder)
				return fmt.Sprintf("%s results for %s are now available", o.TestName, PatientName(view, o.PatientID))
			},
		},
		{
			entity:     domain.EntityLabOrder,
			to:         toSet(string(domain.LabOrderInProgress), string(domain.LabOrderCancelled)),
			kind:       domain.NotifyLabOrder,
			recipients: func(e domain.Entity) []string { return []string{e.(*domain.LabOrder).DoctorID} },
			title:      constTitle("Lab Order Updated"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				o := e.(*domain.LabOrder)
				return fmt.Sprintf("%s for %s is now %s", o.TestName, PatientName(view, o.PatientID), o.Status)
			},
		},
		{
			entity:   domain.EntityInsuranceClaim,
			onCreate: true,
			kind:     domain.NotifyBilling,
			roles:    []domain.Role{domain.RoleInsuranceOfficer},
			title:    constTitle("New Insurance Claim"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				c := e.(*domain.InsuranceClaim)
				return fmt.Sprintf("Claim %s for %s (%d) is ready for processing", c.ClaimNumber, PatientName(view, c.PatientID), c.ClaimAmount)
			},
		},
		{
			entity: domain.EntityInsuranceClaim,
			kind:   domain.NotifyBilling,
			roles:  []domain.Role{domain.RoleCashier},
			title: func(e domain.Entity) string {
				return "Insurance Claim " + titleCase(string(e.(*domain.InsuranceClaim).Status))
			},
			message: func(view domain.TransactionView, e domain.Entity) string {
				c := e.(*domain.InsuranceClaim)
				msg := fmt.Sprintf("Claim %s for %s is now %s", c.ClaimNumber, PatientName(view, c.PatientID), c.Status)
				if c.Status == domain.ClaimRejected && c.RejectionReason != "" {
					msg += ": " + c.RejectionReason
				}
				return msg
			},
		},
		{
			entity: domain.EntityAppointment,
			to:     toSet(string(domain.AppointmentInProgress), string(domain.AppointmentCompleted), string(domain.AppointmentCancelled)),
			kind:   domain.NotifyAppointment,
			roles:  []domain.Role{domain.RoleReceptionist},
			title:  constTitle("Appointment Updated"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				a := e.(*domain.Appointment)
				return fmt.Sprintf("Appointment for %s is now %s", PatientName(view, a.PatientID), a.Status)
			},
		},
		{
			entity:   domain.EntitySurgeryRequest,
			onCreate: true,
			kind:     domain.NotifySurgery,
			roles:    []domain.Role{domain.RoleOTCoordinator},
			title:    constTitle("New Surgery Request"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				s := e.(*domain.SurgeryRequest)
				return fmt.Sprintf("%s surgery (%s) requested for %s", s.SurgeryType, s.Urgency, PatientName(view, s.PatientID))
			},
		},
		{
			entity:     domain.EntitySurgeryRequest,
			kind:       domain.NotifySurgery,
			roles:      []domain.Role{domain.RoleOTCoordinator},
			recipients: func(e domain.Entity) []string { return []string{e.(*domain.SurgeryRequest).RequestingDoctorID} },
			title:      constTitle("Surgery Request Updated"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				s := e.(*domain.SurgeryRequest)
				return fmt.Sprintf("%s surgery for %s is now %s", s.SurgeryType, PatientName(view, s.PatientID), s.Status)
			},
		},
		{
			entity:     domain.EntityPrescription,
			to:         toSet(string(domain.PrescriptionDispensed)),
			kind:       domain.NotifyPrescription,
			recipients: func(e domain.Entity) []string { return []string{e.(*domain.Prescription).DoctorID} },
			title:      constTitle("Prescription Dispensed"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				p := e.(*domain.Prescription)
				return fmt.Sprintf("%s was dispensed to %s", p.Medication, PatientName(view, p.PatientID))
			},
		},
		{
			entity:     domain.EntityReferral,
			kind:       domain.NotifyGeneral,
			recipients: func(e domain.Entity) []string { return []string{e.(*domain.Referral).ReferringDoctorID} },
			title:      constTitle("Referral Updated"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				r := e.(*domain.Referral)
				return fmt.Sprintf("Referral of %s to %s is now %s", PatientName(view, r.PatientID), r.Specialist, r.Status)
			},
		},
		{
			entity:          domain.EntityOTChecklist,
			to:              toSet(string(domain.ChecklistCompleted)),
			reachedOnCreate: true,
			kind:            domain.NotifySurgery,
			roles:           []domain.Role{domain.RoleOTCoordinator},
			title:           constTitle("OT Checklist Complete"),
			message: func(view domain.TransactionView, e domain.Entity) string {
				c := e.(*domain.OTChecklist)
				req, ok := domain.Get[*domain.SurgeryRequest](view, c.SurgeryRequestID)
				if !ok {
					return fmt.Sprintf("All %d checklist items are checked", len(c.Items))
				}
				return fmt.Sprintf("All %d checklist items are checked for %s surgery of %s", len(c.Items), req.SurgeryType, PatientName(view, req.PatientID))
			},
		},
	}
}

// PatientName resolves a patient's display name, falling back to a
// placeholder when the patient cannot be found.
func PatientName(view domain.TransactionView, id string) string {
	p, ok := domain.Get[*domain.Patient](view, id)
	if !ok {
		return UnknownPatient
	}
	return p.FullName()
}

func usersWithRoles(view domain.TransactionView, roles []domain.Role) []string {
	if len(roles) == 0 {
		return nil
	}
	var ids []string
	for u := range domain.Find(view, func(u *domain.User) bool {
		if !u.Active() {
			return false
		}
		for _, r := range roles {
			if u.Role == r {
				return true
			}
		}
		return false
	}) {
		ids = append(ids, u.ID)
	}
	return ids
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func constTitle(title string) func(domain.Entity) string {
	return func(domain.Entity) string { return title }
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
