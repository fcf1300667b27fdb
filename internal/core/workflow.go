package core

import (
	"hospitalcore/pkg/domain"
)

// lifecycleMachine is the transition table for one stateful entity kind.
type lifecycleMachine struct {
	entity   domain.EntityType
	label    string
	initial  map[string]struct{}
	edges    map[string]map[string]struct{}
	terminal map[string]struct{}
}

func (m lifecycleMachine) valid(state string) bool {
	if _, ok := m.edges[state]; ok {
		return true
	}
	_, ok := m.terminal[state]
	return ok
}

func (m lifecycleMachine) allows(from, to string) bool {
	next, ok := m.edges[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityAppointment: {
		entity:  domain.EntityAppointment,
		label:   "appointment",
		initial: toSet(string(domain.AppointmentScheduled)),
		edges: map[string]map[string]struct{}{
			string(domain.AppointmentScheduled):  toSet(string(domain.AppointmentInProgress), string(domain.AppointmentCancelled)),
			string(domain.AppointmentInProgress): toSet(string(domain.AppointmentCompleted), string(domain.AppointmentCancelled)),
		},
		terminal: toSet(string(domain.AppointmentCompleted), string(domain.AppointmentCancelled)),
	},
	domain.EntityMedicalRecord: {
		entity:  domain.EntityMedicalRecord,
		label:   "medical record",
		initial: toSet(string(domain.RecordActive)),
		edges: map[string]map[string]struct{}{
			string(domain.RecordActive):    toSet(string(domain.RecordCompleted), string(domain.RecordAmended)),
			string(domain.RecordCompleted): toSet(string(domain.RecordAmended)),
			string(domain.RecordAmended):   toSet(string(domain.RecordCompleted)),
		},
		terminal: toSet(),
	},
	domain.EntityPrescription: {
		entity:  domain.EntityPrescription,
		label:   "prescription",
		initial: toSet(string(domain.PrescriptionPending)),
		edges: map[string]map[string]struct{}{
			string(domain.PrescriptionPending): toSet(string(domain.PrescriptionDispensed), string(domain.PrescriptionCancelled)),
		},
		terminal: toSet(string(domain.PrescriptionDispensed), string(domain.PrescriptionCancelled)),
	},
	domain.EntityLabOrder: {
		entity:  domain.EntityLabOrder,
		label:   "lab order",
		initial: toSet(string(domain.LabOrderOrdered)),
		edges: map[string]map[string]struct{}{
			string(domain.LabOrderOrdered):    toSet(string(domain.LabOrderInProgress), string(domain.LabOrderCancelled)),
			string(domain.LabOrderInProgress): toSet(string(domain.LabOrderCompleted), string(domain.LabOrderCancelled)),
		},
		terminal: toSet(string(domain.LabOrderCompleted), string(domain.LabOrderCancelled)),
	},
	domain.EntityBill: {
		entity:  domain.EntityBill,
		label:   "bill",
		initial: toSet(string(domain.BillPending)),
		edges: map[string]map[string]struct{}{
			string(domain.BillPending): toSet(string(domain.BillPaid), string(domain.BillCancelled)),
		},
		terminal: toSet(string(domain.BillPaid), string(domain.BillCancelled)),
	},
	domain.EntityInsuranceClaim: {
		entity:  domain.EntityInsuranceClaim,
		label:   "insurance claim",
		initial: toSet(string(domain.ClaimPending), string(domain.ClaimSubmitted)),
		edges: map[string]map[string]struct{}{
			string(domain.ClaimPending):   toSet(string(domain.ClaimSubmitted)),
			string(domain.ClaimSubmitted): toSet(string(domain.ClaimApproved), string(domain.ClaimRejected)),
			string(domain.ClaimApproved):  toSet(string(domain.ClaimPaid)),
		},
		terminal: toSet(string(domain.ClaimRejected), string(domain.ClaimPaid)),
	},
	domain.EntitySurgeryRequest: {
		entity:  domain.EntitySurgeryRequest,
		label:   "surgery request",
		initial: toSet(string(domain.SurgeryScheduled)),
		edges: map[string]map[string]struct{}{
			string(domain.SurgeryScheduled):  toSet(string(domain.SurgeryInProgress), string(domain.SurgeryCancelled), string(domain.SurgeryPostponed)),
			string(domain.SurgeryPostponed):  toSet(string(domain.SurgeryScheduled), string(domain.SurgeryCancelled)),
			string(domain.SurgeryInProgress): toSet(string(domain.SurgeryCompleted), string(domain.SurgeryCancelled)),
		},
		terminal: toSet(string(domain.SurgeryCompleted), string(domain.SurgeryCancelled)),
	},
	domain.EntityReferral: {
		entity:  domain.EntityReferral,
		label:   "referral",
		initial: toSet(string(domain.ReferralPending)),
		edges: map[string]map[string]struct{}{
			string(domain.ReferralPending):  toSet(string(domain.ReferralAccepted), string(domain.ReferralRejected)),
			string(domain.ReferralAccepted): toSet(string(domain.ReferralCompleted)),
		},
		terminal: toSet(string(domain.ReferralRejected), string(domain.ReferralCompleted)),
	},
}

// CanTransition reports whether the workflow allows moving an entity of the
// given kind from one status to another. Re-applying the current status is
// never allowed.
func CanTransition(kind domain.EntityType, from, to string) bool {
	machine, ok := lifecycleMachines[kind]
	if !ok {
		return false
	}
	return machine.allows(from, to)
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(kind domain.EntityType, status string) bool {
	machine, ok := lifecycleMachines[kind]
	if !ok {
		return false
	}
	_, terminal := machine.terminal[status]
	return terminal
}

// checkTransition validates a status change for a stateful entity.
func checkTransition(e domain.Stateful, to string) error {
	from := e.CurrentStatus()
	if CanTransition(e.Kind(), from, to) {
		return nil
	}
	return domain.InvalidTransitionError{Entity: e.Kind(), ID: e.Meta().ID, From: from, To: to}
}

// DeriveChecklistStatus computes a checklist's status and checked count from
// its items: pending when nothing is checked, completed when everything is,
// in-progress otherwise. An empty checklist is pending.
func DeriveChecklistStatus(items []domain.ChecklistItem) (domain.ChecklistStatus, int) {
	checked := 0
	for _, item := range items {
		if item.Checked {
			checked++
		}
	}
	switch {
	case checked == 0:
		return domain.ChecklistPending, 0
	case checked == len(items):
		return domain.ChecklistCompleted, checked
	default:
		return domain.ChecklistInProgress, checked
	}
}

// BillTotals is the derived money summary of a bill.
type BillTotals struct {
	Items    []domain.BillItem
	Subtotal domain.Amount
	Total    domain.Amount
}

// ComputeBillTotals derives item totals, subtotal, and total from a bill's
// items, tax, and discount.
func ComputeBillTotals(items []domain.BillItem, tax, discount domain.Amount) BillTotals {
	out := BillTotals{Items: make([]domain.BillItem, len(items))}
	for i, item := range items {
		item.Total = domain.Amount(item.Quantity) * item.UnitPrice
		out.Subtotal += item.Total
		out.Items[i] = item
	}
	out.Total = out.Subtotal + tax - discount
	return out
}

func applyBillTotals(b *domain.Bill) {
	totals := ComputeBillTotals(b.Items, b.Tax, b.Discount)
	b.Items = totals.Items
	b.Subtotal = totals.Subtotal
	b.Total = totals.Total
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
