// Package projection derives role-scoped read models from the entity store.
// Every function here only reads its view; missing patients and users are
// rendered with placeholders instead of failing.
package projection

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"hospitalcore/internal/core"
	"hospitalcore/pkg/domain"
)

// UnknownUser is shown when a referenced user cannot be found.
const UnknownUser = "Unknown User"

// AppointmentRow is an appointment joined with its patient.
type AppointmentRow struct {
	Appointment *domain.Appointment `json:"appointment"`
	PatientName string              `json:"patient_name"`
	DoctorName  string              `json:"doctor_name"`
}

// LabRow is a lab order joined with its patient and ordering doctor.
type LabRow struct {
	Order       *domain.LabOrder `json:"order"`
	PatientName string           `json:"patient_name"`
	DoctorName  string           `json:"doctor_name"`
}

// PrescriptionRow is a prescription joined with its patient and prescriber.
type PrescriptionRow struct {
	Prescription *domain.Prescription `json:"prescription"`
	PatientName  string               `json:"patient_name"`
	DoctorName   string               `json:"doctor_name"`
}

// BillRow is a bill joined with its patient.
type BillRow struct {
	Bill        *domain.Bill `json:"bill"`
	PatientName string       `json:"patient_name"`
}

// ClaimRow is an insurance claim joined with its patient.
type ClaimRow struct {
	Claim       *domain.InsuranceClaim `json:"claim"`
	PatientName string                 `json:"patient_name"`
}

// SurgeryRow is a surgery request with its patient, doctor, and checklist.
type SurgeryRow struct {
	Request     *domain.SurgeryRequest `json:"request"`
	PatientName string                 `json:"patient_name"`
	DoctorName  string                 `json:"doctor_name"`
	Checklist   *domain.OTChecklist    `json:"checklist,omitempty"`
}

// ChecklistRow is an OT checklist with the surgery it prepares.
type ChecklistRow struct {
	Checklist   *domain.OTChecklist `json:"checklist"`
	SurgeryType string              `json:"surgery_type"`
	PatientName string              `json:"patient_name"`
}

// InboxItem is a notification as seen by one user.
type InboxItem struct {
	Notification *domain.Notification `json:"notification"`
	Unread       bool                 `json:"unread"`
}

// UserName resolves a user's display name.
func UserName(view domain.TransactionView, id string) string {
	u, ok := domain.Get[*domain.User](view, id)
	if !ok {
		return UnknownUser
	}
	return u.Name
}

// DoctorToday lists the doctor's appointments on now's calendar day, excluding
// cancelled ones, in time order. An empty doctorID lists every doctor.
func DoctorToday(view domain.TransactionView, doctorID string, now time.Time) []AppointmentRow {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)
	var rows []AppointmentRow
	for a := range domain.Find(view, func(a *domain.Appointment) bool {
		if doctorID != "" && a.DoctorID != doctorID {
			return false
		}
		at := a.DateTime.In(now.Location())
		return a.Status != domain.AppointmentCancelled && !at.Before(start) && at.Before(end)
	}) {
		rows = append(rows, AppointmentRow{
			Appointment: a,
			PatientName: core.PatientName(view, a.PatientID),
			DoctorName:  UserName(view, a.DoctorID),
		})
	}
	slices.SortStableFunc(rows, func(a, b AppointmentRow) int {
		return a.Appointment.DateTime.Compare(b.Appointment.DateTime)
	})
	return rows
}

// ClaimsMatching lists claims whose patient name (case-insensitive), id, or
// claim number contains search and whose status equals status. Empty search
// and status match everything.
func ClaimsMatching(view domain.TransactionView, search string, status domain.ClaimStatus) []ClaimRow {
	search = strings.TrimSpace(search)
	needle := strings.ToLower(search)
	var rows []ClaimRow
	for c := range domain.Find(view, func(c *domain.InsuranceClaim) bool {
		return status == "" || c.Status == status
	}) {
		name := core.PatientName(view, c.PatientID)
		if search != "" &&
			!strings.Contains(strings.ToLower(name), needle) &&
			!strings.Contains(c.ID, search) &&
			!strings.Contains(c.ClaimNumber, search) {
			continue
		}
		rows = append(rows, ClaimRow{Claim: c, PatientName: name})
	}
	return rows
}

// ClaimSummary counts claims for the claims dashboard.
type ClaimSummary struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
}

// SummarizeClaims counts rows; pending covers pending and submitted claims.
func SummarizeClaims(rows []ClaimRow) ClaimSummary {
	s := ClaimSummary{Total: len(rows)}
	for _, r := range rows {
		switch r.Claim.Status {
		case domain.ClaimPending, domain.ClaimSubmitted:
			s.Pending++
		case domain.ClaimApproved:
			s.Approved++
		}
	}
	return s
}

// LabQueue lists ordered and in-progress lab orders, oldest first.
func LabQueue(view domain.TransactionView) []LabRow {
	var rows []LabRow
	for o := range domain.Find(view, func(o *domain.LabOrder) bool {
		return o.Status == domain.LabOrderOrdered || o.Status == domain.LabOrderInProgress
	}) {
		rows = append(rows, labRow(view, o))
	}
	return rows
}

// DoctorLabResults lists the doctor's completed lab orders, most recent first.
func DoctorLabResults(view domain.TransactionView, doctorID string) []LabRow {
	var rows []LabRow
	for o := range domain.Find(view, func(o *domain.LabOrder) bool {
		return o.DoctorID == doctorID && o.Status == domain.LabOrderCompleted
	}) {
		rows = append(rows, labRow(view, o))
	}
	slices.SortStableFunc(rows, func(a, b LabRow) int {
		return completedAt(b.Order).Compare(completedAt(a.Order))
	})
	return rows
}

func completedAt(o *domain.LabOrder) time.Time {
	if o.CompletedAt == nil {
		return o.UpdatedAt
	}
	return *o.CompletedAt
}

func labRow(view domain.TransactionView, o *domain.LabOrder) LabRow {
	return LabRow{Order: o, PatientName: core.PatientName(view, o.PatientID), DoctorName: UserName(view, o.DoctorID)}
}

// PharmacyQueue lists prescriptions waiting to be dispensed, oldest first.
func PharmacyQueue(view domain.TransactionView) []PrescriptionRow {
	var rows []PrescriptionRow
	for p := range domain.Find(view, func(p *domain.Prescription) bool { return p.Status == domain.PrescriptionPending }) {
		rows = append(rows, PrescriptionRow{
			Prescription: p,
			PatientName:  core.PatientName(view, p.PatientID),
			DoctorName:   UserName(view, p.DoctorID),
		})
	}
	return rows
}

// OutstandingBills lists pending bills, oldest first.
func OutstandingBills(view domain.TransactionView) []BillRow {
	var rows []BillRow
	for b := range domain.Find(view, func(b *domain.Bill) bool { return b.Status == domain.BillPending }) {
		rows = append(rows, BillRow{Bill: b, PatientName: core.PatientName(view, b.PatientID)})
	}
	return rows
}

// Inbox lists the notifications addressed to user, newest first.
func Inbox(view domain.TransactionView, user *domain.User) []InboxItem {
	var items []InboxItem
	for n := range domain.Find(view, func(n *domain.Notification) bool { return n.AddressedTo(user) }) {
		items = append(items, InboxItem{Notification: n, Unread: !n.ReadByUser(user.ID)})
	}
	slices.Reverse(items)
	return items
}

// UnreadCount counts unread inbox items.
func UnreadCount(items []InboxItem) int {
	n := 0
	for _, item := range items {
		if item.Unread {
			n++
		}
	}
	return n
}

// OTChecklists lists checklists with the given status; empty lists all.
func OTChecklists(view domain.TransactionView, status domain.ChecklistStatus) []ChecklistRow {
	var rows []ChecklistRow
	for c := range domain.Find(view, func(c *domain.OTChecklist) bool { return status == "" || c.Status == status }) {
		row := ChecklistRow{Checklist: c, SurgeryType: "Unknown Surgery", PatientName: core.UnknownPatient}
		if req, ok := domain.Get[*domain.SurgeryRequest](view, c.SurgeryRequestID); ok {
			row.SurgeryType = req.SurgeryType
			row.PatientName = core.PatientName(view, req.PatientID)
		}
		rows = append(rows, row)
	}
	return rows
}

var urgencyRank = map[domain.Urgency]int{
	domain.UrgencyEmergency: 0,
	domain.UrgencyUrgent:    1,
	domain.UrgencyElective:  2,
}

// SurgeryQueue lists open surgery requests, emergencies first, then by
// requested date.
func SurgeryQueue(view domain.TransactionView) []SurgeryRow {
	checklists := make(map[string]*domain.OTChecklist)
	for c := range domain.Find[*domain.OTChecklist](view, nil) {
		checklists[c.SurgeryRequestID] = c
	}
	var rows []SurgeryRow
	for r := range domain.Find(view, func(r *domain.SurgeryRequest) bool {
		return !core.IsTerminal(domain.EntitySurgeryRequest, string(r.Status))
	}) {
		rows = append(rows, SurgeryRow{
			Request:     r,
			PatientName: core.PatientName(view, r.PatientID),
			DoctorName:  UserName(view, r.RequestingDoctorID),
			Checklist:   checklists[r.ID],
		})
	}
	slices.SortStableFunc(rows, func(a, b SurgeryRow) int {
		if c := cmp.Compare(urgencyRank[a.Request.Urgency], urgencyRank[b.Request.Urgency]); c != 0 {
			return c
		}
		return a.Request.RequestedDate.Compare(b.Request.RequestedDate)
	})
	return rows
}

// OTSummary aggregates surgery outcomes over a period.
type OTSummary struct {
	From      time.Time `json:"from,omitzero"`
	To        time.Time `json:"to,omitzero"`
	Completed int       `json:"completed"`
	Emergency int       `json:"emergency"`
	Elective  int       `json:"elective"`
	Cancelled int       `json:"cancelled"`
	Postponed int       `json:"postponed"`
}

// OTReport counts surgery requests dated in [from, to). A request is dated by
// its scheduled date, or its requested date when unscheduled. Zero bounds are
// open. Emergency and elective split the completed surgeries; urgent cases
// count as elective.
func OTReport(view domain.TransactionView, from, to time.Time) OTSummary {
	out := OTSummary{From: from, To: to}
	for r := range domain.Find[*domain.SurgeryRequest](view, nil) {
		when := r.RequestedDate
		if r.ScheduledDate != nil {
			when = *r.ScheduledDate
		}
		if (!from.IsZero() && when.Before(from)) || (!to.IsZero() && !when.Before(to)) {
			continue
		}
		switch r.Status {
		case domain.SurgeryCompleted:
			out.Completed++
			if r.Urgency == domain.UrgencyEmergency {
				out.Emergency++
			} else {
				out.Elective++
			}
		case domain.SurgeryCancelled:
			out.Cancelled++
		case domain.SurgeryPostponed:
			out.Postponed++
		}
	}
	return out
}
