// Package domain defines the core hospital entities, value types, and
// rule evaluation primitives used by hospitalcore.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and durable records.
const (
	EntityUser           EntityType = "user"
	EntityPatient        EntityType = "patient"
	EntityAppointment    EntityType = "appointment"
	EntityMedicalRecord  EntityType = "medical_record"
	EntityPrescription   EntityType = "prescription"
	EntityLabOrder       EntityType = "lab_order"
	EntityBill           EntityType = "bill"
	EntityInsuranceClaim EntityType = "insurance_claim"
	EntitySurgeryRequest EntityType = "surgery_request"
	EntityOTChecklist    EntityType = "ot_checklist"
	EntityNotification   EntityType = "notification"
	EntityReferral       EntityType = "referral"
)

// EntityTypes lists every kind in dependency order: referenced kinds come
// before the kinds that reference them.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityUser,
		EntityPatient,
		EntityAppointment,
		EntityMedicalRecord,
		EntityPrescription,
		EntityLabOrder,
		EntityBill,
		EntityInsuranceClaim,
		EntitySurgeryRequest,
		EntityOTChecklist,
		EntityReferral,
		EntityNotification,
	}
}

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Version increments on every committed upsert and orders local writes.
	Version uint64 `json:"version"`
}

// Meta exposes the common record fields of any entity embedding Base.
func (b *Base) Meta() *Base { return b }

// Reference is a foreign key from one entity to another.
type Reference struct {
	Field    string
	Kind     EntityType
	ID       string
	Required bool
}

// Entity is implemented by every stored record.
type Entity interface {
	Kind() EntityType
	Meta() *Base
	References() []Reference
	Clone() Entity
}

// Stateful is implemented by entities carrying a workflow status.
type Stateful interface {
	Entity
	CurrentStatus() string
}

// Amount is a monetary value expressed in minor currency units.
type Amount int64

// Role selects the role-scoped views available to a user.
type Role string

// Roles recognised by the hospital workflow.
const (
	RoleReceptionist      Role = "receptionist"
	RoleDoctor            Role = "doctor"
	RoleNurse             Role = "nurse"
	RoleLab               Role = "lab"
	RolePharmacy          Role = "pharmacy"
	RoleCashier           Role = "cashier"
	RoleInsuranceOfficer  Role = "insurance-officer"
	RoleOTCoordinator     Role = "ot-coordinator"
	RolePhysicalTherapist Role = "physical-therapist"
	RoleHR                Role = "hr"
	RoleAdmin             Role = "admin"
)

// User represents a staff member who acts on the system.
type User struct {
	Base
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"`
	// DeactivatedAt is set when the staff member leaves. Users stay on file
	// because clinical and billing records name them.
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Active reports whether the user has not been deactivated.
func (u *User) Active() bool { return u.DeactivatedAt == nil }

// Kind implements Entity.
func (*User) Kind() EntityType { return EntityUser }

// References implements Entity.
func (*User) References() []Reference { return nil }

// Clone implements Entity.
func (u *User) Clone() Entity {
	c := *u
	c.DeactivatedAt = cloneTime(u.DeactivatedAt)
	return &c
}

// InsuranceInfo captures a patient's insurance membership.
type InsuranceInfo struct {
	Provider         string `json:"provider"`
	MembershipNumber string `json:"membership_number"`
}

// Patient holds demographic and insurance attributes. Patients are amended,
// never deleted.
type Patient struct {
	Base
	MRN              string         `json:"mrn"`
	FirstName        string         `json:"first_name"`
	LastName         string         `json:"last_name"`
	DateOfBirth      time.Time      `json:"date_of_birth"`
	Gender           string         `json:"gender"`
	Phone            string         `json:"phone"`
	Address          string         `json:"address,omitempty"`
	EmergencyContact string         `json:"emergency_contact,omitempty"`
	Insurance        *InsuranceInfo `json:"insurance,omitempty"`
}

// FullName joins the patient's first and last name.
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Kind implements Entity.
func (*Patient) Kind() EntityType { return EntityPatient }

// References implements Entity.
func (*Patient) References() []Reference { return nil }

// Clone implements Entity.
func (p *Patient) Clone() Entity {
	c := *p
	if p.Insurance != nil {
		ins := *p.Insurance
		c.Insurance = &ins
	}
	return &c
}

// AppointmentStatus enumerates appointment workflow states.
type AppointmentStatus string

// Appointment statuses.
const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentInProgress AppointmentStatus = "in-progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
)

// Appointment books a patient with a provider.
type Appointment struct {
	Base
	PatientID       string            `json:"patient_id"`
	DoctorID        string            `json:"doctor_id"`
	DateTime        time.Time         `json:"date_time"`
	DurationMinutes int               `json:"duration_minutes"`
	Type            string            `json:"type"`
	Status          AppointmentStatus `json:"status"`
	Notes           string            `json:"notes,omitempty"`
}

// Kind implements Entity.
func (*Appointment) Kind() EntityType { return EntityAppointment }

// CurrentStatus implements Stateful.
func (a *Appointment) CurrentStatus() string { return string(a.Status) }

// References implements Entity.
func (a *Appointment) References() []Reference {
	return []Reference{
		{Field: "patient_id", Kind: EntityPatient, ID: a.PatientID, Required: true},
		{Field: "doctor_id", Kind: EntityUser, ID: a.DoctorID, Required: true},
	}
}

// Clone implements Entity.
func (a *Appointment) Clone() Entity { c := *a; return &c }

// RecordStatus enumerates medical record states.
type RecordStatus string

// Medical record statuses.
const (
	RecordActive    RecordStatus = "active"
	RecordCompleted RecordStatus = "completed"
	RecordAmended   RecordStatus = "amended"
)

// Vitals captures the measurements taken during a visit.
type Vitals struct {
	BloodPressure string  `json:"blood_pressure,omitempty"`
	HeartRate     int     `json:"heart_rate,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	Weight        float64 `json:"weight,omitempty"`
	Height        float64 `json:"height,omitempty"`
}

// MedicalRecord documents a visit. Only its status changes after creation.
type MedicalRecord struct {
	Base
	PatientID       string       `json:"patient_id"`
	DoctorID        string       `json:"doctor_id"`
	VisitDate       time.Time    `json:"visit_date"`
	ChiefComplaint  string       `json:"chief_complaint"`
	Diagnosis       string       `json:"diagnosis"`
	DiagnosisCodes  []string     `json:"diagnosis_codes,omitempty"`
	Treatment       string       `json:"treatment,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	Vitals          *Vitals      `json:"vitals,omitempty"`
	PrescriptionIDs []string     `json:"prescription_ids,omitempty"`
	LabOrderIDs     []string     `json:"lab_order_ids,omitempty"`
	Status          RecordStatus `json:"status"`
}

// Kind implements Entity.
func (*MedicalRecord) Kind() EntityType { return EntityMedicalRecord }

// CurrentStatus implements Stateful.
func (r *MedicalRecord) CurrentStatus() string { return string(r.Status) }

// References implements Entity.
func (r *MedicalRecord) References() []Reference {
	refs := []Reference{
		{Field: "patient_id", Kind: EntityPatient, ID: r.PatientID, Required: true},
		{Field: "doctor_id", Kind: EntityUser, ID: r.DoctorID, Required: true},
	}
	for _, id := range r.PrescriptionIDs {
		refs = append(refs, Reference{Field: "prescription_ids", Kind: EntityPrescription, ID: id})
	}
	for _, id := range r.LabOrderIDs {
		refs = append(refs, Reference{Field: "lab_order_ids", Kind: EntityLabOrder, ID: id})
	}
	return refs
}

// Clone implements Entity.
func (r *MedicalRecord) Clone() Entity {
	c := *r
	c.DiagnosisCodes = cloneStrings(r.DiagnosisCodes)
	c.PrescriptionIDs = cloneStrings(r.PrescriptionIDs)
	c.LabOrderIDs = cloneStrings(r.LabOrderIDs)
	if r.Vitals != nil {
		v := *r.Vitals
		c.Vitals = &v
	}
	return &c
}

// PrescriptionStatus enumerates prescription states.
type PrescriptionStatus string

// Prescription statuses.
const (
	PrescriptionPending   PrescriptionStatus = "pending"
	PrescriptionDispensed PrescriptionStatus = "dispensed"
	PrescriptionCancelled PrescriptionStatus = "cancelled"
)

// Prescription is a medication order written during a visit.
type Prescription struct {
	Base
	RecordID     string             `json:"record_id,omitempty"`
	PatientID    string             `json:"patient_id"`
	DoctorID     string             `json:"doctor_id"`
	Medication   string             `json:"medication"`
	Dosage       string             `json:"dosage"`
	Frequency    string             `json:"frequency"`
	Duration     string             `json:"duration"`
	Instructions string             `json:"instructions,omitempty"`
	Status       PrescriptionStatus `json:"status"`
	DispensedAt  *time.Time         `json:"dispensed_at,omitempty"`
}

// Kind implements Entity.
func (*Prescription) Kind() EntityType { return EntityPrescription }

// CurrentStatus implements Stateful.
func (p *Prescription) CurrentStatus() string { return string(p.Status) }

// References implements Entity.
func (p *Prescription) References() []Reference {
	return []Reference{
		{Field: "record_id", Kind: EntityMedicalRecord, ID: p.RecordID},
		{Field: "patient_id", Kind: EntityPatient, ID: p.PatientID, Required: true},
		{Field: "doctor_id", Kind: EntityUser, ID: p.DoctorID, Required: true},
	}
}

// Clone implements Entity.
func (p *Prescription) Clone() Entity {
	c := *p
	c.DispensedAt = cloneTime(p.DispensedAt)
	return &c
}

// LabOrderStatus enumerates lab order states.
type LabOrderStatus string

// Lab order statuses.
const (
	LabOrderOrdered    LabOrderStatus = "ordered"
	LabOrderInProgress LabOrderStatus = "in-progress"
	LabOrderCompleted  LabOrderStatus = "completed"
	LabOrderCancelled  LabOrderStatus = "cancelled"
)

// LabOrder requests a test for a patient on behalf of an ordering provider.
type LabOrder struct {
	Base
	RecordID     string         `json:"record_id,omitempty"`
	PatientID    string         `json:"patient_id"`
	DoctorID     string         `json:"doctor_id"`
	TestName     string         `json:"test_name"`
	Instructions string         `json:"instructions,omitempty"`
	Status       LabOrderStatus `json:"status"`
	Results      string         `json:"results,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Kind implements Entity.
func (*LabOrder) Kind() EntityType { return EntityLabOrder }

// CurrentStatus implements Stateful.
func (l *LabOrder) CurrentStatus() string { return string(l.Status) }

// References implements Entity.
func (l *LabOrder) References() []Reference {
	return []Reference{
		{Field: "record_id", Kind: EntityMedicalRecord, ID: l.RecordID},
		{Field: "patient_id", Kind: EntityPatient, ID: l.PatientID, Required: true},
		{Field: "doctor_id", Kind: EntityUser, ID: l.DoctorID, Required: true},
	}
}

// Clone implements Entity.
func (l *LabOrder) Clone() Entity {
	c := *l
	c.CompletedAt = cloneTime(l.CompletedAt)
	return &c
}

// BillStatus enumerates bill states.
type BillStatus string

// Bill statuses.
const (
	BillPending   BillStatus = "pending"
	BillPaid      BillStatus = "paid"
	BillCancelled BillStatus = "cancelled"
)

// PaymentMethod names how a bill is settled.
type PaymentMethod string

// Payment methods.
const (
	PaymentCash        PaymentMethod = "cash"
	PaymentMobileMoney PaymentMethod = "lipa_kwa_simu"
	PaymentCard        PaymentMethod = "card"
	PaymentInsurance   PaymentMethod = "insurance"
)

// Valid reports whether the method is one of the known payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentMobileMoney, PaymentCard, PaymentInsurance:
		return true
	}
	return false
}

// BillItem is a single charge on a bill. Items generated from clinical work
// name the appointment, prescription, or lab order they charge for.
type BillItem struct {
	Description string     `json:"description"`
	Quantity    int        `json:"quantity"`
	UnitPrice   Amount     `json:"unit_price"`
	Total       Amount     `json:"total"`
	SourceKind  EntityType `json:"source_kind,omitempty"`
	SourceID    string     `json:"source_id,omitempty"`
}

// Bill collects charges for a patient.
type Bill struct {
	Base
	PatientID     string        `json:"patient_id"`
	Items         []BillItem    `json:"items"`
	Subtotal      Amount        `json:"subtotal"`
	Tax           Amount        `json:"tax"`
	Discount      Amount        `json:"discount"`
	Total         Amount        `json:"total"`
	Status        BillStatus    `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
}

// Kind implements Entity.
func (*Bill) Kind() EntityType { return EntityBill }

// CurrentStatus implements Stateful.
func (b *Bill) CurrentStatus() string { return string(b.Status) }

// References implements Entity.
func (b *Bill) References() []Reference {
	refs := []Reference{{Field: "patient_id", Kind: EntityPatient, ID: b.PatientID, Required: true}}
	for _, item := range b.Items {
		if item.SourceID != "" {
			refs = append(refs, Reference{Field: "items.source_id", Kind: item.SourceKind, ID: item.SourceID})
		}
	}
	return refs
}

// Clone implements Entity.
func (b *Bill) Clone() Entity {
	c := *b
	c.Items = append([]BillItem(nil), b.Items...)
	c.PaidAt = cloneTime(b.PaidAt)
	return &c
}

// ClaimStatus enumerates insurance claim states.
type ClaimStatus string

// Insurance claim statuses.
const (
	ClaimPending   ClaimStatus = "pending"
	ClaimSubmitted ClaimStatus = "submitted"
	ClaimApproved  ClaimStatus = "approved"
	ClaimRejected  ClaimStatus = "rejected"
	ClaimPaid      ClaimStatus = "paid"
)

// InsuranceClaim requests payment of a bill from an insurer.
type InsuranceClaim struct {
	Base
	BillID           string      `json:"bill_id"`
	PatientID        string      `json:"patient_id"`
	Provider         string      `json:"provider"`
	MembershipNumber string      `json:"membership_number"`
	ClaimAmount      Amount      `json:"claim_amount"`
	ClaimedAmount    Amount      `json:"claimed_amount"`
	Status           ClaimStatus `json:"status"`
	ClaimNumber      string      `json:"claim_number"`
	SubmissionDate   *time.Time  `json:"submission_date,omitempty"`
	ApprovalDate     *time.Time  `json:"approval_date,omitempty"`
	RejectionReason  string      `json:"rejection_reason,omitempty"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
	Notes            string      `json:"notes,omitempty"`
}

// Kind implements Entity.
func (*InsuranceClaim) Kind() EntityType { return EntityInsuranceClaim }

// CurrentStatus implements Stateful.
func (c *InsuranceClaim) CurrentStatus() string { return string(c.Status) }

// References implements Entity.
func (c *InsuranceClaim) References() []Reference {
	return []Reference{
		{Field: "bill_id", Kind: EntityBill, ID: c.BillID, Required: true},
		{Field: "patient_id", Kind: EntityPatient, ID: c.PatientID, Required: true},
	}
}

// Clone implements Entity.
func (c *InsuranceClaim) Clone() Entity {
	cp := *c
	cp.SubmissionDate = cloneTime(c.SubmissionDate)
	cp.ApprovalDate = cloneTime(c.ApprovalDate)
	cp.PaidAt = cloneTime(c.PaidAt)
	return &cp
}

// SurgeryStatus enumerates surgery request states.
type SurgeryStatus string

// Surgery request statuses.
const (
	SurgeryScheduled  SurgeryStatus = "scheduled"
	SurgeryInProgress SurgeryStatus = "in-progress"
	SurgeryCompleted  SurgeryStatus = "completed"
	SurgeryCancelled  SurgeryStatus = "cancelled"
	SurgeryPostponed  SurgeryStatus = "postponed"
)

// Urgency classifies how soon a surgery must happen.
type Urgency string

// Surgery urgencies.
const (
	UrgencyElective  Urgency = "elective"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// SurgeryRequest asks the operating theatre to schedule a procedure.
type SurgeryRequest struct {
	Base
	PatientID          string        `json:"patient_id"`
	RequestingDoctorID string        `json:"requesting_doctor_id"`
	SurgeryType        string        `json:"surgery_type"`
	Urgency            Urgency       `json:"urgency"`
	Diagnosis          string        `json:"diagnosis,omitempty"`
	RequestedDate      time.Time     `json:"requested_date"`
	ScheduledDate      *time.Time    `json:"scheduled_date,omitempty"`
	OTRoom             string        `json:"ot_room,omitempty"`
	Status             SurgeryStatus `json:"status"`
	Notes              string        `json:"notes,omitempty"`
	// Progress logs intra-operative stages in the order they were reached.
	Progress []SurgeryProgress `json:"progress,omitempty"`
}

// SurgeryStage is a point in the operation recorded by theatre staff.
type SurgeryStage string

// Surgery stages, in the order an operation passes through them.
const (
	StagePreOp      SurgeryStage = "pre-op"
	StageInProgress SurgeryStage = "in-progress"
	StageClosed     SurgeryStage = "closed"
	StagePostOp     SurgeryStage = "post-op"
	StageCompleted  SurgeryStage = "completed"
)

// SurgeryStages lists the stages in order.
func SurgeryStages() []SurgeryStage {
	return []SurgeryStage{StagePreOp, StageInProgress, StageClosed, StagePostOp, StageCompleted}
}

// SurgeryProgress is one entry of a surgery's progress log.
type SurgeryProgress struct {
	Stage     SurgeryStage `json:"stage"`
	Notes     string       `json:"notes,omitempty"`
	UpdatedBy string       `json:"updated_by"`
	At        time.Time    `json:"at"`
}

// Kind implements Entity.
func (*SurgeryRequest) Kind() EntityType { return EntitySurgeryRequest }

// CurrentStatus implements Stateful.
func (s *SurgeryRequest) CurrentStatus() string { return string(s.Status) }

// References implements Entity.
func (s *SurgeryRequest) References() []Reference {
	refs := []Reference{
		{Field: "patient_id", Kind: EntityPatient, ID: s.PatientID, Required: true},
		{Field: "requesting_doctor_id", Kind: EntityUser, ID: s.RequestingDoctorID, Required: true},
	}
	for _, p := range s.Progress {
		refs = append(refs, Reference{Field: "progress.updated_by", Kind: EntityUser, ID: p.UpdatedBy, Required: true})
	}
	return refs
}

// Clone implements Entity.
func (s *SurgeryRequest) Clone() Entity {
	c := *s
	c.ScheduledDate = cloneTime(s.ScheduledDate)
	c.Progress = append([]SurgeryProgress(nil), s.Progress...)
	return &c
}

// ChecklistStatus is derived from checklist items and never set directly.
type ChecklistStatus string

// Checklist statuses.
const (
	ChecklistPending    ChecklistStatus = "pending"
	ChecklistInProgress ChecklistStatus = "in-progress"
	ChecklistCompleted  ChecklistStatus = "completed"
)

// ChecklistItem is one safety check on an OT checklist.
type ChecklistItem struct {
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Checked     bool       `json:"checked"`
	CheckedBy   string     `json:"checked_by,omitempty"`
	CheckedAt   *time.Time `json:"checked_at,omitempty"`
}

// OTChecklist is the ordered pre-operative checklist for a surgery request.
// Status and CheckedCount are derived from Items.
type OTChecklist struct {
	Base
	SurgeryRequestID string          `json:"surgery_request_id"`
	Items            []ChecklistItem `json:"items"`
	Status           ChecklistStatus `json:"status"`
	CheckedCount     int             `json:"checked_count"`
}

// Kind implements Entity.
func (*OTChecklist) Kind() EntityType { return EntityOTChecklist }

// CurrentStatus implements Stateful.
func (c *OTChecklist) CurrentStatus() string { return string(c.Status) }

// References implements Entity.
func (c *OTChecklist) References() []Reference {
	refs := []Reference{{Field: "surgery_request_id", Kind: EntitySurgeryRequest, ID: c.SurgeryRequestID, Required: true}}
	for i, item := range c.Items {
		if item.CheckedBy != "" {
			refs = append(refs, Reference{Field: fmt.Sprintf("items[%d].checked_by", i), Kind: EntityUser, ID: item.CheckedBy})
		}
	}
	return refs
}

// Clone implements Entity.
func (c *OTChecklist) Clone() Entity {
	cp := *c
	cp.Items = make([]ChecklistItem, len(c.Items))
	for i, item := range c.Items {
		item.CheckedAt = cloneTime(item.CheckedAt)
		cp.Items[i] = item
	}
	return &cp
}

// NotificationKind categorises a notification for inbox filtering.
type NotificationKind string

// Notification kinds.
const (
	NotifyPrescription NotificationKind = "prescription"
	NotifyLabOrder     NotificationKind = "lab-order"
	NotifyAppointment  NotificationKind = "appointment"
	NotifyGeneral      NotificationKind = "general"
	NotifyQueue        NotificationKind = "queue"
	NotifyBilling      NotificationKind = "billing"
	NotifySurgery      NotificationKind = "surgery"
)

// Notification is a directed message discovered by querying the store.
type Notification struct {
	Base
	RecipientIDs []string             `json:"recipient_ids"`
	Roles        []Role               `json:"roles,omitempty"`
	Department   string               `json:"department,omitempty"`
	Type         NotificationKind     `json:"type"`
	Title        string               `json:"title"`
	Message      string               `json:"message"`
	SourceKind   EntityType           `json:"source_kind,omitempty"`
	SourceID     string               `json:"source_id,omitempty"`
	ReadBy       map[string]time.Time `json:"read_by,omitempty"`
}

// Kind implements Entity.
func (*Notification) Kind() EntityType { return EntityNotification }

// References implements Entity.
func (n *Notification) References() []Reference {
	refs := make([]Reference, 0, len(n.RecipientIDs)+1)
	for _, id := range n.RecipientIDs {
		refs = append(refs, Reference{Field: "recipient_ids", Kind: EntityUser, ID: id, Required: true})
	}
	if n.SourceKind != "" {
		refs = append(refs, Reference{Field: "source_id", Kind: n.SourceKind, ID: n.SourceID, Required: true})
	}
	return refs
}

// Clone implements Entity.
func (n *Notification) Clone() Entity {
	c := *n
	c.RecipientIDs = cloneStrings(n.RecipientIDs)
	c.Roles = append([]Role(nil), n.Roles...)
	if n.ReadBy != nil {
		c.ReadBy = make(map[string]time.Time, len(n.ReadBy))
		for k, v := range n.ReadBy {
			c.ReadBy[k] = v
		}
	}
	return &c
}

// ReadByUser reports whether the user has read the notification.
func (n *Notification) ReadByUser(userID string) bool {
	_, ok := n.ReadBy[userID]
	return ok
}

// AddressedTo reports whether the notification targets the user directly,
// through the user's role, or through the user's department.
func (n *Notification) AddressedTo(u *User) bool {
	for _, id := range n.RecipientIDs {
		if id == u.ID {
			return true
		}
	}
	for _, r := range n.Roles {
		if r == u.Role {
			return true
		}
	}
	return n.Department != "" && n.Department == u.Department
}

// ReferralStatus enumerates referral states.
type ReferralStatus string

// Referral statuses.
const (
	ReferralPending   ReferralStatus = "pending"
	ReferralAccepted  ReferralStatus = "accepted"
	ReferralRejected  ReferralStatus = "rejected"
	ReferralCompleted ReferralStatus = "completed"
)

// Referral sends a patient to a specialist.
type Referral struct {
	Base
	PatientID         string         `json:"patient_id"`
	ReferringDoctorID string         `json:"referring_doctor_id"`
	Specialist        string         `json:"specialist"`
	Reason            string         `json:"reason"`
	Status            ReferralStatus `json:"status"`
	Notes             string         `json:"notes,omitempty"`
}

// Kind implements Entity.
func (*Referral) Kind() EntityType { return EntityReferral }

// CurrentStatus implements Stateful.
func (r *Referral) CurrentStatus() string { return string(r.Status) }

// References implements Entity.
func (r *Referral) References() []Reference {
	return []Reference{
		{Field: "patient_id", Kind: EntityPatient, ID: r.PatientID, Required: true},
		{Field: "referring_doctor_id", Kind: EntityUser, ID: r.ReferringDoctorID, Required: true},
	}
}

// Clone implements Entity.
func (r *Referral) Clone() Entity { c := *r; return &c }

// NewEntity returns a zero value entity of the given kind.
func NewEntity(kind EntityType) (Entity, error) {
	switch kind {
	case EntityUser:
		return &User{}, nil
	case EntityPatient:
		return &Patient{}, nil
	case EntityAppointment:
		return &Appointment{}, nil
	case EntityMedicalRecord:
		return &MedicalRecord{}, nil
	case EntityPrescription:
		return &Prescription{}, nil
	case EntityLabOrder:
		return &LabOrder{}, nil
	case EntityBill:
		return &Bill{}, nil
	case EntityInsuranceClaim:
		return &InsuranceClaim{}, nil
	case EntitySurgeryRequest:
		return &SurgeryRequest{}, nil
	case EntityOTChecklist:
		return &OTChecklist{}, nil
	case EntityNotification:
		return &Notification{}, nil
	case EntityReferral:
		return &Referral{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", kind)
	}
}

// EncodeRecord serialises an entity into a durable record.
func EncodeRecord(e Entity) (Record, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	meta := e.Meta()
	return Record{
		Kind:      e.Kind(),
		ID:        meta.ID,
		Version:   meta.Version,
		UpdatedAt: meta.UpdatedAt,
		Payload:   payload,
	}, nil
}

// DecodeRecord rebuilds the entity held in a durable record.
func DecodeRecord(rec Record) (Entity, error) {
	e, err := NewEntity(rec.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rec.Payload, e); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", rec.Kind, rec.ID, err)
	}
	return e, nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
