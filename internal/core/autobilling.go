package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"hospitalcore/internal/config"
	"hospitalcore/pkg/domain"
)

// ErrAutobillingDisabled is returned by bill generation while autobilling is
// switched off.
var ErrAutobillingDisabled = errors.New("autobilling is disabled")

// PriceCategory groups tariff entries by the kind of work they charge for.
type PriceCategory string

// Price categories.
const (
	PriceConsultation PriceCategory = "consultation"
	PriceMedication   PriceCategory = "medication"
	PriceLabTest      PriceCategory = "lab-test"
)

// ServicePrice is one tariff entry. An entry with an empty name is the
// category's fallback price.
type ServicePrice struct {
	Category PriceCategory `json:"category"`
	Name     string        `json:"name"`
	Price    domain.Amount `json:"price"`
}

// PriceList resolves unit prices for billable work.
type PriceList interface {
	Price(category PriceCategory, name string) (domain.Amount, bool)
}

// Tariff is a fixed PriceList. A lookup prefers an entry with the exact name,
// then the first entry whose name occurs in the requested one, then the
// category fallback. Names compare case-insensitively.
type Tariff []ServicePrice

// Price implements PriceList.
func (t Tariff) Price(category PriceCategory, name string) (domain.Amount, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	partial, fallback := -1, -1
	for i, p := range t {
		if p.Category != category {
			continue
		}
		entry := strings.ToLower(strings.TrimSpace(p.Name))
		switch {
		case entry == "":
			if fallback < 0 {
				fallback = i
			}
		case entry == name:
			return p.Price, true
		case partial < 0 && name != "" && strings.Contains(name, entry):
			partial = i
		}
	}
	if partial >= 0 {
		return t[partial].Price, true
	}
	if fallback >= 0 {
		return t[fallback].Price, true
	}
	return 0, false
}

// AutobillingConfig selects which clinical work is billed without a cashier
// entering it.
type AutobillingConfig struct {
	Enabled bool
	// Appointments bills a consultation when an appointment is scheduled.
	Appointments bool
	// MedicalRecords bills a visit's prescriptions and lab orders when the
	// record is added, subject to Prescriptions and LabOrders.
	MedicalRecords bool
	// Prescriptions bills medication; a dispensed prescription not yet on a
	// bill gets one.
	Prescriptions bool
	// LabOrders bills tests; a completed lab order not yet on a bill gets one.
	LabOrders            bool
	DefaultPaymentMethod domain.PaymentMethod
}

// DefaultAutobillingConfig bills all clinical work and defaults bills to cash.
func DefaultAutobillingConfig() AutobillingConfig {
	return AutobillingConfig{
		Enabled:              true,
		Appointments:         true,
		MedicalRecords:       true,
		Prescriptions:        true,
		LabOrders:            true,
		DefaultPaymentMethod: domain.PaymentCash,
	}
}

// Validate checks the default payment method.
func (c AutobillingConfig) Validate() error {
	if c.DefaultPaymentMethod != "" && !c.DefaultPaymentMethod.Valid() {
		return fmt.Errorf("autobilling: %q is not a known payment method", c.DefaultPaymentMethod)
	}
	return nil
}

type autobiller struct {
	mu     sync.RWMutex
	config AutobillingConfig
	prices PriceList
}

func (a *autobiller) snapshot() (AutobillingConfig, PriceList) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config, a.prices
}

// WithAutobilling configures automatic bill generation and the tariff it
// prices work from.
func WithAutobilling(cfg AutobillingConfig, prices PriceList) Option {
	return func(s *Service) {
		if prices == nil {
			prices = Tariff(nil)
		}
		s.billing = &autobiller{config: cfg, prices: prices}
	}
}

// DefaultTariff is the built-in price list used when no tariff file is
// configured.
func DefaultTariff() Tariff {
	return Tariff{
		{Category: PriceConsultation, Name: "", Price: 1500},
		{Category: PriceConsultation, Name: "follow-up", Price: 1000},
		{Category: PriceConsultation, Name: "specialist", Price: 3000},
		{Category: PriceMedication, Name: "", Price: 500},
		{Category: PriceMedication, Name: "artemether", Price: 900},
		{Category: PriceMedication, Name: "amoxicillin", Price: 400},
		{Category: PriceLabTest, Name: "", Price: 800},
		{Category: PriceLabTest, Name: "full blood count", Price: 1200},
		{Category: PriceLabTest, Name: "malaria smear", Price: 800},
	}
}

// AutobillingFromConfig builds the autobilling option from process settings,
// reading the tariff file when one is named.
func AutobillingFromConfig(cfg config.Config) (Option, error) {
	ab := AutobillingConfig{
		Enabled:              cfg.AutobillingEnabled,
		Appointments:         cfg.AutobillingAppointments,
		MedicalRecords:       cfg.AutobillingMedicalRecords,
		Prescriptions:        cfg.AutobillingPrescriptions,
		LabOrders:            cfg.AutobillingLabOrders,
		DefaultPaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(cfg.AutobillingPaymentMethod))),
	}
	if err := ab.Validate(); err != nil {
		return nil, err
	}
	tariff := DefaultTariff()
	if cfg.TariffPath != "" {
		entries, err := config.LoadTariff(cfg.TariffPath)
		if err != nil {
			return nil, err
		}
		tariff = make(Tariff, 0, len(entries))
		for _, e := range entries {
			tariff = append(tariff, ServicePrice{Category: PriceCategory(e.Category), Name: e.Name, Price: domain.Amount(e.Price)})
		}
	}
	return WithAutobilling(ab, tariff), nil
}

// AutobillingConfig returns the active autobilling configuration.
func (s *Service) AutobillingConfig() AutobillingConfig {
	cfg, _ := s.billing.snapshot()
	return cfg
}

// UpdateAutobillingConfig replaces the autobilling configuration. It applies
// to operations started afterwards.
func (s *Service) UpdateAutobillingConfig(cfg AutobillingConfig) error {
	if err := cfg.Validate(); err != nil {
		return domain.ValidationError{Field: "default_payment_method", Message: err.Error()}
	}
	s.billing.mu.Lock()
	s.billing.config = cfg
	s.billing.mu.Unlock()
	s.logger.Info("autobilling configuration updated",
		"enabled", cfg.Enabled, "appointments", cfg.Appointments, "medical_records", cfg.MedicalRecords,
		"prescriptions", cfg.Prescriptions, "lab_orders", cfg.LabOrders)
	return nil
}

// GenerateBill bills a patient's unbilled work for one appointment and one
// medical record; either id may be empty. Work already on a live bill is
// skipped, and an error is returned when nothing is left to charge.
func (s *Service) GenerateBill(ctx context.Context, patientID, appointmentID, recordID string) (*domain.Bill, error) {
	return mutate(ctx, s, "generate_bill", func(tx domain.Transaction) (*domain.Bill, error) {
		cfg, prices := s.billing.snapshot()
		if !cfg.Enabled {
			return nil, ErrAutobillingDisabled
		}
		if _, err := load[*domain.Patient](tx, patientID); err != nil {
			return nil, err
		}
		run := s.newBillingRun(tx, cfg, prices)
		var items []domain.BillItem
		if appointmentID != "" {
			appt, err := load[*domain.Appointment](tx, appointmentID)
			if err != nil {
				return nil, err
			}
			if appt.PatientID != patientID {
				return nil, domain.ValidationError{Entity: domain.EntityBill, Field: "appointment_id", Message: fmt.Sprintf("appointment %s belongs to another patient", appointmentID)}
			}
			items = append(items, run.appointmentItems(appt)...)
		}
		if recordID != "" {
			rec, err := load[*domain.MedicalRecord](tx, recordID)
			if err != nil {
				return nil, err
			}
			if rec.PatientID != patientID {
				return nil, domain.ValidationError{Entity: domain.EntityBill, Field: "record_id", Message: fmt.Sprintf("medical record %s belongs to another patient", recordID)}
			}
			items = append(items, run.recordItems(rec)...)
		}
		if len(items) == 0 {
			return nil, domain.ValidationError{Entity: domain.EntityBill, Field: "items", Message: "nothing left to bill"}
		}
		return run.open(patientID, items)
	})
}

// AutoGenerateBills sweeps every patient's appointments and medical records
// and opens one bill per appointment or record that still has unbilled work.
func (s *Service) AutoGenerateBills(ctx context.Context) ([]*domain.Bill, error) {
	var bills []*domain.Bill
	_, err := s.run(ctx, "auto_generate_bills", func(tx domain.Transaction) (domain.Entity, error) {
		bills = nil
		cfg, prices := s.billing.snapshot()
		if !cfg.Enabled {
			return nil, ErrAutobillingDisabled
		}
		run := s.newBillingRun(tx, cfg, prices)
		for patient := range domain.Find[*domain.Patient](tx, nil) {
			if cfg.Appointments {
				for appt := range domain.Find(tx, func(a *domain.Appointment) bool { return a.PatientID == patient.ID }) {
					if err := run.billIfAny(patient.ID, run.appointmentItems(appt), &bills); err != nil {
						return nil, err
					}
				}
			}
			if cfg.MedicalRecords {
				for rec := range domain.Find(tx, func(r *domain.MedicalRecord) bool { return r.PatientID == patient.ID }) {
					if err := run.billIfAny(patient.ID, run.recordItems(rec), &bills); err != nil {
						return nil, err
					}
				}
			}
		}
		return nil, nil
	})
	if err != nil && !isRemote(err) {
		return nil, err
	}
	if len(bills) > 0 {
		s.logger.Info("generated bills for unbilled work", "bills", len(bills))
	}
	return bills, err
}

// autobill opens bills for the work recorded in changes. It runs inside the
// operation's transaction, ahead of notification dispatch.
func (s *Service) autobill(tx domain.Transaction, changes []domain.Change) error {
	cfg, prices := s.billing.snapshot()
	if !cfg.Enabled {
		return nil
	}
	var run *billingRun
	for _, change := range changes {
		var patientID string
		var items func(r *billingRun) []domain.BillItem
		switch after := change.After.(type) {
		case *domain.Appointment:
			if !cfg.Appointments || change.Action != domain.ActionCreate {
				continue
			}
			patientID = after.PatientID
			items = func(r *billingRun) []domain.BillItem { return r.appointmentItems(after) }
		case *domain.MedicalRecord:
			if !cfg.MedicalRecords || change.Action != domain.ActionCreate {
				continue
			}
			patientID = after.PatientID
			id := after.ID
			items = func(r *billingRun) []domain.BillItem {
				rec, ok := domain.Get[*domain.MedicalRecord](tx, id)
				if !ok {
					return nil
				}
				return r.recordItems(rec)
			}
		case *domain.Prescription:
			if !cfg.Prescriptions || !reached(change, string(domain.PrescriptionDispensed)) {
				continue
			}
			patientID = after.PatientID
			items = func(r *billingRun) []domain.BillItem { return r.prescriptionItems(after) }
		case *domain.LabOrder:
			if !cfg.LabOrders || !reached(change, string(domain.LabOrderCompleted)) {
				continue
			}
			patientID = after.PatientID
			items = func(r *billingRun) []domain.BillItem { return r.labOrderItems(after) }
		default:
			continue
		}
		if run == nil {
			run = s.newBillingRun(tx, cfg, prices)
		}
		if err := run.billIfAny(patientID, items(run), nil); err != nil {
			return err
		}
	}
	return nil
}

// reached reports whether change moved an entity into status.
func reached(change domain.Change, status string) bool {
	after, ok := change.After.(domain.Stateful)
	if !ok || after.CurrentStatus() != status {
		return false
	}
	before, ok := change.Before.(domain.Stateful)
	return !ok || before.CurrentStatus() != status
}

// billingRun prices work within one transaction and tracks which sources
// already sit on a live bill.
type billingRun struct {
	s      *Service
	tx     domain.Transaction
	cfg    AutobillingConfig
	prices PriceList
	billed map[string]struct{}
}

func (s *Service) newBillingRun(tx domain.Transaction, cfg AutobillingConfig, prices PriceList) *billingRun {
	return &billingRun{s: s, tx: tx, cfg: cfg, prices: prices, billed: BilledSources(tx)}
}

// BilledSources returns the sources charged on pending or paid bills, keyed by
// kind and id.
func BilledSources(view domain.TransactionView) map[string]struct{} {
	billed := make(map[string]struct{})
	for bill := range domain.Find(view, func(b *domain.Bill) bool { return b.Status != domain.BillCancelled }) {
		for _, item := range bill.Items {
			if item.SourceID != "" {
				billed[sourceKey(item.SourceKind, item.SourceID)] = struct{}{}
			}
		}
	}
	return billed
}

func sourceKey(kind domain.EntityType, id string) string {
	return string(kind) + "/" + id
}

func (r *billingRun) charge(kind domain.EntityType, id string, category PriceCategory, name, description string) []domain.BillItem {
	key := sourceKey(kind, id)
	if _, ok := r.billed[key]; ok {
		return nil
	}
	price, ok := r.prices.Price(category, name)
	if !ok {
		r.s.logger.Debug("no tariff entry, work left unbilled", "category", category, "name", name, "source", key)
		return nil
	}
	r.billed[key] = struct{}{}
	return []domain.BillItem{{
		Description: description,
		Quantity:    1,
		UnitPrice:   price,
		SourceKind:  kind,
		SourceID:    id,
	}}
}

func (r *billingRun) appointmentItems(a *domain.Appointment) []domain.BillItem {
	if a.Status == domain.AppointmentCancelled {
		return nil
	}
	description := "Consultation"
	if a.Type != "" {
		description = fmt.Sprintf("Consultation (%s)", a.Type)
	}
	return r.charge(domain.EntityAppointment, a.ID, PriceConsultation, a.Type, description)
}

func (r *billingRun) prescriptionItems(p *domain.Prescription) []domain.BillItem {
	if p.Status == domain.PrescriptionCancelled {
		return nil
	}
	return r.charge(domain.EntityPrescription, p.ID, PriceMedication, p.Medication, p.Medication)
}

func (r *billingRun) labOrderItems(o *domain.LabOrder) []domain.BillItem {
	if o.Status == domain.LabOrderCancelled {
		return nil
	}
	return r.charge(domain.EntityLabOrder, o.ID, PriceLabTest, o.TestName, o.TestName)
}

func (r *billingRun) recordItems(rec *domain.MedicalRecord) []domain.BillItem {
	var items []domain.BillItem
	if r.cfg.Prescriptions {
		for _, id := range rec.PrescriptionIDs {
			if p, ok := domain.Get[*domain.Prescription](r.tx, id); ok {
				items = append(items, r.prescriptionItems(p)...)
			}
		}
	}
	if r.cfg.LabOrders {
		for _, id := range rec.LabOrderIDs {
			if o, ok := domain.Get[*domain.LabOrder](r.tx, id); ok {
				items = append(items, r.labOrderItems(o)...)
			}
		}
	}
	return items
}

func (r *billingRun) billIfAny(patientID string, items []domain.BillItem, out *[]*domain.Bill) error {
	if len(items) == 0 {
		return nil
	}
	bill, err := r.open(patientID, items)
	if err != nil {
		return err
	}
	if out != nil {
		*out = append(*out, bill)
	}
	return nil
}

// open saves a pending bill for items and notifies the cashiers.
func (r *billingRun) open(patientID string, items []domain.BillItem) (*domain.Bill, error) {
	bill := &domain.Bill{
		PatientID:     patientID,
		Items:         items,
		Status:        domain.BillPending,
		PaymentMethod: r.cfg.DefaultPaymentMethod,
	}
	applyBillTotals(bill)
	stored, err := save(r.tx, bill)
	if err != nil {
		return nil, err
	}
	_, err = r.s.notifier.Notify(r.tx, domain.Notification{
		Roles:      []domain.Role{domain.RoleCashier},
		Type:       domain.NotifyBilling,
		Title:      "New Bill Generated",
		Message:    fmt.Sprintf("Bill for %s has been generated", PatientName(r.tx, patientID)),
		SourceKind: domain.EntityBill,
		SourceID:   stored.ID,
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}
