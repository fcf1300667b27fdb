package core

import (
	"context"

	"hospitalcore/pkg/domain"
)

// ScheduleAppointment books a patient with a doctor.
func (s *Service) ScheduleAppointment(ctx context.Context, appt domain.Appointment) (*domain.Appointment, error) {
	return mutate(ctx, s, "schedule_appointment", func(tx domain.Transaction) (*domain.Appointment, error) {
		if appt.DateTime.IsZero() {
			return nil, domain.ValidationError{Entity: domain.EntityAppointment, Field: "date_time", Message: "is required"}
		}
		if appt.DurationMinutes < 0 {
			return nil, domain.ValidationError{Entity: domain.EntityAppointment, Field: "duration_minutes", Message: "must not be negative"}
		}
		appt.ID = ""
		appt.Status = domain.AppointmentScheduled
		return save(tx, &appt)
	})
}

// UpdateAppointmentStatus moves an appointment through its workflow.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id string, status domain.AppointmentStatus) (*domain.Appointment, error) {
	return mutate(ctx, s, "update_appointment_status", func(tx domain.Transaction) (*domain.Appointment, error) {
		appt, err := load[*domain.Appointment](tx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(appt, string(status)); err != nil {
			return nil, err
		}
		appt.Status = status
		return save(tx, appt)
	})
}

// VisitNote is the input of AddMedicalRecord: the record itself plus the
// prescriptions and lab orders written during the visit.
type VisitNote struct {
	Record        domain.MedicalRecord
	Prescriptions []domain.Prescription
	LabOrders     []domain.LabOrder
}

// AddMedicalRecord documents a visit. The record, its prescriptions, and its
// lab orders are created together; the record lists the ids of both.
func (s *Service) AddMedicalRecord(ctx context.Context, note VisitNote) (*domain.MedicalRecord, error) {
	return mutate(ctx, s, "add_medical_record", func(tx domain.Transaction) (*domain.MedicalRecord, error) {
		rec := note.Record
		if err := required(domain.EntityMedicalRecord, "", "diagnosis", rec.Diagnosis); err != nil {
			return nil, err
		}
		rec.ID = ""
		rec.Status = domain.RecordActive
		rec.PrescriptionIDs = nil
		rec.LabOrderIDs = nil
		if rec.VisitDate.IsZero() {
			rec.VisitDate = tx.Now()
		}
		stored, err := save(tx, &rec)
		if err != nil {
			return nil, err
		}

		for _, rx := range note.Prescriptions {
			if err := required(domain.EntityPrescription, "", "medication", rx.Medication); err != nil {
				return nil, err
			}
			rx.ID = ""
			rx.RecordID = stored.ID
			rx.PatientID = stored.PatientID
			rx.DoctorID = stored.DoctorID
			rx.Status = domain.PrescriptionPending
			rx.DispensedAt = nil
			created, err := save(tx, &rx)
			if err != nil {
				return nil, err
			}
			stored.PrescriptionIDs = append(stored.PrescriptionIDs, created.ID)
		}
		for _, order := range note.LabOrders {
			order.RecordID = stored.ID
			order.PatientID = stored.PatientID
			order.DoctorID = stored.DoctorID
			created, err := createLabOrder(tx, order)
			if err != nil {
				return nil, err
			}
			stored.LabOrderIDs = append(stored.LabOrderIDs, created.ID)
		}
		if len(stored.PrescriptionIDs) == 0 && len(stored.LabOrderIDs) == 0 {
			return stored, nil
		}
		return save(tx, stored)
	})
}

// UpdateMedicalRecordStatus completes or amends a medical record.
func (s *Service) UpdateMedicalRecordStatus(ctx context.Context, id string, status domain.RecordStatus) (*domain.MedicalRecord, error) {
	return mutate(ctx, s, "update_medical_record_status", func(tx domain.Transaction) (*domain.MedicalRecord, error) {
		rec, err := load[*domain.MedicalRecord](tx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(rec, string(status)); err != nil {
			return nil, err
		}
		rec.Status = status
		return save(tx, rec)
	})
}

// UpdatePrescriptionStatus dispenses or cancels a pending prescription.
func (s *Service) UpdatePrescriptionStatus(ctx context.Context, id string, status domain.PrescriptionStatus) (*domain.Prescription, error) {
	return mutate(ctx, s, "update_prescription_status", func(tx domain.Transaction) (*domain.Prescription, error) {
		rx, err := load[*domain.Prescription](tx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(rx, string(status)); err != nil {
			return nil, err
		}
		if status == domain.PrescriptionDispensed {
			now := tx.Now()
			rx.DispensedAt = &now
		}
		rx.Status = status
		return save(tx, rx)
	})
}
