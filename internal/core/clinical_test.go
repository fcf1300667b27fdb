package core

import (
	"context"
	"testing"
	"time"

	"hospitalcore/pkg/domain"
)

func TestAddMedicalRecordLinksOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.AddMedicalRecord(ctx, VisitNote{
		Record: domain.MedicalRecord{
			PatientID:      f.patient.ID,
			DoctorID:       f.doctor.ID,
			ChiefComplaint: "fever for three days",
			Diagnosis:      "Malaria",
			Vitals:         &domain.Vitals{Temperature: 38.9, HeartRate: 104},
		},
		Prescriptions: []domain.Prescription{
			{Medication: "Artemether/Lumefantrine", Dosage: "4 tabs", Frequency: "BD", Duration: "3 days", Status: domain.PrescriptionDispensed},
		},
		LabOrders: []domain.LabOrder{{TestName: "Malaria RDT"}, {TestName: "Full Blood Count"}},
	})
	if err != nil {
		t.Fatalf("add medical record: %v", err)
	}
	if rec.Status != domain.RecordActive || rec.VisitDate.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.PrescriptionIDs) != 1 || len(rec.LabOrderIDs) != 2 {
		t.Fatalf("record should link its orders: %+v", rec)
	}
	rx, ok := domain.Get[*domain.Prescription](f.svc.Store(), rec.PrescriptionIDs[0])
	if !ok || rx.Status != domain.PrescriptionPending || rx.RecordID != rec.ID || rx.PatientID != f.patient.ID || rx.DoctorID != f.doctor.ID {
		t.Fatalf("unexpected prescription: %+v", rx)
	}
	for _, id := range rec.LabOrderIDs {
		order, ok := domain.Get[*domain.LabOrder](f.svc.Store(), id)
		if !ok || order.Status != domain.LabOrderOrdered || order.RecordID != rec.ID {
			t.Fatalf("unexpected lab order: %+v", order)
		}
	}

	completed, err := f.svc.UpdateMedicalRecordStatus(ctx, rec.ID, domain.RecordCompleted)
	if err != nil {
		t.Fatalf("complete record: %v", err)
	}
	if completed.Status != domain.RecordCompleted {
		t.Fatalf("unexpected status %s", completed.Status)
	}
	if _, err := f.svc.UpdateMedicalRecordStatus(ctx, rec.ID, domain.RecordAmended); err != nil {
		t.Fatalf("amend record: %v", err)
	}
}

func TestAddMedicalRecordIsAtomic(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddMedicalRecord(context.Background(), VisitNote{
		Record:        domain.MedicalRecord{PatientID: f.patient.ID, DoctorID: f.doctor.ID, Diagnosis: "Hypertension"},
		Prescriptions: []domain.Prescription{{Medication: "Amlodipine"}},
		LabOrders:     []domain.LabOrder{{TestName: ""}},
	})
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "test_name" {
		t.Fatalf("expected test_name error, got %+v", verr)
	}
	for _, kind := range []domain.EntityType{domain.EntityMedicalRecord, domain.EntityPrescription, domain.EntityLabOrder} {
		if got := f.count(kind); got != 0 {
			t.Fatalf("%s should not be written, found %d", kind, got)
		}
	}
}

func TestDispensePrescription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.AddMedicalRecord(ctx, VisitNote{
		Record:        domain.MedicalRecord{PatientID: f.patient.ID, DoctorID: f.doctor.ID, Diagnosis: "URTI"},
		Prescriptions: []domain.Prescription{{Medication: "Amoxicillin"}},
	})
	if err != nil {
		t.Fatalf("add medical record: %v", err)
	}
	rx, err := f.svc.UpdatePrescriptionStatus(ctx, rec.PrescriptionIDs[0], domain.PrescriptionDispensed)
	if err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if rx.DispensedAt == nil {
		t.Fatalf("dispensed_at not stamped")
	}
	dispensed := f.notifications(func(n *domain.Notification) bool { return n.SourceID == rx.ID })
	if len(dispensed) != 1 || dispensed[0].Message != "Amoxicillin was dispensed to Amina Hassan" {
		t.Fatalf("unexpected dispense notifications: %+v", dispensed)
	}
	_, err = f.svc.UpdatePrescriptionStatus(ctx, rx.ID, domain.PrescriptionCancelled)
	expectError[domain.InvalidTransitionError](t, err)
}

func TestAppointmentWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ScheduleAppointment(ctx, domain.Appointment{PatientID: f.patient.ID, DoctorID: f.doctor.ID})
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "date_time" {
		t.Fatalf("expected date_time error, got %+v", verr)
	}
	appt, err := f.svc.ScheduleAppointment(ctx, domain.Appointment{
		PatientID:       f.patient.ID,
		DoctorID:        f.doctor.ID,
		DateTime:        testNow.Add(2 * time.Hour),
		DurationMinutes: 30,
		Type:            "consultation",
		Status:          domain.AppointmentCompleted,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if appt.Status != domain.AppointmentScheduled {
		t.Fatalf("new appointment should be scheduled, got %s", appt.Status)
	}
	_, err = f.svc.UpdateAppointmentStatus(ctx, appt.ID, domain.AppointmentCompleted)
	expectError[domain.InvalidTransitionError](t, err)
	for _, status := range []domain.AppointmentStatus{domain.AppointmentInProgress, domain.AppointmentCompleted} {
		if appt, err = f.svc.UpdateAppointmentStatus(ctx, appt.ID, status); err != nil {
			t.Fatalf("move to %s: %v", status, err)
		}
	}
	_, err = f.svc.UpdateAppointmentStatus(ctx, appt.ID, domain.AppointmentCompleted)
	expectError[domain.InvalidTransitionError](t, err)
}

func TestSurgeryAndReferralWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddSurgeryRequest(ctx, domain.SurgeryRequest{
		PatientID: f.patient.ID, RequestingDoctorID: f.doctor.ID, SurgeryType: "Hernia repair", Urgency: "whenever",
	})
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "urgency" {
		t.Fatalf("expected urgency error, got %+v", verr)
	}
	req, err := f.svc.AddSurgeryRequest(ctx, domain.SurgeryRequest{
		PatientID: f.patient.ID, RequestingDoctorID: f.doctor.ID, SurgeryType: "Hernia repair",
	})
	if err != nil {
		t.Fatalf("add surgery: %v", err)
	}
	if req.Urgency != domain.UrgencyElective || req.RequestedDate.IsZero() || req.Status != domain.SurgeryScheduled {
		t.Fatalf("unexpected defaults: %+v", req)
	}
	created := f.notifications(func(n *domain.Notification) bool { return n.SourceID == req.ID })
	if len(created) != 1 || created[0].RecipientIDs[0] != f.ot.ID {
		t.Fatalf("OT coordinator should be told about the request: %+v", created)
	}

	when := testNow.Add(48 * time.Hour)
	postponed, err := f.svc.UpdateSurgeryRequestStatus(ctx, req.ID, domain.SurgeryPostponed, SurgeryUpdate{ScheduledDate: &when, OTRoom: "OT-2"})
	if err != nil {
		t.Fatalf("postpone: %v", err)
	}
	if postponed.OTRoom != "OT-2" || postponed.ScheduledDate == nil || !postponed.ScheduledDate.Equal(when) {
		t.Fatalf("surgery update not applied: %+v", postponed)
	}
	updates := f.notifications(func(n *domain.Notification) bool {
		return n.SourceID == req.ID && n.Title == "Surgery Request Updated"
	})
	if len(updates) != 1 || len(updates[0].RecipientIDs) != 2 {
		t.Fatalf("doctor and OT coordinator should be notified: %+v", updates)
	}

	ref, err := f.svc.AddReferral(ctx, domain.Referral{PatientID: f.patient.ID, ReferringDoctorID: f.doctor.ID, Specialist: "Cardiology", Reason: "murmur"})
	if err != nil {
		t.Fatalf("add referral: %v", err)
	}
	if ref.Status != domain.ReferralPending {
		t.Fatalf("unexpected referral status %s", ref.Status)
	}
	if _, err := f.svc.UpdateReferralStatus(ctx, ref.ID, domain.ReferralCompleted, ""); err == nil {
		t.Fatalf("pending referral cannot complete directly")
	}
	accepted, err := f.svc.UpdateReferralStatus(ctx, ref.ID, domain.ReferralAccepted, "seen next week")
	if err != nil {
		t.Fatalf("accept referral: %v", err)
	}
	if accepted.Notes != "seen next week" {
		t.Fatalf("notes not recorded: %+v", accepted)
	}
	_, err = f.svc.AddReferral(ctx, domain.Referral{PatientID: f.patient.ID, ReferringDoctorID: f.doctor.ID, Specialist: "ENT"})
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "reason" {
		t.Fatalf("expected reason error, got %+v", verr)
	}
}

func TestSurgeryProgressLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.AddSurgeryRequest(ctx, domain.SurgeryRequest{
		PatientID: f.patient.ID, RequestingDoctorID: f.doctor.ID, SurgeryType: "Appendectomy", Urgency: domain.UrgencyUrgent,
	})
	if err != nil {
		t.Fatalf("add surgery: %v", err)
	}
	if _, err := f.svc.AddSurgeryProgress(ctx, req.ID, domain.StagePreOp, " consent signed ", f.ot.ID); err != nil {
		t.Fatalf("pre-op: %v", err)
	}
	logged, err := f.svc.AddSurgeryProgress(ctx, req.ID, domain.StageInProgress, "", f.doctor.ID)
	if err != nil {
		t.Fatalf("in-progress: %v", err)
	}
	if len(logged.Progress) != 2 || logged.Progress[0].Notes != "consent signed" || logged.Progress[1].UpdatedBy != f.doctor.ID || logged.Progress[1].At.IsZero() {
		t.Fatalf("unexpected progress log %+v", logged.Progress)
	}
	if logged.Status != domain.SurgeryScheduled {
		t.Fatalf("progress must not move the request status, got %s", logged.Status)
	}

	_, err = f.svc.AddSurgeryProgress(ctx, req.ID, domain.StagePreOp, "", f.ot.ID)
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "progress.stage" {
		t.Fatalf("expected stage order error, got %+v", verr)
	}
	_, err = f.svc.AddSurgeryProgress(ctx, req.ID, "anaesthesia", "", f.ot.ID)
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "progress.stage" {
		t.Fatalf("expected unknown stage error, got %+v", verr)
	}
	_, err = f.svc.AddSurgeryProgress(ctx, req.ID, domain.StageClosed, "", "")
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "progress.updated_by" {
		t.Fatalf("expected updated_by error, got %+v", verr)
	}
	_, err = f.svc.AddSurgeryProgress(ctx, req.ID, domain.StageClosed, "", "ghost")
	expectError[domain.ReferentialIntegrityError](t, err)

	if _, err := f.svc.UpdateSurgeryRequestStatus(ctx, req.ID, domain.SurgeryCancelled, SurgeryUpdate{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = f.svc.AddSurgeryProgress(ctx, req.ID, domain.StageClosed, "", f.ot.ID)
	if verr := expectError[domain.ValidationError](t, err); verr.Field != "status" {
		t.Fatalf("expected status error, got %+v", verr)
	}
}
