package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hospitalcore/internal/core"
	"hospitalcore/pkg/domain"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Populate an empty store with demo staff, patients, and workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			summary, err := seed(cmd.Context(), a.svc, time.Now().UTC())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
}

type seedSummary struct {
	Skipped bool              `json:"skipped"`
	Users   map[string]string `json:"users,omitempty"`
	Pending int               `json:"pending_sync"`
}

// seed creates one user per role and a day of activity. A store that already
// has users is left alone.
func seed(ctx context.Context, svc *core.Service, now time.Time) (seedSummary, error) {
	for range domain.Find[*domain.User](svc.Store(), nil) {
		return seedSummary{Skipped: true}, nil
	}

	staff := []struct {
		name string
		role domain.Role
		dept string
	}{
		{"Grace Wambui", domain.RoleReceptionist, "front-desk"},
		{"Dr. Peter Otieno", domain.RoleDoctor, "general-medicine"},
		{"Faith Chebet", domain.RoleNurse, "general-medicine"},
		{"Samuel Kiprop", domain.RoleLab, "laboratory"},
		{"Lucy Njeri", domain.RolePharmacy, "pharmacy"},
		{"John Kamau", domain.RoleCashier, "finance"},
		{"Mercy Achieng", domain.RoleInsuranceOfficer, "finance"},
		{"Daniel Mutua", domain.RoleOTCoordinator, "theatre"},
	}
	users := make(map[string]string, len(staff))
	for _, s := range staff {
		u, err := svc.CreateUser(ctx, domain.User{Name: s.name, Email: emailFor(s.role), Role: s.role, Department: s.dept})
		if err != nil {
			return seedSummary{}, fmt.Errorf("seed %s: %w", s.role, err)
		}
		users[string(s.role)] = u.ID
	}
	doctor := users[string(domain.RoleDoctor)]

	amina, err := svc.RegisterPatient(ctx, domain.Patient{
		FirstName:   "Amina",
		LastName:    "Hassan",
		DateOfBirth: time.Date(1988, time.June, 2, 0, 0, 0, 0, time.UTC),
		Gender:      "female",
		Phone:       "+254700111222",
		Insurance:   &domain.InsuranceInfo{Provider: "NHIF", MembershipNumber: "NH-4411"},
	})
	if err != nil {
		return seedSummary{}, fmt.Errorf("seed patient: %w", err)
	}
	brian, err := svc.RegisterPatient(ctx, domain.Patient{
		FirstName:   "Brian",
		LastName:    "Odhiambo",
		DateOfBirth: time.Date(1975, time.January, 19, 0, 0, 0, 0, time.UTC),
		Gender:      "male",
		Phone:       "+254722333444",
	})
	if err != nil {
		return seedSummary{}, fmt.Errorf("seed patient: %w", err)
	}

	day := now.Truncate(24 * time.Hour)
	for i, p := range []*domain.Patient{amina, brian} {
		if _, err := svc.ScheduleAppointment(ctx, domain.Appointment{
			PatientID:       p.ID,
			DoctorID:        doctor,
			DateTime:        day.Add(time.Duration(9+i) * time.Hour),
			DurationMinutes: 30,
			Type:            "consultation",
		}); err != nil {
			return seedSummary{}, fmt.Errorf("seed appointment: %w", err)
		}
	}

	if _, err := svc.AddMedicalRecord(ctx, core.VisitNote{
		Record: domain.MedicalRecord{
			PatientID:      amina.ID,
			DoctorID:       doctor,
			ChiefComplaint: "Fever and joint pain",
			Diagnosis:      "Suspected malaria",
		},
		Prescriptions: []domain.Prescription{{
			PatientID:  amina.ID,
			DoctorID:   doctor,
			Medication: "Artemether/Lumefantrine",
			Dosage:     "80/480mg",
			Frequency:  "twice daily",
			Duration:   "3 days",
		}},
		LabOrders: []domain.LabOrder{{
			PatientID: amina.ID,
			DoctorID:  doctor,
			TestName:  "Malaria Smear",
		}},
	}); err != nil {
		return seedSummary{}, fmt.Errorf("seed visit: %w", err)
	}

	bill, err := svc.CreateBill(ctx, amina.ID, []domain.BillItem{
		{Description: "Consultation", Quantity: 1, UnitPrice: 1500},
		{Description: "Malaria Smear", Quantity: 1, UnitPrice: 800},
	}, 0, 0)
	if err != nil {
		return seedSummary{}, fmt.Errorf("seed bill: %w", err)
	}
	if _, err := svc.ForwardBill(ctx, bill.ID); err != nil {
		return seedSummary{}, fmt.Errorf("seed claim: %w", err)
	}

	surgery, err := svc.AddSurgeryRequest(ctx, domain.SurgeryRequest{
		PatientID:          brian.ID,
		RequestingDoctorID: doctor,
		SurgeryType:        "Inguinal Hernia Repair",
		Urgency:            domain.UrgencyElective,
	})
	if err != nil {
		return seedSummary{}, fmt.Errorf("seed surgery: %w", err)
	}
	if _, err := svc.AddOTChecklist(ctx, surgery.ID, []domain.ChecklistItem{
		{Category: "pre-op", Description: "Consent form signed"},
		{Category: "pre-op", Description: "Fasting confirmed"},
		{Category: "equipment", Description: "Mesh available"},
	}); err != nil {
		return seedSummary{}, fmt.Errorf("seed checklist: %w", err)
	}

	return seedSummary{Users: users, Pending: len(svc.PendingSync())}, nil
}

func emailFor(role domain.Role) string {
	return string(role) + "@hospitalcore.local"
}
