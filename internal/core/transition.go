package core

import (
	"context"
	"fmt"

	"hospitalcore/pkg/domain"
)

// TransitionPayload carries the optional data some transitions need.
type TransitionPayload struct {
	Results         string
	PaymentMethod   domain.PaymentMethod
	RejectionReason string
	Notes           string
	Surgery         SurgeryUpdate
}

// Transition moves any stateful entity to target, dispatching to the typed
// operation for its kind. OT checklists have no target status; use
// ToggleOTChecklistItem or UpdateOTChecklist instead.
func (s *Service) Transition(ctx context.Context, kind domain.EntityType, id, target string, payload TransitionPayload) (domain.Entity, error) {
	var (
		e   domain.Entity
		err error
	)
	switch kind {
	case domain.EntityAppointment:
		e, err = asEntity(s.UpdateAppointmentStatus(ctx, id, domain.AppointmentStatus(target)))
	case domain.EntityMedicalRecord:
		e, err = asEntity(s.UpdateMedicalRecordStatus(ctx, id, domain.RecordStatus(target)))
	case domain.EntityPrescription:
		e, err = asEntity(s.UpdatePrescriptionStatus(ctx, id, domain.PrescriptionStatus(target)))
	case domain.EntityLabOrder:
		e, err = asEntity(s.UpdateLabOrderStatus(ctx, id, domain.LabOrderStatus(target), payload.Results))
	case domain.EntityBill:
		e, err = asEntity(s.UpdateBillStatus(ctx, id, domain.BillStatus(target), payload.PaymentMethod))
	case domain.EntityInsuranceClaim:
		e, err = asEntity(s.UpdateInsuranceClaimStatus(ctx, id, domain.ClaimStatus(target), ClaimUpdate{RejectionReason: payload.RejectionReason, Notes: payload.Notes}))
	case domain.EntitySurgeryRequest:
		extra := payload.Surgery
		if extra.Notes == "" {
			extra.Notes = payload.Notes
		}
		e, err = asEntity(s.UpdateSurgeryRequestStatus(ctx, id, domain.SurgeryStatus(target), extra))
	case domain.EntityReferral:
		e, err = asEntity(s.UpdateReferralStatus(ctx, id, domain.ReferralStatus(target), payload.Notes))
	default:
		return nil, domain.ValidationError{Entity: kind, ID: id, Field: "status", Message: fmt.Sprintf("%s has no status transitions", kind)}
	}
	return e, err
}

// asEntity widens a typed result, keeping a nil pointer as a nil interface.
func asEntity[E any, P interface {
	*E
	domain.Entity
}](v P, err error) (domain.Entity, error) {
	if (*E)(v) == nil {
		return nil, err
	}
	return v, err
}
