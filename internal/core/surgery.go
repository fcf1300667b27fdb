package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hospitalcore/pkg/domain"
)

// AddSurgeryRequest asks the operating theatre to schedule a procedure. The
// OT coordinators are notified.
func (s *Service) AddSurgeryRequest(ctx context.Context, req domain.SurgeryRequest) (*domain.SurgeryRequest, error) {
	return mutate(ctx, s, "add_surgery_request", func(tx domain.Transaction) (*domain.SurgeryRequest, error) {
		if err := required(domain.EntitySurgeryRequest, "", "surgery_type", req.SurgeryType); err != nil {
			return nil, err
		}
		switch req.Urgency {
		case domain.UrgencyElective, domain.UrgencyUrgent, domain.UrgencyEmergency:
		case "":
			req.Urgency = domain.UrgencyElective
		default:
			return nil, domain.ValidationError{Entity: domain.EntitySurgeryRequest, Field: "urgency", Message: fmt.Sprintf("%q is not a known urgency", req.Urgency)}
		}
		if req.RequestedDate.IsZero() {
			req.RequestedDate = tx.Now()
		}
		req.ID = ""
		req.Status = domain.SurgeryScheduled
		return save(tx, &req)
	})
}

// SurgeryUpdate carries the optional fields of a surgery status change.
type SurgeryUpdate struct {
	ScheduledDate *time.Time
	OTRoom        string
	Notes         string
}

// UpdateSurgeryRequestStatus moves a surgery request through its workflow.
// The requesting doctor and the OT coordinators are notified.
func (s *Service) UpdateSurgeryRequestStatus(ctx context.Context, id string, status domain.SurgeryStatus, extra SurgeryUpdate) (*domain.SurgeryRequest, error) {
	return mutate(ctx, s, "update_surgery_request_status", func(tx domain.Transaction) (*domain.SurgeryRequest, error) {
		req, err := load[*domain.SurgeryRequest](tx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(req, string(status)); err != nil {
			return nil, err
		}
		if extra.ScheduledDate != nil {
			when := *extra.ScheduledDate
			req.ScheduledDate = &when
		}
		if extra.OTRoom != "" {
			req.OTRoom = extra.OTRoom
		}
		if extra.Notes != "" {
			req.Notes = extra.Notes
		}
		req.Status = status
		return save(tx, req)
	})
}

// AddSurgeryProgress logs the stage an operation has reached. Stages never
// move backwards, and only scheduled or running surgeries take entries.
func (s *Service) AddSurgeryProgress(ctx context.Context, id string, stage domain.SurgeryStage, notes, actorID string) (*domain.SurgeryRequest, error) {
	return mutate(ctx, s, "add_surgery_progress", func(tx domain.Transaction) (*domain.SurgeryRequest, error) {
		req, err := load[*domain.SurgeryRequest](tx, id)
		if err != nil {
			return nil, err
		}
		if req.Status != domain.SurgeryScheduled && req.Status != domain.SurgeryInProgress {
			return nil, domain.ValidationError{Entity: domain.EntitySurgeryRequest, ID: id, Field: "status", Message: fmt.Sprintf("is %s, progress is only logged for scheduled or running surgeries", req.Status)}
		}
		rank := stageRank(stage)
		if rank < 0 {
			return nil, domain.ValidationError{Entity: domain.EntitySurgeryRequest, ID: id, Field: "progress.stage", Message: fmt.Sprintf("%q is not a known stage", stage)}
		}
		if n := len(req.Progress); n > 0 && rank < stageRank(req.Progress[n-1].Stage) {
			return nil, domain.ValidationError{Entity: domain.EntitySurgeryRequest, ID: id, Field: "progress.stage", Message: fmt.Sprintf("cannot return to %s after %s", stage, req.Progress[n-1].Stage)}
		}
		by := s.actor(ctx, actorID)
		if err := required(domain.EntitySurgeryRequest, id, "progress.updated_by", by); err != nil {
			return nil, err
		}
		req.Progress = append(req.Progress, domain.SurgeryProgress{
			Stage:     stage,
			Notes:     strings.TrimSpace(notes),
			UpdatedBy: by,
			At:        tx.Now(),
		})
		return save(tx, req)
	})
}

func stageRank(stage domain.SurgeryStage) int {
	for i, s := range domain.SurgeryStages() {
		if s == stage {
			return i
		}
	}
	return -1
}

// AddReferral sends a patient to a specialist.
func (s *Service) AddReferral(ctx context.Context, ref domain.Referral) (*domain.Referral, error) {
	return mutate(ctx, s, "add_referral", func(tx domain.Transaction) (*domain.Referral, error) {
		if err := required(domain.EntityReferral, "", "specialist", ref.Specialist); err != nil {
			return nil, err
		}
		if err := required(domain.EntityReferral, "", "reason", ref.Reason); err != nil {
			return nil, err
		}
		ref.ID = ""
		ref.Status = domain.ReferralPending
		return save(tx, &ref)
	})
}

// UpdateReferralStatus accepts, rejects, or completes a referral. The
// referring doctor is notified.
func (s *Service) UpdateReferralStatus(ctx context.Context, id string, status domain.ReferralStatus, notes string) (*domain.Referral, error) {
	return mutate(ctx, s, "update_referral_status", func(tx domain.Transaction) (*domain.Referral, error) {
		ref, err := load[*domain.Referral](tx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(ref, string(status)); err != nil {
			return nil, err
		}
		if notes != "" {
			ref.Notes = notes
		}
		ref.Status = status
		return save(tx, ref)
	})
}
