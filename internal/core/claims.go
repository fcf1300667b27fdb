package core

import (
	"context"
	"fmt"
	"strings"

	"hospitalcore/pkg/domain"
)

// ClaimSubmission carries the fields of a new insurance claim.
type ClaimSubmission struct {
	BillID           string
	PatientID        string
	Provider         string
	MembershipNumber string
	ClaimAmount      domain.Amount
	ClaimedAmount    domain.Amount
	Notes            string
}

// ClaimUpdate carries the optional fields of a claim status change.
type ClaimUpdate struct {
	RejectionReason string
	Notes           string
}

// SubmitInsuranceClaim files a claim against a bill. The claim starts in the
// submitted state and the insurance officers are notified.
func (s *Service) SubmitInsuranceClaim(ctx context.Context, sub ClaimSubmission) (*domain.InsuranceClaim, error) {
	return mutate(ctx, s, "submit_insurance_claim", func(tx domain.Transaction) (*domain.InsuranceClaim, error) {
		if err := required(domain.EntityInsuranceClaim, "", "provider", sub.Provider); err != nil {
			return nil, err
		}
		if err := required(domain.EntityInsuranceClaim, "", "membership_number", sub.MembershipNumber); err != nil {
			return nil, err
		}
		if err := validateClaimAmount(sub.ClaimAmount); err != nil {
			return nil, err
		}
		if sub.ClaimedAmount < 0 {
			return nil, domain.ValidationError{Entity: domain.EntityInsuranceClaim, Field: "claimed_amount", Message: "must not be negative"}
		}
		bill, ok := domain.Get[*domain.Bill](tx, sub.BillID)
		if !ok {
			return nil, domain.ReferentialIntegrityError{Entity: domain.EntityInsuranceClaim, Field: "bill_id", Target: domain.EntityBill, TargetID: sub.BillID}
		}
		if bill.PatientID != sub.PatientID {
			return nil, domain.ValidationError{Entity: domain.EntityInsuranceClaim, Field: "patient_id", Message: fmt.Sprintf("does not match bill %s", bill.ID)}
		}
		if err := ensureNoOpenClaim(tx, bill.ID); err != nil {
			return nil, err
		}
		now := tx.Now()
		return save(tx, &domain.InsuranceClaim{
			BillID:           bill.ID,
			PatientID:        sub.PatientID,
			Provider:         sub.Provider,
			MembershipNumber: sub.MembershipNumber,
			ClaimAmount:      sub.ClaimAmount,
			ClaimedAmount:    sub.ClaimedAmount,
			Status:           domain.ClaimSubmitted,
			ClaimNumber:      s.claimNumber(sub.Provider, now),
			SubmissionDate:   &now,
			Notes:            sub.Notes,
		})
	})
}

// ForwardBill creates exactly one submitted claim from a pending bill using
// the patient's insurance membership. The bill stays pending with insurance
// as its payment method until the cashier settles it.
func (s *Service) ForwardBill(ctx context.Context, billID string) (*domain.InsuranceClaim, error) {
	return mutate(ctx, s, "forward_bill", func(tx domain.Transaction) (*domain.InsuranceClaim, error) {
		bill, err := load[*domain.Bill](tx, billID)
		if err != nil {
			return nil, err
		}
		if bill.Status != domain.BillPending {
			return nil, domain.ValidationError{Entity: domain.EntityBill, ID: bill.ID, Field: "status", Message: fmt.Sprintf("is %s, only pending bills can be forwarded", bill.Status)}
		}
		patient, err := load[*domain.Patient](tx, bill.PatientID)
		if err != nil {
			return nil, err
		}
		if patient.Insurance == nil || patient.Insurance.Provider == "" || patient.Insurance.MembershipNumber == "" {
			return nil, domain.ValidationError{Entity: domain.EntityPatient, ID: patient.ID, Field: "insurance", Message: "is required to forward a bill"}
		}
		if err := ensureNoOpenClaim(tx, bill.ID); err != nil {
			return nil, err
		}
		if err := validateClaimAmount(bill.Total); err != nil {
			return nil, err
		}
		bill.PaymentMethod = domain.PaymentInsurance
		if _, err := save(tx, bill); err != nil {
			return nil, err
		}
		now := tx.Now()
		return save(tx, &domain.InsuranceClaim{
			BillID:           bill.ID,
			PatientID:        patient.ID,
			Provider:         patient.Insurance.Provider,
			MembershipNumber: patient.Insurance.MembershipNumber,
			ClaimAmount:      bill.Total,
			ClaimedAmount:    bill.Total,
			Status:           domain.ClaimSubmitted,
			ClaimNumber:      s.claimNumber(patient.Insurance.Provider, now),
			SubmissionDate:   &now,
		})
	})
}

// UpdateInsuranceClaimStatus moves a claim through its workflow. The bill the
// claim was raised against is not touched.
func (s *Service) UpdateInsuranceClaimStatus(ctx context.Context, claimID string, status domain.ClaimStatus, extra ClaimUpdate) (*domain.InsuranceClaim, error) {
	return mutate(ctx, s, "update_insurance_claim_status", func(tx domain.Transaction) (*domain.InsuranceClaim, error) {
		claim, err := load[*domain.InsuranceClaim](tx, claimID)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(claim, string(status)); err != nil {
			return nil, err
		}
		now := tx.Now()
		claim.Status = status
		switch status {
		case domain.ClaimSubmitted:
			claim.SubmissionDate = &now
		case domain.ClaimApproved:
			claim.ApprovalDate = &now
		case domain.ClaimRejected:
			claim.RejectionReason = strings.TrimSpace(extra.RejectionReason)
		case domain.ClaimPaid:
			claim.PaidAt = &now
		}
		if extra.Notes != "" {
			claim.Notes = extra.Notes
		}
		return save(tx, claim)
	})
}

// validateClaimAmount applies to every way a claim is created.
func validateClaimAmount(amount domain.Amount) error {
	if amount <= 0 {
		return domain.ValidationError{Entity: domain.EntityInsuranceClaim, Field: "claim_amount", Message: "must be positive"}
	}
	return nil
}

func ensureNoOpenClaim(view domain.TransactionView, billID string) error {
	for claim := range domain.Find(view, func(c *domain.InsuranceClaim) bool {
		return c.BillID == billID && c.Status != domain.ClaimRejected
	}) {
		return domain.ValidationError{
			Entity:  domain.EntityBill,
			ID:      billID,
			Field:   "claims",
			Message: fmt.Sprintf("already has open claim %s", claim.ClaimNumber),
		}
	}
	return nil
}
