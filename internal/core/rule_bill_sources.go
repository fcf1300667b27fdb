package core

import (
	"context"
	"fmt"

	"hospitalcore/pkg/domain"
)

// NewBillSourcesRule returns the rule charging each appointment, prescription,
// and lab order on at most one live bill.
func NewBillSourcesRule() domain.Rule {
	return billSourcesRule{}
}

type billSourcesRule struct{}

func (billSourcesRule) Name() string { return "bill_sources" }

func billableKind(kind domain.EntityType) bool {
	switch kind {
	case domain.EntityAppointment, domain.EntityPrescription, domain.EntityLabOrder:
		return true
	}
	return false
}

func (billSourcesRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(bill *domain.Bill, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "bill_sources",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("bill %s ", bill.ID) + fmt.Sprintf(format, args...),
			Entity:   domain.EntityBill,
			EntityID: bill.ID,
		})
	}
	for _, change := range changes {
		bill, ok := change.After.(*domain.Bill)
		if !ok || bill.Status == domain.BillCancelled {
			continue
		}
		seen := make(map[string]struct{})
		for _, item := range bill.Items {
			if item.SourceID == "" {
				continue
			}
			if !billableKind(item.SourceKind) {
				block(bill, "charges %s %s, which is not billable work", item.SourceKind, item.SourceID)
				continue
			}
			key := sourceKey(item.SourceKind, item.SourceID)
			if _, dup := seen[key]; dup {
				block(bill, "charges %s %s twice", item.SourceKind, item.SourceID)
				continue
			}
			seen[key] = struct{}{}
		}
		if len(seen) == 0 {
			continue
		}
		others := domain.Find(view, func(b *domain.Bill) bool {
			return b.ID != bill.ID && b.Status != domain.BillCancelled
		})
		for other := range others {
			for _, item := range other.Items {
				if _, dup := seen[sourceKey(item.SourceKind, item.SourceID)]; dup && item.SourceID != "" {
					block(bill, "charges %s %s already on bill %s", item.SourceKind, item.SourceID, other.ID)
				}
			}
		}
	}
	return res, nil
}
