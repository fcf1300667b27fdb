package core

import (
	"context"
	"fmt"

	"hospitalcore/pkg/domain"
)

// NewBillTotalsRule returns the rule keeping stored bill totals equal to the
// totals derived from the bill's items.
func NewBillTotalsRule() domain.Rule {
	return billTotalsRule{}
}

type billTotalsRule struct{}

func (billTotalsRule) Name() string { return "bill_totals" }

func (billTotalsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		bill, ok := change.After.(*domain.Bill)
		if !ok {
			continue
		}
		want := ComputeBillTotals(bill.Items, bill.Tax, bill.Discount)
		mismatch := bill.Subtotal != want.Subtotal || bill.Total != want.Total
		for i := range bill.Items {
			if bill.Items[i].Total != want.Items[i].Total {
				mismatch = true
			}
		}
		if want.Total < 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "bill_totals",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("bill %s discount exceeds charges", bill.ID),
				Entity:   domain.EntityBill,
				EntityID: bill.ID,
			})
			continue
		}
		if !mismatch {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "bill_totals",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("bill %s totals %d/%d do not match items %d/%d", bill.ID, bill.Subtotal, bill.Total, want.Subtotal, want.Total),
			Entity:   domain.EntityBill,
			EntityID: bill.ID,
		})
	}
	return res, nil
}
