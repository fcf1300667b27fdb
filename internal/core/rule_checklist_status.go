package core

import (
	"context"
	"fmt"

	"hospitalcore/pkg/domain"
)

// NewChecklistStatusRule returns the rule keeping every written OT checklist's
// stored status and checked count equal to the values derived from its items.
func NewChecklistStatusRule() domain.Rule {
	return checklistStatusRule{}
}

type checklistStatusRule struct{}

func (checklistStatusRule) Name() string { return "checklist_status" }

func (checklistStatusRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		checklist, ok := change.After.(*domain.OTChecklist)
		if !ok {
			continue
		}
		status, checked := DeriveChecklistStatus(checklist.Items)
		if checklist.Status == status && checklist.CheckedCount == checked {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "checklist_status",
			Severity: domain.SeverityBlock,
			Message: fmt.Sprintf("checklist %s stores %s with %d checked, items derive %s with %d checked",
				checklist.ID, checklist.Status, checklist.CheckedCount, status, checked),
			Entity:   domain.EntityOTChecklist,
			EntityID: checklist.ID,
		})
	}
	return res, nil
}
