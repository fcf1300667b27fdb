package core

import (
	"context"
	"fmt"
	"strings"

	"hospitalcore/pkg/domain"
)

// NewLabResultsRule returns the rule requiring results on completed lab orders.
func NewLabResultsRule() domain.Rule {
	return labResultsRule{}
}

type labResultsRule struct{}

func (labResultsRule) Name() string { return "lab_results" }

func (labResultsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		order, ok := change.After.(*domain.LabOrder)
		if !ok || order.Status != domain.LabOrderCompleted {
			continue
		}
		if strings.TrimSpace(order.Results) != "" {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "lab_results",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("lab order %s is completed without results", order.ID),
			Entity:   domain.EntityLabOrder,
			EntityID: order.ID,
		})
	}
	return res, nil
}
