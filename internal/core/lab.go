package core

import (
	"context"
	"strings"

	"hospitalcore/pkg/domain"
)

// CreateLabOrder records a new lab order in the ordered state.
func (s *Service) CreateLabOrder(ctx context.Context, order domain.LabOrder) (*domain.LabOrder, error) {
	return mutate(ctx, s, "create_lab_order", func(tx domain.Transaction) (*domain.LabOrder, error) {
		return createLabOrder(tx, order)
	})
}

func createLabOrder(tx domain.Transaction, order domain.LabOrder) (*domain.LabOrder, error) {
	if err := required(domain.EntityLabOrder, "", "test_name", order.TestName); err != nil {
		return nil, err
	}
	order.ID = ""
	order.Status = domain.LabOrderOrdered
	order.Results = ""
	order.CompletedAt = nil
	return save(tx, &order)
}

// UpdateLabOrderStatus moves a lab order through ordered, in-progress, and
// completed or cancelled. Completing requires non-empty results and notifies
// the ordering provider.
func (s *Service) UpdateLabOrderStatus(ctx context.Context, id string, status domain.LabOrderStatus, results string) (*domain.LabOrder, error) {
	return mutate(ctx, s, "update_lab_order_status", func(tx domain.Transaction) (*domain.LabOrder, error) {
		order, err := load[*domain.LabOrder](tx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(order, string(status)); err != nil {
			return nil, err
		}
		if status == domain.LabOrderCompleted {
			results = strings.TrimSpace(results)
			if results == "" {
				return nil, domain.ValidationError{Entity: domain.EntityLabOrder, ID: id, Field: "results", Message: "are required to complete a lab order"}
			}
			now := tx.Now()
			order.Results = results
			order.CompletedAt = &now
		}
		order.Status = status
		return save(tx, order)
	})
}
