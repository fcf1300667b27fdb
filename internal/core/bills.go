package core

import (
	"context"
	"fmt"
	"strings"

	"hospitalcore/pkg/domain"
)

// CreateBill opens a pending bill. Item totals, subtotal, and total are
// derived from the items, tax, and discount.
func (s *Service) CreateBill(ctx context.Context, patientID string, items []domain.BillItem, tax, discount domain.Amount) (*domain.Bill, error) {
	return mutate(ctx, s, "create_bill", func(tx domain.Transaction) (*domain.Bill, error) {
		for i, item := range items {
			if err := validateBillItem("", i, item); err != nil {
				return nil, err
			}
		}
		if tax < 0 || discount < 0 {
			return nil, domain.ValidationError{Entity: domain.EntityBill, Field: "tax", Message: "tax and discount must not be negative"}
		}
		bill := &domain.Bill{
			PatientID: patientID,
			Items:     append([]domain.BillItem(nil), items...),
			Tax:       tax,
			Discount:  discount,
			Status:    domain.BillPending,
		}
		applyBillTotals(bill)
		return save(tx, bill)
	})
}

// AddBillItem appends a charge to a pending bill.
func (s *Service) AddBillItem(ctx context.Context, billID string, item domain.BillItem) (*domain.Bill, error) {
	return mutate(ctx, s, "add_bill_item", func(tx domain.Transaction) (*domain.Bill, error) {
		bill, err := load[*domain.Bill](tx, billID)
		if err != nil {
			return nil, err
		}
		if bill.Status != domain.BillPending {
			return nil, domain.ValidationError{Entity: domain.EntityBill, ID: billID, Field: "status", Message: fmt.Sprintf("is %s, items can only be added to pending bills", bill.Status)}
		}
		if err := validateBillItem(billID, len(bill.Items), item); err != nil {
			return nil, err
		}
		bill.Items = append(bill.Items, item)
		applyBillTotals(bill)
		return save(tx, bill)
	})
}

// UpdateBillStatus settles or cancels a pending bill. Paying requires a
// payment method; a bill forwarded to insurance may keep its insurance method.
func (s *Service) UpdateBillStatus(ctx context.Context, billID string, status domain.BillStatus, method domain.PaymentMethod) (*domain.Bill, error) {
	return mutate(ctx, s, "update_bill_status", func(tx domain.Transaction) (*domain.Bill, error) {
		bill, err := load[*domain.Bill](tx, billID)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(bill, string(status)); err != nil {
			return nil, err
		}
		if status == domain.BillPaid {
			if method == "" {
				method = bill.PaymentMethod
			}
			if !method.Valid() {
				return nil, domain.ValidationError{Entity: domain.EntityBill, ID: billID, Field: "payment_method", Message: fmt.Sprintf("%q is not a known payment method", method)}
			}
			now := tx.Now()
			bill.PaymentMethod = method
			bill.PaidAt = &now
		}
		bill.Status = status
		return save(tx, bill)
	})
}

func validateBillItem(billID string, index int, item domain.BillItem) error {
	field := fmt.Sprintf("items[%d]", index)
	switch {
	case strings.TrimSpace(item.Description) == "":
		return domain.ValidationError{Entity: domain.EntityBill, ID: billID, Field: field + ".description", Message: "is required"}
	case item.Quantity <= 0:
		return domain.ValidationError{Entity: domain.EntityBill, ID: billID, Field: field + ".quantity", Message: "must be positive"}
	case item.UnitPrice < 0:
		return domain.ValidationError{Entity: domain.EntityBill, ID: billID, Field: field + ".unit_price", Message: "must not be negative"}
	case item.SourceID != "" && !billableKind(item.SourceKind):
		return domain.ValidationError{Entity: domain.EntityBill, ID: billID, Field: field + ".source_kind", Message: fmt.Sprintf("%q is not billable work", item.SourceKind)}
	}
	return nil
}
