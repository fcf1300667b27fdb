package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hospitalcore/pkg/domain"
)

// AddOTChecklist creates the checklist for a surgery request. Status and the
// checked count are derived from the items.
func (s *Service) AddOTChecklist(ctx context.Context, surgeryRequestID string, items []domain.ChecklistItem) (*domain.OTChecklist, error) {
	actor := s.actor(ctx, "")
	return mutate(ctx, s, "add_ot_checklist", func(tx domain.Transaction) (*domain.OTChecklist, error) {
		if _, err := load[*domain.SurgeryRequest](tx, surgeryRequestID); err != nil {
			return nil, err
		}
		for existing := range domain.Find(tx, func(c *domain.OTChecklist) bool { return c.SurgeryRequestID == surgeryRequestID }) {
			return nil, domain.ValidationError{
				Entity:  domain.EntitySurgeryRequest,
				ID:      surgeryRequestID,
				Field:   "checklist",
				Message: fmt.Sprintf("already exists as %s", existing.ID),
			}
		}
		normalized, err := normalizeItems("", items, nil, actor, tx.Now())
		if err != nil {
			return nil, err
		}
		checklist := &domain.OTChecklist{SurgeryRequestID: surgeryRequestID, Items: normalized}
		checklist.Status, checklist.CheckedCount = DeriveChecklistStatus(normalized)
		return save(tx, checklist)
	})
}

// UpdateOTChecklist replaces a checklist's items. The supplied status must be
// empty or equal the status derived from the items.
func (s *Service) UpdateOTChecklist(ctx context.Context, id string, items []domain.ChecklistItem, status domain.ChecklistStatus) (*domain.OTChecklist, error) {
	actor := s.actor(ctx, "")
	return mutate(ctx, s, "update_ot_checklist", func(tx domain.Transaction) (*domain.OTChecklist, error) {
		checklist, err := load[*domain.OTChecklist](tx, id)
		if err != nil {
			return nil, err
		}
		normalized, err := normalizeItems(id, items, checklist.Items, actor, tx.Now())
		if err != nil {
			return nil, err
		}
		derived, checked := DeriveChecklistStatus(normalized)
		if status != "" && status != derived {
			return nil, domain.ValidationError{
				Entity:  domain.EntityOTChecklist,
				ID:      id,
				Field:   "status",
				Message: fmt.Sprintf("%s does not match items, which derive %s", status, derived),
			}
		}
		checklist.Items = normalized
		checklist.Status, checklist.CheckedCount = derived, checked
		return save(tx, checklist)
	})
}

// ToggleOTChecklistItem flips one item, stamping who checked it and when, and
// recomputes the checklist status. An empty actorID uses the session user.
func (s *Service) ToggleOTChecklistItem(ctx context.Context, id string, index int, actorID string) (*domain.OTChecklist, error) {
	actor := s.actor(ctx, actorID)
	return mutate(ctx, s, "toggle_ot_checklist_item", func(tx domain.Transaction) (*domain.OTChecklist, error) {
		checklist, err := load[*domain.OTChecklist](tx, id)
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= len(checklist.Items) {
			return nil, domain.ValidationError{Entity: domain.EntityOTChecklist, ID: id, Field: "items", Message: fmt.Sprintf("has no item %d", index)}
		}
		item := &checklist.Items[index]
		if item.Checked {
			item.Checked = false
			item.CheckedBy = ""
			item.CheckedAt = nil
		} else {
			if actor == "" {
				return nil, domain.ValidationError{Entity: domain.EntityOTChecklist, ID: id, Field: "checked_by", Message: "is required to check an item"}
			}
			now := tx.Now()
			item.Checked = true
			item.CheckedBy = actor
			item.CheckedAt = &now
		}
		checklist.Status, checklist.CheckedCount = DeriveChecklistStatus(checklist.Items)
		return save(tx, checklist)
	})
}

// normalizeItems validates items and fills in check stamps. Items that were
// already checked keep their original stamp.
func normalizeItems(id string, items, previous []domain.ChecklistItem, actor string, now time.Time) ([]domain.ChecklistItem, error) {
	if len(items) == 0 {
		return nil, domain.ValidationError{Entity: domain.EntityOTChecklist, ID: id, Field: "items", Message: "must not be empty"}
	}
	out := make([]domain.ChecklistItem, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Description) == "" {
			return nil, domain.ValidationError{Entity: domain.EntityOTChecklist, ID: id, Field: fmt.Sprintf("items[%d].description", i), Message: "is required"}
		}
		if !item.Checked {
			item.CheckedBy = ""
			item.CheckedAt = nil
			out[i] = item
			continue
		}
		if i < len(previous) && previous[i].Checked && previous[i].Description == item.Description {
			item.CheckedBy = previous[i].CheckedBy
			item.CheckedAt = previous[i].CheckedAt
		}
		if item.CheckedBy == "" {
			item.CheckedBy = actor
		}
		if item.CheckedBy == "" {
			return nil, domain.ValidationError{Entity: domain.EntityOTChecklist, ID: id, Field: fmt.Sprintf("items[%d].checked_by", i), Message: "is required for a checked item"}
		}
		if item.CheckedAt == nil {
			stamp := now
			item.CheckedAt = &stamp
		}
		out[i] = item
	}
	return out, nil
}
