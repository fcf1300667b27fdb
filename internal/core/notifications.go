package core

import (
	"context"
	"fmt"
	"time"

	"hospitalcore/pkg/domain"
)

// AddNotification creates one unread notification for the recipients.
// Identical calls create distinct notifications.
func (s *Service) AddNotification(ctx context.Context, recipientIDs []string, kind domain.NotificationKind, title, message string) (*domain.Notification, error) {
	return mutate(ctx, s, "add_notification", func(tx domain.Transaction) (*domain.Notification, error) {
		return s.notifier.Notify(tx, domain.Notification{
			RecipientIDs: recipientIDs,
			Type:         kind,
			Title:        title,
			Message:      message,
		})
	})
}

// MarkNotificationRead records that the user read the notification. Marking
// an already read notification leaves it unchanged.
func (s *Service) MarkNotificationRead(ctx context.Context, id, userID string) (*domain.Notification, error) {
	return mutate(ctx, s, "mark_notification_read", func(tx domain.Transaction) (*domain.Notification, error) {
		n, err := load[*domain.Notification](tx, id)
		if err != nil {
			return nil, err
		}
		user, err := load[*domain.User](tx, userID)
		if err != nil {
			return nil, err
		}
		if !n.AddressedTo(user) {
			return nil, domain.ValidationError{Entity: domain.EntityNotification, ID: id, Field: "read_by", Message: fmt.Sprintf("user %s is not a recipient", userID)}
		}
		if n.ReadByUser(userID) {
			return n, nil
		}
		if n.ReadBy == nil {
			n.ReadBy = make(map[string]time.Time)
		}
		n.ReadBy[userID] = tx.Now()
		return save(tx, n)
	})
}
