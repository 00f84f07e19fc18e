// Package notify turns order transition events into role-specific messages.
//
// Only two transitions produce mail: entering processing (customer + admin)
// and entering delivered (customer + restaurant owner + admin). Every other
// transition is deliberately silent.
package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/events"
	"github.com/quickbite/platform/internal/mail"
	"github.com/quickbite/platform/internal/store"
	"github.com/quickbite/platform/pkg/models"
)

type Dispatcher struct {
	store  store.Store
	sender mail.Sender
	logger *logrus.Logger
}

func NewDispatcher(s store.Store, sender mail.Sender, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{store: s, sender: sender, logger: logger}
}

// HandleOrderTransitioned resolves the affected parties and delivers one
// message per recipient. Attempts are independent: one recipient's failure is
// logged and does not block the others, and no failure ever reaches the
// caller of the transition.
func (d *Dispatcher) HandleOrderTransitioned(ctx context.Context, event events.OrderTransitionEvent) error {
	notifications := d.Render(ctx, event)
	if len(notifications) == 0 {
		return nil
	}

	for _, n := range notifications {
		if err := d.sender.Send(n.Recipient, n.Subject, n.Body); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"order_id":  event.OrderID,
				"recipient": n.Recipient,
			}).Error("Failed to deliver notification")
			continue
		}
		d.logger.WithFields(logrus.Fields{
			"order_id":  event.OrderID,
			"recipient": n.Recipient,
		}).Info("Notification delivered")
	}
	return nil
}

// Render resolves recipients and message bodies for a transition without
// sending anything. Transitions outside the content policy yield nothing.
func (d *Dispatcher) Render(ctx context.Context, event events.OrderTransitionEvent) []models.Notification {
	var notifications []models.Notification
	now := time.Now().UTC()

	add := func(recipient, subject, body string) {
		if recipient == "" {
			d.logger.WithFields(logrus.Fields{
				"order_id": event.OrderID,
				"subject":  subject,
			}).Warn("Skipping notification, no recipient address resolved")
			return
		}
		notifications = append(notifications, models.Notification{
			ID:        uuid.New().String(),
			Recipient: recipient,
			Subject:   subject,
			Body:      body,
			CreatedAt: now,
		})
	}

	switch event.ToStatus {
	case models.StatusProcessing:
		add(d.customerEmail(ctx, event),
			fmt.Sprintf("Your order %s is being prepared", event.OrderID),
			fmt.Sprintf("Good news! The restaurant has started preparing your order (total %.2f).", event.TotalAmount))
		add(d.adminEmail(ctx),
			fmt.Sprintf("Order %s moved to processing", event.OrderID),
			fmt.Sprintf("Order %s (total %.2f) is now being prepared.", event.OrderID, event.TotalAmount))

	case models.StatusDelivered:
		add(d.customerEmail(ctx, event),
			fmt.Sprintf("Your order %s has been delivered", event.OrderID),
			"Enjoy your meal! Let us know how it was.")
		add(d.ownerEmail(ctx, event.RestaurantID),
			fmt.Sprintf("Order %s delivered", event.OrderID),
			fmt.Sprintf("Order %s (total %.2f) has been delivered to the customer.", event.OrderID, event.TotalAmount))
		add(d.adminEmail(ctx),
			fmt.Sprintf("Order %s delivered", event.OrderID),
			fmt.Sprintf("Order %s (total %.2f) has been delivered.", event.OrderID, event.TotalAmount))
	}

	return notifications
}

// customerEmail prefers the address snapshotted on the order, falling back to
// the user profile.
func (d *Dispatcher) customerEmail(ctx context.Context, event events.OrderTransitionEvent) string {
	if event.UserEmail != "" {
		return event.UserEmail
	}

	doc, err := d.store.Get(ctx, models.CollectionUsers, event.UserID)
	if err != nil {
		d.logger.WithError(err).WithField("user_id", event.UserID).Warn("Failed to resolve customer profile")
		return ""
	}
	email, _ := doc["email"].(string)
	return email
}

func (d *Dispatcher) ownerEmail(ctx context.Context, restaurantID string) string {
	if restaurantID == "" {
		return ""
	}

	restaurant, err := d.store.Get(ctx, models.CollectionRestaurants, restaurantID)
	if err != nil {
		d.logger.WithError(err).WithField("restaurant_id", restaurantID).Warn("Failed to resolve restaurant")
		return ""
	}
	ownerID, _ := restaurant["ownerId"].(string)
	if ownerID == "" {
		return ""
	}

	owner, err := d.store.Get(ctx, models.CollectionUsers, ownerID)
	if err != nil {
		d.logger.WithError(err).WithField("owner_id", ownerID).Warn("Failed to resolve owner profile")
		return ""
	}
	email, _ := owner["email"].(string)
	return email
}

// adminEmail notifies a single admin: the first profile found with the admin
// role, not every admin. Notifying all admins would be arguably better, but
// the single-recipient behavior is kept.
func (d *Dispatcher) adminEmail(ctx context.Context) string {
	docs, err := d.store.Query(ctx, models.CollectionUsers, store.Filter{"role": models.RoleAdmin})
	if err != nil {
		d.logger.WithError(err).Warn("Failed to query admin profiles")
		return ""
	}
	if len(docs) == 0 {
		return ""
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	email, _ := docs[0].Data["email"].(string)
	return email
}
