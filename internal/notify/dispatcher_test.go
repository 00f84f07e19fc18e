package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/events"
	"github.com/quickbite/platform/internal/store"
	"github.com/quickbite/platform/pkg/models"
)

type sentMail struct {
	To      string
	Subject string
}

type fakeSender struct {
	mutex   sync.Mutex
	sent    []sentMail
	failFor map[string]bool
}

func (f *fakeSender) Send(to, subject, body string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.failFor[to] {
		return errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject})
	return nil
}

func (f *fakeSender) recipients() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.To)
	}
	return out
}

func testDispatcher(t *testing.T) (*Dispatcher, *fakeSender, *store.Memory) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	m := store.NewMemory(logger)
	ctx := context.Background()
	m.Put(ctx, models.CollectionUsers, "u1", map[string]interface{}{
		"email": "customer@example.com", "role": models.RoleUser,
	})
	m.Put(ctx, models.CollectionUsers, "owner1", map[string]interface{}{
		"email": "owner@example.com", "role": models.RoleRestaurantOwner, "restaurantId": "r1",
	})
	m.Put(ctx, models.CollectionUsers, "admin1", map[string]interface{}{
		"email": "admin@example.com", "role": models.RoleAdmin,
	})
	m.Put(ctx, models.CollectionRestaurants, "r1", map[string]interface{}{
		"ownerId": "owner1", "isActive": true,
	})

	sender := &fakeSender{failFor: make(map[string]bool)}
	return NewDispatcher(m, sender, logger), sender, m
}

func processingEvent() events.OrderTransitionEvent {
	return events.OrderTransitionEvent{
		OrderID:      "o1",
		UserID:       "u1",
		UserEmail:    "customer@example.com",
		RestaurantID: "r1",
		FromStatus:   models.StatusPending,
		ToStatus:     models.StatusProcessing,
		TotalAmount:  250.0,
	}
}

func TestProcessingNotifiesCustomerAndAdmin(t *testing.T) {
	dispatcher, sender, _ := testDispatcher(t)

	if err := dispatcher.HandleOrderTransitioned(context.Background(), processingEvent()); err != nil {
		t.Fatalf("HandleOrderTransitioned failed: %v", err)
	}

	got := sender.recipients()
	if len(got) != 2 {
		t.Fatalf("Expected 2 notifications, got %d: %v", len(got), got)
	}
	if got[0] != "customer@example.com" || got[1] != "admin@example.com" {
		t.Errorf("Wrong recipients: %v", got)
	}
}

func TestDeliveredNotifiesCustomerOwnerAndAdmin(t *testing.T) {
	dispatcher, sender, _ := testDispatcher(t)

	event := processingEvent()
	event.FromStatus = models.StatusProcessing
	event.ToStatus = models.StatusDelivered

	if err := dispatcher.HandleOrderTransitioned(context.Background(), event); err != nil {
		t.Fatalf("HandleOrderTransitioned failed: %v", err)
	}

	got := sender.recipients()
	if len(got) != 3 {
		t.Fatalf("Expected 3 notifications, got %d: %v", len(got), got)
	}
	expected := []string{"customer@example.com", "owner@example.com", "admin@example.com"}
	for i, want := range expected {
		if got[i] != want {
			t.Errorf("Recipient %d: expected %s, got %s", i, want, got[i])
		}
	}
}

func TestOtherTransitionsAreSilent(t *testing.T) {
	dispatcher, sender, _ := testDispatcher(t)
	ctx := context.Background()

	for _, to := range []string{models.StatusPending, models.StatusCompleted, models.StatusCancelled} {
		event := processingEvent()
		event.ToStatus = to
		if err := dispatcher.HandleOrderTransitioned(ctx, event); err != nil {
			t.Fatalf("HandleOrderTransitioned failed: %v", err)
		}
	}

	if len(sender.recipients()) != 0 {
		t.Errorf("Expected silence, got %v", sender.recipients())
	}
}

func TestCustomerEmailFallsBackToProfile(t *testing.T) {
	dispatcher, sender, _ := testDispatcher(t)

	event := processingEvent()
	event.UserEmail = ""

	dispatcher.HandleOrderTransitioned(context.Background(), event)

	got := sender.recipients()
	if len(got) == 0 || got[0] != "customer@example.com" {
		t.Errorf("Expected profile fallback to customer@example.com, got %v", got)
	}
}

func TestOneFailureDoesNotBlockOthers(t *testing.T) {
	dispatcher, sender, _ := testDispatcher(t)
	sender.failFor["customer@example.com"] = true

	event := processingEvent()
	event.ToStatus = models.StatusDelivered

	// Delivery failures are absorbed, never surfaced.
	if err := dispatcher.HandleOrderTransitioned(context.Background(), event); err != nil {
		t.Fatalf("Expected nil despite delivery failure, got %v", err)
	}

	got := sender.recipients()
	if len(got) != 2 {
		t.Fatalf("Expected owner and admin to still be notified, got %v", got)
	}
	if got[0] != "owner@example.com" || got[1] != "admin@example.com" {
		t.Errorf("Wrong surviving recipients: %v", got)
	}
}

func TestSingleAdminRecipient(t *testing.T) {
	dispatcher, sender, m := testDispatcher(t)

	// A second admin exists but only one receives mail.
	m.Put(context.Background(), models.CollectionUsers, "zadmin", map[string]interface{}{
		"email": "second-admin@example.com", "role": models.RoleAdmin,
	})

	dispatcher.HandleOrderTransitioned(context.Background(), processingEvent())

	var adminCount int
	for _, to := range sender.recipients() {
		if to == "admin@example.com" || to == "second-admin@example.com" {
			adminCount++
		}
	}
	if adminCount != 1 {
		t.Errorf("Expected exactly one admin notification, got %d", adminCount)
	}
}

func TestMixedCartDeliveredSkipsOwner(t *testing.T) {
	dispatcher, sender, _ := testDispatcher(t)

	event := processingEvent()
	event.ToStatus = models.StatusDelivered
	event.RestaurantID = ""

	dispatcher.HandleOrderTransitioned(context.Background(), event)

	for _, to := range sender.recipients() {
		if to == "owner@example.com" {
			t.Error("Owner notified for order without restaurant attribution")
		}
	}
	if len(sender.recipients()) != 2 {
		t.Errorf("Expected customer and admin only, got %v", sender.recipients())
	}
}
