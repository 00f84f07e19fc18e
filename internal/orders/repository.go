// Package orders owns typed access to the orders collection: strict decoding
// of raw documents, checkout creation, queries and status writes.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/store"
	"github.com/quickbite/platform/pkg/models"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository struct {
	store  store.Store
	logger *logrus.Logger
}

func NewRepository(s store.Store, logger *logrus.Logger) *Repository {
	return &Repository{store: s, logger: logger}
}

// CheckoutInput is what the cart submits. The total is computed here, once,
// and never recomputed afterwards.
type CheckoutInput struct {
	UserID          string
	UserName        string
	UserEmail       string
	Items           []models.OrderItem
	DeliveryAddress string
	ContactPhone    string
	Notes           string
}

// Create submits a new order with status pending. When the cart spans more
// than one restaurant the order's restaurantId is left empty; such orders are
// excluded from restaurant-scoped views and from fee computation.
func (r *Repository) Create(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	now := time.Now().UTC()

	var total float64
	for _, item := range input.Items {
		total += item.Price * float64(item.Quantity)
	}

	restaurantID, restaurantName := singleRestaurant(input.Items)

	order := &models.Order{
		ID:              uuid.New().String(),
		UserID:          input.UserID,
		UserName:        input.UserName,
		UserEmail:       input.UserEmail,
		RestaurantID:    restaurantID,
		RestaurantName:  restaurantName,
		Items:           input.Items,
		TotalAmount:     total,
		Status:          models.StatusPending,
		OrderDate:       now,
		DeliveryAddress: input.DeliveryAddress,
		ContactPhone:    input.ContactPhone,
		Notes:           input.Notes,
		UpdatedAt:       now,
	}

	if err := r.store.Put(ctx, models.CollectionOrders, order.ID, EncodeOrder(order)); err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"total_amount": order.TotalAmount,
		"items_count":  len(order.Items),
	}).Info("Order created")

	return order, nil
}

func singleRestaurant(items []models.OrderItem) (string, string) {
	var id, name string
	for _, item := range items {
		if item.RestaurantID == "" {
			continue
		}
		if id == "" {
			id, name = item.RestaurantID, item.RestaurantName
			continue
		}
		if id != item.RestaurantID {
			return "", ""
		}
	}
	return id, name
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Order, error) {
	doc, err := r.store.Get(ctx, models.CollectionOrders, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	order, invalid := DecodeOrder(id, doc)
	if invalid != nil {
		return nil, malformed(invalid.ID, invalid.Reason)
	}
	return order, nil
}

// All returns every decodable order plus the invalid records encountered.
func (r *Repository) All(ctx context.Context) ([]models.Order, []InvalidRecord, error) {
	docs, err := r.store.Query(ctx, models.CollectionOrders, nil)
	if err != nil {
		return nil, nil, err
	}

	var valid []models.Order
	var invalid []InvalidRecord
	for _, doc := range docs {
		order, bad := DecodeOrder(doc.ID, doc.Data)
		if bad != nil {
			r.logger.WithFields(logrus.Fields{
				"order_id": bad.ID,
				"reason":   bad.Reason,
			}).Warn("Excluding malformed order record")
			invalid = append(invalid, *bad)
			continue
		}
		valid = append(valid, *order)
	}
	return valid, invalid, nil
}

// DeliveredByRestaurant returns the delivered orders attributed to one
// restaurant. Malformed records are skipped.
func (r *Repository) DeliveredByRestaurant(ctx context.Context, restaurantID string) ([]models.Order, error) {
	docs, err := r.store.Query(ctx, models.CollectionOrders, store.Filter{
		"restaurantId": restaurantID,
		"status":       models.StatusDelivered,
	})
	if err != nil {
		return nil, err
	}

	var result []models.Order
	for _, doc := range docs {
		order, bad := DecodeOrder(doc.ID, doc.Data)
		if bad != nil {
			r.logger.WithFields(logrus.Fields{
				"order_id": bad.ID,
				"reason":   bad.Reason,
			}).Warn("Excluding malformed order record")
			continue
		}
		result = append(result, *order)
	}
	return result, nil
}

// UpdateStatus writes the order back with only status and updatedAt changed.
// The write is a single upsert keyed on the order ID; concurrent writers from
// other processes race at last-write-wins.
func (r *Repository) UpdateStatus(ctx context.Context, order *models.Order, status string) (*models.Order, error) {
	updated := *order
	updated.Status = status
	updated.UpdatedAt = time.Now().UTC()

	if err := r.store.Put(ctx, models.CollectionOrders, updated.ID, EncodeOrder(&updated)); err != nil {
		return nil, err
	}
	return &updated, nil
}
