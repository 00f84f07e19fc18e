// Package lifecycle implements the order status state machine. Transitions
// are validated against the allowed edges and the acting role, applied as a
// single write, and followed by a best-effort transition event.
package lifecycle

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/events"
	"github.com/quickbite/platform/internal/locking"
	"github.com/quickbite/platform/internal/orders"
	"github.com/quickbite/platform/pkg/models"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("actor is not allowed to perform this transition")
)

// Actor is the authenticated identity requesting a transition. Token
// validation happens upstream; the engine only checks roles and ownership.
type Actor struct {
	UID          string
	Role         string
	RestaurantID string
}

type Emitter interface {
	PublishOrderTransitioned(event events.OrderTransitionEvent) error
}

// Allowed edges of the state machine. Delivered is reachable directly from
// pending as well as from processing: operators sometimes skip the processing
// step when correcting an order by hand, and that is accepted on purpose.
var transitions = map[string][]string{
	models.StatusPending:    {models.StatusProcessing, models.StatusDelivered, models.StatusCancelled},
	models.StatusProcessing: {models.StatusDelivered, models.StatusCancelled},
	models.StatusDelivered:  {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:  {},
	models.StatusCancelled:  {},
}

type Engine struct {
	repo    *orders.Repository
	locks   *locking.Keyed
	emitter Emitter
	logger  *logrus.Logger
}

func NewEngine(repo *orders.Repository, emitter Emitter, logger *logrus.Logger) *Engine {
	return &Engine{
		repo:    repo,
		locks:   locking.NewKeyed(),
		emitter: emitter,
		logger:  logger,
	}
}

// Transition validates and applies a status change. Transitions on the same
// order are serialized within this process by a per-order lock; across
// processes the underlying store stays last-write-wins. A rejected transition
// leaves the order untouched and emits nothing. A failed event emission is
// logged but never rolls back the status write.
func (e *Engine) Transition(ctx context.Context, orderID, requested string, actor Actor) (*models.Order, error) {
	e.locks.Lock(orderID)
	defer e.locks.Unlock(orderID)

	order, err := e.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !edgeAllowed(order.Status, requested) {
		return nil, ErrInvalidTransition
	}
	if err := authorize(order, requested, actor); err != nil {
		return nil, err
	}

	updated, err := e.repo.UpdateStatus(ctx, order, requested)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"order_id":    orderID,
		"from_status": order.Status,
		"to_status":   requested,
		"actor_uid":   actor.UID,
		"actor_role":  actor.Role,
	}).Info("Order status transitioned")

	e.emit(updated, order.Status, requested)
	return updated, nil
}

func edgeAllowed(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func authorize(order *models.Order, requested string, actor Actor) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil

	case models.RoleRestaurantOwner:
		if actor.RestaurantID == "" || actor.RestaurantID != order.RestaurantID {
			return ErrUnauthorized
		}
		// Owners advance the fulfilment chain and may cancel, but only an
		// admin forces completed.
		if requested == models.StatusCompleted {
			return ErrUnauthorized
		}
		return nil

	case models.RoleUser:
		if actor.UID != order.UserID {
			return ErrUnauthorized
		}
		if requested != models.StatusCancelled {
			return ErrUnauthorized
		}
		return nil

	default:
		return ErrUnauthorized
	}
}

func (e *Engine) emit(order *models.Order, from, to string) {
	if e.emitter == nil {
		return
	}

	event := events.OrderTransitionEvent{
		OrderID:      order.ID,
		UserID:       order.UserID,
		UserEmail:    order.UserEmail,
		RestaurantID: order.RestaurantID,
		FromStatus:   from,
		ToStatus:     to,
		TotalAmount:  order.TotalAmount,
	}

	if err := e.emitter.PublishOrderTransitioned(event); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":  order.ID,
			"to_status": to,
		}).Error("Failed to publish transition event")
	}
}
