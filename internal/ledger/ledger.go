// Package ledger computes and settles the platform fee owed per restaurant.
// The fee base is every delivered order not yet claimed by a fee record; no
// order ID may ever be covered by two records.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/locking"
	"github.com/quickbite/platform/internal/orders"
	"github.com/quickbite/platform/internal/store"
	"github.com/quickbite/platform/pkg/models"
)

// FeeRate is the fixed platform cut applied to delivered order totals.
const FeeRate = 0.10

var ErrNothingToSettle = errors.New("no unpaid orders to settle")

type Ledger struct {
	store  store.Store
	repo   *orders.Repository
	locks  *locking.Keyed
	logger *logrus.Logger
}

func New(s store.Store, repo *orders.Repository, logger *logrus.Logger) *Ledger {
	return &Ledger{
		store:  s,
		repo:   repo,
		locks:  locking.NewKeyed(),
		logger: logger,
	}
}

// UnpaidBalance is the current fee debt of one restaurant.
type UnpaidBalance struct {
	RestaurantID string   `json:"restaurantId"`
	Amount       float64  `json:"amount"`
	OrderIDs     []string `json:"orderIds"`
}

// ComputeUnpaid reads the restaurant's delivered orders and existing fee
// records, subtracts the covered order IDs and sums the remainder's fee
// contribution. It has no side effects and is safe to call concurrently.
func (l *Ledger) ComputeUnpaid(ctx context.Context, restaurantID string) (*UnpaidBalance, error) {
	delivered, err := l.repo.DeliveredByRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	covered, err := l.coveredOrderIDs(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	balance := &UnpaidBalance{RestaurantID: restaurantID}
	for _, order := range delivered {
		if covered[order.ID] {
			continue
		}
		balance.Amount += order.TotalAmount * FeeRate
		balance.OrderIDs = append(balance.OrderIDs, order.ID)
	}
	sort.Strings(balance.OrderIDs)

	return balance, nil
}

// Settle collects the restaurant's entire unpaid balance into exactly one new
// fee record. The unpaid set is recomputed under a per-restaurant lock, which
// closes the window where two concurrent settlements could both claim the
// same orders. ErrNothingToSettle is returned when the balance is empty, and
// no partial record is ever written on failure.
func (l *Ledger) Settle(ctx context.Context, restaurantID string) (*models.PlatformFeeRecord, error) {
	l.locks.Lock(restaurantID)
	defer l.locks.Unlock(restaurantID)

	balance, err := l.ComputeUnpaid(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if len(balance.OrderIDs) == 0 {
		return nil, ErrNothingToSettle
	}

	record := &models.PlatformFeeRecord{
		ID:            uuid.New().String(),
		RestaurantID:  restaurantID,
		Amount:        balance.Amount,
		Paid:          true,
		PaidAt:        time.Now().UTC(),
		OrdersCovered: balance.OrderIDs,
	}

	if err := l.store.Put(ctx, models.CollectionPlatformFees, record.ID, encodeFeeRecord(record)); err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"restaurant_id":  restaurantID,
		"fee_record_id":  record.ID,
		"amount":         record.Amount,
		"orders_covered": len(record.OrdersCovered),
	}).Info("Platform fee settled")

	return record, nil
}

// Records returns all fee records for a restaurant, newest first.
func (l *Ledger) Records(ctx context.Context, restaurantID string) ([]models.PlatformFeeRecord, error) {
	docs, err := l.store.Query(ctx, models.CollectionPlatformFees, store.Filter{"restaurantId": restaurantID})
	if err != nil {
		return nil, err
	}

	records := make([]models.PlatformFeeRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, decodeFeeRecord(doc.ID, doc.Data))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PaidAt.After(records[j].PaidAt) })
	return records, nil
}

func (l *Ledger) coveredOrderIDs(ctx context.Context, restaurantID string) (map[string]bool, error) {
	docs, err := l.store.Query(ctx, models.CollectionPlatformFees, store.Filter{"restaurantId": restaurantID})
	if err != nil {
		return nil, err
	}

	covered := make(map[string]bool)
	for _, doc := range docs {
		record := decodeFeeRecord(doc.ID, doc.Data)
		for _, orderID := range record.OrdersCovered {
			covered[orderID] = true
		}
	}
	return covered, nil
}

func encodeFeeRecord(r *models.PlatformFeeRecord) map[string]interface{} {
	covered := make([]interface{}, 0, len(r.OrdersCovered))
	for _, id := range r.OrdersCovered {
		covered = append(covered, id)
	}

	return map[string]interface{}{
		"restaurantId":  r.RestaurantID,
		"amount":        r.Amount,
		"paid":          r.Paid,
		"paidAt":        r.PaidAt.Format(time.RFC3339Nano),
		"ordersCovered": covered,
	}
}

func decodeFeeRecord(id string, doc map[string]interface{}) models.PlatformFeeRecord {
	record := models.PlatformFeeRecord{ID: id}
	record.RestaurantID, _ = doc["restaurantId"].(string)
	record.Paid, _ = doc["paid"].(bool)
	if amount, ok := doc["amount"].(float64); ok {
		record.Amount = amount
	}
	if raw, ok := doc["paidAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			record.PaidAt = t
		}
	}
	if covered, ok := doc["ordersCovered"].([]interface{}); ok {
		for _, v := range covered {
			if orderID, ok := v.(string); ok {
				record.OrdersCovered = append(record.OrdersCovered, orderID)
			}
		}
	}
	return record
}
