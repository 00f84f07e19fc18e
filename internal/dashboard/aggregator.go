// Package dashboard composes live subscriptions over orders, products,
// restaurants and users into the derived statistics each role's view shows.
// One subscription per collection is owned here; session code never touches
// the store directly, which keeps unsubscribe handling in a single place.
package dashboard

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/ledger"
	"github.com/quickbite/platform/internal/orders"
	"github.com/quickbite/platform/internal/store"
	"github.com/quickbite/platform/pkg/models"
)

type Broadcaster interface {
	Broadcast(messageType string, data interface{}, role, scope string)
}

// AdminStats is the platform-wide view. Revenue is recomputed from scratch on
// every change rather than maintained incrementally.
type AdminStats struct {
	TotalOrders      int                     `json:"totalOrders"`
	PendingOrders    int                     `json:"pendingOrders"`
	CompletedOrders  int                     `json:"completedOrders"`
	CancelledOrders  int                     `json:"cancelledOrders"`
	TotalRevenue     float64                 `json:"totalRevenue"`
	TotalUsers       int                     `json:"totalUsers"`
	TotalRestaurants int                     `json:"totalRestaurants"`
	TotalProducts    int                     `json:"totalProducts"`
	TopRestaurants   []models.Restaurant     `json:"topRestaurants"`
	TopProducts      []models.Product        `json:"topProducts"`
	RecentOrders     []models.Order          `json:"recentOrders"`
	InvalidRecords   []orders.InvalidRecord  `json:"invalidRecords"`
}

// OwnerStats is the restaurant-scoped view. Orders without a restaurant
// attribution (mixed carts) never appear here.
type OwnerStats struct {
	RestaurantID    string         `json:"restaurantId"`
	TotalOrders     int            `json:"totalOrders"`
	PendingOrders   int            `json:"pendingOrders"`
	DeliveredOrders int            `json:"deliveredOrders"`
	CancelledOrders int            `json:"cancelledOrders"`
	GrossSales      float64        `json:"grossSales"`
	RecentOrders    []models.Order `json:"recentOrders"`
}

type CustomerStats struct {
	UserID       string         `json:"userId"`
	TotalOrders  int            `json:"totalOrders"`
	ActiveOrders int            `json:"activeOrders"`
	RecentOrders []models.Order `json:"recentOrders"`
}

type Aggregator struct {
	store       store.Store
	broadcaster Broadcaster
	logger      *logrus.Logger

	mutex       sync.RWMutex
	orders      map[string]models.Order
	invalid     map[string]orders.InvalidRecord
	restaurants map[string]models.Restaurant
	products    map[string]models.Product
	users       map[string]models.UserProfile

	subs []*store.Subscription
}

func NewAggregator(s store.Store, broadcaster Broadcaster, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		store:       s,
		broadcaster: broadcaster,
		logger:      logger,
		orders:      make(map[string]models.Order),
		invalid:     make(map[string]orders.InvalidRecord),
		restaurants: make(map[string]models.Restaurant),
		products:    make(map[string]models.Product),
		users:       make(map[string]models.UserProfile),
	}
}

// Start primes the caches with a one-shot read of each collection, then
// consumes the four subscriptions until the context is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	collections := []string{
		models.CollectionOrders,
		models.CollectionRestaurants,
		models.CollectionProducts,
		models.CollectionUsers,
	}

	for _, collection := range collections {
		docs, err := a.store.Query(ctx, collection, nil)
		if err != nil {
			a.Stop()
			return err
		}
		for _, doc := range docs {
			a.ingest(store.Change{Kind: store.ChangeAdded, Collection: collection, ID: doc.ID, Doc: doc.Data})
		}

		sub, err := a.store.Subscribe(ctx, collection)
		if err != nil {
			a.Stop()
			return err
		}
		a.subs = append(a.subs, sub)
	}

	// Channels are captured before the goroutine starts so a concurrent Stop
	// cannot pull the subscription slice out from under the consumer.
	go a.consume(ctx, a.subs[0].C, a.subs[1].C, a.subs[2].C, a.subs[3].C)
	return nil
}

// Stop closes every subscription owned by the aggregator. Safe to call while
// the consumer goroutine is running; closed channels end its loop.
func (a *Aggregator) Stop() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, sub := range a.subs {
		sub.Close()
	}
	a.subs = nil
}

// consume receives the channels in the collections order used by Start.
func (a *Aggregator) consume(ctx context.Context, ordersCh, restaurantsCh, productsCh, usersCh <-chan store.Change) {
	for {
		var change store.Change
		var ok bool

		select {
		case <-ctx.Done():
			a.Stop()
			return
		case change, ok = <-ordersCh:
		case change, ok = <-restaurantsCh:
		case change, ok = <-productsCh:
		case change, ok = <-usersCh:
		}
		if !ok {
			return
		}

		a.ingest(change)
		a.publish(change)
	}
}

// ingest applies one change to the caches. Order documents go through strict
// decoding; a malformed document lands in the invalid set instead of
// poisoning the statistics.
func (a *Aggregator) ingest(change store.Change) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	switch change.Collection {
	case models.CollectionOrders:
		if change.Kind == store.ChangeRemoved {
			delete(a.orders, change.ID)
			delete(a.invalid, change.ID)
			return
		}
		order, bad := orders.DecodeOrder(change.ID, change.Doc)
		if bad != nil {
			a.logger.WithFields(logrus.Fields{
				"order_id": bad.ID,
				"reason":   bad.Reason,
			}).Warn("Tracking malformed order record")
			delete(a.orders, change.ID)
			a.invalid[change.ID] = *bad
			return
		}
		delete(a.invalid, change.ID)
		a.orders[change.ID] = *order

	case models.CollectionRestaurants:
		if change.Kind == store.ChangeRemoved {
			delete(a.restaurants, change.ID)
			return
		}
		a.restaurants[change.ID] = decodeRestaurant(change.ID, change.Doc)

	case models.CollectionProducts:
		if change.Kind == store.ChangeRemoved {
			delete(a.products, change.ID)
			return
		}
		a.products[change.ID] = decodeProduct(change.ID, change.Doc)

	case models.CollectionUsers:
		if change.Kind == store.ChangeRemoved {
			delete(a.users, change.ID)
			return
		}
		a.users[change.ID] = decodeUser(change.ID, change.Doc)
	}
}

// publish pushes the views affected by a change through the hub.
func (a *Aggregator) publish(change store.Change) {
	if a.broadcaster == nil {
		return
	}

	a.broadcaster.Broadcast("admin_stats", a.AdminSnapshot(), models.RoleAdmin, "")

	if change.Collection != models.CollectionOrders {
		return
	}

	a.mutex.RLock()
	order, tracked := a.orders[change.ID]
	a.mutex.RUnlock()
	if !tracked {
		return
	}

	if order.RestaurantID != "" {
		a.broadcaster.Broadcast("owner_stats", a.OwnerSnapshot(order.RestaurantID), models.RoleRestaurantOwner, order.RestaurantID)
	}
	if order.UserID != "" {
		a.broadcaster.Broadcast("customer_stats", a.CustomerSnapshot(order.UserID), models.RoleUser, order.UserID)
	}
}

func (a *Aggregator) AdminSnapshot() AdminStats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := AdminStats{
		TotalUsers:       len(a.users),
		TotalRestaurants: len(a.restaurants),
		TotalProducts:    len(a.products),
	}

	for _, order := range a.orders {
		stats.TotalOrders++
		switch order.Status {
		case models.StatusPending:
			stats.PendingOrders++
		case models.StatusCompleted:
			stats.CompletedOrders++
		case models.StatusCancelled:
			stats.CancelledOrders++
		}
		if order.Status == models.StatusDelivered {
			stats.TotalRevenue += order.TotalAmount * ledger.FeeRate
		}
	}

	stats.TopRestaurants = topRestaurants(a.restaurants)
	stats.TopProducts = topProducts(a.products)
	stats.RecentOrders = recentOrders(a.orders, func(models.Order) bool { return true })

	stats.InvalidRecords = make([]orders.InvalidRecord, 0, len(a.invalid))
	for _, bad := range a.invalid {
		stats.InvalidRecords = append(stats.InvalidRecords, bad)
	}
	sort.Slice(stats.InvalidRecords, func(i, j int) bool {
		return stats.InvalidRecords[i].ID < stats.InvalidRecords[j].ID
	})

	return stats
}

func (a *Aggregator) OwnerSnapshot(restaurantID string) OwnerStats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := OwnerStats{RestaurantID: restaurantID}
	for _, order := range a.orders {
		if order.RestaurantID != restaurantID {
			continue
		}
		stats.TotalOrders++
		switch order.Status {
		case models.StatusPending:
			stats.PendingOrders++
		case models.StatusDelivered:
			stats.DeliveredOrders++
			stats.GrossSales += order.TotalAmount
		case models.StatusCancelled:
			stats.CancelledOrders++
		}
	}

	stats.RecentOrders = recentOrders(a.orders, func(o models.Order) bool {
		return o.RestaurantID == restaurantID
	})
	return stats
}

func (a *Aggregator) CustomerSnapshot(userID string) CustomerStats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := CustomerStats{UserID: userID}
	for _, order := range a.orders {
		if order.UserID != userID {
			continue
		}
		stats.TotalOrders++
		if !order.IsTerminal() {
			stats.ActiveOrders++
		}
	}

	stats.RecentOrders = recentOrders(a.orders, func(o models.Order) bool {
		return o.UserID == userID
	})
	return stats
}

const topN = 5

func topRestaurants(all map[string]models.Restaurant) []models.Restaurant {
	var active []models.Restaurant
	for _, r := range all {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Rating != active[j].Rating {
			return active[i].Rating > active[j].Rating
		}
		return active[i].ID < active[j].ID
	})
	if len(active) > topN {
		active = active[:topN]
	}
	return active
}

func topProducts(all map[string]models.Product) []models.Product {
	var available []models.Product
	for _, p := range all {
		if p.IsAvailable {
			available = append(available, p)
		}
	}
	sort.Slice(available, func(i, j int) bool {
		if available[i].Rating != available[j].Rating {
			return available[i].Rating > available[j].Rating
		}
		return available[i].ID < available[j].ID
	})
	if len(available) > topN {
		available = available[:topN]
	}
	return available
}

func recentOrders(all map[string]models.Order, include func(models.Order) bool) []models.Order {
	var matched []models.Order
	for _, o := range all {
		if include(o) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OrderDate.Equal(matched[j].OrderDate) {
			return matched[i].OrderDate.After(matched[j].OrderDate)
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > topN {
		matched = matched[:topN]
	}
	return matched
}
