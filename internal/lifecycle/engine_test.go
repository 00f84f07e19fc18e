package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/events"
	"github.com/quickbite/platform/internal/orders"
	"github.com/quickbite/platform/internal/store"
	"github.com/quickbite/platform/pkg/models"
)

type fakeEmitter struct {
	mutex  sync.Mutex
	events []events.OrderTransitionEvent
	fail   bool
}

func (f *fakeEmitter) PublishOrderTransitioned(event events.OrderTransitionEvent) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) count() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.events)
}

func testEngine(t *testing.T) (*Engine, *orders.Repository, *fakeEmitter) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	repo := orders.NewRepository(store.NewMemory(logger), logger)
	emitter := &fakeEmitter{}
	return NewEngine(repo, emitter, logger), repo, emitter
}

func seedOrder(t *testing.T, repo *orders.Repository, status string) *models.Order {
	t.Helper()
	ctx := context.Background()

	order, err := repo.Create(ctx, orders.CheckoutInput{
		UserID:    "u1",
		UserEmail: "u1@example.com",
		Items:     []models.OrderItem{{ProductID: "p1", Price: 125.0, Quantity: 2, RestaurantID: "r1"}},
	})
	if err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	if status != models.StatusPending {
		order, err = repo.UpdateStatus(ctx, order, status)
		if err != nil {
			t.Fatalf("Failed to set seed status: %v", err)
		}
	}
	return order
}

var (
	owner    = Actor{UID: "owner1", Role: models.RoleRestaurantOwner, RestaurantID: "r1"}
	admin    = Actor{UID: "admin1", Role: models.RoleAdmin}
	customer = Actor{UID: "u1", Role: models.RoleUser}
)

func TestOwnerAdvancesPendingToProcessing(t *testing.T) {
	engine, repo, emitter := testEngine(t)
	order := seedOrder(t, repo, models.StatusPending)

	updated, err := engine.Transition(context.Background(), order.ID, models.StatusProcessing, owner)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if updated.Status != models.StatusProcessing {
		t.Errorf("Expected processing, got %s", updated.Status)
	}
	if updated.TotalAmount != 250.0 {
		t.Errorf("Total changed by transition: %f", updated.TotalAmount)
	}

	if emitter.count() != 1 {
		t.Fatalf("Expected 1 event, got %d", emitter.count())
	}
	event := emitter.events[0]
	if event.FromStatus != models.StatusPending || event.ToStatus != models.StatusProcessing {
		t.Errorf("Wrong event edge: %s -> %s", event.FromStatus, event.ToStatus)
	}

	// Repeating the same transition must fail and emit nothing further.
	if _, err := engine.Transition(context.Background(), order.ID, models.StatusProcessing, owner); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on repeat, got %v", err)
	}
	if emitter.count() != 1 {
		t.Errorf("Rejected transition emitted an event")
	}
}

func TestDeliveredReachableFromPending(t *testing.T) {
	engine, repo, _ := testEngine(t)
	order := seedOrder(t, repo, models.StatusPending)

	updated, err := engine.Transition(context.Background(), order.ID, models.StatusDelivered, owner)
	if err != nil {
		t.Fatalf("Expected pending -> delivered to be accepted: %v", err)
	}
	if updated.Status != models.StatusDelivered {
		t.Errorf("Expected delivered, got %s", updated.Status)
	}
}

func TestTerminalStatesRejectAllTransitions(t *testing.T) {
	targets := []string{
		models.StatusPending, models.StatusProcessing, models.StatusDelivered,
		models.StatusCompleted, models.StatusCancelled,
	}

	for _, terminal := range []string{models.StatusCompleted, models.StatusCancelled} {
		engine, repo, emitter := testEngine(t)
		order := seedOrder(t, repo, terminal)

		for _, target := range targets {
			if _, err := engine.Transition(context.Background(), order.ID, target, admin); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", terminal, target, err)
			}
		}
		if emitter.count() != 0 {
			t.Errorf("Terminal state transitions emitted events")
		}

		reloaded, _ := repo.Get(context.Background(), order.ID)
		if reloaded.Status != terminal {
			t.Errorf("Terminal status changed: %s", reloaded.Status)
		}
	}
}

func TestCustomerMayOnlyCancelOwnOrder(t *testing.T) {
	engine, repo, _ := testEngine(t)
	ctx := context.Background()

	order := seedOrder(t, repo, models.StatusPending)
	if _, err := engine.Transition(ctx, order.ID, models.StatusProcessing, customer); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Customer advancing: expected ErrUnauthorized, got %v", err)
	}

	stranger := Actor{UID: "someone-else", Role: models.RoleUser}
	if _, err := engine.Transition(ctx, order.ID, models.StatusCancelled, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Stranger cancelling: expected ErrUnauthorized, got %v", err)
	}

	updated, err := engine.Transition(ctx, order.ID, models.StatusCancelled, customer)
	if err != nil {
		t.Fatalf("Customer cancel failed: %v", err)
	}
	if updated.Status != models.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", updated.Status)
	}
}

func TestOwnerOfOtherRestaurantUnauthorized(t *testing.T) {
	engine, repo, _ := testEngine(t)
	order := seedOrder(t, repo, models.StatusPending)

	other := Actor{UID: "owner2", Role: models.RoleRestaurantOwner, RestaurantID: "r2"}
	if _, err := engine.Transition(context.Background(), order.ID, models.StatusProcessing, other); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestOnlyAdminCompletes(t *testing.T) {
	engine, repo, _ := testEngine(t)
	ctx := context.Background()

	order := seedOrder(t, repo, models.StatusDelivered)
	if _, err := engine.Transition(ctx, order.ID, models.StatusCompleted, owner); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Owner completing: expected ErrUnauthorized, got %v", err)
	}

	updated, err := engine.Transition(ctx, order.ID, models.StatusCompleted, admin)
	if err != nil {
		t.Fatalf("Admin complete failed: %v", err)
	}
	if updated.Status != models.StatusCompleted {
		t.Errorf("Expected completed, got %s", updated.Status)
	}
}

func TestCompletedOnlyFromDelivered(t *testing.T) {
	engine, repo, _ := testEngine(t)
	order := seedOrder(t, repo, models.StatusProcessing)

	if _, err := engine.Transition(context.Background(), order.ID, models.StatusCompleted, admin); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("processing -> completed: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionOrderNotFound(t *testing.T) {
	engine, _, _ := testEngine(t)

	if _, err := engine.Transition(context.Background(), "missing", models.StatusProcessing, admin); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestEmitterFailureDoesNotFailTransition(t *testing.T) {
	engine, repo, emitter := testEngine(t)
	emitter.fail = true
	order := seedOrder(t, repo, models.StatusPending)

	updated, err := engine.Transition(context.Background(), order.ID, models.StatusProcessing, owner)
	if err != nil {
		t.Fatalf("Transition must not fail on emitter error: %v", err)
	}
	if updated.Status != models.StatusProcessing {
		t.Errorf("Expected processing, got %s", updated.Status)
	}
}

func TestConcurrentTransitionsSerialized(t *testing.T) {
	engine, repo, emitter := testEngine(t)
	order := seedOrder(t, repo, models.StatusPending)

	const numGoroutines = 20
	var wg sync.WaitGroup
	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Transition(context.Background(), order.ID, models.StatusProcessing, owner)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		if err == nil {
			successes++
		} else if errors.Is(err, ErrInvalidTransition) {
			rejections++
		} else {
			t.Errorf("Unexpected error: %v", err)
		}
	}

	// The per-order lock makes the transitions sequential, so exactly one
	// goroutine sees pending and wins.
	if successes != 1 {
		t.Errorf("Expected exactly 1 success, got %d", successes)
	}
	if rejections != numGoroutines-1 {
		t.Errorf("Expected %d rejections, got %d", numGoroutines-1, rejections)
	}
	if emitter.count() != 1 {
		t.Errorf("Expected exactly 1 event, got %d", emitter.count())
	}
}
