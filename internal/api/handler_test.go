package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/dashboard"
	"github.com/quickbite/platform/internal/events"
	"github.com/quickbite/platform/internal/ledger"
	"github.com/quickbite/platform/internal/lifecycle"
	"github.com/quickbite/platform/internal/orders"
	"github.com/quickbite/platform/internal/store"
	"github.com/quickbite/platform/pkg/models"
)

type noopEmitter struct{}

func (noopEmitter) PublishOrderTransitioned(events.OrderTransitionEvent) error { return nil }

type stubClientCounter struct{ count int }

func (s stubClientCounter) GetClientCount() int { return s.count }

func testRouter(t *testing.T) *mux.Router {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	m := store.NewMemory(logger)
	repo := orders.NewRepository(m, logger)
	engine := lifecycle.NewEngine(repo, noopEmitter{}, logger)
	l := ledger.New(m, repo, logger)
	aggregator := dashboard.NewAggregator(m, nil, logger)

	router := mux.NewRouter()
	NewHandler(repo, engine, l, aggregator, stubClientCounter{count: 3}, logger).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func checkout(t *testing.T, router *mux.Router) models.Order {
	t.Helper()

	recorder := doJSON(t, router, "POST", "/orders", map[string]interface{}{
		"userId": "u1",
		"items": []map[string]interface{}{
			{"productId": "p1", "price": 100.0, "quantity": 2, "restaurantId": "r1"},
		},
	}, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("Checkout returned %d: %s", recorder.Code, recorder.Body.String())
	}

	var response models.OrderResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode checkout response: %v", err)
	}
	return *response.Order
}

func TestCheckoutAndGetOrder(t *testing.T) {
	router := testRouter(t)

	order := checkout(t, router)
	if order.TotalAmount != 200.0 {
		t.Errorf("Expected total 200.0, got %f", order.TotalAmount)
	}
	if order.Status != models.StatusPending {
		t.Errorf("Expected pending, got %s", order.Status)
	}

	recorder := doJSON(t, router, "GET", "/orders/"+order.ID, nil, nil)
	if recorder.Code != http.StatusOK {
		t.Errorf("Get order returned %d", recorder.Code)
	}
}

func TestCheckoutValidation(t *testing.T) {
	router := testRouter(t)

	recorder := doJSON(t, router, "POST", "/orders", map[string]interface{}{"userId": "u1"}, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty cart, got %d", recorder.Code)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	router := testRouter(t)

	recorder := doJSON(t, router, "GET", "/orders/missing", nil, nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", recorder.Code)
	}
}

func TestTransitionStatusCodes(t *testing.T) {
	router := testRouter(t)
	order := checkout(t, router)

	adminHeaders := map[string]string{"X-User-ID": "admin1", "X-User-Role": models.RoleAdmin}
	ownerHeaders := map[string]string{
		"X-User-ID": "owner1", "X-User-Role": models.RoleRestaurantOwner, "X-Restaurant-ID": "r1",
	}
	strangerHeaders := map[string]string{"X-User-ID": "u2", "X-User-Role": models.RoleUser}

	path := fmt.Sprintf("/orders/%s/status", order.ID)

	// Customer who does not own the order cannot touch it.
	recorder := doJSON(t, router, "POST", path, map[string]string{"status": models.StatusCancelled}, strangerHeaders)
	if recorder.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for stranger, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, "POST", path, map[string]string{"status": models.StatusProcessing}, ownerHeaders)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Owner advance returned %d: %s", recorder.Code, recorder.Body.String())
	}

	// Same transition again is a conflict.
	recorder = doJSON(t, router, "POST", path, map[string]string{"status": models.StatusProcessing}, ownerHeaders)
	if recorder.Code != http.StatusConflict {
		t.Errorf("Expected 409 on repeated transition, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, "POST", "/orders/missing/status", map[string]string{"status": models.StatusProcessing}, adminHeaders)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing order, got %d", recorder.Code)
	}
}

func TestFeeEndpoints(t *testing.T) {
	router := testRouter(t)
	order := checkout(t, router)

	ownerHeaders := map[string]string{
		"X-User-ID": "owner1", "X-User-Role": models.RoleRestaurantOwner, "X-Restaurant-ID": "r1",
	}
	doJSON(t, router, "POST", fmt.Sprintf("/orders/%s/status", order.ID),
		map[string]string{"status": models.StatusDelivered}, ownerHeaders)

	recorder := doJSON(t, router, "GET", "/restaurants/r1/fees/unpaid", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Unpaid fees returned %d", recorder.Code)
	}
	var balance ledger.UnpaidBalance
	json.Unmarshal(recorder.Body.Bytes(), &balance)
	if balance.Amount != 20.0 {
		t.Errorf("Expected unpaid 20.00, got %f", balance.Amount)
	}

	recorder = doJSON(t, router, "POST", "/restaurants/r1/fees/settle", nil, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("Settle returned %d: %s", recorder.Code, recorder.Body.String())
	}

	// Nothing left to settle.
	recorder = doJSON(t, router, "POST", "/restaurants/r1/fees/settle", nil, nil)
	if recorder.Code != http.StatusConflict {
		t.Errorf("Expected 409 on second settle, got %d", recorder.Code)
	}

	recorder = doJSON(t, router, "GET", "/restaurants/r1/fees", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Errorf("Fee records returned %d", recorder.Code)
	}
}

func TestDashboardEndpoints(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{"/dashboard/admin", "/dashboard/owner/r1", "/dashboard/customer/u1"} {
		recorder := doJSON(t, router, "GET", path, nil, nil)
		if recorder.Code != http.StatusOK {
			t.Errorf("%s returned %d", path, recorder.Code)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	router := testRouter(t)

	recorder := doJSON(t, router, "GET", "/health", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Errorf("Health check returned %d", recorder.Code)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode health payload: %v", err)
	}
	if payload["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", payload["status"])
	}
	if payload["websocketClients"] != float64(3) {
		t.Errorf("Expected 3 websocket clients, got %v", payload["websocketClients"])
	}
}
