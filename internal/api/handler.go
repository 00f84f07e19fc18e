package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/dashboard"
	"github.com/quickbite/platform/internal/ledger"
	"github.com/quickbite/platform/internal/lifecycle"
	"github.com/quickbite/platform/internal/orders"
	"github.com/quickbite/platform/pkg/models"
)

// Handler exposes the core operations to the UI layer: checkout, transition,
// fee computation and settlement, and the per-role dashboard reads. Identity
// arrives pre-authenticated in headers; token validation is not done here.
type Handler struct {
	repo       *orders.Repository
	engine     *lifecycle.Engine
	ledger     *ledger.Ledger
	aggregator *dashboard.Aggregator
	clients    ClientCounter
	logger     *logrus.Logger
}

// ClientCounter reports how many dashboard sessions are connected; the
// websocket hub implements it.
type ClientCounter interface {
	GetClientCount() int
}

func NewHandler(repo *orders.Repository, engine *lifecycle.Engine, l *ledger.Ledger, aggregator *dashboard.Aggregator, clients ClientCounter, logger *logrus.Logger) *Handler {
	return &Handler{
		repo:       repo,
		engine:     engine,
		ledger:     l,
		aggregator: aggregator,
		clients:    clients,
		logger:     logger,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/status", h.TransitionOrder).Methods("POST")
	router.HandleFunc("/restaurants/{id}/fees/unpaid", h.UnpaidFees).Methods("GET")
	router.HandleFunc("/restaurants/{id}/fees/settle", h.SettleFees).Methods("POST")
	router.HandleFunc("/restaurants/{id}/fees", h.FeeRecords).Methods("GET")
	router.HandleFunc("/dashboard/admin", h.AdminDashboard).Methods("GET")
	router.HandleFunc("/dashboard/owner/{restaurantId}", h.OwnerDashboard).Methods("GET")
	router.HandleFunc("/dashboard/customer/{userId}", h.CustomerDashboard).Methods("GET")
}

type checkoutRequest struct {
	UserID          string             `json:"userId"`
	UserName        string             `json:"userName"`
	UserEmail       string             `json:"userEmail"`
	Items           []models.OrderItem `json:"items"`
	DeliveryAddress string             `json:"deliveryAddress"`
	ContactPhone    string             `json:"contactPhone"`
	Notes           string             `json:"notes"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode checkout request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == "" || len(req.Items) == 0 {
		h.respondWithError(w, http.StatusBadRequest, "userId and items are required")
		return
	}

	order, err := h.repo.Create(r.Context(), orders.CheckoutInput{
		UserID:          req.UserID,
		UserName:        req.UserName,
		UserEmail:       req.UserEmail,
		Items:           req.Items,
		DeliveryAddress: req.DeliveryAddress,
		ContactPhone:    req.ContactPhone,
		Notes:           req.Notes,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to create order")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, models.OrderResponse{
		Success: true,
		Message: "Order created successfully",
		Order:   order,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	order, err := h.repo.Get(r.Context(), vars["id"])
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).Error("Failed to get order")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID := vars["id"]

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode transition request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	actor := actorFromRequest(r)
	order, err := h.engine.Transition(r.Context(), orderID, req.Status, actor)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			h.respondWithError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, lifecycle.ErrInvalidTransition):
			h.respondWithError(w, http.StatusConflict, "Invalid status transition")
		case errors.Is(err, lifecycle.ErrUnauthorized):
			h.respondWithError(w, http.StatusForbidden, "Not allowed")
		default:
			h.logger.WithError(err).Error("Failed to transition order")
			h.respondWithError(w, http.StatusInternalServerError, "Failed to transition order")
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order status updated",
		Order:   order,
	})
}

func (h *Handler) UnpaidFees(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := h.ledger.ComputeUnpaid(r.Context(), vars["id"])
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute unpaid fees")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to compute unpaid fees")
		return
	}
	h.respondWithJSON(w, http.StatusOK, balance)
}

func (h *Handler) SettleFees(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	record, err := h.ledger.Settle(r.Context(), vars["id"])
	if err != nil {
		if errors.Is(err, ledger.ErrNothingToSettle) {
			h.respondWithError(w, http.StatusConflict, "No unpaid orders to settle")
			return
		}
		h.logger.WithError(err).Error("Failed to settle fees")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to settle fees")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, record)
}

func (h *Handler) FeeRecords(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	records, err := h.ledger.Records(r.Context(), vars["id"])
	if err != nil {
		h.logger.WithError(err).Error("Failed to list fee records")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to list fee records")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"records": records,
		"count":   len(records),
	})
}

func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.aggregator.AdminSnapshot())
}

func (h *Handler) OwnerDashboard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.respondWithJSON(w, http.StatusOK, h.aggregator.OwnerSnapshot(vars["restaurantId"]))
}

func (h *Handler) CustomerDashboard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.respondWithJSON(w, http.StatusOK, h.aggregator.CustomerSnapshot(vars["userId"]))
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":  "healthy",
		"service": "platform-service",
	}
	if h.clients != nil {
		payload["websocketClients"] = h.clients.GetClientCount()
	}
	h.respondWithJSON(w, http.StatusOK, payload)
}

func actorFromRequest(r *http.Request) lifecycle.Actor {
	return lifecycle.Actor{
		UID:          r.Header.Get("X-User-ID"),
		Role:         r.Header.Get("X-User-Role"),
		RestaurantID: r.Header.Get("X-Restaurant-ID"),
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
