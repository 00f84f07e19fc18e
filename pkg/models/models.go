package models

import (
	"time"
)

// Collection names in the record store.
const (
	CollectionOrders       = "orders"
	CollectionPlatformFees = "platformFees"
	CollectionUsers        = "users"
	CollectionRestaurants  = "restaurants"
	CollectionProducts     = "products"
)

// Order statuses. Completed and Cancelled are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDelivered  = "delivered"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// User roles.
const (
	RoleUser            = "user"
	RoleRestaurantOwner = "restaurant_owner"
	RoleAdmin           = "admin"
)

type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"userId"`
	UserName        string      `json:"userName"`
	UserEmail       string      `json:"userEmail"`
	RestaurantID    string      `json:"restaurantId"`
	RestaurantName  string      `json:"restaurantName"`
	Items           []OrderItem `json:"items"`
	TotalAmount     float64     `json:"totalAmount"`
	Status          string      `json:"status"`
	OrderDate       time.Time   `json:"orderDate"`
	DeliveryAddress string      `json:"deliveryAddress"`
	ContactPhone    string      `json:"contactPhone"`
	Notes           string      `json:"notes"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

func (o *Order) IsTerminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

type OrderItem struct {
	ProductID      string  `json:"productId"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	Quantity       int     `json:"quantity"`
	ImageURL       string  `json:"imageUrl"`
	RestaurantID   string  `json:"restaurantId"`
	RestaurantName string  `json:"restaurantName"`
}

// PlatformFeeRecord asserts that the platform fee for a set of delivered
// orders has been collected. Order IDs must never be covered by more than
// one record for the same restaurant.
type PlatformFeeRecord struct {
	ID            string    `json:"id"`
	RestaurantID  string    `json:"restaurantId"`
	Amount        float64   `json:"amount"`
	Paid          bool      `json:"paid"`
	PaidAt        time.Time `json:"paidAt"`
	OrdersCovered []string  `json:"ordersCovered"`
}

type UserProfile struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	RestaurantID string `json:"restaurantId,omitempty"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
}

type Restaurant struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	OwnerID      string   `json:"ownerId"`
	IsActive     bool     `json:"isActive"`
	Rating       float64  `json:"rating"`
	TotalReviews int      `json:"totalReviews"`
	Cuisine      []string `json:"cuisine"`
}

type Product struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	RestaurantID string  `json:"restaurantId"`
	Price        float64 `json:"price"`
	Rating       float64 `json:"rating"`
	IsAvailable  bool    `json:"isAvailable"`
	ImageURL     string  `json:"imageUrl"`
}

type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}
