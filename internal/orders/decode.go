package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/quickbite/platform/pkg/models"
)

var ErrMalformedRecord = errors.New("malformed order record")

// InvalidRecord identifies a stored document that failed strict decoding.
// Invalid records are excluded from every derived statistic and from fee
// computation, but are reported instead of crashing the consumer.
type InvalidRecord struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// DecodeOrder classifies a raw document as a valid Order or an InvalidRecord.
// A document without a string status, a numeric total amount and a valid
// submission timestamp is invalid. Field presence is checked once, here,
// rather than scattered through business logic.
func DecodeOrder(id string, doc map[string]interface{}) (*models.Order, *InvalidRecord) {
	status, ok := doc["status"].(string)
	if !ok || status == "" {
		return nil, &InvalidRecord{ID: id, Reason: "missing or non-string status"}
	}

	total, ok := asFloat(doc["totalAmount"])
	if !ok {
		return nil, &InvalidRecord{ID: id, Reason: "missing or non-numeric totalAmount"}
	}

	orderDate, ok := asTime(doc["orderDate"])
	if !ok {
		// Older records carry createdAt instead.
		orderDate, ok = asTime(doc["createdAt"])
	}
	if !ok {
		return nil, &InvalidRecord{ID: id, Reason: "missing or invalid order timestamp"}
	}

	order := &models.Order{
		ID:              id,
		UserID:          asString(doc["userId"]),
		UserName:        asString(doc["userName"]),
		UserEmail:       asString(doc["userEmail"]),
		RestaurantID:    asString(doc["restaurantId"]),
		RestaurantName:  asString(doc["restaurantName"]),
		TotalAmount:     total,
		Status:          status,
		OrderDate:       orderDate,
		DeliveryAddress: asString(doc["deliveryAddress"]),
		ContactPhone:    asString(doc["contactPhone"]),
		Notes:           asString(doc["notes"]),
	}
	if updated, ok := asTime(doc["updatedAt"]); ok {
		order.UpdatedAt = updated
	}

	if items, ok := doc["items"].([]interface{}); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			price, _ := asFloat(item["price"])
			quantity, _ := asFloat(item["quantity"])
			order.Items = append(order.Items, models.OrderItem{
				ProductID:      asString(item["productId"]),
				Name:           asString(item["name"]),
				Price:          price,
				Quantity:       int(quantity),
				ImageURL:       asString(item["imageUrl"]),
				RestaurantID:   asString(item["restaurantId"]),
				RestaurantName: asString(item["restaurantName"]),
			})
		}
	}

	return order, nil
}

// EncodeOrder produces the document stored for an order.
func EncodeOrder(o *models.Order) map[string]interface{} {
	items := make([]interface{}, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, map[string]interface{}{
			"productId":      item.ProductID,
			"name":           item.Name,
			"price":          item.Price,
			"quantity":       item.Quantity,
			"imageUrl":       item.ImageURL,
			"restaurantId":   item.RestaurantID,
			"restaurantName": item.RestaurantName,
		})
	}

	return map[string]interface{}{
		"userId":          o.UserID,
		"userName":        o.UserName,
		"userEmail":       o.UserEmail,
		"restaurantId":    o.RestaurantID,
		"restaurantName":  o.RestaurantName,
		"items":           items,
		"totalAmount":     o.TotalAmount,
		"status":          o.Status,
		"orderDate":       o.OrderDate.Format(time.RFC3339Nano),
		"deliveryAddress": o.DeliveryAddress,
		"contactPhone":    o.ContactPhone,
		"notes":           o.Notes,
		"updatedAt":       o.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, t)
		}
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func malformed(id, reason string) error {
	return fmt.Errorf("%w: %s (%s)", ErrMalformedRecord, id, reason)
}
