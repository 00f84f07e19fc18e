package dashboard

import (
	"github.com/quickbite/platform/pkg/models"
)

// Reference data is read-mostly and owned by external CRUD tooling, so these
// decoders are lenient: a missing field zeroes out rather than invalidating
// the document.

func decodeRestaurant(id string, doc map[string]interface{}) models.Restaurant {
	r := models.Restaurant{ID: id}
	r.Name, _ = doc["name"].(string)
	r.OwnerID, _ = doc["ownerId"].(string)
	r.IsActive, _ = doc["isActive"].(bool)
	r.Rating = asFloat(doc["rating"])
	r.TotalReviews = int(asFloat(doc["totalReviews"]))
	if cuisine, ok := doc["cuisine"].([]interface{}); ok {
		for _, c := range cuisine {
			if s, ok := c.(string); ok {
				r.Cuisine = append(r.Cuisine, s)
			}
		}
	}
	return r
}

func decodeProduct(id string, doc map[string]interface{}) models.Product {
	p := models.Product{ID: id}
	p.Name, _ = doc["name"].(string)
	p.RestaurantID, _ = doc["restaurantId"].(string)
	p.Price = asFloat(doc["price"])
	p.Rating = asFloat(doc["rating"])
	p.IsAvailable, _ = doc["isAvailable"].(bool)
	p.ImageURL, _ = doc["imageUrl"].(string)
	return p
}

func decodeUser(id string, doc map[string]interface{}) models.UserProfile {
	u := models.UserProfile{UID: id}
	u.Email, _ = doc["email"].(string)
	u.Role, _ = doc["role"].(string)
	u.RestaurantID, _ = doc["restaurantId"].(string)
	u.Name, _ = doc["name"].(string)
	u.Phone, _ = doc["phone"].(string)
	u.Address, _ = doc["address"].(string)
	return u
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
