package models

import (
	"time"
)

// OrderType determines whether an order is fulfilled at the counter or
// carried out by a driver. Position tracking only applies to delivery orders.
type OrderType string

const (
	OrderTypePickup   OrderType = "pickup"
	OrderTypeDelivery OrderType = "delivery"
)

// PositionSample is one point of a driver's reported route.
type PositionSample struct {
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Address is the delivery destination attached to delivery orders.
type Address struct {
	Street  string `bson:"street" json:"street"`
	City    string `bson:"city" json:"city"`
	ZipCode string `bson:"zipCode" json:"zipCode"`
	Notes   string `bson:"notes,omitempty" json:"notes,omitempty"`
}

// CategorySnapshot and IngredientSnapshot are frozen copies of catalog rows
// taken at order time, so later catalog edits never alter historical orders.
type CategorySnapshot struct {
	ID   uint   `bson:"id" json:"id"`
	Name string `bson:"name" json:"name"`
}

type IngredientSnapshot struct {
	ID   uint   `bson:"id" json:"id"`
	Name string `bson:"name" json:"name"`
}

// OrderItem is a frozen line item. PreparedQuantity and IsPrepared are the
// kitchen's per-item progress counters, mutated independently of the order's
// top-level status.
type OrderItem struct {
	ID               string               `bson:"id" json:"id"`
	ProductID        uint                 `bson:"productId" json:"productId"`
	Name             string               `bson:"name" json:"name"`
	Price            float64              `bson:"price" json:"price"`
	Quantity         int                  `bson:"quantity" json:"quantity"`
	Size             string               `bson:"size,omitempty" json:"size,omitempty"`
	Category         CategorySnapshot     `bson:"category" json:"category"`
	Ingredients      []IngredientSnapshot `bson:"ingredients,omitempty" json:"ingredients,omitempty"`
	Notes            string               `bson:"notes,omitempty" json:"notes,omitempty"`
	Liked            bool                 `bson:"liked" json:"liked"`
	IsPrepared       bool                 `bson:"isPrepared" json:"isPrepared"`
	PreparedQuantity int                  `bson:"preparedQuantity" json:"preparedQuantity"`
}

// Order is the single source of truth for one customer purchase. It lives as
// one document per order id; every mutation is an atomic conditional update
// against that document.
type Order struct {
	ID                 string           `bson:"_id" json:"id"`
	UserID             string           `bson:"userId" json:"userId"`
	Status             OrderStatus      `bson:"status" json:"status"`
	PaymentStatus      string           `bson:"paymentStatus" json:"paymentStatus"`
	PaymentMethod      string           `bson:"paymentMethod" json:"paymentMethod"`
	Type               OrderType        `bson:"orderType" json:"orderType"`
	Items              []OrderItem      `bson:"items" json:"items"`
	Total              float64          `bson:"total" json:"total"`
	DeliveryAddress    *Address         `bson:"deliveryAddress,omitempty" json:"deliveryAddress,omitempty"`
	AssignedDriver     string           `bson:"assignedDriver,omitempty" json:"assignedDriver,omitempty"`
	PositionHistory    []PositionSample `bson:"positionHistory,omitempty" json:"positionHistory,omitempty"`
	LastKnownPosition  *PositionSample  `bson:"lastKnownPosition,omitempty" json:"lastKnownPosition,omitempty"`
	LastPositionUpdate *time.Time       `bson:"lastPositionUpdate,omitempty" json:"lastPositionUpdate,omitempty"`
	ScheduledFor       *time.Time       `bson:"scheduledFor,omitempty" json:"scheduledFor,omitempty"`
	CreatedAt          time.Time        `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time        `bson:"updatedAt" json:"updatedAt"`
}

// Item returns the line item with the given id, or nil.
func (o *Order) Item(itemID string) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i]
		}
	}
	return nil
}

// Scheduled reports whether the order is waiting for a future release time.
// It is an orthogonal flag, never a transition precondition.
func (o *Order) Scheduled(now time.Time) bool {
	return o.ScheduledFor != nil && o.ScheduledFor.After(now)
}

// Tracking reports whether position samples may be appended: delivery orders
// at or after the out-for-delivery state.
func (o *Order) Tracking() bool {
	return o.Type == OrderTypeDelivery &&
		(o.Status == StatusOutForDelivery || o.Status == StatusDelivered)
}
