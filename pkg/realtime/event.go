package realtime

import (
	"time"

	"github.com/example/tableside/pkg/models"
)

// GlobalDeliveryRoom is the aggregate channel every delivery dashboard
// joins. Order-scoped rooms are derived with OrderRoom.
const GlobalDeliveryRoom = "deliveryOrders"

// Outbound event names, part of the wire contract with clients.
const (
	EventDeliveryOrders = "deliveryOrders:update"
	EventLocationUpdate = "locationUpdate"
	EventStatusUpdate   = "statusUpdate"
)

// OrderRoom returns the room name carrying events for a single order.
func OrderRoom(orderID string) string {
	return "order:" + orderID
}

// Event is one outbound server-to-client message. Delivery is best-effort,
// at most once per recipient.
type Event struct {
	Name    string      `json:"event"`
	Room    string      `json:"room"`
	Payload interface{} `json:"payload"`
}

// StatusPayload is the body of a statusUpdate event.
type StatusPayload struct {
	OrderID string             `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
}

// LocationPayload is the body of a locationUpdate event.
type LocationPayload struct {
	OrderID   string    `json:"orderId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryOrdersPayload is the body of a deliveryOrders:update event: the
// full current list of in-delivery orders.
type DeliveryOrdersPayload struct {
	Orders []*models.Order `json:"orders"`
}

// Conn is one live client connection, whatever the transport. Send must not
// block on a slow or dead peer; returning an error only means the event was
// not delivered, which fan-out treats as a no-op.
type Conn interface {
	ID() string
	Send(e Event) error
}
