package order

import (
	"github.com/example/tableside/pkg/models"
)

// Domain events published on the event stream after a successful mutation.
// They are plain data with no transport knowledge; the realtime broadcaster
// subscribes and performs the fan-out. Publishing is fire-and-forget: a
// mutation reported successful stays successful regardless of delivery.

// StatusChanged is published after the stored status moved.
type StatusChanged struct {
	Order    *models.Order
	Previous models.OrderStatus
}

// DriverAssigned is published after a driver accepted (or was assigned) the
// order. Not re-published on idempotent reassignment of the same driver.
type DriverAssigned struct {
	Order    *models.Order
	DriverID string
}

// PositionAppended is published after a position sample was recorded.
type PositionAppended struct {
	Order  *models.Order
	Sample models.PositionSample
}
