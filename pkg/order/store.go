package order

import (
	"context"
	"time"

	"github.com/example/tableside/pkg/models"
)

// Store is the durable record of orders. Every mutating method is an atomic
// conditional update: the write happens only if the guarded fields still hold
// their expected values, so two concurrent writers can never silently
// overwrite each other.
type Store interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	ListByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Order, error)

	// UpdateStatus sets the status to `to` only while the current status is
	// in `from`. Returns ErrNotFound for unknown ids and ErrConflict when the
	// order exists but its status left the `from` set.
	UpdateStatus(ctx context.Context, id string, from []models.OrderStatus, to models.OrderStatus, now time.Time) (*models.Order, error)

	// AssignDriver sets the driver only while the order is ready for
	// delivery and either unassigned or already assigned to the same driver
	// (idempotent). Returns ErrConflict otherwise.
	AssignDriver(ctx context.Context, id, driverID string, now time.Time) (*models.Order, error)

	// AppendPosition appends a sample and refreshes the denormalized last
	// position, only while the order is a delivery order at or after out for
	// delivery and the sample is not older than the last recorded one.
	// Returns ErrStalePosition for out-of-order samples and ErrConflict when
	// the order is not trackable.
	AppendPosition(ctx context.Context, id string, sample models.PositionSample, now time.Time) (*models.Order, error)

	// ValidateItem increments the item's prepared counter by one, capped at
	// the item quantity, and derives the isPrepared flag, as a single atomic
	// write on the item fields.
	ValidateItem(ctx context.Context, id, itemID string, now time.Time) (*models.Order, error)

	// ReassignUser moves every order of fromUserID to toUserID and returns
	// the number of orders touched. Append-only reattribution: nothing is
	// deleted.
	ReassignUser(ctx context.Context, fromUserID, toUserID string, now time.Time) (int64, error)
}

// Cache is an optional read-side cache for hot realtime data. Implementations
// are best-effort; write failures are logged, never surfaced, and readers
// report a miss instead of an error.
type Cache interface {
	SetLastPosition(ctx context.Context, orderID string, p models.PositionSample)
	LastPosition(ctx context.Context, orderID string) (models.PositionSample, bool)
	SetInDelivery(ctx context.Context, orders []*models.Order)
	InDelivery(ctx context.Context) ([]*models.Order, bool)
}
