package order

import "errors"

// Failure taxonomy for order mutations. All validation failures are detected
// before any write; a failed mutation leaves the stored order untouched.
var (
	// ErrNotFound: the order id is unknown.
	ErrNotFound = errors.New("order not found")

	// ErrItemNotFound: the order exists but has no such line item.
	ErrItemNotFound = errors.New("order item not found")

	// ErrUnknownStatus: the requested status is not a member of the enum.
	ErrUnknownStatus = errors.New("unknown order status")

	// ErrInvalidTransition: the requested status edge does not exist for the
	// order's current state, or a concurrent writer won the conditional
	// update first.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidState: operation preconditions unmet, e.g. a position update
	// on a pickup order.
	ErrInvalidState = errors.New("operation not allowed in current order state")

	// ErrConflict is returned by stores when a conditional update matched no
	// document even though the order exists: the guarded fields changed
	// between read and write. The service maps it to ErrInvalidTransition or
	// ErrInvalidState depending on the operation.
	ErrConflict = errors.New("order changed concurrently")

	// ErrStalePosition is returned by stores when a position sample is older
	// than the order's last recorded sample. Stale samples are dropped
	// without error at the service boundary.
	ErrStalePosition = errors.New("position sample older than last update")
)
