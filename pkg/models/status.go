package models

// OrderStatus is one state of the order fulfillment lifecycle.
type OrderStatus string

const (
	// StatusConfirmed is the initial state: the order is accepted and in
	// preparation.
	StatusConfirmed        OrderStatus = "confirmed"
	StatusPrepared         OrderStatus = "prepared"
	StatusReadyForPickup   OrderStatus = "ready for pickup"
	StatusReadyForDelivery OrderStatus = "ready for delivery"
	StatusPickedUp         OrderStatus = "picked up"
	StatusOutForDelivery   OrderStatus = "out for delivery"
	StatusDelivered        OrderStatus = "delivered"
	StatusCanceled         OrderStatus = "canceled"
)

// successors maps each status to its allowed forward edges. Canceled is
// handled separately: it is reachable from every non-terminal state.
// Delivered and canceled accept no further transitions.
var successors = map[OrderStatus][]OrderStatus{
	StatusConfirmed:        {StatusPrepared},
	StatusPrepared:         {StatusReadyForPickup, StatusReadyForDelivery},
	StatusReadyForPickup:   {StatusPickedUp},
	StatusReadyForDelivery: {StatusOutForDelivery},
	StatusPickedUp:         {StatusDelivered},
	StatusOutForDelivery:   {StatusDelivered},
	StatusDelivered:        {},
	StatusCanceled:         {},
}

// deliveryOnly marks states a pickup order can never enter, and the inverse.
var deliveryOnly = map[OrderStatus]bool{
	StatusReadyForDelivery: true,
	StatusOutForDelivery:   true,
}

var pickupOnly = map[OrderStatus]bool{
	StatusReadyForPickup: true,
	StatusPickedUp:       true,
}

// ValidStatus reports whether s is a member of the status enum.
func ValidStatus(s OrderStatus) bool {
	_, ok := successors[s]
	return ok
}

// Terminal reports whether s accepts no further transitions.
func Terminal(s OrderStatus) bool {
	return s == StatusDelivered || s == StatusCanceled
}

// AllowedFor reports whether a status is reachable at all for the given
// order type.
func AllowedFor(s OrderStatus, t OrderType) bool {
	if t == OrderTypePickup && deliveryOnly[s] {
		return false
	}
	if t == OrderTypeDelivery && pickupOnly[s] {
		return false
	}
	return true
}

// CanTransition reports whether an order of type t may move from one status
// to the next. Both arguments must be valid statuses; callers reject unknown
// values before asking.
func CanTransition(t OrderType, from, to OrderStatus) bool {
	if !ValidStatus(from) || !ValidStatus(to) {
		return false
	}
	if !AllowedFor(from, t) || !AllowedFor(to, t) {
		return false
	}
	if to == StatusCanceled {
		return !Terminal(from)
	}
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which an order of type t may
// legally move to the given status. Conditional store updates use this set
// as the compare-and-swap guard.
func Predecessors(t OrderType, to OrderStatus) []OrderStatus {
	var from []OrderStatus
	for s := range successors {
		if CanTransition(t, s, to) {
			from = append(from, s)
		}
	}
	return from
}

// InDeliveryStatuses is the membership set of the aggregate delivery view:
// orders with an assigned or active courier run.
var InDeliveryStatuses = []OrderStatus{StatusReadyForDelivery, StatusOutForDelivery}

// InDelivery reports whether the order belongs in the aggregate delivery view.
func InDelivery(o *Order) bool {
	if o.Type != OrderTypeDelivery {
		return false
	}
	for _, s := range InDeliveryStatuses {
		if o.Status == s {
			return true
		}
	}
	return false
}
