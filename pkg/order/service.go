package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tableside/pkg/models"
)

// Service enforces the order state machine and publishes domain events after
// each accepted mutation. All business validation lives here, so the same
// rules apply whether a request arrives over the HTTP API or the realtime
// channel.
type Service struct {
	store  Store
	events *eventstream.EventStream
	cache  Cache
	logger *zap.Logger
}

// NewService creates the mutation service. events and cache may be nil.
func NewService(store Store, events *eventstream.EventStream, cache Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		events: events,
		cache:  cache,
		logger: logger,
	}
}

// Events exposes the stream the service publishes on, for subscribers.
func (s *Service) Events() *eventstream.EventStream {
	return s.events
}

// CreateOrderInput carries everything needed to open an order. Items must
// already be frozen snapshots; the service never reads the live catalog.
type CreateOrderInput struct {
	UserID          string
	Type            models.OrderType
	PaymentMethod   string
	Items           []models.OrderItem
	DeliveryAddress *models.Address
	ScheduledFor    *time.Time
}

// Create opens a new order in the confirmed state.
func (s *Service) Create(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if in.Type != models.OrderTypePickup && in.Type != models.OrderTypeDelivery {
		return nil, fmt.Errorf("%w: order type %q", ErrInvalidState, in.Type)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrInvalidState)
	}
	if in.Type == models.OrderTypeDelivery && in.DeliveryAddress == nil {
		return nil, fmt.Errorf("%w: delivery order requires an address", ErrInvalidState)
	}

	now := time.Now().UTC()
	o := &models.Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Status:          models.StatusConfirmed,
		PaymentStatus:   "pending",
		PaymentMethod:   in.PaymentMethod,
		Type:            in.Type,
		Items:           make([]models.OrderItem, len(in.Items)),
		DeliveryAddress: in.DeliveryAddress,
		ScheduledFor:    in.ScheduledFor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	copy(o.Items, in.Items)
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
		o.Total += o.Items[i].Price * float64(o.Items[i].Quantity)
	}

	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_type", string(o.Type)),
		zap.Int("item_count", len(o.Items)))
	return o, nil
}

// Get returns the order or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return s.store.ListByUser(ctx, userID)
}

// ListByStatus returns orders in any of the given statuses.
func (s *Service) ListByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]*models.Order, error) {
	for _, st := range statuses {
		if !models.ValidStatus(st) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, st)
		}
	}
	return s.store.ListByStatus(ctx, statuses...)
}

// ListInDelivery returns the delivery orders currently in the in-delivery
// set, the payload of the aggregate realtime view.
func (s *Service) ListInDelivery(ctx context.Context) ([]*models.Order, error) {
	all, err := s.store.ListByStatus(ctx, models.InDeliveryStatuses...)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if o.Type == models.OrderTypeDelivery {
			out = append(out, o)
		}
	}
	return out, nil
}

// UpdateStatus moves the order along the state machine. The write is a
// compare-and-swap on the current status: when two writers race, exactly one
// wins and the other receives ErrInvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, id string, to models.OrderStatus) (*models.Order, error) {
	if !models.ValidStatus(to) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(cur.Type, cur.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	if to == models.StatusOutForDelivery && cur.AssignedDriver == "" {
		return nil, fmt.Errorf("%w: no driver assigned", ErrInvalidState)
	}

	from := models.Predecessors(cur.Type, to)
	updated, err := s.store.UpdateStatus(ctx, id, from, to, time.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		// A concurrent writer moved the status out from under us.
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	default:
		return nil, err
	}

	s.logger.Info("order status changed",
		zap.String("order_id", id),
		zap.String("from", string(cur.Status)),
		zap.String("to", string(to)))
	s.publish(&StatusChanged{Order: updated, Previous: cur.Status})
	return updated, nil
}

// AssignDriver binds a driver to an order that is ready for delivery.
// Reassigning the same driver is a no-op that succeeds.
func (s *Service) AssignDriver(ctx context.Context, id, driverID string) (*models.Order, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: empty driver id", ErrInvalidState)
	}
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != models.StatusReadyForDelivery {
		return nil, fmt.Errorf("%w: driver assignment requires %q, order is %q",
			ErrInvalidState, models.StatusReadyForDelivery, cur.Status)
	}
	if cur.AssignedDriver != "" && cur.AssignedDriver != driverID {
		return nil, fmt.Errorf("%w: order already assigned to another driver", ErrInvalidState)
	}
	already := cur.AssignedDriver == driverID

	updated, err := s.store.AssignDriver(ctx, id, driverID, time.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		return nil, fmt.Errorf("%w: order state changed during assignment", ErrInvalidState)
	default:
		return nil, err
	}

	if !already {
		s.logger.Info("driver assigned",
			zap.String("order_id", id),
			zap.String("driver_id", driverID))
		s.publish(&DriverAssigned{Order: updated, DriverID: driverID})
	}
	return updated, nil
}

// AppendPosition records a driver position sample. Samples older than the
// last recorded one are dropped without error; the caller gets the current
// order back and no event is published.
func (s *Service) AppendPosition(ctx context.Context, id string, lat, lng float64, ts time.Time) (*models.Order, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.Tracking() {
		return nil, fmt.Errorf("%w: position updates require a delivery order out for delivery", ErrInvalidState)
	}

	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	sample := models.PositionSample{Lat: lat, Lng: lng, Timestamp: ts}

	updated, err := s.store.AppendPosition(ctx, id, sample, time.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, ErrStalePosition):
		s.logger.Debug("stale position sample dropped",
			zap.String("order_id", id),
			zap.Time("sample_ts", ts))
		return cur, nil
	case errors.Is(err, ErrConflict):
		return nil, fmt.Errorf("%w: position updates require a delivery order out for delivery", ErrInvalidState)
	default:
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetLastPosition(ctx, id, sample)
	}
	s.publish(&PositionAppended{Order: updated, Sample: sample})
	return updated, nil
}

// ValidateItem advances the kitchen's per-item preparation counter. It never
// touches the order-level status; staff move the order forward separately
// once every item is prepared. Validating a fully prepared item is a no-op.
func (s *Service) ValidateItem(ctx context.Context, id, itemID string) (*models.Order, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item := cur.Item(itemID)
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if models.Terminal(cur.Status) {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, cur.Status)
	}
	if item.PreparedQuantity >= item.Quantity {
		return cur, nil
	}
	return s.store.ValidateItem(ctx, id, itemID, time.Now().UTC())
}

// MergeGuestOrders reattributes every order placed under a temporary guest
// id to the authenticated user id. Returns the number of orders moved.
func (s *Service) MergeGuestOrders(ctx context.Context, guestID, userID string) (int64, error) {
	if guestID == "" || userID == "" || guestID == userID {
		return 0, fmt.Errorf("%w: guest and user ids must differ and be non-empty", ErrInvalidState)
	}
	n, err := s.store.ReassignUser(ctx, guestID, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("guest orders merged",
			zap.String("guest_id", guestID),
			zap.String("user_id", userID),
			zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) publish(evt interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(evt)
}
