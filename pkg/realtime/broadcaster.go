package realtime

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"

	"github.com/example/tableside/pkg/models"
	"github.com/example/tableside/pkg/order"
)

// Lister supplies the aggregate in-delivery view. Satisfied by
// *order.Service.
type Lister interface {
	ListInDelivery(ctx context.Context) ([]*models.Order, error)
}

const listTimeout = 5 * time.Second

// Broadcaster fans accepted mutations out to subscribed connections. It is
// an explicitly constructed object, wired to the mutation service only
// through the event stream: the service publishes plain domain events and
// never learns about transports or rooms. Fan-out is fire-and-forget; a
// send failure is a no-op and never reaches the mutation caller.
type Broadcaster struct {
	registry *Registry
	lister   Lister
	cache    order.Cache
	logger   *zap.Logger
	sub      *eventstream.Subscription
	stream   *eventstream.EventStream
}

// NewBroadcaster creates a broadcaster. cache may be nil.
func NewBroadcaster(registry *Registry, lister Lister, cache order.Cache, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		registry: registry,
		lister:   lister,
		cache:    cache,
		logger:   logger,
	}
}

// Subscribe attaches the broadcaster to a domain event stream.
func (b *Broadcaster) Subscribe(es *eventstream.EventStream) {
	b.stream = es
	b.sub = es.Subscribe(b.handle)
}

// Unsubscribe detaches the broadcaster from its stream.
func (b *Broadcaster) Unsubscribe() {
	if b.stream != nil && b.sub != nil {
		b.stream.Unsubscribe(b.sub)
		b.sub = nil
	}
}

func (b *Broadcaster) handle(evt interface{}) {
	switch e := evt.(type) {
	case *order.StatusChanged:
		b.OnStatusChanged(e.Order)
	case *order.PositionAppended:
		b.OnPositionAppended(e.Order, e.Sample)
	case *order.DriverAssigned:
		// Assignment changes the content of the aggregate view (driver
		// column), not its membership.
		b.refreshDeliveryRoom()
	}
}

// OnStatusChanged emits a status event to the order's room and re-emits the
// full in-delivery list to the global room, since membership in that view
// depends on status.
func (b *Broadcaster) OnStatusChanged(o *models.Order) {
	b.emit(OrderRoom(o.ID), Event{
		Name: EventStatusUpdate,
		Room: OrderRoom(o.ID),
		Payload: StatusPayload{
			OrderID: o.ID,
			Status:  o.Status,
		},
	})
	b.refreshDeliveryRoom()
}

// OnPositionAppended emits a lightweight position event to the order's room
// only; the aggregate view does not need per-sample granularity.
func (b *Broadcaster) OnPositionAppended(o *models.Order, sample models.PositionSample) {
	b.emit(OrderRoom(o.ID), Event{
		Name: EventLocationUpdate,
		Room: OrderRoom(o.ID),
		Payload: LocationPayload{
			OrderID:   o.ID,
			Lat:       sample.Lat,
			Lng:       sample.Lng,
			Timestamp: sample.Timestamp,
		},
	})
}

// SnapshotOnJoin sends the current in-delivery list to a connection that
// just joined the global room, so its view is consistent without waiting for
// the next mutation. Served from the cache when warm; a miss falls back to
// the store and rewarms the cache.
func (b *Broadcaster) SnapshotOnJoin(ctx context.Context, c Conn) {
	if b.cache != nil {
		if orders, ok := b.cache.InDelivery(ctx); ok {
			b.send(c, b.deliveryEvent(orders))
			return
		}
	}
	orders, err := b.lister.ListInDelivery(ctx)
	if err != nil {
		b.logger.Warn("in-delivery snapshot failed", zap.Error(err))
		return
	}
	if b.cache != nil {
		b.cache.SetInDelivery(ctx, orders)
	}
	b.send(c, b.deliveryEvent(orders))
}

func (b *Broadcaster) refreshDeliveryRoom() {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	orders, err := b.lister.ListInDelivery(ctx)
	if err != nil {
		b.logger.Warn("in-delivery recompute failed", zap.Error(err))
		return
	}
	if b.cache != nil {
		b.cache.SetInDelivery(ctx, orders)
	}
	b.emit(GlobalDeliveryRoom, b.deliveryEvent(orders))
}

func (b *Broadcaster) deliveryEvent(orders []*models.Order) Event {
	if orders == nil {
		orders = []*models.Order{}
	}
	return Event{
		Name:    EventDeliveryOrders,
		Room:    GlobalDeliveryRoom,
		Payload: DeliveryOrdersPayload{Orders: orders},
	}
}

func (b *Broadcaster) emit(room string, e Event) {
	for _, c := range b.registry.Members(room) {
		b.send(c, e)
	}
}

func (b *Broadcaster) send(c Conn, e Event) {
	if err := c.Send(e); err != nil {
		// Recipient gone or backed up; best-effort delivery drops it.
		b.logger.Debug("event dropped",
			zap.String("conn_id", c.ID()),
			zap.String("event", e.Name),
			zap.Error(err))
	}
}
