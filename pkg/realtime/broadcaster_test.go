package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/eventstream"

	"github.com/example/tableside/pkg/models"
	"github.com/example/tableside/pkg/order"
)

type fakeLister struct {
	orders []*models.Order
	err    error
}

func (l *fakeLister) ListInDelivery(context.Context) ([]*models.Order, error) {
	return l.orders, l.err
}

func deliveryOrder(id string, status models.OrderStatus) *models.Order {
	return &models.Order{
		ID:     id,
		Type:   models.OrderTypeDelivery,
		Status: status,
	}
}

func TestSnapshotOnJoin(t *testing.T) {
	lister := &fakeLister{orders: []*models.Order{
		deliveryOrder("o1", models.StatusReadyForDelivery),
		deliveryOrder("o2", models.StatusOutForDelivery),
	}}
	b := NewBroadcaster(NewRegistry(), lister, nil, nil)
	c := &fakeConn{id: "c1"}

	b.SnapshotOnJoin(context.Background(), c)

	got := c.received()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Name != EventDeliveryOrders || got[0].Room != GlobalDeliveryRoom {
		t.Fatalf("event = %s/%s, want %s/%s", got[0].Name, got[0].Room, EventDeliveryOrders, GlobalDeliveryRoom)
	}
	payload, ok := got[0].Payload.(DeliveryOrdersPayload)
	if !ok {
		t.Fatalf("payload type = %T", got[0].Payload)
	}
	if len(payload.Orders) != 2 || payload.Orders[0].ID != "o1" {
		t.Fatalf("snapshot orders = %v, want the lister's two orders", payload.Orders)
	}
}

// fakeCache implements order.Cache over plain fields.
type fakeCache struct {
	inDelivery    []*models.Order
	hasInDelivery bool
}

func (c *fakeCache) SetLastPosition(context.Context, string, models.PositionSample) {}

func (c *fakeCache) LastPosition(context.Context, string) (models.PositionSample, bool) {
	return models.PositionSample{}, false
}

func (c *fakeCache) SetInDelivery(_ context.Context, orders []*models.Order) {
	c.inDelivery = orders
	c.hasInDelivery = true
}

func (c *fakeCache) InDelivery(context.Context) ([]*models.Order, bool) {
	return c.inDelivery, c.hasInDelivery
}

func TestSnapshotOnJoinServedFromCache(t *testing.T) {
	cache := &fakeCache{
		inDelivery:    []*models.Order{deliveryOrder("cached", models.StatusOutForDelivery)},
		hasInDelivery: true,
	}
	// A failing lister proves the warm cache short-circuits the store.
	lister := &fakeLister{err: errors.New("store down")}
	b := NewBroadcaster(NewRegistry(), lister, cache, nil)
	c := &fakeConn{id: "c1"}

	b.SnapshotOnJoin(context.Background(), c)

	got := c.received()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	payload := got[0].Payload.(DeliveryOrdersPayload)
	if len(payload.Orders) != 1 || payload.Orders[0].ID != "cached" {
		t.Fatalf("snapshot orders = %v, want the cached list", payload.Orders)
	}
}

func TestSnapshotOnJoinCacheMissRewarms(t *testing.T) {
	cache := &fakeCache{}
	lister := &fakeLister{orders: []*models.Order{
		deliveryOrder("o1", models.StatusReadyForDelivery),
	}}
	b := NewBroadcaster(NewRegistry(), lister, cache, nil)
	c := &fakeConn{id: "c1"}

	b.SnapshotOnJoin(context.Background(), c)

	got := c.received()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	payload := got[0].Payload.(DeliveryOrdersPayload)
	if len(payload.Orders) != 1 || payload.Orders[0].ID != "o1" {
		t.Fatalf("snapshot orders = %v, want the store list", payload.Orders)
	}
	if !cache.hasInDelivery || len(cache.inDelivery) != 1 || cache.inDelivery[0].ID != "o1" {
		t.Fatalf("cache not rewarmed after miss: %v", cache.inDelivery)
	}
}

func TestSnapshotOnJoinEmptyList(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), &fakeLister{}, nil, nil)
	c := &fakeConn{id: "c1"}

	b.SnapshotOnJoin(context.Background(), c)

	got := c.received()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	payload := got[0].Payload.(DeliveryOrdersPayload)
	if payload.Orders == nil {
		t.Fatal("empty snapshot payload is nil, want empty slice")
	}
}

func TestSnapshotOnJoinListError(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), &fakeLister{err: errors.New("store down")}, nil, nil)
	c := &fakeConn{id: "c1"}

	b.SnapshotOnJoin(context.Background(), c)

	if got := c.received(); len(got) != 0 {
		t.Fatalf("got %d events after list failure, want 0", len(got))
	}
}

func TestOnStatusChangedRouting(t *testing.T) {
	registry := NewRegistry()
	o := deliveryOrder("o1", models.StatusReadyForDelivery)
	lister := &fakeLister{orders: []*models.Order{o}}
	b := NewBroadcaster(registry, lister, nil, nil)

	watcher := &fakeConn{id: "watcher"}   // follows this order
	board := &fakeConn{id: "board"}       // follows the aggregate view
	bystander := &fakeConn{id: "nobody"}  // joined an unrelated order
	registry.Join(watcher, OrderRoom("o1"))
	registry.Join(board, GlobalDeliveryRoom)
	registry.Join(bystander, OrderRoom("o2"))

	b.OnStatusChanged(o)

	got := watcher.received()
	if len(got) != 1 || got[0].Name != EventStatusUpdate {
		t.Fatalf("watcher events = %v, want one statusUpdate", got)
	}
	sp := got[0].Payload.(StatusPayload)
	if sp.OrderID != "o1" || sp.Status != models.StatusReadyForDelivery {
		t.Fatalf("status payload = %+v", sp)
	}

	got = board.received()
	if len(got) != 1 || got[0].Name != EventDeliveryOrders {
		t.Fatalf("board events = %v, want one deliveryOrders:update", got)
	}

	if got := bystander.received(); len(got) != 0 {
		t.Fatalf("bystander received %d events, want 0", len(got))
	}
}

func TestOnPositionAppendedOrderRoomOnly(t *testing.T) {
	registry := NewRegistry()
	o := deliveryOrder("o1", models.StatusOutForDelivery)
	b := NewBroadcaster(registry, &fakeLister{}, nil, nil)

	watcher := &fakeConn{id: "watcher"}
	board := &fakeConn{id: "board"}
	registry.Join(watcher, OrderRoom("o1"))
	registry.Join(board, GlobalDeliveryRoom)

	sample := models.PositionSample{Lat: 45.76, Lng: 4.83, Timestamp: time.Now().UTC()}
	b.OnPositionAppended(o, sample)

	got := watcher.received()
	if len(got) != 1 || got[0].Name != EventLocationUpdate {
		t.Fatalf("watcher events = %v, want one locationUpdate", got)
	}
	lp := got[0].Payload.(LocationPayload)
	if lp.OrderID != "o1" || lp.Lat != sample.Lat || lp.Lng != sample.Lng {
		t.Fatalf("location payload = %+v", lp)
	}

	// Per-sample updates never hit the aggregate room.
	if got := board.received(); len(got) != 0 {
		t.Fatalf("board received %d events for a position sample, want 0", len(got))
	}
}

func TestFailingConnDoesNotBlockOthers(t *testing.T) {
	registry := NewRegistry()
	o := deliveryOrder("o1", models.StatusReadyForDelivery)
	b := NewBroadcaster(registry, &fakeLister{}, nil, nil)

	dead := &fakeConn{id: "dead", fail: true}
	live := &fakeConn{id: "live"}
	registry.Join(dead, OrderRoom("o1"))
	registry.Join(live, OrderRoom("o1"))

	b.OnStatusChanged(o)

	if got := live.received(); len(got) != 1 {
		t.Fatalf("live conn got %d events, want 1", len(got))
	}
}

func TestBroadcasterEventStream(t *testing.T) {
	registry := NewRegistry()
	o := deliveryOrder("o1", models.StatusOutForDelivery)
	b := NewBroadcaster(registry, &fakeLister{}, nil, nil)

	es := eventstream.NewEventStream()
	b.Subscribe(es)
	defer b.Unsubscribe()

	watcher := &fakeConn{id: "watcher"}
	registry.Join(watcher, OrderRoom("o1"))

	es.Publish(&order.PositionAppended{
		Order:  o,
		Sample: models.PositionSample{Lat: 1, Lng: 2, Timestamp: time.Now().UTC()},
	})
	es.Publish("not a domain event") // ignored

	got := watcher.received()
	if len(got) != 1 || got[0].Name != EventLocationUpdate {
		t.Fatalf("watcher events = %v, want one locationUpdate", got)
	}

	b.Unsubscribe()
	es.Publish(&order.StatusChanged{Order: o, Previous: models.StatusReadyForDelivery})
	if got := watcher.received(); len(got) != 1 {
		t.Fatalf("events still delivered after Unsubscribe: %v", got)
	}
}
