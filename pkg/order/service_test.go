package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/eventstream"

	"github.com/example/tableside/pkg/models"
	"github.com/example/tableside/pkg/order"
	"github.com/example/tableside/pkg/repository"
)

type eventCapture struct {
	mu     sync.Mutex
	events []interface{}
}

func (c *eventCapture) handle(evt interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *eventCapture) all() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestService(t *testing.T) (*order.Service, *repository.MemoryOrderStore, *eventCapture) {
	t.Helper()
	store := repository.NewMemoryOrderStore()
	events := eventstream.NewEventStream()
	capture := &eventCapture{}
	sub := events.Subscribe(capture.handle)
	t.Cleanup(func() { events.Unsubscribe(sub) })
	return order.NewService(store, events, nil, nil), store, capture
}

func testItems() []models.OrderItem {
	return []models.OrderItem{
		{
			ProductID: 1,
			Name:      "Margherita",
			Price:     9.50,
			Quantity:  2,
			Category:  models.CategorySnapshot{ID: 1, Name: "Pizza"},
		},
		{
			ProductID: 4,
			Name:      "Tiramisu",
			Price:     5.00,
			Quantity:  1,
			Category:  models.CategorySnapshot{ID: 3, Name: "Dessert"},
		},
	}
}

func testAddress() *models.Address {
	return &models.Address{Street: "12 Rue des Lilas", City: "Lyon", ZipCode: "69003"}
}

func createOrder(t *testing.T, svc *order.Service, typ models.OrderType) *models.Order {
	t.Helper()
	in := order.CreateOrderInput{
		UserID:        "user-1",
		Type:          typ,
		PaymentMethod: "card",
		Items:         testItems(),
	}
	if typ == models.OrderTypeDelivery {
		in.DeliveryAddress = testAddress()
	}
	o, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return o
}

func advance(t *testing.T, svc *order.Service, id string, statuses ...models.OrderStatus) *models.Order {
	t.Helper()
	var o *models.Order
	var err error
	for _, st := range statuses {
		o, err = svc.UpdateStatus(context.Background(), id, st)
		if err != nil {
			t.Fatalf("UpdateStatus(%s) error = %v", st, err)
		}
	}
	return o
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   order.CreateOrderInput
	}{
		{"unknown type", order.CreateOrderInput{UserID: "u", Type: "drone", Items: testItems()}},
		{"no items", order.CreateOrderInput{UserID: "u", Type: models.OrderTypePickup}},
		{"delivery without address", order.CreateOrderInput{UserID: "u", Type: models.OrderTypeDelivery, Items: testItems()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tt.in); !errors.Is(err, order.ErrInvalidState) {
				t.Errorf("Create() error = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestCreateComputesTotal(t *testing.T) {
	svc, _, _ := newTestService(t)
	o := createOrder(t, svc, models.OrderTypePickup)

	if o.Status != models.StatusConfirmed {
		t.Errorf("new order status = %q, want %q", o.Status, models.StatusConfirmed)
	}
	if want := 2*9.50 + 5.00; o.Total != want {
		t.Errorf("Total = %v, want %v", o.Total, want)
	}
	for i, it := range o.Items {
		if it.ID == "" {
			t.Errorf("item %d has no id", i)
		}
		if it.IsPrepared || it.PreparedQuantity != 0 {
			t.Errorf("item %d starts prepared", i)
		}
	}
}

func TestPickupFlow(t *testing.T) {
	svc, _, _ := newTestService(t)
	o := createOrder(t, svc, models.OrderTypePickup)
	ctx := context.Background()

	advance(t, svc, o.ID, models.StatusPrepared, models.StatusReadyForPickup)

	// A pickup order never enters the delivery branch.
	if _, err := svc.UpdateStatus(ctx, o.ID, models.StatusOutForDelivery); !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("UpdateStatus(out for delivery) error = %v, want ErrInvalidTransition", err)
	}
	got, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.StatusReadyForPickup {
		t.Fatalf("status after rejected transition = %q, want %q", got.Status, models.StatusReadyForPickup)
	}

	final := advance(t, svc, o.ID, models.StatusPickedUp, models.StatusDelivered)
	if final.Status != models.StatusDelivered {
		t.Fatalf("final status = %q, want delivered", final.Status)
	}

	// Terminal: nothing moves a delivered order.
	if _, err := svc.UpdateStatus(ctx, o.ID, models.StatusCanceled); !errors.Is(err, order.ErrInvalidTransition) {
		t.Errorf("cancel after delivered error = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateStatusUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)
	o := createOrder(t, svc, models.OrderTypePickup)
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, o.ID, "in flight"); !errors.Is(err, order.ErrUnknownStatus) {
		t.Fatalf("UpdateStatus(unknown) error = %v, want ErrUnknownStatus", err)
	}
	got, _ := svc.Get(ctx, o.ID)
	if got.Status != models.StatusConfirmed {
		t.Fatalf("status after unknown target = %q, want confirmed", got.Status)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.UpdateStatus(context.Background(), "missing", models.StatusPrepared); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("UpdateStatus on missing order error = %v, want ErrNotFound", err)
	}
}

func TestNoRegression(t *testing.T) {
	svc, _, _ := newTestService(t)
	o := createOrder(t, svc, models.OrderTypePickup)
	advance(t, svc, o.ID, models.StatusPrepared)

	if _, err := svc.UpdateStatus(context.Background(), o.ID, models.StatusConfirmed); !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("regression to confirmed error = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelFromNonTerminal(t *testing.T) {
	tests := []struct {
		name    string
		typ     models.OrderType
		path    []models.OrderStatus
		wantErr bool
	}{
		{"from confirmed", models.OrderTypePickup, nil, false},
		{"from prepared", models.OrderTypePickup, []models.OrderStatus{models.StatusPrepared}, false},
		{"from ready for delivery", models.OrderTypeDelivery, []models.OrderStatus{models.StatusPrepared, models.StatusReadyForDelivery}, false},
		{"from delivered", models.OrderTypePickup, []models.OrderStatus{models.StatusPrepared, models.StatusReadyForPickup, models.StatusPickedUp, models.StatusDelivered}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			o := createOrder(t, svc, tt.typ)
			advance(t, svc, o.ID, tt.path...)

			_, err := svc.UpdateStatus(context.Background(), o.ID, models.StatusCanceled)
			if tt.wantErr {
				if !errors.Is(err, order.ErrInvalidTransition) {
					t.Fatalf("cancel error = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("cancel error = %v", err)
			}
		})
	}
}

func TestStatusChangedEvent(t *testing.T) {
	svc, _, capture := newTestService(t)
	o := createOrder(t, svc, models.OrderTypePickup)
	advance(t, svc, o.ID, models.StatusPrepared)

	events := capture.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt, ok := events[0].(*order.StatusChanged)
	if !ok {
		t.Fatalf("event type = %T, want *order.StatusChanged", events[0])
	}
	if evt.Order.ID != o.ID || evt.Order.Status != models.StatusPrepared || evt.Previous != models.StatusConfirmed {
		t.Errorf("StatusChanged = {id:%s status:%s prev:%s}, want {id:%s status:prepared prev:confirmed}",
			evt.Order.ID, evt.Order.Status, evt.Previous, o.ID)
	}
}

func TestConcurrentStatusUpdates(t *testing.T) {
	// Two writers race from the same snapshot; the conditional write lets
	// exactly one through per attempted target.
	for i := 0; i < 25; i++ {
		svc, _, _ := newTestService(t)
		o := createOrder(t, svc, models.OrderTypePickup)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		targets := []models.OrderStatus{models.StatusPrepared, models.StatusCanceled}
		for j, target := range targets {
			wg.Add(1)
			go func(j int, target models.OrderStatus) {
				defer wg.Done()
				_, errs[j] = svc.UpdateStatus(ctx, o.ID, target)
			}(j, target)
		}
		wg.Wait()

		got, err := svc.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != models.StatusPrepared && got.Status != models.StatusCanceled {
			t.Fatalf("final status = %q, want prepared or canceled", got.Status)
		}
		// Cancel from prepared is still legal, so the only forbidden outcome
		// is prepared winning after cancel already landed.
		if got.Status == models.StatusCanceled && errs[0] == nil && errs[1] == nil {
			// prepared then canceled: both legal in sequence.
			continue
		}
		for j, err := range errs {
			if err != nil && !errors.Is(err, order.ErrInvalidTransition) {
				t.Fatalf("writer %d error = %v, want nil or ErrInvalidTransition", j, err)
			}
		}
	}
}

func TestAssignDriver(t *testing.T) {
	svc, _, capture := newTestService(t)
	o := createOrder(t, svc, models.OrderTypeDelivery)
	ctx := context.Background()

	// Too early.
	if _, err := svc.AssignDriver(ctx, o.ID, "driver-7"); !errors.Is(err, order.ErrInvalidState) {
		t.Fatalf("AssignDriver before ready error = %v, want ErrInvalidState", err)
	}

	advance(t, svc, o.ID, models.StatusPrepared, models.StatusReadyForDelivery)
	before := capture.count()

	got, err := svc.AssignDriver(ctx, o.ID, "driver-7")
	if err != nil {
		t.Fatalf("AssignDriver() error = %v", err)
	}
	if got.AssignedDriver != "driver-7" {
		t.Fatalf("AssignedDriver = %q, want driver-7", got.AssignedDriver)
	}

	// Same driver again: idempotent, no second event.
	if _, err := svc.AssignDriver(ctx, o.ID, "driver-7"); err != nil {
		t.Fatalf("repeat AssignDriver() error = %v", err)
	}
	if capture.count() != before+1 {
		t.Errorf("got %d events after repeat assignment, want %d", capture.count(), before+1)
	}

	// A different driver is rejected.
	if _, err := svc.AssignDriver(ctx, o.ID, "driver-9"); !errors.Is(err, order.ErrInvalidState) {
		t.Errorf("reassign to other driver error = %v, want ErrInvalidState", err)
	}
}

func TestOutForDeliveryRequiresDriver(t *testing.T) {
	svc, _, _ := newTestService(t)
	o := createOrder(t, svc, models.OrderTypeDelivery)
	advance(t, svc, o.ID, models.StatusPrepared, models.StatusReadyForDelivery)

	if _, err := svc.UpdateStatus(context.Background(), o.ID, models.StatusOutForDelivery); !errors.Is(err, order.ErrInvalidState) {
		t.Fatalf("out for delivery without driver error = %v, want ErrInvalidState", err)
	}
}

// deliverOrder walks a delivery order to out for delivery with a driver.
func deliverOrder(t *testing.T, svc *order.Service) *models.Order {
	t.Helper()
	o := createOrder(t, svc, models.OrderTypeDelivery)
	advance(t, svc, o.ID, models.StatusPrepared, models.StatusReadyForDelivery)
	if _, err := svc.AssignDriver(context.Background(), o.ID, "driver-7"); err != nil {
		t.Fatalf("AssignDriver() error = %v", err)
	}
	return advance(t, svc, o.ID, models.StatusOutForDelivery)
}

func TestAppendPosition(t *testing.T) {
	svc, _, capture := newTestService(t)
	o := deliverOrder(t, svc)
	ctx := context.Background()
	before := capture.count()

	base := time.Now().UTC().Truncate(time.Second)
	samples := []models.PositionSample{
		{Lat: 45.7640, Lng: 4.8357, Timestamp: base},
		{Lat: 45.7651, Lng: 4.8370, Timestamp: base.Add(10 * time.Second)},
		{Lat: 45.7662, Lng: 4.8384, Timestamp: base.Add(20 * time.Second)},
	}
	var got *models.Order
	var err error
	for _, s := range samples {
		got, err = svc.AppendPosition(ctx, o.ID, s.Lat, s.Lng, s.Timestamp)
		if err != nil {
			t.Fatalf("AppendPosition(%v) error = %v", s.Timestamp, err)
		}
	}

	if len(got.PositionHistory) != 3 {
		t.Fatalf("history length = %d, want 3", len(got.PositionHistory))
	}
	for i, s := range samples {
		if got.PositionHistory[i] != s {
			t.Errorf("history[%d] = %+v, want %+v", i, got.PositionHistory[i], s)
		}
	}
	if got.LastKnownPosition == nil || *got.LastKnownPosition != samples[2] {
		t.Errorf("LastKnownPosition = %+v, want %+v", got.LastKnownPosition, samples[2])
	}
	if capture.count() != before+3 {
		t.Errorf("got %d position events, want 3", capture.count()-before)
	}
	last := capture.all()[capture.count()-1]
	if evt, ok := last.(*order.PositionAppended); !ok || evt.Sample != samples[2] {
		t.Errorf("last event = %#v, want PositionAppended with third sample", last)
	}
}

func TestAppendPositionStaleDropped(t *testing.T) {
	svc, _, capture := newTestService(t)
	o := deliverOrder(t, svc)
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := svc.AppendPosition(ctx, o.ID, 45.76, 4.83, now); err != nil {
		t.Fatalf("AppendPosition() error = %v", err)
	}
	before := capture.count()

	// An older sample is silently discarded.
	got, err := svc.AppendPosition(ctx, o.ID, 45.00, 4.00, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("stale AppendPosition() error = %v, want nil", err)
	}
	if len(got.PositionHistory) != 1 {
		t.Fatalf("history length after stale sample = %d, want 1", len(got.PositionHistory))
	}
	if got.LastKnownPosition.Lat != 45.76 {
		t.Errorf("LastKnownPosition overwritten by stale sample: %+v", got.LastKnownPosition)
	}
	if capture.count() != before {
		t.Errorf("stale sample published an event")
	}
}

func TestAppendPositionRequiresTracking(t *testing.T) {
	tests := []struct {
		name string
		make func(t *testing.T, svc *order.Service) *models.Order
	}{
		{"delivery order before out for delivery", func(t *testing.T, svc *order.Service) *models.Order {
			o := createOrder(t, svc, models.OrderTypeDelivery)
			return advance(t, svc, o.ID, models.StatusPrepared, models.StatusReadyForDelivery)
		}},
		{"pickup order", func(t *testing.T, svc *order.Service) *models.Order {
			return createOrder(t, svc, models.OrderTypePickup)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, capture := newTestService(t)
			o := tt.make(t, svc)
			before := capture.count()

			_, err := svc.AppendPosition(context.Background(), o.ID, 45.76, 4.83, time.Now().UTC())
			if !errors.Is(err, order.ErrInvalidState) {
				t.Fatalf("AppendPosition() error = %v, want ErrInvalidState", err)
			}
			got, _ := svc.Get(context.Background(), o.ID)
			if len(got.PositionHistory) != 0 {
				t.Errorf("history grew on rejected sample: %d entries", len(got.PositionHistory))
			}
			if capture.count() != before {
				t.Errorf("rejected sample published an event")
			}
		})
	}
}

func TestValidateItem(t *testing.T) {
	svc, _, _ := newTestService(t)
	o := createOrder(t, svc, models.OrderTypePickup)
	ctx := context.Background()
	itemID := o.Items[0].ID // quantity 2

	got, err := svc.ValidateItem(ctx, o.ID, itemID)
	if err != nil {
		t.Fatalf("ValidateItem() error = %v", err)
	}
	item := got.Item(itemID)
	if item.PreparedQuantity != 1 || item.IsPrepared {
		t.Fatalf("after first validation: prepared=%d done=%v, want 1/false", item.PreparedQuantity, item.IsPrepared)
	}

	got, err = svc.ValidateItem(ctx, o.ID, itemID)
	if err != nil {
		t.Fatalf("ValidateItem() error = %v", err)
	}
	item = got.Item(itemID)
	if item.PreparedQuantity != 2 || !item.IsPrepared {
		t.Fatalf("after second validation: prepared=%d done=%v, want 2/true", item.PreparedQuantity, item.IsPrepared)
	}

	// Fully prepared: no-op.
	got, err = svc.ValidateItem(ctx, o.ID, itemID)
	if err != nil {
		t.Fatalf("ValidateItem() no-op error = %v", err)
	}
	if item = got.Item(itemID); item.PreparedQuantity != 2 {
		t.Fatalf("no-op validation bumped counter to %d", item.PreparedQuantity)
	}
}

func TestValidateItemErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	o := createOrder(t, svc, models.OrderTypePickup)
	ctx := context.Background()

	if _, err := svc.ValidateItem(ctx, o.ID, "nope"); !errors.Is(err, order.ErrItemNotFound) {
		t.Errorf("unknown item error = %v, want ErrItemNotFound", err)
	}

	advance(t, svc, o.ID, models.StatusCanceled)
	if _, err := svc.ValidateItem(ctx, o.ID, o.Items[0].ID); !errors.Is(err, order.ErrInvalidState) {
		t.Errorf("validation on canceled order error = %v, want ErrInvalidState", err)
	}
}

func TestMergeGuestOrders(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Create(ctx, order.CreateOrderInput{
			UserID: "guest-abc", Type: models.OrderTypePickup, Items: testItems(),
		}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if _, err := svc.Create(ctx, order.CreateOrderInput{
		UserID: "user-1", Type: models.OrderTypePickup, Items: testItems(),
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	n, err := svc.MergeGuestOrders(ctx, "guest-abc", "user-1")
	if err != nil {
		t.Fatalf("MergeGuestOrders() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("merged %d orders, want 2", n)
	}
	mine, err := svc.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("user has %d orders after merge, want 3", len(mine))
	}

	for _, bad := range [][2]string{{"", "u"}, {"g", ""}, {"same", "same"}} {
		if _, err := svc.MergeGuestOrders(ctx, bad[0], bad[1]); !errors.Is(err, order.ErrInvalidState) {
			t.Errorf("MergeGuestOrders(%q, %q) error = %v, want ErrInvalidState", bad[0], bad[1], err)
		}
	}
}

func TestListInDelivery(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inSet := createOrder(t, svc, models.OrderTypeDelivery)
	advance(t, svc, inSet.ID, models.StatusPrepared, models.StatusReadyForDelivery)

	outOfSet := createOrder(t, svc, models.OrderTypeDelivery) // still confirmed
	_ = outOfSet

	pickup := createOrder(t, svc, models.OrderTypePickup)
	advance(t, svc, pickup.ID, models.StatusPrepared)

	got, err := svc.ListInDelivery(ctx)
	if err != nil {
		t.Fatalf("ListInDelivery() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != inSet.ID {
		ids := make([]string, len(got))
		for i, o := range got {
			ids[i] = o.ID
		}
		t.Fatalf("ListInDelivery() = %v, want [%s]", ids, inSet.ID)
	}
}

func TestListByStatusUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.ListByStatus(context.Background(), "pending"); !errors.Is(err, order.ErrUnknownStatus) {
		t.Fatalf("ListByStatus(unknown) error = %v, want ErrUnknownStatus", err)
	}
}
