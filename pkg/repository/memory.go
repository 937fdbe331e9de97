package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/tableside/pkg/models"
	"github.com/example/tableside/pkg/order"
)

// MemoryOrderStore keeps orders in a map under a mutex. It implements the
// same conditional-update contract as the mongo store, so service tests and
// dev mode exercise identical compare-and-swap semantics.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]*models.Order)}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = make([]models.OrderItem, len(o.Items))
	for i, it := range o.Items {
		c.Items[i] = it
		c.Items[i].Ingredients = append([]models.IngredientSnapshot(nil), it.Ingredients...)
	}
	c.PositionHistory = append([]models.PositionSample(nil), o.PositionHistory...)
	if o.LastKnownPosition != nil {
		p := *o.LastKnownPosition
		c.LastKnownPosition = &p
	}
	if o.LastPositionUpdate != nil {
		t := *o.LastPositionUpdate
		c.LastPositionUpdate = &t
	}
	if o.DeliveryAddress != nil {
		a := *o.DeliveryAddress
		c.DeliveryAddress = &a
	}
	if o.ScheduledFor != nil {
		t := *o.ScheduledFor
		c.ScheduledFor = &t
	}
	return &c
}

func (s *MemoryOrderStore) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *MemoryOrderStore) Get(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryOrderStore) ListByStatus(_ context.Context, statuses ...models.OrderStatus) ([]*models.Order, error) {
	want := make(map[models.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, o := range s.orders {
		if len(statuses) == 0 || want[o.Status] {
			out = append(out, cloneOrder(o))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryOrderStore) ListByUser(_ context.Context, userID string) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func (s *MemoryOrderStore) UpdateStatus(_ context.Context, id string, from []models.OrderStatus, to models.OrderStatus, now time.Time) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	matched := false
	for _, f := range from {
		if o.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, order.ErrConflict
	}
	o.Status = to
	o.UpdatedAt = now
	return cloneOrder(o), nil
}

func (s *MemoryOrderStore) AssignDriver(_ context.Context, id, driverID string, now time.Time) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != models.StatusReadyForDelivery {
		return nil, order.ErrConflict
	}
	if o.AssignedDriver != "" && o.AssignedDriver != driverID {
		return nil, order.ErrConflict
	}
	o.AssignedDriver = driverID
	o.UpdatedAt = now
	return cloneOrder(o), nil
}

func (s *MemoryOrderStore) AppendPosition(_ context.Context, id string, sample models.PositionSample, now time.Time) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if !o.Tracking() {
		return nil, order.ErrConflict
	}
	if o.LastPositionUpdate != nil && o.LastPositionUpdate.After(sample.Timestamp) {
		return nil, order.ErrStalePosition
	}
	o.PositionHistory = append(o.PositionHistory, sample)
	p := sample
	o.LastKnownPosition = &p
	ts := sample.Timestamp
	o.LastPositionUpdate = &ts
	o.UpdatedAt = now
	return cloneOrder(o), nil
}

func (s *MemoryOrderStore) ValidateItem(_ context.Context, id, itemID string, now time.Time) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	item := o.Item(itemID)
	if item == nil {
		return nil, order.ErrConflict
	}
	if item.PreparedQuantity < item.Quantity {
		item.PreparedQuantity++
	}
	item.IsPrepared = item.PreparedQuantity >= item.Quantity
	o.UpdatedAt = now
	return cloneOrder(o), nil
}

func (s *MemoryOrderStore) ReassignUser(_ context.Context, fromUserID, toUserID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.orders {
		if o.UserID == fromUserID {
			o.UserID = toUserID
			o.UpdatedAt = now
			n++
		}
	}
	return n, nil
}
