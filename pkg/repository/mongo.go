package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/tableside/pkg/config"
	"github.com/example/tableside/pkg/models"
	"github.com/example/tableside/pkg/order"
)

// MongoOrderStore is the durable order store. One document per order; every
// mutation is a single FindOneAndUpdate whose filter carries the
// compare-and-swap guard, so a concurrent writer can never be silently
// overwritten.
type MongoOrderStore struct {
	client *mongo.Client
	orders *mongo.Collection
	config *config.MongoDBConfig
}

func NewMongoOrderStore(cfg *config.MongoDBConfig) (*MongoOrderStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoOrderStore{
		client: client,
		orders: client.Database(cfg.Database).Collection(cfg.OrdersCollection),
		config: cfg,
	}, nil
}

func (m *MongoOrderStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoOrderStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoOrderStore) Create(ctx context.Context, o *models.Order) error {
	_, err := m.orders.InsertOne(ctx, o)
	return err
}

func (m *MongoOrderStore) Get(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := m.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *MongoOrderStore) ListByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]*models.Order, error) {
	filter := bson.M{}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	return m.list(ctx, filter)
}

func (m *MongoOrderStore) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return m.list(ctx, bson.M{"userId": userID})
}

func (m *MongoOrderStore) list(ctx context.Context, filter bson.M) ([]*models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := m.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*models.Order
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus writes the new status only while the stored status is still
// in the allowed predecessor set.
func (m *MongoOrderStore) UpdateStatus(ctx context.Context, id string, from []models.OrderStatus, to models.OrderStatus, now time.Time) (*models.Order, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": from},
	}
	update := bson.M{"$set": bson.M{
		"status":    to,
		"updatedAt": now,
	}}
	return m.findOneAndUpdate(ctx, id, filter, update)
}

// AssignDriver matches only ready-for-delivery orders that are unassigned or
// already assigned to this driver, which makes reassignment idempotent.
func (m *MongoOrderStore) AssignDriver(ctx context.Context, id, driverID string, now time.Time) (*models.Order, error) {
	filter := bson.M{
		"_id":    id,
		"status": models.StatusReadyForDelivery,
		"$or": bson.A{
			bson.M{"assignedDriver": bson.M{"$exists": false}},
			bson.M{"assignedDriver": ""},
			bson.M{"assignedDriver": driverID},
		},
	}
	update := bson.M{"$set": bson.M{
		"assignedDriver": driverID,
		"updatedAt":      now,
	}}
	return m.findOneAndUpdate(ctx, id, filter, update)
}

// AppendPosition pushes the sample and refreshes the denormalized last
// position in one write. The filter admits only trackable delivery orders
// and samples at least as new as the last recorded one.
func (m *MongoOrderStore) AppendPosition(ctx context.Context, id string, sample models.PositionSample, now time.Time) (*models.Order, error) {
	filter := bson.M{
		"_id":       id,
		"orderType": models.OrderTypeDelivery,
		"status":    bson.M{"$in": bson.A{models.StatusOutForDelivery, models.StatusDelivered}},
		"$or": bson.A{
			bson.M{"lastPositionUpdate": bson.M{"$exists": false}},
			bson.M{"lastPositionUpdate": bson.M{"$lte": sample.Timestamp}},
		},
	}
	update := bson.M{
		"$push": bson.M{"positionHistory": sample},
		"$set": bson.M{
			"lastKnownPosition":  sample,
			"lastPositionUpdate": sample.Timestamp,
			"updatedAt":          now,
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var o models.Order
	err := m.orders.FindOneAndUpdate(ctx, filter, update, opts).Decode(&o)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// No match: tell stale apart from untrackable.
	cur, gerr := m.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if !cur.Tracking() {
		return nil, order.ErrConflict
	}
	return nil, order.ErrStalePosition
}

// ValidateItem increments the matched item's prepared counter, capped at its
// quantity, and derives isPrepared, all inside one update pipeline so the
// counter mutation is atomic at field level.
func (m *MongoOrderStore) ValidateItem(ctx context.Context, id, itemID string, now time.Time) (*models.Order, error) {
	bump := bson.M{"$min": bson.A{
		bson.M{"$add": bson.A{"$$it.preparedQuantity", 1}},
		"$$it.quantity",
	}}
	done := bson.M{"$gte": bson.A{
		bson.M{"$add": bson.A{"$$it.preparedQuantity", 1}},
		"$$it.quantity",
	}}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"items": bson.M{"$map": bson.M{
				"input": "$items",
				"as":    "it",
				"in": bson.M{"$cond": bson.A{
					bson.M{"$eq": bson.A{"$$it.id", itemID}},
					bson.M{"$mergeObjects": bson.A{"$$it", bson.M{
						"preparedQuantity": bump,
						"isPrepared":       done,
					}}},
					"$$it",
				}},
			}},
			"updatedAt": now,
		}}},
	}

	filter := bson.M{"_id": id, "items.id": itemID}
	return m.findOneAndUpdate(ctx, id, filter, pipeline)
}

func (m *MongoOrderStore) ReassignUser(ctx context.Context, fromUserID, toUserID string, now time.Time) (int64, error) {
	res, err := m.orders.UpdateMany(ctx,
		bson.M{"userId": fromUserID},
		bson.M{"$set": bson.M{"userId": toUserID, "updatedAt": now}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// findOneAndUpdate runs the guarded update and maps a miss to ErrNotFound
// (unknown id) or ErrConflict (order exists, guard failed).
func (m *MongoOrderStore) findOneAndUpdate(ctx context.Context, id string, filter bson.M, update interface{}) (*models.Order, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var o models.Order
	err := m.orders.FindOneAndUpdate(ctx, filter, update, opts).Decode(&o)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	n, cerr := m.orders.CountDocuments(ctx, bson.M{"_id": id})
	if cerr != nil {
		return nil, cerr
	}
	if n == 0 {
		return nil, order.ErrNotFound
	}
	return nil, order.ErrConflict
}
