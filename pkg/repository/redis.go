package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/tableside/pkg/config"
	"github.com/example/tableside/pkg/models"
)

// Key layout and TTLs for the realtime read cache. Everything here is
// best-effort: the store stays the source of truth and cache failures are
// logged, never surfaced.
const (
	positionKeyFormat = "order:%s:position"
	inDeliveryKey     = "orders:in-delivery"

	positionTTL   = 15 * time.Minute
	inDeliveryTTL = time.Minute
)

type RedisCache struct {
	client *redis.Client
	config *config.RedisConfig
	logger *zap.Logger
}

func NewRedisCache(cfg *config.RedisConfig, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		config: cfg,
		logger: logger,
	}
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) setJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisCache) getJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// SetLastPosition caches the most recent position sample for O(1) reads by
// the customer tracking view.
func (r *RedisCache) SetLastPosition(ctx context.Context, orderID string, p models.PositionSample) {
	key := fmt.Sprintf(positionKeyFormat, orderID)
	if err := r.setJSON(ctx, key, p, positionTTL); err != nil {
		r.logger.Debug("position cache write failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// LastPosition returns the cached sample, or false on a miss.
func (r *RedisCache) LastPosition(ctx context.Context, orderID string) (models.PositionSample, bool) {
	var p models.PositionSample
	key := fmt.Sprintf(positionKeyFormat, orderID)
	if err := r.getJSON(ctx, key, &p); err != nil {
		return models.PositionSample{}, false
	}
	return p, true
}

// SetInDelivery caches the aggregate in-delivery snapshot served to newly
// joined delivery-room subscribers.
func (r *RedisCache) SetInDelivery(ctx context.Context, orders []*models.Order) {
	if err := r.setJSON(ctx, inDeliveryKey, orders, inDeliveryTTL); err != nil {
		r.logger.Debug("in-delivery cache write failed", zap.Error(err))
	}
}

// InDelivery returns the cached snapshot, or false on a miss.
func (r *RedisCache) InDelivery(ctx context.Context) ([]*models.Order, bool) {
	var orders []*models.Order
	if err := r.getJSON(ctx, inDeliveryKey, &orders); err != nil {
		return nil, false
	}
	return orders, true
}
