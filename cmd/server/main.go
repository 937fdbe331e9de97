package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"

	"github.com/example/tableside/gateway"
	"github.com/example/tableside/pkg/catalog"
	"github.com/example/tableside/pkg/config"
	"github.com/example/tableside/pkg/discovery"
	"github.com/example/tableside/pkg/order"
	"github.com/example/tableside/pkg/realtime"
	"github.com/example/tableside/pkg/repository"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting tableside server",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port))

	ctx := context.Background()

	// Durable order store
	store, err := repository.NewMongoOrderStore(&cfg.MongoDB)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			logger.Error("MongoDB close failed", zap.Error(err))
		}
	}()
	if err := store.Ping(ctx); err != nil {
		logger.Warn("MongoDB ping failed", zap.Error(err))
	} else {
		logger.Info("MongoDB connected successfully")
	}

	// Realtime read cache
	cache := repository.NewRedisCache(&cfg.Redis, logger.Named("cache"))
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("Redis connection failed", zap.Error(err))
	} else {
		logger.Info("Redis connected successfully")
	}

	// Product catalog; the ordering core keeps running without it.
	cat, err := catalog.NewService(&cfg.MySQL, logger.Named("catalog"))
	if err != nil {
		logger.Warn("Catalog unavailable, order creation disabled", zap.Error(err))
		cat = nil
	}

	// Domain events and realtime fan-out
	events := eventstream.NewEventStream()
	orders := order.NewService(store, events, cache, logger.Named("orders"))

	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, orders, cache, logger.Named("broadcast"))
	broadcaster.Subscribe(events)
	defer broadcaster.Unsubscribe()

	rt := realtime.NewGateway(orders, registry, broadcaster, logger.Named("realtime"))

	// HTTP gateway
	gw := gateway.NewGateway(cfg, logger, orders, cat, rt, cache)
	gw.SetupRoutes()

	// Setup service discovery
	sd, err := discovery.NewServiceDiscovery(&cfg.Etcd)
	if err != nil {
		logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		sd = nil
	}
	instance := &discovery.ServiceInstance{
		Name: cfg.Server.Name,
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}
	if sd != nil {
		if err := sd.Register(ctx, instance); err != nil {
			logger.Warn("Failed to register service", zap.Error(err))
		} else {
			logger.Info("Service registered in etcd",
				zap.String("name", instance.Name),
				zap.String("address", fmt.Sprintf("%s:%d", instance.Host, instance.Port)))
		}
	}

	// Start gateway in goroutine
	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	logger.Info("Server started successfully")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-gwErr:
		logger.Fatal("Gateway error", zap.Error(err))
	}

	if sd != nil {
		if err := sd.Deregister(ctx, instance); err != nil {
			logger.Error("Failed to deregister service", zap.Error(err))
		}
		sd.Close()
	}

	logger.Info("Server stopped")
}
