package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/example/tableside/pkg/catalog"
	"github.com/example/tableside/pkg/config"
	"github.com/example/tableside/pkg/order"
	"github.com/example/tableside/pkg/realtime"
	"github.com/example/tableside/pkg/repository"
)

// Gateway is the HTTP surface of the platform: the synchronous order and
// catalog API plus the realtime channel (SSE stream out, message posts in).
type Gateway struct {
	config  *config.Config
	logger  *zap.Logger
	orders  *order.Service
	catalog *catalog.Service
	rt      *realtime.Gateway
	cache   *repository.RedisCache
	router  *gin.Engine

	mu    sync.Mutex
	conns map[string]*sseConn
}

// NewGateway wires the HTTP layer. catalog and cache may be nil in
// reduced deployments; the corresponding routes then answer 503.
func NewGateway(cfg *config.Config, logger *zap.Logger, orders *order.Service, cat *catalog.Service, rt *realtime.Gateway, cache *repository.RedisCache) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	return &Gateway{
		config:  cfg,
		logger:  logger,
		orders:  orders,
		catalog: cat,
		rt:      rt,
		cache:   cache,
		router:  router,
		conns:   make(map[string]*sseConn),
	}
}

func (g *Gateway) SetupRoutes() {
	// Health check
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 routes
	v1 := g.router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", g.createOrder)
			orders.GET("", g.listOrders)
			orders.POST("/merge", g.mergeGuestOrders)
			orders.GET("/:id", g.getOrder)
			orders.GET("/:id/position", g.getOrderPosition)
			orders.PUT("/:id/status", g.updateOrderStatus)
			orders.PUT("/:id/driver", g.assignDriver)
			orders.PUT("/:id/position", g.updateOrderPosition)
			orders.PUT("/:id/items/:itemId/validate", g.validateOrderItem)
		}

		categories := v1.Group("/categories")
		{
			categories.POST("", g.createCategory)
			categories.GET("", g.listCategories)
		}

		products := v1.Group("/products")
		{
			products.POST("", g.createProduct)
			products.GET("", g.listProducts)
			products.GET("/:id", g.getProduct)
		}
	}

	// Realtime channel
	rt := g.router.Group("/rt")
	{
		rt.GET("/stream", g.streamRealtime)
		rt.POST("/connections/:connId/messages", g.postRealtimeMessage)
	}

	// Swagger
	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Server.Host, g.config.Server.Port)
	g.logger.Info("Gateway starting", zap.String("address", addr))
	return g.router.Run(addr)
}

// Router exposes the engine for tests.
func (g *Gateway) Router() http.Handler {
	return g.router
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
