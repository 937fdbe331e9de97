package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/tableside/pkg/catalog"
	"github.com/example/tableside/pkg/models"
	"github.com/example/tableside/pkg/order"
	"github.com/example/tableside/pkg/realtime"
)

// httpStatus maps the service failure taxonomy onto HTTP codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound), errors.Is(err, order.ErrItemNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidState), errors.Is(err, catalog.ErrProductUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrUnknownStatus), errors.Is(err, realtime.ErrBadMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

type createOrderRequest struct {
	UserID          string          `json:"userId" binding:"required"`
	OrderType       string          `json:"orderType" binding:"required"`
	PaymentMethod   string          `json:"paymentMethod"`
	Lines           []catalog.Line  `json:"lines" binding:"required"`
	DeliveryAddress *models.Address `json:"deliveryAddress,omitempty"`
	ScheduledFor    *time.Time      `json:"scheduledFor,omitempty"`
}

func (g *Gateway) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if g.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog unavailable"})
		return
	}

	items, err := g.catalog.Snapshot(c.Request.Context(), req.Lines)
	if err != nil {
		fail(c, err)
		return
	}

	o, err := g.orders.Create(c.Request.Context(), order.CreateOrderInput{
		UserID:          req.UserID,
		Type:            models.OrderType(req.OrderType),
		PaymentMethod:   req.PaymentMethod,
		Items:           items,
		DeliveryAddress: req.DeliveryAddress,
		ScheduledFor:    req.ScheduledFor,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (g *Gateway) getOrder(c *gin.Context) {
	o, err := g.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// listOrders serves both the per-user history and the status/date-range
// queries used by the kitchen and delivery dashboards.
func (g *Gateway) listOrders(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		orders []*models.Order
		err    error
	)
	if userID := c.Query("userId"); userID != "" {
		orders, err = g.orders.ListByUser(ctx, userID)
	} else {
		var statuses []models.OrderStatus
		for _, s := range c.QueryArray("status") {
			statuses = append(statuses, models.OrderStatus(s))
		}
		orders, err = g.orders.ListByStatus(ctx, statuses...)
	}
	if err != nil {
		fail(c, err)
		return
	}

	if orders, err = filterByDateRange(orders, c.Query("from"), c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": len(orders)})
}

func filterByDateRange(orders []*models.Order, fromStr, toStr string) ([]*models.Order, error) {
	if fromStr == "" && toStr == "" {
		return orders, nil
	}
	var from, to time.Time
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return nil, err
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return nil, err
		}
	}
	out := orders[:0]
	for _, o := range orders {
		if !from.IsZero() && o.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && o.CreatedAt.After(to) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := g.orders.UpdateStatus(c.Request.Context(), c.Param("id"), models.OrderStatus(req.Status))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) assignDriver(c *gin.Context) {
	var req struct {
		DriverID string `json:"driverId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := g.orders.AssignDriver(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) updateOrderPosition(c *gin.Context) {
	var req struct {
		Lat       float64   `json:"lat"`
		Lng       float64   `json:"lng"`
		Timestamp time.Time `json:"timestamp,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := g.orders.AppendPosition(c.Request.Context(), c.Param("id"), req.Lat, req.Lng, req.Timestamp)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// getOrderPosition serves the denormalized last known position, from the
// cache when warm, falling back to the stored order.
func (g *Gateway) getOrderPosition(c *gin.Context) {
	id := c.Param("id")
	if g.cache != nil {
		if p, ok := g.cache.LastPosition(c.Request.Context(), id); ok {
			c.JSON(http.StatusOK, p)
			return
		}
	}
	o, err := g.orders.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if o.LastKnownPosition == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no position recorded"})
		return
	}
	c.JSON(http.StatusOK, o.LastKnownPosition)
}

func (g *Gateway) validateOrderItem(c *gin.Context) {
	o, err := g.orders.ValidateItem(c.Request.Context(), c.Param("id"), c.Param("itemId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) mergeGuestOrders(c *gin.Context) {
	var req struct {
		GuestID string `json:"guestId" binding:"required"`
		UserID  string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := g.orders.MergeGuestOrders(c.Request.Context(), req.GuestID, req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merged": n})
}
