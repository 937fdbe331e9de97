package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/tableside/pkg/models"
	"github.com/example/tableside/pkg/order"
)

// Inbound message types, part of the wire contract with clients.
const (
	MessageJoinOrder        = "joinOrder"
	MessageJoinDeliveryRoom = "joinDeliveryRoom"
	MessageUpdatePosition   = "updatePosition"
	MessageUpdateStatus     = "updateStatus"
)

// ErrBadMessage marks an inbound frame that failed boundary validation.
var ErrBadMessage = errors.New("malformed realtime message")

// Message is the tagged envelope of every inbound client frame. Payloads
// are validated here, before anything reaches the mutation service.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinOrderPayload struct {
	OrderID string `json:"orderId"`
}

type UpdatePositionPayload struct {
	OrderID   string    `json:"orderId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type UpdateStatusPayload struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// Gateway binds connection lifecycle and inbound client intents to the
// mutation service and broadcaster. It performs shape validation only; all
// business rules stay in the service so the realtime channel and the HTTP
// API behave identically.
type Gateway struct {
	svc         *order.Service
	registry    *Registry
	broadcaster *Broadcaster
	logger      *zap.Logger
}

func NewGateway(svc *order.Service, registry *Registry, broadcaster *Broadcaster, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		svc:         svc,
		registry:    registry,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Connect registers a new live connection.
func (g *Gateway) Connect(c Conn) {
	g.logger.Info("realtime connection opened", zap.String("conn_id", c.ID()))
}

// Disconnect tears down every room membership of the connection.
func (g *Gateway) Disconnect(connID string) {
	g.registry.LeaveAll(connID)
	g.logger.Info("realtime connection closed", zap.String("conn_id", connID))
}

// Handle decodes and dispatches one inbound frame. Validation failures are
// reported to the sender only; mutation failures carry the service's typed
// error.
func (g *Gateway) Handle(ctx context.Context, c Conn, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return g.Dispatch(ctx, c, msg)
}

// Dispatch routes an already-decoded envelope.
func (g *Gateway) Dispatch(ctx context.Context, c Conn, msg Message) error {
	switch msg.Type {
	case MessageJoinOrder:
		var p JoinOrderPayload
		if err := decode(msg.Data, &p); err != nil {
			return err
		}
		if p.OrderID == "" {
			return fmt.Errorf("%w: joinOrder requires orderId", ErrBadMessage)
		}
		g.registry.Join(c, OrderRoom(p.OrderID))
		return nil

	case MessageJoinDeliveryRoom:
		g.registry.Join(c, GlobalDeliveryRoom)
		g.broadcaster.SnapshotOnJoin(ctx, c)
		return nil

	case MessageUpdatePosition:
		var p UpdatePositionPayload
		if err := decode(msg.Data, &p); err != nil {
			return err
		}
		if p.OrderID == "" {
			return fmt.Errorf("%w: updatePosition requires orderId", ErrBadMessage)
		}
		_, err := g.svc.AppendPosition(ctx, p.OrderID, p.Lat, p.Lng, p.Timestamp)
		return err

	case MessageUpdateStatus:
		var p UpdateStatusPayload
		if err := decode(msg.Data, &p); err != nil {
			return err
		}
		if p.OrderID == "" || p.Status == "" {
			return fmt.Errorf("%w: updateStatus requires orderId and status", ErrBadMessage)
		}
		_, err := g.svc.UpdateStatus(ctx, p.OrderID, models.OrderStatus(p.Status))
		return err

	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadMessage, msg.Type)
	}
}

func decode(data json.RawMessage, dest interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", ErrBadMessage)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return nil
}
