package gateway

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tableside/pkg/realtime"
)

// The realtime channel binds the transport-agnostic connection gateway to
// HTTP: events flow out over a server-sent-event stream, client intents
// arrive as posts addressed to the connection id handed out on connect.

var (
	errConnClosed = errors.New("connection closed")
	errBufferFull = errors.New("send buffer full")
)

// sseConn adapts one SSE stream to realtime.Conn. Send never blocks: a full
// buffer or closed peer drops the event, which keeps broadcast fan-out
// fire-and-forget.
type sseConn struct {
	id     string
	events chan realtime.Event
	closed chan struct{}
	once   sync.Once
}

func newSSEConn(buffer int) *sseConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &sseConn{
		id:     uuid.NewString(),
		events: make(chan realtime.Event, buffer),
		closed: make(chan struct{}),
	}
}

func (c *sseConn) ID() string {
	return c.id
}

func (c *sseConn) Send(e realtime.Event) error {
	if c.isClosed() {
		return errConnClosed
	}
	select {
	case c.events <- e:
		return nil
	default:
		return errBufferFull
	}
}

func (c *sseConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *sseConn) close() {
	c.once.Do(func() { close(c.closed) })
}

func (g *Gateway) addConn(c *sseConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.id] = c
}

func (g *Gateway) removeConn(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, id)
}

func (g *Gateway) conn(id string) *sseConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[id]
}

// streamRealtime opens the outbound event stream. The first frame carries
// the connection id the client uses to address its messages.
func (g *Gateway) streamRealtime(c *gin.Context) {
	conn := newSSEConn(g.config.Realtime.SendBuffer)
	g.addConn(conn)
	g.rt.Connect(conn)
	defer func() {
		conn.close()
		g.removeConn(conn.id)
		g.rt.Disconnect(conn.id)
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("connected", gin.H{"connId": conn.id})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case e := <-conn.events:
			c.SSEvent(e.Name, e)
			return true
		}
	})
}

// postRealtimeMessage carries one inbound client intent for a live stream.
func (g *Gateway) postRealtimeMessage(c *gin.Context) {
	conn := g.conn(c.Param("connId"))
	if conn == nil || conn.isClosed() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown connection"})
		return
	}

	var msg realtime.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := g.rt.Dispatch(c.Request.Context(), conn, msg)

	// Stream teardown may have run while the message was in flight; tearing
	// down again drops any membership the dispatch just created, since
	// this connection's own disconnect has already come and gone.
	if conn.isClosed() {
		g.rt.Disconnect(conn.id)
	}

	if err != nil {
		g.logger.Debug("realtime message rejected",
			zap.String("conn_id", conn.id),
			zap.String("type", msg.Type),
			zap.Error(err))
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
