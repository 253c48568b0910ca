package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

// Conn is one authenticated realtime connection. A user may hold several.
type Conn struct {
	id       string
	identity model.Identity
	ws       *websocket.Conn
	logger   *logger.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, identity model.Identity, ws *websocket.Conn, buffer int, log *logger.Logger) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		id:       id,
		identity: identity,
		ws:       ws,
		logger:   log.With(zap.String("conn_id", id), zap.String("user_id", identity.UserID)),
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// enqueue queues payload without blocking. A full queue closes the
// connection; the client is expected to reconnect and refetch.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		metrics.WSSlowConsumers.Inc()
		c.logger.Warn("send queue full, closing connection", zap.Int("queue", cap(c.send)))
		c.close(websocket.StatusPolicyViolation, "send queue full")
		return false
	}
}

// close marks the connection closed and closes the socket in the
// background. The send channel is never closed so concurrent enqueues are
// safe.
func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			go func() {
				if err := c.ws.Close(code, reason); err != nil {
					c.logger.Debug("websocket close", zap.Error(err))
				}
			}()
		}
	})
}

// writeLoop drains the send queue onto the socket and pings the peer every
// pingInterval. It returns when ctx ends, the connection closes or a write
// fails.
func (c *Conn) writeLoop(ctx context.Context, pingInterval, writeTimeout time.Duration) error {
	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case payload := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return err
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
