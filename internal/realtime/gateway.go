package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/service"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

// readLimit bounds one inbound frame. A maximal body may grow several times
// over when JSON escaped.
const readLimit = 1 << 20

// Error codes sent in error events.
const (
	CodeBadRequest   = "bad_request"
	CodeUnknownEvent = "unknown_event"
	CodeJoinRefused  = "join_refused"
	CodeNotJoined    = "not_joined"
	CodeRejected     = "rejected"
)

// Authenticator verifies the credential attached to a handshake.
type Authenticator interface {
	Authenticate(r *http.Request) (model.Identity, error)
}

// Options tunes the gateway.
type Options struct {
	// OriginPatterns lists allowed browser origins (host patterns). Empty
	// allows same-origin handshakes only.
	OriginPatterns []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// Gateway upgrades authenticated requests to websocket connections and runs
// the chat protocol on them.
type Gateway struct {
	auth          Authenticator
	hub           *Hub
	conversations *service.ConversationService
	messages      *service.MessageService
	receipts      *service.ReceiptService
	presence      *service.PresenceTracker
	opts          Options
	logger        *logger.Logger

	// active counts upgraded connections whose handlers have not returned.
	active sync.WaitGroup
}

// NewGateway creates a gateway.
func NewGateway(
	auth Authenticator,
	hub *Hub,
	conversations *service.ConversationService,
	messages *service.MessageService,
	receipts *service.ReceiptService,
	presence *service.PresenceTracker,
	opts Options,
	log *logger.Logger,
) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Gateway{
		auth:          auth,
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		receipts:      receipts,
		presence:      presence,
		opts:          opts,
		logger:        log.Component("gateway"),
	}
}

type inbound struct {
	Event model.EventType `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServeHTTP handles GET /ws. The credential is verified before the upgrade;
// unauthenticated handshakes get 401 and never reach the protocol.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := g.auth.Authenticate(r)
	if err != nil {
		metrics.WSConnectionsRejected.WithLabelValues("unauthenticated").Inc()
		g.logger.Debug("handshake rejected", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}
	if err := g.conversations.RegisterIdentity(r.Context(), id); err != nil {
		metrics.WSConnectionsRejected.WithLabelValues("directory").Inc()
		g.logger.Error("failed to register identity", zap.String("user_id", id.UserID), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	// Server read/write timeouts would otherwise carry over to the hijacked
	// connection and cut long-lived sockets.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.opts.OriginPatterns,
	})
	if err != nil {
		metrics.WSConnectionsRejected.WithLabelValues("upgrade").Inc()
		g.logger.Warn("websocket accept failed", zap.String("user_id", id.UserID), zap.Error(err))
		return
	}
	g.active.Add(1)
	defer g.active.Done()
	ws.SetReadLimit(readLimit)

	c := newConn(uuid.NewString(), id, ws, g.opts.SendBuffer, g.logger)
	g.hub.Register(c)
	metrics.IncrementWSConnections()
	c.logger.Info("connection opened", zap.String("role", string(id.Role)))

	ctx, cancel := context.WithCancel(r.Context())
	// Persistence started by this connection outlives it.
	persistCtx := context.WithoutCancel(ctx)

	g.presence.Connect(persistCtx, id)

	go func() {
		defer cancel()
		if err := c.writeLoop(ctx, g.opts.PingInterval, g.opts.WriteTimeout); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("write loop ended", zap.Error(err))
		}
	}()

	g.readLoop(ctx, persistCtx, c)
	cancel()

	g.hub.Unregister(c)
	metrics.DecrementWSConnections()
	g.presence.Disconnect(persistCtx, id)
	c.logger.Info("connection closed")
}

// Wait blocks until every upgraded connection has finished its teardown,
// including the final presence write, or ctx ends.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) readLoop(ctx, persistCtx context.Context, c *Conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("connection closed by peer")
			} else {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			g.reject(c, CodeBadRequest, "malformed event")
			continue
		}
		g.dispatch(persistCtx, c, msg)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Conn, msg inbound) {
	switch msg.Event {
	case model.EventJoinConversation:
		var req model.ConversationRef
		if !g.decode(c, msg, &req) {
			return
		}
		g.join(ctx, c, req.ConversationID)

	case model.EventLeaveConversation:
		var req model.ConversationRef
		if !g.decode(c, msg, &req) {
			return
		}
		g.hub.Leave(c, req.ConversationID)

	case model.EventSendMessage:
		var req model.SendMessageRequest
		if !g.decode(c, msg, &req) {
			return
		}
		g.send(ctx, c, req)

	case model.EventTyping:
		var req model.ConversationRef
		if !g.decode(c, msg, &req) {
			return
		}
		g.typing(c, req.ConversationID)

	case model.EventMessageDelivered:
		var req model.DeliveredRequest
		if !g.decode(c, msg, &req) {
			return
		}
		if _, err := g.receipts.Delivered(ctx, c.identity, req.MessageID); err != nil {
			g.refuse(c, msg.Event, err)
		}

	case model.EventMessageSeen:
		var req model.SeenRequest
		if !g.decode(c, msg, &req) {
			return
		}
		if _, err := g.receipts.Seen(ctx, c.identity, req.ConversationID, req.SenderID); err != nil {
			g.refuse(c, msg.Event, err)
		}

	default:
		g.reject(c, CodeUnknownEvent, "unknown event "+string(msg.Event))
	}
}

func (g *Gateway) decode(c *Conn, msg inbound, v any) bool {
	if len(msg.Data) == 0 {
		g.reject(c, CodeBadRequest, string(msg.Event)+": missing data")
		return false
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		g.reject(c, CodeBadRequest, string(msg.Event)+": malformed data")
		return false
	}
	return true
}

func (g *Gateway) join(ctx context.Context, c *Conn, conversationID string) {
	if _, err := g.conversations.Authorize(ctx, c.identity, conversationID); err != nil {
		c.logger.Info("join refused", zap.String("conversation_id", conversationID), zap.Error(err))
		g.reject(c, CodeJoinRefused, "cannot join conversation")
		return
	}
	g.hub.Join(c, conversationID)
	c.logger.Debug("joined conversation", zap.String("conversation_id", conversationID))
}

// send persists first and lets the message service broadcast. A failed
// append is logged and nothing is broadcast.
func (g *Gateway) send(ctx context.Context, c *Conn, req model.SendMessageRequest) {
	if _, err := g.messages.Send(ctx, c.identity, req.ConversationID, req.Message, service.TransportRealtime); err != nil {
		c.logger.Warn("send failed",
			zap.String("conversation_id", req.ConversationID), zap.Error(err))
	}
}

// typing relays the signal to the rest of the room. It is never persisted and
// not throttled.
func (g *Gateway) typing(c *Conn, conversationID string) {
	if !g.hub.InRoom(c, conversationID) {
		g.reject(c, CodeNotJoined, "join the conversation first")
		return
	}
	g.hub.Broadcast(model.NewEvent(model.EventTyping, conversationID, &model.TypingEvent{
		ConversationID: conversationID,
		UserID:         c.identity.UserID,
	}), c.identity.UserID)
}

func (g *Gateway) refuse(c *Conn, event model.EventType, err error) {
	c.logger.Info("event refused", zap.String("event", string(event)), zap.Error(err))
	code := CodeRejected
	if errors.Is(err, service.ErrValidation) {
		code = CodeBadRequest
	}
	g.reject(c, code, string(event)+" refused")
}

func (g *Gateway) reject(c *Conn, code, message string) {
	g.hub.Send(c, model.NewEvent(model.EventError, "", &model.ErrorEvent{Code: code, Message: message}))
}
