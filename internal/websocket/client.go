package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/internal/realtime"
	"roomchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// TokenVerifier resolves a login token to a user.
type TokenVerifier interface {
	GetUserFromToken(ctx context.Context, token string) (*models.User, error)
}

type Options struct {
	SendBuffer        int
	MaxFrameBytes     int64
	MessagesPerSecond float64
	MessageBurst      int
}

// Client pumps frames between one WebSocket and the engine.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	engine  *realtime.Engine
	tokens  TokenVerifier
	opts    Options
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, engine *realtime.Engine, tokens TokenVerifier, opts Options, m *metrics.Metrics) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	c := &Client{
		id:      uuid.NewString(),
		hub:     hub,
		conn:    conn,
		engine:  engine,
		tokens:  tokens,
		opts:    opts,
		metrics: m,
		send:    make(chan []byte, opts.SendBuffer),
	}
	if opts.MessagesPerSecond > 0 {
		burst := opts.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), burst)
	}
	return c
}

func (c *Client) ID() string { return c.id }

// Send queues data without blocking. It reports false when the queue is full
// or the client has shut down.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Start registers the client with the engine and runs both pumps. ident is
// set when the upgrade request carried a valid token.
func (c *Client) Start(ident *realtime.Identity) {
	c.metrics.ConnectionOpened()
	c.hub.register(c)
	c.engine.Connect(c)
	if ident != nil {
		if err := c.engine.Authenticate(c.id, *ident); err != nil {
			logger.Warn("failed to attach identity", "connection_id", c.id, "error", err)
		}
	}

	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) ReadPump() {
	ctx := context.Background()
	defer func() {
		c.engine.Disconnect(ctx, c.id)
		c.hub.unregister(c)
		c.shutdown()
		c.conn.Close()
	}()

	if c.opts.MaxFrameBytes > 0 {
		c.conn.SetReadLimit(c.opts.MaxFrameBytes)
	}
	// Set read deadline and pong handler for connection health
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", "connection_id", c.id, "error", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.metrics.RateLimited()
			c.sendError("too many messages, slow down")
			continue
		}

		var ev models.InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.sendError("invalid message format")
			continue
		}

		if ev.Type == models.EventJoin && ev.Token != "" {
			if !c.authenticate(ctx, ev.Token) {
				continue
			}
		}

		c.engine.HandleEvent(ctx, c.id, ev)
	}
}

func (c *Client) authenticate(ctx context.Context, token string) bool {
	if c.tokens == nil {
		return true
	}
	user, err := c.tokens.GetUserFromToken(ctx, token)
	if err != nil {
		c.sendError("invalid token")
		return false
	}
	if err := c.engine.Authenticate(c.id, realtime.Identity{UserID: user.ID, Username: user.Username}); err != nil {
		c.sendError(realtime.Reason(err))
		return false
	}
	return true
}

func (c *Client) sendError(reason string) {
	data, err := json.Marshal(&models.Event{Type: models.EventError, Message: reason})
	if err != nil {
		return
	}
	c.Send(data)
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn("websocket write error", "connection_id", c.id, "error", err)
				return
			}

			// flush whatever queued up meanwhile under the same deadline
			for n := len(c.send); n > 0; n-- {
				queued, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					logger.Warn("websocket write error", "connection_id", c.id, "error", err)
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
