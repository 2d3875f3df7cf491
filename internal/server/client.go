package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/blogchat/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	inboundSize    = 64
)

// Client represents one authenticated WebSocket connection. Frames read from
// the socket are queued on inbound and handled in order by a dedicated
// goroutine, so slow store calls never stall the socket reader.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	inbound  chan []byte
	hub      *Hub
	identity auth.Identity
	addr     string
	logger   *slog.Logger

	maxMessageSize int64
	rateLimiter    *rateLimiter
	signalLimiter  *rateLimiter
	rateLimit      RateLimitConfig

	mu     sync.Mutex
	closed bool
}

// NewClient creates a Client for the verified identity. conn may be nil for
// clients that are only ever written to.
func NewClient(conn *websocket.Conn, hub *Hub, identity auth.Identity, addr string) *Client {
	limits := hub.limits
	if conn != nil {
		conn.SetReadLimit(limits.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		inbound:        make(chan []byte, inboundSize),
		hub:            hub,
		identity:       identity,
		addr:           addr,
		logger:         hub.logger.With("conn", id, "user", identity.UserID, "remote", addr),
		maxMessageSize: limits.MaxMessageSize,
		rateLimiter:    newRateLimiter(limits.RateLimit.Burst, limits.RateLimit.RefillInterval),
		signalLimiter:  newRateLimiter(limits.RateLimit.SignalBurst, limits.RateLimit.SignalRefillInterval),
		rateLimit:      limits.RateLimit,
	}
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string {
	return c.identity.UserID
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// enqueue hands a frame to the write pump. ok is false when the client is
// closed or, with full set, when its send buffer has no room.
func (c *Client) enqueue(frame []byte) (ok, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, false
	}
	select {
	case c.send <- frame:
		return true, false
	default:
		return false, true
	}
}

// shut marks the client closed and closes its send channel, which makes the
// write pump send a close frame. It reports whether this call did the work.
func (c *Client) shut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("setting initial read deadline failed", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("setting read deadline in pong handler failed", "error", err)
		}
		return nil
	})
}

// logReadError records why the read loop stopped.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", "error", err)
	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

// checkRateLimit charges the frame to the bucket of its event class and
// returns true if the frame should be processed.
func (c *Client) checkRateLimit(frame []byte) bool {
	event := peekEvent(frame)
	if isSignalEvent(event) {
		if c.signalLimiter != nil && !c.signalLimiter.allow() {
			c.logger.Debug("signal rate limit exceeded; discarding frame",
				"event", event,
				"burst", c.rateLimit.SignalBurst,
				"interval", c.rateLimit.SignalRefillInterval)
			return false
		}
		return true
	}

	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded; discarding frame",
			"event", event,
			"burst", c.rateLimit.Burst,
			"interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// queueInbound hands a frame to the process goroutine, dropping it when the
// queue is full.
func (c *Client) queueInbound(frame []byte) {
	select {
	case c.inbound <- frame:
	default:
		c.logger.Warn("inbound queue full; discarding frame")
	}
}

func (c *Client) readPump() {
	defer func() {
		close(c.inbound)
		c.hub.requestUnregister(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit(rawMessage) {
			continue
		}

		c.queueInbound(rawMessage)
	}
}

// processPump handles queued frames in arrival order. Frames still queued
// when the client closes are dropped.
func (c *Client) processPump() {
	for frame := range c.inbound {
		if c.isClosed() {
			continue
		}
		c.hub.dispatch(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the socket, ignoring errors from a socket the other
// pump already closed.
func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("closing connection failed", "error", err)
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("setting write deadline failed", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("writing close message failed", "error", err)
	}
	return false
}

// writeTextMessage writes a text frame holding message and any frames
// already queued behind it, separated by newlines.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Warn("creating writer failed", "error", err)
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.logger.Warn("writing message failed", "error", err)
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.logger.Warn("closing writer failed", "error", err)
		return false
	}
	return true
}

// writeQueuedMessages drains the frames queued at the time of the call.
func (c *Client) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return true
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.logger.Warn("writing separator failed", "error", err)
			return false
		}
		if _, err := w.Write(message); err != nil {
			c.logger.Warn("writing queued message failed", "error", err)
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("setting write deadline for ping failed", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("writing ping failed", "error", err)
		return false
	}
	return true
}
