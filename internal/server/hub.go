package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/blogchat/internal/bot"
	"github.com/Tyrowin/blogchat/internal/store"
)

// Responder produces the site assistant's answer to a bot-room message.
type Responder interface {
	Respond(ctx context.Context, text string) (bot.Reply, error)
}

// ClientLimits bounds what a single connection may send.
type ClientLimits struct {
	MaxMessageSize int64
	RateLimit      RateLimitConfig
}

// HubDeps are the collaborators injected into a Hub.
type HubDeps struct {
	Messages store.MessageStore
	Bot      Responder
	Logger   *slog.Logger
	Limits   ClientLimits
}

// Hub manages all WebSocket client connections: presence, room membership,
// fan-out and the handlers for every inbound event. Registration and
// unregistration are serialised through the Run loop.
type Hub struct {
	registry *Registry
	rooms    *Rooms
	clients  map[*Client]struct{}
	mutex    sync.RWMutex
	// fanout serialises deliveries so every receiver observes broadcasts
	// in the same order.
	fanout sync.Mutex

	messages store.MessageStore
	bot      Responder
	logger   *slog.Logger
	metrics  *hubMetrics
	limits   ClientLimits
	now      func() time.Time

	register   chan *Client
	unregister chan *Client
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub ready to be started with Run.
func NewHub(deps HubDeps) *Hub {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limits := deps.Limits
	defaults := DefaultConfig()
	if limits.MaxMessageSize <= 0 {
		limits.MaxMessageSize = defaults.MaxMessageSize
	}
	if limits.RateLimit.Burst <= 0 {
		limits.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if limits.RateLimit.RefillInterval <= 0 {
		limits.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if limits.RateLimit.SignalBurst <= 0 {
		limits.RateLimit.SignalBurst = defaults.RateLimit.SignalBurst
	}
	if limits.RateLimit.SignalRefillInterval <= 0 {
		limits.RateLimit.SignalRefillInterval = defaults.RateLimit.SignalRefillInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   NewRegistry(),
		rooms:      NewRooms(),
		clients:    make(map[*Client]struct{}),
		messages:   deps.Messages,
		bot:        deps.Bot,
		logger:     logger,
		metrics:    newHubMetrics(),
		limits:     limits,
		now:        time.Now,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry returns the hub's presence registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms returns the hub's room membership table.
func (h *Hub) Rooms() *Rooms { return h.rooms }

// Register hands a new client to the Run loop. It returns false when the hub
// is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) requestUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.connect(client)

		case client := <-h.unregister:
			h.disconnect(client)
		}
	}
}

// connect records the client, makes it the user's current connection and
// announces the user as online to everyone.
func (h *Hub) connect(c *Client) {
	h.mutex.Lock()
	h.clients[c] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if prev := h.registry.Register(c.UserID(), c); prev != nil && prev != c {
		c.logger.Info("replacing previous connection of user", "previous", prev.id)
	}
	h.metrics.connections.Set(float64(clientCount))
	h.metrics.onlineUsers.Set(float64(h.registry.Count()))
	c.logger.Info("client registered", "clients", clientCount)

	if c.conn != nil {
		h.wg.Add(3)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
		go func() {
			defer h.wg.Done()
			c.processPump()
		}()
	}

	h.broadcastPresence(c.UserID(), true)
}

// disconnect releases everything the client held. The user goes offline
// only if this was still their current connection.
func (h *Hub) disconnect(c *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, c)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	c.shut()
	left := h.rooms.RemoveAll(c)
	offline := h.registry.Unregister(c.UserID(), c)

	h.metrics.connections.Set(float64(clientCount))
	h.metrics.onlineUsers.Set(float64(h.registry.Count()))
	c.logger.Info("client unregistered", "clients", clientCount, "rooms_left", len(left), "offline", offline)

	if offline {
		h.broadcastPresence(c.UserID(), false)
	}
}

func (h *Hub) broadcastPresence(userID string, online bool) {
	frame, err := encodeEvent(EventPresenceUpdate, PresenceUpdate{UserID: userID, Online: online})
	if err != nil {
		h.logger.Error("encoding presence update failed", "error", err)
		return
	}
	h.broadcastAll(frame)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) broadcastAll(frame []byte) {
	h.fanout.Lock()
	defer h.fanout.Unlock()

	for _, c := range h.getClientSnapshot() {
		h.deliver(c, frame)
	}
}

// broadcastRoom delivers frame to every member of room except the given
// client, which may be nil.
func (h *Hub) broadcastRoom(room RoomID, frame []byte, except *Client) int {
	h.fanout.Lock()
	defer h.fanout.Unlock()

	delivered := 0
	for _, c := range h.rooms.Members(room) {
		if c == except {
			continue
		}
		if h.deliver(c, frame) {
			delivered++
		}
	}
	return delivered
}

// emitRoom encodes an event and broadcasts it to room.
func (h *Hub) emitRoom(room RoomID, event string, data any, except *Client) {
	frame, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Error("encoding event failed", "event", event, "error", err)
		return
	}
	n := h.broadcastRoom(room, frame, except)
	h.logger.Debug("broadcast", "event", event, "room", room.String(), "receivers", n)
}

// emitTo encodes an event and delivers it to a single client.
func (h *Hub) emitTo(c *Client, event string, data any) bool {
	frame, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Error("encoding event failed", "event", event, "error", err)
		return false
	}
	return h.deliver(c, frame)
}

// deliver queues frame on c. A client whose send buffer is full is evicted:
// closing its send channel makes the write pump close the socket, and the
// read pump then unregisters it.
func (h *Hub) deliver(c *Client, frame []byte) bool {
	ok, full := c.enqueue(frame)
	if full && c.shut() {
		c.logger.Warn("client removed due to full send buffer")
	}
	return ok
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	clients := h.getClientSnapshot()
	for _, client := range clients {
		client.shut()
		client.closeConnection()
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
