package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devmgr/internal/auth"
	"github.com/nerrad567/devmgr/internal/infrastructure/config"
	"github.com/nerrad567/devmgr/internal/infrastructure/logging"
)

// Message types on the live event stream.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes to every event kind. New clients start on it.
	WSChannelAll = "*"

	// wsSendBufferSize is the per-client outbound queue length. A client
	// that falls this far behind loses events.
	wsSendBufferSize = 256
)

// WSMessage is one frame on the stream, in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
// Channels are event kinds such as create or template.update.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub tracks connected clients per tenant and fans registry events out to
// them. Clients only ever see their own tenant's events.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	tenants map[string]map[*WSClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		tenants: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for tenant, clients := range h.tenants {
		for c := range clients {
			close(c.send)
			c.conn.Close()
		}
		delete(h.tenants, tenant)
	}
}

// Register adds a client under its tenant.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	clients, ok := h.tenants[c.tenant]
	if !ok {
		clients = make(map[*WSClient]struct{})
		h.tenants[c.tenant] = clients
	}
	clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "tenant", c.tenant)
}

// Unregister removes a client. Only the call that actually removes it
// closes the send queue, so Run and a closing reader never double-close.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	clients := h.tenants[c.tenant]
	_, present := clients[c]
	if present {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.tenants, c.tenant)
		}
		close(c.send)
	}
	h.mu.Unlock()

	if present {
		h.logger.Debug("websocket client disconnected", "tenant", c.tenant)
	}
}

// Broadcast queues an event for the tenant's clients subscribed to channel.
// The frame is encoded once. Client locks are taken after the hub lock is
// released.
func (h *Hub) Broadcast(tenant, channel string, payload any) {
	h.mu.RLock()
	recipients := make([]*WSClient, 0, len(h.tenants[tenant]))
	for c := range h.tenants[tenant] {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()
	if len(recipients) == 0 {
		return
	}

	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "tenant", tenant, "channel", channel, "error", err)
		return
	}

	sent := 0
	for _, c := range recipients {
		if c.subscribed(channel) {
			c.enqueue(frame)
			sent++
		}
	}
	h.logger.Debug("websocket event queued", "tenant", tenant, "channel", channel, "recipients", sent)
}

// ClientCount returns the number of connected clients across tenants.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.tenants {
		n += len(clients)
	}
	return n
}

// TenantCount returns how many tenants have at least one client.
func (h *Hub) TenantCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants)
}

// WSClient is one connection on the stream.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	tenant string
	send   chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
}

// newWSClient creates a client of tenant subscribed to every channel.
func newWSClient(hub *Hub, conn *websocket.Conn, tenant string) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		tenant:   tenant,
		send:     make(chan []byte, wsSendBufferSize),
		channels: map[string]struct{}{WSChannelAll: {}},
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, all := c.channels[WSChannelAll]
	_, one := c.channels[channel]
	return all || one
}

// enqueue hands a frame to the writer without blocking. Frames for a full
// queue are dropped, and a queue closed during shutdown is ignored.
func (c *WSClient) enqueue(frame []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a queue closed by Unregister
	}()
	select {
	case c.send <- frame:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}

// wsTimings are the keepalive durations derived from configuration.
type wsTimings struct {
	ping      time.Duration // interval between server pings
	write     time.Duration // deadline for a single write
	readLimit int64
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		ping:      time.Duration(cfg.PingInterval) * time.Second,
		write:     time.Duration(cfg.PongTimeout) * time.Second,
		readLimit: int64(cfg.MaxMessageSize),
	}
	if t.ping <= 0 {
		t.ping = 30 * time.Second
	}
	if t.write <= 0 {
		t.write = 10 * time.Second
	}
	return t
}

// idle is how long the reader waits for any frame before giving up.
func (t wsTimings) idle() time.Duration { return t.ping + t.write }

// readLoop handles client requests until the connection fails. Any frame,
// pong or not, extends the idle deadline.
func (c *WSClient) readLoop(t wsTimings) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(t.readLimit)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(t.idle())) }
	extend() //nolint:errcheck // write side notices a dead connection too
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "tenant", c.tenant, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // next read reports the failure
		c.dispatch(data)
	}
}

// writeLoop drains the send queue and pings on an interval. It returns when
// the queue is closed or a write fails.
func (c *WSClient) writeLoop(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(t.write)) //nolint:errcheck // write below fails instead
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, open := <-c.send:
			if !open {
				write(websocket.CloseMessage, nil) //nolint:errcheck // peer may already be gone
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// dispatch answers one client request.
func (c *WSClient) dispatch(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.changeChannels(msg, true)
	case WSTypeUnsubscribe:
		c.changeChannels(msg, false)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// changeChannels adds or removes the channels named in the request payload.
func (c *WSClient) changeChannels(msg WSMessage, add bool) {
	// Payload arrives as a generic map; round-trip it into the typed form.
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.replyError(msg.ID, "invalid payload")
		return
	}
	var req WSSubscribePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		c.replyError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range req.Channels {
		if add {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
	}
	c.hub.logger.Debug("websocket channels changed", "tenant", c.tenant, key, req.Channels)
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: req.Channels})
}

// upgrader accepts any origin; the CORS middleware has already run.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection to the live event stream.
//
// Browsers cannot set headers on the handshake, so the bearer token travels
// in the token query parameter. An Authorization header is accepted too.
// The connection receives the events of the token's tenant only.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	tenant, err := s.resolver.Resolve(token)
	if err != nil {
		writeUnauthorized(w, tenantErrorMessage(err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Warn("websocket upgrade failed", "tenant", tenant, "error", err)
		return
	}

	client := newWSClient(s.hub, conn, tenant)
	s.hub.Register(client)

	t := timingsFrom(s.hub.cfg)
	go client.writeLoop(t)
	go client.readLoop(t)
}
