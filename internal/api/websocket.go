package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-beacon/internal/auth"
	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// WSChannelAll subscribes a client to every event kind.
const WSChannelAll = "*"

const wsSendBufferSize = 256

// wsChannels are the channel names a client may subscribe to.
var wsChannels = []string{
	WSChannelAll,
	string(beacon.EventAdvertisingStarted),
	string(beacon.EventAdvertisingStopped),
	string(beacon.EventStateChanged),
	string(beacon.EventConnection),
	string(beacon.EventConfigChanged),
}

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound WSMessage with the payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans beacon events out to connected WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one WebSocket connection.
type WSClient struct {
	hub       *Hub
	conn      *websocket.Conn
	principal auth.Principal

	mu       sync.RWMutex
	send     chan []byte
	closed   bool
	channels map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are policed by corsMiddleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

func newWSClient(h *Hub, conn *websocket.Conn, p auth.Principal, channels ...string) *WSClient {
	c := &WSClient{
		hub:       h,
		conn:      conn,
		principal: p,
		send:      make(chan []byte, wsSendBufferSize),
		channels:  make(map[string]struct{}, len(channels)),
	}
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	return c
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "principal", c.principal.ID)
}

// Unregister removes a client and closes its send queue. Repeated calls
// are harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every client subscribed to channel. Slow
// clients whose queue is full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("marshalling websocket event", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.subscribed(channel) && !c.enqueue(data) {
			h.logger.Debug("websocket client queue full, event dropped", "channel", channel, "principal", c.principal.ID)
		}
	}
}

// Observe relays a beacon event. It is registered on beacon.Events and
// never blocks.
func (h *Hub) Observe(ev beacon.Event) {
	h.Broadcast(string(ev.Kind), newEventPayload(ev))
}

// handleWebSocket authenticates and upgrades the connection. Browsers
// cannot set headers on the upgrade request, so the access token travels
// in the token query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	p, err := s.authenticate(token)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if !auth.HasPermission(p.Role, auth.PermBeaconRead) {
		writeForbidden(w, "missing permission "+string(auth.PermBeaconRead))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, p)
	s.hub.Register(c)
	go c.writeLoop()
	go c.readLoop()
}

// enqueue reports false when the client is gone or its queue is full.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
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

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, all := c.channels[WSChannelAll]
	_, one := c.channels[channel]
	return all || one
}

func (c *WSClient) readDeadline() time.Time {
	cfg := c.hub.cfg
	return time.Now().Add(time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second)
}

func (c *WSClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	c.conn.SetReadDeadline(c.readDeadline()) //nolint:errcheck // a failed deadline surfaces on read
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(c.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application pings count as liveness too.
		c.conn.SetReadDeadline(c.readDeadline()) //nolint:errcheck // a failed deadline surfaces on read
		c.handle(data)
	}
}

func (c *WSClient) writeLoop() {
	writeWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(c.hub.cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ping.C:
			kind = websocket.PingMessage
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // a failed deadline surfaces on write
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateChannels(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

func (c *WSClient) updateChannels(req wsRequest) {
	var body WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &body); err != nil || len(body.Channels) == 0 {
		c.reply(req.ID, WSTypeError, errorBody("payload must list channels"))
		return
	}
	for _, ch := range body.Channels {
		if !slices.Contains(wsChannels, ch) {
			c.reply(req.ID, WSTypeError, errorBody("unknown channel: "+ch))
			return
		}
	}

	c.mu.Lock()
	for _, ch := range body.Channels {
		if req.Type == WSTypeSubscribe {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "subscribed"
	if req.Type == WSTypeUnsubscribe {
		key = "unsubscribed"
	}
	c.hub.logger.Debug("websocket channels updated", key, body.Channels, "principal", c.principal.ID)
	c.reply(req.ID, WSTypeResponse, map[string]any{key: body.Channels})
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(data)
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
