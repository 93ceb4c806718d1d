package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hydro-core/internal/auth"
	"github.com/nerrad567/hydro-core/internal/floor"
	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
	"github.com/nerrad567/hydro-core/internal/infrastructure/logging"
	"github.com/nerrad567/hydro-core/internal/relay"
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

// Floor events.
const (
	// EventFloorStateChanged is sent on channel "floor.{id}" after every
	// change of that floor's mirrored state.
	EventFloorStateChanged = "floor.state_changed"

	// EventFloorSnapshot carries a floor's current state right after the
	// client subscribes to its channel.
	EventFloorSnapshot = "floor.snapshot"
)

const (
	floorChannelPrefix = "floor."

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// FloorChannel returns the WebSocket channel carrying a floor's state.
func FloorChannel(floorID string) string {
	return floorChannelPrefix + floorID
}

// WSMessage is one frame exchanged with a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// StateLookup returns the current state of a floor, false when unknown.
type StateLookup func(floorID string) (relay.FloorState, bool)

// Hub fans floor state changes out to subscribed WebSocket clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	// states answers initial snapshots; nil disables them.
	states StateLookup

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// claims of the token that requested the ticket; nil allows every channel.
	claims *auth.Claims

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

var _ floor.Listener = (*Hub)(nil)

// NewHub creates a hub. states may be nil.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, states StateLookup) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		states:  states,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. The send channel is closed only by the
// call that actually removed the client.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// FloorChanged implements floor.Listener.
func (h *Hub) FloorChanged(state relay.FloorState) {
	h.Broadcast(FloorChannel(state.Floor), EventFloorStateChanged, state)
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel, eventType string, payload any) {
	data, err := encodeEvent(channel, eventType, payload)
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	recipients := h.subscribersOf(channel)
	for _, client := range recipients {
		client.trySend(data)
	}
	if len(recipients) > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", len(recipients))
	}
}

// subscribersOf snapshots the clients subscribed to channel. The hub lock
// is released before any client lock is taken.
func (h *Hub) subscribersOf(channel string) []*WSClient {
	h.mu.RLock()
	all := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		all = append(all, client)
	}
	h.mu.RUnlock()

	out := all[:0]
	for _, client := range all {
		if client.isSubscribed(channel) {
			out = append(out, client)
		}
	}
	return out
}

// closeAll disconnects every client so their write pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func encodeEvent(channel, eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// handleWebSocket upgrades a request carrying a ticket from
// POST /auth/ws-ticket. The ticket's claims scope the floor channels.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	claims, ok := s.tickets.redeem(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		claims:        claims,
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	t := timingsFrom(s.wsCfg)
	go client.writePump(t)
	go client.readPump(t, int64(s.wsCfg.MaxMessageSize))
}

// wsTimings holds the keepalive intervals derived from config.
type wsTimings struct {
	pingEvery time.Duration // server ping period
	writeWait time.Duration // deadline for one write
	readWait  time.Duration // silence allowed before the read side gives up
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	return wsTimings{pingEvery: ping, writeWait: pong, readWait: ping + pong}
}

// readPump dispatches inbound frames until the connection fails. Any
// frame, pong or otherwise, extends the read deadline.
func (c *WSClient) readPump(t wsTimings, limit int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(t.readWait)) }

	c.conn.SetReadLimit(limit)
	_ = extend() //nolint:errcheck // best effort; a dead conn fails the first read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		_ = extend() //nolint:errcheck // best effort
		c.handleMessage(data)
	}
}

// writePump drains the send channel and pings on a timer. It exits when
// the channel is closed or a write fails.
func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(t.writeWait)) //nolint:errcheck // write reports the failure
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one inbound frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeChannels extracts the channel list of a subscribe or unsubscribe
// request. Payload arrives as a generic map, so it is re-encoded first.
func decodeChannels(msg WSMessage) ([]string, error) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	var p WSSubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid %s payload", msg.Type)
	}
	return p.Channels, nil
}

// handleSubscribe joins the channels the token grants and reports the
// rest as denied. Each newly joined floor channel is followed by a
// snapshot of that floor, sent after the response.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg)
	if err != nil {
		c.replyError(msg.ID, err.Error())
		return
	}

	granted := make([]string, 0, len(channels))
	denied := make([]string, 0)
	for _, ch := range channels {
		if c.mayJoin(ch) {
			granted = append(granted, ch)
		} else {
			denied = append(denied, ch)
		}
	}

	c.mu.Lock()
	for _, ch := range granted {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", granted, "denied", denied)

	resp := map[string]any{"subscribed": granted}
	if len(denied) > 0 {
		resp["denied"] = denied
	}
	c.reply(msg.ID, WSTypeResponse, resp)

	c.sendSnapshots(granted)
}

// sendSnapshots sends the current state of each floor channel in channels.
func (c *WSClient) sendSnapshots(channels []string) {
	if c.hub.states == nil {
		return
	}
	for _, ch := range channels {
		floorID, ok := strings.CutPrefix(ch, floorChannelPrefix)
		if !ok {
			continue
		}
		state, ok := c.hub.states(floorID)
		if !ok {
			continue
		}
		if data, err := encodeEvent(ch, EventFloorSnapshot, state); err == nil {
			c.trySend(data)
		}
	}
}

// handleUnsubscribe leaves the listed channels.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg)
	if err != nil {
		c.replyError(msg.ID, err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

// mayJoin reports whether the client's token grants a channel. Floor
// channels follow the token's floor scope; other channels are open.
func (c *WSClient) mayJoin(channel string) bool {
	floorID, ok := strings.CutPrefix(channel, floorChannelPrefix)
	if !ok || c.claims == nil {
		return true
	}
	return c.claims.CanAccessFloor(floorID)
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// trySend queues data without blocking. Frames for a slow client are
// dropped; a send racing with Unregister hits a closed channel and is
// absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
