package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/streamrelay/relay-server-go/internal/metrics"
)

const (
	WriteTimeout   = 10 * time.Second
	PongTimeout    = 60 * time.Second
	PingInterval   = (PongTimeout * 9) / 10
	MaxMessageSize = 4096
	SendBuffer     = 64
)

// Socket events
const (
	EventConnected         = "connected"
	EventStreamConnected   = "stream_connected"
	EventUpdated           = "event_updated"
	EventSubscriptions     = "subscriptions"
	EventSubscriptionError = "subscription_error"
)

var (
	ErrClientNotFound = errors.New("connection not found")
	ErrBufferFull     = errors.New("connection send buffer full")
)

// Message is the JSON envelope exchanged with the browser in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewMessage(event string, data any) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal socket message")
		raw = nil
	}
	return Message{Event: event, Data: raw}
}

type Client struct {
	ID   string
	conn *websocket.Conn
	send chan Message
	done chan struct{}
}

type Hub struct {
	clients map[string]*Client // connectionID -> client
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register assigns a fresh connection id to conn and makes it addressable by Push.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	client := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan Message, SendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
	log.Info().
		Str("connectionId", client.ID).
		Int("clientCount", clientCount).
		Msg("socket client registered")

	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.done)
	metrics.ActiveConnections.Dec()

	log.Info().
		Str("connectionId", client.ID).
		Int("clientCount", len(h.clients)).
		Msg("socket client unregistered")
}

// Push queues msg for exactly one connection. It never blocks: a full buffer drops the message.
func (h *Hub) Push(connectionID string, msg Message) error {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.send <- msg:
		return nil
	case <-client.done:
		return ErrClientNotFound
	default:
		log.Warn().
			Str("connectionId", connectionID).
			Str("event", msg.Event).
			Msg("client send buffer full, dropping message")
		return ErrBufferFull
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.done)
		metrics.ActiveConnections.Dec()
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WritePump owns all writes to the socket until the client is unregistered or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("connectionId", c.ID).Msg("socket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Str("connectionId", c.ID).Msg("ping failed, closing connection")
				return
			}
		}
	}
}

// ReadPump feeds inbound messages to handle until the peer goes away. Malformed frames are skipped.
func (c *Client) ReadPump(handle func(Message)) error {
	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			log.Warn().Str("connectionId", c.ID).Msg("ignoring malformed socket message")
			continue
		}
		handle(msg)
	}
}
