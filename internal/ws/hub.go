package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"booking-inbox/client/internal/ui"
	"booking-inbox/client/pkg/logger"
	pkgws "booking-inbox/client/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

// Controller answers client frames. It is implemented by the gateway.
type Controller interface {
	// Subscribe returns the current frame of topic, mounting the view behind
	// it when needed
	Subscribe(ctx context.Context, topic string) (pkgws.Envelope, error)
	// Resync re-synchronizes the view behind topic
	Resync(ctx context.Context, topic string, trigger ui.Trigger) error
}

// Options configures a Hub
type Options struct {
	// AllowedOrigins lists the accepted Origin headers; "*" accepts any
	AllowedOrigins []string

	Logger *logger.Logger
}

// Client is one websocket connection
type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub
	UserID string

	mu     sync.Mutex
	closed bool
	topics map[string]bool
}

type delivery struct {
	topic string // empty reaches every client
	data  []byte
}

// Hub fans published frames out to subscribed connections
type Hub struct {
	clients     map[*Client]bool
	broadcast   chan delivery
	register    chan *Client
	unregister  chan *Client
	controller  Controller
	upgrader    websocket.Upgrader
	log         *logger.Logger
	connections metric.Int64UpDownCounter
	mu          sync.Mutex
	done        chan struct{}
}

// NewHub creates a hub; call Run before serving connections
func NewHub(controller Controller, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobal()
	}

	connections, err := otel.Meter("booking-inbox/client/internal/ws").Int64UpDownCounter(
		"inbox_ws_connections",
		metric.WithDescription("Open websocket connections"),
	)
	if err != nil {
		opts.Logger.LogWarn(err, "Websocket connection gauge unavailable")
	}

	return &Hub{
		clients:     make(map[*Client]bool),
		broadcast:   make(chan delivery, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		controller:  controller,
		upgrader:    newUpgrader(opts.AllowedOrigins),
		log:         opts.Logger,
		connections: connections,
		done:        make(chan struct{}),
	}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// Run dispatches frames until ctx ends, then closes every connection
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.addConnections(ctx, 1)
			h.log.Debug("Websocket client registered", "client_id", client.ID)

		case client := <-h.unregister:
			h.remove(ctx, client, "Websocket client unregistered")

		case d := <-h.broadcast:
			h.mu.Lock()
			var blocked []*Client
			for client := range h.clients {
				if d.topic != "" && !client.Subscribed(d.topic) {
					continue
				}
				if !client.trySend(d.data) {
					blocked = append(blocked, client)
				}
			}
			h.mu.Unlock()
			for _, client := range blocked {
				h.remove(ctx, client, "Websocket client removed due to blocked channel")
			}

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(ctx context.Context, client *Client, msg string) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if ok {
		client.close()
		h.addConnections(ctx, -1)
		h.log.Debug(msg, "client_id", client.ID)
	}
}

func (h *Hub) addConnections(ctx context.Context, n int64) {
	if h.connections != nil {
		h.connections.Add(context.WithoutCancel(ctx), n)
	}
}

// Publish sends env to every client subscribed to topic. An empty topic
// reaches every client. Frames published after Run has stopped are dropped.
func (h *Hub) Publish(topic string, env pkgws.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.LogError(err, "Failed to encode websocket frame", "type", env.Type)
		return
	}
	select {
	case h.broadcast <- delivery{topic: topic, data: data}:
	case <-h.done:
	}
}

// ActiveConnections counts registered clients
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Subscribed reports whether the client receives topic
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

func (c *Client) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = true
}

// trySend queues data without blocking; false means the client is stuck
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ReadPump reads client frames until the connection fails
func (c *Client) ReadPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.LogWarn(err, "Websocket closed unexpectedly", "client_id", c.ID)
			}
			return
		}

		var frame pkgws.Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}

		go c.handleMessage(ctx, frame)
	}
}

func (c *Client) handleMessage(ctx context.Context, frame pkgws.Inbound) {
	switch frame.Type {
	case pkgws.TypePing:
		c.sendEnvelope(pkgws.Envelope{Type: pkgws.TypePong})

	case pkgws.TypeSubscribe:
		var p pkgws.SubscribePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.ConversationID == "" {
			c.sendError("subscribe needs a conversationId")
			return
		}
		c.join(ctx, pkgws.ThreadTopic(p.ConversationID))

	case pkgws.TypeResync:
		var p pkgws.ResyncPayload
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				c.sendError("malformed resync payload")
				return
			}
		}
		topic := pkgws.TopicInbox
		if p.ConversationID != "" {
			topic = pkgws.ThreadTopic(p.ConversationID)
		}
		if err := c.Hub.controller.Resync(ctx, topic, ui.ParseTrigger(p.Trigger)); err != nil {
			c.Hub.log.LogWarn(err, "Websocket resync failed", "topic", topic)
		}

	default:
		c.sendError("unknown frame type " + frame.Type)
	}
}

// join subscribes the client to topic and sends the current frame
func (c *Client) join(ctx context.Context, topic string) {
	c.subscribe(topic)
	env, err := c.Hub.controller.Subscribe(ctx, topic)
	if err != nil {
		c.Hub.log.LogWarn(err, "Websocket subscribe failed", "topic", topic)
		c.sendError(err.Error())
		return
	}
	c.sendEnvelope(env)
}

func (c *Client) sendEnvelope(env pkgws.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.Hub.log.LogError(err, "Failed to encode websocket frame", "type", env.Type)
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(message string) {
	c.sendEnvelope(pkgws.Envelope{Type: pkgws.TypeError, Payload: pkgws.ErrorPayload{Message: message}})
}

// WritePump writes queued frames and keeps the connection alive
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and streams the inbox to the new client
func ServeWs(hub *Hub, c *gin.Context) {
	conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.LogWarn(err, "Websocket upgrade failed")
		return
	}

	client := &Client{
		ID:     uuid.New().String(),
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		Hub:    hub,
		UserID: c.GetString("userID"),
		topics: map[string]bool{pkgws.TopicInbox: true},
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}
	hub.log.Info("Websocket connection established", "client_id", client.ID, "user_id", client.UserID)

	// the request context ends with the handler; the pumps outlive it
	ctx := context.WithoutCancel(c.Request.Context())
	go client.WritePump()
	go client.ReadPump(ctx)
	go client.join(ctx, pkgws.TopicInbox)
}
