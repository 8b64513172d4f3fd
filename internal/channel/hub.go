package channel

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sendBuffer is the per-client outbound queue depth. A client that
// stops draining loses its connection rather than blocking the engine.
const sendBuffer = 32

// Inbound is one decoded action paired with the client that sent it.
type Inbound struct {
	ClientID string
	Msg      Message
}

// Hub owns the websocket connections to client contexts. Decoded
// actions funnel into a single inbound channel so the engine consumes
// them in arrival order; notifications fan out per client or broadcast.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	inbound  chan Inbound

	mu      sync.Mutex
	clients map[string]*client

	// OnDisconnect, when set, fires after a client's connection tears
	// down, so liveness entries can be dropped.
	OnDisconnect func(clientID string)
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		inbound: make(chan Inbound, 64),
		clients: make(map[string]*client),
	}
}

// Inbound returns the channel of decoded client actions.
func (h *Hub) Inbound() <-chan Inbound { return h.inbound }

// ServeHTTP upgrades the connection and runs the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Info("client attached", "clientId", c.id, "remote", conn.RemoteAddr().String())

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("client read failed", "clientId", c.id, "error", err)
			}
			return
		}
		msg, err := Decode(raw)
		if err != nil {
			// Protocol violations don't kill the connection; the
			// message is dropped and logged.
			h.log.Warn("undecodable message dropped", "clientId", c.id, "error", err)
			continue
		}
		h.inbound <- Inbound{ClientID: c.id, Msg: msg}
	}
}

func (h *Hub) writePump(c *client) {
	for raw := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			h.log.Warn("client write failed", "clientId", c.id, "error", err)
			return
		}
	}
}

// drop unregisters a client and closes its connection.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()

	c.conn.Close()
	h.log.Info("client detached", "clientId", c.id)
	if h.OnDisconnect != nil {
		h.OnDisconnect(c.id)
	}
}

// Send delivers a notification to one client. Returns false when the
// client is unknown or its send buffer is full.
func (h *Hub) Send(clientID string, m Message) bool {
	raw, err := Encode(m)
	if err != nil {
		h.log.Error("encode notification failed", "kind", m.Kind(), "error", err)
		return false
	}

	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case c.send <- raw:
		return true
	default:
		h.log.Warn("client send buffer full, notification dropped",
			"clientId", clientID, "kind", m.Kind())
		return false
	}
}

// Broadcast delivers a notification to every attached client.
func (h *Hub) Broadcast(m Message) {
	raw, err := Encode(m)
	if err != nil {
		h.log.Error("encode broadcast failed", "kind", m.Kind(), "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- raw:
		default:
			h.log.Warn("client send buffer full, broadcast dropped",
				"clientId", id, "kind", m.Kind())
		}
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close tears down every client connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
}
