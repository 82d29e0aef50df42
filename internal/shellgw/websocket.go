package shellgw

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flightpath-dev/flightcore/internal/eventbus"
)

// Timing and buffer constants grounded on
// PossumXI-Asgard_Arobi/internal/platform/realtime/websocket.go's hub.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 256
)

// upgrader allows any origin by default: the gateway is a loopback-only
// bridge (config.GatewayConfig.Host defaults to 127.0.0.1) meant for a
// GUI shell on the same machine, not a public-facing service. CORSOrigins
// still governs the plain HTTP routes via go-chi/cors in gateway.go.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON envelope every eventbus.Event is broadcast as.
type wireEvent struct {
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
	Data eventbus.Event `json:"data"`
}

// client is one connected WebSocket peer receiving the event stream.
type client struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
	hub  *hub
}

// hub fans every published eventbus.Event out to all connected clients,
// grounded on the same register/unregister/broadcast actor-loop pattern
// PossumXI's WebSocketManager uses, simplified to drop the access-level
// filtering this single-operator system has no use for.
type hub struct {
	mu       sync.RWMutex
	clients  map[uint64]*client
	nextID   uint64
	register chan *client
	leave    chan *client

	ctx    context.Context
	cancel context.CancelFunc
}

func newHub() *hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &hub{
		clients:  make(map[uint64]*client),
		register: make(chan *client),
		leave:    make(chan *client),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.run()
	return h
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
		case <-h.ctx.Done():
			return
		}
	}
}

// pump reads from bus and broadcasts every event to every connected
// client until ctx is cancelled. Run once per Gateway as a goroutine.
func (h *hub) pump(ctx context.Context, bus *eventbus.Bus) {
	ch, token := bus.Subscribe(eventbus.SubscribeOptions{
		BufferSize: 256,
		LatestOnly: map[string]bool{},
	})
	defer bus.Unsubscribe(token)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *hub) broadcast(ev eventbus.Event) {
	payload, err := json.Marshal(wireEvent{Kind: string(ev.Kind()), Time: ev.Time(), Data: ev})
	if err != nil {
		log.Printf("shellgw: marshal event %s: %v", ev.Kind(), err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("shellgw: client %d send buffer full, dropping event", c.id)
		}
	}
}

func (h *hub) stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.conn.Close()
	}
}

// handleWebSocket upgrades r to a WebSocket and registers it with h.
func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("shellgw: upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.mu.Unlock()

	c := &client{id: id, conn: conn, send: make(chan []byte, sendBufferSize), hub: h}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump only exists to drive the pong handler and notice a closed
// connection; this gateway's clients don't send commands over the
// WebSocket (those go through the REST routes), so any inbound message
// is discarded.
func (c *client) readPump() {
	defer func() {
		c.hub.leave <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
