package livefeed

import (
	"net/http"
	"sync"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

type client struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer per connection
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub broadcasts bus events to every connected websocket client.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logrus.Logger

	clientsMutex sync.RWMutex
	clients      map[*websocket.Conn]*client

	latestMutex sync.RWMutex
	latest      []byte
}

func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Dashboard may be served from anywhere on the LAN
			},
		},
		log:     log,
		clients: make(map[*websocket.Conn]*client),
	}
}

// Attach forwards data, connect and disconnect events from bus.
func (h *Hub) Attach(bus *eventbus.Bus) {
	bus.OnData(func(ev eventbus.DataEvent) {
		h.Broadcast(MessageFromData(ev))
	})
	bus.OnConnect(func(ev eventbus.ConnectEvent) {
		h.Broadcast(Message{Type: MessageConnect, Port: ev.Port, ReceivedAt: ev.At})
	})
	bus.OnDisconnect(func(ev eventbus.DisconnectEvent) {
		msg := Message{Type: MessageDisconnect, Port: ev.Port, ReceivedAt: ev.At}
		if ev.Reason != nil {
			msg.Reason = ev.Reason.Error()
		}
		h.Broadcast(msg)
	})
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	c := h.addClient(conn)

	// Send current message immediately if available
	h.latestMutex.RLock()
	latest := h.latest
	h.latestMutex.RUnlock()
	if latest != nil {
		if err := c.write(latest); err != nil {
			h.removeClient(conn)
			return
		}
	}

	// Keep connection alive, also answers pings
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.removeClient(conn)
			return
		}
	}
}

func (h *Hub) Broadcast(msg Message) {
	data := msg.ToJsonBytes()
	if data == nil {
		return
	}
	if msg.Type == MessageData {
		h.latestMutex.Lock()
		h.latest = data
		h.latestMutex.Unlock()
	}

	h.clientsMutex.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMutex.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.log.Debugf("Dropping live feed client %s: %v", c.conn.RemoteAddr(), err)
			h.removeClient(c.conn)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.clientsMutex.Lock()
	h.clients[conn] = c
	h.clientsMutex.Unlock()
	return c
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	delete(h.clients, conn)
	h.clientsMutex.Unlock()
	conn.Close()
}
