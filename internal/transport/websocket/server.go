package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans messages out to the back-office sessions of one tenant. A message
// with a UserID only reaches that user's sessions; otherwise every session
// of the tenant receives it.
type Hub struct {
	connections map[string]map[*Connection]bool

	register   chan *Connection
	unregister chan *Connection

	broadcast chan *Message

	log *logrus.Logger
	mu  sync.RWMutex
}

type Connection struct {
	ws       *websocket.Conn
	tenantID string
	userID   int64
	send     chan *Message
	hub      *Hub
}

type Message struct {
	TenantID string `json:"tenant_id,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	Type     string `json:"type"`
	Channel  string `json:"channel,omitempty"`
	Data     any    `json:"data"`
}

func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		connections: make(map[string]map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *Message, 256),
		log:         log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.RLock()
			var conns []*Connection
			for _, m := range h.connections {
				for c := range m {
					conns = append(conns, c)
				}
			}
			h.mu.RUnlock()

			// closed outside the lock so the pumps can unregister
			for _, c := range conns {
				_ = c.ws.Close()
			}
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.tenantID] == nil {
				h.connections[conn.tenantID] = make(map[*Connection]bool)
			}
			h.connections[conn.tenantID][conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			h.drop(conn)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.connections[message.TenantID] {
				if message.UserID != 0 && conn.userID != message.UserID {
					continue
				}
				select {
				case conn.send <- message:
				default:
					h.drop(conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes conn and closes its send channel once. Callers hold mu.
func (h *Hub) drop(conn *Connection) {
	conns, ok := h.connections[conn.tenantID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	close(conn.send)
	if len(conns) == 0 {
		delete(h.connections, conn.tenantID)
	}
}

// Broadcast queues message for tenantID; userID 0 addresses every session.
func (h *Hub) Broadcast(tenantID string, userID int64, message *Message) {
	message.TenantID = tenantID
	message.UserID = userID
	select {
	case h.broadcast <- message:
	default:
		h.log.WithFields(logrus.Fields{"tenant_id": tenantID, "user_id": userID}).
			Warn("hub broadcast channel is full, dropping message")
	}
}

// Sessions reports how many connections a tenant currently has.
func (h *Hub) Sessions(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[tenantID])
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, tenantID string, userID int64) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := &Connection{
		ws:       ws,
		tenantID: tenantID,
		userID:   userID,
		send:     make(chan *Message, 256),
		hub:      h,
	}

	h.register <- conn

	go conn.writePump()
	go conn.readPump()
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10
)

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(message); err != nil {
				c.hub.log.WithError(err).Warn("websocket write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
