// Package realtime streams board change events to websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"taskboard/api/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBuffer     = 32
)

// Message is the frame format sent to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client is one websocket connection watching an owner's boards, or a
// single board when BoardUUID is set.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	OwnerID   string
	BoardUUID string
}

func (c *Client) wants(event events.BoardEvent) bool {
	if c.OwnerID != event.OwnerID {
		return false
	}
	return c.BoardUUID == "" || c.BoardUUID == event.BoardUUID
}

// Hub tracks connected clients and routes events to the ones allowed to see them.
type Hub struct {
	clients    map[*Client]struct{}
	deliver    chan events.BoardEvent
	register   chan *Client
	unregister chan *Client
	replies    chan reply
	done       chan struct{}
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

func NewHub(corsOrigin string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		deliver:    make(chan events.BoardEvent, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replies:    make(chan reply),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return corsOrigin == "*" || origin == "" || origin == corsOrigin
			},
		},
		log: log,
	}
}

type reply struct {
	client  *Client
	payload []byte
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.log.Debug("realtime: client connected", "owner", client.OwnerID, "board", client.BoardUUID)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Debug("realtime: client disconnected", "owner", client.OwnerID)
			}
		case r := <-h.replies:
			if _, ok := h.clients[r.client]; !ok {
				continue
			}
			select {
			case r.client.send <- r.payload:
			default:
			}
		case event := <-h.deliver:
			payload, err := json.Marshal(Message{Type: string(event.Kind), Data: event})
			if err != nil {
				h.log.Error("realtime: marshal event", "error", err)
				continue
			}
			for client := range h.clients {
				if !client.wants(event) {
					continue
				}
				select {
				case client.send <- payload:
				default:
					h.log.Warn("realtime: client send buffer full, dropping client", "owner", client.OwnerID)
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// Deliver queues an event for routing. It is a no-op once the hub stopped.
func (h *Hub) Deliver(event events.BoardEvent) {
	select {
	case h.deliver <- event:
	case <-h.done:
	}
}

// Forward delivers every event from a bus subscription until it closes.
func (h *Hub) Forward(ctx context.Context, subscription <-chan events.BoardEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription:
			if !ok {
				return
			}
			select {
			case h.deliver <- event:
			case <-ctx.Done():
				return
			case <-h.done:
				return
			}
		}
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, ownerID, boardUUID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("realtime: upgrade failed", "error", err)
		return
	}
	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		OwnerID:   ownerID,
		BoardUUID: boardUUID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump answers pings and detects disconnects. Clients never broadcast.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("realtime: read error", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			pong, err := json.Marshal(Message{Type: "pong", Data: map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)}})
			if err == nil {
				select {
				case c.hub.replies <- reply{client: c, payload: pong}:
				case <-c.hub.done:
					return
				}
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
