package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/viewra-importer/internal/events"
)

const writeWait = 5 * time.Second

type hubClient struct {
	conn   *websocket.Conn
	filter events.EventFilter
}

// EventHub streams bus events to websocket clients
type EventHub struct {
	upgrader   websocket.Upgrader
	logger     hclog.Logger
	clients    map[*hubClient]bool
	broadcast  chan events.Event
	register   chan *hubClient
	unregister chan *hubClient
	done       chan struct{}
	mu         sync.Mutex
}

// NewEventHub creates a hub; call Run before serving clients
func NewEventHub(logger hclog.Logger) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:     logger.Named("websocket"),
		clients:    make(map[*hubClient]bool),
		broadcast:  make(chan events.Event, 256),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		done:       make(chan struct{}),
	}
}

// Run dispatches events to clients until ctx is done
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "clients", count)

		case event := <-h.broadcast:
			message, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", "event_type", event.Type, "error", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				if !events.MatchesFilter(event, client.filter) {
					continue
				}
				client.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Debug("error sending event to client", "error", err)
					client.conn.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// HandleEvent queues an event for broadcast. It is registered as a bus
// handler and drops events when clients cannot keep up.
func (h *EventHub) HandleEvent(event events.Event) error {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping event", "event_type", event.Type)
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events. The optional types
// query parameter is a comma separated list of event types to receive.
func (h *EventHub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade to websocket", "error", err)
		return
	}

	client := &hubClient{conn: conn}
	if types := c.Query("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				client.filter.Types = append(client.filter.Types, events.EventType(t))
			}
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Read until the client goes away; incoming messages are ignored.
	go func() {
		defer func() {
			select {
			case h.unregister <- client:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
