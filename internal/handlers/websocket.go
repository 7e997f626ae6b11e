package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsSendBufferSize = 64
)

// wsMessage is the wire frame pushed to connected clients.
type wsMessage struct {
	Type      string             `json:"type"`
	Job       taskStatusResponse `json:"job"`
	Timestamp time.Time          `json:"timestamp"`
}

// wsClient owns one connection. Writes go through the send channel so a
// slow reader never blocks a broadcast.
type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
}

// WebSocketHandler upgrades connections on /ws and pushes job lifecycle
// events to every connected client. Event types can be whitelisted and
// high-frequency events throttled through WebSocketConfig.
type WebSocketHandler struct {
	events interfaces.EventService
	logger arbor.ILogger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	// allowedEvents is a broadcast whitelist. Empty means all events.
	allowedEvents map[interfaces.EventType]bool
	throttlers    map[interfaces.EventType]*rate.Limiter
}

func NewWebSocketHandler(cfg *common.Config, events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		events: events,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary extension origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:       make(map[*wsClient]struct{}),
		allowedEvents: make(map[interfaces.EventType]bool),
		throttlers:    make(map[interfaces.EventType]*rate.Limiter),
	}

	for _, name := range cfg.WebSocket.AllowedEvents {
		h.allowedEvents[interfaces.EventType(name)] = true
	}
	for name, raw := range cfg.WebSocket.ThrottleIntervals {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			logger.Warn().Str("event", name).Str("interval", raw).Msg("Ignoring invalid throttle interval")
			continue
		}
		h.throttlers[interfaces.EventType(name)] = rate.NewLimiter(rate.Every(interval), 1)
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobQueued,
		interfaces.EventJobProgress,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
		interfaces.EventJobCancelled,
	} {
		events.Subscribe(eventType, h.handleJobEvent)
	}

	return h
}

// HandleWebSocket handles GET /ws.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan wsMessage, wsSendBufferSize),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", count).Msg("WebSocket client connected")

	common.SafeGo(h.logger, "websocket-write-pump", func() { h.writePump(client) })
	h.readPump(client)
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}

// handleJobEvent receives bus events carrying a *models.Job payload and
// fans them out to connected clients.
func (h *WebSocketHandler) handleJobEvent(ctx context.Context, event interfaces.Event) error {
	job, ok := event.Payload.(*models.Job)
	if !ok {
		return nil
	}
	if !h.shouldBroadcast(event.Type) {
		return nil
	}

	h.broadcast(wsMessage{
		Type:      string(event.Type),
		Job:       jobSummary(job),
		Timestamp: time.Now(),
	})
	return nil
}

// shouldBroadcast applies the whitelist first, then the per-type rate
// limiter. Events without a limiter always pass.
func (h *WebSocketHandler) shouldBroadcast(eventType interfaces.EventType) bool {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return false
	}
	if limiter, ok := h.throttlers[eventType]; ok {
		return limiter.Allow()
	}
	return true
}

func (h *WebSocketHandler) broadcast(msg wsMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Buffer full: the client is not keeping up, skip this frame.
		}
	}
}

func (h *WebSocketHandler) removeClient(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}

func (h *WebSocketHandler) readPump(client *wsClient) {
	defer h.removeClient(client)

	client.conn.SetReadLimit(1024)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// The stream is push-only; inbound frames are drained for control
	// handling until the client goes away.
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(wsWriteWait))
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
