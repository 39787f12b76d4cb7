// Package notify delivers engine events to connected WebSocket clients.
//
// The Hub is the engine's notification sink: Notify targets one user's
// connections, Broadcast reaches everyone. Delivery is fire-and-forget;
// a full buffer drops the message rather than blocking the caller.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stockleague/engine/internal/httpserver"
	"github.com/stockleague/engine/internal/metrics"
)

// Event kinds.
const (
	KindAchievementEarned = "achievement_earned"
	KindSeasonRankUp      = "season_rank_up"
	KindCareerRankUp      = "career_rank_up"
	KindTradeExecuted     = "trade_executed"
	KindQuotesUpdated     = "quotes_updated"
	KindLeaderboard       = "leaderboard_rebuilt"
)

// Message is a JSON message sent to WebSocket clients.
type Message struct {
	Kind    string    `json:"kind"`
	UserID  int64     `json:"user_id,omitempty"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

type outbound struct {
	userID int64 // 0 means every client
	data   []byte
}

type client struct {
	conn   *websocket.Conn
	userID int64
}

// Hub manages WebSocket connections keyed by the authenticated user.
type Hub struct {
	clients    map[*websocket.Conn]int64
	send       chan outbound
	register   chan client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]int64),
		send:       make(chan outbound, 256),
		register:   make(chan client),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's event loop and returns when ctx is done. Must be
// called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.userID
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "user", c.userID, "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.send:
			h.mu.Lock()
			for conn, uid := range h.clients {
				if msg.userID != 0 && uid != msg.userID {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify queues an event for one user's connections.
func (h *Hub) Notify(_ context.Context, userID int64, kind string, payload any) {
	h.enqueue(userID, Message{Kind: kind, UserID: userID, Payload: payload, At: time.Now().UTC()})
}

// Broadcast queues an event for every connection.
func (h *Hub) Broadcast(kind string, payload any) {
	h.enqueue(0, Message{Kind: kind, Payload: payload, At: time.Now().UTC()})
}

func (h *Hub) enqueue(userID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("ws message not encodable", "kind", msg.Kind, "err", err)
		return
	}
	select {
	case h.send <- outbound{userID: userID, data: data}:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // The host application fronts this endpoint.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The
// request must already carry an authenticated user.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpserver.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- client{conn: conn, userID: userID}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()
}
