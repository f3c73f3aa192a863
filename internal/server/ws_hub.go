package server

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/settlement"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 5 * time.Second
)

// WSMessage is one settlement feed message.
type WSMessage struct {
	Type           string            `json:"type"` // "command" or "lapse"
	Sequence       int64             `json:"sequence"`
	EventType      string            `json:"event_type"`
	IdempotencyKey string            `json:"idempotency_key"`
	CategoryID     *uint32           `json:"category_id,omitempty"`
	Epoch          *int64            `json:"epoch,omitempty"`
	PremiumCharged *int64            `json:"premium_charged,omitempty"`
	Lapse          *settlement.Lapse `json:"lapse,omitempty"`
}

// WSHub fans applied commands out to WebSocket clients. Slow clients are
// disconnected rather than allowed to block the feed.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
	upgrader   websocket.Upgrader
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewWSHub(metrics *observability.Metrics, logger zerolog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Run is the hub's event loop. Returns when ctx is cancelled, closing every
// client.
func (h *WSHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			h.setGauge()
			return ctx.Err()

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.setGauge()
			h.logger.Debug().Int("total", total).Msg("ws client connected")

		case conn := <-h.unregister:
			h.drop(conn)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
			h.setGauge()
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
	h.setGauge()
}

func (h *WSHub) setGauge() {
	if h.metrics == nil {
		return
	}
	h.mu.Lock()
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.WebsocketClients.Set(float64(n))
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. Drops when the buffer is full.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// AfterApply publishes a committed output and its lapses to the feed.
func (h *WSHub) AfterApply(_ context.Context, out core.CoreOutput) {
	for _, msg := range MessagesFor(out) {
		h.Broadcast(msg)
	}
}

// MessagesFor converts one output into feed messages.
func MessagesFor(out core.CoreOutput) []WSMessage {
	env := out.Envelope
	msg := WSMessage{
		Type:           "command",
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		CategoryID:     env.CategoryID,
	}
	if r, ok := out.Result.(*settlement.EpochReport); ok {
		epoch, charged := r.Epoch, r.PremiumCharged
		msg.Epoch = &epoch
		msg.PremiumCharged = &charged
	}

	msgs := []WSMessage{msg}
	for i := range out.Lapses {
		l := out.Lapses[i]
		msgs = append(msgs, WSMessage{
			Type:           "lapse",
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Lapse:          &l,
		})
	}
	return msgs
}

// HandleWS upgrades GET /v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: detects disconnects and handles pongs.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.Lock()
			_, ok := h.clients[conn]
			var err error
			if ok {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			}
			h.mu.Unlock()
			if !ok || err != nil {
				return
			}
		}
	}()
}
