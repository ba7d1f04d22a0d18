package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/askgene/backend/internal/auth"
	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// WSHub pushes consultation events to the client they concern. Connections
// are keyed by the token audience (wallet address, or subject without one).
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamConsultation, h.Route)
}

// Route delivers an event to the connections of its audience.
func (h *WSHub) Route(event events.Event) {
	audience := strings.ToLower(event.Audience())
	if audience == "" {
		h.log.Debug("event without audience dropped", zap.String("type", event.Type))
		return
	}
	h.SendTo(audience, event)
}

func (h *WSHub) SendTo(audience string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[audience] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// Connected reports how many sockets are open for audience.
func (h *WSHub) Connected(audience string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[strings.ToLower(audience)])
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	audience := claims.Audience()

	h.mu.Lock()
	h.connections[audience] = append(h.connections[audience], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[audience]
		for i, c := range conns {
			if c == conn {
				h.connections[audience] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[audience]) == 0 {
			delete(h.connections, audience)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// read loop keeps the socket alive until the client goes away
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
