// Package transport owns the WebSocket edge of the game service: the
// per-socket read/write pumps, the connection manager that tracks presence
// with a reconnect grace window, and the hub that upgrades HTTP requests
// into registered clients.
//
// The transport layer never interprets frames. Inbound bytes go to the game
// router; outbound bytes arrive pre-encoded from handlers and HTTP routes.
package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/auth"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/ratelimit"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RoomChecker reports whether a room exists before an upgrade is allowed.
// Implemented by the game RoomService.
type RoomChecker interface {
	RoomExists(ctx context.Context, roomId types.RoomIdType) (bool, error)
}

// Hub upgrades HTTP requests to WebSocket connections and hands the
// resulting clients to the ConnectionManager. Rooms are created through the
// HTTP control plane, never by connecting, so the hub rejects upgrades for
// room ids the store has not seen.
type Hub struct {
	manager        *ConnectionManager
	router         types.GameRouter
	rooms          RoomChecker
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
}

// NewHub wires the WebSocket entry point. The rate limiter may be nil when
// Redis-backed limiting is disabled.
func NewHub(manager *ConnectionManager, router types.GameRouter, rooms RoomChecker, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	return &Hub{
		manager:        manager,
		router:         router,
		rooms:          rooms,
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
	}
}

// ServeWs handles GET /ws/:roomId?player_name=. It validates the request,
// upgrades it, registers the client, and starts the pumps.
func (h *Hub) ServeWs(c *gin.Context) {
	ctx := c.Request.Context()

	// IP rate limit first, before any store work.
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	roomId := types.RoomIdType(c.Param("roomId"))
	if roomId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id not provided"})
		return
	}

	player := types.NormalizePlayerName(c.Query("player_name"))
	if player == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player_name not provided"})
		return
	}

	origin := c.GetHeader("Origin")
	if !auth.IsOriginAllowed(origin, h.allowedOrigins) {
		logging.Warn(ctx, "Rejected WebSocket upgrade from disallowed origin",
			zap.String("origin", origin))
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	// Rooms are minted over HTTP; an unknown id here is a client bug or a
	// deleted session.
	exists, err := h.rooms.RoomExists(ctx, roomId)
	if err != nil {
		logging.Error(ctx, "Room lookup failed during upgrade",
			zap.String("room_id", string(roomId)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room lookup failed"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	conn, err := h.upgrade(c)
	if err != nil {
		// Upgrade wrote its own HTTP error.
		return
	}

	client := NewClient(conn, roomId, player, h.manager)

	connCtx := logging.WithRoom(context.Background(), string(roomId))
	connCtx = logging.WithPlayer(connCtx, string(player))

	h.manager.Accept(connCtx, client)
	h.router.HandleConnect(connCtx, client, h.manager.Room(roomId))

	go client.writePump()
	go client.readPump(h.router)
}

// upgrade performs the WebSocket handshake.
func (h *Hub) upgrade(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return auth.IsOriginAllowed(r.Header.Get("Origin"), h.allowedOrigins)
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// Shutdown closes every live connection with a shutdown close frame.
func (h *Hub) Shutdown(ctx context.Context) {
	logging.Info(ctx, "Shutting down hub, closing all connections")
	h.manager.CloseAll("Server shutting down")
}
