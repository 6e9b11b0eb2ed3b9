// Package httpapi is the REST control plane for room lifecycle and state
// edits. Every mutating route goes through the same services as the
// WebSocket event handlers and re-announces the change through the
// connection manager, so connected clients observe control-plane writes
// without polling.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/auth"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/game"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/store"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// Handler serves the /game control plane.
type Handler struct {
	rooms    *game.RoomService
	maps     *game.MapService
	logs     *game.AdventureLogService
	notifier types.Notifier
	now      func() time.Time
}

func NewHandler(rooms *game.RoomService, maps *game.MapService, logs *game.AdventureLogService, notifier types.Notifier) *Handler {
	return &Handler{rooms: rooms, maps: maps, logs: logs, notifier: notifier, now: time.Now}
}

// Register mounts every control-plane route. The session lifecycle routes
// are called by the site service, never by browsers, so they sit behind the
// service-token guard; a nil validator leaves them open for local
// development.
func (h *Handler) Register(r gin.IRouter, serviceTokens *auth.ServiceTokenValidator) {
	g := r.Group("/game")

	session := g.Group("/session", auth.RequireServiceToken(serviceTokens))
	session.POST("/start", h.StartSession)
	session.POST("/end", h.EndSession)
	session.DELETE("/:roomId", h.DeleteSession)

	g.POST("/", h.CreateRoom)
	g.POST("/:roomId", h.CreateRoom)
	g.GET("/:roomId", h.GetRoom)
	g.GET("/:roomId/roles", h.GetRoles)
	g.POST("/:roomId/moderators", h.AddModerator)
	g.DELETE("/:roomId/moderators", h.RemoveModerator)
	g.POST("/:roomId/dm", h.SetDungeonMaster)
	g.DELETE("/:roomId/dm", h.ClearDungeonMaster)
	g.PUT("/:roomId/seats", h.UpdateSeatCount)
	g.PUT("/:roomId/seat-layout", h.UpdateSeatLayout)
	g.PUT("/:roomId/colors", h.UpdateSeatColors)
	g.PUT("/:roomId/player/character", h.UpdateCharacter)
	g.PUT("/:roomId/map", h.ReplaceMap)
	g.GET("/:roomId/active-map", h.GetActiveMap)
	g.GET("/:roomId/logs", h.GetLogs)
	g.GET("/:roomId/logs/stats", h.GetLogStats)
	g.DELETE("/:roomId/logs", h.ClearAllLogs)
	g.DELETE("/:roomId/logs/system", h.ClearSystemLogs)
}

func roomParam(c *gin.Context) types.RoomIdType {
	return types.RoomIdType(c.Param("roomId"))
}

// writeServiceError maps service and store failures onto REST statuses:
// caller mistakes are 400, unknown rooms and maps 404, duplicate room ids
// 409. Everything else is a 500 with the detail kept server-side.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case game.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, store.ErrMapNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "map not found"})
	case errors.Is(err, store.ErrRoomExists):
		c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
	default:
		logging.Error(c.Request.Context(), "⚠️ Control-plane request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// broadcast fans one event out to every socket in the room. Encoding
// failures are logged and swallowed; a control-plane write must not fail
// because the announcement could not be built.
func (h *Handler) broadcast(ctx context.Context, roomId types.RoomIdType, eventType string, payload any, actor types.PlayerNameType) {
	frame, err := events.New(eventType, payload)
	if err != nil {
		logging.Error(ctx, "Failed to build control-plane broadcast",
			zap.String("event_type", eventType),
			zap.Error(err))
		return
	}
	if actor != "" {
		frame = frame.WithPlayer(actor)
	}
	data, err := frame.Encode()
	if err != nil {
		logging.Error(ctx, "Failed to encode control-plane broadcast",
			zap.String("event_type", eventType),
			zap.Error(err))
		return
	}
	h.notifier.Room(roomId).Broadcast(ctx, data)
}

// unicast sends one event to a single player, reporting delivery.
func (h *Handler) unicast(ctx context.Context, roomId types.RoomIdType, player types.PlayerNameType, eventType string, payload any) bool {
	frame, err := events.New(eventType, payload)
	if err != nil {
		logging.Error(ctx, "Failed to build control-plane unicast",
			zap.String("event_type", eventType),
			zap.Error(err))
		return false
	}
	data, err := frame.Encode()
	if err != nil {
		logging.Error(ctx, "Failed to encode control-plane unicast",
			zap.String("event_type", eventType),
			zap.Error(err))
		return false
	}
	return h.notifier.Room(roomId).SendToPlayer(ctx, player, data)
}

// audit appends a system log entry, logging instead of failing the request
// when the write does not land. Audit trails never block a mutation that
// already happened.
func (h *Handler) audit(ctx context.Context, roomId types.RoomIdType, message, logType string, actor types.PlayerNameType) {
	if _, err := h.logs.AddEntry(ctx, roomId, message, logType, actor, ""); err != nil {
		logging.Warn(ctx, "Failed to append audit log entry",
			zap.String("room_id", string(roomId)),
			zap.Error(err))
	}
}
