package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// GetLogs pages through the room's adventure log newest-first.
// GET /game/:roomId/logs?limit=&skip=
func (h *Handler) GetLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	entries, err := h.logs.GetRoomLogs(c.Request.Context(), roomParam(c), limit, skip)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if entries == nil {
		entries = []types.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id": roomParam(c),
		"logs":    entries,
		"count":   len(entries),
	})
}

// GetLogStats summarizes the room's current log window.
// GET /game/:roomId/logs/stats
func (h *Handler) GetLogStats(c *gin.Context) {
	stats, err := h.logs.Stats(c.Request.Context(), roomParam(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ClearLogsRequest optionally attributes a bulk deletion.
type ClearLogsRequest struct {
	PlayerName string `json:"player_name,omitempty"`
}

// ClearAllLogs wipes the room's adventure log, seeds it with an audit entry
// recording the wipe, and tells the room.
// DELETE /game/:roomId/logs
func (h *Handler) ClearAllLogs(c *gin.Context) {
	h.clearLogs(c, false)
}

// ClearSystemLogs deletes only system entries, keeping player rolls.
// DELETE /game/:roomId/logs/system
func (h *Handler) ClearSystemLogs(c *gin.Context) {
	h.clearLogs(c, true)
}

func (h *Handler) clearLogs(c *gin.Context, systemOnly bool) {
	var req ClearLogsRequest
	_ = c.ShouldBindJSON(&req)
	ctx := c.Request.Context()
	roomId := roomParam(c)
	actor := types.NormalizePlayerName(req.PlayerName)

	var removed int64
	var err error
	var message, eventType string
	if systemOnly {
		removed, err = h.logs.ClearSystemMessages(ctx, roomId)
		message = fmt.Sprintf("%s cleared %d system messages", actorLabel(actor), removed)
		eventType = events.EventSystemMessagesCleared
	} else {
		removed, err = h.logs.ClearAll(ctx, roomId)
		message = fmt.Sprintf("%s cleared the adventure log (%d entries)", actorLabel(actor), removed)
		eventType = events.EventAllMessagesCleared
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	h.audit(ctx, roomId, message, types.LogTypeSystem, actor)

	h.broadcast(ctx, roomId, eventType, events.MessagesClearedData{
		Count:     int(removed),
		ClearedBy: string(actor),
	}, actor)

	c.JSON(http.StatusOK, gin.H{"room_id": roomId, "removed": removed})
}

// actorLabel names the acting player in audit messages, falling back to the
// generic label control-plane calls get when no attribution was sent.
func actorLabel(actor types.PlayerNameType) string {
	if actor == "" {
		return "The game master"
	}
	return string(actor)
}
