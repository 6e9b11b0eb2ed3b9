package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// ReplaceMap overwrites the room's map record wholesale and makes it the
// active display. Unlike the WebSocket map_load path there is no stored-grid
// preservation: what the caller sends is exactly what every client renders.
// PUT /game/:roomId/map
func (h *Handler) ReplaceMap(c *gin.Context) {
	var m types.ActiveMap
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	m.RoomID = roomParam(c)
	// The control plane only ever writes the display map.
	m.Active = true

	saved, err := h.maps.ReplaceMap(ctx, m)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	h.broadcast(ctx, m.RoomID, events.EventMapConfigUpdate, saved,
		types.NormalizePlayerName(m.UploadedBy))
	c.JSON(http.StatusOK, saved)
}

// GetActiveMap returns the room's active map, 404 when none is set.
// GET /game/:roomId/active-map
func (h *Handler) GetActiveMap(c *gin.Context) {
	m, err := h.maps.ActiveMap(c.Request.Context(), roomParam(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
