package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/game"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/store"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// StartSessionRequest is the site service's session-start call. The room id
// is the catalog's session id; when omitted the room gets a generated one.
type StartSessionRequest struct {
	RoomID     string `json:"room_id,omitempty"`
	MaxPlayers int    `json:"max_players"`
	HostName   string `json:"host_name,omitempty"`
	DMName     string `json:"dm_name,omitempty"`
}

// StartSession creates the minimal room a fresh session needs: empty seats,
// seeded audio channels, DM and host recorded.
// POST /game/session/start
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	room, err := h.rooms.CreateRoom(c.Request.Context(), game.RoomSettings{
		RoomID:     types.RoomIdType(req.RoomID),
		MaxPlayers: req.MaxPlayers,
		HostName:   req.HostName,
		DMName:     req.DMName,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room_id": room.ID})
}

// EndSessionRequest names the room whose final state is being read.
type EndSessionRequest struct {
	RoomID string `json:"room_id"`
}

// SessionSummary is the final-state snapshot handed back to the site
// service before it tears the session down. Players is the union of seated
// and connected names.
type SessionSummary struct {
	RoomID       types.RoomIdType              `json:"room_id"`
	Players      []string                      `json:"players"`
	SessionStats types.SessionStats            `json:"session_stats"`
	AudioState   map[string]types.AudioChannel `json:"audio_state"`
	MapState     *types.ActiveMap              `json:"map_state"`
}

// EndSession produces the end-of-session summary. With validate_only set
// the call is strictly read-only; without it a closing entry is appended to
// the adventure log so a kept log records how the session ended. The room
// itself is only ever deleted by DeleteSession.
// POST /game/session/end?validate_only=
func (h *Handler) EndSession(c *gin.Context) {
	var req EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id required"})
		return
	}
	ctx := c.Request.Context()
	roomId := types.RoomIdType(req.RoomID)

	room, err := h.rooms.GetRoom(ctx, roomId)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	totalLogs, err := h.logs.Count(ctx, roomId)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	activeMap, err := h.maps.ActiveMap(ctx, roomId)
	if err != nil && !errors.Is(err, store.ErrMapNotFound) {
		writeServiceError(c, err)
		return
	}

	duration := h.now().UTC().Sub(room.CreatedAt)
	summary := SessionSummary{
		RoomID:  room.ID,
		Players: sessionPlayers(room.SeatLayout, h.notifier.Room(roomId).ConnectedPlayers()),
		SessionStats: types.SessionStats{
			DurationMinutes: int(duration.Minutes()),
			TotalLogs:       totalLogs,
			MaxPlayers:      room.MaxPlayers,
		},
		AudioState: room.AudioState,
		MapState:   activeMap,
	}

	validateOnly, _ := strconv.ParseBool(c.Query("validate_only"))
	if !validateOnly {
		h.audit(ctx, roomId, "Session ended", types.LogTypeSystem, "")
		logging.Info(ctx, "Session end requested",
			zap.String("room_id", string(roomId)),
			zap.Int("duration_minutes", summary.SessionStats.DurationMinutes))
	}

	c.JSON(http.StatusOK, summary)
}

// DeleteSession tears a session down: every socket gets a normal-closure
// frame, the room document goes, and unless keep_logs is set the adventure
// log and stored maps go with it. Calling it again is a 200 no-op.
// DELETE /game/session/:roomId?keep_logs=
func (h *Handler) DeleteSession(c *gin.Context) {
	ctx := c.Request.Context()
	roomId := roomParam(c)

	exists, err := h.rooms.RoomExists(ctx, roomId)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusOK, gin.H{"status": "already_deleted", "room_id": roomId})
		return
	}

	h.notifier.Room(roomId).CloseRoom("Session ended")

	if err := h.rooms.DeleteRoom(ctx, roomId); err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		writeServiceError(c, err)
		return
	}

	keepLogs, _ := strconv.ParseBool(c.Query("keep_logs"))
	if !keepLogs {
		if _, err := h.logs.ClearAll(ctx, roomId); err != nil {
			logging.Warn(ctx, "Failed to purge session logs",
				zap.String("room_id", string(roomId)),
				zap.Error(err))
		}
	}
	if err := h.maps.DeleteRoomMaps(ctx, roomId); err != nil {
		logging.Warn(ctx, "Failed to purge session maps",
			zap.String("room_id", string(roomId)),
			zap.Error(err))
	}

	logging.Info(ctx, "✅ Session deleted",
		zap.String("room_id", string(roomId)),
		zap.Bool("keep_logs", keepLogs))
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "room_id": roomId})
}

// sessionPlayers merges seat occupants with currently connected names,
// deduplicated and sorted.
func sessionPlayers(seats []string, connected []types.PlayerNameType) []string {
	seen := map[string]struct{}{}
	players := []string{}
	add := func(name string) {
		norm := string(types.NormalizePlayerName(name))
		if norm == "" || norm == types.SeatEmpty {
			return
		}
		if _, dup := seen[norm]; dup {
			return
		}
		seen[norm] = struct{}{}
		players = append(players, norm)
	}
	for _, seat := range seats {
		add(seat)
	}
	for _, name := range connected {
		add(string(name))
	}
	sort.Strings(players)
	return players
}
