package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/game"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// GetRoom returns the full room document, seat layout and colors included.
// GET /game/:roomId
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Request.Context(), roomParam(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// RolesResponse reports which roles a player holds in a room.
type RolesResponse struct {
	IsHost      bool `json:"is_host"`
	IsModerator bool `json:"is_moderator"`
	IsDM        bool `json:"is_dm"`
}

// GetRoles resolves the querying player's roles.
// GET /game/:roomId/roles?playerName=
func (h *Handler) GetRoles(c *gin.Context) {
	player := types.NormalizePlayerName(c.Query("playerName"))
	if player == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "playerName query parameter required"})
		return
	}
	room, err := h.rooms.GetRoom(c.Request.Context(), roomParam(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, RolesResponse{
		IsHost:      room.IsHost(player),
		IsModerator: room.IsModerator(player),
		IsDM:        room.IsDM(player),
	})
}

// CreateRoomRequest carries the creation parameters. The room id comes from
// the path when the caller chose one.
type CreateRoomRequest struct {
	MaxPlayers int    `json:"max_players"`
	HostName   string `json:"host_name,omitempty"`
	DMName     string `json:"dm_name,omitempty"`
}

// CreateRoom creates a room, with a caller-chosen id when the path carries
// one and a generated id otherwise.
// POST /game/  |  POST /game/:roomId
func (h *Handler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	room, err := h.rooms.CreateRoom(c.Request.Context(), game.RoomSettings{
		RoomID:     roomParam(c),
		MaxPlayers: req.MaxPlayers,
		HostName:   req.HostName,
		DMName:     req.DMName,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// RoleChangeRequest names the player whose role is being edited.
// player_name optionally attributes the change to an acting player.
type RoleChangeRequest struct {
	TargetPlayer string `json:"target_player"`
	PlayerName   string `json:"player_name,omitempty"`
}

func bindRoleChange(c *gin.Context) (target, actor types.PlayerNameType, ok bool) {
	var req RoleChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return "", "", false
	}
	target = types.NormalizePlayerName(req.TargetPlayer)
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_player required"})
		return "", "", false
	}
	return target, types.NormalizePlayerName(req.PlayerName), true
}

// applyRoleChange runs one role mutation, records it, and re-announces it as
// a role_change so connected clients update their UI.
func (h *Handler) applyRoleChange(c *gin.Context, action string, target, actor types.PlayerNameType, mutate func() (*types.Room, error), message string) {
	ctx := c.Request.Context()
	room, err := mutate()
	if err != nil {
		writeServiceError(c, err)
		return
	}
	h.audit(ctx, roomParam(c), message, types.LogTypeSystem, actor)
	h.broadcast(ctx, roomParam(c), events.EventRoleChange, events.RoleChangeData{
		Action:       action,
		TargetPlayer: string(target),
	}, actor)
	c.JSON(http.StatusOK, room)
}

// AddModerator grants moderator to the target player.
// POST /game/:roomId/moderators
func (h *Handler) AddModerator(c *gin.Context) {
	target, actor, ok := bindRoleChange(c)
	if !ok {
		return
	}
	h.applyRoleChange(c, events.RoleActionAddModerator, target, actor,
		func() (*types.Room, error) {
			return h.rooms.AddModerator(c.Request.Context(), roomParam(c), target)
		},
		fmt.Sprintf("%s is now a moderator", target))
}

// RemoveModerator revokes moderator from the target player.
// DELETE /game/:roomId/moderators
func (h *Handler) RemoveModerator(c *gin.Context) {
	target, actor, ok := bindRoleChange(c)
	if !ok {
		return
	}
	h.applyRoleChange(c, events.RoleActionRemoveModerator, target, actor,
		func() (*types.Room, error) {
			return h.rooms.RemoveModerator(c.Request.Context(), roomParam(c), target)
		},
		fmt.Sprintf("%s is no longer a moderator", target))
}

// SetDungeonMaster assigns the single DM slot to the target player.
// POST /game/:roomId/dm
func (h *Handler) SetDungeonMaster(c *gin.Context) {
	target, actor, ok := bindRoleChange(c)
	if !ok {
		return
	}
	h.applyRoleChange(c, events.RoleActionSetDM, target, actor,
		func() (*types.Room, error) {
			return h.rooms.SetDungeonMaster(c.Request.Context(), roomParam(c), target)
		},
		fmt.Sprintf("%s is now the dungeon master", target))
}

// ClearDungeonMaster vacates the DM slot. The body is optional and only
// read for attribution.
// DELETE /game/:roomId/dm
func (h *Handler) ClearDungeonMaster(c *gin.Context) {
	var req RoleChangeRequest
	_ = c.ShouldBindJSON(&req)
	actor := types.NormalizePlayerName(req.PlayerName)

	h.applyRoleChange(c, events.RoleActionUnsetDM, "", actor,
		func() (*types.Room, error) {
			return h.rooms.SetDungeonMaster(c.Request.Context(), roomParam(c), "")
		},
		"The dungeon master role was cleared")
}
