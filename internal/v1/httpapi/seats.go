package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// UpdateSeatsRequest resizes a room. displaced_players is accepted for
// contract compatibility but the server recomputes displacement from the
// stored layout; the client's view of who loses a seat may be stale.
type UpdateSeatsRequest struct {
	MaxPlayers       int                      `json:"max_players"`
	DisplacedPlayers []events.DisplacedPlayer `json:"displaced_players,omitempty"`
	PlayerName       string                   `json:"player_name,omitempty"`
}

// UpdateSeatsResponse reports the applied resize.
type UpdateSeatsResponse struct {
	RoomID           types.RoomIdType         `json:"room_id"`
	MaxPlayers       int                      `json:"max_players"`
	SeatLayout       []string                 `json:"seat_layout"`
	DisplacedPlayers []events.DisplacedPlayer `json:"displaced_players"`
}

// UpdateSeatCount resizes the room's seat count. Occupants of trimmed seats
// are sent to the lobby: each gets a player_displaced unicast and a log
// entry, then the whole room hears one seat_count_change.
// PUT /game/:roomId/seats
func (h *Handler) UpdateSeatCount(c *gin.Context) {
	var req UpdateSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	roomId := roomParam(c)
	actor := types.NormalizePlayerName(req.PlayerName)

	change, err := h.rooms.UpdateSeatCount(ctx, roomId, req.MaxPlayers)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	displaced := make([]events.DisplacedPlayer, 0, len(change.Displaced))
	for i, player := range change.Displaced {
		seatID := change.SeatIDs[i]
		displaced = append(displaced, events.DisplacedPlayer{
			PlayerName: string(player),
			SeatID:     seatID,
		})
		h.unicast(ctx, roomId, player, events.EventPlayerDisplaced, events.PlayerDisplacedData{
			PlayerName:    string(player),
			SeatID:        seatID,
			NewMaxPlayers: change.MaxPlayers,
		})
		h.audit(ctx, roomId,
			fmt.Sprintf("%s was moved to the lobby when the room shrank to %d seats", player, change.MaxPlayers),
			types.LogTypeSystem, actor)
	}

	room := h.notifier.Room(roomId)
	room.SyncPartyFromSeats(ctx, change.SeatLayout)
	h.broadcast(ctx, roomId, events.EventSeatCountChange, events.SeatCountChangeData{
		MaxPlayers:       change.MaxPlayers,
		SeatLayout:       change.SeatLayout,
		DisplacedPlayers: displaced,
	}, actor)
	if len(displaced) > 0 {
		room.BroadcastLobbyUpdate(ctx)
	}

	c.JSON(http.StatusOK, UpdateSeatsResponse{
		RoomID:           roomId,
		MaxPlayers:       change.MaxPlayers,
		SeatLayout:       change.SeatLayout,
		DisplacedPlayers: displaced,
	})
}

// SeatLayoutRequest carries a full seat assignment.
type SeatLayoutRequest struct {
	SeatLayout []string `json:"seat_layout"`
	PlayerName string   `json:"player_name,omitempty"`
}

// UpdateSeatLayout persists a complete seat assignment and realigns party
// flags. A non-empty party lands in the adventure log as a party_updated
// entry; an all-empty layout is just a reset and stays out of the log.
// PUT /game/:roomId/seat-layout
func (h *Handler) UpdateSeatLayout(c *gin.Context) {
	var req SeatLayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	roomId := roomParam(c)
	actor := types.NormalizePlayerName(req.PlayerName)

	fitted, err := h.rooms.UpdateSeatLayout(ctx, roomId, req.SeatLayout)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	room := h.notifier.Room(roomId)
	room.SyncPartyFromSeats(ctx, fitted)

	if occupants := seatOccupants(fitted); len(occupants) > 0 {
		h.audit(ctx, roomId,
			fmt.Sprintf("Party updated: %s", strings.Join(occupants, ", ")),
			types.LogTypePartyUpdated, actor)
	}

	h.broadcast(ctx, roomId, events.EventSeatChange, events.SeatChangeData{SeatLayout: fitted}, actor)
	room.BroadcastLobbyUpdate(ctx)

	c.JSON(http.StatusOK, gin.H{"room_id": roomId, "seat_layout": fitted})
}

// SeatColorsRequest replaces the whole seat-color map.
type SeatColorsRequest struct {
	SeatColors map[string]string `json:"seat_colors"`
	PlayerName string            `json:"player_name,omitempty"`
}

// UpdateSeatColors validates and persists the full seat-index → hex map.
// Any invalid color rejects the whole update untouched.
// PUT /game/:roomId/colors
func (h *Handler) UpdateSeatColors(c *gin.Context) {
	var req SeatColorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	roomId := roomParam(c)

	if err := h.rooms.UpdateSeatColors(ctx, roomId, req.SeatColors); err != nil {
		writeServiceError(c, err)
		return
	}

	h.broadcast(ctx, roomId, events.EventColorChange, map[string]any{
		"seat_colors": req.SeatColors,
	}, types.NormalizePlayerName(req.PlayerName))

	c.JSON(http.StatusOK, gin.H{"room_id": roomId, "seat_colors": req.SeatColors})
}

// CharacterRequest updates one player's character record.
type CharacterRequest struct {
	PlayerName    string          `json:"player_name"`
	CharacterName string          `json:"character_name"`
	Sheet         json.RawMessage `json:"sheet,omitempty"`
}

// UpdateCharacter stores the player's character sheet on the room document
// and announces the change.
// PUT /game/:roomId/player/character
func (h *Handler) UpdateCharacter(c *gin.Context) {
	var req CharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	roomId := roomParam(c)
	player := types.NormalizePlayerName(req.PlayerName)

	sheet := types.CharacterSheet{CharacterName: req.CharacterName, Sheet: req.Sheet}
	if err := h.rooms.UpdateCharacter(ctx, roomId, player, sheet); err != nil {
		writeServiceError(c, err)
		return
	}

	h.broadcast(ctx, roomId, events.EventPlayerCharacterChanged, events.PlayerCharacterChangedData{
		PlayerName:    string(player),
		CharacterName: req.CharacterName,
		Sheet:         req.Sheet,
	}, player)

	c.JSON(http.StatusOK, gin.H{"room_id": roomId, "player_name": player, "character_name": req.CharacterName})
}

// seatOccupants filters a layout down to its occupied seats.
func seatOccupants(layout []string) []string {
	occupants := []string{}
	for _, seat := range layout {
		if seat != types.SeatEmpty {
			occupants = append(occupants, seat)
		}
	}
	return occupants
}
