package game

import (
	"context"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// handleSeatChange persists a full seat assignment, realigns every tracked
// player's party flag with the new layout, and re-announces both the seats
// and the lobby roster.
func (d *Dispatcher) handleSeatChange(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.SeatChangeData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("seat_change: %v", err)
	}
	fitted, err := d.rooms.UpdateSeatLayout(ctx, req.RoomId(), data.SeatLayout)
	if err != nil {
		return HandlerResult{}, err
	}
	req.Room.SyncPartyFromSeats(ctx, fitted)
	frame, err := events.New(events.EventSeatChange, events.SeatChangeData{SeatLayout: fitted})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame, LobbyUpdate: true}, nil
}

// handleSeatCountChange mirrors a control-plane resize to the room. The HTTP
// route already validated bounds and displaced the losers; this event only
// re-announces, it never mutates.
func (d *Dispatcher) handleSeatCountChange(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.SeatCountChangeData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("seat_count_change: %v", err)
	}
	if err := types.ValidateMaxPlayers(data.MaxPlayers); err != nil {
		return HandlerResult{}, validationf("%v", err)
	}
	frame, err := events.New(events.EventSeatCountChange, data)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handlePlayerDisplaced relays a displacement notice to the named player
// only. No room broadcast; the room learns through seat_count_change.
func (d *Dispatcher) handlePlayerDisplaced(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.PlayerDisplacedData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("player_displaced: %v", err)
	}
	if data.PlayerName == "" {
		return HandlerResult{}, validationf("player_displaced requires playerName")
	}
	frame, err := events.New(events.EventPlayerDisplaced, data)
	if err != nil {
		return HandlerResult{}, err
	}
	d.unicastFrame(ctx, req.Room, types.NormalizePlayerName(data.PlayerName), frame)
	return HandlerResult{}, nil
}

// handleColorChange recolors one seat and broadcasts the merged color map.
func (d *Dispatcher) handleColorChange(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.ColorChangeData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("color_change: %v", err)
	}
	colors, err := d.rooms.SetSeatColor(ctx, req.RoomId(), data.SeatIndex, data.Color)
	if err != nil {
		return HandlerResult{}, err
	}
	frame, err := events.New(events.EventColorChange, map[string]any{
		"seat_index":  data.SeatIndex,
		"color":       data.Color,
		"seat_colors": colors,
	})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}
