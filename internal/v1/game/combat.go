package game

import (
	"context"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// handleCombatState flips the room-wide combat flag, records the transition,
// and echoes it.
func (d *Dispatcher) handleCombatState(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.CombatStateData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("combat_state: %v", err)
	}
	if err := d.rooms.UpdateCombatState(ctx, req.RoomId(), data.InCombat); err != nil {
		return HandlerResult{}, err
	}

	message := "Combat ended"
	if data.InCombat {
		message = "Combat started"
	}
	if _, err := d.logs.AddEntry(ctx, req.RoomId(), message, types.LogTypeSystem, req.Player, ""); err != nil {
		return HandlerResult{}, err
	}

	frame, err := events.New(events.EventCombatState, data)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}
