package game

import (
	"context"
	"fmt"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// handleRoleChange applies a role mutation through the room service, records
// it, and echoes the change to the room.
func (d *Dispatcher) handleRoleChange(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.RoleChangeData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("role_change: %v", err)
	}
	if err := data.Validate(); err != nil {
		return HandlerResult{}, validationf("%v", err)
	}
	target := types.NormalizePlayerName(data.TargetPlayer)

	var message string
	var err error
	switch data.Action {
	case events.RoleActionAddModerator:
		_, err = d.rooms.AddModerator(ctx, req.RoomId(), target)
		message = fmt.Sprintf("%s is now a moderator", target)
	case events.RoleActionRemoveModerator:
		_, err = d.rooms.RemoveModerator(ctx, req.RoomId(), target)
		message = fmt.Sprintf("%s is no longer a moderator", target)
	case events.RoleActionSetDM:
		_, err = d.rooms.SetDungeonMaster(ctx, req.RoomId(), target)
		message = fmt.Sprintf("%s is now the dungeon master", target)
	case events.RoleActionUnsetDM:
		_, err = d.rooms.SetDungeonMaster(ctx, req.RoomId(), "")
		message = "The dungeon master role was cleared"
	}
	if err != nil {
		return HandlerResult{}, err
	}

	if _, err := d.logs.AddEntry(ctx, req.RoomId(), message, types.LogTypeSystem, req.Player, ""); err != nil {
		return HandlerResult{}, err
	}

	data.TargetPlayer = string(target)
	frame, err := events.New(events.EventRoleChange, data)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handlePlayerKicked removes a player from the room: seat freed, presence
// dropped without grace, sockets closed. Host or moderator only; the rest of
// the room learns through the seat update and lobby refresh.
func (d *Dispatcher) handlePlayerKicked(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.PlayerKickedData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("player_kicked: %v", err)
	}
	target := types.NormalizePlayerName(data.TargetPlayer)
	if target == "" {
		return HandlerResult{}, validationf("player_kicked requires target_player")
	}

	room, err := d.rooms.GetRoom(ctx, req.RoomId())
	if err != nil {
		return HandlerResult{}, err
	}
	if !room.IsModerator(req.Player) {
		return HandlerResult{}, validationf("only the host or a moderator can kick players")
	}
	if room.IsHost(target) {
		return HandlerResult{}, validationf("the host cannot be kicked")
	}
	if target == req.Player {
		return HandlerResult{}, validationf("cannot kick yourself")
	}

	layout, _, err := d.rooms.ClearPlayerSeat(ctx, req.RoomId(), target)
	if err != nil {
		return HandlerResult{}, err
	}

	message := fmt.Sprintf("%s was removed from the game by %s", target, req.Player)
	if data.Reason != "" {
		message = fmt.Sprintf("%s (%s)", message, data.Reason)
	}
	if _, err := d.logs.AddEntry(ctx, req.RoomId(), message, types.LogTypeSystem, req.Player, ""); err != nil {
		return HandlerResult{}, err
	}

	data.TargetPlayer = string(target)
	kicked, err := events.New(events.EventPlayerKicked, data)
	if err != nil {
		return HandlerResult{}, err
	}
	d.unicastFrame(ctx, req.Room, target, kicked.WithPlayer(req.Player))
	req.Room.DisconnectPlayer(ctx, target)

	frame, err := events.New(events.EventSeatChange, events.SeatChangeData{SeatLayout: layout})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}
