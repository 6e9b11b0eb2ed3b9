package game

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// HandleConnect runs after the transport layer has registered the client.
// It records the arrival in the adventure log and announces it to the room;
// the lobby roster broadcast already happened during registration.
func (d *Dispatcher) HandleConnect(ctx context.Context, client types.ClientInterface, room types.RoomChannel) {
	player := types.NormalizePlayerName(string(client.GetPlayerName()))
	roomId := client.GetRoomId()

	if _, err := d.logs.AddEntry(ctx, roomId,
		fmt.Sprintf("%s connected to the game", player),
		types.LogTypeSystem, player, ""); err != nil {
		logging.Warn(ctx, "Failed to log player connect",
			zap.String("room_id", string(roomId)),
			zap.String("player_name", string(player)),
			zap.Error(err))
	}

	frame, err := events.New(events.EventPlayerConnected, events.PresenceData{PlayerName: string(player)})
	if err != nil {
		logging.Error(ctx, "Failed to build player_connected frame", zap.Error(err))
		return
	}
	d.broadcastFrame(ctx, room, frame)
}

// HandleDisconnect runs once the reconnect grace period has expired. It
// announces the departure, drops the player from the party roster, and frees
// any seat they held. A torn-down room (store already purged) still gets the
// departure broadcast; the seat update is skipped.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, client types.ClientInterface, room types.RoomChannel) {
	player := types.NormalizePlayerName(string(client.GetPlayerName()))
	roomId := client.GetRoomId()

	if _, err := d.logs.AddEntry(ctx, roomId,
		fmt.Sprintf("%s disconnected from the game", player),
		types.LogTypeSystem, player, ""); err != nil {
		logging.Warn(ctx, "Failed to log player disconnect",
			zap.String("room_id", string(roomId)),
			zap.String("player_name", string(player)),
			zap.Error(err))
	}

	frame, err := events.New(events.EventPlayerDisconnected, events.PresenceData{PlayerName: string(player)})
	if err == nil {
		d.broadcastFrame(ctx, room, frame)
	}

	room.SetPartyStatus(player, false)

	layout, changed, err := d.rooms.ClearPlayerSeat(ctx, roomId, player)
	if err != nil {
		logging.Warn(ctx, "Skipping seat release for departed player",
			zap.String("room_id", string(roomId)),
			zap.String("player_name", string(player)),
			zap.Error(err))
		return
	}
	if !changed {
		return
	}
	seatFrame, err := events.New(events.EventSeatChange, events.SeatChangeData{SeatLayout: layout})
	if err != nil {
		logging.Error(ctx, "Failed to build seat_change frame", zap.Error(err))
		return
	}
	d.broadcastFrame(ctx, room, seatFrame)
	room.BroadcastLobbyUpdate(ctx)
}
