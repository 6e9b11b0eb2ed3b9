package game

import (
	"context"
	"fmt"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// handleClearSystemMessages bulk-deletes system entries, leaves an audit
// entry behind, and reports the count to the room.
func (d *Dispatcher) handleClearSystemMessages(ctx context.Context, req *Request) (HandlerResult, error) {
	removed, err := d.logs.ClearSystemMessages(ctx, req.RoomId())
	if err != nil {
		return HandlerResult{}, err
	}
	audit := fmt.Sprintf("%s cleared %d system messages", req.Player, removed)
	if _, err := d.logs.AddEntry(ctx, req.RoomId(), audit, types.LogTypeSystem, req.Player, ""); err != nil {
		return HandlerResult{}, err
	}
	frame, err := events.New(events.EventSystemMessagesCleared, events.MessagesClearedData{
		Count:     int(removed),
		ClearedBy: string(req.Player),
	})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handleClearAllMessages wipes the room's adventure log, then seeds it with
// a single audit entry so the wipe itself stays on record.
func (d *Dispatcher) handleClearAllMessages(ctx context.Context, req *Request) (HandlerResult, error) {
	removed, err := d.logs.ClearAll(ctx, req.RoomId())
	if err != nil {
		return HandlerResult{}, err
	}
	audit := fmt.Sprintf("%s cleared the adventure log (%d entries)", req.Player, removed)
	if _, err := d.logs.AddEntry(ctx, req.RoomId(), audit, types.LogTypeSystem, req.Player, ""); err != nil {
		return HandlerResult{}, err
	}
	frame, err := events.New(events.EventAllMessagesCleared, events.MessagesClearedData{
		Count:     int(removed),
		ClearedBy: string(req.Player),
	})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}
