package game

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/store"
)

// handleMapLoad activates a map and broadcasts the saved document, which may
// carry a previously calibrated grid rather than the one the client sent.
func (d *Dispatcher) handleMapLoad(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.MapLoadData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("map_load: %v", err)
	}
	m := data.MapData
	m.RoomID = req.RoomId()
	if m.UploadedBy == "" {
		m.UploadedBy = string(req.Player)
	}
	saved, err := d.maps.LoadMap(ctx, m)
	if err != nil {
		return HandlerResult{}, err
	}
	frame, err := events.New(events.EventMapLoad, events.MapLoadData{MapData: *saved})
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handleMapClear deactivates the room's maps. Their records survive so grid
// calibration is still there on the next load.
func (d *Dispatcher) handleMapClear(ctx context.Context, req *Request) (HandlerResult, error) {
	if err := d.maps.ClearMap(ctx, req.RoomId()); err != nil {
		return HandlerResult{}, err
	}
	frame, err := events.New(events.EventMapClear, nil)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handleMapConfigUpdate applies a partial config patch and rebroadcasts the
// patch itself; clients merge it, so omitted keys must stay omitted.
func (d *Dispatcher) handleMapConfigUpdate(ctx context.Context, req *Request) (HandlerResult, error) {
	var data events.MapConfigUpdateData
	if err := req.Frame.DecodeData(&data); err != nil {
		return HandlerResult{}, validationf("map_config_update: %v", err)
	}
	if _, err := d.maps.UpdateConfig(ctx, req.RoomId(), data); err != nil {
		return HandlerResult{}, err
	}
	frame, err := events.New(events.EventMapConfigUpdate, data)
	if err != nil {
		return HandlerResult{}, err
	}
	frame = frame.WithPlayer(req.Player)
	return HandlerResult{Primary: &frame}, nil
}

// handleMapRequest unicasts the current map state to the requesting socket
// only; late joiners use it to catch up without disturbing the room.
func (d *Dispatcher) handleMapRequest(ctx context.Context, req *Request) (HandlerResult, error) {
	saved, err := d.maps.ActiveMap(ctx, req.RoomId())
	switch {
	case err == nil:
		frame, err := events.New(events.EventMapLoad, events.MapLoadData{MapData: *saved})
		if err != nil {
			return HandlerResult{}, err
		}
		data, err := frame.Encode()
		if err != nil {
			return HandlerResult{}, err
		}
		req.Client.SendRaw(data)
	case errors.Is(err, store.ErrMapNotFound):
		frame, err := events.New(events.EventMapClear, nil)
		if err != nil {
			return HandlerResult{}, err
		}
		data, err := frame.Encode()
		if err != nil {
			return HandlerResult{}, err
		}
		req.Client.SendRaw(data)
	default:
		return HandlerResult{}, err
	}
	logging.Debug(ctx, "Map state unicast",
		zap.String("room_id", string(req.RoomId())),
		zap.String("player_name", string(req.Player)))
	return HandlerResult{}, nil
}
