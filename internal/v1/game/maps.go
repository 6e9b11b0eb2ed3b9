package game

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/cache"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/store"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// MapService owns the battle-map lifecycle. Activating a map also flips the
// room's active display, so map writes invalidate the room cache too.
type MapService struct {
	store MapStore
	rooms RoomStore
	cache *cache.Service
}

func NewMapService(mapStore MapStore, roomStore RoomStore, cacheSvc *cache.Service) *MapService {
	return &MapService{store: mapStore, rooms: roomStore, cache: cacheSvc}
}

// LoadMap activates a map for the room, deactivating any other. When the
// same file was configured before, the stored grid alignment wins over
// whatever the client sent, so a reload never loses the DM's calibration.
func (s *MapService) LoadMap(ctx context.Context, m types.ActiveMap) (*types.ActiveMap, error) {
	if m.RoomID == "" || m.Filename == "" {
		return nil, validationf("map load requires room_id and filename")
	}
	m.UploadedBy = string(types.NormalizePlayerName(m.UploadedBy))
	existing, err := s.store.GetMapByFilename(ctx, m.RoomID, m.Filename)
	switch {
	case err == nil:
		if existing.GridConfig != nil {
			m.GridConfig = existing.GridConfig
		}
		if len(m.MapImageConfig) == 0 {
			m.MapImageConfig = existing.MapImageConfig
		}
	case errors.Is(err, store.ErrMapNotFound):
	default:
		return nil, err
	}
	saved, err := s.store.SetActiveMap(ctx, m)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateRoom(ctx, m.RoomID)
	logging.Info(ctx, "Map activated",
		zap.String("room_id", string(m.RoomID)),
		zap.String("filename", m.Filename))
	return saved, nil
}

// ActiveMap returns the room's active map, store.ErrMapNotFound when none.
func (s *MapService) ActiveMap(ctx context.Context, roomId types.RoomIdType) (*types.ActiveMap, error) {
	return s.store.GetActiveMap(ctx, roomId)
}

// UpdateConfig applies a partial config patch to one stored map. The patch's
// Set flags distinguish explicit nulls (clear the field) from omitted keys
// (leave it alone).
func (s *MapService) UpdateConfig(ctx context.Context, roomId types.RoomIdType, patch events.MapConfigUpdateData) (*types.ActiveMap, error) {
	if patch.Filename == "" {
		return nil, validationf("map config update requires filename")
	}
	if !patch.SetGrid && !patch.SetImage {
		return nil, validationf("map config update carries no fields")
	}
	return s.store.UpdateMapConfig(ctx, roomId, patch.Filename, patch.Grid, patch.SetGrid, patch.Image, patch.SetImage)
}

// ReplaceMap overwrites the stored record wholesale; unlike LoadMap it does
// not preserve a previously stored grid. The control plane uses this.
func (s *MapService) ReplaceMap(ctx context.Context, m types.ActiveMap) (*types.ActiveMap, error) {
	if m.RoomID == "" || m.Filename == "" {
		return nil, validationf("map replace requires room_id and filename")
	}
	m.UploadedBy = string(types.NormalizePlayerName(m.UploadedBy))
	saved, err := s.store.ReplaceMap(ctx, m)
	if err != nil {
		return nil, err
	}
	if m.Active {
		s.cache.InvalidateRoom(ctx, m.RoomID)
	}
	return saved, nil
}

// ClearMap deactivates the room's maps and resets the active display. Map
// records stay on file so their grid calibration survives for the next load.
func (s *MapService) ClearMap(ctx context.Context, roomId types.RoomIdType) error {
	if err := s.store.ClearActiveMap(ctx, roomId); err != nil {
		return err
	}
	if err := s.rooms.UpdateActiveDisplay(ctx, roomId, types.DisplayTypeNone); err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		return err
	}
	s.cache.InvalidateRoom(ctx, roomId)
	return nil
}

// DeleteRoomMaps purges every map record for the room. Session teardown only.
func (s *MapService) DeleteRoomMaps(ctx context.Context, roomId types.RoomIdType) error {
	return s.store.DeleteRoomMaps(ctx, roomId)
}
