package game

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/cache"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// RoomService owns the room document lifecycle: creation, seat and role
// mutations, audio state, and teardown. Reads go through the Redis cache;
// every write invalidates it so the next read rehydrates from the store.
type RoomService struct {
	store RoomStore
	cache *cache.Service
	now   func() time.Time
}

func NewRoomService(store RoomStore, cacheSvc *cache.Service) *RoomService {
	return &RoomService{store: store, cache: cacheSvc, now: time.Now}
}

// RoomSettings are the creation parameters accepted from the control plane.
// RoomID is optional; the site service passes a catalog id, ad-hoc rooms get
// a generated one.
type RoomSettings struct {
	RoomID     types.RoomIdType
	MaxPlayers int
	HostName   string
	DMName     string
}

// defaultAudioChannels seeds the channels every new room starts with.
func defaultAudioChannels() map[string]types.AudioChannel {
	return map[string]types.AudioChannel{
		"bgm": {Volume: 0.8, Looping: true, PlaybackState: types.PlaybackStopped},
		"sfx": {Volume: 1.0, PlaybackState: types.PlaybackStopped},
	}
}

// CreateRoom persists a fresh room document with empty seats and default
// audio channels. Returns store.ErrRoomExists when the id is taken.
func (s *RoomService) CreateRoom(ctx context.Context, settings RoomSettings) (*types.Room, error) {
	if err := types.ValidateMaxPlayers(settings.MaxPlayers); err != nil {
		return nil, validationf("%v", err)
	}
	id := settings.RoomID
	if id == "" {
		id = types.RoomIdType(uuid.NewString())
	}
	room := &types.Room{
		ID:            id,
		MaxPlayers:    settings.MaxPlayers,
		SeatLayout:    types.EmptySeatLayout(settings.MaxPlayers),
		SeatColors:    map[string]string{},
		RoomHost:      string(types.NormalizePlayerName(settings.HostName)),
		DungeonMaster: string(types.NormalizePlayerName(settings.DMName)),
		Moderators:    []string{},
		AudioState:    defaultAudioChannels(),
		ActiveDisplay: types.DisplayTypeNone,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.InsertRoom(ctx, room); err != nil {
		return nil, err
	}
	logging.Info(ctx, "✅ Room created",
		zap.String("room_id", string(room.ID)),
		zap.Int("max_players", room.MaxPlayers))
	return room, nil
}

// GetRoom reads through the cache, falling back to the store and repopulating
// the cache on a miss.
func (s *RoomService) GetRoom(ctx context.Context, roomId types.RoomIdType) (*types.Room, error) {
	if room, ok := s.cache.GetRoom(ctx, roomId); ok {
		return room, nil
	}
	room, err := s.store.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	s.cache.SetRoom(ctx, room)
	return room, nil
}

// RoomExists is the cheap existence probe the WebSocket accept path uses.
func (s *RoomService) RoomExists(ctx context.Context, roomId types.RoomIdType) (bool, error) {
	if _, ok := s.cache.GetRoom(ctx, roomId); ok {
		return true, nil
	}
	return s.store.RoomExists(ctx, roomId)
}

func (s *RoomService) invalidate(ctx context.Context, roomId types.RoomIdType) {
	s.cache.InvalidateRoom(ctx, roomId)
}

// UpdateSeatLayout validates a full seat assignment against the room's seat
// count, pads it, and persists it. Returns the normalized layout.
func (s *RoomService) UpdateSeatLayout(ctx context.Context, roomId types.RoomIdType, layout []string) ([]string, error) {
	room, err := s.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	fitted, err := types.FitSeatLayout(layout, room.MaxPlayers)
	if err != nil {
		return nil, validationf("%v", err)
	}
	if err := s.store.UpdateSeatLayout(ctx, roomId, fitted); err != nil {
		return nil, err
	}
	s.invalidate(ctx, roomId)
	return fitted, nil
}

// SeatCountChange is the result of a seat-count resize: the new layout plus
// every occupant whose seat no longer exists.
type SeatCountChange struct {
	MaxPlayers int
	SeatLayout []string
	Displaced  []types.PlayerNameType
	SeatIDs    []int
}

// UpdateSeatCount resizes the room. Survivors keep their seats; occupants of
// trimmed seats are reported displaced so callers can notify them.
func (s *RoomService) UpdateSeatCount(ctx context.Context, roomId types.RoomIdType, maxPlayers int) (*SeatCountChange, error) {
	if err := types.ValidateMaxPlayers(maxPlayers); err != nil {
		return nil, validationf("%v", err)
	}
	room, err := s.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	change := &SeatCountChange{MaxPlayers: maxPlayers}
	layout := types.NormalizeSeatLayout(room.SeatLayout)
	if maxPlayers < len(layout) {
		for i := maxPlayers; i < len(layout); i++ {
			if layout[i] != types.SeatEmpty {
				change.Displaced = append(change.Displaced, types.PlayerNameType(layout[i]))
				change.SeatIDs = append(change.SeatIDs, i)
			}
		}
		layout = layout[:maxPlayers]
	}
	for len(layout) < maxPlayers {
		layout = append(layout, types.SeatEmpty)
	}
	change.SeatLayout = layout
	if err := s.store.UpdateSeatCount(ctx, roomId, maxPlayers, layout); err != nil {
		return nil, err
	}
	s.invalidate(ctx, roomId)
	return change, nil
}

// UpdateSeatColors replaces the whole seat-color map after validating every
// entry. Invalid input leaves the stored map untouched.
func (s *RoomService) UpdateSeatColors(ctx context.Context, roomId types.RoomIdType, colors map[string]string) error {
	if err := types.ValidateSeatColors(colors); err != nil {
		return validationf("%v", err)
	}
	if err := s.store.UpdateSeatColors(ctx, roomId, colors); err != nil {
		return err
	}
	s.invalidate(ctx, roomId)
	return nil
}

// SetSeatColor recolors a single seat, read-modify-write over the stored map.
// Returns the merged map for rebroadcast.
func (s *RoomService) SetSeatColor(ctx context.Context, roomId types.RoomIdType, seatIndex int, color string) (map[string]string, error) {
	if err := types.ValidateHexColor(color); err != nil {
		return nil, validationf("%v", err)
	}
	room, err := s.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	if seatIndex < 0 || seatIndex >= room.MaxPlayers {
		return nil, validationf("seat index %d out of range", seatIndex)
	}
	merged := make(map[string]string, len(room.SeatColors)+1)
	for seat, c := range room.SeatColors {
		merged[seat] = c
	}
	merged[strconv.Itoa(seatIndex)] = color
	if err := s.store.UpdateSeatColors(ctx, roomId, merged); err != nil {
		return nil, err
	}
	s.invalidate(ctx, roomId)
	return merged, nil
}

// ClearPlayerSeat empties every seat held by the player. Reports whether the
// layout changed so disconnect handling can skip a redundant broadcast.
func (s *RoomService) ClearPlayerSeat(ctx context.Context, roomId types.RoomIdType, player types.PlayerNameType) ([]string, bool, error) {
	room, err := s.GetRoom(ctx, roomId)
	if err != nil {
		return nil, false, err
	}
	layout := types.NormalizeSeatLayout(room.SeatLayout)
	changed := false
	for i, seat := range layout {
		if seat == string(player) {
			layout[i] = types.SeatEmpty
			changed = true
		}
	}
	if !changed {
		return layout, false, nil
	}
	if err := s.store.UpdateSeatLayout(ctx, roomId, layout); err != nil {
		return nil, false, err
	}
	s.invalidate(ctx, roomId)
	return layout, true, nil
}

// AddModerator grants moderator to the target. Idempotent.
func (s *RoomService) AddModerator(ctx context.Context, roomId types.RoomIdType, target types.PlayerNameType) (*types.Room, error) {
	room, err := s.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	name := string(types.NormalizePlayerName(string(target)))
	if name == "" {
		return nil, validationf("moderator name required")
	}
	for _, mod := range room.Moderators {
		if mod == name {
			return room, nil
		}
	}
	mods := append(append([]string{}, room.Moderators...), name)
	sort.Strings(mods)
	if err := s.store.UpdateModerators(ctx, roomId, mods); err != nil {
		return nil, err
	}
	s.invalidate(ctx, roomId)
	room.Moderators = mods
	return room, nil
}

// RemoveModerator revokes moderator from the target. Idempotent; the host's
// implicit moderator status is not stored and cannot be removed here.
func (s *RoomService) RemoveModerator(ctx context.Context, roomId types.RoomIdType, target types.PlayerNameType) (*types.Room, error) {
	room, err := s.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	name := string(types.NormalizePlayerName(string(target)))
	mods := make([]string, 0, len(room.Moderators))
	for _, mod := range room.Moderators {
		if mod != name {
			mods = append(mods, mod)
		}
	}
	if len(mods) == len(room.Moderators) {
		return room, nil
	}
	if err := s.store.UpdateModerators(ctx, roomId, mods); err != nil {
		return nil, err
	}
	s.invalidate(ctx, roomId)
	room.Moderators = mods
	return room, nil
}

// SetDungeonMaster assigns the DM role; an empty target clears it.
func (s *RoomService) SetDungeonMaster(ctx context.Context, roomId types.RoomIdType, target types.PlayerNameType) (*types.Room, error) {
	room, err := s.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	name := string(types.NormalizePlayerName(string(target)))
	if err := s.store.UpdateDungeonMaster(ctx, roomId, name); err != nil {
		return nil, err
	}
	s.invalidate(ctx, roomId)
	room.DungeonMaster = name
	return room, nil
}

// UpdateAudioChannel persists one channel's state.
func (s *RoomService) UpdateAudioChannel(ctx context.Context, roomId types.RoomIdType, channelId string, channel types.AudioChannel) error {
	if err := s.store.UpdateAudioChannel(ctx, roomId, channelId, channel); err != nil {
		return err
	}
	s.invalidate(ctx, roomId)
	return nil
}

// ReplaceAudioState persists the whole audio_state map in one write; batch
// scene changes use this instead of a write per operation.
func (s *RoomService) ReplaceAudioState(ctx context.Context, roomId types.RoomIdType, state map[string]types.AudioChannel) error {
	if err := s.store.ReplaceAudioState(ctx, roomId, state); err != nil {
		return err
	}
	s.invalidate(ctx, roomId)
	return nil
}

// UpdateActiveDisplay flips what late joiners render first.
func (s *RoomService) UpdateActiveDisplay(ctx context.Context, roomId types.RoomIdType, display types.DisplayType) error {
	if err := s.store.UpdateActiveDisplay(ctx, roomId, display); err != nil {
		return err
	}
	s.invalidate(ctx, roomId)
	return nil
}

// UpdateCombatState toggles the room-wide combat flag.
func (s *RoomService) UpdateCombatState(ctx context.Context, roomId types.RoomIdType, inCombat bool) error {
	if err := s.store.UpdateCombatState(ctx, roomId, inCombat); err != nil {
		return err
	}
	s.invalidate(ctx, roomId)
	return nil
}

// UpdateCharacter stores a player's character sheet.
func (s *RoomService) UpdateCharacter(ctx context.Context, roomId types.RoomIdType, player types.PlayerNameType, sheet types.CharacterSheet) error {
	name := types.NormalizePlayerName(string(player))
	if name == "" {
		return validationf("player name required")
	}
	if sheet.CharacterName == "" {
		return validationf("character_name required")
	}
	if err := s.store.UpdateCharacter(ctx, roomId, name, sheet); err != nil {
		return err
	}
	s.invalidate(ctx, roomId)
	return nil
}

// DeleteRoom removes the room document. Callers tear down connections and
// dependent collections separately.
func (s *RoomService) DeleteRoom(ctx context.Context, roomId types.RoomIdType) error {
	if err := s.store.DeleteRoom(ctx, roomId); err != nil {
		return err
	}
	s.invalidate(ctx, roomId)
	logging.Info(ctx, "Room deleted", zap.String("room_id", string(roomId)))
	return nil
}
