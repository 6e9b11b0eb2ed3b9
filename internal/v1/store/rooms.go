package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// InsertRoom persists a new room document. Returns ErrRoomExists when the
// catalog-assigned id is already taken.
func (s *Store) InsertRoom(ctx context.Context, room *types.Room) error {
	defer observe("rooms", "insert")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	doc, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room document: %w", err)
	}

	const q = `INSERT INTO rooms (room_id, doc) VALUES ($1, $2) ON CONFLICT (room_id) DO NOTHING`
	tag, err := s.exec(ctx, q, string(room.ID), doc)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomExists
	}
	return nil
}

// GetRoom loads the full room document.
func (s *Store) GetRoom(ctx context.Context, roomId types.RoomIdType) (*types.Room, error) {
	defer observe("rooms", "get")()
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	const q = `SELECT doc FROM rooms WHERE room_id = $1`
	var doc []byte
	if err := s.queryRow(ctx, q, string(roomId)).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	var room types.Room
	if err := json.Unmarshal(doc, &room); err != nil {
		return nil, fmt.Errorf("unmarshal room document: %w", err)
	}
	return &room, nil
}

// RoomExists reports whether a room document is present, without decoding it.
func (s *Store) RoomExists(ctx context.Context, roomId types.RoomIdType) (bool, error) {
	defer observe("rooms", "exists")()
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	const q = `SELECT EXISTS(SELECT 1 FROM rooms WHERE room_id = $1)`
	var exists bool
	if err := s.queryRow(ctx, q, string(roomId)).Scan(&exists); err != nil {
		return false, fmt.Errorf("query room existence: %w", err)
	}
	return exists, nil
}

// updateRoomField sets one path inside the room document atomically.
func (s *Store) updateRoomField(ctx context.Context, roomId types.RoomIdType, path []string, value any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal field %v: %w", path, err)
	}

	const q = `UPDATE rooms SET doc = jsonb_set(doc, $2, $3::jsonb, true), updated_at = now() WHERE room_id = $1`
	tag, err := s.exec(ctx, q, string(roomId), path, encoded)
	if err != nil {
		return fmt.Errorf("update room field %v: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// UpdateSeatLayout replaces the seat layout array.
func (s *Store) UpdateSeatLayout(ctx context.Context, roomId types.RoomIdType, layout []string) error {
	defer observe("rooms", "update_seat_layout")()
	return s.updateRoomField(ctx, roomId, []string{"seat_layout"}, layout)
}

// UpdateSeatCount writes the new capacity and the resized layout in one
// statement so a crash cannot leave them inconsistent.
func (s *Store) UpdateSeatCount(ctx context.Context, roomId types.RoomIdType, maxPlayers int, layout []string) error {
	defer observe("rooms", "update_seat_count")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	encodedLayout, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("marshal seat layout: %w", err)
	}

	const q = `
UPDATE rooms
SET doc = jsonb_set(jsonb_set(doc, '{max_players}', to_jsonb($2::int), true), '{seat_layout}', $3::jsonb, true),
    updated_at = now()
WHERE room_id = $1`
	tag, err := s.exec(ctx, q, string(roomId), maxPlayers, encodedLayout)
	if err != nil {
		return fmt.Errorf("update seat count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// UpdateSeatColors replaces the seat color map.
func (s *Store) UpdateSeatColors(ctx context.Context, roomId types.RoomIdType, colors map[string]string) error {
	defer observe("rooms", "update_seat_colors")()
	return s.updateRoomField(ctx, roomId, []string{"seat_colors"}, colors)
}

// UpdateDungeonMaster writes the single DM slot. Empty string clears it.
func (s *Store) UpdateDungeonMaster(ctx context.Context, roomId types.RoomIdType, player string) error {
	defer observe("rooms", "update_dm")()
	return s.updateRoomField(ctx, roomId, []string{"dungeon_master"}, player)
}

// UpdateModerators replaces the moderator list.
func (s *Store) UpdateModerators(ctx context.Context, roomId types.RoomIdType, moderators []string) error {
	defer observe("rooms", "update_moderators")()
	return s.updateRoomField(ctx, roomId, []string{"moderators"}, moderators)
}

// UpdateAudioChannel replaces one named audio channel record.
func (s *Store) UpdateAudioChannel(ctx context.Context, roomId types.RoomIdType, channelId string, channel types.AudioChannel) error {
	defer observe("rooms", "update_audio_channel")()
	return s.updateRoomField(ctx, roomId, []string{"audio_state", channelId}, channel)
}

// ReplaceAudioState swaps the entire audio_state map, used by batch ops that
// touch several channels at once.
func (s *Store) ReplaceAudioState(ctx context.Context, roomId types.RoomIdType, state map[string]types.AudioChannel) error {
	defer observe("rooms", "replace_audio_state")()
	return s.updateRoomField(ctx, roomId, []string{"audio_state"}, state)
}

// UpdateActiveDisplay sets which display mode the room shows.
func (s *Store) UpdateActiveDisplay(ctx context.Context, roomId types.RoomIdType, display types.DisplayType) error {
	defer observe("rooms", "update_active_display")()
	return s.updateRoomField(ctx, roomId, []string{"active_display"}, display)
}

// UpdateCombatState flips the initiative-mode flag.
func (s *Store) UpdateCombatState(ctx context.Context, roomId types.RoomIdType, inCombat bool) error {
	defer observe("rooms", "update_combat_state")()
	return s.updateRoomField(ctx, roomId, []string{"in_combat"}, inCombat)
}

// UpdateCharacter upserts one player's character sheet in the room document.
func (s *Store) UpdateCharacter(ctx context.Context, roomId types.RoomIdType, player types.PlayerNameType, sheet types.CharacterSheet) error {
	defer observe("rooms", "update_character")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	encoded, err := json.Marshal(sheet)
	if err != nil {
		return fmt.Errorf("marshal character sheet: %w", err)
	}

	// jsonb_set cannot create intermediate objects, so seed characters
	// with an empty map when the room predates the feature.
	const q = `
UPDATE rooms
SET doc = jsonb_set(jsonb_set(doc, '{characters}', COALESCE(doc->'characters', '{}'::jsonb), true), $2, $3::jsonb, true),
    updated_at = now()
WHERE room_id = $1`
	tag, err := s.exec(ctx, q, string(roomId), []string{"characters", string(player)}, encoded)
	if err != nil {
		return fmt.Errorf("update character: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// DeleteRoom removes the room document. Logs and maps are deleted by their
// own stores; callers orchestrate teardown order.
func (s *Store) DeleteRoom(ctx context.Context, roomId types.RoomIdType) error {
	defer observe("rooms", "delete")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	const q = `DELETE FROM rooms WHERE room_id = $1`
	tag, err := s.exec(ctx, q, string(roomId))
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}
