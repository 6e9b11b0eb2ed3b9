package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

const mapColumns = `room_id, filename, original_filename, file_path, grid_config, map_image_config, uploaded_by, active, updated_at`

func scanMap(row pgx.Row) (*types.ActiveMap, error) {
	var (
		m      types.ActiveMap
		roomID string
		grid   []byte
		image  []byte
	)
	err := row.Scan(&roomID, &m.Filename, &m.OriginalFilename, &m.FilePath, &grid, &image, &m.UploadedBy, &m.Active, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.RoomID = types.RoomIdType(roomID)
	if len(grid) > 0 {
		var g types.GridConfig
		if err := json.Unmarshal(grid, &g); err != nil {
			return nil, fmt.Errorf("unmarshal grid config: %w", err)
		}
		m.GridConfig = &g
	}
	if len(image) > 0 {
		m.MapImageConfig = json.RawMessage(image)
	}
	return &m, nil
}

// encodeGrid renders a grid config for a JSONB column, nil staying NULL.
func encodeGrid(g *types.GridConfig) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	return json.Marshal(g)
}

// encodeImage normalizes a raw positioning record for a JSONB column.
// Empty and explicit-null payloads both store as NULL.
func encodeImage(raw json.RawMessage) []byte {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return []byte(trimmed)
}

// SetActiveMap makes the given map the room's only active one. Within one
// transaction it deactivates every other map, upserts this one keyed by
// (room, filename), and flips the room document's active_display to map.
// A stored grid_config survives the upsert unless the caller provides one,
// so reloading a map keeps the DM's grid alignment.
func (s *Store) SetActiveMap(ctx context.Context, m types.ActiveMap) (*types.ActiveMap, error) {
	defer observe("active_maps", "set_active")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	grid, err := encodeGrid(m.GridConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal grid config: %w", err)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin set active map: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE active_maps SET active = false, updated_at = now() WHERE room_id = $1 AND active`, string(m.RoomID)); err != nil {
		return nil, fmt.Errorf("deactivate prior maps: %w", err)
	}

	const upsertQ = `
INSERT INTO active_maps (room_id, filename, original_filename, file_path, grid_config, map_image_config, uploaded_by, active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, true, now())
ON CONFLICT (room_id, filename) DO UPDATE SET
	original_filename = EXCLUDED.original_filename,
	file_path         = EXCLUDED.file_path,
	grid_config       = COALESCE(EXCLUDED.grid_config, active_maps.grid_config),
	map_image_config  = COALESCE(EXCLUDED.map_image_config, active_maps.map_image_config),
	uploaded_by       = EXCLUDED.uploaded_by,
	active            = true,
	updated_at        = now()
RETURNING ` + mapColumns
	saved, err := scanMap(tx.QueryRow(ctx, upsertQ,
		string(m.RoomID), m.Filename, m.OriginalFilename, m.FilePath, grid, encodeImage(m.MapImageConfig), m.UploadedBy))
	if err != nil {
		return nil, fmt.Errorf("upsert active map: %w", err)
	}

	const displayQ = `UPDATE rooms SET doc = jsonb_set(doc, '{active_display}', $2::jsonb, true), updated_at = now() WHERE room_id = $1`
	encodedDisplay, _ := json.Marshal(types.DisplayTypeMap)
	if _, err := tx.Exec(ctx, displayQ, string(m.RoomID), encodedDisplay); err != nil {
		return nil, fmt.Errorf("update active display: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit set active map: %w", err)
	}
	return saved, nil
}

// GetActiveMap returns the room's single active map, or ErrMapNotFound.
func (s *Store) GetActiveMap(ctx context.Context, roomId types.RoomIdType) (*types.ActiveMap, error) {
	defer observe("active_maps", "get_active")()
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	q := `SELECT ` + mapColumns + ` FROM active_maps WHERE room_id = $1 AND active`
	m, err := scanMap(s.queryRow(ctx, q, string(roomId)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMapNotFound
		}
		return nil, fmt.Errorf("query active map: %w", err)
	}
	return m, nil
}

// GetMapByFilename returns one stored map regardless of active state.
func (s *Store) GetMapByFilename(ctx context.Context, roomId types.RoomIdType, filename string) (*types.ActiveMap, error) {
	defer observe("active_maps", "get_by_filename")()
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	q := `SELECT ` + mapColumns + ` FROM active_maps WHERE room_id = $1 AND filename = $2`
	m, err := scanMap(s.queryRow(ctx, q, string(roomId), filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMapNotFound
		}
		return nil, fmt.Errorf("query map by filename: %w", err)
	}
	return m, nil
}

// UpdateMapConfig partially updates grid and image config. The set flags
// distinguish "omitted" from "explicitly null": an omitted field keeps its
// stored value, a null one clears it.
func (s *Store) UpdateMapConfig(ctx context.Context, roomId types.RoomIdType, filename string, grid *types.GridConfig, setGrid bool, image json.RawMessage, setImage bool) (*types.ActiveMap, error) {
	defer observe("active_maps", "update_config")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	sets := []string{"updated_at = now()"}
	args := []any{string(roomId), filename}

	if setGrid {
		encoded, err := encodeGrid(grid)
		if err != nil {
			return nil, fmt.Errorf("marshal grid config: %w", err)
		}
		args = append(args, encoded)
		sets = append(sets, fmt.Sprintf("grid_config = $%d", len(args)))
	}
	if setImage {
		args = append(args, encodeImage(image))
		sets = append(sets, fmt.Sprintf("map_image_config = $%d", len(args)))
	}

	q := `UPDATE active_maps SET ` + strings.Join(sets, ", ") +
		` WHERE room_id = $1 AND filename = $2 RETURNING ` + mapColumns
	m, err := scanMap(s.queryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMapNotFound
		}
		return nil, fmt.Errorf("update map config: %w", err)
	}
	return m, nil
}

// ReplaceMap overwrites a stored map wholesale. Unlike SetActiveMap no
// stored field survives; this backs the HTTP full-document PUT.
func (s *Store) ReplaceMap(ctx context.Context, m types.ActiveMap) (*types.ActiveMap, error) {
	defer observe("active_maps", "replace")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	grid, err := encodeGrid(m.GridConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal grid config: %w", err)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin replace map: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if m.Active {
		if _, err := tx.Exec(ctx, `UPDATE active_maps SET active = false, updated_at = now() WHERE room_id = $1 AND active AND filename <> $2`, string(m.RoomID), m.Filename); err != nil {
			return nil, fmt.Errorf("deactivate prior maps: %w", err)
		}
	}

	const q = `
INSERT INTO active_maps (room_id, filename, original_filename, file_path, grid_config, map_image_config, uploaded_by, active, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (room_id, filename) DO UPDATE SET
	original_filename = EXCLUDED.original_filename,
	file_path         = EXCLUDED.file_path,
	grid_config       = EXCLUDED.grid_config,
	map_image_config  = EXCLUDED.map_image_config,
	uploaded_by       = EXCLUDED.uploaded_by,
	active            = EXCLUDED.active,
	updated_at        = now()
RETURNING ` + mapColumns
	saved, err := scanMap(tx.QueryRow(ctx, q,
		string(m.RoomID), m.Filename, m.OriginalFilename, m.FilePath, grid, encodeImage(m.MapImageConfig), m.UploadedBy, m.Active))
	if err != nil {
		return nil, fmt.Errorf("replace map: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit replace map: %w", err)
	}
	return saved, nil
}

// ClearActiveMap deactivates every map in the room.
func (s *Store) ClearActiveMap(ctx context.Context, roomId types.RoomIdType) error {
	defer observe("active_maps", "clear_active")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	const q = `UPDATE active_maps SET active = false, updated_at = now() WHERE room_id = $1 AND active`
	if _, err := s.exec(ctx, q, string(roomId)); err != nil {
		return fmt.Errorf("clear active map: %w", err)
	}
	return nil
}

// DeleteRoomMaps removes every stored map for a room, used at teardown.
func (s *Store) DeleteRoomMaps(ctx context.Context, roomId types.RoomIdType) error {
	defer observe("active_maps", "delete_room")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	const q = `DELETE FROM active_maps WHERE room_id = $1`
	if _, err := s.exec(ctx, q, string(roomId)); err != nil {
		return fmt.Errorf("delete room maps: %w", err)
	}
	return nil
}
