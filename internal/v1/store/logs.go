package store

import (
	"context"
	"fmt"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// InsertLogEntry appends one adventure log line, then prunes the room back
// down to maxLogs entries. Insert and prune share a transaction so the
// retention bound holds even if the process dies between them.
func (s *Store) InsertLogEntry(ctx context.Context, entry types.LogEntry, maxLogs int) error {
	defer observe("adventure_logs", "insert")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin log insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertQ = `
INSERT INTO adventure_logs (room_id, log_id, message, type, player_name, prompt_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.Exec(ctx, insertQ,
		string(entry.RoomID),
		int64(entry.LogID),
		entry.Message,
		entry.Type,
		string(entry.PlayerName),
		string(entry.PromptID),
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	// Keep only the newest maxLogs entries for the room.
	const pruneQ = `
DELETE FROM adventure_logs
WHERE room_id = $1
  AND log_id NOT IN (
    SELECT log_id FROM adventure_logs WHERE room_id = $1 ORDER BY log_id DESC LIMIT $2
  )`
	if _, err := tx.Exec(ctx, pruneQ, string(entry.RoomID), maxLogs); err != nil {
		return fmt.Errorf("prune log entries: %w", err)
	}

	return tx.Commit(ctx)
}

// GetRoomLogs returns log entries newest-first with limit/skip pagination.
func (s *Store) GetRoomLogs(ctx context.Context, roomId types.RoomIdType, limit, skip int) ([]types.LogEntry, error) {
	defer observe("adventure_logs", "list")()
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	const q = `
SELECT room_id, log_id, message, type, player_name, prompt_id, created_at
FROM adventure_logs
WHERE room_id = $1
ORDER BY log_id DESC
LIMIT $2 OFFSET $3`
	rows, err := s.query(ctx, q, string(roomId), limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query room logs: %w", err)
	}
	defer rows.Close()

	var entries []types.LogEntry
	for rows.Next() {
		var (
			e          types.LogEntry
			roomID     string
			logID      int64
			playerName string
			promptID   string
		)
		if err := rows.Scan(&roomID, &logID, &e.Message, &e.Type, &playerName, &promptID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.RoomID = types.RoomIdType(roomID)
		e.LogID = types.LogIdType(logID)
		e.PlayerName = types.PlayerNameType(playerName)
		e.PromptID = types.PromptIdType(promptID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteByPromptID removes the log entry linked to a dice prompt, returning
// the number of rows deleted (0 when the prompt was already resolved).
func (s *Store) DeleteByPromptID(ctx context.Context, roomId types.RoomIdType, promptId types.PromptIdType) (int64, error) {
	defer observe("adventure_logs", "delete_by_prompt")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	const q = `DELETE FROM adventure_logs WHERE room_id = $1 AND prompt_id = $2 AND prompt_id <> ''`
	tag, err := s.exec(ctx, q, string(roomId), string(promptId))
	if err != nil {
		return 0, fmt.Errorf("delete log by prompt id: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByType bulk-deletes entries of one type, returning the count.
func (s *Store) DeleteByType(ctx context.Context, roomId types.RoomIdType, logType string) (int64, error) {
	defer observe("adventure_logs", "delete_by_type")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	const q = `DELETE FROM adventure_logs WHERE room_id = $1 AND type = $2`
	tag, err := s.exec(ctx, q, string(roomId), logType)
	if err != nil {
		return 0, fmt.Errorf("delete logs by type: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAllLogs wipes the room's log, returning the count.
func (s *Store) DeleteAllLogs(ctx context.Context, roomId types.RoomIdType) (int64, error) {
	defer observe("adventure_logs", "delete_all")()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	const q = `DELETE FROM adventure_logs WHERE room_id = $1`
	tag, err := s.exec(ctx, q, string(roomId))
	if err != nil {
		return 0, fmt.Errorf("delete all logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountLogs returns the room's current log entry count.
func (s *Store) CountLogs(ctx context.Context, roomId types.RoomIdType) (int, error) {
	defer observe("adventure_logs", "count")()
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	const q = `SELECT COUNT(*) FROM adventure_logs WHERE room_id = $1`
	var count int
	if err := s.queryRow(ctx, q, string(roomId)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return count, nil
}

// LogStats summarizes the room's log window in a single query.
func (s *Store) LogStats(ctx context.Context, roomId types.RoomIdType) (types.LogStats, error) {
	defer observe("adventure_logs", "stats")()
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	const q = `
SELECT COUNT(*),
       COALESCE(array_agg(DISTINCT type) FILTER (WHERE type <> ''), '{}'),
       COALESCE(array_agg(DISTINCT player_name) FILTER (WHERE player_name <> ''), '{}'),
       MIN(created_at),
       MAX(created_at)
FROM adventure_logs
WHERE room_id = $1`

	var stats types.LogStats
	err := s.queryRow(ctx, q, string(roomId)).Scan(
		&stats.TotalLogs,
		&stats.Types,
		&stats.Players,
		&stats.Oldest,
		&stats.Newest,
	)
	if err != nil {
		return types.LogStats{}, fmt.Errorf("query log stats: %w", err)
	}
	return stats, nil
}
