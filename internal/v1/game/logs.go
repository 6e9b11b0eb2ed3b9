package game

import (
	"context"
	"sync"
	"time"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// DefaultMaxLogs bounds the adventure log per room; the oldest entries are
// pruned as new ones land.
const DefaultMaxLogs = 200

// AdventureLogService appends and queries the per-room adventure log. Log ids
// are microsecond timestamps bumped under a mutex so ordering survives two
// entries landing in the same microsecond.
type AdventureLogService struct {
	store   LogStore
	maxLogs int
	now     func() time.Time

	mu     sync.Mutex
	lastID int64
}

func NewAdventureLogService(store LogStore, maxLogs int) *AdventureLogService {
	if maxLogs <= 0 {
		maxLogs = DefaultMaxLogs
	}
	return &AdventureLogService{store: store, maxLogs: maxLogs, now: time.Now}
}

func (s *AdventureLogService) nextLogID() types.LogIdType {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.now().UnixMicro()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return types.LogIdType(id)
}

// AddEntry appends a log entry, pruning the room's log down to the retention
// bound in the same transaction.
func (s *AdventureLogService) AddEntry(ctx context.Context, roomId types.RoomIdType, message, logType string, player types.PlayerNameType, promptId types.PromptIdType) (*types.LogEntry, error) {
	if roomId == "" {
		return nil, validationf("room id required")
	}
	if message == "" {
		return nil, validationf("log message required")
	}
	if logType == "" {
		logType = types.LogTypeSystem
	}
	entry := types.LogEntry{
		LogID:      s.nextLogID(),
		RoomID:     roomId,
		Message:    message,
		Type:       logType,
		PlayerName: types.NormalizePlayerName(string(player)),
		PromptID:   promptId,
		Timestamp:  s.now().UTC(),
	}
	if err := s.store.InsertLogEntry(ctx, entry, s.maxLogs); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetRoomLogs returns entries newest-first. Limit defaults to 50 and is
// capped at the retention bound; negative skip is treated as zero.
func (s *AdventureLogService) GetRoomLogs(ctx context.Context, roomId types.RoomIdType, limit, skip int) ([]types.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > s.maxLogs {
		limit = s.maxLogs
	}
	if skip < 0 {
		skip = 0
	}
	return s.store.GetRoomLogs(ctx, roomId, limit, skip)
}

// RemoveByPromptId deletes every entry tied to a prompt and reports how many
// went. Zero is a normal outcome: the prompt may already be resolved.
func (s *AdventureLogService) RemoveByPromptId(ctx context.Context, roomId types.RoomIdType, promptId types.PromptIdType) (int64, error) {
	if promptId == "" {
		return 0, validationf("prompt id required")
	}
	return s.store.DeleteByPromptID(ctx, roomId, promptId)
}

// ClearSystemMessages bulk-deletes system entries.
func (s *AdventureLogService) ClearSystemMessages(ctx context.Context, roomId types.RoomIdType) (int64, error) {
	return s.store.DeleteByType(ctx, roomId, types.LogTypeSystem)
}

// ClearAll wipes the room's whole log.
func (s *AdventureLogService) ClearAll(ctx context.Context, roomId types.RoomIdType) (int64, error) {
	return s.store.DeleteAllLogs(ctx, roomId)
}

// Count returns the room's current log size.
func (s *AdventureLogService) Count(ctx context.Context, roomId types.RoomIdType) (int, error) {
	return s.store.CountLogs(ctx, roomId)
}

// Stats aggregates log counts, distinct types and players, and the age span.
func (s *AdventureLogService) Stats(ctx context.Context, roomId types.RoomIdType) (types.LogStats, error) {
	return s.store.LogStats(ctx, roomId)
}
