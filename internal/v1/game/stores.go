// Package game holds the room, map, and adventure-log services plus the
// event handlers and dispatcher that drive every room mutation. Both the
// WebSocket dispatcher and the HTTP control plane call through this
// package, so each state change has exactly one implementation.
package game

import (
	"context"
	"encoding/json"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// RoomStore is the slice of the document store the room service needs.
// *store.Store satisfies it; tests substitute in-memory fakes.
type RoomStore interface {
	InsertRoom(ctx context.Context, room *types.Room) error
	GetRoom(ctx context.Context, roomId types.RoomIdType) (*types.Room, error)
	RoomExists(ctx context.Context, roomId types.RoomIdType) (bool, error)
	UpdateSeatLayout(ctx context.Context, roomId types.RoomIdType, layout []string) error
	UpdateSeatCount(ctx context.Context, roomId types.RoomIdType, maxPlayers int, layout []string) error
	UpdateSeatColors(ctx context.Context, roomId types.RoomIdType, colors map[string]string) error
	UpdateDungeonMaster(ctx context.Context, roomId types.RoomIdType, player string) error
	UpdateModerators(ctx context.Context, roomId types.RoomIdType, moderators []string) error
	UpdateAudioChannel(ctx context.Context, roomId types.RoomIdType, channelId string, channel types.AudioChannel) error
	ReplaceAudioState(ctx context.Context, roomId types.RoomIdType, state map[string]types.AudioChannel) error
	UpdateActiveDisplay(ctx context.Context, roomId types.RoomIdType, display types.DisplayType) error
	UpdateCombatState(ctx context.Context, roomId types.RoomIdType, inCombat bool) error
	UpdateCharacter(ctx context.Context, roomId types.RoomIdType, player types.PlayerNameType, sheet types.CharacterSheet) error
	DeleteRoom(ctx context.Context, roomId types.RoomIdType) error
}

// LogStore is the adventure-log slice of the document store.
type LogStore interface {
	InsertLogEntry(ctx context.Context, entry types.LogEntry, maxLogs int) error
	GetRoomLogs(ctx context.Context, roomId types.RoomIdType, limit, skip int) ([]types.LogEntry, error)
	DeleteByPromptID(ctx context.Context, roomId types.RoomIdType, promptId types.PromptIdType) (int64, error)
	DeleteByType(ctx context.Context, roomId types.RoomIdType, logType string) (int64, error)
	DeleteAllLogs(ctx context.Context, roomId types.RoomIdType) (int64, error)
	CountLogs(ctx context.Context, roomId types.RoomIdType) (int, error)
	LogStats(ctx context.Context, roomId types.RoomIdType) (types.LogStats, error)
}

// MapStore is the battle-map slice of the document store.
type MapStore interface {
	SetActiveMap(ctx context.Context, m types.ActiveMap) (*types.ActiveMap, error)
	GetActiveMap(ctx context.Context, roomId types.RoomIdType) (*types.ActiveMap, error)
	GetMapByFilename(ctx context.Context, roomId types.RoomIdType, filename string) (*types.ActiveMap, error)
	UpdateMapConfig(ctx context.Context, roomId types.RoomIdType, filename string, grid *types.GridConfig, setGrid bool, image json.RawMessage, setImage bool) (*types.ActiveMap, error)
	ReplaceMap(ctx context.Context, m types.ActiveMap) (*types.ActiveMap, error)
	ClearActiveMap(ctx context.Context, roomId types.RoomIdType) error
	DeleteRoomMaps(ctx context.Context, roomId types.RoomIdType) error
}
