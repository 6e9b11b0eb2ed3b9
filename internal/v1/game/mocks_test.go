package game

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/store"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// fakeRoomStore is an in-memory RoomStore. Reads return deep copies, matching
// the real store's unmarshal-per-read behavior, so callers mutating a fetched
// room never alias stored state.
type fakeRoomStore struct {
	mu    sync.Mutex
	rooms map[types.RoomIdType]*types.Room

	failWrites error
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{rooms: map[types.RoomIdType]*types.Room{}}
}

func copyRoom(room *types.Room) *types.Room {
	raw, err := json.Marshal(room)
	if err != nil {
		panic(err)
	}
	var out types.Room
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (f *fakeRoomStore) InsertRoom(_ context.Context, room *types.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[room.ID]; ok {
		return store.ErrRoomExists
	}
	f.rooms[room.ID] = copyRoom(room)
	return nil
}

func (f *fakeRoomStore) GetRoom(_ context.Context, roomId types.RoomIdType) (*types.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomId]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	return copyRoom(room), nil
}

func (f *fakeRoomStore) RoomExists(_ context.Context, roomId types.RoomIdType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[roomId]
	return ok, nil
}

func (f *fakeRoomStore) mutate(roomId types.RoomIdType, fn func(room *types.Room)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	room, ok := f.rooms[roomId]
	if !ok {
		return store.ErrRoomNotFound
	}
	fn(room)
	return nil
}

func (f *fakeRoomStore) UpdateSeatLayout(_ context.Context, roomId types.RoomIdType, layout []string) error {
	return f.mutate(roomId, func(room *types.Room) { room.SeatLayout = append([]string{}, layout...) })
}

func (f *fakeRoomStore) UpdateSeatCount(_ context.Context, roomId types.RoomIdType, maxPlayers int, layout []string) error {
	return f.mutate(roomId, func(room *types.Room) {
		room.MaxPlayers = maxPlayers
		room.SeatLayout = append([]string{}, layout...)
	})
}

func (f *fakeRoomStore) UpdateSeatColors(_ context.Context, roomId types.RoomIdType, colors map[string]string) error {
	return f.mutate(roomId, func(room *types.Room) {
		room.SeatColors = map[string]string{}
		for seat, color := range colors {
			room.SeatColors[seat] = color
		}
	})
}

func (f *fakeRoomStore) UpdateDungeonMaster(_ context.Context, roomId types.RoomIdType, player string) error {
	return f.mutate(roomId, func(room *types.Room) { room.DungeonMaster = player })
}

func (f *fakeRoomStore) UpdateModerators(_ context.Context, roomId types.RoomIdType, moderators []string) error {
	return f.mutate(roomId, func(room *types.Room) { room.Moderators = append([]string{}, moderators...) })
}

func (f *fakeRoomStore) UpdateAudioChannel(_ context.Context, roomId types.RoomIdType, channelId string, channel types.AudioChannel) error {
	return f.mutate(roomId, func(room *types.Room) {
		if room.AudioState == nil {
			room.AudioState = map[string]types.AudioChannel{}
		}
		room.AudioState[channelId] = channel
	})
}

func (f *fakeRoomStore) ReplaceAudioState(_ context.Context, roomId types.RoomIdType, state map[string]types.AudioChannel) error {
	return f.mutate(roomId, func(room *types.Room) {
		room.AudioState = map[string]types.AudioChannel{}
		for channelId, channel := range state {
			room.AudioState[channelId] = channel
		}
	})
}

func (f *fakeRoomStore) UpdateActiveDisplay(_ context.Context, roomId types.RoomIdType, display types.DisplayType) error {
	return f.mutate(roomId, func(room *types.Room) { room.ActiveDisplay = display })
}

func (f *fakeRoomStore) UpdateCombatState(_ context.Context, roomId types.RoomIdType, inCombat bool) error {
	return f.mutate(roomId, func(room *types.Room) { room.InCombat = inCombat })
}

func (f *fakeRoomStore) UpdateCharacter(_ context.Context, roomId types.RoomIdType, player types.PlayerNameType, sheet types.CharacterSheet) error {
	return f.mutate(roomId, func(room *types.Room) {
		if room.Characters == nil {
			room.Characters = map[string]types.CharacterSheet{}
		}
		room.Characters[string(player)] = sheet
	})
}

func (f *fakeRoomStore) DeleteRoom(_ context.Context, roomId types.RoomIdType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[roomId]; !ok {
		return store.ErrRoomNotFound
	}
	delete(f.rooms, roomId)
	return nil
}

// fakeLogStore is an in-memory LogStore with the same insert-then-prune
// retention as the real one.
type fakeLogStore struct {
	mu      sync.Mutex
	entries map[types.RoomIdType][]types.LogEntry

	failInserts error
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{entries: map[types.RoomIdType][]types.LogEntry{}}
}

func (f *fakeLogStore) InsertLogEntry(_ context.Context, entry types.LogEntry, maxLogs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInserts != nil {
		return f.failInserts
	}
	entries := append(f.entries[entry.RoomID], entry)
	sort.Slice(entries, func(i, j int) bool { return entries[i].LogID > entries[j].LogID })
	if maxLogs > 0 && len(entries) > maxLogs {
		entries = entries[:maxLogs]
	}
	f.entries[entry.RoomID] = entries
	return nil
}

func (f *fakeLogStore) GetRoomLogs(_ context.Context, roomId types.RoomIdType, limit, skip int) ([]types.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.entries[roomId]
	if skip >= len(entries) {
		return nil, nil
	}
	entries = entries[skip:]
	if limit < len(entries) {
		entries = entries[:limit]
	}
	return append([]types.LogEntry{}, entries...), nil
}

func (f *fakeLogStore) deleteWhere(roomId types.RoomIdType, match func(types.LogEntry) bool) int64 {
	kept := make([]types.LogEntry, 0, len(f.entries[roomId]))
	var removed int64
	for _, entry := range f.entries[roomId] {
		if match(entry) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	f.entries[roomId] = kept
	return removed
}

func (f *fakeLogStore) DeleteByPromptID(_ context.Context, roomId types.RoomIdType, promptId types.PromptIdType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteWhere(roomId, func(e types.LogEntry) bool { return e.PromptID == promptId && promptId != "" }), nil
}

func (f *fakeLogStore) DeleteByType(_ context.Context, roomId types.RoomIdType, logType string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteWhere(roomId, func(e types.LogEntry) bool { return e.Type == logType }), nil
}

func (f *fakeLogStore) DeleteAllLogs(_ context.Context, roomId types.RoomIdType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteWhere(roomId, func(types.LogEntry) bool { return true }), nil
}

func (f *fakeLogStore) CountLogs(_ context.Context, roomId types.RoomIdType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries[roomId]), nil
}

func (f *fakeLogStore) LogStats(_ context.Context, roomId types.RoomIdType) (types.LogStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := types.LogStats{TotalLogs: len(f.entries[roomId])}
	seenTypes := map[string]bool{}
	seenPlayers := map[string]bool{}
	for _, entry := range f.entries[roomId] {
		if !seenTypes[entry.Type] {
			seenTypes[entry.Type] = true
			stats.Types = append(stats.Types, entry.Type)
		}
		if name := string(entry.PlayerName); name != "" && !seenPlayers[name] {
			seenPlayers[name] = true
			stats.Players = append(stats.Players, name)
		}
	}
	return stats, nil
}

// fakeMapStore is an in-memory MapStore honoring the activation and
// grid-preservation contracts of the real one.
type fakeMapStore struct {
	mu   sync.Mutex
	maps map[types.RoomIdType]map[string]*types.ActiveMap
}

func newFakeMapStore() *fakeMapStore {
	return &fakeMapStore{maps: map[types.RoomIdType]map[string]*types.ActiveMap{}}
}

func copyMap(m *types.ActiveMap) *types.ActiveMap {
	out := *m
	if m.GridConfig != nil {
		grid := *m.GridConfig
		out.GridConfig = &grid
	}
	out.MapImageConfig = append(json.RawMessage{}, m.MapImageConfig...)
	if len(out.MapImageConfig) == 0 {
		out.MapImageConfig = nil
	}
	return &out
}

func (f *fakeMapStore) SetActiveMap(_ context.Context, m types.ActiveMap) (*types.ActiveMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roomMaps := f.maps[m.RoomID]
	if roomMaps == nil {
		roomMaps = map[string]*types.ActiveMap{}
		f.maps[m.RoomID] = roomMaps
	}
	for _, other := range roomMaps {
		other.Active = false
	}
	saved := copyMap(&m)
	if existing, ok := roomMaps[m.Filename]; ok {
		if saved.GridConfig == nil {
			saved.GridConfig = existing.GridConfig
		}
		if saved.MapImageConfig == nil {
			saved.MapImageConfig = existing.MapImageConfig
		}
	}
	saved.Active = true
	roomMaps[m.Filename] = saved
	return copyMap(saved), nil
}

func (f *fakeMapStore) GetActiveMap(_ context.Context, roomId types.RoomIdType) (*types.ActiveMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.maps[roomId] {
		if m.Active {
			return copyMap(m), nil
		}
	}
	return nil, store.ErrMapNotFound
}

func (f *fakeMapStore) GetMapByFilename(_ context.Context, roomId types.RoomIdType, filename string) (*types.ActiveMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.maps[roomId][filename]; ok {
		return copyMap(m), nil
	}
	return nil, store.ErrMapNotFound
}

func (f *fakeMapStore) UpdateMapConfig(_ context.Context, roomId types.RoomIdType, filename string, grid *types.GridConfig, setGrid bool, image json.RawMessage, setImage bool) (*types.ActiveMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.maps[roomId][filename]
	if !ok {
		return nil, store.ErrMapNotFound
	}
	if setGrid {
		m.GridConfig = grid
	}
	if setImage {
		m.MapImageConfig = image
	}
	return copyMap(m), nil
}

func (f *fakeMapStore) ReplaceMap(_ context.Context, m types.ActiveMap) (*types.ActiveMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roomMaps := f.maps[m.RoomID]
	if roomMaps == nil {
		roomMaps = map[string]*types.ActiveMap{}
		f.maps[m.RoomID] = roomMaps
	}
	if m.Active {
		for _, other := range roomMaps {
			other.Active = false
		}
	}
	saved := copyMap(&m)
	roomMaps[m.Filename] = saved
	return copyMap(saved), nil
}

func (f *fakeMapStore) ClearActiveMap(_ context.Context, roomId types.RoomIdType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.maps[roomId] {
		m.Active = false
	}
	return nil
}

func (f *fakeMapStore) DeleteRoomMaps(_ context.Context, roomId types.RoomIdType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.maps, roomId)
	return nil
}

// fakeChannel records everything a handler pushes at the room.
type fakeChannel struct {
	mu           sync.Mutex
	roomId       types.RoomIdType
	broadcasts   [][]byte
	unicasts     map[types.PlayerNameType][][]byte
	connected    map[types.PlayerNameType]bool
	party        map[types.PlayerNameType]bool
	lobbyUpdates int
	synced       [][]string
	disconnected []types.PlayerNameType
	closedReason string
}

func newFakeChannel(roomId types.RoomIdType) *fakeChannel {
	return &fakeChannel{
		roomId:    roomId,
		unicasts:  map[types.PlayerNameType][][]byte{},
		connected: map[types.PlayerNameType]bool{},
		party:     map[types.PlayerNameType]bool{},
	}
}

func (f *fakeChannel) RoomId() types.RoomIdType { return f.roomId }

func (f *fakeChannel) Broadcast(_ context.Context, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, data)
}

func (f *fakeChannel) SendToPlayer(_ context.Context, player types.PlayerNameType, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unicasts[player] = append(f.unicasts[player], data)
	return f.connected[player]
}

func (f *fakeChannel) BroadcastLobbyUpdate(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lobbyUpdates++
}

func (f *fakeChannel) SetPartyStatus(player types.PlayerNameType, inParty bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.party[player] = inParty
}

func (f *fakeChannel) SyncPartyFromSeats(_ context.Context, seats []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, append([]string{}, seats...))
}

func (f *fakeChannel) ConnectedPlayers() []types.PlayerNameType {
	f.mu.Lock()
	defer f.mu.Unlock()
	players := make([]types.PlayerNameType, 0, len(f.connected))
	for player, online := range f.connected {
		if online {
			players = append(players, player)
		}
	}
	return players
}

func (f *fakeChannel) DisconnectPlayer(_ context.Context, player types.PlayerNameType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, player)
	delete(f.connected, player)
}

func (f *fakeChannel) CloseRoom(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedReason = reason
}

// decodedBroadcasts unmarshals every broadcast frame for assertions.
func (f *fakeChannel) decodedBroadcasts() []map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]json.RawMessage, 0, len(f.broadcasts))
	for _, raw := range f.broadcasts {
		var frame map[string]json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil {
			panic(err)
		}
		out = append(out, frame)
	}
	return out
}

func (f *fakeChannel) broadcastTypes() []string {
	var out []string
	for _, frame := range f.decodedBroadcasts() {
		var eventType string
		if err := json.Unmarshal(frame["event_type"], &eventType); err != nil {
			panic(err)
		}
		out = append(out, eventType)
	}
	return out
}

// fakeClient is a recording types.ClientInterface.
type fakeClient struct {
	mu         sync.Mutex
	roomId     types.RoomIdType
	playerName types.PlayerNameType
	sent       [][]byte
	closed     bool
}

func newFakeClient(roomId types.RoomIdType, player types.PlayerNameType) *fakeClient {
	return &fakeClient{roomId: roomId, playerName: player}
}

func (f *fakeClient) GetRoomId() types.RoomIdType { return f.roomId }

func (f *fakeClient) GetPlayerName() types.PlayerNameType { return f.playerName }

func (f *fakeClient) SendRaw(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// fakeRefresher is a canned AudioURLRefresher.
type fakeRefresher struct {
	urls map[string]string
	err  error

	mu    sync.Mutex
	calls []string
}

func (f *fakeRefresher) RefreshAudioURL(_ context.Context, assetID string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, assetID)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.urls[assetID], nil
}

var errStoreDown = errors.New("store unavailable")
