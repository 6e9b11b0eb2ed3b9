package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/auth"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/game"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/store"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

var errStoreDown = errors.New("store unavailable")

// fakeRoomStore is an in-memory game.RoomStore. Reads return deep copies so
// handler-side mutation never aliases stored state.
type fakeRoomStore struct {
	mu    sync.Mutex
	rooms map[types.RoomIdType]*types.Room

	failReads  error
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
	if f.failReads != nil {
		return nil, f.failReads
	}
	room, ok := f.rooms[roomId]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	return copyRoom(room), nil
}

func (f *fakeRoomStore) RoomExists(_ context.Context, roomId types.RoomIdType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return false, f.failReads
	}
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
	return f.mutate(roomId, func(room *types.Room) { room.AudioState = state })
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

// fakeLogStore is an in-memory game.LogStore with insert-then-prune
// retention.
type fakeLogStore struct {
	mu      sync.Mutex
	entries map[types.RoomIdType][]types.LogEntry

	failReads error
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{entries: map[types.RoomIdType][]types.LogEntry{}}
}

func (f *fakeLogStore) InsertLogEntry(_ context.Context, entry types.LogEntry, maxLogs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	if f.failReads != nil {
		return nil, f.failReads
	}
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
	return f.deleteWhere(roomId, func(e types.LogEntry) bool { return promptId != "" && e.PromptID == promptId }), nil
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

// roomEntries snapshots the room's log for assertions, newest first.
func (f *fakeLogStore) roomEntries(roomId types.RoomIdType) []types.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.LogEntry{}, f.entries[roomId]...)
}

// fakeMapStore is an in-memory game.MapStore keeping one record per
// (room, filename) with the single-active invariant.
type fakeMapStore struct {
	mu   sync.Mutex
	maps map[types.RoomIdType]map[string]*types.ActiveMap
}

func newFakeMapStore() *fakeMapStore {
	return &fakeMapStore{maps: map[types.RoomIdType]map[string]*types.ActiveMap{}}
}

func copyActiveMap(m *types.ActiveMap) *types.ActiveMap {
	out := *m
	if m.GridConfig != nil {
		grid := *m.GridConfig
		out.GridConfig = &grid
	}
	if len(m.MapImageConfig) > 0 {
		out.MapImageConfig = append(json.RawMessage{}, m.MapImageConfig...)
	}
	return &out
}

func (f *fakeMapStore) SetActiveMap(_ context.Context, m types.ActiveMap) (*types.ActiveMap, error) {
	return f.upsert(m, true)
}

func (f *fakeMapStore) ReplaceMap(_ context.Context, m types.ActiveMap) (*types.ActiveMap, error) {
	return f.upsert(m, m.Active)
}

func (f *fakeMapStore) upsert(m types.ActiveMap, activate bool) (*types.ActiveMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roomMaps := f.maps[m.RoomID]
	if roomMaps == nil {
		roomMaps = map[string]*types.ActiveMap{}
		f.maps[m.RoomID] = roomMaps
	}
	if activate {
		for _, other := range roomMaps {
			other.Active = false
		}
	}
	saved := copyActiveMap(&m)
	saved.Active = activate
	roomMaps[m.Filename] = saved
	return copyActiveMap(saved), nil
}

func (f *fakeMapStore) GetActiveMap(_ context.Context, roomId types.RoomIdType) (*types.ActiveMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.maps[roomId] {
		if m.Active {
			return copyActiveMap(m), nil
		}
	}
	return nil, store.ErrMapNotFound
}

func (f *fakeMapStore) GetMapByFilename(_ context.Context, roomId types.RoomIdType, filename string) (*types.ActiveMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.maps[roomId][filename]; ok {
		return copyActiveMap(m), nil
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
	return copyActiveMap(m), nil
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

func (f *fakeMapStore) roomMapCount(roomId types.RoomIdType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.maps[roomId])
}

// fakeChannel records everything the handlers push at one room.
type fakeChannel struct {
	mu           sync.Mutex
	roomId       types.RoomIdType
	broadcasts   [][]byte
	unicasts     map[types.PlayerNameType][][]byte
	connected    map[types.PlayerNameType]bool
	lobbyUpdates int
	synced       [][]string
	closedReason string
}

func newFakeChannel(roomId types.RoomIdType) *fakeChannel {
	return &fakeChannel{
		roomId:    roomId,
		unicasts:  map[types.PlayerNameType][][]byte{},
		connected: map[types.PlayerNameType]bool{},
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

func (f *fakeChannel) SetPartyStatus(player types.PlayerNameType, inParty bool) {}

func (f *fakeChannel) SyncPartyFromSeats(_ context.Context, seats []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, append([]string{}, seats...))
}

func (f *fakeChannel) ConnectedPlayers() []types.PlayerNameType {
	f.mu.Lock()
	defer f.mu.Unlock()
	players := []types.PlayerNameType{}
	for player, online := range f.connected {
		if online {
			players = append(players, player)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })
	return players
}

func (f *fakeChannel) DisconnectPlayer(_ context.Context, player types.PlayerNameType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connected, player)
}

func (f *fakeChannel) CloseRoom(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedReason = reason
	f.connected = map[types.PlayerNameType]bool{}
}

func (f *fakeChannel) connect(player types.PlayerNameType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[player] = true
}

// broadcastTypes lists the event_type of every broadcast, in order.
func (f *fakeChannel) broadcastTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, raw := range f.broadcasts {
		var frame struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			panic(err)
		}
		out = append(out, frame.EventType)
	}
	return out
}

// lastBroadcastData decodes the newest broadcast of the given type into v.
func (f *fakeChannel) lastBroadcastData(t *testing.T, eventType string, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.broadcasts) - 1; i >= 0; i-- {
		var frame struct {
			EventType string          `json:"event_type"`
			Data      json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(f.broadcasts[i], &frame))
		if frame.EventType == eventType {
			require.NoError(t, json.Unmarshal(frame.Data, v))
			return
		}
	}
	t.Fatalf("no %s broadcast recorded", eventType)
}

// unicastTypes lists the event types sent to one player, in order.
func (f *fakeChannel) unicastTypes(player types.PlayerNameType) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, raw := range f.unicasts[player] {
		var frame struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			panic(err)
		}
		out = append(out, frame.EventType)
	}
	return out
}

// fakeNotifier hands out one fakeChannel per room.
type fakeNotifier struct {
	mu       sync.Mutex
	channels map[types.RoomIdType]*fakeChannel
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{channels: map[types.RoomIdType]*fakeChannel{}}
}

func (f *fakeNotifier) Room(roomId types.RoomIdType) types.RoomChannel {
	return f.channel(roomId)
}

func (f *fakeNotifier) channel(roomId types.RoomIdType) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[roomId]
	if !ok {
		ch = newFakeChannel(roomId)
		f.channels[roomId] = ch
	}
	return ch
}

// testEnv wires a Handler over in-memory stores and a recording notifier.
type testEnv struct {
	handler   *Handler
	engine    *gin.Engine
	rooms     *game.RoomService
	notifier  *fakeNotifier
	roomStore *fakeRoomStore
	logStore  *fakeLogStore
	mapStore  *fakeMapStore
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithTokens(t, nil)
}

func newTestEnvWithTokens(t *testing.T, serviceTokens *auth.ServiceTokenValidator) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	roomStore := newFakeRoomStore()
	logStore := newFakeLogStore()
	mapStore := newFakeMapStore()
	rooms := game.NewRoomService(roomStore, nil)
	logs := game.NewAdventureLogService(logStore, 0)
	maps := game.NewMapService(mapStore, roomStore, nil)
	notifier := newFakeNotifier()

	handler := NewHandler(rooms, maps, logs, notifier)
	engine := gin.New()
	handler.Register(engine, serviceTokens)

	return &testEnv{
		handler:   handler,
		engine:    engine,
		rooms:     rooms,
		notifier:  notifier,
		roomStore: roomStore,
		logStore:  logStore,
		mapStore:  mapStore,
	}
}

func (e *testEnv) seedRoom(t *testing.T, id types.RoomIdType, maxPlayers int) *types.Room {
	t.Helper()
	room, err := e.rooms.CreateRoom(context.Background(), game.RoomSettings{
		RoomID:     id,
		MaxPlayers: maxPlayers,
		HostName:   "Alice",
		DMName:     "Bob",
	})
	require.NoError(t, err)
	return room
}

func (e *testEnv) seatPlayers(t *testing.T, id types.RoomIdType, layout []string) {
	t.Helper()
	_, err := e.rooms.UpdateSeatLayout(context.Background(), id, layout)
	require.NoError(t, err)
}

// do runs one request through the engine, marshaling body when non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithHeader(t, method, path, body, nil)
}

func (e *testEnv) doWithHeader(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}
