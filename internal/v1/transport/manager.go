package transport

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/metrics"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"

	"go.uber.org/zap"
)

// DefaultReconnectGrace is how long a dropped player keeps their presence
// entry before the room is told they left.
const DefaultReconnectGrace = 30 * time.Second

// playerPresence is the ephemeral connection state for one player in one
// room. The socket is nil while the player is inside the reconnect grace
// window.
type playerPresence struct {
	socket  *Client
	inParty bool
	status  types.ConnectionStatusType
}

// ConnectionManager tracks every live WebSocket by (room, player) and owns
// the reconnect grace machinery. Dropped sockets schedule an eviction timer;
// a reconnect before expiry cancels it and the room never learns the player
// was gone. Eviction removes presence and reports the departure to the game
// router exactly once.
//
// All state is guarded by a single mutex. Socket writes never happen under
// the lock: broadcasts snapshot the socket list first, and Client.SendRaw is
// non-blocking.
type ConnectionManager struct {
	mu           sync.Mutex
	presence     map[types.RoomIdType]map[types.PlayerNameType]*playerPresence
	removalTasks map[types.RoomIdType]map[types.PlayerNameType]*time.Timer

	router types.GameRouter
	grace  time.Duration
}

// NewConnectionManager wires the manager to the game router that receives
// eviction callbacks. A non-positive grace falls back to the default.
func NewConnectionManager(router types.GameRouter, grace time.Duration) *ConnectionManager {
	if grace <= 0 {
		grace = DefaultReconnectGrace
	}
	return &ConnectionManager{
		presence:     make(map[types.RoomIdType]map[types.PlayerNameType]*playerPresence),
		removalTasks: make(map[types.RoomIdType]map[types.PlayerNameType]*time.Timer),
		router:       router,
		grace:        grace,
	}
}

// Room returns the fan-out handle for a room. Implements types.Notifier.
func (m *ConnectionManager) Room(roomId types.RoomIdType) types.RoomChannel {
	return &RoomManager{cm: m, roomId: roomId}
}

// Accept registers a freshly upgraded socket. It cancels any pending
// eviction for the player, replaces a still-live previous socket (second
// tab, stale connection), and announces the updated lobby roster.
func (m *ConnectionManager) Accept(ctx context.Context, client *Client) {
	roomId, player := client.roomId, client.playerName

	m.mu.Lock()
	m.cancelRemovalLocked(roomId, player)

	room, ok := m.presence[roomId]
	if !ok {
		room = make(map[types.PlayerNameType]*playerPresence)
		m.presence[roomId] = room
		metrics.ActiveRooms.Inc()
	}

	var replaced *Client
	if existing, ok := room[player]; ok {
		if existing.socket != nil && existing.socket != client {
			replaced = existing.socket
		}
		existing.socket = client
		existing.status = types.ConnectionStatusConnected
	} else {
		room[player] = &playerPresence{
			socket: client,
			status: types.ConnectionStatusConnected,
		}
	}
	metrics.RoomPlayers.WithLabelValues(string(roomId)).Set(float64(len(room)))
	m.mu.Unlock()

	metrics.IncConnection()

	if replaced != nil {
		logging.Info(ctx, "Replacing existing socket for player",
			zap.String("room_id", string(roomId)),
			zap.String("player_name", string(player)))
		replaced.Disconnect()
	}

	logging.Info(ctx, "✅ Player connected",
		zap.String("room_id", string(roomId)),
		zap.String("player_name", string(player)))

	m.broadcastLobbyUpdate(ctx, roomId)
}

// Remove is called by a closing readPump. If the socket is still the one on
// record, the player enters the reconnect grace window: status flips to
// disconnecting, the socket slot is cleared, and eviction is scheduled. A
// socket already replaced by a reconnect, or already evicted by a kick, is
// ignored.
func (m *ConnectionManager) Remove(ctx context.Context, client *Client) {
	roomId, player := client.roomId, client.playerName

	m.mu.Lock()
	p, ok := m.presence[roomId][player]
	if !ok || p.socket != client {
		m.mu.Unlock()
		return
	}
	p.socket = nil
	p.status = types.ConnectionStatusDisconnecting

	m.cancelRemovalLocked(roomId, player)
	tasks, ok := m.removalTasks[roomId]
	if !ok {
		tasks = make(map[types.PlayerNameType]*time.Timer)
		m.removalTasks[roomId] = tasks
	}
	tasks[player] = time.AfterFunc(m.grace, func() {
		m.evict(roomId, player)
	})
	m.mu.Unlock()

	// The socket is dead; only the presence entry lives on. Closing the send
	// channel ends the write pump.
	client.Disconnect()

	logging.Info(ctx, "Player dropped, starting reconnect grace",
		zap.String("room_id", string(roomId)),
		zap.String("player_name", string(player)),
		zap.Duration("grace", m.grace))

	m.broadcastLobbyUpdate(ctx, roomId)
}

// evict fires when the grace timer expires without a reconnect. It deletes
// the presence entry, tells the game router the player is gone, and sends
// one final lobby update with the shrunken roster.
func (m *ConnectionManager) evict(roomId types.RoomIdType, player types.PlayerNameType) {
	m.mu.Lock()
	if tasks, ok := m.removalTasks[roomId]; ok {
		delete(tasks, player)
		if len(tasks) == 0 {
			delete(m.removalTasks, roomId)
		}
	}

	p, ok := m.presence[roomId][player]
	if !ok || p.socket != nil {
		// Reconnected while the timer was firing.
		m.mu.Unlock()
		return
	}
	m.deletePresenceLocked(roomId, player)
	m.mu.Unlock()

	ctx := logging.WithRoom(context.Background(), string(roomId))
	ctx = logging.WithPlayer(ctx, string(player))
	logging.Info(ctx, "Reconnect grace expired, evicting player")

	m.router.HandleDisconnect(ctx, &evictedClient{roomId: roomId, player: player}, m.Room(roomId))

	m.broadcastLobbyUpdate(ctx, roomId)
}

// DisconnectPlayer evicts a player immediately, skipping the grace window.
// The kicked socket is closed after its queued frames (the kick notice) have
// drained. The game router is not called back: the kick handler has already
// logged the removal and cleared the seat.
func (m *ConnectionManager) DisconnectPlayer(ctx context.Context, roomId types.RoomIdType, player types.PlayerNameType) {
	m.mu.Lock()
	m.cancelRemovalLocked(roomId, player)
	p, ok := m.presence[roomId][player]
	if !ok {
		m.mu.Unlock()
		return
	}
	socket := p.socket
	m.deletePresenceLocked(roomId, player)
	m.mu.Unlock()

	if socket != nil {
		socket.DisconnectWithReason("Removed from room")
	}

	logging.Info(ctx, "Player forcibly disconnected",
		zap.String("room_id", string(roomId)),
		zap.String("player_name", string(player)))

	m.broadcastLobbyUpdate(ctx, roomId)
}

// UpdatePartyStatus flips a player's seated flag. Unknown players are
// ignored; the roster broadcast is the caller's responsibility.
func (m *ConnectionManager) UpdatePartyStatus(roomId types.RoomIdType, player types.PlayerNameType, inParty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.presence[roomId][player]; ok {
		p.inParty = inParty
	}
}

// SyncPartyFromSeats recomputes every tracked player's party flag from a
// seat layout. Callers broadcast the roster afterwards.
func (m *ConnectionManager) SyncPartyFromSeats(ctx context.Context, roomId types.RoomIdType, seats []string) {
	seated := make(map[types.PlayerNameType]bool, len(seats))
	for _, seat := range seats {
		name := types.NormalizePlayerName(seat)
		if name != "" && string(name) != types.SeatEmpty {
			seated[name] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for player, p := range m.presence[roomId] {
		p.inParty = seated[player]
	}
}

// SendToPlayer delivers a frame to one player's socket. Returns false when
// the player has no live socket in the room.
func (m *ConnectionManager) SendToPlayer(ctx context.Context, roomId types.RoomIdType, player types.PlayerNameType, data []byte) bool {
	m.mu.Lock()
	p, ok := m.presence[roomId][player]
	var socket *Client
	if ok {
		socket = p.socket
	}
	m.mu.Unlock()

	if socket == nil {
		logging.Debug(ctx, "No live socket for player, dropping unicast",
			zap.String("room_id", string(roomId)),
			zap.String("player_name", string(player)))
		return false
	}
	socket.SendRaw(data)
	return true
}

// BroadcastToRoom fans a frame out to every live socket in the room. Sockets
// are snapshotted under the lock; the non-blocking writes happen outside it.
func (m *ConnectionManager) BroadcastToRoom(ctx context.Context, roomId types.RoomIdType, data []byte) {
	sockets := m.roomSocketsLocked(roomId)

	for _, socket := range sockets {
		socket.SendRaw(data)
	}
	metrics.BroadcastFanout.WithLabelValues(peekEventType(data)).Observe(float64(len(sockets)))
}

// BroadcastLobbyUpdate pushes the connected-but-unseated roster to the whole
// room. Players inside the grace window appear with a disconnecting status.
func (m *ConnectionManager) BroadcastLobbyUpdate(ctx context.Context, roomId types.RoomIdType) {
	m.broadcastLobbyUpdate(ctx, roomId)
}

func (m *ConnectionManager) broadcastLobbyUpdate(ctx context.Context, roomId types.RoomIdType) {
	m.mu.Lock()
	roster := make([]events.LobbyPlayer, 0, len(m.presence[roomId]))
	for player, p := range m.presence[roomId] {
		if p.inParty {
			continue
		}
		roster = append(roster, events.LobbyPlayer{
			PlayerName: string(player),
			Status:     p.status,
		})
	}
	m.mu.Unlock()

	sort.Slice(roster, func(i, j int) bool { return roster[i].PlayerName < roster[j].PlayerName })

	frame, err := events.New(events.EventLobbyUpdate, events.LobbyUpdateData{Players: roster})
	if err != nil {
		logging.Error(ctx, "Failed to build lobby_update frame", zap.Error(err))
		return
	}
	data, err := frame.Encode()
	if err != nil {
		logging.Error(ctx, "Failed to encode lobby_update frame", zap.Error(err))
		return
	}
	m.BroadcastToRoom(ctx, roomId, data)
}

// ConnectedPlayers lists every player tracked in the room, including those
// still inside the reconnect grace window. Sorted for stable output.
func (m *ConnectionManager) ConnectedPlayers(roomId types.RoomIdType) []types.PlayerNameType {
	m.mu.Lock()
	players := make([]types.PlayerNameType, 0, len(m.presence[roomId]))
	for player := range m.presence[roomId] {
		players = append(players, player)
	}
	m.mu.Unlock()

	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })
	return players
}

// CloseRoomConnections tears down every socket in a room with a reasoned
// close frame and forgets all of its presence. Used when a session ends.
func (m *ConnectionManager) CloseRoomConnections(roomId types.RoomIdType, reason string) {
	m.mu.Lock()
	if tasks, ok := m.removalTasks[roomId]; ok {
		for _, timer := range tasks {
			timer.Stop()
		}
		delete(m.removalTasks, roomId)
	}

	room := m.presence[roomId]
	sockets := make([]*Client, 0, len(room))
	for _, p := range room {
		if p.socket != nil {
			sockets = append(sockets, p.socket)
		}
	}
	if room != nil {
		delete(m.presence, roomId)
		metrics.ActiveRooms.Dec()
		metrics.RoomPlayers.DeleteLabelValues(string(roomId))
	}
	m.mu.Unlock()

	for _, socket := range sockets {
		socket.DisconnectWithReason(reason)
	}

	if len(sockets) > 0 {
		logging.Info(context.Background(), "Closed room connections",
			zap.String("room_id", string(roomId)),
			zap.String("reason", reason),
			zap.Int("sockets", len(sockets)))
	}
}

// CloseAll tears down every room. Called on server shutdown.
func (m *ConnectionManager) CloseAll(reason string) {
	m.mu.Lock()
	roomIds := make([]types.RoomIdType, 0, len(m.presence))
	for roomId := range m.presence {
		roomIds = append(roomIds, roomId)
	}
	m.mu.Unlock()

	for _, roomId := range roomIds {
		m.CloseRoomConnections(roomId, reason)
	}
}

// cancelRemovalLocked stops a pending eviction timer. Caller holds the lock.
func (m *ConnectionManager) cancelRemovalLocked(roomId types.RoomIdType, player types.PlayerNameType) {
	tasks, ok := m.removalTasks[roomId]
	if !ok {
		return
	}
	if timer, ok := tasks[player]; ok {
		timer.Stop()
		delete(tasks, player)
	}
	if len(tasks) == 0 {
		delete(m.removalTasks, roomId)
	}
}

// deletePresenceLocked drops a presence entry and keeps the gauges honest.
// Caller holds the lock.
func (m *ConnectionManager) deletePresenceLocked(roomId types.RoomIdType, player types.PlayerNameType) {
	room, ok := m.presence[roomId]
	if !ok {
		return
	}
	delete(room, player)
	if len(room) == 0 {
		delete(m.presence, roomId)
		metrics.ActiveRooms.Dec()
		metrics.RoomPlayers.DeleteLabelValues(string(roomId))
		return
	}
	metrics.RoomPlayers.WithLabelValues(string(roomId)).Set(float64(len(room)))
}

// roomSocketsLocked snapshots the live sockets of a room.
func (m *ConnectionManager) roomSocketsLocked(roomId types.RoomIdType) []*Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	sockets := make([]*Client, 0, len(m.presence[roomId]))
	for _, p := range m.presence[roomId] {
		if p.socket != nil {
			sockets = append(sockets, p.socket)
		}
	}
	return sockets
}

// peekEventType pulls the event_type out of an encoded frame for metric
// labels without decoding the payload.
func peekEventType(data []byte) string {
	var head struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.EventType == "" {
		return "unknown"
	}
	return head.EventType
}

// evictedClient stands in for a socket that is already gone when the grace
// period expires, carrying just the identity the router callbacks need.
type evictedClient struct {
	roomId types.RoomIdType
	player types.PlayerNameType
}

func (e *evictedClient) GetRoomId() types.RoomIdType         { return e.roomId }
func (e *evictedClient) GetPlayerName() types.PlayerNameType { return e.player }
func (e *evictedClient) SendRaw([]byte)                      {}
func (e *evictedClient) Disconnect()                         {}

// RoomManager scopes the ConnectionManager to one room. It implements
// types.RoomChannel for event handlers and HTTP routes.
type RoomManager struct {
	cm     *ConnectionManager
	roomId types.RoomIdType
}

func (r *RoomManager) RoomId() types.RoomIdType {
	return r.roomId
}

func (r *RoomManager) Broadcast(ctx context.Context, data []byte) {
	r.cm.BroadcastToRoom(ctx, r.roomId, data)
}

func (r *RoomManager) SendToPlayer(ctx context.Context, player types.PlayerNameType, data []byte) bool {
	return r.cm.SendToPlayer(ctx, r.roomId, player, data)
}

func (r *RoomManager) BroadcastLobbyUpdate(ctx context.Context) {
	r.cm.BroadcastLobbyUpdate(ctx, r.roomId)
}

func (r *RoomManager) SetPartyStatus(player types.PlayerNameType, inParty bool) {
	r.cm.UpdatePartyStatus(r.roomId, player, inParty)
}

func (r *RoomManager) SyncPartyFromSeats(ctx context.Context, seats []string) {
	r.cm.SyncPartyFromSeats(ctx, r.roomId, seats)
}

func (r *RoomManager) ConnectedPlayers() []types.PlayerNameType {
	return r.cm.ConnectedPlayers(r.roomId)
}

func (r *RoomManager) DisconnectPlayer(ctx context.Context, player types.PlayerNameType) {
	r.cm.DisconnectPlayer(ctx, r.roomId, player)
}

func (r *RoomManager) CloseRoom(reason string) {
	r.cm.CloseRoomConnections(r.roomId, reason)
}
