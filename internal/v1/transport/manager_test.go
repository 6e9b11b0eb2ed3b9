package transport

import (
	"context"
	"testing"
	"time"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/events"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptTracksPresenceAndBroadcastsRoster(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	ctx := context.Background()

	alice := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, alice)
	bob := newFakeClient(m, "room-1", "bob")
	m.Accept(ctx, bob)

	assert.Equal(t, []types.PlayerNameType{"alice", "bob"}, m.ConnectedPlayers("room-1"))

	// Bob's arrival pushed a fresh roster to every live socket.
	roster := lastLobbyRoster(drainFrames(alice))
	require.Len(t, roster, 2)
	assert.Equal(t, "alice", roster[0].PlayerName)
	assert.Equal(t, types.ConnectionStatusConnected, roster[0].Status)
	assert.Equal(t, "bob", roster[1].PlayerName)
	assert.Equal(t, types.ConnectionStatusConnected, roster[1].Status)
}

func TestRemoveStartsGraceThenEvicts(t *testing.T) {
	m, router := newTestManager(t, 25*time.Millisecond)
	ctx := context.Background()

	alice := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, alice)
	bob := newFakeClient(m, "room-1", "bob")
	m.Accept(ctx, bob)
	drainFrames(bob)

	m.Remove(ctx, alice)

	// Alice is still tracked, but the roster flags her as disconnecting.
	assert.Equal(t, []types.PlayerNameType{"alice", "bob"}, m.ConnectedPlayers("room-1"))
	roster := lastLobbyRoster(drainFrames(bob))
	require.Len(t, roster, 2)
	assert.Equal(t, "alice", roster[0].PlayerName)
	assert.Equal(t, types.ConnectionStatusDisconnecting, roster[0].Status)
	assert.Equal(t, types.ConnectionStatusConnected, roster[1].Status)

	// Grace expires: presence drops, the router hears about it, and one
	// final roster goes out without her.
	var finalRoster []events.LobbyPlayer
	require.Eventually(t, func() bool {
		if roster := lastLobbyRoster(drainFrames(bob)); roster != nil {
			finalRoster = roster
		}
		return len(finalRoster) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "bob", finalRoster[0].PlayerName)
	assert.Equal(t, []types.PlayerNameType{"alice"}, router.disconnectedPlayers())
	assert.Equal(t, []types.PlayerNameType{"bob"}, m.ConnectedPlayers("room-1"))
}

func TestReconnectWithinGraceCancelsEviction(t *testing.T) {
	m, router := newTestManager(t, 40*time.Millisecond)
	ctx := context.Background()

	first := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, first)
	bob := newFakeClient(m, "room-1", "bob")
	m.Accept(ctx, bob)
	drainFrames(bob)

	m.Remove(ctx, first)
	roster := lastLobbyRoster(drainFrames(bob))
	require.Len(t, roster, 2)
	assert.Equal(t, types.ConnectionStatusDisconnecting, roster[0].Status)

	// Reconnect on a new socket before the grace runs out.
	second := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, second)

	roster = lastLobbyRoster(drainFrames(bob))
	require.Len(t, roster, 2)
	assert.Equal(t, "alice", roster[0].PlayerName)
	assert.Equal(t, types.ConnectionStatusConnected, roster[0].Status)

	// Wait well past the original deadline: the eviction never fires.
	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, router.disconnectedPlayers())
	assert.Equal(t, []types.PlayerNameType{"alice", "bob"}, m.ConnectedPlayers("room-1"))
	assert.True(t, m.SendToPlayer(ctx, "room-1", "alice", []byte(`{"event_type":"map_clear"}`)))
}

func TestAcceptReplacesLiveSocket(t *testing.T) {
	m, router := newTestManager(t, 20*time.Millisecond)
	ctx := context.Background()

	first := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, first)
	second := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, second)

	// The stale socket was shut down.
	drainFrames(first)
	_, open := <-first.send
	assert.False(t, open)

	// Its read pump closing afterwards must not start a grace window.
	m.Remove(ctx, first)
	assert.Equal(t, []types.PlayerNameType{"alice"}, m.ConnectedPlayers("room-1"))

	require.True(t, m.SendToPlayer(ctx, "room-1", "alice", []byte(`{"event_type":"map_clear"}`)))
	frames := drainFrames(second)
	require.NotEmpty(t, frames)
	assert.Equal(t, events.EventMapClear, frames[len(frames)-1].EventType)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, router.disconnectedPlayers())
}

func TestDisconnectPlayerSkipsGraceAndRouterCallback(t *testing.T) {
	m, router := newTestManager(t, time.Second)
	ctx := context.Background()

	alice := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, alice)
	bob := newFakeClient(m, "room-1", "bob")
	m.Accept(ctx, bob)
	drainFrames(bob)

	m.DisconnectPlayer(ctx, "room-1", "alice")

	assert.Equal(t, []types.PlayerNameType{"bob"}, m.ConnectedPlayers("room-1"))
	assert.Empty(t, router.disconnectedPlayers())

	// The kicked socket is closed with a reason for the close frame.
	drainFrames(alice)
	_, open := <-alice.send
	assert.False(t, open)
	alice.mu.RLock()
	reason := alice.closeReason
	alice.mu.RUnlock()
	assert.Equal(t, "Removed from room", reason)

	roster := lastLobbyRoster(drainFrames(bob))
	require.Len(t, roster, 1)
	assert.Equal(t, "bob", roster[0].PlayerName)
}

func TestDisconnectPlayerUnknownIsNoop(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.DisconnectPlayer(ctx, "room-1", "ghost")
	})
}

func TestBroadcastStaysInsideRoom(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	ctx := context.Background()

	alice := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, alice)
	bob := newFakeClient(m, "room-2", "bob")
	m.Accept(ctx, bob)
	drainFrames(alice)
	drainFrames(bob)

	frame, err := events.New(events.EventCombatState, events.CombatStateData{InCombat: true})
	require.NoError(t, err)
	data, err := frame.Encode()
	require.NoError(t, err)
	m.BroadcastToRoom(ctx, "room-1", data)

	aliceFrames := drainFrames(alice)
	require.Len(t, aliceFrames, 1)
	assert.Equal(t, events.EventCombatState, aliceFrames[0].EventType)
	assert.Empty(t, drainFrames(bob))
}

func TestSendToPlayerReportsDelivery(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	ctx := context.Background()

	alice := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, alice)
	drainFrames(alice)

	assert.True(t, m.SendToPlayer(ctx, "room-1", "alice", []byte(`{"event_type":"player_kicked"}`)))
	assert.False(t, m.SendToPlayer(ctx, "room-1", "ghost", []byte(`{}`)))
	assert.False(t, m.SendToPlayer(ctx, "room-9", "alice", []byte(`{}`)))

	// A player inside the grace window has no socket to reach.
	m.Remove(ctx, alice)
	assert.False(t, m.SendToPlayer(ctx, "room-1", "alice", []byte(`{}`)))
}

func TestSyncPartyFromSeatsFiltersRoster(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	ctx := context.Background()

	alice := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, alice)
	bob := newFakeClient(m, "room-1", "bob")
	m.Accept(ctx, bob)
	carol := newFakeClient(m, "room-1", "carol")
	m.Accept(ctx, carol)
	drainFrames(carol)

	// Alice takes a seat; the lobby roster is everyone else.
	m.SyncPartyFromSeats(ctx, "room-1", []string{"Alice", types.SeatEmpty, ""})
	m.BroadcastLobbyUpdate(ctx, "room-1")

	roster := lastLobbyRoster(drainFrames(carol))
	require.Len(t, roster, 2)
	assert.Equal(t, "bob", roster[0].PlayerName)
	assert.Equal(t, "carol", roster[1].PlayerName)

	// Standing up puts her back in the lobby.
	m.SyncPartyFromSeats(ctx, "room-1", []string{types.SeatEmpty, types.SeatEmpty, types.SeatEmpty})
	m.BroadcastLobbyUpdate(ctx, "room-1")

	roster = lastLobbyRoster(drainFrames(carol))
	require.Len(t, roster, 3)
	assert.Equal(t, "alice", roster[0].PlayerName)
}

func TestCloseRoomConnectionsTearsDownOneRoom(t *testing.T) {
	m, _ := newTestManager(t, time.Second)
	ctx := context.Background()

	alice := newFakeClient(m, "room-1", "alice")
	m.Accept(ctx, alice)
	bob := newFakeClient(m, "room-1", "bob")
	m.Accept(ctx, bob)
	carol := newFakeClient(m, "room-2", "carol")
	m.Accept(ctx, carol)

	m.CloseRoomConnections("room-1", "Session ended")

	assert.Empty(t, m.ConnectedPlayers("room-1"))
	assert.Equal(t, []types.PlayerNameType{"carol"}, m.ConnectedPlayers("room-2"))

	for _, c := range []*Client{alice, bob} {
		drainFrames(c)
		_, open := <-c.send
		assert.False(t, open)
		c.mu.RLock()
		assert.Equal(t, "Session ended", c.closeReason)
		c.mu.RUnlock()
	}
}

func TestRemoveUnknownSocketIsNoop(t *testing.T) {
	m, router := newTestManager(t, 10*time.Millisecond)
	ctx := context.Background()

	stray := newFakeClient(m, "room-1", "alice")
	assert.NotPanics(t, func() { m.Remove(ctx, stray) })

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, router.disconnectedPlayers())
	assert.Empty(t, m.ConnectedPlayers("room-1"))
}
