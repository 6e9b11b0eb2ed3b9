package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/store"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRoomService(_ *testing.T) (*RoomService, *fakeRoomStore) {
	fake := newFakeRoomStore()
	svc := NewRoomService(fake, nil)
	svc.now = func() time.Time { return testTime }
	return svc, fake
}

func seedRoom(t *testing.T, svc *RoomService, id types.RoomIdType, maxPlayers int) *types.Room {
	t.Helper()
	room, err := svc.CreateRoom(context.Background(), RoomSettings{
		RoomID:     id,
		MaxPlayers: maxPlayers,
		HostName:   "Alice",
		DMName:     "Bob",
	})
	require.NoError(t, err)
	return room
}

func TestCreateRoom_Defaults(t *testing.T) {
	svc, _ := newTestRoomService(t)

	room, err := svc.CreateRoom(context.Background(), RoomSettings{
		MaxPlayers: 4,
		HostName:   "Alice",
		DMName:     "The DM",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, room.ID)
	assert.Equal(t, "alice", room.RoomHost)
	assert.Equal(t, "the dm", room.DungeonMaster)
	assert.Equal(t, []string{"empty", "empty", "empty", "empty"}, room.SeatLayout)
	assert.Empty(t, room.Moderators)
	assert.Equal(t, testTime, room.CreatedAt)

	require.Contains(t, room.AudioState, "bgm")
	require.Contains(t, room.AudioState, "sfx")
	assert.Equal(t, types.PlaybackStopped, room.AudioState["bgm"].PlaybackState)
	assert.True(t, room.AudioState["bgm"].Looping)
	assert.Equal(t, types.PlaybackStopped, room.AudioState["sfx"].PlaybackState)
}

func TestCreateRoom_CallerChosenIDConflict(t *testing.T) {
	svc, _ := newTestRoomService(t)

	room := seedRoom(t, svc, "room-1", 4)
	assert.Equal(t, types.RoomIdType("room-1"), room.ID)

	_, err := svc.CreateRoom(context.Background(), RoomSettings{RoomID: "room-1", MaxPlayers: 4})
	assert.ErrorIs(t, err, store.ErrRoomExists)
}

func TestCreateRoom_InvalidMaxPlayers(t *testing.T) {
	svc, _ := newTestRoomService(t)

	for _, n := range []int{0, -1, 9} {
		_, err := svc.CreateRoom(context.Background(), RoomSettings{MaxPlayers: n})
		assert.True(t, IsValidation(err), "max_players=%d should be rejected", n)
	}
}

func TestGetRoom_NotFound(t *testing.T) {
	svc, _ := newTestRoomService(t)

	_, err := svc.GetRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrRoomNotFound)
}

func TestUpdateSeatLayout_NormalizesAndPads(t *testing.T) {
	svc, fake := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)

	fitted, err := svc.UpdateSeatLayout(context.Background(), "room-1", []string{"Alice", "BOB"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "empty", "empty"}, fitted)

	stored, err := fake.GetRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, fitted, stored.SeatLayout)
}

func TestUpdateSeatLayout_TooLong(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 2)

	_, err := svc.UpdateSeatLayout(context.Background(), "room-1", []string{"a", "b", "c"})
	assert.True(t, IsValidation(err))
}

func TestUpdateSeatCount_ShrinkDisplacesOccupants(t *testing.T) {
	svc, fake := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)
	_, err := svc.UpdateSeatLayout(context.Background(), "room-1", []string{"alice", "bob", "carol", "dan"})
	require.NoError(t, err)

	change, err := svc.UpdateSeatCount(context.Background(), "room-1", 2)
	require.NoError(t, err)

	assert.Equal(t, 2, change.MaxPlayers)
	assert.Equal(t, []string{"alice", "bob"}, change.SeatLayout)
	assert.Equal(t, []types.PlayerNameType{"carol", "dan"}, change.Displaced)
	assert.Equal(t, []int{2, 3}, change.SeatIDs)

	stored, err := fake.GetRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.MaxPlayers)
	assert.Equal(t, []string{"alice", "bob"}, stored.SeatLayout)
}

func TestUpdateSeatCount_GrowPadsWithEmpties(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 2)
	_, err := svc.UpdateSeatLayout(context.Background(), "room-1", []string{"alice", "bob"})
	require.NoError(t, err)

	change, err := svc.UpdateSeatCount(context.Background(), "room-1", 4)
	require.NoError(t, err)

	assert.Empty(t, change.Displaced)
	assert.Equal(t, []string{"alice", "bob", "empty", "empty"}, change.SeatLayout)
}

func TestUpdateSeatCount_Bounds(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)

	_, err := svc.UpdateSeatCount(context.Background(), "room-1", 0)
	assert.True(t, IsValidation(err))
	_, err = svc.UpdateSeatCount(context.Background(), "room-1", 9)
	assert.True(t, IsValidation(err))
}

func TestSetSeatColor_MergesSingleIndex(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)
	require.NoError(t, svc.UpdateSeatColors(context.Background(), "room-1", map[string]string{"0": "#ff0000"}))

	merged, err := svc.SetSeatColor(context.Background(), "room-1", 1, "#00ff00")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "#ff0000", "1": "#00ff00"}, merged)
}

func TestSetSeatColor_InvalidColorLeavesStateUntouched(t *testing.T) {
	svc, fake := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)
	require.NoError(t, svc.UpdateSeatColors(context.Background(), "room-1", map[string]string{"0": "#ff0000"}))

	_, err := svc.SetSeatColor(context.Background(), "room-1", 0, "red")
	assert.True(t, IsValidation(err))

	stored, err := fake.GetRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "#ff0000"}, stored.SeatColors)
}

func TestSetSeatColor_IndexOutOfRange(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 2)

	_, err := svc.SetSeatColor(context.Background(), "room-1", 2, "#00ff00")
	assert.True(t, IsValidation(err))
	_, err = svc.SetSeatColor(context.Background(), "room-1", -1, "#00ff00")
	assert.True(t, IsValidation(err))
}

func TestClearPlayerSeat(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)
	_, err := svc.UpdateSeatLayout(context.Background(), "room-1", []string{"alice", "bob", "alice", "empty"})
	require.NoError(t, err)

	layout, changed, err := svc.ClearPlayerSeat(context.Background(), "room-1", "alice")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"empty", "bob", "empty", "empty"}, layout)

	_, changed, err = svc.ClearPlayerSeat(context.Background(), "room-1", "alice")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestModerators_AddRemoveIdempotent(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)

	room, err := svc.AddModerator(context.Background(), "room-1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, room.Moderators)

	room, err = svc.AddModerator(context.Background(), "room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, room.Moderators)

	room, err = svc.AddModerator(context.Background(), "room-1", "Carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, room.Moderators)

	room, err = svc.RemoveModerator(context.Background(), "room-1", "BOB")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, room.Moderators)

	room, err = svc.RemoveModerator(context.Background(), "room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, room.Moderators)
}

func TestSetDungeonMaster_AssignAndClear(t *testing.T) {
	svc, fake := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)

	room, err := svc.SetDungeonMaster(context.Background(), "room-1", "Carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", room.DungeonMaster)

	room, err = svc.SetDungeonMaster(context.Background(), "room-1", "")
	require.NoError(t, err)
	assert.Equal(t, "", room.DungeonMaster)

	stored, err := fake.GetRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "", stored.DungeonMaster)
}

func TestUpdateCharacter_Validates(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)

	err := svc.UpdateCharacter(context.Background(), "room-1", "alice", types.CharacterSheet{})
	assert.True(t, IsValidation(err))

	err = svc.UpdateCharacter(context.Background(), "room-1", "", types.CharacterSheet{CharacterName: "Grog"})
	assert.True(t, IsValidation(err))

	err = svc.UpdateCharacter(context.Background(), "room-1", "Alice", types.CharacterSheet{CharacterName: "Grog"})
	require.NoError(t, err)

	room, err := svc.GetRoom(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, "Grog", room.Characters["alice"].CharacterName)
}

func TestDeleteRoom(t *testing.T) {
	svc, _ := newTestRoomService(t)
	seedRoom(t, svc, "room-1", 4)

	require.NoError(t, svc.DeleteRoom(context.Background(), "room-1"))
	err := svc.DeleteRoom(context.Background(), "room-1")
	assert.True(t, errors.Is(err, store.ErrRoomNotFound))
}
