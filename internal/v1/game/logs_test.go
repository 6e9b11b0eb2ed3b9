package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

func newTestLogService(maxLogs int) (*AdventureLogService, *fakeLogStore) {
	fake := newFakeLogStore()
	svc := NewAdventureLogService(fake, maxLogs)
	svc.now = func() time.Time { return testTime }
	return svc, fake
}

func TestNextLogID_MonotonicWithinSameMicrosecond(t *testing.T) {
	svc, _ := newTestLogService(10)

	first := svc.nextLogID()
	second := svc.nextLogID()
	third := svc.nextLogID()

	assert.Equal(t, types.LogIdType(testTime.UnixMicro()), first)
	assert.Equal(t, first+1, second)
	assert.Equal(t, second+1, third)
}

func TestAddEntry_DefaultsAndNormalizes(t *testing.T) {
	svc, fake := newTestLogService(10)

	entry, err := svc.AddEntry(context.Background(), "room-1", "hello", "", "ALICE", "")
	require.NoError(t, err)

	assert.Equal(t, types.LogTypeSystem, entry.Type)
	assert.Equal(t, types.PlayerNameType("alice"), entry.PlayerName)
	assert.Equal(t, testTime, entry.Timestamp)

	count, err := fake.CountLogs(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddEntry_Validates(t *testing.T) {
	svc, _ := newTestLogService(10)

	_, err := svc.AddEntry(context.Background(), "", "hello", types.LogTypeSystem, "alice", "")
	assert.True(t, IsValidation(err))

	_, err = svc.AddEntry(context.Background(), "room-1", "", types.LogTypeSystem, "alice", "")
	assert.True(t, IsValidation(err))
}

func TestLogRetention_OldestPruned(t *testing.T) {
	svc, _ := newTestLogService(5)

	var last *types.LogEntry
	for i := 0; i < 8; i++ {
		entry, err := svc.AddEntry(context.Background(), "room-1", "message", types.LogTypeSystem, "alice", "")
		require.NoError(t, err)
		last = entry
	}

	entries, err := svc.GetRoomLogs(context.Background(), "room-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, last.LogID, entries[0].LogID, "newest entry first")
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i].LogID, entries[i-1].LogID)
	}
}

func TestGetRoomLogs_ClampsArguments(t *testing.T) {
	svc, _ := newTestLogService(5)
	for i := 0; i < 5; i++ {
		_, err := svc.AddEntry(context.Background(), "room-1", "message", types.LogTypeSystem, "alice", "")
		require.NoError(t, err)
	}

	entries, err := svc.GetRoomLogs(context.Background(), "room-1", 100, -3)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	entries, err = svc.GetRoomLogs(context.Background(), "room-1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRemoveByPromptId(t *testing.T) {
	svc, _ := newTestLogService(10)
	_, err := svc.AddEntry(context.Background(), "room-1", "roll for it", types.LogTypeDicePrompt, "bob", "p1")
	require.NoError(t, err)
	_, err = svc.AddEntry(context.Background(), "room-1", "unrelated", types.LogTypeSystem, "", "")
	require.NoError(t, err)

	removed, err := svc.RemoveByPromptId(context.Background(), "room-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = svc.RemoveByPromptId(context.Background(), "room-1", "p1")
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = svc.RemoveByPromptId(context.Background(), "room-1", "")
	assert.True(t, IsValidation(err))
}

func TestClearSystemAndAll(t *testing.T) {
	svc, _ := newTestLogService(10)
	_, err := svc.AddEntry(context.Background(), "room-1", "sys", types.LogTypeSystem, "", "")
	require.NoError(t, err)
	_, err = svc.AddEntry(context.Background(), "room-1", "roll", types.LogTypePlayerRoll, "alice", "")
	require.NoError(t, err)

	removed, err := svc.ClearSystemMessages(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := svc.Count(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err = svc.ClearAll(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
