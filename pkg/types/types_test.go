package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpaqueIDUnmarshal(t *testing.T) {
	t.Run("string ids", func(t *testing.T) {
		var msg RoomMessage
		require.NoError(t, json.Unmarshal([]byte(`{"room": "main", "id": "feed-a"}`), &msg))
		require.Equal(t, RoomID("main"), msg.Room)
		require.Equal(t, FeedID("feed-a"), msg.ID)
	})

	t.Run("numeric ids", func(t *testing.T) {
		var msg RoomMessage
		require.NoError(t, json.Unmarshal([]byte(`{"room": 1234, "id": 98765432109876}`), &msg))
		require.Equal(t, RoomID("1234"), msg.Room)
		// Large ids must not lose precision through a float round trip.
		require.Equal(t, FeedID("98765432109876"), msg.ID)
	})

	t.Run("rejects other types", func(t *testing.T) {
		var id FeedID
		require.Error(t, json.Unmarshal([]byte(`{"x": 1}`), &id))
	})
}

func TestRoomMessageUnmarshal(t *testing.T) {
	raw := `{
		"videoroom": "event",
		"room": 77,
		"unpublished": 12,
		"error_code": 426,
		"audio-level-dBov-avg": 127
	}`
	var msg RoomMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.Equal(t, MessageEvent, msg.Videoroom)
	require.Equal(t, FeedID("12"), msg.Unpublished)
	require.NotNil(t, msg.ErrorCode)
	require.Equal(t, 426, *msg.ErrorCode)
	require.NotNil(t, msg.AudioLevel)
	require.Equal(t, MutedVolume, *msg.AudioLevel)
}

func TestNewRemoteFeedDefaults(t *testing.T) {
	feed := NewRemoteFeed("f1", "alice", "opus", "vp8")
	require.Equal(t, FeedStateInitialized, feed.State)
	require.Equal(t, 64, feed.Volume)
	require.False(t, feed.Muted)
	require.Equal(t, 0, feed.CurrentSubstream)
	require.Nil(t, feed.SlowLink)
}

func TestCloneIsolation(t *testing.T) {
	state := NewVideoroomState()
	state.RemoteFeeds["f1"] = NewRemoteFeed("f1", "alice", "opus", "vp8")

	clone := state.Clone()
	feed := clone.RemoteFeeds["f1"]
	feed.DisplayName = "bob"
	clone.RemoteFeeds["f1"] = feed
	delete(clone.RemoteFeeds, "f1")

	require.Equal(t, "alice", state.RemoteFeeds["f1"].DisplayName)
	require.Len(t, state.RemoteFeeds, 1)
}

func TestFeedsSorted(t *testing.T) {
	state := NewVideoroomState()
	for _, id := range []FeedID{"c", "a", "b"} {
		state.RemoteFeeds[id] = NewRemoteFeed(id, "", "", "")
	}

	feeds := state.Feeds()
	require.Len(t, feeds, 3)
	require.Equal(t, FeedID("a"), feeds[0].ID)
	require.Equal(t, FeedID("b"), feeds[1].ID)
	require.Equal(t, FeedID("c"), feeds[2].ID)
}

func TestReadyFeeds(t *testing.T) {
	state := NewVideoroomState()
	ready := NewRemoteFeed("a", "", "", "")
	ready.State = FeedStateReady
	state.RemoteFeeds["a"] = ready
	state.RemoteFeeds["b"] = NewRemoteFeed("b", "", "", "")

	feeds := state.ReadyFeeds()
	require.Len(t, feeds, 1)
	require.Equal(t, FeedID("a"), feeds[0].ID)
}
