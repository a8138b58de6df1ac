package signal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"

	"github.com/kevin29a/videoroom/pkg/types"
)

func eventRequest(t *testing.T, body string) *jsonrpc2.Request {
	t.Helper()
	raw := json.RawMessage(body)
	return &jsonrpc2.Request{Method: "event", Params: &raw, Notif: true}
}

func TestHandleRoutesRoomEvents(t *testing.T) {
	c := NewJSONRPCSignalClient()
	c.roomCh = make(chan Event, 4)

	c.Handle(context.Background(), nil, eventRequest(t, `{
		"kind": "message",
		"msg": {"videoroom": "joined", "room": 1234, "private_id": 42}
	}`))

	select {
	case ev := <-c.roomCh:
		require.Equal(t, types.KindMessage, ev.Kind)
		require.False(t, ev.Time.IsZero())
		require.NotNil(t, ev.Msg)
		require.Equal(t, types.RoomID("1234"), ev.Msg.Room)
		require.Equal(t, int64(42), ev.Msg.PrivateID)
	default:
		t.Fatal("room event not delivered")
	}
}

func TestHandleRoutesFeedEvents(t *testing.T) {
	c := NewJSONRPCSignalClient()
	c.roomCh = make(chan Event, 4)
	feedCh := make(chan Event, 4)
	c.feedChans["f1"] = feedCh

	c.Handle(context.Background(), nil, eventRequest(t, `{
		"kind": "[remote] message",
		"feed": "f1",
		"msg": {"videoroom": "event", "substream": 2}
	}`))

	select {
	case ev := <-feedCh:
		require.Equal(t, types.KindFeedMessage, ev.Kind)
		require.Equal(t, types.FeedID("f1"), ev.Feed)
		require.NotNil(t, ev.Msg.Substream)
		require.Equal(t, 2, *ev.Msg.Substream)
	default:
		t.Fatal("feed event not delivered")
	}

	// Nothing leaks onto the room stream.
	require.Empty(t, c.roomCh)
}

func TestHandleDropsUnknownStreams(t *testing.T) {
	c := NewJSONRPCSignalClient()
	c.roomCh = make(chan Event, 4)

	// A feed we never subscribed to; must not panic or reach the room.
	c.Handle(context.Background(), nil, eventRequest(t, `{
		"kind": "[remote] slow link",
		"feed": "ghost"
	}`))
	require.Empty(t, c.roomCh)
}

func TestHandleIgnoresOtherMethods(t *testing.T) {
	c := NewJSONRPCSignalClient()
	c.roomCh = make(chan Event, 4)

	raw := json.RawMessage(`{"kind": "message"}`)
	c.Handle(context.Background(), nil, &jsonrpc2.Request{Method: "offer", Params: &raw})
	c.Handle(context.Background(), nil, &jsonrpc2.Request{Method: "event"})
	require.Empty(t, c.roomCh)
}

func TestHandleTracksWebRTCState(t *testing.T) {
	c := NewJSONRPCSignalClient()
	c.roomCh = make(chan Event, 4)

	c.Handle(context.Background(), nil, eventRequest(t, `{"kind": "webrtc state", "on": true}`))
	require.True(t, c.isWebRTCUp())

	// Feed-scoped webrtc state does not touch the publish connection.
	feedCh := make(chan Event, 4)
	c.feedChans["f1"] = feedCh
	c.Handle(context.Background(), nil, eventRequest(t, `{"kind": "[remote] webrtc state", "feed": "f1", "on": false}`))
	require.True(t, c.isWebRTCUp())

	c.Handle(context.Background(), nil, eventRequest(t, `{"kind": "webrtc state", "on": false}`))
	require.False(t, c.isWebRTCUp())
}

func TestMethodsRequireConnection(t *testing.T) {
	c := NewJSONRPCSignalClient()
	ctx := context.Background()

	require.ErrorIs(t, c.Register(ctx, "me", "", "1234", ""), errNotConnected)
	require.ErrorIs(t, c.PublishOwnFeed(ctx, PublishParams{}), errNotConnected)
	require.ErrorIs(t, c.UnpublishOwnFeed(ctx), errNotConnected)
	require.ErrorIs(t, c.RequestSubstream(ctx, "f1", 1), errNotConnected)

	_, err := c.ToggleMute(ctx)
	require.ErrorIs(t, err, errNotConnected)

	_, err = c.AttachRemoteFeed(ctx, types.RemoteFeed{ID: "f1"}, types.RoomInfo{ID: "1234"}, "")
	require.ErrorIs(t, err, errNotConnected)
}

func TestDestroyIdempotentWithoutConnection(t *testing.T) {
	c := NewJSONRPCSignalClient()
	require.NoError(t, c.Destroy(context.Background()))
	require.NoError(t, c.Destroy(context.Background()))
}

func TestTeardownClosesAllStreams(t *testing.T) {
	c := NewJSONRPCSignalClient()
	c.roomCh = make(chan Event, 4)
	feedCh := make(chan Event, 4)
	c.feedChans["f1"] = feedCh
	c.webrtcUp = true

	c.teardownStreams()

	_, ok := <-feedCh
	require.False(t, ok)
	require.False(t, c.isWebRTCUp())
	require.Empty(t, c.feedChans)
}
