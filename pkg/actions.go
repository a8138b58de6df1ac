package videoroom

import (
	"github.com/kevin29a/videoroom/pkg/signal"
	"github.com/kevin29a/videoroom/pkg/types"
)

// Action is one unit of change the reducer applies. Actions come from two
// places: user/session commands and callbacks relayed off the signalling
// transport. The reducer treats both identically.
type Action interface {
	// Name is only used for logging.
	Name() string
}

// Initialize resets the session to its default snapshot and starts the
// transport handshake.
type Initialize struct{}

// InitializeSuccess reports the transport is ready to attach.
type InitializeSuccess struct{}

// InitializeFail reports the transport could not start at all.
type InitializeFail struct{ Err error }

// AttachRoom starts attaching to the videoroom plugin at a server URL.
type AttachRoom struct{ URL string }

// AttachRoomFail reports the attach did not complete.
type AttachRoomFail struct{ Err error }

// Callback wraps an inbound transport event, room- or feed-scoped.
type Callback struct{ Event signal.Event }

// Register asks to join the room under a display name.
type Register struct {
	DisplayName string
	UserID      string
	RoomID      types.RoomID
	Pin         string
}

// PublishOwnFeed requests publishing the local feed. Publishing always
// restarts unmuted.
type PublishOwnFeed struct{ Params signal.PublishParams }

// PublishOwnFeedSuccess reports the publish offer was accepted by the
// transport. The room state only moves to publishing once the server
// acknowledges with configured: ok.
type PublishOwnFeedSuccess struct{}

// PublishOwnFeedFail reports local capture or the publish offer failed.
type PublishOwnFeedFail struct{ Err error }

// AttachRemoteFeed starts subscribing to one remote feed.
type AttachRemoteFeed struct{ FeedID types.FeedID }

// RequestSubstream records the simulcast tier we asked the server for.
type RequestSubstream struct {
	FeedID    types.FeedID
	Substream int
}

// ToggleMuteSuccess records the mute state the transport reported back.
type ToggleMuteSuccess struct{ Muted bool }

// Destroy resets everything to the default snapshot.
type Destroy struct{}

func (Initialize) Name() string            { return "initialize" }
func (InitializeSuccess) Name() string     { return "initialize-success" }
func (InitializeFail) Name() string        { return "initialize-fail" }
func (AttachRoom) Name() string            { return "attach-room" }
func (AttachRoomFail) Name() string        { return "attach-room-fail" }
func (Callback) Name() string              { return "callback" }
func (Register) Name() string              { return "register" }
func (PublishOwnFeed) Name() string        { return "publish-own-feed" }
func (PublishOwnFeedSuccess) Name() string { return "publish-own-feed-success" }
func (PublishOwnFeedFail) Name() string    { return "publish-own-feed-fail" }
func (AttachRemoteFeed) Name() string      { return "attach-remote-feed" }
func (RequestSubstream) Name() string      { return "request-substream" }
func (ToggleMuteSuccess) Name() string     { return "toggle-mute-success" }
func (Destroy) Name() string               { return "destroy" }
