// Package signal talks to the media-relay server. The session core never
// performs I/O itself; everything goes through the Signal interface so the
// state machine can be driven in tests without a server.
package signal

import (
	"context"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/kevin29a/videoroom/pkg/types"
)

// Event is one callback from the relay. Kind is one of the types.Kind*
// constants; which other fields are set depends on the kind. Time is stamped
// on receipt so the reducer itself stays free of clock reads.
type Event struct {
	Kind string       `json:"kind"`
	Time time.Time    `json:"-"`
	Feed types.FeedID `json:"feed,omitempty"`

	Msg  *types.RoomMessage         `json:"msg,omitempty"`
	Jsep *webrtc.SessionDescription `json:"jsep,omitempty"`

	StreamID       string `json:"stream_id,omitempty"`
	NumVideoTracks int    `json:"num_video_tracks,omitempty"`

	On     bool   `json:"on,omitempty"`
	Medium string `json:"medium,omitempty"`
}

// PublishParams selects the capture devices for publishing our own feed.
type PublishParams struct {
	// AudioDeviceID empty means no audio capture.
	AudioDeviceID string `json:"audio_device_id,omitempty"`
	VideoDeviceID string `json:"video_device_id,omitempty"`
	CanvasID      string `json:"canvas_id,omitempty"`
	// SkipVideoCapture publishes the canvas stream without opening a camera.
	SkipVideoCapture bool `json:"skip_video_capture,omitempty"`
}

// Signal is the RPC interface to the relay server.
type Signal interface {
	// Initialize prepares the transport with the ICE servers to use for
	// every peer connection the relay opens on our behalf.
	Initialize(ctx context.Context, iceServers []webrtc.ICEServer) error

	// AttachRoom connects to the given url and attaches to the videoroom
	// plugin. The returned stream carries room-scoped events and is closed
	// on detach or fatal transport error.
	AttachRoom(ctx context.Context, url string) (<-chan Event, error)

	// Register joins the room as a publisher. Fire and forget; the outcome
	// arrives as a "joined" message on the room stream.
	Register(ctx context.Context, name, userID string, roomID types.RoomID, pin string) error

	// PublishOwnFeed captures local media and offers it to the room.
	PublishOwnFeed(ctx context.Context, p PublishParams) error

	// UnpublishOwnFeed withdraws our published feed.
	UnpublishOwnFeed(ctx context.Context) error

	// AttachRemoteFeed subscribes to one publisher. The returned stream is
	// scoped to that feed.
	AttachRemoteFeed(ctx context.Context, feed types.RemoteFeed, room types.RoomInfo, pin string) (<-chan Event, error)

	// RequestSubstream asks the server for a different simulcast tier.
	RequestSubstream(ctx context.Context, feed types.FeedID, substream int) error

	// ToggleMute flips the local audio mute and returns the resulting state.
	ToggleMute(ctx context.Context) (bool, error)

	// SetMute forces the local audio mute to the given value and returns
	// the resulting state.
	SetMute(ctx context.Context, mute bool) (bool, error)

	// Destroy tears the transport down. Idempotent.
	Destroy(ctx context.Context) error
}
