package types

// Event kinds emitted by the signalling transport. Many of these repeat when
// attached to a remote feed; the feed-scoped variants are tagged explicitly so
// the reducer never has to guess which handle a callback belongs to.
const (
	KindAttachSuccess = "attach success"
	KindConsentDialog = "consent dialog"
	KindMediaState    = "media state"
	KindWebRTCState   = "webrtc state"
	KindSlowLink      = "slow link"
	KindMessage       = "message"
	KindLocalStream   = "local stream"
	KindRemoteStream  = "remote stream"
	KindDataOpen      = "data open"
	KindData          = "data"
	KindCleanup       = "cleanup"
	KindDetached      = "detached"

	KindFeedMessage      = "[remote] message"
	KindFeedWebRTCState  = "[remote] webrtc state"
	KindFeedSlowLink     = "[remote] slow link"
	KindFeedLocalStream  = "[remote] local stream"
	KindFeedRemoteStream = "[remote] remote stream"
	KindFeedCleanup      = "[remote] cleanup"
)

// Videoroom message tags inside a room-level server message.
const (
	MessageJoined         = "joined"
	MessageEvent          = "event"
	MessageAttached       = "attached"
	MessageTalking        = "talking"
	MessageStoppedTalking = "stopped-talking"
)

// Publisher is one entry of the publisher list the server sends in "joined"
// and "event" messages.
type Publisher struct {
	ID         FeedID `json:"id"`
	Display    string `json:"display"`
	AudioCodec string `json:"audio_codec"`
	VideoCodec string `json:"video_codec"`
	Talking    bool   `json:"talking,omitempty"`
}

// RoomMessage is the room-level JSON the videoroom plugin nests inside a
// "message" callback. Which fields are present depends on the message tag.
type RoomMessage struct {
	Videoroom   string      `json:"videoroom"`
	Room        RoomID      `json:"room,omitempty"`
	Description string      `json:"description,omitempty"`
	// ID is the server-side id of this client in "joined", and the feed id
	// in talking events.
	ID          FeedID      `json:"id,omitempty"`
	PrivateID   int64       `json:"private_id,omitempty"`
	Publishers  []Publisher `json:"publishers,omitempty"`
	Unpublished FeedID      `json:"unpublished,omitempty"`
	Configured  string      `json:"configured,omitempty"`
	// ErrorCode uses a pointer so "error_code present" can be told apart
	// from code zero.
	ErrorCode *int   `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Leaving   FeedID `json:"leaving,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Substream *int   `json:"substream,omitempty"`
	// AudioLevel is the averaged dBov level from talking events. 127 means
	// no sound at all, which we treat as the publisher being muted.
	AudioLevel *int `json:"audio-level-dBov-avg,omitempty"`
}

// ReasonKicked is set on an "event" message when the moderator removed us.
const ReasonKicked = "kicked"

// ConfiguredOK acknowledges a configure request, meaning we are publishing.
const ConfiguredOK = "ok"
