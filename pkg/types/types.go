package types

import (
	"encoding/json"
	"sort"
	"time"
)

// FeedID identifies a remote publisher as assigned by the media server.
type FeedID string

// RoomID identifies a room on the media server.
type RoomID string

// UnmarshalJSON accepts either a JSON string or a JSON number id. The server
// config decides which one a deployment uses.
func (id *FeedID) UnmarshalJSON(b []byte) error {
	s, err := unmarshalOpaqueID(b)
	if err != nil {
		return err
	}
	*id = FeedID(s)
	return nil
}

// UnmarshalJSON accepts either a JSON string or a JSON number id.
func (id *RoomID) UnmarshalJSON(b []byte) error {
	s, err := unmarshalOpaqueID(b)
	if err != nil {
		return err
	}
	*id = RoomID(s)
	return nil
}

func unmarshalOpaqueID(b []byte) (string, error) {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// RoomState tracks the room-join lifecycle. Strictly forward-moving except
// the attach_failed -> attaching retry.
type RoomState string

const (
	RoomStateStart        RoomState = "start"
	RoomStateInitializing RoomState = "initializing"
	RoomStateInitialized  RoomState = "initialized"
	RoomStateAttaching    RoomState = "attaching"
	RoomStateAttached     RoomState = "attached"
	RoomStateAttachFailed RoomState = "attach_failed"
	RoomStateJoining      RoomState = "joining"
	RoomStateJoined       RoomState = "joined"
	RoomStateError        RoomState = "error"
)

// PublishState tracks the local-feed publish lifecycle, independent of the
// room join state.
type PublishState string

const (
	PublishStateStart      PublishState = "start"
	PublishStateReady      PublishState = "ready"
	PublishStateRequested  PublishState = "publishRequested"
	PublishStatePublishing PublishState = "publishing"
	PublishStateError      PublishState = "error"
)

// RemoteFeedState tracks a single remote feed. error is terminal, ready only
// self-loops via metadata updates.
type RemoteFeedState string

const (
	FeedStateInitialized RemoteFeedState = "initialized"
	FeedStateAttaching   RemoteFeedState = "attaching"
	FeedStateAttached    RemoteFeedState = "attached"
	FeedStateReady       RemoteFeedState = "ready"
	FeedStateError       RemoteFeedState = "error"
)

// MutedVolume is the sentinel audio level the server reports for a publisher
// with no sound. Muted is derived as Volume == MutedVolume, exactly.
const MutedVolume = 127

// defaultVolume is what a feed reports before any talking event arrived.
const defaultVolume = 64

// RoomInfo is the singleton per-session room state.
type RoomInfo struct {
	State       RoomState
	ID          RoomID
	Description string
	PrivateID   int64
	// OtherRoomID comes back in the "joined" message alongside the room id.
	OtherRoomID string

	// ErrorCode is set only while PublishState is PublishStateError.
	ErrorCode int

	PublishState  PublishState
	LocalStreamID string
	Muted         bool
}

// RemoteFeed is the client-side view of one remote publisher.
type RemoteFeed struct {
	State              RemoteFeedState
	ID                 FeedID
	StreamID           string
	NumVideoTracks     int
	RequestedSubstream int
	CurrentSubstream   int
	DisplayName        string
	AudioCodec         string
	VideoCodec         string
	Muted              bool
	Volume             int
	// SlowLink holds the time of the most recent slow-link notification,
	// nil if none was ever received.
	SlowLink *time.Time
}

// NewRemoteFeed returns a feed in its initial state for a publisher entry.
func NewRemoteFeed(id FeedID, display, audioCodec, videoCodec string) RemoteFeed {
	return RemoteFeed{
		State:       FeedStateInitialized,
		ID:          id,
		DisplayName: display,
		AudioCodec:  audioCodec,
		VideoCodec:  videoCodec,
		Volume:      defaultVolume,
	}
}

// VideoroomState is the sole unit of mutation: one RoomInfo plus the known
// remote feeds. Readers only ever receive value snapshots produced by Clone,
// never a shared mutable reference.
type VideoroomState struct {
	Room        RoomInfo
	RemoteFeeds map[FeedID]RemoteFeed
}

// NewVideoroomState returns the default snapshot.
func NewVideoroomState() VideoroomState {
	return VideoroomState{
		Room: RoomInfo{
			State:        RoomStateStart,
			PublishState: PublishStateStart,
		},
		RemoteFeeds: map[FeedID]RemoteFeed{},
	}
}

// Clone returns an independent copy. Feed values are plain structs, so a map
// copy is all that is needed.
func (s VideoroomState) Clone() VideoroomState {
	feeds := make(map[FeedID]RemoteFeed, len(s.RemoteFeeds))
	for id, feed := range s.RemoteFeeds {
		feeds[id] = feed
	}
	return VideoroomState{Room: s.Room, RemoteFeeds: feeds}
}

// Feeds returns all remote feeds sorted by id for deterministic iteration.
func (s VideoroomState) Feeds() []RemoteFeed {
	feeds := make([]RemoteFeed, 0, len(s.RemoteFeeds))
	for _, feed := range s.RemoteFeeds {
		feeds = append(feeds, feed)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID < feeds[j].ID })
	return feeds
}

// ReadyFeeds returns the feeds that have a media stream attached.
func (s VideoroomState) ReadyFeeds() []RemoteFeed {
	ready := make([]RemoteFeed, 0, len(s.RemoteFeeds))
	for _, feed := range s.Feeds() {
		if feed.State == FeedStateReady {
			ready = append(ready, feed)
		}
	}
	return ready
}
