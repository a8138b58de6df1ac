package videoroom

import (
	"github.com/kevin29a/videoroom/pkg/signal"
	"github.com/kevin29a/videoroom/pkg/types"
)

// Apply is the session reducer: (state, action) -> new state. It is pure —
// the input snapshot is never mutated, timestamps come from the event, and
// the same inputs always produce an equal output. Unknown actions and events
// referencing departed feeds resolve as no-ops, never as errors.
func Apply(state types.VideoroomState, action Action) types.VideoroomState {
	switch a := action.(type) {
	case Initialize:
		// A full reset, even mid-session.
		next := types.NewVideoroomState()
		next.Room.State = types.RoomStateInitializing
		return next

	case InitializeSuccess:
		next := state.Clone()
		next.Room.State = types.RoomStateInitialized
		return next

	case InitializeFail:
		next := state.Clone()
		next.Room.State = types.RoomStateError
		return next

	case AttachRoom:
		next := state.Clone()
		next.Room.State = types.RoomStateAttaching
		return next

	case AttachRoomFail:
		next := state.Clone()
		next.Room.State = types.RoomStateAttachFailed
		return next

	case Callback:
		return applyCallback(state, a.Event)

	case Register:
		next := state.Clone()
		next.Room.State = types.RoomStateJoining
		return next

	case PublishOwnFeed:
		// Publishing always restarts unmuted.
		next := state.Clone()
		next.Room.PublishState = types.PublishStateRequested
		next.Room.Muted = false
		return next

	case PublishOwnFeedFail:
		next := state.Clone()
		next.Room.PublishState = types.PublishStateError
		next.Room.ErrorCode = errCodeUnknown
		return next

	case AttachRemoteFeed:
		feed, ok := state.RemoteFeeds[a.FeedID]
		if !ok || feed.State != types.FeedStateInitialized {
			return state
		}
		next := state.Clone()
		feed.State = types.FeedStateAttaching
		next.RemoteFeeds[a.FeedID] = feed
		return next

	case RequestSubstream:
		feed, ok := state.RemoteFeeds[a.FeedID]
		if !ok {
			return state
		}
		next := state.Clone()
		feed.RequestedSubstream = a.Substream
		next.RemoteFeeds[a.FeedID] = feed
		return next

	case ToggleMuteSuccess:
		next := state.Clone()
		next.Room.Muted = a.Muted
		return next

	case Destroy:
		return types.NewVideoroomState()
	}

	return state
}

func applyCallback(state types.VideoroomState, ev signal.Event) types.VideoroomState {
	switch ev.Kind {
	case types.KindAttachSuccess:
		next := state.Clone()
		next.Room.State = types.RoomStateAttached
		return next

	case types.KindLocalStream:
		next := state.Clone()
		next.Room.LocalStreamID = ev.StreamID
		return next

	case types.KindMessage:
		if ev.Msg == nil {
			return state
		}
		return applyRoomMessage(state, *ev.Msg)

	case types.KindFeedMessage:
		return applyFeedMessage(state, ev)

	case types.KindFeedRemoteStream:
		feed, ok := state.RemoteFeeds[ev.Feed]
		if !ok {
			return state
		}
		next := state.Clone()
		feed.StreamID = ev.StreamID
		feed.NumVideoTracks = ev.NumVideoTracks
		feed.State = types.FeedStateReady
		next.RemoteFeeds[ev.Feed] = feed
		return next

	case types.KindFeedSlowLink:
		feed, ok := state.RemoteFeeds[ev.Feed]
		if !ok {
			return state
		}
		next := state.Clone()
		t := ev.Time
		feed.SlowLink = &t
		next.RemoteFeeds[ev.Feed] = feed
		return next
	}

	return state
}

func applyRoomMessage(state types.VideoroomState, msg types.RoomMessage) types.VideoroomState {
	switch msg.Videoroom {
	case types.MessageJoined:
		next := mergePublishers(state, msg.Publishers)
		next.Room = types.RoomInfo{
			State:        types.RoomStateJoined,
			ID:           msg.Room,
			Description:  msg.Description,
			PrivateID:    msg.PrivateID,
			OtherRoomID:  string(msg.ID),
			PublishState: types.PublishStateReady,
		}
		return next

	case types.MessageEvent:
		next := state
		if len(msg.Publishers) > 0 {
			next = mergePublishers(next, msg.Publishers)
		} else {
			next = next.Clone()
		}

		// Deleting an absent id is a silent no-op; deletes are idempotent.
		if msg.Unpublished != "" {
			delete(next.RemoteFeeds, msg.Unpublished)
		}
		if msg.Leaving != "" {
			delete(next.RemoteFeeds, msg.Leaving)
		}

		if msg.Reason == types.ReasonKicked {
			next.Room.PublishState = types.PublishStateError
			next.Room.ErrorCode = ErrCodeKicked
		}
		if msg.Configured == types.ConfiguredOK {
			next.Room.PublishState = types.PublishStatePublishing
		}
		if msg.ErrorCode != nil {
			next.Room.PublishState = types.PublishStateError
			next.Room.ErrorCode = *msg.ErrorCode
		}
		return next

	case types.MessageTalking, types.MessageStoppedTalking:
		feed, ok := state.RemoteFeeds[msg.ID]
		if !ok || msg.AudioLevel == nil {
			return state
		}
		next := state.Clone()
		feed.Volume = *msg.AudioLevel
		feed.Muted = *msg.AudioLevel == types.MutedVolume
		next.RemoteFeeds[msg.ID] = feed
		return next
	}

	return state
}

func applyFeedMessage(state types.VideoroomState, ev signal.Event) types.VideoroomState {
	if ev.Msg == nil {
		return state
	}
	feed, ok := state.RemoteFeeds[ev.Feed]
	if !ok {
		// The feed already left; a racing message is dropped whole.
		return state
	}

	switch ev.Msg.Videoroom {
	case types.MessageAttached:
		next := state.Clone()
		feed.State = types.FeedStateAttached
		next.RemoteFeeds[ev.Feed] = feed
		return next

	case types.MessageEvent:
		if ev.Msg.Substream == nil {
			return state
		}
		next := state.Clone()
		feed.CurrentSubstream = *ev.Msg.Substream
		next.RemoteFeeds[ev.Feed] = feed
		return next
	}

	return state
}

// mergePublishers folds a publisher list into the feed map: known ids only
// get their display name refreshed, new ids come in as initialized feeds.
// Live fields of existing feeds are never touched through this path.
func mergePublishers(state types.VideoroomState, publishers []types.Publisher) types.VideoroomState {
	next := state.Clone()
	for _, pub := range publishers {
		if feed, ok := next.RemoteFeeds[pub.ID]; ok {
			feed.DisplayName = pub.Display
			next.RemoteFeeds[pub.ID] = feed
			continue
		}
		next.RemoteFeeds[pub.ID] = types.NewRemoteFeed(pub.ID, pub.Display, pub.AudioCodec, pub.VideoCodec)
	}
	return next
}
