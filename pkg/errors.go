package videoroom

import "fmt"

// Reserved application-level codes. These never come from the videoroom
// plugin itself.
const (
	// ErrCodeKicked is reported when the moderator removed us from the room.
	ErrCodeKicked = 9991
	// ErrCodeServerDown is reported when every attach URL was exhausted.
	ErrCodeServerDown = 9992

	// errCodeUnknown is the plugin's catch-all error code. Lookups of codes
	// we have no entry for resolve to this one's message.
	errCodeUnknown = 499
)

// RoomError is the single fatal error shape surfaced to the caller. Raw
// transport errors never leave the session; they are mapped here first.
type RoomError struct {
	Code    int
	Message string
}

func (e RoomError) Error() string {
	return fmt.Sprintf("videoroom error %d: %s", e.Code, e.Message)
}

type serverError struct {
	name    string
	message string
}

// serverErrors maps the videoroom plugin error codes to user-facing text.
// Codes whose text would not help a user resolve anything stay at the
// generic internal message.
var serverErrors = map[int]serverError{
	499: {"JANUS_VIDEOROOM_ERROR_UNKNOWN_ERROR", "Internal Error"},
	421: {"JANUS_VIDEOROOM_ERROR_NO_MESSAGE", "Internal Error"},
	422: {"JANUS_VIDEOROOM_ERROR_INVALID_JSON", "Internal Error"},
	423: {"JANUS_VIDEOROOM_ERROR_INVALID_REQUEST", "Internal Error"},
	424: {"JANUS_VIDEOROOM_ERROR_JOIN_FIRST", "Internal Error"},
	425: {"JANUS_VIDEOROOM_ERROR_ALREADY_JOINED", "You have already joined this room"},
	426: {"JANUS_VIDEOROOM_ERROR_NO_SUCH_ROOM", "This room does not exist"},
	427: {"JANUS_VIDEOROOM_ERROR_ROOM_EXISTS", "Internal Error"},
	428: {"JANUS_VIDEOROOM_ERROR_NO_SUCH_FEED", "Publisher does not exist"},
	429: {"JANUS_VIDEOROOM_ERROR_MISSING_ELEMENT", "Internal Error"},
	// 430 is what comes back when the PIN for a room is wrong.
	430: {"JANUS_VIDEOROOM_ERROR_INVALID_ELEMENT", "You do not have permission to enter this room"},
	431: {"JANUS_VIDEOROOM_ERROR_INVALID_SDP_TYPE", "Internal Error"},
	432: {"JANUS_VIDEOROOM_ERROR_PUBLISHERS_FULL", "Room is full"},
	433: {"JANUS_VIDEOROOM_ERROR_UNAUTHORIZED", "Permission Denied"},
	434: {"JANUS_VIDEOROOM_ERROR_ALREADY_PUBLISHED", "You are already publishing"},
	435: {"JANUS_VIDEOROOM_ERROR_NOT_PUBLISHED", "Internal Error"},
	436: {"JANUS_VIDEOROOM_ERROR_ID_EXISTS", "User is already in the room on a different device or different tab"},
	437: {"JANUS_VIDEOROOM_ERROR_INVALID_SDP", "Internal Error"},

	ErrCodeKicked:     {"CUSTOM_KICKED", "You have been kicked out of the room by the moderator"},
	ErrCodeServerDown: {"CUSTOM_SERVER_DOWN", "Unable to connect to the media server"},
}

// LookupError resolves a server error code to a RoomError. Unknown codes keep
// their numeric code but carry the generic internal message.
func LookupError(code int) RoomError {
	entry, ok := serverErrors[code]
	if !ok {
		entry = serverErrors[errCodeUnknown]
	}
	return RoomError{Code: code, Message: entry.message}
}
