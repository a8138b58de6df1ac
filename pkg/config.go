package videoroom

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/kevin29a/videoroom/pkg/types"
)

// RootConfig is the root config read in from config.toml.
type RootConfig struct {
	Signal  SignalConfig
	Room    RoomConfig
	Quality QualityConfig
	Log     LogConfig

	// MetricsAddr enables the prometheus endpoint when non-empty.
	MetricsAddr string
}

// SignalConfig holds the relay endpoints and ICE servers.
type SignalConfig struct {
	// WsURL is the primary websocket endpoint.
	WsURL string
	// HTTPURL is the fallback endpoint, tried once after WsURL fails.
	HTTPURL string

	ICEServers []ICEServerConfig
}

// ICEServerConfig is passed through to the relay for its peer connections.
type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

// RoomConfig identifies the room and how we present ourselves in it.
type RoomConfig struct {
	RoomID      types.RoomID
	DisplayName string
	// UserID is optional; the server assigns one when empty.
	UserID string
	// Pin must be set when the room requires one.
	Pin string
	// Role is publisher or listener. Listeners never publish media.
	Role string
}

// QualityConfig tunes the adaptive substream controller.
type QualityConfig struct {
	// Substreams is the number of simulcast tiers the server encodes.
	Substreams int
	// PingInterval is the health-check cadence per feed.
	PingInterval time.Duration
	// UpgradeTimeout is how long a tier must run clean before probing up.
	UpgradeTimeout time.Duration
	// RetryTimeoutBase seeds the exponential backoff between upgrade
	// retries after failures at the higher tier.
	RetryTimeoutBase time.Duration
}

// LogConfig selects the zerolog level.
type LogConfig struct {
	Level string
}

const (
	RolePublisher = "publisher"
	RoleListener  = "listener"
)

var errNoServerURL = errors.New("at least one of signal.wsurl or signal.httpurl must be set")

// DefaultQualityConfig mirrors the server's three-tier simulcast encoding.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		Substreams:       3,
		PingInterval:     time.Second,
		UpgradeTimeout:   5 * time.Second,
		RetryTimeoutBase: 2 * time.Minute,
	}
}

// Validate fills defaults and rejects configs the session cannot run with.
func (c *RootConfig) Validate() error {
	if c.Signal.WsURL == "" && c.Signal.HTTPURL == "" {
		return errNoServerURL
	}
	if c.Room.RoomID == "" {
		return errors.New("room.roomid is required")
	}
	if c.Room.Role == "" {
		c.Room.Role = RolePublisher
	}
	if c.Quality.Substreams == 0 {
		c.Quality = DefaultQualityConfig()
	}
	return nil
}

// URLs returns the attach URLs in try order.
func (c SignalConfig) URLs() []string {
	urls := make([]string, 0, 2)
	if c.WsURL != "" {
		urls = append(urls, c.WsURL)
	}
	if c.HTTPURL != "" {
		urls = append(urls, c.HTTPURL)
	}
	return urls
}

// WebRTCICEServers converts the config entries for the transport.
func (c SignalConfig) WebRTCICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		// Public STUN keeps things working out of the box; deployments
		// should run their own servers.
		servers = append(servers, webrtc.ICEServer{URLs: []string{"stun:stun2.l.google.com:19302"}})
	}
	return servers
}
