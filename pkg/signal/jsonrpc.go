package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/lucsky/cuid"
	"github.com/pion/webrtc/v3"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/kevin29a/videoroom/pkg/logger"
	"github.com/kevin29a/videoroom/pkg/types"
)

var log = logger.GetLogger().WithName("signal")

var (
	errNotConnected    = errors.New("no connection established")
	errStillPublishing = errors.New("previous publish still up")
)

const (
	// republishPollInterval is how often we re-check that the old feed went
	// down before publishing again.
	republishPollInterval = 100 * time.Millisecond
	// republishMaxPolls bounds the wait. If the unpublished confirmation
	// never arrives we proceed anyway rather than hang.
	republishMaxPolls = 50

	eventBuffer = 64
)

// JSONRPCSignalClient is a websocket jsonrpc2 client for the relay server.
type JSONRPCSignalClient struct {
	mu       sync.Mutex
	jc       *jsonrpc2.Conn
	opaqueID string

	iceServers []webrtc.ICEServer

	roomCh    chan Event
	feedChans map[types.FeedID]chan Event

	// webrtcUp mirrors the room-scoped webrtc-state callbacks for the
	// local publish connection.
	webrtcUp bool
	closed   bool
}

// NewJSONRPCSignalClient returns an unconnected client.
func NewJSONRPCSignalClient() *JSONRPCSignalClient {
	return &JSONRPCSignalClient{
		opaqueID:  "videoroom-" + cuid.New(),
		feedChans: map[types.FeedID]chan Event{},
	}
}

type attachRequest struct {
	OpaqueID   string             `json:"opaque_id"`
	ICEServers []webrtc.ICEServer `json:"ice_servers,omitempty"`
}

type registerRequest struct {
	Request string       `json:"request"`
	Room    types.RoomID `json:"room"`
	PType   string       `json:"ptype"`
	Display string       `json:"display"`
	ID      string       `json:"id,omitempty"`
	Pin     string       `json:"pin,omitempty"`
}

type subscribeRequest struct {
	Request   string       `json:"request"`
	Room      types.RoomID `json:"room"`
	PType     string       `json:"ptype"`
	Feed      types.FeedID `json:"feed"`
	PrivateID int64        `json:"private_id,omitempty"`
	Substream int          `json:"substream"`
	Pin       string       `json:"pin,omitempty"`
}

type configureRequest struct {
	Request   string       `json:"request"`
	Feed      types.FeedID `json:"feed,omitempty"`
	Substream int          `json:"substream"`
}

type muteRequest struct {
	Toggle bool `json:"toggle"`
	Mute   bool `json:"mute"`
}

type muteResult struct {
	Muted bool `json:"muted"`
}

type startRequest struct {
	Request string                     `json:"request"`
	Feed    types.FeedID               `json:"feed"`
	Room    types.RoomID               `json:"room"`
	Jsep    *webrtc.SessionDescription `json:"jsep,omitempty"`
}

// Initialize stores the ICE servers passed along on attach.
func (c *JSONRPCSignalClient) Initialize(ctx context.Context, iceServers []webrtc.ICEServer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iceServers = iceServers
	c.closed = false
	return nil
}

// AttachRoom dials the relay and attaches to the videoroom plugin.
func (c *JSONRPCSignalClient) AttachRoom(ctx context.Context, url string) (<-chan Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.jc = jsonrpc2.NewConn(ctx, websocketjsonrpc2.NewObjectStream(conn), c)
	c.roomCh = make(chan Event, eventBuffer)
	ice := c.iceServers
	jc := c.jc
	roomCh := c.roomCh
	c.mu.Unlock()

	if err := jc.Call(ctx, "attach", &attachRequest{OpaqueID: c.opaqueID, ICEServers: ice}, nil); err != nil {
		_ = jc.Close()
		return nil, err
	}

	// Close every stream when the websocket drops so readers never block
	// on a dead connection.
	go func() {
		<-jc.DisconnectNotify()
		c.teardownStreams()
	}()

	roomCh <- Event{Kind: types.KindAttachSuccess, Time: time.Now().UTC()}
	return roomCh, nil
}

// Register joins the room as a publisher.
func (c *JSONRPCSignalClient) Register(ctx context.Context, name, userID string, roomID types.RoomID, pin string) error {
	jc := c.conn()
	if jc == nil {
		return errNotConnected
	}
	log.V(1).Info("sending register", "room", roomID, "display", name)
	return jc.Notify(ctx, "message", &registerRequest{
		Request: "join",
		Room:    roomID,
		PType:   "publisher",
		Display: name,
		ID:      userID,
		Pin:     pin,
	})
}

// PublishOwnFeed publishes local media. If a previous publish is still up we
// unpublish first and wait for the webrtc connection to come down, with a
// bounded poll so a lost confirmation cannot hang the session.
func (c *JSONRPCSignalClient) PublishOwnFeed(ctx context.Context, p PublishParams) error {
	jc := c.conn()
	if jc == nil {
		return errNotConnected
	}

	if c.isWebRTCUp() {
		if err := c.UnpublishOwnFeed(ctx); err != nil {
			return err
		}
		wait := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(republishPollInterval), republishMaxPolls), ctx)
		// Exhausting the polls is not an error; publish anyway.
		_ = backoff.Retry(func() error {
			if c.isWebRTCUp() {
				return errStillPublishing
			}
			return nil
		}, wait)
	}

	return jc.Call(ctx, "publish", &p, nil)
}

// UnpublishOwnFeed withdraws our published feed.
func (c *JSONRPCSignalClient) UnpublishOwnFeed(ctx context.Context) error {
	jc := c.conn()
	if jc == nil {
		return errNotConnected
	}
	return jc.Notify(ctx, "unpublish", nil)
}

// AttachRemoteFeed subscribes to one publisher and returns its event stream.
func (c *JSONRPCSignalClient) AttachRemoteFeed(ctx context.Context, feed types.RemoteFeed, room types.RoomInfo, pin string) (<-chan Event, error) {
	jc := c.conn()
	if jc == nil {
		return nil, errNotConnected
	}

	ch := make(chan Event, eventBuffer)
	c.mu.Lock()
	c.feedChans[feed.ID] = ch
	c.mu.Unlock()

	err := jc.Call(ctx, "subscribe", &subscribeRequest{
		Request:   "join",
		Room:      room.ID,
		PType:     "subscriber",
		Feed:      feed.ID,
		PrivateID: room.PrivateID,
		Substream: 0,
		Pin:       pin,
	}, nil)
	if err != nil {
		c.mu.Lock()
		delete(c.feedChans, feed.ID)
		c.mu.Unlock()
		close(ch)
		return nil, err
	}
	return ch, nil
}

// RequestSubstream asks for a different simulcast tier on a feed.
func (c *JSONRPCSignalClient) RequestSubstream(ctx context.Context, feed types.FeedID, substream int) error {
	jc := c.conn()
	if jc == nil {
		return errNotConnected
	}
	log.V(1).Info("requesting substream", "feed", feed, "substream", substream)
	return jc.Notify(ctx, "configure", &configureRequest{
		Request:   "configure",
		Feed:      feed,
		Substream: substream,
	})
}

// ToggleMute flips the local audio mute.
func (c *JSONRPCSignalClient) ToggleMute(ctx context.Context) (bool, error) {
	jc := c.conn()
	if jc == nil {
		return false, errNotConnected
	}
	var res muteResult
	if err := jc.Call(ctx, "mute", &muteRequest{Toggle: true}, &res); err != nil {
		return false, err
	}
	return res.Muted, nil
}

// SetMute forces the local audio mute to the given value.
func (c *JSONRPCSignalClient) SetMute(ctx context.Context, mute bool) (bool, error) {
	jc := c.conn()
	if jc == nil {
		return false, errNotConnected
	}
	var res muteResult
	if err := jc.Call(ctx, "mute", &muteRequest{Mute: mute}, &res); err != nil {
		return false, err
	}
	return res.Muted, nil
}

// Destroy leaves the room and closes the connection. Idempotent.
func (c *JSONRPCSignalClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	jc := c.jc
	c.mu.Unlock()

	if jc == nil {
		return nil
	}
	_ = jc.Notify(ctx, "leave", nil)
	err := jc.Close()
	c.teardownStreams()
	return err
}

// Handle dispatches incoming jsonrpc2 notifications into the event streams.
func (c *JSONRPCSignalClient) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method != "event" || req.Params == nil {
		return
	}

	var ev Event
	if err := json.Unmarshal(*req.Params, &ev); err != nil {
		log.Error(err, "could not parse event from server")
		return
	}
	ev.Time = time.Now().UTC()

	if ev.Kind == types.KindWebRTCState && ev.Feed == "" {
		c.setWebRTCUp(ev.On)
	}

	// Feed-scoped jseps are answered by the relay once we confirm start.
	if ev.Jsep != nil && ev.Feed != "" {
		c.startRemoteFeed(ctx, ev)
	}

	c.mu.Lock()
	ch := c.roomCh
	if ev.Feed != "" {
		ch = c.feedChans[ev.Feed]
	}
	c.mu.Unlock()

	if ch == nil {
		log.V(1).Info("dropping event for unknown stream", "kind", ev.Kind, "feed", ev.Feed)
		return
	}
	select {
	case ch <- ev:
	default:
		log.Error(nil, "event stream full, dropping", "kind", ev.Kind, "feed", ev.Feed)
	}
}

func (c *JSONRPCSignalClient) startRemoteFeed(ctx context.Context, ev Event) {
	jc := c.conn()
	if jc == nil {
		return
	}
	var room types.RoomID
	if ev.Msg != nil {
		room = ev.Msg.Room
	}
	err := jc.Notify(ctx, "start", &startRequest{
		Request: "start",
		Feed:    ev.Feed,
		Room:    room,
		Jsep:    ev.Jsep,
	})
	if err != nil {
		log.Error(err, "could not start remote feed", "feed", ev.Feed)
	}
}

func (c *JSONRPCSignalClient) teardownStreams() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomCh != nil {
		close(c.roomCh)
		c.roomCh = nil
	}
	for id, ch := range c.feedChans {
		close(ch)
		delete(c.feedChans, id)
	}
	c.webrtcUp = false
}

func (c *JSONRPCSignalClient) conn() *jsonrpc2.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jc
}

func (c *JSONRPCSignalClient) isWebRTCUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webrtcUp
}

func (c *JSONRPCSignalClient) setWebRTCUp(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webrtcUp = up
}
