package videoroom

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/workerpool"
	"github.com/go-logr/logr"

	"github.com/kevin29a/videoroom/pkg/signal"
	"github.com/kevin29a/videoroom/pkg/types"
)

const (
	// attachRetryDelay is the pause before attaching to the fallback URL.
	defaultAttachRetryDelay = 100 * time.Millisecond
	// captureRetryDelay / captureRetries bound the getUserMedia-style
	// retries some devices need before capture succeeds.
	defaultCaptureRetryDelay = time.Second
	defaultCaptureRetries    = 2
)

// Orchestrator is the only component that performs I/O. It consumes state
// snapshots (never diffs) and issues the follow-up commands each one calls
// for. Every derived command is gated on a transition so redelivery of the
// same snapshot issues nothing twice.
type Orchestrator struct {
	log       logr.Logger
	store     *Store
	sig       signal.Signal
	cfg       RoomConfig
	urls      []string
	errs      chan<- RoomError
	desired   func() bool // desired local mute state
	// pool serializes outbound transport commands so snapshot handling
	// never blocks on I/O.
	pool *workerpool.WorkerPool

	attachRetryDelay  time.Duration
	captureRetryDelay time.Duration
	captureRetries    uint64

	mu           sync.Mutex
	prevRoom     types.RoomState
	prevPublish  types.PublishState
	urlIndex     int
	attaching    map[types.FeedID]bool
	retryTimer   *time.Timer
	muteInFlight bool
}

// NewOrchestrator wires the effect layer to a store and transport. urls is
// the ordered list of attach URLs; the first is primary, the rest are
// fallbacks tried once each.
func NewOrchestrator(store *Store, sig signal.Signal, cfg RoomConfig, urls []string, errs chan<- RoomError, desiredMute func() bool) *Orchestrator {
	return &Orchestrator{
		log:               log.WithName("orchestrator"),
		store:             store,
		sig:               sig,
		cfg:               cfg,
		urls:              urls,
		errs:              errs,
		desired:           desiredMute,
		pool:              workerpool.New(1),
		attachRetryDelay:  defaultAttachRetryDelay,
		captureRetryDelay: defaultCaptureRetryDelay,
		captureRetries:    defaultCaptureRetries,
		prevRoom:          types.RoomStateStart,
		prevPublish:       types.PublishStateStart,
		attaching:         map[types.FeedID]bool{},
	}
}

// Run consumes snapshots until the context is cancelled or the store closes.
func (o *Orchestrator) Run(ctx context.Context) {
	snapshots, cancel := o.store.Subscribe()
	defer cancel()
	defer o.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			o.handle(ctx, snap)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, snap types.VideoroomState) {
	room := snap.Room

	o.syncMute(ctx, room)
	o.surfaceErrors(room)
	o.pruneAttaching(snap)
	o.attachNextFeed(ctx, snap)
	o.driveRoom(ctx, room)

	o.mu.Lock()
	o.prevRoom = room.State
	o.prevPublish = room.PublishState
	o.mu.Unlock()
}

// syncMute reconciles the published mute state with the user's wish. Only
// meaningful while actually publishing.
func (o *Orchestrator) syncMute(ctx context.Context, room types.RoomInfo) {
	if room.PublishState != types.PublishStatePublishing || room.Muted == o.desired() {
		return
	}
	o.mu.Lock()
	if o.muteInFlight {
		o.mu.Unlock()
		return
	}
	o.muteInFlight = true
	o.mu.Unlock()

	want := o.desired()
	o.pool.Submit(func() {
		muted, err := o.sig.SetMute(ctx, want)
		o.mu.Lock()
		o.muteInFlight = false
		o.mu.Unlock()
		if err != nil {
			o.log.Error(err, "could not set mute", "want", want)
			return
		}
		o.store.Dispatch(ToggleMuteSuccess{Muted: muted})
	})
}

// surfaceErrors emits the mapped fatal error exactly once per transition
// into the error publish state.
func (o *Orchestrator) surfaceErrors(room types.RoomInfo) {
	o.mu.Lock()
	prev := o.prevPublish
	o.mu.Unlock()
	if room.PublishState != types.PublishStateError || prev == types.PublishStateError {
		return
	}
	o.emitError(LookupError(room.ErrorCode))
}

// pruneAttaching forgets feed ids that left the room so a publisher
// rejoining under the same server-assigned id gets attached again. A room
// reset clears the whole set.
func (o *Orchestrator) pruneAttaching(snap types.VideoroomState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if snap.Room.State == types.RoomStateStart || snap.Room.State == types.RoomStateInitializing {
		o.attaching = map[types.FeedID]bool{}
		return
	}
	for id := range o.attaching {
		if _, ok := snap.RemoteFeeds[id]; !ok {
			delete(o.attaching, id)
		}
	}
}

// attachNextFeed subscribes to at most one initialized feed per snapshot.
// Throttling to one attach per transition keeps a burst of joins from
// flooding the transport; the next snapshot picks up the next feed.
func (o *Orchestrator) attachNextFeed(ctx context.Context, snap types.VideoroomState) {
	for _, feed := range snap.Feeds() {
		if feed.State != types.FeedStateInitialized {
			continue
		}
		o.mu.Lock()
		if o.attaching[feed.ID] {
			o.mu.Unlock()
			continue
		}
		o.attaching[feed.ID] = true
		o.mu.Unlock()

		o.store.Dispatch(AttachRemoteFeed{FeedID: feed.ID})
		feed := feed
		room := snap.Room
		o.pool.Submit(func() { o.attachFeed(ctx, feed, room) })
		return
	}
}

func (o *Orchestrator) attachFeed(ctx context.Context, feed types.RemoteFeed, room types.RoomInfo) {
	events, err := o.sig.AttachRemoteFeed(ctx, feed, room, o.cfg.Pin)
	if err != nil {
		// The feed may already be gone server-side; log and release so a
		// later publisher entry can retry.
		o.log.Error(err, "could not attach remote feed", "feed", feed.ID)
		o.mu.Lock()
		delete(o.attaching, feed.ID)
		o.mu.Unlock()
		return
	}
	go o.pump(ctx, events)
}

func (o *Orchestrator) driveRoom(ctx context.Context, room types.RoomInfo) {
	o.mu.Lock()
	prev := o.prevRoom
	o.mu.Unlock()
	if room.State == prev {
		return
	}

	switch room.State {
	case types.RoomStateInitialized:
		o.attachCurrentURL(ctx)

	case types.RoomStateAttached:
		o.pool.Submit(func() {
			err := o.sig.Register(ctx, o.cfg.DisplayName, o.cfg.UserID, o.cfg.RoomID, o.cfg.Pin)
			if err != nil {
				o.log.Error(err, "register failed")
				return
			}
		})
		o.store.Dispatch(Register{
			DisplayName: o.cfg.DisplayName,
			UserID:      o.cfg.UserID,
			RoomID:      o.cfg.RoomID,
			Pin:         o.cfg.Pin,
		})

	case types.RoomStateAttachFailed:
		o.mu.Lock()
		o.urlIndex++
		hasNext := o.urlIndex < len(o.urls)
		o.mu.Unlock()
		if !hasNext {
			o.emitError(LookupError(ErrCodeServerDown))
			return
		}
		// Brief pause before the fallback URL; cancelled on teardown.
		o.mu.Lock()
		o.retryTimer = time.AfterFunc(o.attachRetryDelay, func() {
			o.attachCurrentURL(ctx)
		})
		o.mu.Unlock()
	}
}

func (o *Orchestrator) attachCurrentURL(ctx context.Context) {
	o.mu.Lock()
	if o.urlIndex >= len(o.urls) {
		o.mu.Unlock()
		return
	}
	url := o.urls[o.urlIndex]
	o.mu.Unlock()

	o.store.Dispatch(AttachRoom{URL: url})
	o.pool.Submit(func() {
		events, err := o.sig.AttachRoom(ctx, url)
		if err != nil {
			o.log.Error(err, "attach failed", "url", url)
			o.store.Dispatch(AttachRoomFail{Err: err})
			return
		}
		go o.pump(ctx, events)
	})
}

// pump forwards a transport event stream into the store until it ends.
func (o *Orchestrator) pump(ctx context.Context, events <-chan signal.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.store.Dispatch(Callback{Event: ev})
		}
	}
}

// PublishOwnFeed runs the publish flow: the request is recorded immediately,
// capture failures are retried a bounded number of times, and a definitive
// failure lands in the error publish state.
func (o *Orchestrator) PublishOwnFeed(ctx context.Context, p signal.PublishParams) {
	o.store.Dispatch(PublishOwnFeed{Params: p})
	o.pool.Submit(func() {
		retry := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(o.captureRetryDelay), o.captureRetries), ctx)
		err := backoff.Retry(func() error {
			return o.sig.PublishOwnFeed(ctx, p)
		}, retry)
		if err != nil {
			o.log.Error(err, "publish failed")
			o.store.Dispatch(PublishOwnFeedFail{Err: err})
			return
		}
		o.store.Dispatch(PublishOwnFeedSuccess{})
	})
}

// RequestSubstream records the requested tier and forwards it to the server.
func (o *Orchestrator) RequestSubstream(ctx context.Context, feed types.FeedID, substream int) {
	o.store.Dispatch(RequestSubstream{FeedID: feed, Substream: substream})
	o.pool.Submit(func() {
		if err := o.sig.RequestSubstream(ctx, feed, substream); err != nil {
			o.log.Error(err, "substream request failed", "feed", feed, "substream", substream)
			return
		}
		metricSubstreamSwitches.Inc()
	})
}

// ToggleMute flips the published mute state.
func (o *Orchestrator) ToggleMute(ctx context.Context) {
	o.pool.Submit(func() {
		muted, err := o.sig.ToggleMute(ctx)
		if err != nil {
			o.log.Error(err, "toggle mute failed")
			return
		}
		o.store.Dispatch(ToggleMuteSuccess{Muted: muted})
	})
}

func (o *Orchestrator) emitError(err RoomError) {
	metricFatalErrors.Inc()
	select {
	case o.errs <- err:
	default:
		o.log.Error(err, "error channel full, dropping")
	}
}

func (o *Orchestrator) stop() {
	o.mu.Lock()
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.mu.Unlock()
	o.pool.StopWait()
}
