package videoroom

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/kevin29a/videoroom/pkg/layout"
	"github.com/kevin29a/videoroom/pkg/logger"
	"github.com/kevin29a/videoroom/pkg/quality"
	"github.com/kevin29a/videoroom/pkg/types"
)

// VideoRoom renders the room client side: it watches state snapshots,
// runs a quality monitor per ready feed, and recomputes the tile layout
// as feeds come and go or the viewport resizes.
type VideoRoom interface {
	// Attach consumes snapshots until ctx is cancelled.
	Attach(ctx context.Context) error
	// OnResize reports a new viewport size.
	OnResize(viewport layout.Viewport)
	// Layouts delivers the latest computed layout. Slow readers only
	// miss intermediate layouts, never the final one.
	Layouts() <-chan layout.Grid
	Close()
}

// DefaultVideoRoom is the standard VideoRoom over a Store and an
// Orchestrator.
type DefaultVideoRoom struct {
	log   logr.Logger
	store *Store
	orch  *Orchestrator
	qcfg  QualityConfig

	resizer *layout.Resizer
	layouts chan layout.Grid

	mu       sync.Mutex
	monitors map[types.FeedID]context.CancelFunc
	closed   bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewVideoRoom creates a DefaultVideoRoom for the given viewport.
func NewVideoRoom(store *Store, orch *Orchestrator, qcfg QualityConfig, viewport layout.Viewport) *DefaultVideoRoom {
	r := &DefaultVideoRoom{
		log:      logger.GetLogger().WithName("room"),
		store:    store,
		orch:     orch,
		qcfg:     qcfg,
		layouts:  make(chan layout.Grid, 1),
		monitors: make(map[types.FeedID]context.CancelFunc),
		done:     make(chan struct{}),
	}
	r.resizer = layout.NewResizer(viewport, r.pushLayout)
	return r
}

// Attach subscribes to snapshots and reconciles quality monitors and
// the layout on each one. It returns when ctx is cancelled or the room
// is closed.
func (r *DefaultVideoRoom) Attach(ctx context.Context) error {
	snapshots, cancel := r.store.Subscribe()
	defer cancel()
	defer r.stopAllMonitors()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			r.reconcile(ctx, snap)
		}
	}
}

// OnResize reports a viewport change; layout recomputes are debounced.
func (r *DefaultVideoRoom) OnResize(viewport layout.Viewport) {
	r.resizer.SetViewport(viewport)
}

// Layouts returns the layout channel.
func (r *DefaultVideoRoom) Layouts() <-chan layout.Grid {
	return r.layouts
}

// Close stops all monitors and unblocks Attach. Idempotent.
func (r *DefaultVideoRoom) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.done)
	})
}

// reconcile aligns monitors and layout with the snapshot. Feeds start a
// monitor when they become ready and keep it until they leave the room.
func (r *DefaultVideoRoom) reconcile(ctx context.Context, snap types.VideoroomState) {
	ready := snap.ReadyFeeds()

	metricRemoteFeeds.Set(float64(len(snap.RemoteFeeds)))
	metricReadyFeeds.Set(float64(len(ready)))

	r.mu.Lock()
	for _, feed := range ready {
		if _, running := r.monitors[feed.ID]; !running {
			r.startMonitor(ctx, feed.ID)
		}
	}
	for id, stop := range r.monitors {
		if _, present := snap.RemoteFeeds[id]; !present {
			stop()
			delete(r.monitors, id)
		}
	}
	r.mu.Unlock()

	numVideos := len(ready)
	if snap.Room.PublishState == types.PublishStatePublishing {
		// Our own tile counts too.
		numVideos++
	}
	r.resizer.SetNumVideos(numVideos)
}

// startMonitor launches a quality monitor for the feed. Caller holds
// r.mu.
func (r *DefaultVideoRoom) startMonitor(ctx context.Context, id types.FeedID) {
	mctx, stop := context.WithCancel(ctx)
	r.monitors[id] = stop

	getFeed := func() (types.RemoteFeed, bool) {
		feed, ok := r.store.Snapshot().RemoteFeeds[id]
		return feed, ok
	}
	request := func(ctx context.Context, substream int) error {
		r.orch.RequestSubstream(ctx, id, substream)
		return nil
	}

	mon := quality.NewMonitor(r.log, id, quality.MonitorConfig{
		Substreams:       r.qcfg.Substreams,
		PingInterval:     r.qcfg.PingInterval,
		UpgradeTimeout:   r.qcfg.UpgradeTimeout,
		RetryTimeoutBase: r.qcfg.RetryTimeoutBase,
	}, getFeed, request)

	r.log.Info("starting quality monitor", "feed", id)
	go func() {
		mon.Run(mctx)
		r.mu.Lock()
		delete(r.monitors, id)
		r.mu.Unlock()
		stop()
	}()
}

func (r *DefaultVideoRoom) stopAllMonitors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, stop := range r.monitors {
		stop()
		delete(r.monitors, id)
	}
}

// pushLayout publishes a layout, dropping the stale one if the reader
// is behind.
func (r *DefaultVideoRoom) pushLayout(grid layout.Grid) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	for {
		select {
		case r.layouts <- grid:
			return
		default:
			select {
			case <-r.layouts:
			default:
			}
		}
	}
}
