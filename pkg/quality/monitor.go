package quality

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/kevin29a/videoroom/pkg/types"
)

// FeedGetter returns the latest snapshot of the monitored feed. The
// second return is false once the feed has left the room.
type FeedGetter func() (types.RemoteFeed, bool)

// SwitchFunc asks the server to switch the feed to the given substream.
type SwitchFunc func(ctx context.Context, substream int) error

// Monitor watches one remote feed and drives its substream selection:
// immediate downgrade on congestion, cautious upgrade via the Helper.
type Monitor struct {
	log     logr.Logger
	feedID  types.FeedID
	helper  *Helper
	getFeed FeedGetter
	request SwitchFunc

	interval time.Duration

	// lastSlowLink is the congestion marker seen on the previous tick.
	// A changed marker means the server flagged us since then.
	lastSlowLink *time.Time
}

// NewMonitor creates a Monitor for the given feed. It does nothing
// until Run is called.
func NewMonitor(log logr.Logger, feedID types.FeedID, cfg MonitorConfig, getFeed FeedGetter, request SwitchFunc) *Monitor {
	helperOpts := []Option{}
	if cfg.UpgradeTimeout > 0 && cfg.RetryTimeoutBase > 0 {
		helperOpts = append(helperOpts, WithTimeouts(cfg.UpgradeTimeout, cfg.RetryTimeoutBase))
	}
	interval := cfg.PingInterval
	if interval == 0 {
		interval = time.Second
	}
	substreams := cfg.Substreams
	if substreams == 0 {
		substreams = 3
	}
	return &Monitor{
		log:      log.WithName("quality").WithValues("feed", feedID),
		feedID:   feedID,
		helper:   NewHelper(substreams, helperOpts...),
		getFeed:  getFeed,
		request:  request,
		interval: interval,
	}
}

// MonitorConfig tunes a Monitor; zero values fall back to defaults.
type MonitorConfig struct {
	Substreams       int
	PingInterval     time.Duration
	UpgradeTimeout   time.Duration
	RetryTimeoutBase time.Duration
}

// Run checks the feed on every tick until ctx is cancelled or the feed
// disappears.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.check(ctx) {
				return
			}
		}
	}
}

// check runs one monitoring pass. It returns false when the feed is
// gone and the monitor should stop.
func (m *Monitor) check(ctx context.Context) bool {
	feed, ok := m.getFeed()
	if !ok {
		return false
	}

	slowLink := m.slowLinkEdge(feed.SlowLink)
	current := feed.CurrentSubstream

	if feed.NumVideoTracks == 0 || slowLink {
		m.helper.StreamError(current)
		if current > 0 {
			m.switchSubstream(ctx, feed, current-1)
		}
		return true
	}

	next, err := m.helper.Ping(current)
	if err != nil {
		m.log.Error(err, "quality ping")
		return true
	}
	if next > current {
		m.helper.StreamEnd(current)
		m.switchSubstream(ctx, feed, next)
	}
	return true
}

func (m *Monitor) slowLinkEdge(mark *time.Time) bool {
	changed := false
	switch {
	case mark == nil:
	case m.lastSlowLink == nil:
		changed = true
	case !mark.Equal(*m.lastSlowLink):
		changed = true
	}
	m.lastSlowLink = mark
	return changed
}

func (m *Monitor) switchSubstream(ctx context.Context, feed types.RemoteFeed, substream int) {
	if feed.RequestedSubstream == substream {
		return
	}
	m.log.Info("switching substream", "substream", substream)
	if err := m.request(ctx, substream); err != nil {
		m.log.Error(err, "request substream", "substream", substream)
	}
}
