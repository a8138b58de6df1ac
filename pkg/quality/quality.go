// Package quality picks the simulcast substream a feed should subscribe
// to, upgrading cautiously and backing off exponentially after failures
// at the higher tier.
package quality

import (
	"fmt"
	"math/rand"
	"time"
)

// runRecord is one completed run on a substream.
type runRecord struct {
	ended    time.Time
	duration time.Duration
}

// streamStats tracks the run history of one substream.
type streamStats struct {
	started time.Time
	runs    []runRecord
	errors  []runRecord
}

// Helper recommends which substream to subscribe to. Callers Ping the
// current substream while it runs well and report StreamError /
// StreamEnd when it stops. Not safe for concurrent use; the Monitor
// owns one Helper per feed.
type Helper struct {
	streams    []streamStats
	numStreams int

	// noise in [0.5, 1.5) decorrelates retry storms across clients.
	noise float64

	upgradeTimeout   time.Duration
	retryTimeoutBase time.Duration

	now func() time.Time
}

// Option configures a Helper.
type Option func(*Helper)

// WithNow injects the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(h *Helper) { h.now = now }
}

// WithNoise pins the retry jitter factor, for tests.
func WithNoise(noise float64) Option {
	return func(h *Helper) { h.noise = noise }
}

// WithRand derives the jitter factor from the given source.
func WithRand(r *rand.Rand) Option {
	return func(h *Helper) { h.noise = r.Float64() + 0.5 }
}

// WithTimeouts overrides the upgrade and retry timing.
func WithTimeouts(upgrade, retryBase time.Duration) Option {
	return func(h *Helper) {
		h.upgradeTimeout = upgrade
		h.retryTimeoutBase = retryBase
	}
}

// NewHelper creates a Helper for numStreams simulcast tiers.
func NewHelper(numStreams int, opts ...Option) *Helper {
	h := &Helper{
		streams:          make([]streamStats, numStreams),
		numStreams:       numStreams,
		noise:            rand.Float64() + 0.5,
		upgradeTimeout:   5 * time.Second,
		retryTimeoutBase: 2 * time.Minute,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Ping reports that substream is running well and returns the
// recommended substream, which is either the same tier or one higher.
func (h *Helper) Ping(substream int) (int, error) {
	if substream >= h.numStreams || substream < 0 {
		return 0, fmt.Errorf("substream out of range: %d", substream)
	}

	h.logStreamSuccess(substream)

	if substream == h.numStreams-1 {
		return substream, nil
	}
	return h.testUpgrade(substream), nil
}

// StreamError marks the current run on substream as ending in error.
// The error timestamp feeds the retry backoff for that tier.
func (h *Helper) StreamError(substream int) {
	if substream < 0 || substream >= h.numStreams {
		return
	}
	s := &h.streams[substream]
	if s.started.IsZero() {
		return
	}
	s.errors = append(s.errors, h.runRecord(s.started))
	s.started = time.Time{}
}

// StreamEnd marks the current run on substream as ending cleanly, when
// the monitor switches tiers or the feed goes away.
func (h *Helper) StreamEnd(substream int) {
	if substream < 0 || substream >= h.numStreams {
		return
	}
	s := &h.streams[substream]
	if s.started.IsZero() {
		return
	}
	s.runs = append(s.runs, h.runRecord(s.started))
	s.started = time.Time{}
}

func (h *Helper) logStreamSuccess(substream int) {
	if h.streams[substream].started.IsZero() {
		h.streams[substream].started = h.now()
	}
}

// testUpgrade moves up one tier once the current tier has run clean for
// upgradeTimeout and the higher tier's last error is older than
// retryTimeoutBase * 2^(errors-1) * noise.
func (h *Helper) testUpgrade(substream int) int {
	if h.now().Sub(h.streams[substream].started) < h.upgradeTimeout {
		return substream
	}

	upErrors := h.streams[substream+1].errors
	if len(upErrors) == 0 {
		return substream + 1
	}

	sinceLastError := h.now().Sub(upErrors[len(upErrors)-1].ended)
	threshold := time.Duration(float64(h.retryTimeoutBase) * float64(int(1)<<(len(upErrors)-1)) * h.noise)
	if sinceLastError > threshold {
		return substream + 1
	}
	return substream
}

func (h *Helper) runRecord(started time.Time) runRecord {
	now := h.now()
	return runRecord{ended: now, duration: now.Sub(started)}
}
