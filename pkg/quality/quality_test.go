package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock steps time manually so upgrade gating is exact.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestPingRejectsOutOfRange(t *testing.T) {
	h := NewHelper(3)

	_, err := h.Ping(3)
	require.Error(t, err)
	_, err = h.Ping(-1)
	require.Error(t, err)
}

func TestPingTopStreamStays(t *testing.T) {
	clock := newFakeClock()
	h := NewHelper(3, WithNow(clock.Now), WithNoise(1))

	next, err := h.Ping(2)
	require.NoError(t, err)
	require.Equal(t, 2, next)

	clock.Advance(time.Hour)
	next, err = h.Ping(2)
	require.NoError(t, err)
	require.Equal(t, 2, next)
}

func TestUpgradeTiming(t *testing.T) {
	t.Run("holds below the upgrade timeout", func(t *testing.T) {
		clock := newFakeClock()
		h := NewHelper(3, WithNow(clock.Now), WithNoise(1))

		next, err := h.Ping(0)
		require.NoError(t, err)
		require.Equal(t, 0, next)

		clock.Advance(5*time.Second - time.Millisecond)
		next, err = h.Ping(0)
		require.NoError(t, err)
		require.Equal(t, 0, next)
	})

	t.Run("upgrades at the timeout when the higher tier is clean", func(t *testing.T) {
		clock := newFakeClock()
		h := NewHelper(3, WithNow(clock.Now), WithNoise(1))

		_, err := h.Ping(0)
		require.NoError(t, err)

		clock.Advance(5 * time.Second)
		next, err := h.Ping(0)
		require.NoError(t, err)
		require.Equal(t, 1, next)
	})

	t.Run("restarts the clock after an error", func(t *testing.T) {
		clock := newFakeClock()
		h := NewHelper(3, WithNow(clock.Now), WithNoise(1))

		_, err := h.Ping(0)
		require.NoError(t, err)
		clock.Advance(4 * time.Second)
		h.StreamError(0)

		_, err = h.Ping(0)
		require.NoError(t, err)
		clock.Advance(4 * time.Second)
		next, err := h.Ping(0)
		require.NoError(t, err)
		require.Equal(t, 0, next)
	})
}

func TestRetryBackoff(t *testing.T) {
	// Run ping(1) long enough to be upgrade-eligible, with a history of
	// failures on tier 2. The retry threshold doubles per failure.
	setup := func(clock *fakeClock, errorsOnUpper int) *Helper {
		h := NewHelper(3, WithNow(clock.Now), WithNoise(1))
		for i := 0; i < errorsOnUpper; i++ {
			_, err := h.Ping(2)
			require.NoError(t, err)
			h.StreamError(2)
		}
		_, err := h.Ping(1)
		require.NoError(t, err)
		clock.Advance(5 * time.Second)
		return h
	}

	t.Run("one error waits the base timeout", func(t *testing.T) {
		clock := newFakeClock()
		h := setup(clock, 1)

		next, err := h.Ping(1)
		require.NoError(t, err)
		require.Equal(t, 1, next)

		// The threshold is measured from the error, which happened 5s ago.
		clock.Advance(2*time.Minute - 5*time.Second + time.Millisecond)
		next, err = h.Ping(1)
		require.NoError(t, err)
		require.Equal(t, 2, next)
	})

	t.Run("two errors double the wait", func(t *testing.T) {
		clock := newFakeClock()
		h := setup(clock, 2)

		clock.Advance(2*time.Minute - 5*time.Second + time.Millisecond)
		next, err := h.Ping(1)
		require.NoError(t, err)
		require.Equal(t, 1, next)

		clock.Advance(2 * time.Minute)
		next, err = h.Ping(1)
		require.NoError(t, err)
		require.Equal(t, 2, next)
	})

	t.Run("noise scales the threshold", func(t *testing.T) {
		clock := newFakeClock()
		h := NewHelper(3, WithNow(clock.Now), WithNoise(0.5))
		_, err := h.Ping(2)
		require.NoError(t, err)
		h.StreamError(2)

		_, err = h.Ping(1)
		require.NoError(t, err)
		clock.Advance(time.Minute + time.Millisecond)

		next, err := h.Ping(1)
		require.NoError(t, err)
		require.Equal(t, 2, next)
	})
}

func TestStreamEndDoesNotCountAsError(t *testing.T) {
	clock := newFakeClock()
	h := NewHelper(3, WithNow(clock.Now), WithNoise(1))

	_, err := h.Ping(1)
	require.NoError(t, err)
	h.StreamEnd(1)

	// A clean end on tier 1 leaves tier 0 free to upgrade immediately
	// after its own timeout.
	_, err = h.Ping(0)
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	next, err := h.Ping(0)
	require.NoError(t, err)
	require.Equal(t, 1, next)
}

func TestStreamMarksWithoutRunAreIgnored(t *testing.T) {
	h := NewHelper(3)

	// No Ping happened, so there is no run to close.
	h.StreamError(1)
	h.StreamEnd(1)
	h.StreamError(5)

	require.Empty(t, h.streams[1].errors)
	require.Empty(t, h.streams[1].runs)
}
