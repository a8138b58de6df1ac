package videoroom

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kevin29a/videoroom/pkg/layout"
	"github.com/kevin29a/videoroom/pkg/logger"
	"github.com/kevin29a/videoroom/pkg/signal"
	"github.com/kevin29a/videoroom/pkg/types"
)

// destroyTimeout bounds the signal teardown during Close.
const destroyTimeout = 5 * time.Second

// Session ties a signal client, the state store, the orchestrator, and
// the video room together for one stay in a room. A Session is used
// once: Start, interact, Close.
type Session struct {
	log   logr.Logger
	cfg   RootConfig
	sig   signal.Signal
	store *Store
	orch  *Orchestrator
	room  *DefaultVideoRoom
	errs  chan RoomError

	mu          sync.Mutex
	desiredMute bool
	started     bool
	cancel      context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSession wires up a Session from the config. The signal client is
// injected so tests can fake the server.
func NewSession(cfg RootConfig, sig signal.Signal, viewport layout.Viewport) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		log:   logger.GetLogger().WithName("session"),
		cfg:   cfg,
		sig:   sig,
		store: NewStore(),
		errs:  make(chan RoomError, 8),
	}
	s.orch = NewOrchestrator(s.store, sig, cfg.Room, cfg.Signal.URLs(), s.errs, s.desiredMuted)
	s.room = NewVideoRoom(s.store, s.orch, cfg.Quality, viewport)
	return s, nil
}

// Start initializes the signal layer and begins driving the room. The
// attach, register, and join steps run in the background; progress is
// visible through Snapshots and failures through Errors.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.store.Dispatch(Initialize{})
	if err := s.sig.Initialize(ctx, s.cfg.Signal.WebRTCICEServers()); err != nil {
		s.store.Dispatch(InitializeFail{Err: err})
		return err
	}
	s.store.Dispatch(InitializeSuccess{})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.orch.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.room.Attach(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error(err, "room detached")
		}
	}()
	return nil
}

// State returns the current room state.
func (s *Session) State() types.VideoroomState {
	return s.store.Snapshot()
}

// Snapshots subscribes to state updates. The cancel func releases the
// subscription.
func (s *Session) Snapshots() (<-chan types.VideoroomState, func()) {
	return s.store.Subscribe()
}

// Errors delivers fatal room errors: kicked, room full, server down.
func (s *Session) Errors() <-chan RoomError {
	return s.errs
}

// Layouts delivers recomputed tile layouts.
func (s *Session) Layouts() <-chan layout.Grid {
	return s.room.Layouts()
}

// OnResize reports a new viewport size.
func (s *Session) OnResize(viewport layout.Viewport) {
	s.room.OnResize(viewport)
}

// PublishOwnFeed starts publishing local media. Listeners cannot
// publish.
func (s *Session) PublishOwnFeed(ctx context.Context, p signal.PublishParams) error {
	if s.cfg.Room.Role == RoleListener {
		return errors.New("listeners cannot publish")
	}
	s.mu.Lock()
	s.desiredMute = false
	s.mu.Unlock()
	s.orch.PublishOwnFeed(ctx, p)
	return nil
}

// RequestSubstream asks the server for a different simulcast tier on a
// remote feed. The quality monitors call this automatically; it is
// exposed for manual overrides.
func (s *Session) RequestSubstream(ctx context.Context, feed types.FeedID, substream int) {
	s.orch.RequestSubstream(ctx, feed, substream)
}

// SetMuted sets the desired mute state. The orchestrator keeps the
// published state converged on it.
func (s *Session) SetMuted(ctx context.Context, muted bool) {
	s.mu.Lock()
	s.desiredMute = muted
	s.mu.Unlock()

	snap := s.store.Snapshot()
	if snap.Room.PublishState == types.PublishStatePublishing && snap.Room.Muted != muted {
		s.orch.ToggleMute(ctx)
	}
}

// ToggleMute flips the desired mute state.
func (s *Session) ToggleMute(ctx context.Context) {
	s.mu.Lock()
	s.desiredMute = !s.desiredMute
	s.mu.Unlock()
	s.orch.ToggleMute(ctx)
}

// Muted reports the desired mute state.
func (s *Session) Muted() bool {
	return s.desiredMuted()
}

// Reset tears the room down and starts over against the same server.
// Running monitors stop as their feeds disappear; the orchestrator
// re-attaches when it sees the fresh initialized state.
func (s *Session) Reset(ctx context.Context) error {
	s.store.Dispatch(Destroy{})
	if err := s.sig.Destroy(ctx); err != nil {
		s.log.Error(err, "destroy during reset")
	}

	s.store.Dispatch(Initialize{})
	if err := s.sig.Initialize(ctx, s.cfg.Signal.WebRTCICEServers()); err != nil {
		s.store.Dispatch(InitializeFail{Err: err})
		return err
	}
	s.store.Dispatch(InitializeSuccess{})
	return nil
}

// Close shuts everything down. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.room.Close()

		ctx, done := context.WithTimeout(context.Background(), destroyTimeout)
		defer done()
		if err := s.sig.Destroy(ctx); err != nil {
			s.log.Error(err, "destroy on close")
		}

		s.wg.Wait()
		s.store.Dispatch(Destroy{})
		s.store.Close()
		close(s.errs)
	})
}

func (s *Session) desiredMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desiredMute
}
