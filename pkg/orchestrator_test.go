package videoroom

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/kevin29a/videoroom/pkg/signal"
	"github.com/kevin29a/videoroom/pkg/types"
)

// mockSignal fakes the relay. Tests push events into the channels it hands
// out and inspect the recorded calls.
type mockSignal struct {
	mu sync.Mutex

	roomCh  chan signal.Event
	feedChs map[types.FeedID]chan signal.Event

	attachErrs   map[string]error
	attachedURLs []string
	feedAttaches []types.FeedID
	registers    int
	publishErrs  []error
	publishCalls int
	unpublishes  int
	substreams   map[types.FeedID]int
	setMutes     []bool
	destroys     int
}

func newMockSignal() *mockSignal {
	return &mockSignal{
		roomCh:     make(chan signal.Event, 16),
		feedChs:    map[types.FeedID]chan signal.Event{},
		attachErrs: map[string]error{},
		substreams: map[types.FeedID]int{},
	}
}

func (m *mockSignal) Initialize(ctx context.Context, iceServers []webrtc.ICEServer) error {
	return nil
}

func (m *mockSignal) AttachRoom(ctx context.Context, url string) (<-chan signal.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachedURLs = append(m.attachedURLs, url)
	if err := m.attachErrs[url]; err != nil {
		return nil, err
	}
	m.roomCh <- signal.Event{Kind: types.KindAttachSuccess, Time: time.Now()}
	return m.roomCh, nil
}

func (m *mockSignal) Register(ctx context.Context, name, userID string, roomID types.RoomID, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers++
	return nil
}

func (m *mockSignal) PublishOwnFeed(ctx context.Context, p signal.PublishParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalls++
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return err
	}
	return nil
}

func (m *mockSignal) UnpublishOwnFeed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unpublishes++
	return nil
}

func (m *mockSignal) AttachRemoteFeed(ctx context.Context, feed types.RemoteFeed, room types.RoomInfo, pin string) (<-chan signal.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedAttaches = append(m.feedAttaches, feed.ID)
	ch := make(chan signal.Event, 16)
	m.feedChs[feed.ID] = ch
	return ch, nil
}

func (m *mockSignal) RequestSubstream(ctx context.Context, feed types.FeedID, substream int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.substreams[feed] = substream
	return nil
}

func (m *mockSignal) ToggleMute(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	muted := len(m.setMutes)%2 == 0
	m.setMutes = append(m.setMutes, muted)
	return muted, nil
}

func (m *mockSignal) SetMute(ctx context.Context, mute bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setMutes = append(m.setMutes, mute)
	return mute, nil
}

func (m *mockSignal) Destroy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroys++
	return nil
}

func (m *mockSignal) urls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.attachedURLs))
	copy(out, m.attachedURLs)
	return out
}

func (m *mockSignal) attachedFeeds() []types.FeedID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.FeedID, len(m.feedAttaches))
	copy(out, m.feedAttaches)
	return out
}

func (m *mockSignal) registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers
}

func (m *mockSignal) muteCalls() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.setMutes))
	copy(out, m.setMutes)
	return out
}

func (m *mockSignal) published() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishCalls
}

type orchestratorHarness struct {
	store *Store
	sig   *mockSignal
	orch  *Orchestrator
	errs  chan RoomError

	mu      sync.Mutex
	desired bool

	cancel context.CancelFunc
}

func newOrchestratorHarness(t *testing.T, urls []string) *orchestratorHarness {
	t.Helper()
	h := &orchestratorHarness{
		store: NewStore(),
		sig:   newMockSignal(),
		errs:  make(chan RoomError, 8),
	}
	h.orch = NewOrchestrator(h.store, h.sig, RoomConfig{
		RoomID:      "1234",
		DisplayName: "me",
		UserID:      "user-1",
	}, urls, h.errs, h.desiredMute)
	h.orch.attachRetryDelay = 5 * time.Millisecond
	h.orch.captureRetryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.orch.Run(ctx)
	t.Cleanup(func() {
		cancel()
		h.store.Close()
	})
	return h
}

func (h *orchestratorHarness) desiredMute() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.desired
}

func (h *orchestratorHarness) setDesiredMute(v bool) {
	h.mu.Lock()
	h.desired = v
	h.mu.Unlock()
}

func (h *orchestratorHarness) start() {
	h.store.Dispatch(Initialize{})
	h.store.Dispatch(InitializeSuccess{})
}

func (h *orchestratorHarness) waitForRoomState(t *testing.T, want types.RoomState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.store.Snapshot().Room.State == want
	}, 2*time.Second, 5*time.Millisecond, "room state never reached %q", want)
}

func (h *orchestratorHarness) waitForFeedState(t *testing.T, id types.FeedID, want types.RemoteFeedState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.store.Snapshot().RemoteFeeds[id].State == want
	}, 2*time.Second, 5*time.Millisecond, "feed %q never reached %q", id, want)
}

func (h *orchestratorHarness) join(t *testing.T, publishers ...types.Publisher) {
	t.Helper()
	h.start()
	h.waitForRoomState(t, types.RoomStateJoining)
	h.sig.roomCh <- signal.Event{
		Kind: types.KindMessage,
		Time: time.Now(),
		Msg: &types.RoomMessage{
			Videoroom:  types.MessageJoined,
			Room:       "1234",
			PrivateID:  42,
			Publishers: publishers,
		},
	}
	h.waitForRoomState(t, types.RoomStateJoined)
}

func TestOrchestratorJoinFlow(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a", "wss://b"})
	h.start()

	h.waitForRoomState(t, types.RoomStateJoining)
	require.Equal(t, []string{"wss://a"}, h.sig.urls())
	require.Equal(t, 1, h.sig.registered())
}

func TestOrchestratorAttachFallback(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a", "wss://b"})
	h.sig.attachErrs["wss://a"] = errTest

	h.start()

	h.waitForRoomState(t, types.RoomStateJoining)
	require.Equal(t, []string{"wss://a", "wss://b"}, h.sig.urls())
}

func TestOrchestratorAllURLsExhausted(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a", "wss://b"})
	h.sig.attachErrs["wss://a"] = errTest
	h.sig.attachErrs["wss://b"] = errTest

	h.start()

	select {
	case err := <-h.errs:
		require.Equal(t, ErrCodeServerDown, err.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no server-down error")
	}
	require.Equal(t, []string{"wss://a", "wss://b"}, h.sig.urls())
}

func TestOrchestratorAttachesFeedsOneAtATime(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a"})
	h.join(t,
		types.Publisher{ID: "f1", Display: "alice"},
		types.Publisher{ID: "f2", Display: "bob"},
	)

	require.Eventually(t, func() bool {
		return len(h.sig.attachedFeeds()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Sorted order, each exactly once.
	require.Equal(t, []types.FeedID{"f1", "f2"}, h.sig.attachedFeeds())

	snap := h.store.Snapshot()
	require.Equal(t, types.FeedStateAttaching, snap.RemoteFeeds["f1"].State)
	require.Equal(t, types.FeedStateAttaching, snap.RemoteFeeds["f2"].State)
}

func TestOrchestratorReattachesRejoinedFeed(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a"})
	h.join(t, types.Publisher{ID: "f1", Display: "alice"})

	require.Eventually(t, func() bool {
		return len(h.sig.attachedFeeds()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.sig.roomCh <- signal.Event{
		Kind: types.KindMessage,
		Time: time.Now(),
		Msg:  &types.RoomMessage{Videoroom: types.MessageEvent, Leaving: "f1"},
	}
	require.Eventually(t, func() bool {
		_, ok := h.store.Snapshot().RemoteFeeds["f1"]
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	// The same participant comes back under the same server-assigned id.
	h.sig.roomCh <- signal.Event{
		Kind: types.KindMessage,
		Time: time.Now(),
		Msg: &types.RoomMessage{
			Videoroom:  types.MessageEvent,
			Publishers: []types.Publisher{{ID: "f1", Display: "alice"}},
		},
	}

	require.Eventually(t, func() bool {
		return len(h.sig.attachedFeeds()) == 2
	}, 2*time.Second, 5*time.Millisecond, "rejoined feed was never attached")
	require.Equal(t, []types.FeedID{"f1", "f1"}, h.sig.attachedFeeds())
	h.waitForFeedState(t, "f1", types.FeedStateAttaching)
}

func TestOrchestratorFeedEventsReachStore(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a"})
	h.join(t, types.Publisher{ID: "f1", Display: "alice"})

	require.Eventually(t, func() bool {
		h.sig.mu.Lock()
		defer h.sig.mu.Unlock()
		return h.sig.feedChs["f1"] != nil
	}, 2*time.Second, 5*time.Millisecond)

	h.sig.mu.Lock()
	feedCh := h.sig.feedChs["f1"]
	h.sig.mu.Unlock()

	feedCh <- signal.Event{
		Kind: types.KindFeedMessage,
		Feed: "f1",
		Time: time.Now(),
		Msg:  &types.RoomMessage{Videoroom: types.MessageAttached},
	}
	feedCh <- signal.Event{
		Kind:           types.KindFeedRemoteStream,
		Feed:           "f1",
		Time:           time.Now(),
		StreamID:       "stream-1",
		NumVideoTracks: 1,
	}

	require.Eventually(t, func() bool {
		return h.store.Snapshot().RemoteFeeds["f1"].State == types.FeedStateReady
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestratorErrorSurfacedOncePerTransition(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a"})
	h.join(t)

	code := 432
	h.sig.roomCh <- signal.Event{
		Kind: types.KindMessage,
		Time: time.Now(),
		Msg:  &types.RoomMessage{Videoroom: types.MessageEvent, ErrorCode: &code},
	}

	select {
	case err := <-h.errs:
		require.Equal(t, 432, err.Code)
		require.Equal(t, "Room is full", err.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no room error")
	}

	// Further snapshots in the same error state emit nothing new.
	h.store.Dispatch(ToggleMuteSuccess{Muted: false})
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-h.errs:
		t.Fatalf("unexpected second error: %v", err)
	default:
	}
}

func TestOrchestratorPublishRetries(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a"})
	h.join(t)

	h.sig.mu.Lock()
	h.sig.publishErrs = []error{errTest}
	h.sig.mu.Unlock()

	h.orch.PublishOwnFeed(context.Background(), signal.PublishParams{AudioDeviceID: "mic"})

	require.Eventually(t, func() bool {
		return h.sig.published() == 2
	}, 2*time.Second, 5*time.Millisecond)

	// The transient capture failure never reaches the publish state.
	require.Equal(t, types.PublishStateRequested, h.store.Snapshot().Room.PublishState)
}

func TestOrchestratorPublishFailsAfterRetries(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a"})
	h.join(t)

	h.sig.mu.Lock()
	h.sig.publishErrs = []error{errTest, errTest, errTest}
	h.sig.mu.Unlock()

	h.orch.PublishOwnFeed(context.Background(), signal.PublishParams{AudioDeviceID: "mic"})

	require.Eventually(t, func() bool {
		return h.store.Snapshot().Room.PublishState == types.PublishStateError
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 499, h.store.Snapshot().Room.ErrorCode)

	select {
	case err := <-h.errs:
		require.Equal(t, 499, err.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("publish failure not surfaced")
	}
}

func TestOrchestratorMuteSync(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a"})
	h.join(t)

	h.sig.roomCh <- signal.Event{
		Kind: types.KindMessage,
		Time: time.Now(),
		Msg:  &types.RoomMessage{Videoroom: types.MessageEvent, Configured: types.ConfiguredOK},
	}
	require.Eventually(t, func() bool {
		return h.store.Snapshot().Room.PublishState == types.PublishStatePublishing
	}, 2*time.Second, 5*time.Millisecond)

	// Publishing and in sync: nothing to do.
	require.Empty(t, h.sig.muteCalls())

	h.setDesiredMute(true)
	// Any snapshot triggers reconciliation.
	h.store.Dispatch(ToggleMuteSuccess{Muted: false})

	require.Eventually(t, func() bool {
		return h.store.Snapshot().Room.Muted
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []bool{true}, h.sig.muteCalls())
}

func TestOrchestratorRequestSubstream(t *testing.T) {
	h := newOrchestratorHarness(t, []string{"wss://a"})
	h.join(t, types.Publisher{ID: "f1", Display: "alice"})

	h.orch.RequestSubstream(context.Background(), "f1", 2)

	require.Eventually(t, func() bool {
		h.sig.mu.Lock()
		defer h.sig.mu.Unlock()
		return h.sig.substreams["f1"] == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, h.store.Snapshot().RemoteFeeds["f1"].RequestedSubstream)
}
