package videoroom

import (
	"sync"

	"github.com/elliotchance/orderedmap"
	"github.com/gammazero/deque"

	"github.com/kevin29a/videoroom/pkg/logger"
	"github.com/kevin29a/videoroom/pkg/types"
)

var log = logger.GetLogger().WithName("videoroom")

// snapshotBuffer is per subscriber. When a slow subscriber falls behind, the
// oldest pending snapshot is dropped; every subscriber still eventually
// observes the latest state, which is all snapshot consumers rely on.
const snapshotBuffer = 16

// Store owns the VideoroomState. Actions are queued and applied one at a
// time in arrival order by a single goroutine; every resulting snapshot is
// fanned out to subscribers as an independent value, so no reader can ever
// observe a half-applied transition or mutate shared state.
type Store struct {
	mu      sync.Mutex
	state   types.VideoroomState
	pending deque.Deque
	wake    chan struct{}
	subs    *orderedmap.OrderedMap
	nextSub int
	done    chan struct{}
	closed  bool
}

// NewStore returns a store holding the default snapshot and starts its
// dispatch loop.
func NewStore() *Store {
	s := &Store{
		state: types.NewVideoroomState(),
		wake:  make(chan struct{}, 1),
		subs:  orderedmap.NewOrderedMap(),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Dispatch queues an action. Actions are applied strictly in dispatch order.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending.PushBack(action)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Snapshot returns the current state as an independent value.
func (s *Store) Snapshot() types.VideoroomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers for snapshot delivery. The current snapshot is
// delivered immediately. The returned cancel func is idempotent.
func (s *Store) Subscribe() (<-chan types.VideoroomState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan types.VideoroomState, snapshotBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs.Set(id, ch)
	ch <- s.state.Clone()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs.Get(id); ok {
				s.subs.Delete(id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close stops the dispatch loop and closes every subscriber channel.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

func (s *Store) run() {
	for {
		select {
		case <-s.done:
			s.closeSubscribers()
			return
		case <-s.wake:
			s.drain()
		}
	}
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		if s.pending.Len() == 0 {
			s.mu.Unlock()
			return
		}
		action := s.pending.PopFront().(Action)
		next := Apply(s.state, action)
		s.state = next
		s.mu.Unlock()

		log.V(2).Info("applied action", "action", action.Name(),
			"room_state", next.Room.State, "publish_state", next.Room.PublishState,
			"feeds", len(next.RemoteFeeds))
		s.broadcast(next)
	}
}

func (s *Store) broadcast(state types.VideoroomState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.subs.Front(); el != nil; el = el.Next() {
		ch := el.Value.(chan types.VideoroomState)
		for {
			select {
			case ch <- state.Clone():
			default:
				// Drop the oldest pending snapshot and retry so the
				// subscriber still gets the latest.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (s *Store) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for el := s.subs.Front(); el != nil; el = el.Next() {
		close(el.Value.(chan types.VideoroomState))
	}
	s.subs = orderedmap.NewOrderedMap()
}
