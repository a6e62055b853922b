// Package sessions holds the in-memory session state: which state the session is in,
// the signed-in account, whether an operation is running and the last error.
// Readers take snapshots or subscribe; only the token lifecycle coordinator mutates it.
package sessions

import (
	"sync"
)

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	State     State
	IsLoading bool
	LastError *Error
	Seq       uint64 // Increases with every change
}

// IsAuthenticated reports whether the snapshot is in the Authenticated state.
func (s Snapshot) IsAuthenticated() bool {
	return s.State.Kind == KindAuthenticated && s.State.Account != nil
}

// Account returns the account of an authenticated session, or nil.
func (s Snapshot) Account() *Account {
	if !s.IsAuthenticated() {
		return nil
	}
	acc := *s.State.Account
	return &acc
}

// Subscriber receives a snapshot after every change.
type Subscriber func(Snapshot)

type notification struct {
	snap Snapshot
	subs []Subscriber
}

// Store is a thread-safe holder for the session state with change notification.
type Store struct {
	mu          sync.RWMutex
	state       State
	loading     bool
	lastErr     *Error
	gen         uint64 // Bumped by Invalidate and Reset
	seq         uint64
	subscribers map[uint64]Subscriber
	nextSubID   uint64

	pending  []notification // Guarded by mu, delivered in order
	draining bool
}

// NewStore creates a store in the Unauthenticated state.
func NewStore() *Store {
	return &Store{
		state:       Unauthenticated(),
		subscribers: make(map[uint64]Subscriber),
	}
}

// Observe returns the current snapshot.
func (s *Store) Observe() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to be called after each change. The returned function removes it.
// Snapshots reach every subscriber in the order the changes were made, one at a time. fn
// may change the store; that change is delivered after fn returns.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Transition moves the session to next. Illegal transitions are ignored and report false,
// so re-entrant callers can apply the same transition twice without harm.
func (s *Store) Transition(next State) bool {
	return s.update(func() bool {
		if !CanTransition(s.state, next) {
			return false
		}
		s.state = next
		return true
	})
}

// Generation identifies the current session lifetime. Work that started under one
// generation uses it with TransitionAt and SetErrorAt so that it cannot land after a
// logout or cache clear.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Invalidate starts a new generation. Guarded writes from older generations are dropped.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

// TransitionAt is Transition, applied only while gen is still the current generation.
func (s *Store) TransitionAt(gen uint64, next State) bool {
	return s.update(func() bool {
		if s.gen != gen || !CanTransition(s.state, next) {
			return false
		}
		s.state = next
		return true
	})
}

// SetErrorAt is SetError, applied only while gen is still the current generation.
func (s *Store) SetErrorAt(gen uint64, err *Error) bool {
	return s.update(func() bool {
		if s.gen != gen {
			return false
		}
		s.lastErr = err
		return true
	})
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.update(func() bool {
		if s.loading == loading {
			return false
		}
		s.loading = loading
		return true
	})
}

// SetError records err as the last error.
func (s *Store) SetError(err *Error) {
	s.update(func() bool {
		s.lastErr = err
		return true
	})
}

// ClearError drops the last error.
func (s *Store) ClearError() {
	s.update(func() bool {
		if s.lastErr == nil {
			return false
		}
		s.lastErr = nil
		return true
	})
}

// Reset forces the store back to its initial state regardless of the current one and
// starts a new generation.
// It is used for hard cache clears, where no transition rule applies.
func (s *Store) Reset() {
	s.update(func() bool {
		s.gen++
		s.state = Unauthenticated()
		s.loading = false
		s.lastErr = nil
		return true
	})
}

// update applies mutate under the write lock and queues the resulting snapshot. Whichever
// caller finds the queue idle delivers it, outside the lock, until it is empty. Every
// change is delivered by the time its update returns, unless a concurrent update is
// already draining.
func (s *Store) update(mutate func() bool) bool {
	s.mu.Lock()
	if !mutate() {
		s.mu.Unlock()
		return false
	}
	s.seq++
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.pending = append(s.pending, notification{snap: s.snapshotLocked(), subs: subs})
	if s.draining {
		s.mu.Unlock()
		return true
	}
	s.draining = true
	s.mu.Unlock()

	s.drain()
	return true
}

func (s *Store) drain() {
	defer func() {
		// A panicking subscriber must not leave the queue marked busy
		if r := recover(); r != nil {
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
			panic(r)
		}
	}()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, fn := range next.subs {
			fn(next.snap)
		}
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state, IsLoading: s.loading, Seq: s.seq}
	if s.state.Account != nil {
		acc := *s.state.Account
		snap.State.Account = &acc
	}
	if s.lastErr != nil {
		e := *s.lastErr
		snap.LastError = &e
	}
	return snap
}
