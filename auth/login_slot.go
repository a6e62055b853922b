package auth

import (
	"sync"

	"github.com/jrsteele09/go-auth-session/provider"
)

// loginOutcome is whatever settled a login race: the provider's answer, the login
// timeout or the caller giving up.
type loginOutcome struct {
	result *provider.Result
	err    error
}

// loginSlot is a single-assignment cell. The first settle wins; later ones are dropped
// and report false so the caller can log the discarded completion.
type loginSlot struct {
	once    sync.Once
	done    chan struct{}
	outcome loginOutcome
}

func newLoginSlot() *loginSlot {
	return &loginSlot{done: make(chan struct{})}
}

func (s *loginSlot) settle(o loginOutcome) bool {
	won := false
	s.once.Do(func() {
		s.outcome = o
		won = true
		close(s.done)
	})
	return won
}

// wait blocks until the slot is settled and returns the winning outcome.
func (s *loginSlot) wait() loginOutcome {
	<-s.done
	return s.outcome
}
