// Package idle closes READY conversations after a period of inactivity.
package idle

import (
	"context"
	"sync"
	"time"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/session"
)

// CloseFunc is called after a session was moved to CLOSED by the timer,
// with the address lock still held. It sends the reopen prompt.
type CloseFunc func(ctx context.Context, key string)

type timer struct {
	t   *time.Timer
	gen uint64
}

// Supervisor keeps at most one live timer per address.
type Supervisor struct {
	after    time.Duration
	sessions *session.Store
	locks    *session.Locker
	onClose  CloseFunc
	// sendTimeout bounds the reopen prompt send on fire.
	sendTimeout time.Duration

	mu      sync.Mutex
	timers  map[string]*timer
	nextGen uint64
	stopped bool
}

// New creates a supervisor closing sessions idle for longer than after.
func New(after time.Duration, sessions *session.Store, locks *session.Locker, onClose CloseFunc) *Supervisor {
	return &Supervisor{
		after:       after,
		sessions:    sessions,
		locks:       locks,
		onClose:     onClose,
		sendTimeout: 30 * time.Second,
		timers:      make(map[string]*timer),
	}
}

// Arm cancels any pending timer for key and schedules a new one for the
// full duration.
func (s *Supervisor) Arm(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if old, ok := s.timers[key]; ok {
		old.t.Stop()
	}
	s.nextGen++
	gen := s.nextGen
	s.timers[key] = &timer{
		gen: gen,
		t:   time.AfterFunc(s.after, func() { s.fire(key, gen) }),
	}
}

// Disarm cancels the pending timer for key, if any.
func (s *Supervisor) Disarm(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.t.Stop()
		delete(s.timers, key)
	}
}

// Armed reports whether key has a live timer.
func (s *Supervisor) Armed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Len returns the number of live timers.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer. Later Arm calls are ignored.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.t.Stop()
		delete(s.timers, key)
	}
	s.stopped = true
}

// current removes the timer for key if it still has generation gen.
func (s *Supervisor) current(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok || t.gen != gen {
		return false
	}
	delete(s.timers, key)
	return true
}

func (s *Supervisor) fire(key string, gen uint64) {
	unlock := s.locks.Lock(key)
	defer unlock()

	// re-armed or disarmed while waiting for the lock
	if !s.current(key, gen) {
		return
	}

	sess, ok := s.sessions.Lookup(key)
	if !ok || sess.Consent != session.ConsentAccepted || sess.Step != session.StepReady {
		L_trace("idle: timer fired on inactive session", "key", key)
		return
	}

	if _, err := s.sessions.Patch(key, session.Patch{}.WithStep(session.StepClosed)); err != nil {
		L_error("idle: failed to close session", "key", key, "error", err)
		return
	}
	L_info("idle: conversation closed after inactivity", "key", key, "after", s.after)

	if s.onClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()
		s.onClose(ctx, key)
	}
}
