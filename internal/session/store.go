package session

import (
	"container/list"
	"sync"
	"time"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
)

type item struct {
	key     string
	session Session
}

// Store is a bounded LRU of sessions keyed by address. Entries idle for
// longer than the TTL are removed by Sweep.
type Store struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // least recently used at front
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// NewStore creates a store. ttl <= 0 disables expiry.
func NewStore(maxEntries int, ttl time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Store{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the session for key, creating it with defaults if absent.
func (s *Store) Get(key string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key).session
}

func (s *Store) getLocked(key string) *item {
	if el, ok := s.items[key]; ok {
		s.order.MoveToBack(el)
		return el.Value.(*item)
	}

	if len(s.items) >= s.maxEntries {
		if front := s.order.Front(); front != nil {
			evicted := front.Value.(*item)
			s.order.Remove(front)
			delete(s.items, evicted.key)
			L_debug("session: evicted least recently used", "key", evicted.key, "step", evicted.session.Step)
		}
	}

	it := &item{key: key, session: Session{Step: StepNew, UpdatedAt: s.now()}}
	s.items[key] = s.order.PushBack(it)
	return it
}

// Lookup returns the session for key without creating it.
func (s *Store) Lookup(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return Session{}, false
	}
	return el.Value.(*item).session, true
}

// Patch merges p into the session for key and returns the new snapshot.
// A result violating an invariant is rejected and the stored session is
// returned unchanged together with ErrInvariant.
func (s *Store) Patch(key string, p Patch) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.getLocked(key)
	next := p.apply(it.session)
	if err := next.Validate(); err != nil {
		return it.session, err
	}
	next.UpdatedAt = s.now()
	it.session = next
	return next, nil
}

// Exists reports whether a session is held for key.
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// Count returns the number of held sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep drops sessions not updated within the TTL.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		it := el.Value.(*item)
		if it.session.UpdatedAt.Before(cutoff) {
			s.order.Remove(el)
			delete(s.items, it.key)
			removed++
		}
		el = next
	}
	return removed
}
