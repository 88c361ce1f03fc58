// Package history keeps a bounded, in-memory conversation log per user.
//
// Each user owns a fixed-capacity ring buffer; appending to a full buffer evicts
// the oldest turn. Users are created lazily on first append and are never
// removed, so the number of tracked users grows for the lifetime of the process.
package history

import "sync"

// DefaultCapacity is the number of turns retained per user when none is configured.
const DefaultCapacity = 5

// Store is safe for concurrent use. Mutations of one user's log are serialized by
// that user's mutex; different users never contend beyond the map lookup.
type Store struct {
	capacity int

	mu    sync.RWMutex
	users map[string]*ring
}

// New creates a store retaining at most capacity turns per user.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		users:    make(map[string]*ring),
	}
}

// Capacity returns the per-user turn bound.
func (s *Store) Capacity() int { return s.capacity }

// Get returns a copy of the user's turns, oldest first. Unknown users yield nil.
func (s *Store) Get(userID string) []Turn {
	s.mu.RLock()
	r, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Append adds turns to the tail of the user's log in order, evicting from the
// head while at capacity. All turns of one call are applied atomically with
// respect to other callers for the same user.
func (s *Store) Append(userID string, turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	s.userRing(userID).push(turns)
}

// Len returns the number of turns held for the user.
func (s *Store) Len(userID string) int {
	s.mu.RLock()
	r, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Users returns the number of users with a history.
func (s *Store) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) userRing(userID string) *ring {
	s.mu.RLock()
	r, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.users[userID]; ok {
		return r
	}
	r = &ring{buf: make([]Turn, s.capacity)}
	s.users[userID] = r
	return r
}

type ring struct {
	mu   sync.Mutex
	buf  []Turn
	head int // index of the oldest turn
	size int
}

func (r *ring) push(turns []Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range turns {
		if r.size < len(r.buf) {
			r.buf[(r.head+r.size)%len(r.buf)] = t
			r.size++
			continue
		}
		r.buf[r.head] = t
		r.head = (r.head + 1) % len(r.buf)
	}
}

func (r *ring) snapshot() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Turn, r.size)
	for i := range out {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
