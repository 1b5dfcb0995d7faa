package server

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrServerFull is returned by Register once MaxSessions sessions are registered.
	ErrServerFull = errors.New("server is full")
	// ErrNameTaken is returned by Register when unique names are enforced and
	// another session already uses the identifier.
	ErrNameTaken = errors.New("name is already in use")
)

// Position is a last-known 2D location.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PresenceEntry is a read-only view of one registered session.
type PresenceEntry struct {
	ID       string    `json:"id"`
	User     string    `json:"user"`
	Addr     string    `json:"addr"`
	JoinedAt time.Time `json:"joined_at"`
	Position *Position `json:"position,omitempty"`
}

// Registry tracks registered sessions and their last-known positions.
//
// Positions are keyed by session ID rather than by user name, so two sessions
// that picked the same name keep separate positions. Every method takes the
// lock for a single map operation or copy and never performs I/O under it.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	positions   map[string]Position
	maxSessions int
	uniqueNames bool
}

// NewRegistry creates an empty registry. maxSessions <= 0 means unlimited.
func NewRegistry(maxSessions int, uniqueNames bool) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		positions:   make(map[string]Position),
		maxSessions: maxSessions,
		uniqueNames: uniqueNames,
	}
}

// Register adds s. Registering the same session twice is a no-op.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.id]; ok {
		return nil
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return ErrServerFull
	}
	if r.uniqueNames {
		for _, other := range r.sessions {
			if other.user == s.user {
				return ErrNameTaken
			}
		}
	}

	r.sessions[s.id] = s
	return nil
}

// Unregister removes s and its position. It reports whether s was present,
// so exactly one caller observes true for each registration.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.id]; !ok {
		return false
	}
	delete(r.sessions, s.id)
	delete(r.positions, s.id)
	return true
}

// UpdatePosition stores the last-known position of s. It is ignored for
// sessions that are not registered, so a late frame cannot resurrect state
// after teardown.
func (r *Registry) UpdatePosition(s *Session, pos Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.id]; !ok {
		return false
	}
	r.positions[s.id] = pos
	return true
}

// Position returns the last-known position of s.
func (r *Registry) Position(s *Session) (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.positions[s.id]
	return pos, ok
}

// Snapshot returns a copy of the registered sessions, safe to iterate while
// other goroutines register and unregister.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Presence lists registered sessions ordered by join time.
func (r *Registry) Presence() []PresenceEntry {
	r.mu.RLock()
	entries := make([]PresenceEntry, 0, len(r.sessions))
	for id, s := range r.sessions {
		entry := PresenceEntry{
			ID:       id,
			User:     s.user,
			Addr:     s.addr,
			JoinedAt: s.joinedAt,
		}
		if pos, ok := r.positions[id]; ok {
			entry.Position = &pos
		}
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	return entries
}
