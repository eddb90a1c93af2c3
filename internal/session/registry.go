package session

import (
	"sort"
	"time"
)

// Registry owns the per-session records. It does no locking of its own;
// the Tracker serializes every call.
type Registry struct {
	sessions  map[string]*Session
	seq       uint64
	bufferCap int
}

// NewRegistry creates an empty registry whose sessions get buffers of bufferCap bytes.
func NewRegistry(bufferCap int) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		bufferCap: bufferCap,
	}
}

// Create adds a session in the initial idle state. An existing record with
// the same id is replaced; its subscriber slot is closed.
func (r *Registry) Create(id, workingDirectory string, now time.Time) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if old, ok := r.sessions[id]; ok {
		old.closeSub()
	}

	r.seq++
	s := &Session{
		ID:               id,
		WorkingDirectory: workingDirectory,
		Activity:         ShellIdle,
		Source:           SourceInitial,
		Buffer:           NewActivityBuffer(r.bufferCap),
		CreatedAt:        now,
		LastActivityAt:   now,
		seq:              r.seq,
	}
	r.sessions[id] = s
	return s, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Destroy removes the session and closes its subscriber slot. It reports
// whether the session existed.
func (r *Registry) Destroy(id string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.closeSub()
	delete(r.sessions, id)
	return true
}

// UpdateWorkingDirectory sets the session's directory. It reports whether
// the session existed.
func (r *Registry) UpdateWorkingDirectory(id, path string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.WorkingDirectory = path
	return true
}

// List returns all sessions in creation order.
func (r *Registry) List() []*Session {
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// Len returns the number of sessions.
func (r *Registry) Len() int { return len(r.sessions) }

// setSub installs ch as the session's subscriber, closing any previous one.
func (s *Session) setSub(ch chan StateEvent) {
	s.closeSub()
	s.sub = ch
}

func (s *Session) closeSub() {
	if s.sub != nil {
		close(s.sub)
		s.sub = nil
	}
}
