package transport

import (
	"sync"

	"github.com/voxwire/voicebot/internal/session"
)

// Registry tracks live sessions for the operator surface.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Add registers a session.
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove unregisters a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns health snapshots for every live session.
func (r *Registry) Snapshot() []session.Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]session.Health, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Health())
	}
	return out
}
