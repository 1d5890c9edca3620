package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when looking up a session id with no live entry.
var ErrNotFound = errors.New("session not found")

// Registry is the process-wide table of active sessions, keyed by id. Ids are
// UUIDs generated at creation time and never reused, so a stale connection
// can never attach to a recycled id.
type Registry struct {
	log   *zap.SugaredLogger
	spawn SpawnOptions

	mu       sync.Mutex
	sessions map[string]*Session
}

// Info describes one session for diagnostics.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Alive        bool      `json:"alive"`
}

// NewRegistry builds a registry whose sessions spawn shells with the given
// base options (per-connection geometry is applied on attach).
func NewRegistry(log *zap.SugaredLogger, spawn SpawnOptions) *Registry {
	return &Registry{
		log:      log.Named("registry"),
		spawn:    spawn,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new session with no shell yet.
func (r *Registry) Create() *Session {
	s := newSession(uuid.NewString(), r.log, r.spawn)
	r.mu.Lock()
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.log.Debugw("created session", "ID", s.ID(), "Total", n)
	return s
}

// Get returns the session with the given id, or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Destroy detaches any connection, terminates the shell, and removes the
// entry. Destroying an unknown or already-destroyed id is a no-op.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Destroy()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions lists all live sessions, oldest first.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, Info{
			ID:           s.ID(),
			CreatedAt:    s.CreatedAt(),
			LastActivity: s.LastActivity(),
			Alive:        s.Alive(),
		})
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Close destroys every session. Used on server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Destroy()
	}
}
