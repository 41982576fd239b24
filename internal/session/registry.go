package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Member is what the registry tracks: one running session per room.
type Member interface {
	Run()
	Close()
	Done() <-chan struct{}
}

// Factory builds a session for a room. remove requests the session's own
// removal from the registry (timers and connection failures call it).
type Factory func(roomID string, remove func()) (Member, error)

// Registry is the bounded map of active sessions keyed by room id. It is
// the only structure in the engine shared across OS threads; every access
// goes through one mutex. Teardown runs outside the lock so a slow close
// never blocks admissions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Member
	max      int
	factory  Factory
}

func NewRegistry(max int, factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]Member),
		max:      max,
		factory:  factory,
	}
}

// Admit atomically reserves a slot for roomID and starts the session.
// Returns false without side effects when at capacity or when the room
// already has a session.
func (r *Registry) Admit(roomID string) bool {
	r.mu.Lock()
	if len(r.sessions) >= r.max {
		r.mu.Unlock()
		log.Error().Str("module", "session.registry").Str("room", roomID).Int("max", r.max).Msg("session limit reached, admission refused")
		return false
	}
	if _, exists := r.sessions[roomID]; exists {
		r.mu.Unlock()
		log.Warn().Str("module", "session.registry").Str("room", roomID).Msg("room already has a session")
		return false
	}
	m, err := r.factory(roomID, func() { r.Remove(roomID) })
	if err != nil {
		r.mu.Unlock()
		log.Error().Err(err).Str("module", "session.registry").Str("room", roomID).Msg("session setup failed")
		return false
	}
	r.sessions[roomID] = m
	n := len(r.sessions)
	r.mu.Unlock()

	log.Info().Str("module", "session.registry").Str("room", roomID).Int("active", n).Msg("session admitted")
	go m.Run()
	return true
}

// Get returns the session for roomID, if any.
func (r *Registry) Get(roomID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[roomID]
	return m, ok
}

// Remove drops the session from the map and tears it down. Idempotent:
// removing an absent or already-closed session is safe.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	m, ok := r.sessions[roomID]
	delete(r.sessions, roomID)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	m.Close()
	log.Info().Str("module", "session.registry").Str("room", roomID).Int("active", n).Msg("session removed")
}

// CloseAll tears down every session and waits for them to finish, bounded
// by a shared deadline. Used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	members := make([]Member, 0, len(r.sessions))
	for roomID, m := range r.sessions {
		members = append(members, m)
		delete(r.sessions, roomID)
	}
	r.mu.Unlock()

	deadline := time.After(10 * time.Second)
	for _, m := range members {
		m.Close()
	}
	for _, m := range members {
		select {
		case <-m.Done():
		case <-deadline:
			log.Warn().Str("module", "session.registry").Msg("shutdown deadline reached with sessions still closing")
			return
		}
	}
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
