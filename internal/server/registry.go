package server

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tomz197/pong/internal/pong"
)

var (
	// ErrSessionExists is returned when a generated id collides with a live session.
	ErrSessionExists = eris.New("session id already in use")
	// ErrAlreadyInSession is returned when a connection already holds a slot.
	ErrAlreadyInSession = eris.New("connection already in a session")
)

// Session is one live match: its state, its random source and its timer.
// mu guards state, rng and winner; the scheduler and paddle moves both take it.
type Session struct {
	mu     sync.Mutex
	state  pong.State
	rng    *rand.Rand
	ended  bool      // Set once by terminate; no mutation after that
	winner pong.Slot // Decided by the tick that reached the win score

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// ID returns the session id. It never changes.
func (s *Session) ID() string {
	return s.state.ID
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() pong.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// stop cancels the session timer. Safe to call any number of times.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Registry maps session ids to live sessions and connections to the session
// that holds them.
//
// Registry is not safe for concurrent use; Engine serializes access.
type Registry struct {
	sessions map[string]*Session
	byConn   map[pong.ConnectionID]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byConn:   make(map[pong.ConnectionID]*Session),
	}
}

// Create registers a new session for p1 (slot 0) and p2 (slot 1) with the ball
// already served. The caller starts its scheduler.
func (r *Registry) Create(id string, p1, p2 Player, cfg pong.Settings, rng *rand.Rand, now time.Time) (*Session, error) {
	if _, ok := r.sessions[id]; ok {
		return nil, eris.Wrapf(ErrSessionExists, "session %s", id)
	}
	for _, p := range []Player{p1, p2} {
		if _, ok := r.byConn[p.ConnectionID]; ok {
			return nil, eris.Wrapf(ErrAlreadyInSession, "connection %s", p.ConnectionID)
		}
	}

	st := pong.NewState(id, slotFor(p1), slotFor(p2), now)
	pong.Serve(&st, cfg, rng)

	sess := &Session{
		state:  st,
		rng:    rng,
		winner: pong.NoSlot,
		done:   make(chan struct{}),
	}
	r.sessions[id] = sess
	r.byConn[p1.ConnectionID] = sess
	r.byConn[p2.ConnectionID] = sess
	return sess, nil
}

// Get returns the live session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	sess, ok := r.sessions[id]
	return sess, ok
}

// FindByConnection returns the live session holding conn.
func (r *Registry) FindByConnection(conn pong.ConnectionID) (*Session, bool) {
	sess, ok := r.byConn[conn]
	return sess, ok
}

// Remove unregisters the session and returns it, or nil if it was not live.
func (r *Registry) Remove(id string) *Session {
	sess, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	for _, p := range sess.state.Players {
		if r.byConn[p.ConnectionID] == sess {
			delete(r.byConn, p.ConnectionID)
		}
	}
	return sess
}

// All returns every live session.
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

func slotFor(p Player) pong.PlayerSlot {
	return pong.PlayerSlot{Name: p.Name, ConnectionID: p.ConnectionID, Rating: p.Rating}
}
