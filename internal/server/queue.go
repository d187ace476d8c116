package server

import "github.com/tomz197/pong/internal/pong"

// Player is a matchmaking participant bound to one connection.
type Player struct {
	Name         string
	ConnectionID pong.ConnectionID
	Rating       int
}

// QueueEntry is a waiting player. An empty InviteCode marks an open entry.
type QueueEntry struct {
	Player
	InviteCode string
}

// Open reports whether the entry matches any open opponent.
func (e QueueEntry) Open() bool {
	return e.InviteCode == ""
}

// Queue holds players waiting for an opponent: an open pool matched first come
// first served, and a coded pool matched only by exact invite code.
// A connection has at most one entry across both pools.
//
// Queue is not safe for concurrent use; Engine serializes access.
type Queue struct {
	open  []QueueEntry
	coded map[string]QueueEntry
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{coded: make(map[string]QueueEntry)}
}

// EnqueueOpen adds p to the open pool, replacing any prior entry of the same
// connection.
func (q *Queue) EnqueueOpen(p Player) {
	q.RemoveByConnection(p.ConnectionID)
	q.open = append(q.open, QueueEntry{Player: p})
}

// EnqueueInvited adds p to the coded pool under code, replacing any prior
// entry of the same connection.
func (q *Queue) EnqueueInvited(p Player, code string) {
	q.RemoveByConnection(p.ConnectionID)
	q.coded[code] = QueueEntry{Player: p, InviteCode: code}
}

// FindOpenOpponent removes and returns the oldest open entry that belongs to
// a different connection.
func (q *Queue) FindOpenOpponent(excluding pong.ConnectionID) (QueueEntry, bool) {
	for i, e := range q.open {
		if e.ConnectionID == excluding {
			continue
		}
		q.open = append(q.open[:i], q.open[i+1:]...)
		return e, true
	}
	return QueueEntry{}, false
}

// FindByCode removes and returns the entry waiting on code.
func (q *Queue) FindByCode(code string) (QueueEntry, bool) {
	e, ok := q.coded[code]
	if ok {
		delete(q.coded, code)
	}
	return e, ok
}

// HasCode reports whether code is in use.
func (q *Queue) HasCode(code string) bool {
	_, ok := q.coded[code]
	return ok
}

// RemoveByConnection drops any entry owned by conn. No-op if absent.
func (q *Queue) RemoveByConnection(conn pong.ConnectionID) {
	kept := q.open[:0]
	for _, e := range q.open {
		if e.ConnectionID != conn {
			kept = append(kept, e)
		}
	}
	clear(q.open[len(kept):])
	q.open = kept

	for code, e := range q.coded {
		if e.ConnectionID == conn {
			delete(q.coded, code)
		}
	}
}

// Contains reports whether conn has an entry in either pool.
func (q *Queue) Contains(conn pong.ConnectionID) bool {
	for _, e := range q.open {
		if e.ConnectionID == conn {
			return true
		}
	}
	for _, e := range q.coded {
		if e.ConnectionID == conn {
			return true
		}
	}
	return false
}

// Len returns the number of waiting entries in both pools.
func (q *Queue) Len() int {
	return len(q.open) + len(q.coded)
}
