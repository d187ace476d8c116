// Package pong holds the authoritative match state and the per-tick physics.
package pong

import (
	"time"

	"github.com/goccy/go-json"
)

// ConnectionID identifies one live client connection.
type ConnectionID string

// Slot indexes a side of the field: 0 plays the left paddle, 1 the right.
type Slot int

const (
	SlotLeft  Slot = 0
	SlotRight Slot = 1

	// NoSlot marks the absence of a winner or scorer.
	NoSlot Slot = -1
)

// Other returns the opposing slot.
func (s Slot) Other() Slot {
	return 1 - s
}

// Vec is a point or velocity in field coordinates.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerSlot binds a player to one side of a session.
type PlayerSlot struct {
	Index        Slot         `json:"index"`
	Name         string       `json:"name"`
	ConnectionID ConnectionID `json:"socketId"`
	Rating       int          `json:"rating"`
}

// Paddle is a paddle's vertical position.
type Paddle struct {
	Y float64 `json:"y"`
}

// Paddles holds both paddles. Wire names match the browser client.
type Paddles struct {
	Left  Paddle `json:"player1"`
	Right Paddle `json:"player2"`
}

// For returns the paddle owned by slot.
func (p *Paddles) For(slot Slot) *Paddle {
	if slot == SlotLeft {
		return &p.Left
	}
	return &p.Right
}

// State is the authoritative record of a live session.
// It is mutated only by Step and by paddle moves of the owning players.
type State struct {
	ID        string        `json:"id"`
	Players   [2]PlayerSlot `json:"players"`
	Score     [2]int        `json:"score"`
	Ball      Vec           `json:"ballPos"`
	Velocity  Vec           `json:"ballVelocity"`
	Paddles   Paddles       `json:"paddles"`
	Hits      int           `json:"hits"`
	PeakSpeed float64       `json:"peakSpeed"`
	StartTime time.Time     `json:"-"`
}

// NewState creates a fresh session with centered ball and paddles.
// The caller serves the ball.
func NewState(id string, left, right PlayerSlot, now time.Time) State {
	left.Index = SlotLeft
	right.Index = SlotRight
	return State{
		ID:        id,
		Players:   [2]PlayerSlot{left, right},
		StartTime: now,
	}
}

// SlotOf returns the slot held by conn, or NoSlot.
func (s *State) SlotOf(conn ConnectionID) Slot {
	for i := range s.Players {
		if s.Players[i].ConnectionID == conn {
			return Slot(i)
		}
	}
	return NoSlot
}

// Leader returns the slot with the higher score. Ties go to the right side.
func (s *State) Leader() Slot {
	if s.Score[0] > s.Score[1] {
		return SlotLeft
	}
	return SlotRight
}

// MarshalJSON adds the start time as epoch milliseconds.
func (s State) MarshalJSON() ([]byte, error) {
	type plain State
	return json.Marshal(struct {
		plain
		StartTime int64 `json:"startTime"`
	}{
		plain:     plain(s),
		StartTime: s.StartTime.UnixMilli(),
	})
}
