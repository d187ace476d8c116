package server

import (
	"github.com/tomz197/pong/internal/pong"
	"github.com/tomz197/pong/internal/rating"
)

// EventType names an outbound event on the wire.
type EventType string

const (
	EventWaiting        EventType = "waiting"
	EventInviteCreated  EventType = "inviteCreated"
	EventGameStart      EventType = "gameStart"
	EventGameUpdate     EventType = "gameUpdate"
	EventGameOver       EventType = "gameOver"
	EventGameAborted    EventType = "gameAborted"
	EventError          EventType = "error"
	EventRankingsUpdate EventType = "rankingsUpdate"
	EventShutdown       EventType = "shutdown"
)

// Broadcast addresses a notification to every live connection.
const Broadcast pong.ConnectionID = ""

// Event is an outbound message. Data is marshaled as the payload.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Notification is an event for one addressee (or Broadcast).
type Notification struct {
	To    pong.ConnectionID
	Event Event
}

// Sink delivers notifications produced outside of an intent handler
// (ticks, settlement, shutdown).
type Sink interface {
	Deliver(notes []Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(notes []Notification)

// Deliver implements Sink.
func (f SinkFunc) Deliver(notes []Notification) {
	f(notes)
}

// InviteCreated is the payload of EventInviteCreated.
type InviteCreated struct {
	Code string `json:"code"`
}

// ErrorMessage is the payload of EventError.
type ErrorMessage struct {
	Message string `json:"message"`
}

// MatchStats summarizes a finished session.
type MatchStats struct {
	Duration int64   `json:"duration"` // Milliseconds
	MaxSpeed float64 `json:"maxSpeed"`
	Hits     int     `json:"hits"`
	Score    [2]int  `json:"score"`
}

// GameOver is the payload of EventGameOver.
type GameOver struct {
	SessionID  string                    `json:"sessionId"`
	Winner     pong.ConnectionID         `json:"winner"`
	Ratings    map[pong.ConnectionID]int `json:"ratings"`
	Stats      MatchStats                `json:"stats"`
	FinalScore [2]int                    `json:"finalScore"`
	Forfeit    bool                      `json:"forfeit,omitempty"`
}

// GameAborted is the payload of EventGameAborted. It replaces GameOver when
// the session ended but could not be settled.
type GameAborted struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// Error messages surfaced to clients.
const (
	MsgInvalidInvite        = "Invalid invite code"
	MsgOwnInvite            = "Cannot join your own invite"
	MsgOpponentDisconnected = "Opponent disconnected"
	MsgUnknownConnection    = "Unknown connection"
)

func notify(to pong.ConnectionID, typ EventType, data any) Notification {
	return Notification{To: to, Event: Event{Type: typ, Data: data}}
}

func errorNote(to pong.ConnectionID, msg string) Notification {
	return notify(to, EventError, ErrorMessage{Message: msg})
}

// toPlayers addresses the same event to both slots of a session.
func toPlayers(st *pong.State, typ EventType, data any) []Notification {
	return []Notification{
		notify(st.Players[0].ConnectionID, typ, data),
		notify(st.Players[1].ConnectionID, typ, data),
	}
}

func rankingsNote(entries []rating.Entry) Notification {
	if entries == nil {
		entries = []rating.Entry{}
	}
	return notify(Broadcast, EventRankingsUpdate, entries)
}
