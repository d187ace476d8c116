package rating

import (
	"context"

	"github.com/rotisserie/eris"
)

// Outcome tags a rating update with the result of the game.
type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
)

// DefaultRating is assigned to players the store has never seen.
const DefaultRating = 1000

// DefaultTopLimit is the leaderboard size used when callers pass no limit.
const DefaultTopLimit = 10

var (
	// ErrNotFound is returned when a player has no record.
	ErrNotFound = eris.New("player not found")
	// ErrUnavailable is returned when the backing service cannot be reached.
	ErrUnavailable = eris.New("rating store unavailable")
	// ErrInvalidName is returned for empty player names.
	ErrInvalidName = eris.New("player name is required")
)

// Entry is one leaderboard row.
type Entry struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// Record is a player's full rating record.
type Record struct {
	Name        string `json:"name"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"gamesPlayed"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
}

// Store is the rating service as seen by the game engine.
//
// GetRating creates a record with the default rating when none exists.
// SetRating stores a new rating and bumps the counters for outcome.
// Top returns up to limit entries ordered by descending rating.
type Store interface {
	GetRating(ctx context.Context, name string) (int, error)
	SetRating(ctx context.Context, name string, rating int, outcome Outcome) error
	Top(ctx context.Context, limit int) ([]Entry, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultTopLimit
	}
	return limit
}
