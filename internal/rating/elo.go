// Package rating computes Elo updates and talks to the rating store.
package rating

import "math"

// Elo parameters.
const (
	KFactor = 32

	// WinnerFloor is the minimum gain for the winner of a match, so beating a
	// much weaker opponent still moves the rating.
	WinnerFloor = 5
)

// Expected returns the logistic expected score of self against opponent.
func Expected(self, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-self)/400))
}

// Calculate returns self's new rating after a game against opponent.
func Calculate(self, opponent int, outcome Outcome) int {
	actual := 0.0
	if outcome == Win {
		actual = 1
	}
	return int(math.Round(float64(self) + KFactor*(actual-Expected(self, opponent))))
}

// Settle returns the post-match ratings of the winner and the loser.
// The winner always gains at least WinnerFloor points.
func Settle(winner, loser int) (newWinner, newLoser int) {
	newWinner = max(Calculate(winner, loser, Win), winner+WinnerFloor)
	newLoser = Calculate(loser, winner, Loss)
	return newWinner, newLoser
}
