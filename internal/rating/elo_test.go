package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name     string
		self     int
		opponent int
		outcome  Outcome
		want     int
	}{
		{"even win", 1000, 1000, Win, 1016},
		{"even loss", 1000, 1000, Loss, 984},
		{"upset win", 1000, 1400, Win, 1029},
		{"upset loss", 1400, 1000, Loss, 1371},
		{"expected win barely moves", 2000, 1000, Win, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calculate(tt.self, tt.opponent, tt.outcome))
		})
	}
}

func TestCalculate_SymmetricRatings(t *testing.T) {
	for r := 0; r <= 3000; r += 50 {
		assert.Greater(t, Calculate(r, r, Win), r, "win at %d", r)
		assert.Less(t, Calculate(r, r, Loss), r, "loss at %d", r)
	}
}

func TestExpected(t *testing.T) {
	assert.InDelta(t, 0.5, Expected(1200, 1200), 1e-12)
	assert.InDelta(t, 1.0, Expected(1400, 1000)+Expected(1000, 1400), 1e-12)
}

func TestSettle(t *testing.T) {
	t.Run("even match", func(t *testing.T) {
		w, l := Settle(1000, 1000)
		assert.Equal(t, 1016, w)
		assert.Equal(t, 984, l)
	})

	t.Run("winner floor applies against a much weaker opponent", func(t *testing.T) {
		w, l := Settle(2000, 1000)
		assert.Equal(t, 2000+WinnerFloor, w)
		assert.Equal(t, 1000, l)
	})

	t.Run("floor holds everywhere", func(t *testing.T) {
		for winner := 800; winner <= 2400; winner += 100 {
			for loser := 800; loser <= 2400; loser += 100 {
				w, _ := Settle(winner, loser)
				assert.GreaterOrEqual(t, w, winner+WinnerFloor)
			}
		}
	})
}
