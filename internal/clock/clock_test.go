package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livechess-gg/livechess/internal/domains/entities"
)

var tenMinutes = entities.TimeControl{InitialMs: 600_000, IncrementMs: 0}

func TestRemainingEmptyHistory(t *testing.T) {
	w, b := Remaining(nil, tenMinutes)
	assert.Equal(t, int64(600_000), w)
	assert.Equal(t, int64(600_000), b)
}

func TestRemainingSingleMove(t *testing.T) {
	// White plays e4 taking 2.5s under 10+0.
	moves := []entities.MoveRecord{
		{San: "e4", Mover: entities.White, TimeTakenMs: 2500},
	}
	w, b := Remaining(moves, tenMinutes)
	assert.Equal(t, int64(597_500), w)
	assert.Equal(t, int64(600_000), b)
}

func TestRemainingIncrementAfterMove(t *testing.T) {
	tc := entities.TimeControl{InitialMs: 180_000, IncrementMs: 2000}
	moves := []entities.MoveRecord{
		{San: "e4", Mover: entities.White, TimeTakenMs: 5000},
		{San: "e5", Mover: entities.Black, TimeTakenMs: 3000},
		{San: "Nf3", Mover: entities.White, TimeTakenMs: 1000},
	}
	w, b := Remaining(moves, tc)
	assert.Equal(t, int64(180_000-5000+2000-1000+2000), w)
	assert.Equal(t, int64(180_000-3000+2000), b)
}

func TestRemainingDeterministic(t *testing.T) {
	tc := entities.TimeControl{InitialMs: 300_000, IncrementMs: 3000}
	moves := []entities.MoveRecord{
		{San: "d4", Mover: entities.White, TimeTakenMs: 1200},
		{San: "d5", Mover: entities.Black, TimeTakenMs: 900},
		{San: "c4", Mover: entities.White, TimeTakenMs: 7600},
		{San: "e6", Mover: entities.Black, TimeTakenMs: 15000},
	}
	w1, b1 := Remaining(moves, tc)
	for i := 0; i < 100; i++ {
		w2, b2 := Remaining(moves, tc)
		require.Equal(t, w1, w2)
		require.Equal(t, b1, b2)
	}
}

func TestLiveRemainingChargesOnlySideToMove(t *testing.T) {
	boundary := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := boundary.Add(4 * time.Second)
	moves := []entities.MoveRecord{
		{San: "e4", Mover: entities.White, TimeTakenMs: 2500},
	}
	w, b := LiveRemaining(moves, tenMinutes, boundary, entities.Black, now)
	assert.Equal(t, int64(597_500), w)
	assert.Equal(t, int64(596_000), b)
}

func TestLiveRemainingClockSkewClampsToZero(t *testing.T) {
	boundary := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// now before the boundary must not credit time
	now := boundary.Add(-3 * time.Second)
	w, b := LiveRemaining(nil, tenMinutes, boundary, entities.White, now)
	assert.Equal(t, int64(600_000), w)
	assert.Equal(t, int64(600_000), b)
}

func TestFallbackUniform(t *testing.T) {
	w, b := Fallback(tenMinutes)
	assert.Equal(t, w, b)
	assert.Equal(t, int64(600_000), w)
}

func TestTurnFromHistory(t *testing.T) {
	assert.Equal(t, entities.White, TurnFromHistory(nil))
	moves := []entities.MoveRecord{{San: "e4", Mover: entities.White, TimeTakenMs: 100}}
	assert.Equal(t, entities.Black, TurnFromHistory(moves))
	moves = append(moves, entities.MoveRecord{San: "e5", Mover: entities.Black, TimeTakenMs: 100})
	assert.Equal(t, entities.White, TurnFromHistory(moves))
}
