// Package clock computes remaining time for both sides of a game from the
// move history alone. It is pure and deterministic so every client and the
// server derive identical values from the same inputs.
package clock

import (
	"time"

	"github.com/livechess-gg/livechess/internal/domains/entities"
)

// Remaining returns the remaining milliseconds for white and black as of the
// last move boundary. Each move charges the mover its recorded time, then
// credits the increment (increment-after-move semantics). The non-mover's
// clock is untouched. An empty history yields the initial budget for both.
func Remaining(moves []entities.MoveRecord, tc entities.TimeControl) (whiteMs, blackMs int64) {
	whiteMs = tc.InitialMs
	blackMs = tc.InitialMs
	for _, m := range moves {
		switch m.Mover {
		case entities.White:
			whiteMs = whiteMs - m.TimeTakenMs + tc.IncrementMs
		case entities.Black:
			blackMs = blackMs - m.TimeTakenMs + tc.IncrementMs
		}
	}
	return whiteMs, blackMs
}

// LiveRemaining is Remaining with the side to move further reduced by the
// time elapsed since the boundary, for display while the game is active.
// The other side's value is exact as of the last move.
func LiveRemaining(
	moves []entities.MoveRecord,
	tc entities.TimeControl,
	boundaryAt time.Time,
	turn entities.Color,
	now time.Time,
) (whiteMs, blackMs int64) {
	whiteMs, blackMs = Remaining(moves, tc)
	elapsed := now.Sub(boundaryAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if turn == entities.White {
		whiteMs -= elapsed
	} else {
		blackMs -= elapsed
	}
	return whiteMs, blackMs
}

// Fallback is the uniform value both sides display when the move history
// cannot be fetched. Never mix it with computed values for the other side.
func Fallback(tc entities.TimeControl) (whiteMs, blackMs int64) {
	return tc.InitialMs, tc.InitialMs
}

// TurnFromHistory derives whose turn it is from the history length alone:
// white moves first, so an even-length history means white to move.
func TurnFromHistory(moves []entities.MoveRecord) entities.Color {
	if len(moves)%2 == 0 {
		return entities.White
	}
	return entities.Black
}
