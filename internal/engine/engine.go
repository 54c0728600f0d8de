// Package engine is the boundary to the chess rule engine. The session store
// never implements chess rules itself; it hands a position and a proposed
// move to an Engine and trusts the verdict.
package engine

import (
	"errors"
	"fmt"

	"github.com/notnil/chess"

	"github.com/livechess-gg/livechess/internal/domains/entities"
)

var ErrIllegalMove = errors.New("illegal move")

// Result is the engine's verdict on a single applied move.
type Result struct {
	Fen         string
	San         string
	GameOver    bool
	EndReason   entities.EndReason
	WinnerColor entities.Color // empty on draws
}

type Engine interface {
	// Apply validates moveStr (UCI or SAN) against the position in fen and
	// returns the new position plus end-of-game information.
	Apply(fen, moveStr string) (Result, error)
	StartingFen() string
}

// Notnil implements Engine on top of github.com/notnil/chess.
type Notnil struct{}

func New() Notnil { return Notnil{} }

func (Notnil) StartingFen() string {
	return chess.NewGame().FEN()
}

func (Notnil) Apply(fen, moveStr string) (Result, error) {
	var opts []func(*chess.Game)
	if fen != "" {
		withFen, err := chess.FEN(fen)
		if err != nil {
			return Result{}, fmt.Errorf("bad position: %w", err)
		}
		opts = append(opts, withFen)
	}
	g := chess.NewGame(opts...)
	pos := g.Position()

	mv, err := chess.UCINotation{}.Decode(pos, moveStr)
	if err != nil {
		mv, err = chess.AlgebraicNotation{}.Decode(pos, moveStr)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, moveStr)
		}
	}
	san := chess.AlgebraicNotation{}.Encode(pos, mv)
	if err := g.Move(mv); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, moveStr)
	}

	res := Result{
		Fen: g.FEN(),
		San: san,
	}
	if g.Outcome() != chess.NoOutcome {
		res.GameOver = true
		res.EndReason = endReason(g.Method())
		switch g.Outcome() {
		case chess.WhiteWon:
			res.WinnerColor = entities.White
		case chess.BlackWon:
			res.WinnerColor = entities.Black
		}
	}
	return res, nil
}

func endReason(m chess.Method) entities.EndReason {
	switch m {
	case chess.Checkmate:
		return entities.EndCheckmate
	case chess.Stalemate:
		return entities.EndStalemate
	default:
		return entities.EndDraw
	}
}
