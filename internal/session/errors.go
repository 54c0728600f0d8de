package session

import (
	"errors"
	"fmt"
	"time"
)

// Wire codes for typed errors, so clients render specific messages instead
// of a generic failure.
const (
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeGameNotActive         = "GAME_NOT_ACTIVE"
	CodeGameNotPaused         = "GAME_NOT_PAUSED"
	CodeWrongTurn             = "WRONG_TURN"
	CodeInvalidMove           = "INVALID_MOVE"
	CodeStaleMove             = "STALE_MOVE"
	CodeInvalidPlayerId       = "INVALID_PLAYER_ID"
	CodeRequestAlreadyPending = "REQUEST_ALREADY_PENDING"
	CodeNoPendingRequest      = "NO_PENDING_REQUEST"
	CodeNotAuthorized         = "NOT_AUTHORIZED"
	CodeConflict              = "CONFLICT"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrGameNotActive         = errors.New("game not active")
	ErrGameNotPaused         = errors.New("game not paused")
	ErrNotYourTurn           = errors.New("not your turn")
	ErrInvalidMove           = errors.New("invalid move")
	ErrStaleMove             = errors.New("move submitted against a stale position")
	ErrNotAPlayer            = errors.New("not a participant of this session")
	ErrRequestAlreadyPending = errors.New("a resume request is already pending")
	ErrNoPendingRequest      = errors.New("no pending resume request")
	ErrNotAuthorized         = errors.New("requester cannot respond to own request")

	// ErrConflict is returned to the loser of two near-simultaneous
	// mutations on one session. Callers must re-fetch state before
	// retrying, never retry blindly.
	ErrConflict = errors.New("concurrent update conflict")
)

// Code maps an error to its wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrGameNotActive):
		return CodeGameNotActive
	case errors.Is(err, ErrGameNotPaused):
		return CodeGameNotPaused
	case errors.Is(err, ErrNotYourTurn):
		return CodeWrongTurn
	case errors.Is(err, ErrInvalidMove):
		return CodeInvalidMove
	case errors.Is(err, ErrStaleMove):
		return CodeStaleMove
	case errors.Is(err, ErrNotAPlayer):
		return CodeInvalidPlayerId
	case errors.Is(err, ErrRequestAlreadyPending):
		return CodeRequestAlreadyPending
	case errors.Is(err, ErrNoPendingRequest):
		return CodeNoPendingRequest
	case errors.Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return "INTERNAL"
	}
}

// ResumeRejectedError carries the machine-readable fields a client needs to
// compute when it may retry: who holds the pending request, when it expires,
// and how long until a new attempt can succeed.
type ResumeRejectedError struct {
	RequestedBy string
	ExpiresAt   time.Time
	RetryAfter  time.Duration
}

func (e *ResumeRejectedError) Error() string {
	return fmt.Sprintf(
		"resume request already pending (requested by %s, expires %s)",
		e.RequestedBy, e.ExpiresAt.Format(time.RFC3339),
	)
}

func (e *ResumeRejectedError) Unwrap() error { return ErrRequestAlreadyPending }
