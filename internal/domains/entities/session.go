package entities

import "time"

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusActive   SessionStatus = "active"
	StatusPaused   SessionStatus = "paused"
	StatusFinished SessionStatus = "finished"
	StatusAborted  SessionStatus = "aborted"
)

func (s SessionStatus) Terminal() bool {
	return s == StatusFinished || s == StatusAborted
}

type PauseReason string

const (
	PauseNavigation PauseReason = "navigation"
	PauseInactivity PauseReason = "inactivity"
	PauseDisconnect PauseReason = "disconnect"
	PauseManual     PauseReason = "manual"
)

type EndReason string

const (
	EndCheckmate     EndReason = "checkmate"
	EndStalemate     EndReason = "stalemate"
	EndDraw          EndReason = "draw"
	EndDrawAgreement EndReason = "draw_agreement"
	EndResignation   EndReason = "resignation"
	EndTimeout       EndReason = "timeout"
	EndAborted       EndReason = "aborted"
)

// TimeControl is immutable once the game starts.
type TimeControl struct {
	InitialMs   int64 `json:"initialMs"`
	IncrementMs int64 `json:"incrementMs"`
}

type MoveRecord struct {
	San         string `json:"san"`
	Mover       Color  `json:"mover"`
	TimeTakenMs int64  `json:"timeTakenMs"`
}

type Player struct {
	Id         string    `json:"id"`
	Color      Color     `json:"color"`
	Connected  bool      `json:"connected"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// ClockState holds remaining time for both sides as of BoundaryAt, the last
// move/pause/resume boundary. Live countdown for the side to move is derived
// from it, never stored.
type ClockState struct {
	WhiteMs    int64     `json:"whiteMs"`
	BlackMs    int64     `json:"blackMs"`
	BoundaryAt time.Time `json:"boundaryAt"`
}

func (c ClockState) Remaining(color Color) int64 {
	if color == White {
		return c.WhiteMs
	}
	return c.BlackMs
}

func (c *ClockState) SetRemaining(color Color, ms int64) {
	if color == White {
		c.WhiteMs = ms
	} else {
		c.BlackMs = ms
	}
}

type PauseInfo struct {
	By     string      `json:"by"`
	Reason PauseReason `json:"reason"`
	At     time.Time   `json:"at"`
}

type ResumeStatus string

const (
	ResumePending ResumeStatus = "pending"
)

type ResumeRequest struct {
	RequestedBy string       `json:"requestedBy"`
	CreatedAt   time.Time    `json:"createdAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	Status      ResumeStatus `json:"status"`
}

// ExpiredAt reports whether the request is void at the given instant.
// A request at exactly ExpiresAt counts as expired.
func (r *ResumeRequest) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *ResumeRequest) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// GameSession is the authoritative per-game record. Players[0] is white.
type GameSession struct {
	Id      string        `json:"id"`
	Players []Player      `json:"players"`
	Status  SessionStatus `json:"status"`
	Turn    Color         `json:"turn"`
	// Moves is the canonical in-memory history. It crosses the storage
	// boundary only in the compact string form, so JSON carries
	// EncodedMoves instead.
	Moves        []MoveRecord   `json:"-"`
	EncodedMoves string         `json:"moves,omitempty"`
	TimeControl  TimeControl    `json:"timeControl"`
	Clocks       ClockState     `json:"clocks"`
	Fen          string         `json:"fen"`
	Ply          int            `json:"ply"`
	Pause        *PauseInfo     `json:"pause,omitempty"`
	Resume       *ResumeRequest `json:"resume,omitempty"`
	DrawOffers   []string       `json:"drawOffers,omitempty"`
	EndReason    EndReason      `json:"endReason,omitempty"`
	WinnerId     string         `json:"winnerId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (s *GameSession) PlayerById(id string) (*Player, bool) {
	for i := range s.Players {
		if s.Players[i].Id == id {
			return &s.Players[i], true
		}
	}
	return nil, false
}

func (s *GameSession) PlayerByColor(c Color) *Player {
	for i := range s.Players {
		if s.Players[i].Color == c {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *GameSession) OpponentOf(id string) (*Player, bool) {
	for i := range s.Players {
		if s.Players[i].Id != id {
			return &s.Players[i], true
		}
	}
	return nil, false
}

func (s *GameSession) OnTurn() *Player {
	return s.PlayerByColor(s.Turn)
}

// PendingResume returns the resume request if it is still live at now.
// Expired or stale requests are treated as absent; callers never see them.
func (s *GameSession) PendingResume(now time.Time) *ResumeRequest {
	if s.Resume == nil {
		return nil
	}
	if s.Resume.ExpiredAt(now) {
		return nil
	}
	return s.Resume
}
