package dtos

import (
	"time"

	"github.com/livechess-gg/livechess/internal/domains/entities"
	"github.com/livechess-gg/livechess/pkg/gamecodec"
)

type PlayerState struct {
	Id         string    `json:"id"`
	Color      string    `json:"color"`
	Connected  bool      `json:"connected"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type MoveState struct {
	San         string `json:"san"`
	Mover       string `json:"mover"`
	TimeTakenMs int64  `json:"timeTakenMs"`
}

type TimeControlState struct {
	InitialMs   int64 `json:"initialMs"`
	IncrementMs int64 `json:"incrementMs"`
}

type ClockSnapshot struct {
	WhiteMs    int64     `json:"whiteMs"`
	BlackMs    int64     `json:"blackMs"`
	BoundaryAt time.Time `json:"boundaryAt"`
}

type PauseState struct {
	By     string    `json:"by"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

type ResumeState struct {
	RequestedBy string    `json:"requestedBy"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SessionSnapshot is the full authoritative view a client reconciles
// against. Clients replace their derived state wholesale with every
// snapshot; there is no incremental patch form.
type SessionSnapshot struct {
	SessionId   string           `json:"sessionId"`
	Status      string           `json:"status"`
	Turn        string           `json:"turn"`
	Fen         string           `json:"fen"`
	Ply         int              `json:"ply"`
	Moves       []MoveState      `json:"moves"`
	Movetext    string           `json:"movetext,omitempty"`
	TimeControl TimeControlState `json:"timeControl"`
	Clocks      ClockSnapshot    `json:"clocks"`
	Players     []PlayerState    `json:"players"`
	Pause       *PauseState      `json:"pause,omitempty"`
	Resume      *ResumeState     `json:"resume,omitempty"`
	EndReason   string           `json:"endReason,omitempty"`
	WinnerId    string           `json:"winnerId,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func SessionToSnapshot(s *entities.GameSession) SessionSnapshot {
	snap := SessionSnapshot{
		SessionId: s.Id,
		Status:    string(s.Status),
		Turn:      string(s.Turn),
		Fen:       s.Fen,
		Ply:       s.Ply,
		Movetext:  gamecodec.Movetext(s.Moves),
		TimeControl: TimeControlState{
			InitialMs:   s.TimeControl.InitialMs,
			IncrementMs: s.TimeControl.IncrementMs,
		},
		Clocks: ClockSnapshot{
			WhiteMs:    s.Clocks.WhiteMs,
			BlackMs:    s.Clocks.BlackMs,
			BoundaryAt: s.Clocks.BoundaryAt,
		},
		EndReason: string(s.EndReason),
		WinnerId:  s.WinnerId,
		UpdatedAt: s.UpdatedAt,
	}
	for _, m := range s.Moves {
		snap.Moves = append(snap.Moves, MoveState{
			San:         m.San,
			Mover:       string(m.Mover),
			TimeTakenMs: m.TimeTakenMs,
		})
	}
	for _, p := range s.Players {
		snap.Players = append(snap.Players, PlayerState{
			Id:         p.Id,
			Color:      string(p.Color),
			Connected:  p.Connected,
			LastSeenAt: p.LastSeenAt,
		})
	}
	if s.Pause != nil {
		snap.Pause = &PauseState{
			By:     s.Pause.By,
			Reason: string(s.Pause.Reason),
			At:     s.Pause.At,
		}
	}
	if s.Resume != nil {
		snap.Resume = &ResumeState{
			RequestedBy: s.Resume.RequestedBy,
			CreatedAt:   s.Resume.CreatedAt,
			ExpiresAt:   s.Resume.ExpiresAt,
		}
	}
	return snap
}

type CreateSessionRequest struct {
	WhiteId     string `json:"whiteId"`
	BlackId     string `json:"blackId"`
	InitialMs   int64  `json:"initialMs"`
	IncrementMs int64  `json:"incrementMs"`
}
