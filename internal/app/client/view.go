package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/livechess-gg/livechess/internal/clock"
	"github.com/livechess-gg/livechess/internal/domains/dtos"
	"github.com/livechess-gg/livechess/internal/domains/entities"
)

// View is the client's derived picture of one game session. Every
// authoritative snapshot replaces the whole view; the local tick only
// smooths the displayed countdown between snapshots and is overwritten by
// the next one. Nothing here is ever treated as authoritative.
type View struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	snap       dtos.SessionSnapshot
	haveSnap   bool
	receivedAt time.Time
}

func NewView(clk clockwork.Clock) *View {
	return &View{clock: clk}
}

// ApplySnapshot replaces the derived state wholesale. Snapshots older than
// the current one (a poll response racing a push) are ignored; equal or
// newer always win, eliminating drift from missed intermediate events.
func (v *View) ApplySnapshot(snap dtos.SessionSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.haveSnap && snap.UpdatedAt.Before(v.snap.UpdatedAt) {
		return
	}
	v.snap = snap
	v.haveSnap = true
	v.receivedAt = v.clock.Now()
}

// Snapshot returns the last applied snapshot, if any.
func (v *View) Snapshot() (dtos.SessionSnapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap, v.haveSnap
}

// Clocks is the displayed countdown: the authoritative values, with the
// side to move charged locally for time elapsed since the snapshot arrived
// while the game is active. Display only; never sent back to the server.
func (v *View) Clocks() (whiteMs, blackMs int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	whiteMs = v.snap.Clocks.WhiteMs
	blackMs = v.snap.Clocks.BlackMs
	if !v.haveSnap || v.snap.Status != "active" {
		return whiteMs, blackMs
	}
	elapsed := v.clock.Now().Sub(v.receivedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if v.snap.Turn == "white" {
		whiteMs = max64(0, whiteMs-elapsed)
	} else {
		blackMs = max64(0, blackMs-elapsed)
	}
	return whiteMs, blackMs
}

// DerivedClocks recomputes both countdowns purely from the move history,
// independent of the server-reported clock block. Without a snapshot it
// returns the uniform fallback for a zero time control, which is all the
// client can honestly display. Derived values ignore pause charges; the
// authoritative Clocks() is what the UI should normally show.
func (v *View) DerivedClocks() (whiteMs, blackMs int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tc := entities.TimeControl{
		InitialMs:   v.snap.TimeControl.InitialMs,
		IncrementMs: v.snap.TimeControl.IncrementMs,
	}
	if !v.haveSnap {
		return clock.Fallback(tc)
	}
	moves := make([]entities.MoveRecord, 0, len(v.snap.Moves))
	for _, m := range v.snap.Moves {
		moves = append(moves, entities.MoveRecord{
			San:         m.San,
			Mover:       entities.Color(m.Mover),
			TimeTakenMs: m.TimeTakenMs,
		})
	}
	if v.snap.Status != "active" {
		return clock.Remaining(moves, tc)
	}
	return clock.LiveRemaining(
		moves, tc,
		v.snap.Clocks.BoundaryAt,
		clock.TurnFromHistory(moves),
		v.clock.Now(),
	)
}

func (v *View) Status() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap.Status
}

func (v *View) Turn() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap.Turn
}

func (v *View) Ply() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap.Ply
}

// OpponentOnline reports presence from the last snapshot: connected and
// seen within the heartbeat-miss window.
func (v *View) OpponentOnline(selfId string, window time.Duration) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.haveSnap {
		return false
	}
	now := v.clock.Now()
	for _, p := range v.snap.Players {
		if p.Id == selfId {
			continue
		}
		return p.Connected && now.Sub(p.LastSeenAt) <= window
	}
	return false
}

// PendingResume returns the live resume request, treating anything at or
// past expiry as absent, mirroring the server's lazy evaluation.
func (v *View) PendingResume() (dtos.ResumeState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snap.Resume == nil {
		return dtos.ResumeState{}, false
	}
	if !v.clock.Now().Before(v.snap.Resume.ExpiresAt) {
		return dtos.ResumeState{}, false
	}
	return *v.snap.Resume, true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
