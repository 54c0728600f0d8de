// Package events is the push side of state delivery: best-effort,
// at-most-once notifications over a per-user channel. Anything that matters
// for correctness is reconstructable by polling the session store, so a
// missed event costs latency, never consistency.
package events

import (
	"time"

	"github.com/livechess-gg/livechess/internal/domains/dtos"
)

type Type string

const (
	TypeMove               Type = "move"
	TypePaused             Type = "paused"
	TypeResumeRequested    Type = "resume_requested"
	TypeResumeAccepted     Type = "resume_accepted"
	TypeResumeDeclined     Type = "resume_declined"
	TypePlayerConnected    Type = "player_connected"
	TypePlayerDisconnected Type = "player_disconnected"
	TypeFinished           Type = "finished"
)

// Event is the envelope pushed to clients. Actor identifies who triggered
// the transition (mover, pauser, decliner); Snapshot is the full state so
// receivers can reconcile without a follow-up fetch.
type Event struct {
	Type      Type                  `json:"type"`
	SessionId string                `json:"sessionId"`
	Actor     string                `json:"actor,omitempty"`
	Snapshot  *dtos.SessionSnapshot `json:"snapshot,omitempty"`
	At        time.Time             `json:"at"`
}

// Receipt reports what the push attempt achieved. It is never an error:
// the state mutation it follows has already committed.
type Receipt struct {
	Attempted bool
	Receivers int64
}

const (
	CertaintyDelivered     = "delivered"
	CertaintyPushAttempted = "push-attempted"
)

// Certainty is the wire value reported back to an action's initiator.
func (r Receipt) Certainty() string {
	if r.Receivers > 0 {
		return CertaintyDelivered
	}
	return CertaintyPushAttempted
}

func (r Receipt) Merge(other Receipt) Receipt {
	return Receipt{
		Attempted: r.Attempted || other.Attempted,
		Receivers: r.Receivers + other.Receivers,
	}
}

// Publisher delivers an event to a player identity. Implementations must be
// addressed by player, not by connection, so delivery works regardless of
// which page the client has open.
type Publisher interface {
	Publish(userId string, ev Event) Receipt
}
