package dtos

import "time"

// ResumeAck is returned to the requester when a resume request is accepted
// for delivery. DeliveryCertainty is honest about what actually happened:
// "delivered" only when at least one live subscriber received the push,
// otherwise "push-attempted" and the opponent will learn of the request by
// polling.
type ResumeAck struct {
	Accepted          bool      `json:"accepted"`
	ExpiresAt         time.Time `json:"expiresAt"`
	OpponentId        string    `json:"opponentId"`
	DeliveryCertainty string    `json:"deliveryCertainty"`
}

// ResumeRejection carries everything a client needs to compute "when can I
// retry" without guessing.
type ResumeRejection struct {
	Accepted     bool      `json:"accepted"`
	Reason       string    `json:"reason"`
	RequestedBy  string    `json:"requestedBy"`
	ExpiresAt    time.Time `json:"expiresAt"`
	RetryAfterMs int64     `json:"retryAfterMs,omitempty"`
}
