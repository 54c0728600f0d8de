package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/internal/domains/dtos"
	"github.com/livechess-gg/livechess/internal/domains/entities"
	"github.com/livechess-gg/livechess/internal/events"
	"github.com/livechess-gg/livechess/pkg/logging"
)

// liveResume returns the pending resume request, treating expired and
// over-the-ceiling requests as absent for all purposes.
func (s *Store) liveResume(cur *entities.GameSession, now time.Time) *entities.ResumeRequest {
	r := cur.PendingResume(now)
	if r == nil {
		return nil
	}
	if r.Age(now) >= s.policy.StalenessCeiling {
		return nil
	}
	return r
}

// RequestResume asks to resume a paused game.
//
// Rules, in order:
//   - only valid while the game is paused;
//   - a live request from the same player younger than the retry window is
//     rejected with enough data for the client to compute when to retry;
//   - after the retry window the same player's request is re-issued fresh;
//   - a live request from the other player is rejected within the override
//     grace, and superseded past it, so an idle requester cannot deadlock
//     the game;
//   - expired or over-ceiling requests count as absent.
func (s *Store) RequestResume(
	ctx context.Context,
	id, requesterId string,
) (*dtos.ResumeAck, error) {
	var opponentId string
	sess, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		if _, ok := cur.PlayerById(requesterId); !ok {
			return ErrNotAPlayer
		}
		if cur.Status != entities.StatusPaused {
			return ErrGameNotPaused
		}

		now := s.clock.Now().UTC()
		if r := s.liveResume(cur, now); r != nil {
			age := r.Age(now)
			if r.RequestedBy == requesterId {
				if age < s.policy.SameRequesterRetry {
					return &ResumeRejectedError{
						RequestedBy: r.RequestedBy,
						ExpiresAt:   r.ExpiresAt,
						RetryAfter:  s.policy.SameRequesterRetry - age,
					}
				}
			} else if age <= s.policy.OpponentOverride {
				return &ResumeRejectedError{
					RequestedBy: r.RequestedBy,
					ExpiresAt:   r.ExpiresAt,
					RetryAfter:  s.policy.OpponentOverride - age,
				}
			}
			// Past its window: the old request is cleared and this one
			// supersedes it.
		}

		// Snapshot the notification target before the state write; the
		// request record is about to be replaced.
		opponent, _ := cur.OpponentOf(requesterId)
		opponentId = opponent.Id

		cur.Resume = &entities.ResumeRequest{
			RequestedBy: requesterId,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.policy.ResumeRequestTTL),
			Status:      entities.ResumePending,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap := dtos.SessionToSnapshot(sess)
	var receipt events.Receipt
	if s.channel != nil {
		receipt = s.channel.Publish(opponentId, events.Event{
			Type:      events.TypeResumeRequested,
			SessionId: sess.Id,
			Actor:     requesterId,
			Snapshot:  &snap,
			At:        s.clock.Now().UTC(),
		})
	}

	logging.Info("resume requested",
		zap.String("session_id", sess.Id),
		zap.String("requested_by", requesterId),
		zap.String("delivery", receipt.Certainty()),
	)
	return &dtos.ResumeAck{
		Accepted:          true,
		ExpiresAt:         sess.Resume.ExpiresAt,
		OpponentId:        opponentId,
		DeliveryCertainty: receipt.Certainty(),
	}, nil
}

// RespondResume accepts or declines the pending request. The requester's
// identity is captured before the clearing write: declining notifies the
// requester with the decliner's identity, accepting reactivates the game
// with the resume grace credited to the side to move.
func (s *Store) RespondResume(
	ctx context.Context,
	id, responderId string,
	accept bool,
) (*entities.GameSession, error) {
	var requesterId string
	sess, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		if _, ok := cur.PlayerById(responderId); !ok {
			return ErrNotAPlayer
		}
		now := s.clock.Now().UTC()
		r := s.liveResume(cur, now)
		if r == nil {
			return ErrNoPendingRequest
		}
		if r.RequestedBy == responderId {
			return fmt.Errorf("%w: %s", ErrNotAuthorized, responderId)
		}

		requesterId = r.RequestedBy
		cur.Resume = nil
		if accept {
			cur.Status = entities.StatusActive
			cur.Pause = nil
			grace := s.policy.ResumeGrace.Milliseconds()
			cur.Clocks.SetRemaining(cur.Turn, cur.Clocks.Remaining(cur.Turn)+grace)
			cur.Clocks.BoundaryAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if accept {
		s.broadcast(sess, events.TypeResumeAccepted, responderId)
		logging.Info("resume accepted",
			zap.String("session_id", sess.Id),
			zap.String("responder", responderId),
		)
	} else if s.channel != nil {
		snap := dtos.SessionToSnapshot(sess)
		s.channel.Publish(requesterId, events.Event{
			Type:      events.TypeResumeDeclined,
			SessionId: sess.Id,
			Actor:     responderId,
			Snapshot:  &snap,
			At:        s.clock.Now().UTC(),
		})
		logging.Info("resume declined",
			zap.String("session_id", sess.Id),
			zap.String("responder", responderId),
			zap.String("requested_by", requesterId),
		)
	}
	return sess, nil
}
