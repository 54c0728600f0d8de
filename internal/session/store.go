// Package session is the authoritative store for multiplayer game sessions.
// All turn, status and clock checks happen here; nothing is trusted from
// client-supplied state. Mutations on one session serialize through Redis
// WATCH transactions, so concurrent requests from both players cannot
// interleave into an inconsistent record.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/internal/domains/dtos"
	"github.com/livechess-gg/livechess/internal/domains/entities"
	"github.com/livechess-gg/livechess/internal/engine"
	"github.com/livechess-gg/livechess/internal/events"
	"github.com/livechess-gg/livechess/pkg/gamecodec"
	"github.com/livechess-gg/livechess/pkg/logging"
)

type Store struct {
	rdb     *redis.Client
	engine  engine.Engine
	channel events.Publisher
	clock   clockwork.Clock
	policy  Policy
}

func NewStore(
	rdb *redis.Client,
	eng engine.Engine,
	channel events.Publisher,
	clock clockwork.Clock,
	policy Policy,
) *Store {
	return &Store{
		rdb:     rdb,
		engine:  eng,
		channel: channel,
		clock:   clock,
		policy:  policy,
	}
}

func sessionKey(id string) string { return "session:" + id }
func userIndexKey(userId string) string {
	return "session:index:user:" + userId
}

const allSessionsKey = "session:index:all"

// Sessions cross the storage boundary with the move history in its compact
// string form; the structured sequence is rebuilt on every read.
func marshalSession(sess *entities.GameSession) ([]byte, error) {
	sess.EncodedMoves = gamecodec.Encode(sess.Moves)
	return json.Marshal(sess)
}

func unmarshalSession(raw []byte) (*entities.GameSession, error) {
	var sess entities.GameSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	moves, err := gamecodec.Decode(sess.EncodedMoves)
	if err != nil {
		return nil, fmt.Errorf("corrupt move history: %w", err)
	}
	sess.Moves = moves
	return &sess, nil
}

// CreateSession sets up a session in waiting. Players[0] is white.
func (s *Store) CreateSession(
	ctx context.Context,
	whiteId, blackId string,
	tc entities.TimeControl,
) (*entities.GameSession, error) {
	if whiteId == "" || blackId == "" || whiteId == blackId {
		return nil, fmt.Errorf("%w: need two distinct players", ErrNotAPlayer)
	}
	if tc.InitialMs <= 0 || tc.IncrementMs < 0 {
		return nil, fmt.Errorf("invalid time control: %+v", tc)
	}

	now := s.clock.Now().UTC()
	sess := &entities.GameSession{
		Id: uuid.NewString(),
		Players: []entities.Player{
			{Id: whiteId, Color: entities.White},
			{Id: blackId, Color: entities.Black},
		},
		Status:      entities.StatusWaiting,
		Turn:        entities.White,
		TimeControl: tc,
		Clocks: entities.ClockState{
			WhiteMs:    tc.InitialMs,
			BlackMs:    tc.InitialMs,
			BoundaryAt: now,
		},
		Fen:       s.engine.StartingFen(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	raw, err := marshalSession(sess)
	if err != nil {
		return nil, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.Id), raw, s.policy.SessionTTL)
	pipe.SAdd(ctx, allSessionsKey, sess.Id)
	pipe.SAdd(ctx, userIndexKey(whiteId), sess.Id)
	pipe.SAdd(ctx, userIndexKey(blackId), sess.Id)
	pipe.Expire(ctx, userIndexKey(whiteId), s.policy.SessionTTL)
	pipe.Expire(ctx, userIndexKey(blackId), s.policy.SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	logging.Info("session created",
		zap.String("session_id", sess.Id),
		zap.String("white", whiteId),
		zap.String("black", blackId),
		zap.Int64("initial_ms", tc.InitialMs),
		zap.Int64("increment_ms", tc.IncrementMs),
	)
	return sess, nil
}

// GetSession returns the session with expired resume requests scrubbed.
// Expiry is evaluated lazily at access time; readers never see a request
// past its expiry or the staleness ceiling.
func (s *Store) GetSession(ctx context.Context, id string) (*entities.GameSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess, err := unmarshalSession(raw)
	if err != nil {
		return nil, err
	}
	if sess.Resume != nil && s.liveResume(sess, s.clock.Now().UTC()) == nil {
		sess.Resume = nil
	}
	return sess, nil
}

// Snapshot is the polling fallback view of a session.
func (s *Store) Snapshot(ctx context.Context, id string) (dtos.SessionSnapshot, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return dtos.SessionSnapshot{}, err
	}
	return dtos.SessionToSnapshot(sess), nil
}

// SessionsForUser lists session ids the player participates in.
func (s *Store) SessionsForUser(ctx context.Context, userId string) ([]string, error) {
	return s.rdb.SMembers(ctx, userIndexKey(userId)).Result()
}

// update applies fn to the session under a WATCH transaction. A concurrent
// writer aborts the transaction and the caller gets ErrConflict; per design,
// conflicts are surfaced, not retried.
func (s *Store) update(
	ctx context.Context,
	id string,
	fn func(*entities.GameSession) error,
) (*entities.GameSession, error) {
	key := sessionKey(id)
	var out *entities.GameSession

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		cur, err := unmarshalSession(raw)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		cur.UpdatedAt = s.clock.Now().UTC()

		newRaw, err := marshalSession(cur)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, s.policy.SessionTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = cur
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordMove validates and applies a move for actingPlayer. ply is the
// base-position check: the submitted value must match the current ply or the
// move is rejected as stale, which keeps duplicate and out-of-order
// submissions from applying.
func (s *Store) RecordMove(
	ctx context.Context,
	id, actingPlayer, moveStr string,
	ply int,
) (*entities.GameSession, error) {
	sess, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		if cur.Status != entities.StatusActive {
			return ErrGameNotActive
		}
		mover, ok := cur.PlayerById(actingPlayer)
		if !ok {
			return ErrNotAPlayer
		}
		if mover.Color != cur.Turn {
			return fmt.Errorf("%w: %s to move", ErrNotYourTurn, cur.Turn)
		}
		if ply != cur.Ply {
			return fmt.Errorf("%w: have ply %d, got %d", ErrStaleMove, cur.Ply, ply)
		}

		res, err := s.engine.Apply(cur.Fen, moveStr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMove, err)
		}

		now := s.clock.Now().UTC()
		taken := now.Sub(cur.Clocks.BoundaryAt).Milliseconds()
		if taken < 0 {
			taken = 0
		}
		remaining := cur.Clocks.Remaining(mover.Color) - taken

		cur.Moves = append(cur.Moves, entities.MoveRecord{
			San:         res.San,
			Mover:       mover.Color,
			TimeTakenMs: taken,
		})
		cur.Fen = res.Fen
		cur.Ply++
		cur.DrawOffers = nil
		cur.Clocks.BoundaryAt = now

		if remaining <= 0 {
			// Flag fell before the move completed: the mover loses on
			// time regardless of what the move was.
			cur.Clocks.SetRemaining(mover.Color, 0)
			opponent, _ := cur.OpponentOf(actingPlayer)
			finalize(cur, entities.StatusFinished, entities.EndTimeout, opponent.Id)
			return nil
		}

		cur.Clocks.SetRemaining(mover.Color, remaining+cur.TimeControl.IncrementMs)
		cur.Turn = cur.Turn.Other()

		if res.GameOver {
			winnerId := ""
			if res.WinnerColor != "" {
				winnerId = cur.PlayerByColor(res.WinnerColor).Id
			}
			finalize(cur, entities.StatusFinished, res.EndReason, winnerId)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	evType := events.TypeMove
	if sess.Status.Terminal() {
		evType = events.TypeFinished
	}
	s.broadcast(sess, evType, actingPlayer)
	return sess, nil
}

// Pause freezes the game. The side to move is charged for the time elapsed
// since the last boundary; if that empties its clock the game ends on time
// instead of pausing.
func (s *Store) Pause(
	ctx context.Context,
	id, actingPlayer string,
	reason entities.PauseReason,
) (*entities.GameSession, error) {
	sess, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		if cur.Status != entities.StatusActive {
			return ErrGameNotActive
		}
		if _, ok := cur.PlayerById(actingPlayer); !ok {
			return ErrNotAPlayer
		}
		now := s.clock.Now().UTC()
		if !s.freezeClock(cur, now) {
			return nil
		}
		cur.Status = entities.StatusPaused
		cur.Pause = &entities.PauseInfo{
			By:     actingPlayer,
			Reason: reason,
			At:     now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sess.Status.Terminal() {
		s.broadcast(sess, events.TypeFinished, actingPlayer)
	} else {
		s.broadcast(sess, events.TypePaused, actingPlayer)
	}
	return sess, nil
}

// freezeClock charges the side to move up to now and moves the boundary.
// Returns false when the charge emptied the clock and the session was
// finished on time instead.
func (s *Store) freezeClock(cur *entities.GameSession, now time.Time) bool {
	elapsed := now.Sub(cur.Clocks.BoundaryAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := cur.Clocks.Remaining(cur.Turn) - elapsed
	cur.Clocks.BoundaryAt = now
	if remaining <= 0 {
		cur.Clocks.SetRemaining(cur.Turn, 0)
		loser := cur.PlayerByColor(cur.Turn)
		winner, _ := cur.OpponentOf(loser.Id)
		finalize(cur, entities.StatusFinished, entities.EndTimeout, winner.Id)
		return false
	}
	cur.Clocks.SetRemaining(cur.Turn, remaining)
	return true
}

// ActivateOnBothConnected transitions waiting to active once both players
// have been seen connected within the online window. Anything less is a
// no-op returning the unchanged session, so one player can never move
// before the opponent is actually present.
func (s *Store) ActivateOnBothConnected(ctx context.Context, id string) (*entities.GameSession, error) {
	return s.update(ctx, id, func(cur *entities.GameSession) error {
		s.tryActivate(cur)
		return nil
	})
}

func (s *Store) tryActivate(cur *entities.GameSession) bool {
	if cur.Status != entities.StatusWaiting {
		return false
	}
	now := s.clock.Now().UTC()
	for i := range cur.Players {
		p := &cur.Players[i]
		if !p.Connected || now.Sub(p.LastSeenAt) > s.policy.OnlineWindow {
			return false
		}
	}
	cur.Status = entities.StatusActive
	cur.Turn = entities.White
	cur.Clocks.BoundaryAt = now
	logging.Info("session activated", zap.String("session_id", cur.Id))
	return true
}

// MarkConnected records a live connection for the player and activates the
// session if both sides are now present.
func (s *Store) MarkConnected(ctx context.Context, id, playerId string) (*entities.GameSession, error) {
	sess, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		p, ok := cur.PlayerById(playerId)
		if !ok {
			return ErrNotAPlayer
		}
		p.Connected = true
		p.LastSeenAt = s.clock.Now().UTC()
		s.tryActivate(cur)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(sess, events.TypePlayerConnected, playerId)
	return sess, nil
}

// MarkDisconnected drops the player's connection state and pauses an active
// game so the opponent's clock is not bled by an absent peer.
func (s *Store) MarkDisconnected(ctx context.Context, id, playerId string) (*entities.GameSession, error) {
	paused := false
	sess, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		p, ok := cur.PlayerById(playerId)
		if !ok {
			return ErrNotAPlayer
		}
		p.Connected = false
		p.LastSeenAt = s.clock.Now().UTC()
		if cur.Status == entities.StatusActive {
			now := s.clock.Now().UTC()
			if s.freezeClock(cur, now) {
				cur.Status = entities.StatusPaused
				cur.Pause = &entities.PauseInfo{
					By:     playerId,
					Reason: entities.PauseDisconnect,
					At:     now,
				}
				paused = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(sess, events.TypePlayerDisconnected, playerId)
	if paused {
		s.broadcast(sess, events.TypePaused, playerId)
	}
	return sess, nil
}

// Heartbeat refreshes presence without emitting events.
func (s *Store) Heartbeat(ctx context.Context, id, playerId string) error {
	_, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		p, ok := cur.PlayerById(playerId)
		if !ok {
			return ErrNotAPlayer
		}
		p.LastSeenAt = s.clock.Now().UTC()
		return nil
	})
	return err
}

// Finish terminates the session. Idempotent: finishing an already-terminal
// session returns the terminal state unchanged, because simultaneous
// end-of-game triggers from both clients are expected.
func (s *Store) Finish(
	ctx context.Context,
	id string,
	reason entities.EndReason,
	winnerId string,
) (*entities.GameSession, error) {
	already := false
	sess, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		if cur.Status.Terminal() {
			already = true
			return nil
		}
		if cur.Status == entities.StatusActive {
			now := s.clock.Now().UTC()
			if !s.freezeClock(cur, now) {
				already = false
				return nil
			}
		}
		status := entities.StatusFinished
		if reason == entities.EndAborted {
			status = entities.StatusAborted
		}
		finalize(cur, status, reason, winnerId)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !already {
		s.broadcast(sess, events.TypeFinished, "")
	}
	return sess, nil
}

// Resign ends the game in the opponent's favor.
func (s *Store) Resign(ctx context.Context, id, playerId string) (*entities.GameSession, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}
	if _, ok := sess.PlayerById(playerId); !ok {
		return nil, ErrNotAPlayer
	}
	winner, _ := sess.OpponentOf(playerId)
	return s.Finish(ctx, id, entities.EndResignation, winner.Id)
}

// OfferDraw records a standing draw offer; when both players hold one the
// game ends by agreement. Offers are cleared by the next move.
func (s *Store) OfferDraw(ctx context.Context, id, playerId string) (*entities.GameSession, error) {
	agreed := false
	sess, err := s.update(ctx, id, func(cur *entities.GameSession) error {
		if cur.Status != entities.StatusActive {
			return ErrGameNotActive
		}
		if _, ok := cur.PlayerById(playerId); !ok {
			return ErrNotAPlayer
		}
		for _, offer := range cur.DrawOffers {
			if offer == playerId {
				return nil
			}
		}
		cur.DrawOffers = append(cur.DrawOffers, playerId)
		if len(cur.DrawOffers) == len(cur.Players) {
			now := s.clock.Now().UTC()
			if s.freezeClock(cur, now) {
				finalize(cur, entities.StatusFinished, entities.EndDrawAgreement, "")
			}
			agreed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if agreed {
		s.broadcast(sess, events.TypeFinished, playerId)
	}
	return sess, nil
}

func finalize(
	cur *entities.GameSession,
	status entities.SessionStatus,
	reason entities.EndReason,
	winnerId string,
) {
	cur.Status = status
	cur.EndReason = reason
	cur.WinnerId = winnerId
	cur.Resume = nil
	cur.DrawOffers = nil
}

// broadcast pushes the post-mutation snapshot to both players. Push failure
// never fails the mutation; the receipt only informs delivery certainty.
func (s *Store) broadcast(
	sess *entities.GameSession,
	evType events.Type,
	actor string,
) events.Receipt {
	if s.channel == nil {
		return events.Receipt{}
	}
	snap := dtos.SessionToSnapshot(sess)
	ev := events.Event{
		Type:      evType,
		SessionId: sess.Id,
		Actor:     actor,
		Snapshot:  &snap,
		At:        s.clock.Now().UTC(),
	}
	var receipt events.Receipt
	for _, p := range sess.Players {
		receipt = receipt.Merge(s.channel.Publish(p.Id, ev))
	}
	return receipt
}
