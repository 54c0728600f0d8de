package session

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livechess-gg/livechess/internal/clock"
	"github.com/livechess-gg/livechess/internal/domains/entities"
	"github.com/livechess-gg/livechess/internal/engine"
	"github.com/livechess-gg/livechess/internal/events"
)

var tenMinutes = entities.TimeControl{InitialMs: 600_000, IncrementMs: 0}

type capturedEvent struct {
	UserId string
	Event  events.Event
}

// capturingChannel records publishes and pretends one subscriber is
// listening per player.
type capturingChannel struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *capturingChannel) Publish(userId string, ev events.Event) events.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{UserId: userId, Event: ev})
	return events.Receipt{Attempted: true, Receivers: 1}
}

func (c *capturingChannel) byType(t events.Type) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, ev := range c.events {
		if ev.Event.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock, *capturingChannel) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ch := &capturingChannel{}
	return NewStore(rdb, engine.New(), ch, clk, DefaultPolicy()), clk, ch
}

func activeSession(t *testing.T, s *Store) *entities.GameSession {
	t.Helper()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "alice", "bob", tenMinutes)
	require.NoError(t, err)
	_, err = s.MarkConnected(ctx, sess.Id, "alice")
	require.NoError(t, err)
	sess, err = s.MarkConnected(ctx, sess.Id, "bob")
	require.NoError(t, err)
	require.Equal(t, entities.StatusActive, sess.Status)
	return sess
}

func TestCreateSessionWaiting(t *testing.T) {
	s, _, _ := newTestStore(t)
	sess, err := s.CreateSession(context.Background(), "alice", "bob", tenMinutes)
	require.NoError(t, err)

	assert.Equal(t, entities.StatusWaiting, sess.Status)
	assert.Equal(t, entities.White, sess.Turn)
	assert.Equal(t, int64(600_000), sess.Clocks.WhiteMs)
	assert.Equal(t, int64(600_000), sess.Clocks.BlackMs)
	assert.NotEmpty(t, sess.Fen)
	assert.Equal(t, "alice", sess.PlayerByColor(entities.White).Id)
	assert.Equal(t, "bob", sess.PlayerByColor(entities.Black).Id)
}

func TestCreateSessionValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "alice", "alice", tenMinutes)
	assert.Error(t, err)
	_, err = s.CreateSession(ctx, "alice", "", tenMinutes)
	assert.Error(t, err)
	_, err = s.CreateSession(ctx, "alice", "bob", entities.TimeControl{InitialMs: 0})
	assert.Error(t, err)
}

func TestActivateOnBothConnected(t *testing.T) {
	// Scenario E: one connected player is not enough.
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "alice", "bob", tenMinutes)
	require.NoError(t, err)

	_, err = s.MarkConnected(ctx, sess.Id, "alice")
	require.NoError(t, err)
	got, err := s.ActivateOnBothConnected(ctx, sess.Id)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusWaiting, got.Status)

	got, err = s.MarkConnected(ctx, sess.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, got.Status)
	assert.Equal(t, entities.White, got.Turn)
}

func TestActivationIgnoresStalePresence(t *testing.T) {
	s, clk, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "alice", "bob", tenMinutes)
	require.NoError(t, err)
	_, err = s.MarkConnected(ctx, sess.Id, "alice")
	require.NoError(t, err)

	// Alice was seen long ago; a merely "ever connected" flag must not
	// activate the game.
	clk.Advance(3 * time.Minute)
	got, err := s.MarkConnected(ctx, sess.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusWaiting, got.Status)

	// A fresh heartbeat from alice makes activation possible.
	require.NoError(t, s.Heartbeat(ctx, sess.Id, "alice"))
	got, err = s.ActivateOnBothConnected(ctx, sess.Id)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, got.Status)
}

func TestRecordMoveFlow(t *testing.T) {
	s, clk, ch := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	clk.Advance(2500 * time.Millisecond)
	got, err := s.RecordMove(ctx, sess.Id, "alice", "e2e4", 0)
	require.NoError(t, err)

	require.Len(t, got.Moves, 1)
	assert.Equal(t, "e4", got.Moves[0].San)
	assert.Equal(t, entities.White, got.Moves[0].Mover)
	assert.Equal(t, int64(2500), got.Moves[0].TimeTakenMs)
	assert.Equal(t, entities.Black, got.Turn)
	assert.Equal(t, 1, got.Ply)
	assert.Equal(t, int64(597_500), got.Clocks.WhiteMs)
	assert.Equal(t, int64(600_000), got.Clocks.BlackMs)

	// The stored clocks agree with the pure model over the same history.
	w, b := clock.Remaining(got.Moves, got.TimeControl)
	assert.Equal(t, got.Clocks.WhiteMs, w)
	assert.Equal(t, got.Clocks.BlackMs, b)

	moveEvents := ch.byType(events.TypeMove)
	require.Len(t, moveEvents, 2) // both players notified
	assert.Equal(t, "alice", moveEvents[0].Event.Actor)
	require.NotNil(t, moveEvents[0].Event.Snapshot)
	assert.Equal(t, "black", moveEvents[0].Event.Snapshot.Turn)
}

func TestRecordMoveIncrement(t *testing.T) {
	s, clk, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "alice", "bob",
		entities.TimeControl{InitialMs: 180_000, IncrementMs: 2000})
	require.NoError(t, err)
	_, err = s.MarkConnected(ctx, sess.Id, "alice")
	require.NoError(t, err)
	_, err = s.MarkConnected(ctx, sess.Id, "bob")
	require.NoError(t, err)

	clk.Advance(5 * time.Second)
	got, err := s.RecordMove(ctx, sess.Id, "alice", "e2e4", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(180_000-5000+2000), got.Clocks.WhiteMs)
}

func TestRecordMoveNotYourTurn(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	_, err := s.RecordMove(ctx, sess.Id, "bob", "e7e5", 0)
	assert.ErrorIs(t, err, ErrNotYourTurn)
	assert.Equal(t, CodeWrongTurn, Code(err))

	// The rejected move must not have mutated anything.
	cur, err := s.GetSession(ctx, sess.Id)
	require.NoError(t, err)
	assert.Empty(t, cur.Moves)
	assert.Equal(t, 0, cur.Ply)
	assert.Equal(t, entities.White, cur.Turn)
	assert.Equal(t, int64(600_000), cur.Clocks.WhiteMs)
}

func TestRecordMoveStalePly(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	_, err := s.RecordMove(ctx, sess.Id, "alice", "e2e4", 0)
	require.NoError(t, err)

	// Re-submitting against the old position is rejected, not re-applied.
	_, err = s.RecordMove(ctx, sess.Id, "bob", "e7e5", 0)
	assert.ErrorIs(t, err, ErrStaleMove)

	_, err = s.RecordMove(ctx, sess.Id, "bob", "e7e5", 1)
	assert.NoError(t, err)
}

func TestRecordMoveGameNotActive(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "alice", "bob", tenMinutes)
	require.NoError(t, err)
	_, err = s.RecordMove(ctx, sess.Id, "alice", "e2e4", 0)
	assert.ErrorIs(t, err, ErrGameNotActive)
}

func TestRecordMoveInvalid(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	_, err := s.RecordMove(ctx, sess.Id, "alice", "e2e5", 0)
	assert.ErrorIs(t, err, ErrInvalidMove)
}

func TestRecordMoveUnknownPlayer(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	_, err := s.RecordMove(ctx, sess.Id, "mallory", "e2e4", 0)
	assert.ErrorIs(t, err, ErrNotAPlayer)
}

func TestFlagFallOnMove(t *testing.T) {
	s, clk, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	clk.Advance(11 * time.Minute)
	got, err := s.RecordMove(ctx, sess.Id, "alice", "e2e4", 0)
	require.NoError(t, err)

	assert.Equal(t, entities.StatusFinished, got.Status)
	assert.Equal(t, entities.EndTimeout, got.EndReason)
	assert.Equal(t, "bob", got.WinnerId)
	assert.Equal(t, int64(0), got.Clocks.WhiteMs)
}

func TestCheckmateFinishesSession(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	moves := []struct {
		player string
		uci    string
	}{
		{"alice", "f2f3"}, {"bob", "e7e5"},
		{"alice", "g2g4"}, {"bob", "d8h4"},
	}
	var got *entities.GameSession
	var err error
	for i, m := range moves {
		got, err = s.RecordMove(ctx, sess.Id, m.player, m.uci, i)
		require.NoError(t, err)
	}
	assert.Equal(t, entities.StatusFinished, got.Status)
	assert.Equal(t, entities.EndCheckmate, got.EndReason)
	assert.Equal(t, "bob", got.WinnerId)
}

func TestPauseFreezesClock(t *testing.T) {
	s, clk, ch := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	clk.Advance(10 * time.Second)
	got, err := s.Pause(ctx, sess.Id, "alice", entities.PauseNavigation)
	require.NoError(t, err)

	assert.Equal(t, entities.StatusPaused, got.Status)
	require.NotNil(t, got.Pause)
	assert.Equal(t, "alice", got.Pause.By)
	assert.Equal(t, entities.PauseNavigation, got.Pause.Reason)
	assert.Equal(t, int64(590_000), got.Clocks.WhiteMs)

	// Time passing while paused must not bleed the clock.
	clk.Advance(5 * time.Minute)
	cur, err := s.GetSession(ctx, sess.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(590_000), cur.Clocks.WhiteMs)

	assert.Len(t, ch.byType(events.TypePaused), 2)
}

func TestPauseWhenNotActive(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "alice", "bob", tenMinutes)
	require.NoError(t, err)
	_, err = s.Pause(ctx, sess.Id, "alice", entities.PauseManual)
	assert.ErrorIs(t, err, ErrGameNotActive)
}

func TestDisconnectPausesActiveGame(t *testing.T) {
	s, _, ch := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	got, err := s.MarkDisconnected(ctx, sess.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusPaused, got.Status)
	require.NotNil(t, got.Pause)
	assert.Equal(t, entities.PauseDisconnect, got.Pause.Reason)
	assert.False(t, playerById(t, got, "bob").Connected)

	assert.NotEmpty(t, ch.byType(events.TypePlayerDisconnected))
}

func TestFinishIdempotent(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	first, err := s.Finish(ctx, sess.Id, entities.EndResignation, "bob")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusFinished, first.Status)

	// Concurrent end-of-game triggers are expected; the second call is a
	// no-op returning the already-finished state, never an error.
	second, err := s.Finish(ctx, sess.Id, entities.EndResignation, "bob")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.EndReason, second.EndReason)
	assert.Equal(t, first.WinnerId, second.WinnerId)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestFinishAbort(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "alice", "bob", tenMinutes)
	require.NoError(t, err)
	got, err := s.Finish(ctx, sess.Id, entities.EndAborted, "")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusAborted, got.Status)
}

func TestResign(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	got, err := s.Resign(ctx, sess.Id, "alice")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusFinished, got.Status)
	assert.Equal(t, entities.EndResignation, got.EndReason)
	assert.Equal(t, "bob", got.WinnerId)
}

func TestDrawByAgreement(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	got, err := s.OfferDraw(ctx, sess.Id, "alice")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusActive, got.Status)

	got, err = s.OfferDraw(ctx, sess.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusFinished, got.Status)
	assert.Equal(t, entities.EndDrawAgreement, got.EndReason)
	assert.Empty(t, got.WinnerId)
}

func TestDrawOffersClearedByMove(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	sess := activeSession(t, s)

	_, err := s.OfferDraw(ctx, sess.Id, "alice")
	require.NoError(t, err)
	got, err := s.RecordMove(ctx, sess.Id, "alice", "e2e4", 0)
	require.NoError(t, err)
	assert.Empty(t, got.DrawOffers)
}

func TestCleanupAbortsNeverStartedSession(t *testing.T) {
	s, clk, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "alice", "bob", tenMinutes)
	require.NoError(t, err)

	clk.Advance(6 * time.Minute)
	n, err := s.CleanupOnce(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	got, err := s.GetSession(ctx, sess.Id)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusAborted, got.Status)
}

func TestSessionsForUser(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "alice", "bob", tenMinutes)
	require.NoError(t, err)

	ids, err := s.SessionsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, ids, sess.Id)
}

// playerById fails the test instead of returning ok=false.
func playerById(t *testing.T, sess *entities.GameSession, id string) *entities.Player {
	t.Helper()
	p, ok := sess.PlayerById(id)
	require.True(t, ok)
	return p
}
