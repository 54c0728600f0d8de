package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/internal/domains/entities"
	"github.com/livechess-gg/livechess/pkg/logging"
)

// RunCleanup garbage-collects in the background until ctx is cancelled.
// Expiry is already evaluated lazily on every access; this sweep only keeps
// the store tidy (expired resume rows, never-activated sessions, terminal
// index entries).
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
			if n, err := s.CleanupOnce(ctx); err != nil {
				logging.Error("cleanup sweep failed", zap.Error(err))
			} else if n > 0 {
				logging.Info("cleanup sweep", zap.Int("touched", n))
			}
		}
	}
}

// CleanupOnce performs a single sweep and reports how many sessions it
// touched.
func (s *Store) CleanupOnce(ctx context.Context) (int, error) {
	ids, err := s.rdb.SMembers(ctx, allSessionsKey).Result()
	if err != nil {
		return 0, err
	}

	touched := 0
	now := s.clock.Now().UTC()
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err == ErrSessionNotFound {
			s.rdb.SRem(ctx, allSessionsKey, id)
			touched++
			continue
		}
		if err != nil {
			return touched, err
		}

		switch {
		case sess.Status.Terminal():
			s.rdb.SRem(ctx, allSessionsKey, id)
			touched++

		case sess.Status == entities.StatusWaiting &&
			now.Sub(sess.CreatedAt) > s.policy.CancelTimeout:
			if _, err := s.Finish(ctx, id, entities.EndAborted, ""); err == nil {
				touched++
			}

		case sess.Status == entities.StatusPaused:
			// GetSession scrubbed the expired request from its copy; clear
			// the stored row too.
			cleared := false
			_, err := s.update(ctx, id, func(cur *entities.GameSession) error {
				if cur.Resume != nil && s.liveResume(cur, now) == nil {
					cur.Resume = nil
					cleared = true
				}
				return nil
			})
			if err == nil && cleared {
				touched++
			}
		}
	}
	return touched, nil
}
