package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/livechess-gg/livechess/pkg/logging"
)

// RedisChannel pushes events over Redis pub/sub, one channel per player
// identity.
type RedisChannel struct {
	rdb *redis.Client
}

func NewRedisChannel(rdb *redis.Client) *RedisChannel {
	return &RedisChannel{rdb: rdb}
}

func userChannel(userId string) string {
	return "user:" + userId + ":events"
}

// Publish never returns an error: push failure is logged and reported as an
// unattempted receipt; the caller's state mutation already committed and the
// poll fallback covers the gap.
func (c *RedisChannel) Publish(userId string, ev Event) Receipt {
	raw, err := json.Marshal(ev)
	if err != nil {
		logging.Error("failed to encode event",
			zap.String("user_id", userId),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return Receipt{}
	}
	n, err := c.rdb.Publish(context.Background(), userChannel(userId), raw).Result()
	if err != nil {
		logging.Error("failed to publish event",
			zap.String("user_id", userId),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return Receipt{Attempted: true}
	}
	return Receipt{Attempted: true, Receivers: n}
}

// Subscription is one player's live event feed.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
	done   chan struct{}
}

// Subscribe opens the per-user channel and starts decoding events into
// Events(). Close it when the consuming view unmounts; remounting a view
// always opens a fresh subscription.
func (c *RedisChannel) Subscribe(ctx context.Context, userId string) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, userChannel(userId))
	// Force the subscription onto the wire before reporting success, so a
	// publish racing this call is counted in its receiver total.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go sub.pump(userId)
	return sub, nil
}

func (s *Subscription) pump(userId string) {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logging.Error("dropping undecodable event",
				zap.String("user_id", userId),
				zap.Error(err),
			)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.pubsub.Close()
}
