package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/domain"
)

// RedisBus publishes notes over Redis Pub/Sub, one channel per fixture
// topic. Pub/Sub is fire-and-forget which matches the bus contract;
// durable replay stays in the note log.
type RedisBus struct {
	client *redis.Client

	mu      sync.RWMutex
	started bool
	subs    map[*redisSub]struct{}
}

type redisSub struct {
	bus    *RedisBus
	pubsub *redis.PubSub
	once   sync.Once
}

// NewRedisBus parses the DSN and builds the client. The connection is
// verified in Start, not here.
func NewRedisBus(dsn string) (*RedisBus, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis DSN: %w", err)
	}
	return newRedisBus(redis.NewClient(opts)), nil
}

func newRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, subs: make(map[*redisSub]struct{})}
}

func (b *RedisBus) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}

	b.mu.Lock()
	b.started = true
	b.mu.Unlock()

	log.Info().Str("component", "stream").Str("backend", "redis").Msg("Bus started")
	return nil
}

func (b *RedisBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	subs := make([]*redisSub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*redisSub]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.closePubSub()
	}
	return b.client.Close()
}

func (b *RedisBus) Publish(ctx context.Context, note domain.Note) error {
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if !started {
		return ErrBusNotStarted
	}

	payload, err := note.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode note: %w", err)
	}
	if err := b.client.Publish(ctx, note.Topic(), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", note.Topic(), err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil, ErrBusNotStarted
	}
	pubsub := b.client.Subscribe(ctx, topic)
	s := &redisSub{bus: b, pubsub: pubsub}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	// Confirm the SUBSCRIBE round trip before declaring success.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = s.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			note, err := domain.DecodeNote([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Str("topic", msg.Channel).Msg("Discarding undecodable note")
				continue
			}
			h(ctx, note)
		}
	}()
	return s, nil
}

func (b *RedisBus) Health() HealthStatus {
	b.mu.RLock()
	started := b.started
	n := len(b.subs)
	b.mu.RUnlock()

	st := HealthStatus{
		Healthy:     started,
		Backend:     "redis",
		Subscribers: n,
		LastCheck:   time.Now().UTC(),
	}
	if !started {
		st.Errors = append(st.Errors, ErrBusNotStarted.Error())
		return st
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		st.Healthy = false
		st.Errors = append(st.Errors, err.Error())
	}
	return st
}

func (s *redisSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.closePubSub()
}

func (s *redisSub) closePubSub() error {
	var err error
	s.once.Do(func() { err = s.pubsub.Close() })
	return err
}
