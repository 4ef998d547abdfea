package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/domain"
)

// NATSBus publishes notes to NATS core subjects, one subject per
// fixture topic. Core NATS is at-most-once like the rest of the bus
// backends; reconnects are handled by the client library.
type NATSBus struct {
	url string

	mu      sync.RWMutex
	conn    *nats.Conn
	started bool
	subs    map[*natsSub]struct{}
}

type natsSub struct {
	bus  *NATSBus
	sub  *nats.Subscription
	once sync.Once
}

// NewNATSBus records the server URL. The connection is dialed in Start.
func NewNATSBus(url string) *NATSBus {
	return &NATSBus{url: url, subs: make(map[*natsSub]struct{})}
}

func (b *NATSBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	conn, err := nats.Connect(b.url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("component", "stream").Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("component", "stream").Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b.conn = conn
	b.started = true
	log.Info().Str("component", "stream").Str("backend", "nats").Msg("Bus started")
	return nil
}

func (b *NATSBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	b.subs = make(map[*natsSub]struct{})

	// Drain flushes pending messages and unsubscribes everything.
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

func (b *NATSBus) Publish(ctx context.Context, note domain.Note) error {
	b.mu.RLock()
	conn, started := b.conn, b.started
	b.mu.RUnlock()
	if !started {
		return ErrBusNotStarted
	}

	payload, err := note.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode note: %w", err)
	}
	if err := conn.Publish(note.Topic(), payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", note.Topic(), err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil, ErrBusNotStarted
	}

	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		note, err := domain.DecodeNote(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Subject).Msg("Discarding undecodable note")
			return
		}
		h(ctx, note)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	s := &natsSub{bus: b, sub: sub}
	b.subs[s] = struct{}{}
	return s, nil
}

func (b *NATSBus) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := HealthStatus{
		Healthy:     b.started && b.conn != nil && b.conn.IsConnected(),
		Backend:     "nats",
		Subscribers: len(b.subs),
		LastCheck:   time.Now().UTC(),
	}
	if !b.started {
		st.Errors = append(st.Errors, ErrBusNotStarted.Error())
	} else if b.conn != nil && !b.conn.IsConnected() {
		st.Errors = append(st.Errors, fmt.Sprintf("connection status %s", b.conn.Status()))
	}
	return st
}

func (s *natsSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	var err error
	s.once.Do(func() { err = s.sub.Unsubscribe() })
	return err
}
