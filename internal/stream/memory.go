package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/domain"
)

// subscriberBuffer is the per-subscriber queue depth before notes are
// shed. Matches the bridge's per-connection send buffer.
const subscriberBuffer = 256

// MemoryBus is the in-process backend. Each subscriber owns a buffered
// queue drained by a dedicated goroutine, so per-topic publish order
// is preserved per subscriber and a slow handler never blocks Publish.
type MemoryBus struct {
	mu      sync.RWMutex
	started bool
	subs    map[string][]*memorySub
}

type memorySub struct {
	bus   *MemoryBus
	topic string
	ch    chan domain.Note
	done  chan struct{}
	once  sync.Once
}

// NewMemoryBus creates the in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *MemoryBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	for _, subs := range b.subs {
		for _, s := range subs {
			s.close()
		}
	}
	b.subs = make(map[string][]*memorySub)
	b.started = false
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, note domain.Note) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.started {
		return ErrBusNotStarted
	}

	for _, s := range b.subs[note.Topic()] {
		select {
		case s.ch <- note:
		default:
			// Queue full: shed the note, catch-up covers the gap.
			log.Warn().
				Str("topic", note.Topic()).
				Int64("seq", note.Seq).
				Msg("Memory bus subscriber lagging, note dropped")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil, ErrBusNotStarted
	}

	s := &memorySub{
		bus:   b,
		topic: topic,
		ch:    make(chan domain.Note, subscriberBuffer),
		done:  make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], s)

	go func() {
		for {
			select {
			case note := <-s.ch:
				h(ctx, note)
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

func (b *MemoryBus) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	st := HealthStatus{
		Healthy:     b.started,
		Backend:     "memory",
		Subscribers: n,
		LastCheck:   time.Now().UTC(),
	}
	if !b.started {
		st.Errors = append(st.Errors, ErrBusNotStarted.Error())
	}
	return st
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.topic]
	for i, candidate := range subs {
		if candidate == s {
			s.bus.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.bus.subs[s.topic]) == 0 {
		delete(s.bus.subs, s.topic)
	}
	s.close()
	return nil
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.done) })
}
