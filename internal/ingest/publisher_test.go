package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/stream"
)

func TestPublishAssignsSequencePerFixtureAndType(t *testing.T) {
	notes := newFakeNoteRepo()
	bus := stream.NewMemoryBus()
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("failed to start bus: %v", err)
	}
	defer bus.Stop(context.Background())

	received := make(chan domain.Note, 8)
	_, err := bus.Subscribe(context.Background(), domain.FixtureTopic(1000), func(ctx context.Context, n domain.Note) {
		received <- n
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	pub := NewPublisher(notes, bus, metrics.New())

	for i := 1; i <= 2; i++ {
		note, err := pub.Publish(context.Background(), 1000, domain.NoteOddsUpdate, map[string]int{"n": i})
		if err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
		if note.Seq != int64(i) {
			t.Errorf("seq = %d, want %d", note.Seq, i)
		}
	}

	// A different type owns its own counter.
	note, err := pub.Publish(context.Background(), 1000, domain.NoteEventUpdate, nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if note.Seq != 1 {
		t.Errorf("event seq = %d, want independent counter starting at 1", note.Seq)
	}

	if len(notes.log) != 3 {
		t.Fatalf("journal holds %d notes, want 3", len(notes.log))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatalf("bus delivered %d notes, want 3", i)
		}
	}
}

// failingBus accepts nothing; publishes must still succeed because the
// journal, not the bus, is the durable path.
type failingBus struct{}

func (failingBus) Publish(ctx context.Context, note domain.Note) error {
	return errors.New("bus down")
}

func (failingBus) Subscribe(ctx context.Context, topic string, h stream.Handler) (stream.Subscription, error) {
	return nil, errors.New("bus down")
}

func (failingBus) Start(ctx context.Context) error { return nil }
func (failingBus) Stop(ctx context.Context) error  { return nil }
func (failingBus) Health() stream.HealthStatus     { return stream.HealthStatus{} }

func TestPublishToleratesBusFailure(t *testing.T) {
	notes := newFakeNoteRepo()
	pub := NewPublisher(notes, failingBus{}, metrics.New())

	note, err := pub.Publish(context.Background(), 1000, domain.NoteStatsUpdate, nil)
	if err != nil {
		t.Fatalf("Publish failed despite journaled note: %v", err)
	}
	if note.Seq != 1 {
		t.Errorf("seq = %d, want 1", note.Seq)
	}
	if len(notes.log) != 1 {
		t.Errorf("journal holds %d notes, want 1", len(notes.log))
	}
}
