package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
	"github.com/footybrain/footyd/internal/stream"
)

// Publisher turns a successful batch write into exactly one change note:
// it mints the next per-(fixture, type) sequence number, journals the
// note for catch-up replay, then pushes it onto the bus. Everything that
// announces data — the live loop, the finalizer, the closure path —
// goes through here so subscribers see one uniform stream.
type Publisher struct {
	notes   persistence.NoteRepo
	bus     stream.Bus
	metrics *metrics.Registry

	now func() time.Time
}

// NewPublisher wires the note journal and the bus together.
func NewPublisher(notes persistence.NoteRepo, bus stream.Bus, m *metrics.Registry) *Publisher {
	return &Publisher{notes: notes, bus: bus, metrics: m, now: time.Now}
}

// Publish assigns the sequence, appends to the journal and publishes.
// A bus failure is logged but not returned: the journaled note stays
// recoverable through catch-up, and the tick write it announces has
// already succeeded. Only sequence or journal failures surface.
func (p *Publisher) Publish(ctx context.Context, fixtureID int64, typ domain.NoteType, payload any) (domain.Note, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Note{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}

	seq, err := p.notes.NextSeq(ctx, fixtureID, typ)
	if err != nil {
		return domain.Note{}, fmt.Errorf("failed to advance %s sequence: %w", typ, err)
	}

	note := domain.Note{
		FixtureID: fixtureID,
		Type:      typ,
		Seq:       seq,
		Timestamp: p.now().UTC(),
		Payload:   body,
	}
	if err := p.notes.Append(ctx, note); err != nil {
		return domain.Note{}, fmt.Errorf("failed to journal %s note: %w", typ, err)
	}

	if err := p.bus.Publish(ctx, note); err != nil {
		log.Warn().
			Int64("fixture", fixtureID).
			Str("type", string(typ)).
			Int64("seq", seq).
			Err(err).
			Msg("Note journaled but bus publish failed")
	}

	if p.metrics != nil {
		p.metrics.NotesPublished.WithLabelValues(string(typ)).Inc()
	}
	return note, nil
}

// PublishBatch announces a tick batch that landed new rows. The live
// loop and the finalizer both use it so their notes are shaped alike.
func (p *Publisher) PublishBatch(ctx context.Context, fixtureID int64, kind domain.TickKind, written int, ticks any) error {
	_, err := p.Publish(ctx, fixtureID, domain.NoteTypeFor(kind), batchPayload{
		Kind:  kind,
		Count: written,
		Ticks: ticks,
	})
	return err
}

// batchPayload is the body of odds_update, event_update and
// stats_update notes: the rows the write just landed.
type batchPayload struct {
	Kind  domain.TickKind `json:"kind"`
	Count int             `json:"count"`
	Ticks any             `json:"ticks"`
}

// closedPayload is the body of a fixture_closed note.
type closedPayload struct {
	FixtureID int64         `json:"fixture_id"`
	From      domain.Status `json:"from"`
	To        domain.Status `json:"to"`
	HomeGoals *int          `json:"home_goals,omitempty"`
	AwayGoals *int          `json:"away_goals,omitempty"`
}
