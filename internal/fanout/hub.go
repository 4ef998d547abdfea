package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
	"github.com/footybrain/footyd/internal/stream"
)

// errClientGone means a replay target disappeared mid-replay.
var errClientGone = errors.New("client gone")

var allNoteTypes = []domain.NoteType{
	domain.NoteOddsUpdate,
	domain.NoteEventUpdate,
	domain.NoteStatsUpdate,
	domain.NoteFixtureClosed,
}

// topicState is one fixture's live fan-out: the bus subscription, the
// per-type replay rings, and the clients currently attached. The
// clients set is mutated only under the hub lock; rings has its own
// lock because catch-ups read it while deliveries extend it.
type topicState struct {
	mu    sync.Mutex
	rings map[domain.NoteType]*ring

	clients map[*Client]struct{}
	sub     stream.Subscription

	// pins holds the topic open while a catch-up replays, before the
	// client is a member. A pinned topic receives notes into its rings.
	pins int
}

func (ts *topicState) ring(typ domain.NoteType, size int) *ring {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	r := ts.rings[typ]
	if r == nil {
		r = newRing(size)
		ts.rings[typ] = r
	}
	return r
}

// Hub bridges the note bus to websocket subscribers. It subscribes to a
// fixture's topic when the first client arrives and lets go when the
// last one leaves.
type Hub struct {
	bus     stream.Bus
	notes   persistence.NoteRepo
	metrics *metrics.Registry
	cfg     config.FanoutConfig

	mu     sync.RWMutex
	topics map[int64]*topicState
}

func NewHub(bus stream.Bus, notes persistence.NoteRepo, m *metrics.Registry, cfg config.FanoutConfig) *Hub {
	return &Hub{
		bus:     bus,
		notes:   notes,
		metrics: m,
		cfg:     cfg,
		topics:  make(map[int64]*topicState),
	}
}

// deliver is the bus handler for every subscribed fixture topic. It
// runs under the read lock so attach and detach, which need the seam,
// exclude it. Clients that stayed full past the grace window are closed
// after the lock is released.
func (h *Hub) deliver(ctx context.Context, n domain.Note) {
	raw, err := n.Encode()
	if err != nil {
		log.Error().Int64("fixture", n.FixtureID).Str("type", string(n.Type)).Err(err).
			Msg("Failed to encode note for fan-out")
		return
	}

	var slow []*Client
	h.mu.RLock()
	ts := h.topics[n.FixtureID]
	if ts == nil {
		h.mu.RUnlock()
		return
	}
	ts.ring(n.Type, h.cfg.RingSize).add(n)
	for c := range ts.clients {
		if !c.enqueueNote(n, raw) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.metrics.SlowConsumers.Inc()
		log.Warn().Int64("fixture", n.FixtureID).Msg("Disconnecting slow subscriber")
		c.close()
	}
}

// ensureTopicLocked subscribes the fixture's topic on first demand.
// The subscription outlives the caller's request, so it is rooted in
// the background context, not the request's.
func (h *Hub) ensureTopicLocked(fixtureID int64) (*topicState, error) {
	ts := h.topics[fixtureID]
	if ts != nil {
		return ts, nil
	}
	sub, err := h.bus.Subscribe(context.Background(), domain.FixtureTopic(fixtureID), h.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", domain.FixtureTopic(fixtureID), err)
	}
	ts = &topicState{
		rings:   make(map[domain.NoteType]*ring),
		clients: make(map[*Client]struct{}),
		sub:     sub,
	}
	h.topics[fixtureID] = ts
	return ts, nil
}

// reapLocked drops the topic once nothing holds it.
func (h *Hub) reapLocked(fixtureID int64, ts *topicState) {
	if ts.pins > 0 || len(ts.clients) > 0 {
		return
	}
	if err := ts.sub.Unsubscribe(); err != nil {
		log.Warn().Int64("fixture", fixtureID).Err(err).Msg("Topic unsubscribe failed")
	}
	delete(h.topics, fixtureID)
}

// attach registers the client on the fixture's topic. Held under the
// exclusive lock, the ring handoff and the membership write form one
// step: no note delivered before it can be missed, none after it can
// be skipped.
func (h *Hub) attach(c *Client, fixtureID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts, err := h.ensureTopicLocked(fixtureID)
	if err != nil {
		return err
	}
	if _, ok := ts.clients[c]; ok {
		return nil
	}

	ts.mu.Lock()
	held := make(map[domain.NoteType]*ring, len(ts.rings))
	for typ, r := range ts.rings {
		held[typ] = r
	}
	ts.mu.Unlock()
	for typ, r := range held {
		for _, n := range r.tail(c.seen(noteKey{fixtureID, typ})) {
			raw, err := n.Encode()
			if err != nil {
				continue
			}
			c.enqueueNote(n, raw)
		}
	}

	ts.clients[c] = struct{}{}
	return nil
}

// detach removes one membership; the topic goes when the last leaves.
func (h *Hub) detach(c *Client, fixtureID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, fixtureID)
}

func (h *Hub) removeLocked(c *Client, fixtureID int64) {
	ts := h.topics[fixtureID]
	if ts == nil {
		return
	}
	if _, ok := ts.clients[c]; !ok {
		return
	}
	delete(ts.clients, c)
	h.reapLocked(fixtureID, ts)
}

// drop removes a dead client from every topic it joined.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.topics {
		h.removeLocked(c, id)
	}
}

func (h *Hub) pin(fixtureID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts, err := h.ensureTopicLocked(fixtureID)
	if err != nil {
		return err
	}
	ts.pins++
	return nil
}

func (h *Hub) unpin(fixtureID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts := h.topics[fixtureID]
	if ts == nil {
		return
	}
	ts.pins--
	h.reapLocked(fixtureID, ts)
}

// catchup replays missed notes and then attaches the client. The topic
// is pinned first so anything published during the store read lands in
// the rings, where the attach handoff picks it up; the client sees an
// unbroken sequence. An empty type means all types, each replayed from
// the same starting sequence.
func (h *Hub) catchup(ctx context.Context, c *Client, req control) {
	types := allNoteTypes
	if req.Type != "" {
		types = []domain.NoteType{req.Type}
	}

	if err := h.pin(req.FixtureID); err != nil {
		log.Error().Int64("fixture", req.FixtureID).Err(err).Msg("Catch-up subscribe failed")
		c.sendFrame(serverFrame{Type: "error", FixtureID: req.FixtureID, Error: "subscribe_failed"})
		return
	}
	defer h.unpin(req.FixtureID)

	for _, typ := range types {
		err := h.replay(ctx, c, req.FixtureID, typ, req.FromSeq)
		switch {
		case err == nil:
		case errors.Is(err, errClientGone):
			return
		case errors.Is(err, persistence.ErrCatchupUnavailable):
			h.metrics.CatchupServed.WithLabelValues("refused").Inc()
			c.sendFrame(serverFrame{Type: "error", FixtureID: req.FixtureID, NoteType: typ, Error: "catchup_unavailable"})
			return
		default:
			log.Error().Int64("fixture", req.FixtureID).Str("type", string(typ)).Err(err).
				Msg("Catch-up replay failed")
			c.sendFrame(serverFrame{Type: "error", FixtureID: req.FixtureID, NoteType: typ, Error: "catchup_failed"})
			return
		}
	}

	if err := h.attach(c, req.FixtureID); err != nil {
		c.sendFrame(serverFrame{Type: "error", FixtureID: req.FixtureID, Error: "subscribe_failed"})
		return
	}
	c.sendFrame(serverFrame{Type: "caught_up", FixtureID: req.FixtureID, NoteType: req.Type})
}

// replay sends every note after the starting sequence for one
// (fixture, type) stream: from the in-memory ring when it still covers
// the gap, otherwise from the durable note log.
func (h *Hub) replay(ctx context.Context, c *Client, fixtureID int64, typ domain.NoteType, fromSeq int64) error {
	after := fromSeq
	if last := c.seen(noteKey{fixtureID, typ}); last > after {
		after = last
	}

	h.mu.RLock()
	var r *ring
	if ts := h.topics[fixtureID]; ts != nil {
		ts.mu.Lock()
		r = ts.rings[typ]
		ts.mu.Unlock()
	}
	h.mu.RUnlock()
	if r != nil {
		if notes, ok := r.since(after); ok {
			for _, n := range notes {
				if !c.replayNote(n) {
					return errClientGone
				}
			}
			h.metrics.CatchupServed.WithLabelValues("ring").Inc()
			return nil
		}
	}

	const batch = 500
	for {
		notes, err := h.notes.Since(ctx, fixtureID, typ, after, h.cfg.CatchupHorizon, batch)
		if err != nil {
			return err
		}
		for _, n := range notes {
			if !c.replayNote(n) {
				return errClientGone
			}
			after = n.Seq
		}
		if len(notes) < batch {
			break
		}
	}
	h.metrics.CatchupServed.WithLabelValues("store").Inc()
	return nil
}

// Stats is the bridge's live shape, for the health probe.
type Stats struct {
	Topics  int `json:"topics"`
	Clients int `json:"clients"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*Client]struct{})
	for _, ts := range h.topics {
		for c := range ts.clients {
			seen[c] = struct{}{}
		}
	}
	return Stats{Topics: len(h.topics), Clients: len(seen)}
}
