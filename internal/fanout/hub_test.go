package fanout

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
	"github.com/footybrain/footyd/internal/stream"
)

// fakeNoteStore is an in-memory NoteRepo with a prunable horizon.
type fakeNoteStore struct {
	mu     sync.Mutex
	notes  map[noteKey][]domain.Note
	seqs   map[noteKey]int64
	oldest map[noteKey]int64
}

func newFakeNoteStore() *fakeNoteStore {
	return &fakeNoteStore{
		notes:  make(map[noteKey][]domain.Note),
		seqs:   make(map[noteKey]int64),
		oldest: make(map[noteKey]int64),
	}
}

func (s *fakeNoteStore) NextSeq(ctx context.Context, fixtureID int64, typ domain.NoteType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := noteKey{fixtureID, typ}
	s.seqs[k]++
	return s.seqs[k], nil
}

func (s *fakeNoteStore) Append(ctx context.Context, n domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := noteKey{n.FixtureID, n.Type}
	s.notes[k] = append(s.notes[k], n)
	if n.Seq > s.seqs[k] {
		s.seqs[k] = n.Seq
	}
	return nil
}

func (s *fakeNoteStore) Since(ctx context.Context, fixtureID int64, typ domain.NoteType, afterSeq int64, horizon time.Duration, limit int) ([]domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := noteKey{fixtureID, typ}
	if oldest, ok := s.oldest[k]; ok && afterSeq+1 < oldest {
		return nil, persistence.ErrCatchupUnavailable
	}
	var out []domain.Note
	for _, n := range s.notes[k] {
		if n.Seq > afterSeq {
			out = append(out, n)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type harness struct {
	bus   *stream.MemoryBus
	notes *fakeNoteStore
	hub   *Hub
	srv   *httptest.Server
	m     *metrics.Registry
}

func newHarness(t *testing.T, mutate func(*config.FanoutConfig)) *harness {
	t.Helper()

	cfg := config.Default().Fanout
	cfg.SlowGrace = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	bus := stream.NewMemoryBus()
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	notes := newFakeNoteStore()
	m := metrics.New()
	hub := NewHub(bus, notes, m, cfg)
	server := NewServer(hub, m, cfg)

	srv := httptest.NewServer(server.srv.Handler)
	t.Cleanup(srv.Close)

	return &harness{bus: bus, notes: notes, hub: hub, srv: srv, m: m}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// publish assigns the next sequence, appends to the durable log and
// publishes on the bus, the way the write path does.
func (h *harness) publish(t *testing.T, fixtureID int64, typ domain.NoteType) domain.Note {
	t.Helper()
	ctx := context.Background()
	seq, err := h.notes.NextSeq(ctx, fixtureID, typ)
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	n := domain.Note{
		FixtureID: fixtureID,
		Type:      typ,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Payload:   json.RawMessage(`{}`),
	}
	if err := h.notes.Append(ctx, n); err != nil {
		t.Fatalf("append note: %v", err)
	}
	if err := h.bus.Publish(ctx, n); err != nil {
		t.Fatalf("publish note: %v", err)
	}
	return n
}

func sendControl(t *testing.T, conn *websocket.Conn, req control) {
	t.Helper()
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write control: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode frame %q: %v", raw, err)
	}
	return m
}

func frameSeq(t *testing.T, frame map[string]any) int64 {
	t.Helper()
	seq, ok := frame["seq"].(float64)
	if !ok {
		t.Fatalf("expected a note frame, got %v", frame)
	}
	return int64(seq)
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Errorf("expected no frame, got %s", raw)
	}
}

func TestSubscribeDeliversLiveNotes(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	sendControl(t, conn, control{Action: "subscribe", FixtureID: 42})
	if ack := readFrame(t, conn); ack["type"] != "subscribed" {
		t.Fatalf("expected subscribed ack, got %v", ack)
	}

	h.publish(t, 42, domain.NoteEventUpdate)
	h.publish(t, 42, domain.NoteEventUpdate)

	for want := int64(1); want <= 2; want++ {
		frame := readFrame(t, conn)
		if frame["type"] != string(domain.NoteEventUpdate) {
			t.Fatalf("expected an event note, got %v", frame)
		}
		if got := frameSeq(t, frame); got != want {
			t.Errorf("seq = %d, want %d", got, want)
		}
	}
}

func TestDuplicateNotesSuppressed(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	sendControl(t, conn, control{Action: "subscribe", FixtureID: 7})
	readFrame(t, conn)

	n := h.publish(t, 7, domain.NoteOddsUpdate)
	if got := frameSeq(t, readFrame(t, conn)); got != n.Seq {
		t.Fatalf("seq = %d, want %d", got, n.Seq)
	}

	// A redelivery of the same note must not reach the client.
	if err := h.bus.Publish(context.Background(), n); err != nil {
		t.Fatalf("republish: %v", err)
	}
	next := h.publish(t, 7, domain.NoteOddsUpdate)
	if got := frameSeq(t, readFrame(t, conn)); got != next.Seq {
		t.Errorf("after a duplicate, seq = %d, want %d", got, next.Seq)
	}
}

func TestCatchupFromRing(t *testing.T) {
	h := newHarness(t, nil)

	// A first subscriber warms the topic so the ring holds the stream.
	warm := h.dial(t)
	sendControl(t, warm, control{Action: "subscribe", FixtureID: 9})
	readFrame(t, warm)
	for i := 0; i < 3; i++ {
		h.publish(t, 9, domain.NoteStatsUpdate)
		readFrame(t, warm)
	}

	late := h.dial(t)
	sendControl(t, late, control{Action: "catchup", FixtureID: 9, Type: domain.NoteStatsUpdate, FromSeq: 1})
	for want := int64(2); want <= 3; want++ {
		if got := frameSeq(t, readFrame(t, late)); got != want {
			t.Fatalf("replay seq = %d, want %d", got, want)
		}
	}
	if f := readFrame(t, late); f["type"] != "caught_up" {
		t.Errorf("expected caught_up, got %v", f)
	}
	if v := metrics.CounterValue(h.m.CatchupServed.WithLabelValues("ring")); v != 1 {
		t.Errorf("ring catch-ups = %v, want 1", v)
	}
}

func TestCatchupFromStore(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		seq, _ := h.notes.NextSeq(ctx, 11, domain.NoteEventUpdate)
		_ = h.notes.Append(ctx, domain.Note{
			FixtureID: 11, Type: domain.NoteEventUpdate, Seq: seq,
			Timestamp: time.Now().UTC(), Payload: json.RawMessage(`{}`),
		})
	}

	conn := h.dial(t)
	sendControl(t, conn, control{Action: "catchup", FixtureID: 11, Type: domain.NoteEventUpdate})
	for want := int64(1); want <= 4; want++ {
		if got := frameSeq(t, readFrame(t, conn)); got != want {
			t.Fatalf("replay seq = %d, want %d", got, want)
		}
	}
	if f := readFrame(t, conn); f["type"] != "caught_up" {
		t.Fatalf("expected caught_up, got %v", f)
	}
	if v := metrics.CounterValue(h.m.CatchupServed.WithLabelValues("store")); v != 1 {
		t.Errorf("store catch-ups = %v, want 1", v)
	}

	// The catch-up leaves the client attached: live notes follow.
	n := h.publish(t, 11, domain.NoteEventUpdate)
	if got := frameSeq(t, readFrame(t, conn)); got != n.Seq {
		t.Errorf("live seq after catch-up = %d, want %d", got, n.Seq)
	}
}

func TestCatchupAllTypesWhenUnspecified(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, typ := range []domain.NoteType{domain.NoteOddsUpdate, domain.NoteEventUpdate} {
		seq, _ := h.notes.NextSeq(ctx, 31, typ)
		_ = h.notes.Append(ctx, domain.Note{
			FixtureID: 31, Type: typ, Seq: seq,
			Timestamp: time.Now().UTC(), Payload: json.RawMessage(`{}`),
		})
	}

	conn := h.dial(t)
	sendControl(t, conn, control{Action: "catchup", FixtureID: 31})
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		f := readFrame(t, conn)
		typ, _ := f["type"].(string)
		got[typ] = true
	}
	if !got[string(domain.NoteOddsUpdate)] || !got[string(domain.NoteEventUpdate)] {
		t.Errorf("expected both note types replayed, got %v", got)
	}
	if f := readFrame(t, conn); f["type"] != "caught_up" {
		t.Errorf("expected caught_up, got %v", f)
	}
}

func TestCatchupBeyondHorizonRefused(t *testing.T) {
	h := newHarness(t, nil)

	// Sequences up to 10 exist but everything below 8 has been pruned.
	k := noteKey{13, domain.NoteOddsUpdate}
	h.notes.mu.Lock()
	h.notes.seqs[k] = 10
	h.notes.oldest[k] = 8
	for seq := int64(8); seq <= 10; seq++ {
		h.notes.notes[k] = append(h.notes.notes[k], domain.Note{
			FixtureID: 13, Type: domain.NoteOddsUpdate, Seq: seq, Payload: json.RawMessage(`{}`),
		})
	}
	h.notes.mu.Unlock()

	conn := h.dial(t)
	sendControl(t, conn, control{Action: "catchup", FixtureID: 13, Type: domain.NoteOddsUpdate, FromSeq: 2})
	f := readFrame(t, conn)
	if f["type"] != "error" || f["error"] != "catchup_unavailable" {
		t.Fatalf("expected catchup_unavailable, got %v", f)
	}
	if v := metrics.CounterValue(h.m.CatchupServed.WithLabelValues("refused")); v != 1 {
		t.Errorf("refused catch-ups = %v, want 1", v)
	}

	// A refused catch-up must not leave the client attached.
	h.publish(t, 13, domain.NoteOddsUpdate)
	expectSilence(t, conn)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	sendControl(t, conn, control{Action: "subscribe", FixtureID: 21})
	readFrame(t, conn)
	h.publish(t, 21, domain.NoteOddsUpdate)
	readFrame(t, conn)

	sendControl(t, conn, control{Action: "unsubscribe", FixtureID: 21})
	if f := readFrame(t, conn); f["type"] != "unsubscribed" {
		t.Fatalf("expected unsubscribed ack, got %v", f)
	}

	h.publish(t, 21, domain.NoteOddsUpdate)
	expectSilence(t, conn)
}

func TestRejectsMalformedRequests(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f["error"] != "bad_request" {
		t.Errorf("expected bad_request, got %v", f)
	}

	sendControl(t, conn, control{Action: "subscribe", FixtureID: 0})
	if f := readFrame(t, conn); f["error"] != "bad_fixture" {
		t.Errorf("expected bad_fixture, got %v", f)
	}

	sendControl(t, conn, control{Action: "dance", FixtureID: 3})
	if f := readFrame(t, conn); f["error"] != "unknown_action" {
		t.Errorf("expected unknown_action, got %v", f)
	}
}

func TestHubStats(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	sendControl(t, conn, control{Action: "subscribe", FixtureID: 55})
	readFrame(t, conn)
	if st := h.hub.Stats(); st.Topics != 1 || st.Clients != 1 {
		t.Errorf("stats = %+v, want one topic with one client", st)
	}

	sendControl(t, conn, control{Action: "unsubscribe", FixtureID: 55})
	readFrame(t, conn)
	if st := h.hub.Stats(); st.Topics != 0 {
		t.Errorf("topics after unsubscribe = %d, want 0", st.Topics)
	}
}

func TestSlowConsumerGraceWindow(t *testing.T) {
	cfg := config.Default().Fanout
	cfg.SlowGrace = 50 * time.Millisecond
	hub := NewHub(nil, nil, metrics.New(), cfg)

	c := &Client{
		hub:      hub,
		send:     make(chan []byte, 1),
		lastSent: make(map[noteKey]int64),
		done:     make(chan struct{}),
	}
	key := noteKey{5, domain.NoteOddsUpdate}

	if !c.enqueueNote(domain.Note{FixtureID: 5, Type: domain.NoteOddsUpdate, Seq: 1}, []byte("a")) {
		t.Fatal("first note should fit")
	}
	if !c.enqueueNote(domain.Note{FixtureID: 5, Type: domain.NoteOddsUpdate, Seq: 2}, []byte("b")) {
		t.Fatal("first overflow opens the grace window, not the trapdoor")
	}
	time.Sleep(80 * time.Millisecond)
	if c.enqueueNote(domain.Note{FixtureID: 5, Type: domain.NoteOddsUpdate, Seq: 3}, []byte("c")) {
		t.Fatal("a client full past the grace window must be evicted")
	}

	// Shed notes never advanced the cursor, so a catch-up can close
	// the gap afterwards.
	if got := c.seen(key); got != 1 {
		t.Errorf("lastSent = %d, want 1", got)
	}
}
