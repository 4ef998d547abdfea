package domain

import (
	"testing"
	"time"
)

func TestStatusSets(t *testing.T) {
	for _, s := range []Status{Status1H, StatusHT, Status2H, StatusET, StatusBT, StatusP} {
		if !s.IsLive() {
			t.Errorf("%s should be live", s)
		}
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	for _, s := range []Status{StatusFT, StatusAET, StatusPEN, StatusAWD, StatusWO} {
		if !s.IsFinished() {
			t.Errorf("%s should be finished", s)
		}
		if !s.IsTerminal() {
			t.Errorf("finished %s should be terminal", s)
		}
		if s.IsLive() {
			t.Errorf("%s should not be live", s)
		}
	}

	// Abandoned-class statuses are terminal without being finished.
	for _, s := range []Status{StatusPST, StatusCANC, StatusABD} {
		if s.IsFinished() {
			t.Errorf("%s should not count as finished", s)
		}
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	if StatusNS.IsLive() || StatusNS.IsTerminal() || StatusNS.IsFinished() {
		t.Error("NS should be in no subset")
	}
}

func TestOddsTickValid(t *testing.T) {
	now := time.Now()
	ok := OddsTick{FixtureID: 1000, BookmakerID: 8, Market: Market1X2, Outcome: OutcomeHome, Instant: now, Price: 2.10}
	if !ok.Valid() {
		t.Error("well-formed tick should validate")
	}

	bad := ok
	bad.Price = 0
	if bad.Valid() {
		t.Error("zero price must be rejected")
	}
	bad = ok
	bad.Price = -1.5
	if bad.Valid() {
		t.Error("negative price must be rejected")
	}
	bad = ok
	bad.FixtureID = 0
	if bad.Valid() {
		t.Error("missing fixture must be rejected")
	}
}

func TestStatTickPossessionBounds(t *testing.T) {
	now := time.Now()
	pct := func(v float64) *float64 { return &v }

	ok := StatTick{FixtureID: 1000, TeamID: 50, Instant: now, PossessionPct: pct(53)}
	if !ok.Valid() {
		t.Error("possession 53 should validate")
	}
	for _, v := range []float64{-0.1, 100.1, 250} {
		bad := ok
		bad.PossessionPct = pct(v)
		if bad.Valid() {
			t.Errorf("possession %.1f must be rejected", v)
		}
	}

	// Absent possession is fine; stats payloads are sparse.
	ok.PossessionPct = nil
	if !ok.Valid() {
		t.Error("nil possession should validate")
	}
}

func TestBucketStartFor(t *testing.T) {
	at := time.Date(2025, 3, 9, 18, 42, 37, 123456, time.UTC)
	want := time.Date(2025, 3, 9, 18, 42, 0, 0, time.UTC)
	if got := BucketStartFor(at); !got.Equal(want) {
		t.Errorf("bucket start = %v, want %v", got, want)
	}
	if got := BucketStartFor(want); !got.Equal(want) {
		t.Error("bucket start must be a fixed point")
	}
}

func TestNoteTopicAndRoundTrip(t *testing.T) {
	n := Note{FixtureID: 1000, Type: NoteOddsUpdate, Seq: 7, Timestamp: time.Now().UTC(), Payload: []byte(`{"rows":1}`)}
	if n.Topic() != "fixture.1000" {
		t.Errorf("topic = %s", n.Topic())
	}

	raw, err := n.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeNote(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.FixtureID != n.FixtureID || back.Type != n.Type || back.Seq != n.Seq {
		t.Errorf("round trip mismatch: %+v", back)
	}
}
