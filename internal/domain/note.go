package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// NoteType classifies a change notification on a fixture topic.
type NoteType string

const (
	NoteOddsUpdate    NoteType = "odds_update"
	NoteEventUpdate   NoteType = "event_update"
	NoteStatsUpdate   NoteType = "stats_update"
	NoteFixtureClosed NoteType = "fixture_closed"
)

// NoteTypeFor maps a tick kind to its notification type.
func NoteTypeFor(kind TickKind) NoteType {
	switch kind {
	case KindOdds:
		return NoteOddsUpdate
	case KindEvents:
		return NoteEventUpdate
	default:
		return NoteStatsUpdate
	}
}

// Note is one change notification on a fixture's topic. Seq increases
// monotonically per (FixtureID, Type) and is assigned by the bridge
// before publication.
type Note struct {
	FixtureID int64           `db:"fixture_id" json:"fixture_id"`
	Type      NoteType        `db:"type" json:"type"`
	Seq       int64           `db:"seq" json:"seq"`
	Timestamp time.Time       `db:"ts" json:"timestamp"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
}

// Topic returns the logical per-fixture topic name the note rides on.
func (n Note) Topic() string { return FixtureTopic(n.FixtureID) }

// FixtureTopic names the per-fixture notification topic.
func FixtureTopic(fixtureID int64) string {
	return fmt.Sprintf("fixture.%d", fixtureID)
}

// Encode marshals the note for the wire. The zero Timestamp is filled in.
func (n Note) Encode() ([]byte, error) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	return json.Marshal(n)
}

// DecodeNote unmarshals a wire frame back into a Note.
func DecodeNote(raw []byte) (Note, error) {
	var n Note
	if err := json.Unmarshal(raw, &n); err != nil {
		return Note{}, fmt.Errorf("decode note: %w", err)
	}
	return n, nil
}
