package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/persistence"
)

// noteRepo implements NoteRepo on PostgreSQL. The sequence table is the
// authority for per-(fixture, type) ordering; the log is the replay
// source for reconnecting subscribers.
type noteRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewNoteRepo creates the PostgreSQL note store.
func NewNoteRepo(db *sqlx.DB, timeout time.Duration) persistence.NoteRepo {
	return &noteRepo{db: db, timeout: timeout}
}

// NextSeq advances the counter in one atomic statement so concurrent
// publishers can never mint the same number.
func (r *noteRepo) NextSeq(ctx context.Context, fixtureID int64, typ domain.NoteType) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO note_seq (fixture_id, type, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (fixture_id, type) DO UPDATE SET last_seq = note_seq.last_seq + 1
		RETURNING last_seq`

	var seq int64
	if err := r.db.QueryRowxContext(ctx, query, fixtureID, typ).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to advance note sequence: %w", err)
	}
	return seq, nil
}

func (r *noteRepo) Append(ctx context.Context, note domain.Note) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ts := note.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO note_log (fixture_id, type, seq, ts, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fixture_id, type, seq) DO NOTHING`,
		note.FixtureID, note.Type, note.Seq, ts, []byte(note.Payload))
	if err != nil {
		return fmt.Errorf("failed to append note: %w", err)
	}
	return nil
}

// Since replays notes after afterSeq within the horizon. If the gap
// between afterSeq and the oldest retained note cannot be bridged the
// replay would silently skip notes, so it fails with
// ErrCatchupUnavailable instead.
func (r *noteRepo) Since(ctx context.Context, fixtureID int64, typ domain.NoteType, afterSeq int64, horizon time.Duration, limit int) ([]domain.Note, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-horizon)

	// The oldest retained seq inside the horizon bounds what is replayable.
	var oldest *int64
	err := r.db.QueryRowxContext(ctx, `
		SELECT MIN(seq) FROM note_log
		WHERE fixture_id = $1 AND type = $2 AND ts >= $3`,
		fixtureID, typ, cutoff).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to probe note log: %w", err)
	}
	if oldest == nil {
		// Nothing retained. Replay is only honest if nothing was ever
		// published after afterSeq.
		var last int64
		err := r.db.QueryRowxContext(ctx, `
			SELECT last_seq FROM note_seq WHERE fixture_id = $1 AND type = $2`,
			fixtureID, typ).Scan(&last)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to read note sequence: %w", err)
		}
		if last > afterSeq {
			return nil, persistence.ErrCatchupUnavailable
		}
		return nil, nil
	}
	if *oldest > afterSeq+1 {
		return nil, persistence.ErrCatchupUnavailable
	}

	var notes []domain.Note
	err = r.db.SelectContext(ctx, &notes, `
		SELECT fixture_id, type, seq, ts, payload
		FROM note_log
		WHERE fixture_id = $1 AND type = $2 AND seq > $3 AND ts >= $4
		ORDER BY seq
		LIMIT $5`,
		fixtureID, typ, afterSeq, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to replay notes: %w", err)
	}
	return notes, nil
}
