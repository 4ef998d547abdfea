package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/persistence"
)

// frameLockSeed namespaces the per-fixture advisory locks away from any
// other advisory user of the same database. Fixture ids stay far below
// this value.
const frameLockSeed int64 = 7_000_000_000_000

// frameRepo implements FrameRepo on PostgreSQL.
type frameRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewFrameRepo creates the PostgreSQL frame store.
func NewFrameRepo(db *sqlx.DB, timeout time.Duration) persistence.FrameRepo {
	return &frameRepo{db: db, timeout: timeout}
}

const frameColumns = `fixture_id, bucket_start, home_team_id, away_team_id, status, elapsed,
	home_goals, away_goals, avg_home_odd, avg_draw_odd, avg_away_odd,
	home_odd_delta, away_odd_delta, goals, cards, substitutions, odds_ticks, event_ticks`

func (r *frameRepo) UpsertFrames(ctx context.Context, frames []domain.Frame) (int, error) {
	if len(frames) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO match_live_frame (`+frameColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (fixture_id, bucket_start) DO UPDATE SET
			home_team_id = EXCLUDED.home_team_id,
			away_team_id = EXCLUDED.away_team_id,
			status = EXCLUDED.status,
			elapsed = EXCLUDED.elapsed,
			home_goals = EXCLUDED.home_goals,
			away_goals = EXCLUDED.away_goals,
			avg_home_odd = EXCLUDED.avg_home_odd,
			avg_draw_odd = EXCLUDED.avg_draw_odd,
			avg_away_odd = EXCLUDED.avg_away_odd,
			home_odd_delta = EXCLUDED.home_odd_delta,
			away_odd_delta = EXCLUDED.away_odd_delta,
			goals = EXCLUDED.goals,
			cards = EXCLUDED.cards,
			substitutions = EXCLUDED.substitutions,
			odds_ticks = EXCLUDED.odds_ticks,
			event_ticks = EXCLUDED.event_ticks`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare frame upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		_, err := stmt.ExecContext(ctx,
			f.FixtureID, f.BucketStart, f.HomeTeamID, f.AwayTeamID, f.Status, f.Elapsed,
			f.HomeGoals, f.AwayGoals, f.AvgHomeOdd, f.AvgDrawOdd, f.AvgAwayOdd,
			f.HomeOddDelta, f.AwayOddDelta, f.Goals, f.Cards, f.Substitutions, f.OddsTicks, f.EventTicks)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert frame %d/%s: %w", f.FixtureID, f.BucketStart, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit frame upsert: %w", err)
	}
	return len(frames), nil
}

func (r *frameRepo) LastBucket(ctx context.Context, fixtureID int64) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var bucket time.Time
	err := r.db.QueryRowxContext(ctx,
		`SELECT bucket_start FROM match_live_frame WHERE fixture_id = $1 ORDER BY bucket_start DESC LIMIT 1`,
		fixtureID).Scan(&bucket)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to query last bucket: %w", err)
	}
	return bucket, true, nil
}

func (r *frameRepo) FramesBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var frames []domain.Frame
	err := r.db.SelectContext(ctx, &frames, `
		SELECT `+frameColumns+`
		FROM match_live_frame
		WHERE fixture_id = $1 AND bucket_start >= $2 AND bucket_start < $3
		ORDER BY bucket_start`, fixtureID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	return frames, nil
}

// TryLocked pins one session, takes the fixture's advisory lock without
// waiting and runs fn while holding it. A held lock elsewhere (another
// worker, another process) reports busy=false and fn never runs.
func (r *frameRepo) TryLocked(ctx context.Context, fixtureID int64, fn func(context.Context) error) (bool, error) {
	conn, err := r.db.Connx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to pin connection: %w", err)
	}
	defer conn.Close()

	key := frameLockSeed + fixtureID

	lockCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var got bool
	if err := conn.QueryRowxContext(lockCtx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		return false, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !got {
		return false, nil
	}
	defer func() {
		// Unlock on a fresh deadline: ctx may already be done.
		unlockCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			log.Warn().Err(err).Int64("fixture_id", fixtureID).Msg("Advisory unlock failed")
		}
	}()

	return true, fn(ctx)
}
