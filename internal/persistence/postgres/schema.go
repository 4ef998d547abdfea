package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/config"
)

// Dimension and stream tables. References between them stay soft so
// ticks can land before their league/team rows do.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS league (
		id       BIGINT PRIMARY KEY,
		name     TEXT NOT NULL,
		country  TEXT NOT NULL DEFAULT '',
		type     TEXT NOT NULL DEFAULT '',
		logo     TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS team (
		id       BIGINT PRIMARY KEY,
		name     TEXT NOT NULL,
		country  TEXT NOT NULL DEFAULT '',
		code     TEXT NOT NULL DEFAULT '',
		logo     TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS venue (
		id       BIGINT PRIMARY KEY,
		name     TEXT NOT NULL,
		city     TEXT NOT NULL DEFAULT '',
		capacity INT
	)`,

	`CREATE TABLE IF NOT EXISTS fixture (
		id           BIGINT PRIMARY KEY,
		league_id    BIGINT NOT NULL,
		season_year  INT NOT NULL,
		round        TEXT NOT NULL DEFAULT '',
		venue_id     BIGINT,
		referee      TEXT NOT NULL DEFAULT '',
		kickoff      TIMESTAMPTZ NOT NULL,
		timezone     TEXT NOT NULL DEFAULT '',
		home_team_id BIGINT NOT NULL,
		away_team_id BIGINT NOT NULL,
		status       TEXT NOT NULL,
		elapsed      INT,
		home_goals   INT,
		away_goals   INT,
		ht_home      INT,
		ht_away      INT,
		et_home      INT,
		et_away      INT,
		pen_home     INT,
		pen_away     INT,
		finalized    BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		finished_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS fixture_status_idx ON fixture (status)`,
	`CREATE INDEX IF NOT EXISTS fixture_kickoff_idx ON fixture (kickoff)`,
	`CREATE INDEX IF NOT EXISTS fixture_league_idx ON fixture (league_id)`,

	`CREATE TABLE IF NOT EXISTS live_odds_tick (
		fixture_id   BIGINT NOT NULL,
		bookmaker_id BIGINT NOT NULL,
		market       TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		instant      TIMESTAMPTZ NOT NULL,
		price        DOUBLE PRECISION NOT NULL,
		match_minute INT,
		UNIQUE (fixture_id, bookmaker_id, market, outcome, instant)
	)`,
	`CREATE INDEX IF NOT EXISTS live_odds_tick_fixture_idx ON live_odds_tick (fixture_id, instant DESC)`,

	`CREATE TABLE IF NOT EXISTS live_event_tick (
		fixture_id   BIGINT NOT NULL,
		instant      TIMESTAMPTZ NOT NULL,
		match_minute INT NOT NULL,
		extra_minute INT,
		type         TEXT NOT NULL,
		detail       TEXT NOT NULL DEFAULT '',
		team_id      BIGINT,
		player_id    BIGINT,
		assist_id    BIGINT,
		comment      TEXT NOT NULL DEFAULT ''
	)`,
	// Event identity excludes the collection instant: every pull returns
	// the full timeline again and repeats must collapse.
	`CREATE UNIQUE INDEX IF NOT EXISTS live_event_tick_identity_idx ON live_event_tick
		(fixture_id, type, detail, match_minute,
		 COALESCE(extra_minute, -1), COALESCE(team_id, -1), COALESCE(player_id, -1))`,
	`CREATE INDEX IF NOT EXISTS live_event_tick_fixture_idx ON live_event_tick (fixture_id, instant)`,

	`CREATE TABLE IF NOT EXISTS live_stat_tick (
		fixture_id        BIGINT NOT NULL,
		team_id           BIGINT NOT NULL,
		instant           TIMESTAMPTZ NOT NULL,
		shots_on_goal     INT,
		shots_off_goal    INT,
		total_shots       INT,
		blocked_shots     INT,
		shots_inside_box  INT,
		shots_outside_box INT,
		possession_pct    DOUBLE PRECISION,
		corner_kicks      INT,
		offsides          INT,
		fouls             INT,
		yellow_cards      INT,
		red_cards         INT,
		goalkeeper_saves  INT,
		total_passes      INT,
		passes_accurate   INT,
		passes_pct        DOUBLE PRECISION,
		expected_goals    DOUBLE PRECISION,
		UNIQUE (fixture_id, team_id, instant)
	)`,

	`CREATE TABLE IF NOT EXISTS prematch_odds (
		fixture_id         BIGINT NOT NULL,
		bookmaker_id       BIGINT NOT NULL,
		market             TEXT NOT NULL,
		outcome            TEXT NOT NULL,
		sampled_at         TIMESTAMPTZ NOT NULL,
		price              DOUBLE PRECISION NOT NULL,
		hours_before_match DOUBLE PRECISION NOT NULL,
		UNIQUE (fixture_id, bookmaker_id, market, outcome, sampled_at)
	)`,
	`CREATE INDEX IF NOT EXISTS prematch_odds_fixture_idx ON prematch_odds (fixture_id, sampled_at DESC)`,

	`CREATE TABLE IF NOT EXISTS match_live_frame (
		fixture_id     BIGINT NOT NULL,
		bucket_start   TIMESTAMPTZ NOT NULL,
		home_team_id   BIGINT NOT NULL,
		away_team_id   BIGINT NOT NULL,
		status         TEXT NOT NULL,
		elapsed        INT,
		home_goals     INT,
		away_goals     INT,
		avg_home_odd   DOUBLE PRECISION,
		avg_draw_odd   DOUBLE PRECISION,
		avg_away_odd   DOUBLE PRECISION,
		home_odd_delta DOUBLE PRECISION,
		away_odd_delta DOUBLE PRECISION,
		goals          INT NOT NULL DEFAULT 0,
		cards          INT NOT NULL DEFAULT 0,
		substitutions  INT NOT NULL DEFAULT 0,
		odds_ticks     INT NOT NULL DEFAULT 0,
		event_ticks    INT NOT NULL DEFAULT 0,
		PRIMARY KEY (fixture_id, bucket_start)
	)`,

	`CREATE TABLE IF NOT EXISTS note_seq (
		fixture_id BIGINT NOT NULL,
		type       TEXT NOT NULL,
		last_seq   BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (fixture_id, type)
	)`,

	`CREATE TABLE IF NOT EXISTS note_log (
		fixture_id BIGINT NOT NULL,
		type       TEXT NOT NULL,
		seq        BIGINT NOT NULL,
		ts         TIMESTAMPTZ NOT NULL,
		payload    JSONB NOT NULL,
		PRIMARY KEY (fixture_id, type, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS note_log_ts_idx ON note_log (ts)`,

	`CREATE TABLE IF NOT EXISTS job_catalog (
		name       TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		schedule   TEXT NOT NULL,
		queue      TEXT NOT NULL,
		priority   INT NOT NULL DEFAULT 0,
		soft_ns    BIGINT NOT NULL DEFAULT 0,
		timeout_ns BIGINT NOT NULL,
		retries    INT NOT NULL DEFAULT 0,
		enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS job_run (
		id          TEXT PRIMARY KEY,
		job         TEXT NOT NULL,
		state       TEXT NOT NULL,
		attempt     INT NOT NULL DEFAULT 1,
		enqueued_at TIMESTAMPTZ NOT NULL,
		started_at  TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		error       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS job_run_job_idx ON job_run (job, enqueued_at DESC)`,

	`CREATE TABLE IF NOT EXISTS runtime_config (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Hypertable candidates. The event stream stays a plain table: its
// dedup index cannot include the partition column.
var hypertables = []struct {
	table, column, segmentBy string
}{
	{"live_odds_tick", "instant", "fixture_id"},
	{"live_stat_tick", "instant", "fixture_id"},
	{"match_live_frame", "bucket_start", "fixture_id"},
}

// Migrate applies the schema idempotently. When the timescaledb
// extension is installed the tick streams become compressed
// hypertables; without it the same tables work as plain Postgres and
// the retention job prunes them.
func Migrate(ctx context.Context, db *sqlx.DB, ret config.RetentionConfig) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	hasTimescale, err := timescaleInstalled(ctx, db)
	if err != nil {
		return err
	}
	if !hasTimescale {
		log.Info().Msg("Schema ready (plain Postgres, no timescaledb)")
		return nil
	}

	for _, h := range hypertables {
		stmt := fmt.Sprintf(
			`SELECT create_hypertable('%s', '%s', if_not_exists => TRUE, migrate_data => TRUE)`,
			h.table, h.column)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create hypertable %s: %w", h.table, err)
		}

		compress := fmt.Sprintf(
			`ALTER TABLE %s SET (timescaledb.compress, timescaledb.compress_segmentby = '%s')`,
			h.table, h.segmentBy)
		if _, err := db.ExecContext(ctx, compress); err != nil {
			log.Warn().Err(err).Str("table", h.table).Msg("Compression settings not applied")
			continue
		}

		policy := fmt.Sprintf(
			`SELECT add_compression_policy('%s', INTERVAL '%d days', if_not_exists => TRUE)`,
			h.table, ret.CompressAfterDays)
		if _, err := db.ExecContext(ctx, policy); err != nil {
			log.Warn().Err(err).Str("table", h.table).Msg("Compression policy not applied")
		}
	}

	log.Info().Int("hypertables", len(hypertables)).Msg("Schema ready (timescaledb)")
	return nil
}

func timescaleInstalled(ctx context.Context, db *sqlx.DB) (bool, error) {
	var installed bool
	err := db.QueryRowxContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).
		Scan(&installed)
	if err != nil {
		return false, fmt.Errorf("failed to probe extensions: %w", err)
	}
	return installed, nil
}
