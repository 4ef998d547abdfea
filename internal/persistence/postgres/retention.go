package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/persistence"
)

// maintenanceRepo implements MaintenanceRepo on PostgreSQL.
type maintenanceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMaintenanceRepo creates the PostgreSQL maintenance store.
func NewMaintenanceRepo(db *sqlx.DB, timeout time.Duration) persistence.MaintenanceRepo {
	return &maintenanceRepo{db: db, timeout: timeout}
}

// Prune deletes rows that aged past their stream's retention window.
// The note log shares the shortest window so replays never outlive the
// raw data they describe.
func (r *maintenanceRepo) Prune(ctx context.Context, policy persistence.RetentionPolicy) (persistence.PruneReport, error) {
	now := time.Now().UTC()
	var report persistence.PruneReport

	targets := []struct {
		table  string
		column string
		cutoff time.Time
		out    *int64
	}{
		{"live_odds_tick", "instant", now.AddDate(0, 0, -policy.OddsDays), &report.Odds},
		{"live_event_tick", "instant", now.AddDate(0, 0, -policy.EventsDays), &report.Events},
		{"live_stat_tick", "instant", now.AddDate(0, 0, -policy.StatsDays), &report.Stats},
		{"match_live_frame", "bucket_start", now.AddDate(0, 0, -policy.FramesDays), &report.Frames},
		{"prematch_odds", "sampled_at", now.AddDate(0, 0, -policy.OddsDays), &report.Prematch},
		{"note_log", "ts", now.AddDate(0, 0, -policy.OddsDays), &report.Notes},
	}

	for _, t := range targets {
		opCtx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.db.ExecContext(opCtx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, t.table, t.column), t.cutoff)
		cancel()
		if err != nil {
			return report, fmt.Errorf("failed to prune %s: %w", t.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return report, fmt.Errorf("failed to count pruned rows for %s: %w", t.table, err)
		}
		*t.out = n
	}

	log.Info().
		Int64("odds", report.Odds).
		Int64("events", report.Events).
		Int64("stats", report.Stats).
		Int64("frames", report.Frames).
		Int64("prematch", report.Prematch).
		Int64("notes", report.Notes).
		Msg("Retention pass complete")

	return report, nil
}

// Compress walks uncompressed timescale chunks older than the cutoff
// and compresses them. Without the extension the chunk query fails and
// the pass is a logged no-op.
func (r *maintenanceRepo) Compress(ctx context.Context, olderThan time.Duration) error {
	installed, err := timescaleInstalled(ctx, r.db)
	if err != nil {
		return err
	}
	if !installed {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(opCtx, `
		SELECT format('%I.%I', chunk_schema, chunk_name)
		FROM timescaledb_information.chunks
		WHERE NOT is_compressed AND range_end < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []string
	for rows.Next() {
		var chunk string
		if err := rows.Scan(&chunk); err != nil {
			return fmt.Errorf("failed to scan chunk name: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating chunks: %w", err)
	}

	for _, chunk := range chunks {
		opCtx, cancel := context.WithTimeout(ctx, r.timeout)
		_, err := r.db.ExecContext(opCtx, `SELECT compress_chunk($1, if_not_compressed => TRUE)`, chunk)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("chunk", chunk).Msg("Chunk compression failed")
		}
	}

	log.Info().Int("chunks", len(chunks)).Msg("Compression pass complete")
	return nil
}
