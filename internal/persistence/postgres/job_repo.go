package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/footybrain/footyd/internal/persistence"
)

// jobRepo implements JobRepo on PostgreSQL.
type jobRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewJobRepo creates the PostgreSQL job store.
func NewJobRepo(db *sqlx.DB, timeout time.Duration) persistence.JobRepo {
	return &jobRepo{db: db, timeout: timeout}
}

const jobColumns = `name, kind, schedule, queue, priority, soft_ns, timeout_ns, retries, enabled, updated_at`

// EnsureCatalog seeds missing jobs. Existing rows keep whatever the
// operator set; only unseen names are inserted.
func (r *jobRepo) EnsureCatalog(ctx context.Context, defaults []persistence.Job) error {
	if len(defaults) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_catalog (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (name) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare catalog insert: %w", err)
	}
	defer stmt.Close()

	for _, j := range defaults {
		if _, err := stmt.ExecContext(ctx, j.Name, j.Kind, j.Schedule, j.Queue, j.Priority,
			int64(j.SoftLimit), int64(j.Timeout), j.Retries, j.Enabled); err != nil {
			return fmt.Errorf("failed to seed job %s: %w", j.Name, err)
		}
	}
	return tx.Commit()
}

func (r *jobRepo) Jobs(ctx context.Context) ([]persistence.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var jobs []persistence.Job
	if err := r.db.SelectContext(ctx, &jobs, `SELECT `+jobColumns+` FROM job_catalog ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepo) Job(ctx context.Context, name string) (*persistence.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var j persistence.Job
	err := r.db.GetContext(ctx, &j, `SELECT `+jobColumns+` FROM job_catalog WHERE name = $1`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job %s: %w", name, err)
	}
	return &j, nil
}

func (r *jobRepo) SetEnabled(ctx context.Context, name string, enabled bool) (*persistence.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var j persistence.Job
	err := r.db.GetContext(ctx, &j, `
		UPDATE job_catalog SET enabled = $2, updated_at = now()
		WHERE name = $1
		RETURNING `+jobColumns, name, enabled)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to toggle job %s: %w", name, err)
	}
	return &j, nil
}

func (r *jobRepo) SetSchedule(ctx context.Context, name, schedule string) (*persistence.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var j persistence.Job
	err := r.db.GetContext(ctx, &j, `
		UPDATE job_catalog SET schedule = $2, updated_at = now()
		WHERE name = $1
		RETURNING `+jobColumns, name, schedule)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to reschedule job %s: %w", name, err)
	}
	return &j, nil
}

func (r *jobRepo) InsertRun(ctx context.Context, run persistence.JobRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_run (id, job, state, attempt, enqueued_at, started_at, finished_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Job, run.State, run.Attempt, run.EnqueuedAt, run.StartedAt, run.FinishedAt, run.Error)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

func (r *jobRepo) UpdateRun(ctx context.Context, run persistence.JobRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE job_run SET state = $2, attempt = $3, started_at = $4, finished_at = $5, error = $6
		WHERE id = $1`,
		run.ID, run.State, run.Attempt, run.StartedAt, run.FinishedAt, run.Error)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	return nil
}

func (r *jobRepo) RecentRuns(ctx context.Context, job string, limit int) ([]persistence.JobRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var runs []persistence.JobRun
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, job, state, attempt, enqueued_at, started_at, finished_at, error
		FROM job_run
		WHERE job = $1
		ORDER BY enqueued_at DESC
		LIMIT $2`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for %s: %w", job, err)
	}
	return runs, nil
}

func (r *jobRepo) GetConfig(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var value []byte
	err := r.db.QueryRowxContext(ctx, `SELECT value FROM runtime_config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, true, nil
}

func (r *jobRepo) SetConfig(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runtime_config (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}
