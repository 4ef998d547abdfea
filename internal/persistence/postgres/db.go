package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
)

// Connect opens the shared pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Int("max_open", cfg.MaxOpen).
		Int("max_idle", cfg.MaxIdle).
		Dur("conn_lifetime", cfg.ConnLifetime).
		Msg("Database pool ready")

	return db, nil
}

// NewRepository wires every store onto one pool with a shared per-op
// timeout.
func NewRepository(db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	return &persistence.Repository{
		Ticks:       NewTickRepo(db, timeout),
		Prematch:    NewPrematchRepo(db, timeout),
		Fixtures:    NewFixtureRepo(db, timeout),
		Frames:      NewFrameRepo(db, timeout),
		Notes:       NewNoteRepo(db, timeout),
		Jobs:        NewJobRepo(db, timeout),
		Maintenance: NewMaintenanceRepo(db, timeout),
	}
}

// poolWarnThreshold is the in-use fraction that flags pressure.
const poolWarnThreshold = 0.8

// WatchPool samples pool occupancy every interval, exports the gauges
// and logs once occupancy stays above the threshold for a full grace
// period. Runs until ctx is done.
func WatchPool(ctx context.Context, db *sqlx.DB, reg *metrics.Registry, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var hotSince time.Time
	warned := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := db.Stats()
		if reg != nil {
			reg.PoolInUse.Set(float64(stats.InUse))
			reg.PoolMax.Set(float64(stats.MaxOpenConnections))
		}

		occupancy := 0.0
		if stats.MaxOpenConnections > 0 {
			occupancy = float64(stats.InUse) / float64(stats.MaxOpenConnections)
		}

		switch {
		case occupancy <= poolWarnThreshold:
			hotSince = time.Time{}
			warned = false
		case hotSince.IsZero():
			hotSince = time.Now()
		case !warned && time.Since(hotSince) >= grace:
			warned = true
			log.Warn().
				Int("in_use", stats.InUse).
				Int("max_open", stats.MaxOpenConnections).
				Int64("wait_count", stats.WaitCount).
				Dur("hot_for", time.Since(hotSince)).
				Msg("Database pool under sustained pressure")
		}
	}
}
