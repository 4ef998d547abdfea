package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/fanout"
	"github.com/footybrain/footyd/internal/frames"
	"github.com/footybrain/footyd/internal/ingest"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/ops"
	"github.com/footybrain/footyd/internal/persistence/postgres"
	"github.com/footybrain/footyd/internal/sched"
	"github.com/footybrain/footyd/internal/stream"
	"github.com/footybrain/footyd/internal/upstream"
)

// errDependencyLost marks an outage the daemon cannot ride out; main
// maps it to exit code 2 so the supervisor treats it as a restart, not
// a crash loop of our own making.
var errDependencyLost = errors.New("dependency lost beyond the fatal window")

// fatalOutage is how long the database may stay unreachable before the
// daemon gives up.
const fatalOutage = 2 * time.Minute

// drainWindow bounds the shutdown: in-flight runs get this long to
// finish before the process leaves anyway.
const drainWindow = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the full pipeline",
	Long: `Starts ingestion, aggregation, scheduling, fan-out and the operator
surface in one process and runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() { rootCmd.AddCommand(serveCmd) }

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	leagues, err := config.LoadLeagues(config.LeaguesPathFromEnv())
	if err != nil {
		return fmt.Errorf("load leagues: %w", err)
	}

	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, cfg.Retention); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	repo := postgres.NewRepository(db, cfg.Database.OpTimeout)

	bus, err := stream.New(cfg.Bus.DSN)
	if err != nil {
		return fmt.Errorf("build bus: %w", err)
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Stop(stopCtx)
	}()

	m := metrics.New()
	holder := config.NewHolder(config.InitialSnapshot(cfg, leagues))

	gov := upstream.NewGovernor(cfg.Upstream)
	client := upstream.NewClient(cfg.Upstream, gov, m)

	pub := ingest.NewPublisher(repo.Notes, bus, m)
	loop := ingest.NewLoop(client, repo, pub, holder, m, cfg.Ingest)
	maker := frames.NewMaker(repo, m, cfg.Frames.CatchupHorizon)

	dispatcher := sched.NewDispatcher(repo.Jobs, m, sched.DefaultQueues())
	bodies := sched.NewBodies(client, repo, loop, maker, pub, holder, cfg.Retention)
	bodies.RegisterAll(dispatcher)
	if err := repo.Jobs.EnsureCatalog(ctx, sched.Catalog()); err != nil {
		return fmt.Errorf("seed job catalog: %w", err)
	}
	snapshotter := sched.NewSnapshotter(repo.Jobs, holder)
	dispatcher.OnTick(snapshotter.Refresh)

	hub := fanout.NewHub(bus, repo.Notes, m, cfg.Fanout)
	fanoutSrv := fanout.NewServer(hub, m, cfg.Fanout)

	opsSrv := ops.NewServer(ops.Deps{
		DB:       db,
		Jobs:     repo.Jobs,
		Metrics:  m,
		Bus:      bus,
		Snapshot: holder,
		Governor: client.GovernorStats,
		Queues:   dispatcher.QueueDepths,
		Fanout: func() ops.FanoutStats {
			st := hub.Stats()
			return ops.FanoutStats{Topics: st.Topics, Clients: st.Clients}
		},
	}, cfg.Ops)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Str("component", name).Err(err).Msg("Component stopped")
				cancel(fmt.Errorf("%s: %w", name, err))
			}
		}()
	}

	start("dispatcher", dispatcher.Run)
	start("fanout", fanoutSrv.Run)
	start("ops", opsSrv.Run)
	wg.Add(1)
	go func() {
		defer wg.Done()
		postgres.WatchPool(runCtx, db, m, 5*time.Second, 30*time.Second)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchDatabase(runCtx, db, cancel)
	}()

	log.Info().
		Str("bus", cfg.Bus.DSN).
		Str("fanout", cfg.Fanout.Addr).
		Str("ops", cfg.Ops.Addr).
		Msg("footyd running")

	<-runCtx.Done()
	log.Info().Msg("Shutting down")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainWindow):
		log.Warn().Msg("Drain window elapsed, leaving with work still in flight")
	}

	if cause := context.Cause(runCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// watchDatabase turns a sustained database outage into a deliberate
// exit, so the supervisor restarts the daemon against fresh state
// instead of every component degrading in its own way.
func watchDatabase(ctx context.Context, db *sqlx.DB, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var downSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		err := db.PingContext(pingCtx)
		cancelPing()

		if err == nil {
			if !downSince.IsZero() {
				log.Info().Msg("Database reachable again")
				downSince = time.Time{}
			}
			continue
		}
		if downSince.IsZero() {
			downSince = time.Now()
			log.Warn().Err(err).Msg("Database unreachable")
			continue
		}
		if time.Since(downSince) >= fatalOutage {
			log.Error().
				Dur("down_for", time.Since(downSince)).
				Msg("Database outage past the fatal window")
			cancel(fmt.Errorf("database unreachable for %s: %w",
				time.Since(downSince).Round(time.Second), errDependencyLost))
			return
		}
		log.Warn().Err(err).Dur("down_for", time.Since(downSince)).Msg("Database still unreachable")
	}
}
