package sched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/frames"
	"github.com/footybrain/footyd/internal/ingest"
	"github.com/footybrain/footyd/internal/persistence"
	"github.com/footybrain/footyd/internal/upstream"
)

// Catalog job names.
const (
	JobFixturePoll      = "fixture_poll"
	JobLiveTrigger      = "live_trigger"
	JobPrematchSnapshot = "prematch_snapshot"
	JobFrameMaker       = "frame_maker"
	JobFinalizer        = "finalizer"
	JobWeeklyRefresh    = "weekly_refresh"
	JobRetention        = "retention_maintenance"
)

// pollHorizonDays is how far ahead the fixture walk looks.
const pollHorizonDays = 7

// finalizeAfter delays the post-match pull so the provider's feed can
// settle before the definitive snapshot is taken.
const finalizeAfter = 30 * time.Minute

// Catalog returns the seed job table. EnsureCatalog inserts only the
// rows that are missing, so operator edits survive restarts.
func Catalog() []persistence.Job {
	return []persistence.Job{
		{Name: JobFixturePoll, Kind: persistence.JobCron, Schedule: "0 */6 * * *", Queue: QueueFixtures,
			Priority: 5, SoftLimit: 10 * time.Minute, Timeout: 15 * time.Minute, Retries: 2, Enabled: true},
		{Name: JobLiveTrigger, Kind: persistence.JobInterval, Schedule: "30s", Queue: QueueLive,
			Priority: 9, SoftLimit: 25 * time.Second, Timeout: 30 * time.Second, Retries: 0, Enabled: true},
		{Name: JobPrematchSnapshot, Kind: persistence.JobCron, Schedule: "0 */2 * * *", Queue: QueuePrematch,
			Priority: 4, SoftLimit: 10 * time.Minute, Timeout: 15 * time.Minute, Retries: 1, Enabled: true},
		{Name: JobFrameMaker, Kind: persistence.JobInterval, Schedule: "60s", Queue: QueueFrames,
			Priority: 7, SoftLimit: 50 * time.Second, Timeout: time.Minute, Retries: 0, Enabled: true},
		{Name: JobFinalizer, Kind: persistence.JobInterval, Schedule: "5m", Queue: QueueFinalizer,
			Priority: 3, SoftLimit: 4 * time.Minute, Timeout: 5 * time.Minute, Retries: 1, Enabled: true},
		{Name: JobWeeklyRefresh, Kind: persistence.JobCron, Schedule: "0 2 * * 0", Queue: QueueMaintenance,
			Priority: 2, SoftLimit: 20 * time.Minute, Timeout: 30 * time.Minute, Retries: 1, Enabled: true},
		{Name: JobRetention, Kind: persistence.JobCron, Schedule: "0 3 * * *", Queue: QueueMaintenance,
			Priority: 1, SoftLimit: 20 * time.Minute, Timeout: 30 * time.Minute, Retries: 1, Enabled: true},
	}
}

// PollProvider is the upstream slice the scheduled jobs pull through.
type PollProvider interface {
	FixturesWithDimensions(ctx context.Context, day time.Time) ([]domain.Fixture, upstream.Dimensions, error)
	PrematchOdds(ctx context.Context, fixtureID int64) ([]domain.PrematchQuote, error)
	FixtureEvents(ctx context.Context, fixtureID int64) ([]domain.EventTick, error)
	FixtureStatistics(ctx context.Context, fixtureID int64) ([]domain.StatTick, error)
}

// Bodies binds every catalog job to the component it drives.
type Bodies struct {
	provider PollProvider
	repo     *persistence.Repository
	loop     *ingest.Loop
	maker    *frames.Maker
	pub      *ingest.Publisher
	snaps    *config.Holder

	retention     persistence.RetentionPolicy
	compressAfter time.Duration

	now func() time.Time
}

// NewBodies wires the job bodies to their collaborators.
func NewBodies(p PollProvider, repo *persistence.Repository, loop *ingest.Loop, maker *frames.Maker,
	pub *ingest.Publisher, snaps *config.Holder, ret config.RetentionConfig) *Bodies {
	return &Bodies{
		provider: p,
		repo:     repo,
		loop:     loop,
		maker:    maker,
		pub:      pub,
		snaps:    snaps,
		retention: persistence.RetentionPolicy{
			OddsDays:   ret.OddsDays,
			EventsDays: ret.EventsDays,
			StatsDays:  ret.StatsDays,
			FramesDays: ret.FramesDays,
		},
		compressAfter: time.Duration(ret.CompressAfterDays) * 24 * time.Hour,
		now:           time.Now,
	}
}

// RegisterAll binds the catalog names to their bodies.
func (b *Bodies) RegisterAll(d *Dispatcher) {
	d.Register(JobFixturePoll, b.FixturePoll)
	d.Register(JobLiveTrigger, b.loop.Trigger)
	d.Register(JobPrematchSnapshot, b.PrematchSnapshot)
	d.Register(JobFrameMaker, b.maker.Run)
	d.Register(JobFinalizer, b.Finalize)
	d.Register(JobWeeklyRefresh, b.WeeklyRefresh)
	d.Register(JobRetention, b.RetentionMaintenance)
}

// FixturePoll walks the coming week day by day, refreshing fixture rows
// and the dimension rows their payloads carry. Status transitions the
// walk uncovers flow through the same closure path the live loop uses.
func (b *Bodies) FixturePoll(ctx context.Context) error {
	now := b.now().UTC()
	var polled, failedDays int
	for i := 0; i < pollHorizonDays; i++ {
		day := now.AddDate(0, 0, i)
		fixtures, dims, err := b.provider.FixturesWithDimensions(ctx, day)
		if err != nil {
			if errors.Is(err, upstream.ErrRateStalled) {
				return fmt.Errorf("fixture poll stalled at %s: %w", day.Format("2006-01-02"), err)
			}
			log.Warn().Str("day", day.Format("2006-01-02")).Err(err).Msg("Fixture day fetch failed")
			failedDays++
			continue
		}
		if err := b.upsertDimensions(ctx, dims); err != nil {
			return err
		}
		changes, err := b.repo.Fixtures.Upsert(ctx, fixtures)
		if err != nil {
			return fmt.Errorf("failed to upsert fixtures: %w", err)
		}
		b.loop.HandleStatusChanges(ctx, changes, fixtures)
		polled += len(fixtures)
	}
	if failedDays == pollHorizonDays {
		return errors.New("fixture poll failed for every day in the horizon")
	}
	log.Info().Int("fixtures", polled).Int("failed_days", failedDays).Msg("Fixture poll complete")
	return nil
}

// PrematchSnapshot samples the current prematch quotes for every
// enabled-league fixture kicking off within the next day. A stalled
// rate budget aborts the rest of the pass; the next cycle resumes.
func (b *Bodies) PrematchSnapshot(ctx context.Context) error {
	fixtures, err := b.repo.Fixtures.KickingOffWithin(ctx, 24*time.Hour, enabledList(b.snaps.Current()))
	if err != nil {
		return fmt.Errorf("failed to list upcoming fixtures: %w", err)
	}

	var written, failed int
	for i, f := range fixtures {
		quotes, err := b.provider.PrematchOdds(ctx, f.ID)
		if err != nil {
			if errors.Is(err, upstream.ErrRateStalled) {
				return fmt.Errorf("prematch snapshot stalled after %d of %d fixtures: %w", i, len(fixtures), err)
			}
			log.Warn().Int64("fixture", f.ID).Err(err).Msg("Prematch odds fetch failed")
			failed++
			continue
		}
		receipt, err := b.repo.Prematch.InsertQuotes(ctx, quotes)
		if err != nil {
			return fmt.Errorf("failed to store prematch quotes: %w", err)
		}
		written += receipt.Written
	}
	log.Info().Int("fixtures", len(fixtures)).Int("quotes", written).Int("failed", failed).
		Msg("Prematch snapshot complete")
	return nil
}

// Finalize gives every settled fixture one post-match pull for its
// definitive event timeline and stat sheet, then marks it done so it
// never comes back. Fixtures that went terminal without playing are
// finalized without a pull.
func (b *Bodies) Finalize(ctx context.Context) error {
	fixtures, err := b.repo.Fixtures.FinishedUnfinalized(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unfinalized fixtures: %w", err)
	}
	now := b.now().UTC()

	var done int
	for _, f := range fixtures {
		if now.Sub(f.UpdatedAt) < finalizeAfter {
			continue
		}
		if !f.Status.IsFinished() {
			// Postponed, cancelled, abandoned: nothing upstream to fetch.
			if err := b.repo.Fixtures.MarkFinalized(ctx, f.ID, now); err != nil {
				return fmt.Errorf("failed to finalize fixture %d: %w", f.ID, err)
			}
			continue
		}
		if err := b.finalizeOne(ctx, f, now); err != nil {
			if errors.Is(err, upstream.ErrRateStalled) {
				return err
			}
			log.Warn().Int64("fixture", f.ID).Err(err).Msg("Finalize pull failed")
			continue
		}
		done++
	}
	if done > 0 {
		log.Info().Int("fixtures", done).Msg("Fixtures finalized")
	}
	return nil
}

func (b *Bodies) finalizeOne(ctx context.Context, f domain.Fixture, now time.Time) error {
	events, err := b.provider.FixtureEvents(ctx, f.ID)
	if err != nil {
		return err
	}
	receipt, err := b.repo.Ticks.InsertEvents(ctx, events)
	if err != nil {
		return fmt.Errorf("failed to store final events: %w", err)
	}
	if receipt.Written > 0 {
		if err := b.pub.PublishBatch(ctx, f.ID, domain.KindEvents, receipt.Written, events); err != nil {
			log.Error().Int64("fixture", f.ID).Err(err).Msg("Failed to publish final events note")
		}
	}

	stats, err := b.provider.FixtureStatistics(ctx, f.ID)
	if err != nil {
		return err
	}
	receipt, err = b.repo.Ticks.InsertStats(ctx, stats)
	if err != nil {
		return fmt.Errorf("failed to store final stats: %w", err)
	}
	if receipt.Written > 0 {
		if err := b.pub.PublishBatch(ctx, f.ID, domain.KindStats, receipt.Written, stats); err != nil {
			log.Error().Int64("fixture", f.ID).Err(err).Msg("Failed to publish final stats note")
		}
	}

	return b.repo.Fixtures.MarkFinalized(ctx, f.ID, now)
}

// WeeklyRefresh re-walks the week for dimension freshness: team
// rebrands, stadium renames, league logo churn. Fixture rows are left
// to FixturePoll.
func (b *Bodies) WeeklyRefresh(ctx context.Context) error {
	now := b.now().UTC()
	for i := 0; i < pollHorizonDays; i++ {
		day := now.AddDate(0, 0, i)
		_, dims, err := b.provider.FixturesWithDimensions(ctx, day)
		if err != nil {
			if errors.Is(err, upstream.ErrRateStalled) {
				return fmt.Errorf("weekly refresh stalled at %s: %w", day.Format("2006-01-02"), err)
			}
			log.Warn().Str("day", day.Format("2006-01-02")).Err(err).Msg("Refresh day fetch failed")
			continue
		}
		if err := b.upsertDimensions(ctx, dims); err != nil {
			return err
		}
	}
	return nil
}

// RetentionMaintenance prunes aged rows and compresses cold chunks.
// Compression failure is logged, not fatal: the prune already freed
// the space the policy promises.
func (b *Bodies) RetentionMaintenance(ctx context.Context) error {
	if _, err := b.repo.Maintenance.Prune(ctx, b.retention); err != nil {
		return fmt.Errorf("failed to prune: %w", err)
	}
	if err := b.repo.Maintenance.Compress(ctx, b.compressAfter); err != nil {
		log.Warn().Err(err).Msg("Chunk compression skipped")
	}
	return nil
}

func (b *Bodies) upsertDimensions(ctx context.Context, dims upstream.Dimensions) error {
	if err := b.repo.Fixtures.UpsertLeagues(ctx, dims.Leagues); err != nil {
		return fmt.Errorf("failed to upsert leagues: %w", err)
	}
	if err := b.repo.Fixtures.UpsertTeams(ctx, dims.Teams); err != nil {
		return fmt.Errorf("failed to upsert teams: %w", err)
	}
	if err := b.repo.Fixtures.UpsertVenues(ctx, dims.Venues); err != nil {
		return fmt.Errorf("failed to upsert venues: %w", err)
	}
	return nil
}

// enabledList flattens a snapshot's league set for SQL filtering. An
// empty result means no filter.
func enabledList(snap *config.Snapshot) []int64 {
	ids := make([]int64, 0, len(snap.EnabledLeagues))
	for id, on := range snap.EnabledLeagues {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
