package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
	"github.com/footybrain/footyd/internal/upstream"
)

const (
	// overdueLookback bounds how far back a still-NS kickoff keeps the
	// loop checking the live snapshot for it.
	overdueLookback = 4 * time.Hour

	// absentConfirmAfter is how many consecutive live snapshots a
	// tracked fixture must miss before a date fetch confirms its state.
	absentConfirmAfter = 2

	// confirmCooldown spaces out repeated confirmation fetches for a
	// fixture the provider keeps omitting.
	confirmCooldown = 10 * time.Minute
)

// Provider is the slice of the upstream client the live loop pulls
// through.
type Provider interface {
	FixturesLive(ctx context.Context) ([]domain.Fixture, error)
	FixturesByDate(ctx context.Context, day time.Time) ([]domain.Fixture, error)
	LiveOdds(ctx context.Context, fixtureID int64) ([]domain.OddsTick, error)
	FixtureEvents(ctx context.Context, fixtureID int64) ([]domain.EventTick, error)
	FixtureStatistics(ctx context.Context, fixtureID int64) ([]domain.StatTick, error)
}

// pullKey identifies one (fixture, kind) pull stream.
type pullKey struct {
	fixture int64
	kind    domain.TickKind
}

// pull is one planned unit of work for the worker pool.
type pull struct {
	fixture   domain.Fixture
	kind      domain.TickKind
	staleness time.Duration
}

// Loop is the live ingestion cycle: each trigger refreshes the set of
// in-play fixtures, decides which (fixture, kind) pulls are due, and
// drains them through a bounded worker pool. All state between triggers
// lives here: last-pulled instants, per-stream cooldown breakers, and
// absence counters for fixtures the provider stopped listing.
type Loop struct {
	provider Provider
	fixtures persistence.FixtureRepo
	ticks    persistence.TickRepo
	pub      *Publisher
	snaps    *config.Holder
	metrics  *metrics.Registry

	workers  int
	trip     int
	cooldown time.Duration
	now      func() time.Time

	mu          sync.Mutex
	lastPulled  map[pullKey]time.Time
	breakers    map[pullKey]*gobreaker.CircuitBreaker
	absent      map[int64]int
	lastConfirm map[int64]time.Time
}

// NewLoop builds the live loop from its collaborators. The config
// snapshot holder is shared with the scheduler so league and interval
// edits apply on the next trigger without a restart.
func NewLoop(p Provider, repo *persistence.Repository, pub *Publisher, snaps *config.Holder, m *metrics.Registry, cfg config.IngestConfig) *Loop {
	return &Loop{
		provider:    p,
		fixtures:    repo.Fixtures,
		ticks:       repo.Ticks,
		pub:         pub,
		snaps:       snaps,
		metrics:     m,
		workers:     cfg.Workers,
		trip:        cfg.FailuresToTrip,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
		lastPulled:  make(map[pullKey]time.Time),
		breakers:    make(map[pullKey]*gobreaker.CircuitBreaker),
		absent:      make(map[int64]int),
		lastConfirm: make(map[int64]time.Time),
	}
}

// Trigger runs one ingestion cycle. With no fixture live or overdue it
// returns after two index reads without touching the upstream at all;
// an idle deployment costs nothing against the request budget.
func (l *Loop) Trigger(ctx context.Context) error {
	snap := l.snaps.Current()

	stored, err := l.fixtures.Live(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate live fixtures: %w", err)
	}
	overdue, err := l.fixtures.OverdueKickoffs(ctx, overdueLookback)
	if err != nil {
		return fmt.Errorf("failed to enumerate overdue fixtures: %w", err)
	}

	if len(stored) == 0 && len(overdue) == 0 {
		l.metrics.LiveFixtures.Set(0)
		return nil
	}

	live := l.refreshStatuses(ctx, stored, overdue)

	polled := make([]domain.Fixture, 0, len(live))
	for _, f := range live {
		if snap.LeagueEnabled(f.LeagueID) {
			polled = append(polled, f)
		}
	}
	l.metrics.LiveFixtures.Set(float64(len(polled)))

	plan := l.buildPlan(polled, snap, l.now().UTC())
	if len(plan) > 0 {
		l.runPlan(ctx, plan)
	}
	l.metrics.CooldownsOpen.Set(float64(l.openBreakers()))
	return nil
}

// refreshStatuses pulls the provider's live snapshot, applies every
// transition it implies, and returns the post-transition live set. When
// the snapshot is unavailable the stored view stands for this cycle.
func (l *Loop) refreshStatuses(ctx context.Context, stored, overdue []domain.Fixture) []domain.Fixture {
	fresh, err := l.provider.FixturesLive(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Live snapshot unavailable, keeping stored statuses")
		return stored
	}

	seen := make(map[int64]bool, len(fresh))
	for _, f := range fresh {
		seen[f.ID] = true
	}
	l.applyFixtures(ctx, fresh)
	l.confirmAbsent(ctx, seen, stored, overdue)

	live, err := l.fixtures.Live(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to re-read live fixtures after snapshot")
		return stored
	}
	return live
}

// confirmAbsent handles fixtures the live snapshot no longer lists: a
// tracked fixture missing repeatedly gets one date fetch, whose payload
// settles whether it finished, was postponed or merely rescheduled.
func (l *Loop) confirmAbsent(ctx context.Context, seen map[int64]bool, stored, overdue []domain.Fixture) {
	now := l.now().UTC()
	days := make(map[time.Time]bool)

	l.mu.Lock()
	for _, f := range append(append([]domain.Fixture{}, stored...), overdue...) {
		if seen[f.ID] {
			delete(l.absent, f.ID)
			continue
		}
		l.absent[f.ID]++
		if l.absent[f.ID] < absentConfirmAfter {
			continue
		}
		if last, ok := l.lastConfirm[f.ID]; ok && now.Sub(last) < confirmCooldown {
			continue
		}
		l.lastConfirm[f.ID] = now
		days[f.Kickoff.UTC().Truncate(24*time.Hour)] = true
	}
	l.mu.Unlock()

	for day := range days {
		confirmed, err := l.provider.FixturesByDate(ctx, day)
		if err != nil {
			log.Warn().Time("day", day).Err(err).Msg("Absence confirmation fetch failed")
			continue
		}
		l.applyFixtures(ctx, confirmed)
	}
}

// applyFixtures upserts observed fixtures and reacts to the lifecycle
// transitions the upsert reports.
func (l *Loop) applyFixtures(ctx context.Context, fixtures []domain.Fixture) {
	if len(fixtures) == 0 {
		return
	}
	changes, err := l.fixtures.Upsert(ctx, fixtures)
	if err != nil {
		log.Error().Err(err).Int("fixtures", len(fixtures)).Msg("Failed to upsert observed fixtures")
		return
	}
	l.HandleStatusChanges(ctx, changes, fixtures)
}

// HandleStatusChanges reacts to reported transitions: any move into a
// terminal status drops the fixture's due state, and a live fixture
// closing additionally emits a fixture_closed note. The fixture poll
// job routes its own upsert results through here so closures observed
// outside the live loop behave identically.
func (l *Loop) HandleStatusChanges(ctx context.Context, changes []persistence.StatusChange, fixtures []domain.Fixture) {
	if len(changes) == 0 {
		return
	}
	byID := make(map[int64]domain.Fixture, len(fixtures))
	for _, f := range fixtures {
		byID[f.ID] = f
	}

	for _, ch := range changes {
		if !ch.To.IsTerminal() {
			continue
		}
		l.dropDueState(ch.FixtureID)
		if !ch.From.IsLive() {
			continue
		}

		payload := closedPayload{FixtureID: ch.FixtureID, From: ch.From, To: ch.To}
		if f, ok := byID[ch.FixtureID]; ok {
			payload.HomeGoals = f.HomeGoals
			payload.AwayGoals = f.AwayGoals
		}
		if _, err := l.pub.Publish(ctx, ch.FixtureID, domain.NoteFixtureClosed, payload); err != nil {
			log.Error().Int64("fixture", ch.FixtureID).Err(err).Msg("Failed to publish fixture_closed")
			continue
		}
		log.Info().
			Int64("fixture", ch.FixtureID).
			Str("from", string(ch.From)).
			Str("to", string(ch.To)).
			Msg("Fixture closed")
	}
}

// buildPlan selects the (fixture, kind) pairs whose cadence has lapsed,
// most stale first. A never-pulled pair is infinitely stale and sorts
// to the front.
func (l *Loop) buildPlan(live []domain.Fixture, snap *config.Snapshot, now time.Time) []pull {
	l.mu.Lock()
	defer l.mu.Unlock()

	var plan []pull
	for _, f := range live {
		for _, kind := range []domain.TickKind{domain.KindOdds, domain.KindEvents, domain.KindStats} {
			staleness := now.Sub(l.lastPulled[pullKey{f.ID, kind}])
			if staleness < snap.Interval(kind) {
				continue
			}
			plan = append(plan, pull{fixture: f, kind: kind, staleness: staleness})
		}
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].staleness > plan[j].staleness })
	return plan
}

// runPlan drains the plan through the bounded worker pool.
func (l *Loop) runPlan(ctx context.Context, plan []pull) {
	jobs := make(chan pull)
	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				l.execute(ctx, p)
			}
		}()
	}

	for _, p := range plan {
		if ctx.Err() != nil {
			break
		}
		l.metrics.PullsScheduled.WithLabelValues(string(p.kind)).Inc()
		jobs <- p
	}
	close(jobs)
	wg.Wait()
}

// execute runs one pull behind its cooldown breaker.
func (l *Loop) execute(ctx context.Context, p pull) {
	br := l.breaker(pullKey{p.fixture.ID, p.kind})
	_, err := br.Execute(func() (any, error) {
		return nil, l.pullOnce(ctx, p.fixture, p.kind)
	})
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		// Cooling down; the pair stays due and is reconsidered next trigger.
	case errors.Is(err, upstream.ErrRateStalled):
		log.Debug().
			Int64("fixture", p.fixture.ID).
			Str("kind", string(p.kind)).
			Msg("Pull skipped, no rate permit")
	default:
		log.Warn().
			Int64("fixture", p.fixture.ID).
			Str("kind", string(p.kind)).
			Err(err).
			Msg("Live pull failed")
	}
}

func (l *Loop) pullOnce(ctx context.Context, f domain.Fixture, kind domain.TickKind) error {
	switch kind {
	case domain.KindOdds:
		return l.pullOdds(ctx, f)
	case domain.KindEvents:
		return l.pullEvents(ctx, f)
	default:
		return l.pullStats(ctx, f)
	}
}

func (l *Loop) pullOdds(ctx context.Context, f domain.Fixture) error {
	ticks, err := l.provider.LiveOdds(ctx, f.ID)
	if err != nil {
		return err
	}
	receipt, err := l.ticks.InsertOdds(ctx, ticks)
	if err != nil {
		return fmt.Errorf("failed to store odds ticks: %w", err)
	}
	observed := time.Time{}
	if len(ticks) > 0 {
		observed = ticks[0].Instant
	}
	return l.finishPull(ctx, f.ID, domain.KindOdds, receipt, observed, ticks)
}

func (l *Loop) pullEvents(ctx context.Context, f domain.Fixture) error {
	ticks, err := l.provider.FixtureEvents(ctx, f.ID)
	if err != nil {
		return err
	}
	receipt, err := l.ticks.InsertEvents(ctx, ticks)
	if err != nil {
		return fmt.Errorf("failed to store event ticks: %w", err)
	}
	observed := time.Time{}
	if len(ticks) > 0 {
		observed = ticks[0].Instant
	}
	return l.finishPull(ctx, f.ID, domain.KindEvents, receipt, observed, ticks)
}

func (l *Loop) pullStats(ctx context.Context, f domain.Fixture) error {
	ticks, err := l.provider.FixtureStatistics(ctx, f.ID)
	if err != nil {
		return err
	}
	receipt, err := l.ticks.InsertStats(ctx, ticks)
	if err != nil {
		return fmt.Errorf("failed to store stat ticks: %w", err)
	}
	observed := time.Time{}
	if len(ticks) > 0 {
		observed = ticks[0].Instant
	}
	return l.finishPull(ctx, f.ID, domain.KindStats, receipt, observed, ticks)
}

// finishPull marks the stream pulled, records counters and announces
// the batch when it landed new rows. A pull that stored nothing new is
// still a successful pull; subscribers hear nothing.
func (l *Loop) finishPull(ctx context.Context, fixtureID int64, kind domain.TickKind, receipt persistence.WriteReceipt, observed time.Time, ticks any) error {
	now := l.now().UTC()

	l.mu.Lock()
	l.lastPulled[pullKey{fixtureID, kind}] = now
	l.mu.Unlock()

	k := string(kind)
	if receipt.Written > 0 {
		l.metrics.TicksWritten.WithLabelValues(k).Add(float64(receipt.Written))
	}
	if receipt.Deduped > 0 {
		l.metrics.TicksDeduped.WithLabelValues(k).Add(float64(receipt.Deduped))
	}
	if !observed.IsZero() {
		l.metrics.IngestLatency.WithLabelValues(k).Observe(now.Sub(observed).Seconds())
	}

	if receipt.Written == 0 {
		return nil
	}
	if err := l.pub.PublishBatch(ctx, fixtureID, kind, receipt.Written, ticks); err != nil {
		// The rows are stored; a note failure must not look like a pull
		// failure to the breaker.
		log.Error().Int64("fixture", fixtureID).Str("kind", k).Err(err).Msg("Failed to publish batch note")
	}
	return nil
}

// breaker returns the cooldown breaker for one pull stream, creating it
// on first use.
func (l *Loop) breaker(key pullKey) *gobreaker.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()

	if br, ok := l.breakers[key]; ok {
		return br
	}
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("%d/%s", key.fixture, key.kind),
		MaxRequests: 1,
		Timeout:     l.cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return int(c.ConsecutiveFailures) >= l.trip
		},
		IsSuccessful: func(err error) bool {
			// Permit starvation is the governor's condition, not the
			// stream's; it must not open the cooldown.
			return err == nil || errors.Is(err, upstream.ErrRateStalled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("stream", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Pull cooldown state changed")
		},
	}
	br := gobreaker.NewCircuitBreaker(settings)
	l.breakers[key] = br
	return br
}

// dropDueState forgets everything the loop tracks about a fixture.
func (l *Loop) dropDueState(fixtureID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, kind := range []domain.TickKind{domain.KindOdds, domain.KindEvents, domain.KindStats} {
		delete(l.lastPulled, pullKey{fixtureID, kind})
		delete(l.breakers, pullKey{fixtureID, kind})
	}
	delete(l.absent, fixtureID)
	delete(l.lastConfirm, fixtureID)
}

// openBreakers counts pull streams currently excluded by cooldown.
func (l *Loop) openBreakers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	open := 0
	for _, br := range l.breakers {
		if br.State() == gobreaker.StateOpen {
			open++
		}
	}
	return open
}
