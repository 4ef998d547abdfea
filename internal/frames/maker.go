package frames

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
)

// ErrFixtureBusy reports that another worker holds the fixture's
// materialization lock.
var ErrFixtureBusy = errors.New("fixture frames locked by another worker")

// Maker rolls raw ticks into match_live_frame rows, one per
// (fixture, closed minute). Each cycle walks every live fixture from
// its last materialized bucket forward to the newest closed window,
// never reaching back more than the catch-up horizon. Windows without
// a single tick produce no row.
type Maker struct {
	ticks    persistence.TickRepo
	frames   persistence.FrameRepo
	fixtures persistence.FixtureRepo
	metrics  *metrics.Registry
	horizon  time.Duration

	now func() time.Time

	// Oldest skipped-span boundary already counted per fixture, so
	// falling behind does not inflate the late counter every cycle.
	mu        sync.Mutex
	lateMarks map[int64]time.Time
}

// NewMaker builds the aggregator. A non-positive horizon falls back to
// five minutes.
func NewMaker(repo *persistence.Repository, m *metrics.Registry, horizon time.Duration) *Maker {
	if horizon <= 0 {
		horizon = 5 * time.Minute
	}
	return &Maker{
		ticks:     repo.Ticks,
		frames:    repo.Frames,
		fixtures:  repo.Fixtures,
		metrics:   m,
		horizon:   horizon,
		now:       time.Now,
		lateMarks: make(map[int64]time.Time),
	}
}

// Run executes one materialization cycle over all live fixtures.
func (m *Maker) Run(ctx context.Context) error {
	now := m.now().UTC()
	latest := domain.BucketStartFor(now).Add(-domain.FrameBucket)

	live, err := m.fixtures.Live(ctx)
	if err != nil {
		return fmt.Errorf("failed to list live fixtures: %w", err)
	}
	m.pruneLateMarks(live)
	if len(live) == 0 {
		m.metrics.FramesLagSeconds.Set(0)
		return nil
	}

	failed := 0
	for _, f := range live {
		f := f
		held, err := m.frames.TryLocked(ctx, f.ID, func(ctx context.Context) error {
			return m.advance(ctx, f, latest)
		})
		if err != nil {
			failed++
			log.Warn().Err(err).Int64("fixture_id", f.ID).Msg("Frame materialization failed")
			continue
		}
		if !held {
			log.Debug().Int64("fixture_id", f.ID).Msg("Fixture frames locked elsewhere, skipping")
		}
	}

	m.metrics.FramesLagSeconds.Set(m.now().UTC().Sub(latest.Add(domain.FrameBucket)).Seconds())
	if failed > 0 {
		return fmt.Errorf("materialization failed for %d of %d fixtures", failed, len(live))
	}
	return nil
}

// Materialize rebuilds one explicit window, including windows older
// than the catch-up horizon. Used by operators to repair gaps.
func (m *Maker) Materialize(ctx context.Context, fixtureID int64, bucketStart time.Time) error {
	f, err := m.fixtures.Get(ctx, fixtureID)
	if err != nil {
		return fmt.Errorf("failed to load fixture %d: %w", fixtureID, err)
	}
	if f == nil {
		return fmt.Errorf("fixture %d not found", fixtureID)
	}

	start := domain.BucketStartFor(bucketStart)
	held, err := m.frames.TryLocked(ctx, fixtureID, func(ctx context.Context) error {
		frame, ok, err := m.buildWindow(ctx, *f, start)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := m.frames.UpsertFrames(ctx, []domain.Frame{frame}); err != nil {
			return fmt.Errorf("failed to upsert frame %d/%s: %w", fixtureID, start, err)
		}
		m.metrics.FramesMaterialized.Inc()
		return nil
	})
	if err != nil {
		return err
	}
	if !held {
		return ErrFixtureBusy
	}
	return nil
}

// advance materializes every closed window the fixture is missing,
// bounded below by the catch-up horizon.
func (m *Maker) advance(ctx context.Context, f domain.Fixture, latest time.Time) error {
	from := latest.Add(domain.FrameBucket - m.horizon)

	last, ok, err := m.frames.LastBucket(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("failed to read last bucket: %w", err)
	}
	if ok {
		next := last.Add(domain.FrameBucket)
		if next.After(from) {
			from = next
		} else if next.Before(from) {
			m.countSkipped(ctx, f.ID, next, from)
		}
	}
	if from.After(latest) {
		return nil
	}

	var batch []domain.Frame
	for w := from; !w.After(latest); w = w.Add(domain.FrameBucket) {
		frame, ok, err := m.buildWindow(ctx, f, w)
		if err != nil {
			return err
		}
		if ok {
			batch = append(batch, frame)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	n, err := m.frames.UpsertFrames(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to upsert frames: %w", err)
	}
	m.metrics.FramesMaterialized.Add(float64(n))
	log.Debug().
		Int64("fixture_id", f.ID).
		Int("frames", n).
		Time("through", batch[len(batch)-1].BucketStart).
		Msg("Frames materialized")
	return nil
}

// buildWindow loads the window's ticks and folds them into one frame.
// ok is false when the window had no activity at all.
func (m *Maker) buildWindow(ctx context.Context, f domain.Fixture, start time.Time) (domain.Frame, bool, error) {
	end := start.Add(domain.FrameBucket)

	odds, err := m.ticks.OddsBetween(ctx, f.ID, start, end)
	if err != nil {
		return domain.Frame{}, false, fmt.Errorf("failed to load odds for window %s: %w", start, err)
	}
	events, err := m.ticks.EventsBetween(ctx, f.ID, start, end)
	if err != nil {
		return domain.Frame{}, false, fmt.Errorf("failed to load events for window %s: %w", start, err)
	}
	if len(odds) == 0 && len(events) == 0 {
		return domain.Frame{}, false, nil
	}
	return BuildFrame(f, start, odds, events), true, nil
}

// countSkipped counts the ticks stranded in windows the catch-up
// horizon passed over. Each span is counted once per fixture.
func (m *Maker) countSkipped(ctx context.Context, fixtureID int64, from, to time.Time) {
	m.mu.Lock()
	if mark, ok := m.lateMarks[fixtureID]; ok && !mark.Before(to) {
		m.mu.Unlock()
		return
	} else if ok && mark.After(from) {
		from = mark
	}
	m.lateMarks[fixtureID] = to
	m.mu.Unlock()

	late := 0
	if odds, err := m.ticks.OddsBetween(ctx, fixtureID, from, to); err == nil {
		late += len(odds)
	} else {
		log.Warn().Err(err).Int64("fixture_id", fixtureID).Msg("Failed to count skipped odds ticks")
	}
	if events, err := m.ticks.EventsBetween(ctx, fixtureID, from, to); err == nil {
		late += len(events)
	} else {
		log.Warn().Err(err).Int64("fixture_id", fixtureID).Msg("Failed to count skipped event ticks")
	}
	if late > 0 {
		m.metrics.LateTicksDropped.Add(float64(late))
		log.Warn().
			Int64("fixture_id", fixtureID).
			Int("ticks", late).
			Time("from", from).
			Time("to", to).
			Msg("Aggregator fell behind, skipped windows dropped ticks")
	}
}

func (m *Maker) pruneLateMarks(live []domain.Fixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := make(map[int64]struct{}, len(live))
	for _, f := range live {
		keep[f.ID] = struct{}{}
	}
	for id := range m.lateMarks {
		if _, ok := keep[id]; !ok {
			delete(m.lateMarks, id)
		}
	}
}

// BuildFrame folds one window's ticks into a frame row. Averages cover
// every 1X2 tick in the window across all bookmakers; deltas compare
// the last against the first tick per outcome. Outcomes without ticks
// stay nil so a quiet market is distinguishable from flat prices.
func BuildFrame(f domain.Fixture, bucketStart time.Time, odds []domain.OddsTick, events []domain.EventTick) domain.Frame {
	frame := domain.Frame{
		FixtureID:   f.ID,
		BucketStart: bucketStart,
		HomeTeamID:  f.HomeTeamID,
		AwayTeamID:  f.AwayTeamID,
		Status:      f.Status,
		Elapsed:     f.Elapsed,
		HomeGoals:   f.HomeGoals,
		AwayGoals:   f.AwayGoals,
		OddsTicks:   len(odds),
		EventTicks:  len(events),
	}

	var home, draw, away outcomeAgg
	for _, t := range odds {
		if t.Market != domain.Market1X2 {
			continue
		}
		switch t.Outcome {
		case domain.OutcomeHome:
			home.add(t)
		case domain.OutcomeDraw:
			draw.add(t)
		case domain.OutcomeAway:
			away.add(t)
		}
	}
	frame.AvgHomeOdd = home.avg()
	frame.AvgDrawOdd = draw.avg()
	frame.AvgAwayOdd = away.avg()
	frame.HomeOddDelta = home.delta()
	frame.AwayOddDelta = away.delta()

	for _, e := range events {
		switch {
		case strings.EqualFold(e.Type, "goal"):
			frame.Goals++
		case strings.EqualFold(e.Type, "card"):
			frame.Cards++
		case strings.EqualFold(e.Type, "subst"):
			frame.Substitutions++
		}
	}
	return frame
}

// outcomeAgg accumulates one outcome's ticks within a window.
type outcomeAgg struct {
	sum     float64
	n       int
	open    float64
	openAt  time.Time
	close   float64
	closeAt time.Time
}

func (a *outcomeAgg) add(t domain.OddsTick) {
	a.sum += t.Price
	a.n++
	if a.n == 1 || t.Instant.Before(a.openAt) {
		a.open, a.openAt = t.Price, t.Instant
	}
	if a.n == 1 || !t.Instant.Before(a.closeAt) {
		a.close, a.closeAt = t.Price, t.Instant
	}
}

func (a *outcomeAgg) avg() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.sum / float64(a.n)
	return &v
}

func (a *outcomeAgg) delta() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.close - a.open
	return &v
}
