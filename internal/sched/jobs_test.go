package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/frames"
	"github.com/footybrain/footyd/internal/ingest"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
	"github.com/footybrain/footyd/internal/stream"
	"github.com/footybrain/footyd/internal/upstream"
)

// dayPayload is one scripted fixtures-by-date response.
type dayPayload struct {
	fixtures []domain.Fixture
	dims     upstream.Dimensions
}

// fakePoller scripts the upstream surface the job bodies pull through.
// It also satisfies the live loop's provider so one fake feeds both.
type fakePoller struct {
	mu        sync.Mutex
	days      map[string]dayPayload
	dayErr    map[string]error
	quotes    map[int64][]domain.PrematchQuote
	quotesErr map[int64]error
	events    map[int64][]domain.EventTick
	eventsErr map[int64]error
	stats     map[int64][]domain.StatTick
	calls     map[string]int
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		days:      make(map[string]dayPayload),
		dayErr:    make(map[string]error),
		quotes:    make(map[int64][]domain.PrematchQuote),
		quotesErr: make(map[int64]error),
		events:    make(map[int64][]domain.EventTick),
		eventsErr: make(map[int64]error),
		stats:     make(map[int64][]domain.StatTick),
		calls:     make(map[string]int),
	}
}

func (p *fakePoller) count(endpoint string) {
	p.mu.Lock()
	p.calls[endpoint]++
	p.mu.Unlock()
}

func (p *fakePoller) callCount(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[endpoint]
}

func (p *fakePoller) FixturesWithDimensions(ctx context.Context, day time.Time) ([]domain.Fixture, upstream.Dimensions, error) {
	p.count("dimensions")
	key := day.UTC().Format("2006-01-02")
	if err := p.dayErr[key]; err != nil {
		return nil, upstream.Dimensions{}, err
	}
	d := p.days[key]
	return d.fixtures, d.dims, nil
}

func (p *fakePoller) PrematchOdds(ctx context.Context, fixtureID int64) ([]domain.PrematchQuote, error) {
	p.count("prematch")
	if err := p.quotesErr[fixtureID]; err != nil {
		return nil, err
	}
	return p.quotes[fixtureID], nil
}

func (p *fakePoller) FixtureEvents(ctx context.Context, fixtureID int64) ([]domain.EventTick, error) {
	p.count("events")
	if err := p.eventsErr[fixtureID]; err != nil {
		return nil, err
	}
	return p.events[fixtureID], nil
}

func (p *fakePoller) FixtureStatistics(ctx context.Context, fixtureID int64) ([]domain.StatTick, error) {
	p.count("stats")
	return p.stats[fixtureID], nil
}

func (p *fakePoller) FixturesLive(ctx context.Context) ([]domain.Fixture, error) {
	p.count("live")
	return nil, nil
}

func (p *fakePoller) FixturesByDate(ctx context.Context, day time.Time) ([]domain.Fixture, error) {
	fixtures, _, err := p.FixturesWithDimensions(ctx, day)
	return fixtures, err
}

func (p *fakePoller) LiveOdds(ctx context.Context, fixtureID int64) ([]domain.OddsTick, error) {
	p.count("odds")
	return nil, nil
}

// fakeFixtures is an in-memory FixtureRepo that records what the job
// bodies ask of it.
type fakeFixtures struct {
	mu        sync.Mutex
	rows      map[int64]domain.Fixture
	upserts   [][]domain.Fixture
	unfinal   []domain.Fixture
	upcoming  []domain.Fixture
	finalized map[int64]time.Time
	leagueArg []int64
	leagues   int
	teams     int
	venues    int
}

func newFakeFixtures() *fakeFixtures {
	return &fakeFixtures{
		rows:      make(map[int64]domain.Fixture),
		finalized: make(map[int64]time.Time),
	}
}

func (f *fakeFixtures) Upsert(ctx context.Context, fixtures []domain.Fixture) ([]persistence.StatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, fixtures)
	var changes []persistence.StatusChange
	for _, fx := range fixtures {
		prev, ok := f.rows[fx.ID]
		from := domain.Status("")
		if ok {
			from = prev.Status
		}
		if from != fx.Status {
			changes = append(changes, persistence.StatusChange{FixtureID: fx.ID, From: from, To: fx.Status})
		}
		f.rows[fx.ID] = fx
	}
	return changes, nil
}

func (f *fakeFixtures) Get(ctx context.Context, id int64) (*domain.Fixture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fx, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("no fixture %d", id)
	}
	return &fx, nil
}

func (f *fakeFixtures) Live(ctx context.Context) ([]domain.Fixture, error) { return nil, nil }

func (f *fakeFixtures) OverdueKickoffs(ctx context.Context, lookback time.Duration) ([]domain.Fixture, error) {
	return nil, nil
}

func (f *fakeFixtures) KickingOffWithin(ctx context.Context, window time.Duration, leagues []int64) ([]domain.Fixture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leagueArg = leagues
	return f.upcoming, nil
}

func (f *fakeFixtures) FinishedUnfinalized(ctx context.Context) ([]domain.Fixture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unfinal, nil
}

func (f *fakeFixtures) MarkFinalized(ctx context.Context, id int64, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized[id] = finishedAt
	return nil
}

func (f *fakeFixtures) UpsertLeagues(ctx context.Context, leagues []domain.League) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leagues += len(leagues)
	return nil
}

func (f *fakeFixtures) UpsertTeams(ctx context.Context, teams []domain.Team) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams += len(teams)
	return nil
}

func (f *fakeFixtures) UpsertVenues(ctx context.Context, venues []domain.Venue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.venues += len(venues)
	return nil
}

func (f *fakeFixtures) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeFixtures) upsertedFixtures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, batch := range f.upserts {
		n += len(batch)
	}
	return n
}

// fakeSchedTicks records event and stat batches.
type fakeSchedTicks struct {
	mu     sync.Mutex
	events [][]domain.EventTick
	stats  [][]domain.StatTick
}

func (f *fakeSchedTicks) InsertOdds(ctx context.Context, ticks []domain.OddsTick) (persistence.WriteReceipt, error) {
	return persistence.WriteReceipt{Written: len(ticks)}, nil
}

func (f *fakeSchedTicks) InsertEvents(ctx context.Context, ticks []domain.EventTick) (persistence.WriteReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ticks)
	return persistence.WriteReceipt{Written: len(ticks)}, nil
}

func (f *fakeSchedTicks) InsertStats(ctx context.Context, ticks []domain.StatTick) (persistence.WriteReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, ticks)
	return persistence.WriteReceipt{Written: len(ticks)}, nil
}

func (f *fakeSchedTicks) OddsBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.OddsTick, error) {
	return nil, nil
}

func (f *fakeSchedTicks) EventsBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.EventTick, error) {
	return nil, nil
}

// fakePrematchStore records quote batches.
type fakePrematchStore struct {
	mu      sync.Mutex
	batches [][]domain.PrematchQuote
}

func (f *fakePrematchStore) InsertQuotes(ctx context.Context, quotes []domain.PrematchQuote) (persistence.WriteReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, quotes)
	return persistence.WriteReceipt{Written: len(quotes)}, nil
}

func (f *fakePrematchStore) LatestQuotes(ctx context.Context, fixtureID int64) ([]domain.PrematchQuote, error) {
	return nil, nil
}

// fakeFrames satisfies FrameRepo for wiring; the frame maker has its
// own tests.
type fakeFrames struct{}

func (f *fakeFrames) UpsertFrames(ctx context.Context, fr []domain.Frame) (int, error) {
	return len(fr), nil
}

func (f *fakeFrames) LastBucket(ctx context.Context, fixtureID int64) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeFrames) FramesBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.Frame, error) {
	return nil, nil
}

func (f *fakeFrames) TryLocked(ctx context.Context, fixtureID int64, fn func(context.Context) error) (bool, error) {
	return true, fn(ctx)
}

// fakeNoteStore journals notes and hands out sequence numbers.
type fakeNoteStore struct {
	mu   sync.Mutex
	seqs map[string]int64
	log  []domain.Note
}

func newFakeNoteStore() *fakeNoteStore {
	return &fakeNoteStore{seqs: make(map[string]int64)}
}

func (f *fakeNoteStore) NextSeq(ctx context.Context, fixtureID int64, typ domain.NoteType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d/%s", fixtureID, typ)
	f.seqs[key]++
	return f.seqs[key], nil
}

func (f *fakeNoteStore) Append(ctx context.Context, note domain.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, note)
	return nil
}

func (f *fakeNoteStore) Since(ctx context.Context, fixtureID int64, typ domain.NoteType, afterSeq int64, horizon time.Duration, limit int) ([]domain.Note, error) {
	return nil, nil
}

func (f *fakeNoteStore) notesOfType(typ domain.NoteType) []domain.Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Note
	for _, n := range f.log {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// bodiesFixtures bundles the wired-up job bodies with their fakes.
type bodiesFixtures struct {
	bodies   *Bodies
	poller   *fakePoller
	fixtures *fakeFixtures
	ticks    *fakeSchedTicks
	prematch *fakePrematchStore
	maint    *fakeMaintenance
	notes    *fakeNoteStore
	clock    time.Time
}

type fakeMaintenance struct {
	mu          sync.Mutex
	policy      persistence.RetentionPolicy
	pruned      bool
	compressCut time.Duration
	compressErr error
}

func (f *fakeMaintenance) Prune(ctx context.Context, policy persistence.RetentionPolicy) (persistence.PruneReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policy = policy
	f.pruned = true
	return persistence.PruneReport{}, nil
}

func (f *fakeMaintenance) Compress(ctx context.Context, olderThan time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compressCut = olderThan
	return f.compressErr
}

func newTestBodies(t *testing.T) *bodiesFixtures {
	t.Helper()

	poller := newFakePoller()
	fixtures := newFakeFixtures()
	ticks := &fakeSchedTicks{}
	prematch := &fakePrematchStore{}
	maint := &fakeMaintenance{}
	notes := newFakeNoteStore()

	bus := stream.NewMemoryBus()
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("failed to start bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	repo := &persistence.Repository{
		Ticks:       ticks,
		Prematch:    prematch,
		Fixtures:    fixtures,
		Frames:      &fakeFrames{},
		Notes:       notes,
		Maintenance: maint,
	}

	cfg := config.Default()
	holder := config.NewHolder(config.InitialSnapshot(cfg, &config.LeaguesConfig{
		Leagues: []config.LeagueEntry{{ID: 39, Enabled: true}},
	}))

	m := metrics.New()
	pub := ingest.NewPublisher(notes, bus, m)
	loop := ingest.NewLoop(poller, repo, pub, holder, metrics.New(), cfg.Ingest)
	maker := frames.NewMaker(repo, metrics.New(), cfg.Frames.CatchupHorizon)

	b := NewBodies(poller, repo, loop, maker, pub, holder, cfg.Retention)
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	return &bodiesFixtures{
		bodies:   b,
		poller:   poller,
		fixtures: fixtures,
		ticks:    ticks,
		prematch: prematch,
		maint:    maint,
		notes:    notes,
		clock:    clock,
	}
}

func TestCatalogIsWellFormed(t *testing.T) {
	lanes := make(map[string]bool)
	for _, q := range DefaultQueues() {
		lanes[q.Name] = true
	}

	seen := make(map[string]bool)
	for _, job := range Catalog() {
		if seen[job.Name] {
			t.Errorf("duplicate catalog entry %q", job.Name)
		}
		seen[job.Name] = true

		if !lanes[job.Queue] {
			t.Errorf("%s routes to unknown queue %q", job.Name, job.Queue)
		}
		if _, err := ParseSchedule(job.Kind, job.Schedule); err != nil {
			t.Errorf("%s schedule %q does not parse: %v", job.Name, job.Schedule, err)
		}
		if job.Timeout <= 0 {
			t.Errorf("%s has no hard limit", job.Name)
		}
		if job.SoftLimit <= 0 || job.SoftLimit >= job.Timeout {
			t.Errorf("%s soft limit %v should sit below hard limit %v", job.Name, job.SoftLimit, job.Timeout)
		}
	}
}

func TestRegisterAllCoversCatalog(t *testing.T) {
	tf := newTestBodies(t)
	d := NewDispatcher(newFakeJobRepo(), metrics.New(), DefaultQueues())
	tf.bodies.RegisterAll(d)

	for _, job := range Catalog() {
		if _, ok := d.handlers[job.Name]; !ok {
			t.Errorf("catalog job %q has no handler", job.Name)
		}
	}
}

func TestFixturePollWalksHorizonAndStoresDimensions(t *testing.T) {
	tf := newTestBodies(t)
	venueID := int64(501)
	tf.poller.days["2026-03-10"] = dayPayload{
		fixtures: []domain.Fixture{
			{ID: 7001, LeagueID: 39, Kickoff: tf.clock.Add(3 * time.Hour), HomeTeamID: 33, AwayTeamID: 50, Status: domain.StatusNS},
			{ID: 7002, LeagueID: 39, Kickoff: tf.clock.Add(5 * time.Hour), HomeTeamID: 42, AwayTeamID: 47, Status: domain.StatusNS},
		},
		dims: upstream.Dimensions{
			Leagues: []domain.League{{ID: 39, Name: "Premier League"}},
			Teams:   []domain.Team{{ID: 33}, {ID: 50}, {ID: 42}, {ID: 47}},
			Venues:  []domain.Venue{{ID: venueID, Name: "Anfield"}},
		},
	}
	// One unhealthy day must not sink the walk.
	tf.poller.dayErr["2026-03-12"] = errors.New("upstream hiccup")

	if err := tf.bodies.FixturePoll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if got := tf.poller.callCount("dimensions"); got != 7 {
		t.Errorf("day fetches = %d, want 7", got)
	}
	if got := tf.fixtures.upsertedFixtures(); got != 2 {
		t.Errorf("fixtures upserted = %d, want 2", got)
	}
	if tf.fixtures.leagues != 1 || tf.fixtures.teams != 4 || tf.fixtures.venues != 1 {
		t.Errorf("dimensions upserted = %d/%d/%d, want 1/4/1",
			tf.fixtures.leagues, tf.fixtures.teams, tf.fixtures.venues)
	}
}

func TestFixturePollAbortsWhenBudgetStalls(t *testing.T) {
	tf := newTestBodies(t)
	tf.poller.dayErr["2026-03-10"] = upstream.ErrRateStalled

	err := tf.bodies.FixturePoll(context.Background())
	if !errors.Is(err, upstream.ErrRateStalled) {
		t.Fatalf("err = %v, want rate stall", err)
	}
	if got := tf.poller.callCount("dimensions"); got != 1 {
		t.Errorf("stall should stop the walk, made %d fetches", got)
	}
}

func TestFixturePollFailsWhenEveryDayFails(t *testing.T) {
	tf := newTestBodies(t)
	for i := 0; i < pollHorizonDays; i++ {
		day := tf.clock.AddDate(0, 0, i).Format("2006-01-02")
		tf.poller.dayErr[day] = errors.New("down")
	}
	if err := tf.bodies.FixturePoll(context.Background()); err == nil {
		t.Fatal("a fully failed walk should report an error")
	}
}

func TestPrematchSnapshotStoresQuotesForEnabledLeagues(t *testing.T) {
	tf := newTestBodies(t)
	tf.fixtures.upcoming = []domain.Fixture{
		{ID: 7001, LeagueID: 39, Kickoff: tf.clock.Add(6 * time.Hour), Status: domain.StatusNS},
		{ID: 7002, LeagueID: 39, Kickoff: tf.clock.Add(22 * time.Hour), Status: domain.StatusNS},
	}
	tf.poller.quotes[7001] = []domain.PrematchQuote{
		{FixtureID: 7001, BookmakerID: 8, Market: "1X2", Outcome: "home", SampledAt: tf.clock, Price: 1.95, HoursBeforeMatch: 6},
	}
	tf.poller.quotes[7002] = []domain.PrematchQuote{
		{FixtureID: 7002, BookmakerID: 8, Market: "1X2", Outcome: "home", SampledAt: tf.clock, Price: 2.40, HoursBeforeMatch: 22},
		{FixtureID: 7002, BookmakerID: 8, Market: "1X2", Outcome: "away", SampledAt: tf.clock, Price: 3.10, HoursBeforeMatch: 22},
	}

	if err := tf.bodies.PrematchSnapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if got := tf.fixtures.leagueArg; len(got) != 1 || got[0] != 39 {
		t.Errorf("league filter = %v, want [39]", got)
	}
	if got := len(tf.prematch.batches); got != 2 {
		t.Fatalf("stored %d batches, want 2", got)
	}
	if got := len(tf.prematch.batches[1]); got != 2 {
		t.Errorf("second fixture stored %d quotes, want 2", got)
	}
}

func TestPrematchSnapshotAbortsOnStall(t *testing.T) {
	tf := newTestBodies(t)
	tf.fixtures.upcoming = []domain.Fixture{
		{ID: 7001, LeagueID: 39, Status: domain.StatusNS},
		{ID: 7002, LeagueID: 39, Status: domain.StatusNS},
	}
	tf.poller.quotes[7001] = []domain.PrematchQuote{
		{FixtureID: 7001, BookmakerID: 8, Market: "1X2", Outcome: "home", SampledAt: tf.clock, Price: 1.95},
	}
	tf.poller.quotesErr[7002] = upstream.ErrRateStalled

	err := tf.bodies.PrematchSnapshot(context.Background())
	if !errors.Is(err, upstream.ErrRateStalled) {
		t.Fatalf("err = %v, want rate stall", err)
	}
	if got := len(tf.prematch.batches); got != 1 {
		t.Errorf("stored %d batches before the stall, want 1", got)
	}
}

func TestFinalizeSettledFixtures(t *testing.T) {
	tf := newTestBodies(t)
	goals := 2
	tf.fixtures.unfinal = []domain.Fixture{
		// Settled long enough: gets the post-match pull.
		{ID: 7001, Status: domain.StatusFT, HomeGoals: &goals, UpdatedAt: tf.clock.Add(-time.Hour)},
		// Too fresh: provider data may still move.
		{ID: 7002, Status: domain.StatusFT, UpdatedAt: tf.clock.Add(-5 * time.Minute)},
		// Never played: finalized without a pull.
		{ID: 7003, Status: domain.StatusPST, UpdatedAt: tf.clock.Add(-2 * time.Hour)},
	}
	tf.poller.events[7001] = []domain.EventTick{
		{FixtureID: 7001, Instant: tf.clock.Add(-2 * time.Hour), MatchMinute: 23, Type: "Goal"},
		{FixtureID: 7001, Instant: tf.clock.Add(-90 * time.Minute), MatchMinute: 67, Type: "Goal"},
	}
	tf.poller.stats[7001] = []domain.StatTick{
		{FixtureID: 7001, TeamID: 33, Instant: tf.clock.Add(-90 * time.Minute)},
	}

	if err := tf.bodies.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, ok := tf.fixtures.finalized[7001]; !ok {
		t.Error("settled fixture should be finalized")
	}
	if _, ok := tf.fixtures.finalized[7002]; ok {
		t.Error("fresh fixture should wait for the settle window")
	}
	if _, ok := tf.fixtures.finalized[7003]; !ok {
		t.Error("postponed fixture should be finalized without a pull")
	}

	if got := tf.poller.callCount("events"); got != 1 {
		t.Errorf("event pulls = %d, want 1", got)
	}
	if got := len(tf.notes.notesOfType(domain.NoteEventUpdate)); got != 1 {
		t.Errorf("event notes = %d, want 1", got)
	}
	if got := len(tf.notes.notesOfType(domain.NoteStatsUpdate)); got != 1 {
		t.Errorf("stats notes = %d, want 1", got)
	}
}

func TestFinalizeStopsOnRateStall(t *testing.T) {
	tf := newTestBodies(t)
	tf.fixtures.unfinal = []domain.Fixture{
		{ID: 7001, Status: domain.StatusFT, UpdatedAt: tf.clock.Add(-time.Hour)},
		{ID: 7002, Status: domain.StatusFT, UpdatedAt: tf.clock.Add(-time.Hour)},
	}
	tf.poller.eventsErr[7001] = upstream.ErrRateStalled

	err := tf.bodies.Finalize(context.Background())
	if !errors.Is(err, upstream.ErrRateStalled) {
		t.Fatalf("err = %v, want rate stall", err)
	}
	if len(tf.fixtures.finalized) != 0 {
		t.Error("no fixture should be finalized once the budget stalls")
	}
}

func TestRetentionMaintenanceAppliesPolicy(t *testing.T) {
	tf := newTestBodies(t)
	tf.maint.compressErr = errors.New("no timescale")

	if err := tf.bodies.RetentionMaintenance(context.Background()); err != nil {
		t.Fatalf("maintenance: %v", err)
	}

	if !tf.maint.pruned {
		t.Fatal("prune did not run")
	}
	want := persistence.RetentionPolicy{OddsDays: 30, EventsDays: 90, StatsDays: 60, FramesDays: 90}
	if tf.maint.policy != want {
		t.Errorf("policy = %+v, want %+v", tf.maint.policy, want)
	}
	if got := tf.maint.compressCut; got != 7*24*time.Hour {
		t.Errorf("compress cutoff = %v, want 168h", got)
	}
}

func TestWeeklyRefreshTouchesOnlyDimensions(t *testing.T) {
	tf := newTestBodies(t)
	tf.poller.days["2026-03-11"] = dayPayload{
		fixtures: []domain.Fixture{{ID: 7001, LeagueID: 39, Status: domain.StatusNS}},
		dims: upstream.Dimensions{
			Teams: []domain.Team{{ID: 33, Name: "Manchester United"}},
		},
	}

	if err := tf.bodies.WeeklyRefresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if got := tf.fixtures.upsertCount(); got != 0 {
		t.Errorf("refresh wrote %d fixture batches, want 0", got)
	}
	if tf.fixtures.teams != 1 {
		t.Errorf("teams upserted = %d, want 1", tf.fixtures.teams)
	}
}
