package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/footybrain/footyd/internal/domain"
)

// WriteReceipt reports a batch write against a natural-key table: how
// many rows landed and how many the dedup constraint swallowed.
type WriteReceipt struct {
	Written int `json:"written"`
	Deduped int `json:"deduped"`
}

// StatusChange is one observed fixture lifecycle transition.
type StatusChange struct {
	FixtureID int64         `json:"fixture_id"`
	From      domain.Status `json:"from"`
	To        domain.Status `json:"to"`
}

// TickRepo stores the append-only tick streams.
type TickRepo interface {
	InsertOdds(ctx context.Context, ticks []domain.OddsTick) (WriteReceipt, error)
	InsertEvents(ctx context.Context, ticks []domain.EventTick) (WriteReceipt, error)
	InsertStats(ctx context.Context, ticks []domain.StatTick) (WriteReceipt, error)

	// OddsBetween returns a fixture's odds ticks with from <= instant < to,
	// ordered by instant then bookmaker.
	OddsBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.OddsTick, error)

	// EventsBetween returns a fixture's event ticks with from <= instant < to.
	EventsBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.EventTick, error)
}

// PrematchRepo stores pre-kickoff odds snapshots.
type PrematchRepo interface {
	InsertQuotes(ctx context.Context, quotes []domain.PrematchQuote) (WriteReceipt, error)
	LatestQuotes(ctx context.Context, fixtureID int64) ([]domain.PrematchQuote, error)
}

// FixtureRepo maintains the fixture dimension and its lifecycle.
type FixtureRepo interface {
	// Upsert writes fixtures and reports every status transition it
	// caused, including first sight of a fixture (From == "").
	Upsert(ctx context.Context, fixtures []domain.Fixture) ([]StatusChange, error)

	Get(ctx context.Context, id int64) (*domain.Fixture, error)
	Live(ctx context.Context) ([]domain.Fixture, error)

	// OverdueKickoffs returns fixtures still marked NS/TBD whose kickoff
	// has already passed, bounded by the lookback window. The live loop
	// uses them to decide whether a live snapshot is worth a permit.
	OverdueKickoffs(ctx context.Context, lookback time.Duration) ([]domain.Fixture, error)

	// KickingOffWithin returns not-yet-started fixtures whose kickoff
	// falls inside [now, now+window), optionally filtered by league.
	KickingOffWithin(ctx context.Context, window time.Duration, leagues []int64) ([]domain.Fixture, error)

	// FinishedUnfinalized returns fixtures that reached a terminal
	// status but have not had their post-match pass yet.
	FinishedUnfinalized(ctx context.Context) ([]domain.Fixture, error)

	MarkFinalized(ctx context.Context, id int64, finishedAt time.Time) error

	UpsertLeagues(ctx context.Context, leagues []domain.League) error
	UpsertTeams(ctx context.Context, teams []domain.Team) error
	UpsertVenues(ctx context.Context, venues []domain.Venue) error
}

// FrameRepo stores the 1-minute aggregate frames.
type FrameRepo interface {
	// UpsertFrames writes frames idempotently keyed on
	// (fixture_id, bucket_start); re-materialization overwrites.
	UpsertFrames(ctx context.Context, frames []domain.Frame) (int, error)

	// LastBucket reports the newest materialized bucket for a fixture.
	LastBucket(ctx context.Context, fixtureID int64) (time.Time, bool, error)

	FramesBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.Frame, error)

	// TryLocked runs fn while a pinned session holds the fixture's
	// advisory lock, or reports busy=false without running it.
	TryLocked(ctx context.Context, fixtureID int64, fn func(context.Context) error) (bool, error)
}

// ErrCatchupUnavailable signals that the requested replay start has
// aged out of the note log's horizon.
var ErrCatchupUnavailable = errors.New("catch-up unavailable: requested sequence beyond horizon")

// NoteRepo persists published change notes for catch-up replay and
// hands out the per-(fixture,type) sequence numbers.
type NoteRepo interface {
	// NextSeq atomically advances and returns the sequence counter.
	// The first call for a key returns 1.
	NextSeq(ctx context.Context, fixtureID int64, typ domain.NoteType) (int64, error)

	Append(ctx context.Context, note domain.Note) error

	// Since returns notes with seq > afterSeq no older than the
	// horizon, ascending. When afterSeq predates the horizon window it
	// returns ErrCatchupUnavailable.
	Since(ctx context.Context, fixtureID int64, typ domain.NoteType, afterSeq int64, horizon time.Duration, limit int) ([]domain.Note, error)
}

// JobKind distinguishes cron-expression jobs from fixed-interval jobs.
type JobKind string

const (
	JobCron     JobKind = "cron"
	JobInterval JobKind = "interval"
)

// Job is one catalog entry the dispatcher schedules. SoftLimit is the
// duration past which a run is logged as overdue; Timeout is the hard
// cancellation limit.
type Job struct {
	Name      string        `db:"name" json:"name"`
	Kind      JobKind       `db:"kind" json:"kind"`
	Schedule  string        `db:"schedule" json:"schedule"`
	Queue     string        `db:"queue" json:"queue"`
	Priority  int           `db:"priority" json:"priority"`
	SoftLimit time.Duration `db:"soft_ns" json:"soft_limit"`
	Timeout   time.Duration `db:"timeout_ns" json:"timeout"`
	Retries   int           `db:"retries" json:"retries"`
	Enabled   bool          `db:"enabled" json:"enabled"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// RunState is the lifecycle of one job execution.
type RunState string

const (
	RunPending   RunState = "PENDING"
	RunRunning   RunState = "RUNNING"
	RunSucceeded RunState = "SUCCEEDED"
	RunFailed    RunState = "FAILED"
	RunTimedOut  RunState = "TIMED_OUT"
	RunCancelled RunState = "CANCELLED"
)

// Terminal reports whether the state can never change again.
func (s RunState) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunTimedOut, RunCancelled:
		return true
	}
	return false
}

// JobRun is one execution record.
type JobRun struct {
	ID         string     `db:"id" json:"id"`
	Job        string     `db:"job" json:"job"`
	State      RunState   `db:"state" json:"state"`
	Attempt    int        `db:"attempt" json:"attempt"`
	EnqueuedAt time.Time  `db:"enqueued_at" json:"enqueued_at"`
	StartedAt  *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Error      string     `db:"error" json:"error,omitempty"`
}

// JobRepo persists the job catalog, run history and runtime overrides.
type JobRepo interface {
	// EnsureCatalog inserts missing catalog entries without touching
	// operator-modified rows.
	EnsureCatalog(ctx context.Context, defaults []Job) error

	Jobs(ctx context.Context) ([]Job, error)
	Job(ctx context.Context, name string) (*Job, error)
	SetEnabled(ctx context.Context, name string, enabled bool) (*Job, error)
	SetSchedule(ctx context.Context, name, schedule string) (*Job, error)

	InsertRun(ctx context.Context, run JobRun) error
	UpdateRun(ctx context.Context, run JobRun) error
	RecentRuns(ctx context.Context, job string, limit int) ([]JobRun, error)

	// GetConfig and SetConfig hold operator overrides (league set,
	// pull intervals) that survive restarts.
	GetConfig(ctx context.Context, key string) ([]byte, bool, error)
	SetConfig(ctx context.Context, key string, value []byte) error
}

// RetentionPolicy is how long each stream keeps raw rows.
type RetentionPolicy struct {
	OddsDays   int
	EventsDays int
	StatsDays  int
	FramesDays int
}

// PruneReport counts rows removed per stream by one maintenance pass.
type PruneReport struct {
	Odds     int64 `json:"odds"`
	Events   int64 `json:"events"`
	Stats    int64 `json:"stats"`
	Frames   int64 `json:"frames"`
	Notes    int64 `json:"notes"`
	Prematch int64 `json:"prematch"`
}

// MaintenanceRepo runs storage upkeep.
type MaintenanceRepo interface {
	Prune(ctx context.Context, policy RetentionPolicy) (PruneReport, error)

	// Compress asks the storage engine to compress closed chunks older
	// than the cutoff. A no-op without the timescale extension.
	Compress(ctx context.Context, olderThan time.Duration) error
}

// Repository bundles every store the pipeline needs.
type Repository struct {
	Ticks       TickRepo
	Prematch    PrematchRepo
	Fixtures    FixtureRepo
	Frames      FrameRepo
	Notes       NoteRepo
	Jobs        JobRepo
	Maintenance MaintenanceRepo
}
