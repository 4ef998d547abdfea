package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/persistence"
)

// tickRepo implements TickRepo on PostgreSQL. Batches go in as columnar
// arrays through UNNEST so one round trip carries the whole pull, and
// the natural-key constraints swallow replays.
type tickRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTickRepo creates the PostgreSQL tick store.
func NewTickRepo(db *sqlx.DB, timeout time.Duration) persistence.TickRepo {
	return &tickRepo{db: db, timeout: timeout}
}

func (r *tickRepo) InsertOdds(ctx context.Context, ticks []domain.OddsTick) (persistence.WriteReceipt, error) {
	if len(ticks) == 0 {
		return persistence.WriteReceipt{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fixtureIDs := make([]int64, len(ticks))
	bookmakerIDs := make([]int64, len(ticks))
	markets := make([]string, len(ticks))
	outcomes := make([]string, len(ticks))
	instants := make([]time.Time, len(ticks))
	prices := make([]float64, len(ticks))
	minutes := make([]*int, len(ticks))

	for i, t := range ticks {
		fixtureIDs[i] = t.FixtureID
		bookmakerIDs[i] = t.BookmakerID
		markets[i] = t.Market
		outcomes[i] = t.Outcome
		instants[i] = t.Instant
		prices[i] = t.Price
		minutes[i] = t.MatchMinute
	}

	query := `
		INSERT INTO live_odds_tick (fixture_id, bookmaker_id, market, outcome, instant, price, match_minute)
		SELECT * FROM UNNEST(
			$1::bigint[], $2::bigint[], $3::text[], $4::text[],
			$5::timestamptz[], $6::double precision[], $7::int[]
		)
		ON CONFLICT (fixture_id, bookmaker_id, market, outcome, instant) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		pq.Array(fixtureIDs), pq.Array(bookmakerIDs), pq.Array(markets), pq.Array(outcomes),
		pq.Array(instants), pq.Array(prices), pq.Array(minutes))
	if err != nil {
		return persistence.WriteReceipt{}, fmt.Errorf("failed to insert odds ticks: %w", err)
	}
	return receipt(res, len(ticks))
}

func (r *tickRepo) InsertEvents(ctx context.Context, ticks []domain.EventTick) (persistence.WriteReceipt, error) {
	if len(ticks) == 0 {
		return persistence.WriteReceipt{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fixtureIDs := make([]int64, len(ticks))
	instants := make([]time.Time, len(ticks))
	minutes := make([]int, len(ticks))
	extras := make([]*int, len(ticks))
	types := make([]string, len(ticks))
	details := make([]string, len(ticks))
	teamIDs := make([]*int64, len(ticks))
	playerIDs := make([]*int64, len(ticks))
	assistIDs := make([]*int64, len(ticks))
	comments := make([]string, len(ticks))

	for i, t := range ticks {
		fixtureIDs[i] = t.FixtureID
		instants[i] = t.Instant
		minutes[i] = t.MatchMinute
		extras[i] = t.ExtraMinute
		types[i] = t.Type
		details[i] = t.Detail
		teamIDs[i] = t.TeamID
		playerIDs[i] = t.PlayerID
		assistIDs[i] = t.AssistID
		comments[i] = t.Comment
	}

	query := `
		INSERT INTO live_event_tick (fixture_id, instant, match_minute, extra_minute, type, detail, team_id, player_id, assist_id, comment)
		SELECT * FROM UNNEST(
			$1::bigint[], $2::timestamptz[], $3::int[], $4::int[], $5::text[],
			$6::text[], $7::bigint[], $8::bigint[], $9::bigint[], $10::text[]
		)
		ON CONFLICT (fixture_id, type, detail, match_minute,
			COALESCE(extra_minute, -1), COALESCE(team_id, -1), COALESCE(player_id, -1)) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		pq.Array(fixtureIDs), pq.Array(instants), pq.Array(minutes), pq.Array(extras), pq.Array(types),
		pq.Array(details), pq.Array(teamIDs), pq.Array(playerIDs), pq.Array(assistIDs), pq.Array(comments))
	if err != nil {
		return persistence.WriteReceipt{}, fmt.Errorf("failed to insert event ticks: %w", err)
	}
	return receipt(res, len(ticks))
}

func (r *tickRepo) InsertStats(ctx context.Context, ticks []domain.StatTick) (persistence.WriteReceipt, error) {
	if len(ticks) == 0 {
		return persistence.WriteReceipt{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fixtureIDs := make([]int64, len(ticks))
	teamIDs := make([]int64, len(ticks))
	instants := make([]time.Time, len(ticks))
	shotsOn := make([]*int, len(ticks))
	shotsOff := make([]*int, len(ticks))
	totalShots := make([]*int, len(ticks))
	blocked := make([]*int, len(ticks))
	insideBox := make([]*int, len(ticks))
	outsideBox := make([]*int, len(ticks))
	possession := make([]*float64, len(ticks))
	corners := make([]*int, len(ticks))
	offsides := make([]*int, len(ticks))
	fouls := make([]*int, len(ticks))
	yellows := make([]*int, len(ticks))
	reds := make([]*int, len(ticks))
	saves := make([]*int, len(ticks))
	totalPasses := make([]*int, len(ticks))
	accurate := make([]*int, len(ticks))
	passesPct := make([]*float64, len(ticks))
	xg := make([]*float64, len(ticks))

	for i, t := range ticks {
		fixtureIDs[i] = t.FixtureID
		teamIDs[i] = t.TeamID
		instants[i] = t.Instant
		shotsOn[i] = t.ShotsOnGoal
		shotsOff[i] = t.ShotsOffGoal
		totalShots[i] = t.TotalShots
		blocked[i] = t.BlockedShots
		insideBox[i] = t.ShotsInsideBox
		outsideBox[i] = t.ShotsOutsideBox
		possession[i] = t.PossessionPct
		corners[i] = t.CornerKicks
		offsides[i] = t.Offsides
		fouls[i] = t.Fouls
		yellows[i] = t.YellowCards
		reds[i] = t.RedCards
		saves[i] = t.GoalkeeperSaves
		totalPasses[i] = t.TotalPasses
		accurate[i] = t.PassesAccurate
		passesPct[i] = t.PassesPct
		xg[i] = t.ExpectedGoals
	}

	query := `
		INSERT INTO live_stat_tick (
			fixture_id, team_id, instant,
			shots_on_goal, shots_off_goal, total_shots, blocked_shots,
			shots_inside_box, shots_outside_box, possession_pct, corner_kicks,
			offsides, fouls, yellow_cards, red_cards, goalkeeper_saves,
			total_passes, passes_accurate, passes_pct, expected_goals
		)
		SELECT * FROM UNNEST(
			$1::bigint[], $2::bigint[], $3::timestamptz[],
			$4::int[], $5::int[], $6::int[], $7::int[],
			$8::int[], $9::int[], $10::double precision[], $11::int[],
			$12::int[], $13::int[], $14::int[], $15::int[], $16::int[],
			$17::int[], $18::int[], $19::double precision[], $20::double precision[]
		)
		ON CONFLICT (fixture_id, team_id, instant) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		pq.Array(fixtureIDs), pq.Array(teamIDs), pq.Array(instants),
		pq.Array(shotsOn), pq.Array(shotsOff), pq.Array(totalShots), pq.Array(blocked),
		pq.Array(insideBox), pq.Array(outsideBox), pq.Array(possession), pq.Array(corners),
		pq.Array(offsides), pq.Array(fouls), pq.Array(yellows), pq.Array(reds), pq.Array(saves),
		pq.Array(totalPasses), pq.Array(accurate), pq.Array(passesPct), pq.Array(xg))
	if err != nil {
		return persistence.WriteReceipt{}, fmt.Errorf("failed to insert stat ticks: %w", err)
	}
	return receipt(res, len(ticks))
}

func (r *tickRepo) OddsBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.OddsTick, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT fixture_id, bookmaker_id, market, outcome, instant, price, match_minute
		FROM live_odds_tick
		WHERE fixture_id = $1 AND instant >= $2 AND instant < $3
		ORDER BY instant, bookmaker_id`

	var ticks []domain.OddsTick
	if err := r.db.SelectContext(ctx, &ticks, query, fixtureID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query odds ticks: %w", err)
	}
	return ticks, nil
}

func (r *tickRepo) EventsBetween(ctx context.Context, fixtureID int64, from, to time.Time) ([]domain.EventTick, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT fixture_id, instant, match_minute, extra_minute, type, detail, team_id, player_id, assist_id, comment
		FROM live_event_tick
		WHERE fixture_id = $1 AND instant >= $2 AND instant < $3
		ORDER BY instant, match_minute`

	var ticks []domain.EventTick
	if err := r.db.SelectContext(ctx, &ticks, query, fixtureID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query event ticks: %w", err)
	}
	return ticks, nil
}

// receipt derives written/deduped counts from the statement result.
func receipt(res interface{ RowsAffected() (int64, error) }, batch int) (persistence.WriteReceipt, error) {
	written, err := res.RowsAffected()
	if err != nil {
		return persistence.WriteReceipt{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return persistence.WriteReceipt{
		Written: int(written),
		Deduped: batch - int(written),
	}, nil
}
