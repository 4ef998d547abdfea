package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/persistence"
)

// fixtureRepo implements FixtureRepo on PostgreSQL.
type fixtureRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewFixtureRepo creates the PostgreSQL fixture store.
func NewFixtureRepo(db *sqlx.DB, timeout time.Duration) persistence.FixtureRepo {
	return &fixtureRepo{db: db, timeout: timeout}
}

const fixtureColumns = `id, league_id, season_year, round, venue_id, referee, kickoff, timezone,
	home_team_id, away_team_id, status, elapsed, home_goals, away_goals,
	ht_home, ht_away, et_home, et_away, pen_home, pen_away, finalized, updated_at, finished_at`

// Upsert writes fixtures row by row inside one transaction, comparing
// against the stored status first so every lifecycle transition the
// batch causes comes back to the caller.
func (r *fixtureRepo) Upsert(ctx context.Context, fixtures []domain.Fixture) ([]persistence.StatusChange, error) {
	if len(fixtures) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(fixtures)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, len(fixtures))
	for i, f := range fixtures {
		ids[i] = f.ID
	}

	prev := make(map[int64]domain.Status, len(fixtures))
	rows, err := tx.QueryxContext(ctx, `SELECT id, status FROM fixture WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query prior statuses: %w", err)
	}
	for rows.Next() {
		var id int64
		var status domain.Status
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan prior status: %w", err)
		}
		prev[id] = status
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prior statuses: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fixture (`+fixtureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, FALSE, $21, NULL)
		ON CONFLICT (id) DO UPDATE SET
			league_id = EXCLUDED.league_id,
			season_year = EXCLUDED.season_year,
			round = EXCLUDED.round,
			venue_id = EXCLUDED.venue_id,
			referee = EXCLUDED.referee,
			kickoff = EXCLUDED.kickoff,
			timezone = EXCLUDED.timezone,
			home_team_id = EXCLUDED.home_team_id,
			away_team_id = EXCLUDED.away_team_id,
			status = EXCLUDED.status,
			elapsed = EXCLUDED.elapsed,
			home_goals = EXCLUDED.home_goals,
			away_goals = EXCLUDED.away_goals,
			ht_home = EXCLUDED.ht_home,
			ht_away = EXCLUDED.ht_away,
			et_home = EXCLUDED.et_home,
			et_away = EXCLUDED.et_away,
			pen_home = EXCLUDED.pen_home,
			pen_away = EXCLUDED.pen_away,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	var changes []persistence.StatusChange
	for _, f := range fixtures {
		updatedAt := f.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		_, err := stmt.ExecContext(ctx,
			f.ID, f.LeagueID, f.SeasonYear, f.Round, f.VenueID, f.Referee, f.Kickoff, f.Timezone,
			f.HomeTeamID, f.AwayTeamID, f.Status, f.Elapsed, f.HomeGoals, f.AwayGoals,
			f.HTHome, f.HTAway, f.ETHome, f.ETAway, f.PenHome, f.PenAway, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert fixture %d: %w", f.ID, err)
		}

		if was, ok := prev[f.ID]; !ok || was != f.Status {
			var from domain.Status
			if ok {
				from = was
			}
			changes = append(changes, persistence.StatusChange{FixtureID: f.ID, From: from, To: f.Status})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit fixture upsert: %w", err)
	}
	return changes, nil
}

func (r *fixtureRepo) Get(ctx context.Context, id int64) (*domain.Fixture, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var f domain.Fixture
	err := r.db.GetContext(ctx, &f, `SELECT `+fixtureColumns+` FROM fixture WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get fixture %d: %w", id, err)
	}
	return &f, nil
}

func (r *fixtureRepo) Live(ctx context.Context) ([]domain.Fixture, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var fixtures []domain.Fixture
	err := r.db.SelectContext(ctx, &fixtures,
		`SELECT `+fixtureColumns+` FROM fixture WHERE status = ANY($1) ORDER BY kickoff`,
		pq.Array(statusStrings(domain.LiveStatuses)))
	if err != nil {
		return nil, fmt.Errorf("failed to query live fixtures: %w", err)
	}
	return fixtures, nil
}

func (r *fixtureRepo) OverdueKickoffs(ctx context.Context, lookback time.Duration) ([]domain.Fixture, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := time.Now().UTC()
	var fixtures []domain.Fixture
	err := r.db.SelectContext(ctx, &fixtures, `
		SELECT `+fixtureColumns+`
		FROM fixture
		WHERE status IN ('NS', 'TBD')
		  AND kickoff <= $1 AND kickoff > $2
		ORDER BY kickoff`, now, now.Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue fixtures: %w", err)
	}
	return fixtures, nil
}

func (r *fixtureRepo) KickingOffWithin(ctx context.Context, window time.Duration, leagues []int64) ([]domain.Fixture, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := time.Now().UTC()
	query := `
		SELECT ` + fixtureColumns + `
		FROM fixture
		WHERE status IN ('NS', 'TBD')
		  AND kickoff >= $1 AND kickoff < $2
		  AND (cardinality($3::bigint[]) = 0 OR league_id = ANY($3))
		ORDER BY kickoff`

	var fixtures []domain.Fixture
	err := r.db.SelectContext(ctx, &fixtures, query, now, now.Add(window), pq.Array(leagues))
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming fixtures: %w", err)
	}
	return fixtures, nil
}

func (r *fixtureRepo) FinishedUnfinalized(ctx context.Context) ([]domain.Fixture, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var fixtures []domain.Fixture
	err := r.db.SelectContext(ctx, &fixtures,
		`SELECT `+fixtureColumns+` FROM fixture WHERE status = ANY($1) AND finalized = FALSE ORDER BY kickoff`,
		pq.Array(statusStrings(domain.TerminalStatuses)))
	if err != nil {
		return nil, fmt.Errorf("failed to query unfinalized fixtures: %w", err)
	}
	return fixtures, nil
}

func (r *fixtureRepo) MarkFinalized(ctx context.Context, id int64, finishedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE fixture SET finalized = TRUE, finished_at = $2 WHERE id = $1`, id, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to finalize fixture %d: %w", id, err)
	}
	return nil
}

func (r *fixtureRepo) UpsertLeagues(ctx context.Context, leagues []domain.League) error {
	if len(leagues) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids := make([]int64, len(leagues))
	names := make([]string, len(leagues))
	countries := make([]string, len(leagues))
	types := make([]string, len(leagues))
	logos := make([]string, len(leagues))
	for i, l := range leagues {
		ids[i] = l.ID
		names[i] = l.Name
		countries[i] = l.Country
		types[i] = l.Type
		logos[i] = l.Logo
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO league (id, name, country, type, logo)
		SELECT * FROM UNNEST($1::bigint[], $2::text[], $3::text[], $4::text[], $5::text[])
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, country = EXCLUDED.country,
			type = EXCLUDED.type, logo = EXCLUDED.logo`,
		pq.Array(ids), pq.Array(names), pq.Array(countries), pq.Array(types), pq.Array(logos))
	if err != nil {
		return fmt.Errorf("failed to upsert leagues: %w", err)
	}
	return nil
}

func (r *fixtureRepo) UpsertTeams(ctx context.Context, teams []domain.Team) error {
	if len(teams) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids := make([]int64, len(teams))
	names := make([]string, len(teams))
	countries := make([]string, len(teams))
	codes := make([]string, len(teams))
	logos := make([]string, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
		names[i] = t.Name
		countries[i] = t.Country
		codes[i] = t.Code
		logos[i] = t.Logo
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO team (id, name, country, code, logo)
		SELECT * FROM UNNEST($1::bigint[], $2::text[], $3::text[], $4::text[], $5::text[])
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, country = EXCLUDED.country,
			code = EXCLUDED.code, logo = EXCLUDED.logo`,
		pq.Array(ids), pq.Array(names), pq.Array(countries), pq.Array(codes), pq.Array(logos))
	if err != nil {
		return fmt.Errorf("failed to upsert teams: %w", err)
	}
	return nil
}

func (r *fixtureRepo) UpsertVenues(ctx context.Context, venues []domain.Venue) error {
	if len(venues) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ids := make([]int64, len(venues))
	names := make([]string, len(venues))
	cities := make([]string, len(venues))
	for i, v := range venues {
		ids[i] = v.ID
		names[i] = v.Name
		cities[i] = v.City
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO venue (id, name, city)
		SELECT * FROM UNNEST($1::bigint[], $2::text[], $3::text[])
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, city = EXCLUDED.city`,
		pq.Array(ids), pq.Array(names), pq.Array(cities))
	if err != nil {
		return fmt.Errorf("failed to upsert venues: %w", err)
	}
	return nil
}

func statusStrings(set []domain.Status) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}
