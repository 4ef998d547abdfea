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

// prematchRepo implements PrematchRepo on PostgreSQL.
type prematchRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPrematchRepo creates the PostgreSQL prematch store.
func NewPrematchRepo(db *sqlx.DB, timeout time.Duration) persistence.PrematchRepo {
	return &prematchRepo{db: db, timeout: timeout}
}

func (r *prematchRepo) InsertQuotes(ctx context.Context, quotes []domain.PrematchQuote) (persistence.WriteReceipt, error) {
	if len(quotes) == 0 {
		return persistence.WriteReceipt{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fixtureIDs := make([]int64, len(quotes))
	bookmakerIDs := make([]int64, len(quotes))
	markets := make([]string, len(quotes))
	outcomes := make([]string, len(quotes))
	sampled := make([]time.Time, len(quotes))
	prices := make([]float64, len(quotes))
	hours := make([]float64, len(quotes))

	for i, q := range quotes {
		fixtureIDs[i] = q.FixtureID
		bookmakerIDs[i] = q.BookmakerID
		markets[i] = q.Market
		outcomes[i] = q.Outcome
		sampled[i] = q.SampledAt
		prices[i] = q.Price
		hours[i] = q.HoursBeforeMatch
	}

	query := `
		INSERT INTO prematch_odds (fixture_id, bookmaker_id, market, outcome, sampled_at, price, hours_before_match)
		SELECT * FROM UNNEST(
			$1::bigint[], $2::bigint[], $3::text[], $4::text[],
			$5::timestamptz[], $6::double precision[], $7::double precision[]
		)
		ON CONFLICT (fixture_id, bookmaker_id, market, outcome, sampled_at) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		pq.Array(fixtureIDs), pq.Array(bookmakerIDs), pq.Array(markets), pq.Array(outcomes),
		pq.Array(sampled), pq.Array(prices), pq.Array(hours))
	if err != nil {
		return persistence.WriteReceipt{}, fmt.Errorf("failed to insert prematch quotes: %w", err)
	}
	return receipt(res, len(quotes))
}

// LatestQuotes returns the most recent snapshot per
// (bookmaker, market, outcome) for a fixture.
func (r *prematchRepo) LatestQuotes(ctx context.Context, fixtureID int64) ([]domain.PrematchQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (bookmaker_id, market, outcome)
			fixture_id, bookmaker_id, market, outcome, sampled_at, price, hours_before_match
		FROM prematch_odds
		WHERE fixture_id = $1
		ORDER BY bookmaker_id, market, outcome, sampled_at DESC`

	var quotes []domain.PrematchQuote
	if err := r.db.SelectContext(ctx, &quotes, query, fixtureID); err != nil {
		return nil, fmt.Errorf("failed to query prematch quotes: %w", err)
	}
	return quotes, nil
}
