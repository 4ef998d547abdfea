package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footybrain/footyd/internal/domain"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func oddsBatch(n int) []domain.OddsTick {
	instant := time.Date(2025, 3, 8, 20, 15, 0, 0, time.UTC)
	minute := 61
	batch := make([]domain.OddsTick, n)
	for i := range batch {
		batch[i] = domain.OddsTick{
			FixtureID:   9001,
			BookmakerID: int64(8 + i),
			Market:      domain.Market1X2,
			Outcome:     domain.OutcomeHome,
			Instant:     instant,
			Price:       2.05,
			MatchMinute: &minute,
		}
	}
	return batch
}

func TestInsertOddsCountsDedup(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTickRepo(db, time.Second)

	// 3 in, 2 land, 1 swallowed by the natural key.
	mock.ExpectExec("INSERT INTO live_odds_tick").
		WillReturnResult(sqlmock.NewResult(0, 2))

	rec, err := repo.InsertOdds(context.Background(), oddsBatch(3))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Written)
	assert.Equal(t, 1, rec.Deduped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOddsEmptyBatchSkipsRoundTrip(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTickRepo(db, time.Second)

	rec, err := repo.InsertOdds(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, rec.Written)
	assert.Zero(t, rec.Deduped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventsCountsDedup(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTickRepo(db, time.Second)

	mock.ExpectExec("INSERT INTO live_event_tick").
		WillReturnResult(sqlmock.NewResult(0, 1))

	teamID := int64(50)
	ticks := []domain.EventTick{
		{FixtureID: 9001, Instant: time.Now(), MatchMinute: 23, Type: "Goal", Detail: "Normal Goal", TeamID: &teamID},
		{FixtureID: 9001, Instant: time.Now(), MatchMinute: 23, Type: "Goal", Detail: "Normal Goal", TeamID: &teamID},
	}
	rec, err := repo.InsertEvents(context.Background(), ticks)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Written)
	assert.Equal(t, 1, rec.Deduped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTickRepo(db, time.Second)

	mock.ExpectExec("INSERT INTO live_stat_tick").
		WillReturnResult(sqlmock.NewResult(0, 2))

	possession := 63.0
	ticks := []domain.StatTick{
		{FixtureID: 9001, TeamID: 50, Instant: time.Now(), PossessionPct: &possession},
		{FixtureID: 9001, TeamID: 33, Instant: time.Now()},
	}
	rec, err := repo.InsertStats(context.Background(), ticks)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Written)
	assert.Zero(t, rec.Deduped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOddsBetween(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTickRepo(db, time.Second)

	instant := time.Date(2025, 3, 8, 20, 15, 30, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"fixture_id", "bookmaker_id", "market", "outcome", "instant", "price", "match_minute",
	}).
		AddRow(9001, 8, "1X2", "1", instant, 2.05, 61).
		AddRow(9001, 11, "1X2", "1", instant, 2.10, 61)

	mock.ExpectQuery("FROM live_odds_tick").
		WithArgs(int64(9001), instant.Add(-time.Minute), instant.Add(time.Minute)).
		WillReturnRows(rows)

	ticks, err := repo.OddsBetween(context.Background(), 9001, instant.Add(-time.Minute), instant.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, int64(8), ticks[0].BookmakerID)
	assert.Equal(t, 2.05, ticks[0].Price)
	require.NotNil(t, ticks[0].MatchMinute)
	assert.Equal(t, 61, *ticks[0].MatchMinute)
	assert.NoError(t, mock.ExpectationsWereMet())
}
