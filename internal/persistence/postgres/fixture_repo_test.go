package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/persistence"
)

func testFixture(id int64, status domain.Status) domain.Fixture {
	return domain.Fixture{
		ID:         id,
		LeagueID:   39,
		SeasonYear: 2025,
		Round:      "Regular Season - 28",
		Kickoff:    time.Date(2025, 3, 8, 20, 0, 0, 0, time.UTC),
		Timezone:   "UTC",
		HomeTeamID: 50,
		AwayTeamID: 33,
		Status:     status,
		UpdatedAt:  time.Date(2025, 3, 8, 20, 15, 0, 0, time.UTC),
	}
}

func TestUpsertReportsStatusChanges(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFixtureRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, status FROM fixture").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow(9001, "NS").
			AddRow(9003, "FT"))
	prep := mock.ExpectPrepare("INSERT INTO fixture")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changes, err := repo.Upsert(context.Background(), []domain.Fixture{
		testFixture(9001, domain.Status1H), // NS -> 1H
		testFixture(9002, domain.StatusNS), // first sighting
		testFixture(9003, domain.StatusFT), // unchanged
	})
	require.NoError(t, err)

	want := []persistence.StatusChange{
		{FixtureID: 9001, From: domain.StatusNS, To: domain.Status1H},
		{FixtureID: 9002, From: "", To: domain.StatusNS},
	}
	assert.Equal(t, want, changes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEmptyBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFixtureRepo(db, time.Second)

	changes, err := repo.Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingFixtureReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFixtureRepo(db, time.Second)

	mock.ExpectQuery("FROM fixture WHERE id").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	f, err := repo.Get(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFinalized(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFixtureRepo(db, time.Second)

	finishedAt := time.Date(2025, 3, 8, 21, 52, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE fixture SET finalized = TRUE").
		WithArgs(int64(9001), finishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkFinalized(context.Background(), 9001, finishedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
