package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/persistence"
)

func TestNextSeqStartsAtOne(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNoteRepo(db, time.Second)

	mock.ExpectQuery("INSERT INTO note_seq").
		WithArgs(int64(9001), domain.NoteOddsUpdate).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(1))

	seq, err := repo.NextSeq(context.Background(), 9001, domain.NoteOddsUpdate)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFillsTimestamp(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNoteRepo(db, time.Second)

	mock.ExpectExec("INSERT INTO note_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), domain.Note{
		FixtureID: 9001,
		Type:      domain.NoteOddsUpdate,
		Seq:       1,
		Payload:   []byte(`{"fixture_id":9001}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinceReplaysContiguousNotes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNoteRepo(db, time.Second)

	mock.ExpectQuery("SELECT MIN").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(2))
	ts := time.Date(2025, 3, 8, 20, 30, 0, 0, time.UTC)
	mock.ExpectQuery("FROM note_log").
		WillReturnRows(sqlmock.NewRows([]string{"fixture_id", "type", "seq", "ts", "payload"}).
			AddRow(9001, "odds_update", 2, ts, []byte(`{}`)).
			AddRow(9001, "odds_update", 3, ts.Add(time.Minute), []byte(`{}`)))

	notes, err := repo.Since(context.Background(), 9001, domain.NoteOddsUpdate, 1, time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, int64(2), notes[0].Seq)
	assert.Equal(t, int64(3), notes[1].Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinceRefusesGappedReplay(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNoteRepo(db, time.Second)

	// Oldest retained seq is 5, subscriber last saw 1: seqs 2..4 are gone.
	mock.ExpectQuery("SELECT MIN").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(5))

	_, err := repo.Since(context.Background(), 9001, domain.NoteOddsUpdate, 1, time.Hour, 100)
	assert.ErrorIs(t, err, persistence.ErrCatchupUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinceEmptyLogFreshTopic(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNoteRepo(db, time.Second)

	mock.ExpectQuery("SELECT MIN").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))
	mock.ExpectQuery("SELECT last_seq FROM note_seq").
		WillReturnError(sql.ErrNoRows)

	notes, err := repo.Since(context.Background(), 9001, domain.NoteOddsUpdate, 0, time.Hour, 100)
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSinceEmptyLogAfterExpiry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNoteRepo(db, time.Second)

	// Everything aged out but seqs were minted past the subscriber's mark.
	mock.ExpectQuery("SELECT MIN").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))
	mock.ExpectQuery("SELECT last_seq FROM note_seq").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(7))

	_, err := repo.Since(context.Background(), 9001, domain.NoteOddsUpdate, 0, time.Hour, 100)
	assert.ErrorIs(t, err, persistence.ErrCatchupUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
