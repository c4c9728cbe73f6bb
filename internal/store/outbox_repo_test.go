package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestEnqueueReportsCreated(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db)

	mock.ExpectExec(`INSERT INTO push_outbox`).
		WithArgs("chan1", "", "ev1", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := repo.Enqueue(context.Background(), "chan1", "", "ev1", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueAbsorbsDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db)

	mock.ExpectExec(`INSERT INTO push_outbox`).
		WithArgs("chan1", "", "ev1", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Enqueue(context.Background(), "chan1", "", "ev1", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseStampsAndReturnsDueRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "channel_id", "thread_id", "event_key", "payload",
		"status", "attempt", "next_try_at", "last_error", "created_at", "updated_at",
	}).
		AddRow(int64(7), "chan1", nil, "ev1", []byte(`{}`), "pending", 0, nil, nil, now, now).
		AddRow(int64(9), "chan2", nil, "ev2", []byte(`{}`), "retry", 2, now, nil, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM push_outbox`).WithArgs(20).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE push_outbox SET status = 'pending'`).
		WithArgs(int64(7), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	got, err := repo.Lease(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "retry", got[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseEmptyBatchCommitsCleanly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM push_outbox`).WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	got, err := repo.Lease(context.Background(), 20)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRetryBumpsAttempt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db)

	next := time.Now().Add(10 * time.Second)
	mock.ExpectExec(`UPDATE push_outbox\s+SET status = 'retry', attempt = attempt \+ 1`).
		WithArgs(int64(7), next, "telegram: 500").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRetry(context.Background(), 7, next, "telegram: 500"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveToDLQSnapshotsBeforeFlip(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO push_outbox_dlq`).
		WithArgs(int64(7), "attempts exhausted").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE push_outbox\s+SET status = 'dlq'`).
		WithArgs(int64(7), "attempts exhausted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MoveToDLQ(context.Background(), 7, "attempts exhausted"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncateErrCapsLength(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncateErr(string(long)), 500)
	assert.Equal(t, "short", truncateErr("short"))
}
