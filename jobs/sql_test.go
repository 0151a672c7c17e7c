package jobs

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdash/x402pay/broker"
)

var recordColumns = []string{"id", "kind", "broker_job_id", "status", "result", "network", "payer", "spender", "asset", "tx_hash", "created_at", "updated_at"}

func setupMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return NewSQLStore(db), mock
}

func TestSQLMigrate(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS jobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSQLSave(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := &Record{
		ID:          "id-1",
		Kind:        broker.KindRun,
		BrokerJobID: "abc",
		Status:      "completed",
		Result:      []byte(`{"stdout":"hi"}`),
		Network:     "base-sepolia",
		Payer:       "0xpayer",
		Spender:     "0xspender",
		Asset:       "0xasset",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("id-1", "run", "abc", "completed", `{"stdout":"hi"}`, "base-sepolia", "0xpayer", "0xspender", "0xasset", "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), record))

	noResult := *record
	noResult.Result = nil
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("id-1", "run", "abc", "completed", nil, "base-sepolia", "0xpayer", "0xspender", "0xasset", "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.Save(context.Background(), &noResult))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSQLGet(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(recordColumns).
			AddRow("id-1", "store", "s1", "stored", `{"url":"u"}`, "base", "0xp", "0xs", "0xa", "0xtx", now, now)
		mock.ExpectQuery(regexp.QuoteMeta(selectColumns + " WHERE id = $1")).
			WithArgs("id-1").
			WillReturnRows(rows)

		record, err := store.Get(context.Background(), "id-1")
		require.NoError(t, err)
		assert.Equal(t, broker.KindStore, record.Kind)
		assert.Equal(t, "s1", record.BrokerJobID)
		assert.JSONEq(t, `{"url":"u"}`, string(record.Result))
		assert.Equal(t, "0xtx", record.Transaction)
		assert.True(t, now.Equal(record.CreatedAt))
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(selectColumns + " WHERE id = $1")).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(recordColumns))

		_, err := store.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(selectColumns + " WHERE id = $1")).
			WithArgs("id-1").
			WillReturnError(sql.ErrConnDone)

		_, err := store.Get(context.Background(), "id-1")
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSQLList(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(recordColumns).
		AddRow("id-2", "run", "r2", "completed", nil, "", "", "", "", "", now, now).
		AddRow("id-1", "run", "r1", "completed", `{"stdout":"hi"}`, "", "", "", "", "", now.Add(-time.Minute), now)
	mock.ExpectQuery(regexp.QuoteMeta(selectColumns + " WHERE kind = $1 ORDER BY created_at DESC")).
		WithArgs("run").
		WillReturnRows(rows)

	records, err := store.List(context.Background(), broker.KindRun)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "id-2", records[0].ID)
	assert.Nil(t, records[0].Result)
	assert.JSONEq(t, `{"stdout":"hi"}`, string(records[1].Result))

	mock.ExpectQuery(regexp.QuoteMeta(selectColumns + " ORDER BY created_at DESC")).
		WillReturnRows(sqlmock.NewRows(recordColumns))
	records, err = store.List(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSQLApplyStatus(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)
	store.now = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectColumns + " WHERE id = $1 FOR UPDATE")).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("id-1", "run", "r1", "running", nil, "", "", "", "", "", created, created))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET status = $2, result = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("id-1", "completed", `{"stdout":"hi"}`, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := store.ApplyStatus(context.Background(), "id-1", broker.JobResponse{
		JobID:  "r1",
		Status: "completed",
		Result: []byte(`{"stdout":"hi"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", record.Status)
	assert.Equal(t, now, record.UpdatedAt)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectColumns + " WHERE id = $1 FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(recordColumns))
	mock.ExpectRollback()

	_, err = store.ApplyStatus(context.Background(), "missing", broker.JobResponse{Status: "completed"})
	assert.ErrorIs(t, err, ErrNotFound)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
