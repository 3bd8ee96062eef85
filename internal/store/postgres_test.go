package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groveworks/canopy/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgres_CreateTree(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO trees").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.CreateTree(context.Background(), sampleTree("100000001"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateTree_DuplicateMapsToSentinel(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO trees").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "trees_pkey"})

	err := s.CreateTree(context.Background(), sampleTree("100000001"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrDuplicateIdentifier))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetTreeByPublicID_Missing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM trees WHERE public_id").
		WithArgs("999999999").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetTreeByPublicID(context.Background(), "999999999")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListActiveTrees(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"public_id", "declared_type", "latitude", "longitude",
		"owner", "measurements", "fruit",
		"status", "archived", "archived_at", "last_updated_at",
	}).AddRow(
		"100000001", "Olive", 36.8065, 10.1815,
		[]byte(`{"first_name":"Amel","last_name":"Ben Salah","email":"amel@example.com"}`),
		[]byte(`{"height":4.2}`),
		[]byte(`{"present":true,"estimated_quantity":40}`),
		"healthy", false, (*time.Time)(nil), now,
	)

	mock.ExpectQuery("SELECT (.+) FROM trees WHERE archived = FALSE").
		WillReturnRows(rows)

	got, err := s.ListActiveTrees(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "100000001", got[0].PublicID)
	assert.Equal(t, "Olive", got[0].DeclaredType)
	require.NotNil(t, got[0].Measurements.Height)
	assert.InDelta(t, 4.2, *got[0].Measurements.Height, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ArchiveTree_Missing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE trees SET archived = TRUE").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ArchiveTree(context.Background(), "999999999", time.Now())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithCellLock(t *testing.T) {
	s, mock := newMockStore(t)

	// The lock must live inside a dedicated transaction: the xact advisory
	// lock pins one connection for the whole sequence and commit releases it.
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(int64(1234)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	var ran bool
	err := s.WithCellLock(context.Background(), 1234, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WithCellLock_FnErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(int64(1234)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	sentinel := eris.New("boom")
	err := s.WithCellLock(context.Background(), 1234, func(context.Context) error {
		return sentinel
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, sentinel))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveReconcileReport(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO reconcile_batches").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"reconcile_rows"},
		[]string{"batch_id", "row_index", "outcome", "public_id", "message"}).
		WillReturnResult(2)

	report := &model.ReconcileReport{
		BatchID: "b1",
		Total:   2,
		Created: 1,
		Updated: 1,
		PerRow: []model.RowResult{
			{RowIndex: 0, Outcome: model.RowOutcomeCreated, PublicID: "100000001"},
			{RowIndex: 1, Outcome: model.RowOutcomeUpdated, PublicID: "100000002"},
		},
	}
	require.NoError(t, s.SaveReconcileReport(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendObservation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO observations").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	obs := &model.Observation{
		ID:           "obs-1",
		TreeRef:      "100000001",
		CapturedAt:   time.Now().UTC(),
		GPS:          model.GPS{Latitude: 36.8, Longitude: 10.18},
		DeclaredType: "Olive",
	}
	require.NoError(t, s.AppendObservation(context.Background(), obs))
	assert.NoError(t, mock.ExpectationsWereMet())
}
