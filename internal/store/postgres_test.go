package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonge/no8s-operator/internal/apperrors"
	"github.com/wilsonge/no8s-operator/internal/model"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestCreateResourceInsertsDefaultFinalizerAndSpecHash(t *testing.T) {
	s, mock := newMockStore(t)
	wantHash, err := SpecHash(json.RawMessage(`{"replicas":2}`))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO resources")).
		WithArgs("demo", "widget", "v1", "noop_success", sqlmock.AnyArg(), wantHash,
			sqlmock.AnyArg(), sqlmock.AnyArg(), []byte(`["noop_success"]`), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	r := &model.Resource{
		Name:                "demo",
		ResourceTypeName:    "widget",
		ResourceTypeVersion: "v1",
		ActionPlugin:        "noop_success",
		Spec:                json.RawMessage(`{"replicas":2}`),
	}
	id, err := s.CreateResource(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateResourceRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO resources")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	r := &model.Resource{
		Name:                "demo",
		ResourceTypeName:    "widget",
		ResourceTypeVersion: "v1",
		ActionPlugin:        "noop_success",
		Spec:                json.RawMessage(`{"replicas":2}`),
	}
	_, err := s.CreateResource(context.Background(), r)
	require.Error(t, err)
	var ae *apperrors.AppError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperrors.ErrorTypeTransient, ae.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResourceNotFoundReturnsNotFoundError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM resources WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.GetResource(context.Background(), 99)
	require.Error(t, err)
	var ae *apperrors.AppError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperrors.ErrorTypeNotFound, ae.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectAndClaimUsesSkipLockedAndFlipsStatus(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{
		"id", "name", "resource_type_name", "resource_type_version", "action_plugin",
		"spec", "spec_hash", "status", "status_message", "generation", "observed_generation",
		"finalizers", "plugin_config", "metadata", "outputs",
		"next_reconcile_time", "last_reconcile_time", "retry_count", "deleted_at",
		"created_at", "updated_at",
	}
	row := sqlmock.NewRows(cols).AddRow(
		int64(7), "demo", "widget", "v1", "noop_success",
		[]byte(`{"replicas":2}`), "hash", "pending", "", int64(1), int64(0),
		[]byte(`[]`), []byte(`{}`), []byte(`{}`), []byte(`{}`),
		nil, nil, 0, nil,
		time.Now(), time.Now(),
	)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).WillReturnRows(row)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE resources SET status = 'reconciling'")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resources, err := s.GetResourcesNeedingReconciliation(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, model.StatusReconciling, resources[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
