package documents

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var docColumns = []string{"id", "owner_id", "original_name", "mime_type", "blob_key", "size_bytes", "status", "analysis_result", "created_at"}

// idArgs passes id slices through untouched, as the pgx driver does.
type idArgs struct{}

func (idArgs) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]int64); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMock(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(idArgs{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreateReturnsID(t *testing.T) {
	repo, mock := newMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs(int64(7), "deed.pdf", "application/pdf", "7/u-deed.pdf", int64(42), "uploaded").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), created))

	doc := Document{OwnerID: 7, OriginalName: "deed.pdf", MimeType: "application/pdf", BlobKey: "7/u-deed.pdf", SizeBytes: 42}
	require.NoError(t, repo.Create(context.Background(), &doc))
	assert.Equal(t, int64(11), doc.ID)
	assert.Equal(t, created, doc.CreatedAt)
	assert.Equal(t, StatusUploaded, doc.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRepoFindManyWithIDs(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE owner_id = $1 AND status = $2 AND id = ANY($3::bigint[])")).
		WithArgs(int64(7), "uploaded", []int64{1, 2}).
		WillReturnRows(sqlmock.NewRows(docColumns).
			AddRow(int64(1), int64(7), "a.png", "image/png", "7/a", int64(3), "uploaded", nil, now).
			AddRow(int64(2), int64(7), "b.pdf", "application/pdf", "7/b", int64(4), "uploaded", nil, now))

	docs, err := repo.FindMany(context.Background(), Filter{OwnerID: 7, Status: StatusUploaded, IDs: []int64{1, 2}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b.pdf", docs[1].OriginalName)
	assert.Nil(t, docs[0].AnalysisResult)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRepoFindManyWithoutIDsOmitsAny(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`WHERE owner_id = \$1 AND status = \$2\s+ORDER BY id`).
		WithArgs(int64(7), "uploaded").
		WillReturnRows(sqlmock.NewRows(docColumns))

	docs, err := repo.FindMany(context.Background(), Filter{OwnerID: 7, Status: StatusUploaded, IDs: []int64{}})
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRepoUpdateManyCompleted(t *testing.T) {
	repo, mock := newMock(t)
	result := "Summary: OK"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents")).
		WithArgs("completed", "Summary: OK", []int64{3, 4}).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.UpdateMany(context.Background(), []int64{3, 4}, Patch{Status: StatusCompleted, AnalysisResult: &result}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRepoUpdateManyFailedClearsResult(t *testing.T) {
	repo, mock := newMock(t)
	result := "partial"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents")).
		WithArgs("failed", nil, []int64{3}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateMany(context.Background(), []int64{3}, Patch{Status: StatusFailed, AnalysisResult: &result}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRepoUpdateManyEmptyIsNoop(t *testing.T) {
	repo, mock := newMock(t)
	require.NoError(t, repo.UpdateMany(context.Background(), nil, Patch{Status: StatusAnalyzing}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("FROM documents").
		WithArgs(int64(7), int64(9)).
		WillReturnRows(sqlmock.NewRows(docColumns))

	_, err := repo.GetByID(context.Background(), 7, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGRepoSaveMissingRow(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("UPDATE documents").
		WithArgs("failed", nil, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Save(context.Background(), Document{ID: 5, Status: StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGRepoListByOwnerClampsLimit(t *testing.T) {
	repo, mock := newMock(t)
	result := "done"
	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(int64(7), 100, 0).
		WillReturnRows(sqlmock.NewRows(docColumns).
			AddRow(int64(1), int64(7), "a.png", "image/png", "7/a", int64(3), "completed", result, time.Now()))

	docs, err := repo.ListByOwner(context.Background(), 7, 500, -1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.NotNil(t, docs[0].AnalysisResult)
	assert.Equal(t, "done", *docs[0].AnalysisResult)
}
