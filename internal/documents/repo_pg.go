package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectColumns = `id, owner_id, original_name, mime_type, blob_key, size_bytes, status, analysis_result, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var status string
	var result sql.NullString
	if err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.OriginalName,
		&doc.MimeType,
		&doc.BlobKey,
		&doc.SizeBytes,
		&status,
		&result,
		&doc.CreatedAt,
	); err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	if result.Valid {
		doc.AnalysisResult = &result.String
	}
	return doc, nil
}

// Create inserts a new document and fills in its id and creation time.
func (r *PGRepo) Create(ctx context.Context, doc *Document) error {
	const query = `
INSERT INTO documents (
    owner_id,
    original_name,
    mime_type,
    blob_key,
    size_bytes,
    status
) VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`

	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidInput)
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	return r.DB.QueryRowContext(
		ctx,
		query,
		doc.OwnerID,
		doc.OriginalName,
		doc.MimeType,
		doc.BlobKey,
		doc.SizeBytes,
		string(doc.Status),
	).Scan(&doc.ID, &doc.CreatedAt)
}

// GetByID fetches a document by id for an owner.
func (r *PGRepo) GetByID(ctx context.Context, ownerID, id int64) (Document, error) {
	query := `
SELECT ` + selectColumns + `
FROM documents
WHERE owner_id = $1 AND id = $2`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ListByOwner lists documents ordered newest-first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
SELECT ` + selectColumns + `
FROM documents
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// FindMany returns the documents matching filter ordered by id.
func (r *PGRepo) FindMany(ctx context.Context, filter Filter) ([]Document, error) {
	var sb strings.Builder
	sb.WriteString("\nSELECT " + selectColumns + "\nFROM documents\nWHERE owner_id = $1")
	args := []any{filter.OwnerID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		sb.WriteString(" AND status = $" + strconv.Itoa(len(args)))
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		sb.WriteString(" AND id = ANY($" + strconv.Itoa(len(args)) + "::bigint[])")
	}
	sb.WriteString("\nORDER BY id")

	rows, err := r.DB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// UpdateMany applies patch to all ids in a single statement.
func (r *PGRepo) UpdateMany(ctx context.Context, ids []int64, patch Patch) error {
	if len(ids) == 0 {
		return nil
	}
	if !patch.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidInput, patch.Status)
	}
	const query = `
UPDATE documents
SET status = $1, analysis_result = $2
WHERE id = ANY($3::bigint[])`
	_, err := r.DB.ExecContext(ctx, query, string(patch.Status), nullString(patch.result()), ids)
	return err
}

// Save persists the mutable fields of doc.
func (r *PGRepo) Save(ctx context.Context, doc Document) error {
	const query = `
UPDATE documents
SET status = $1, analysis_result = $2
WHERE id = $3`
	result := Patch{Status: doc.Status, AnalysisResult: doc.AnalysisResult}.result()
	res, err := r.DB.ExecContext(ctx, query, string(doc.Status), nullString(result), doc.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func collect(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	out := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
