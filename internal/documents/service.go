package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"analyzer-backend/internal/shared/metrics"
	"analyzer-backend/internal/shared/storage/object"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/shared/util"
)

const DefaultMaxUploadBytes int64 = 10 << 20

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// AllowedMimeType reports whether uploads of this content type are accepted.
func AllowedMimeType(mimeType string) bool {
	return allowedMimeTypes[normalizeMime(mimeType)]
}

// BlobUploader is the write side of the blob store used by uploads.
type BlobUploader interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (object.Info, error)
}

// Service contains business logic for documents.
type Service struct {
	Blobs    BlobUploader
	Repo     Repo
	MaxBytes int64
	NewToken func() string
}

// Upload stores the blob first and only then creates the record, so a failed
// blob write never leaves a record behind.
func (s *Service) Upload(ctx context.Context, ownerID int64, fileName, mimeType string, size int64, r io.Reader) (Document, error) {
	if ownerID <= 0 {
		return Document{}, fmt.Errorf("%w: owner id required", ErrInvalidInput)
	}
	mimeType = normalizeMime(mimeType)
	if !allowedMimeTypes[mimeType] {
		return Document{}, ErrUnsupportedType
	}
	safeName, err := util.SanitizeFileName(fileName)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	maxBytes := s.maxBytes()
	if size > maxBytes {
		return Document{}, ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("%w: read upload: %v", ErrInvalidInput, err)
	}
	if int64(len(data)) > maxBytes {
		return Document{}, ErrTooLarge
	}

	key := s.blobKey(ownerID, safeName)
	if _, err := s.Blobs.Upload(ctx, data, key, mimeType); err != nil {
		telemetry.Error("documents.upload_failed", map[string]any{
			"owner_id": ownerID,
			"blob_key": key,
			"error":    err,
		})
		return Document{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	doc := Document{
		OwnerID:      ownerID,
		OriginalName: fileName,
		MimeType:     mimeType,
		BlobKey:      key,
		SizeBytes:    int64(len(data)),
		Status:       StatusUploaded,
	}
	if err := s.Repo.Create(ctx, &doc); err != nil {
		return Document{}, err
	}

	metrics.IncDocumentsUploaded()
	telemetry.Info("documents.uploaded", map[string]any{
		"owner_id":    ownerID,
		"document_id": doc.ID,
		"mime_type":   mimeType,
		"size_bytes":  doc.SizeBytes,
	})
	return doc, nil
}

// Get returns one document owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (Document, error) {
	if ownerID <= 0 || id <= 0 {
		return Document{}, ErrNotFound
	}
	return s.Repo.GetByID(ctx, ownerID, id)
}

// List returns the owner's documents newest first.
func (s *Service) List(ctx context.Context, ownerID int64, limit, offset int) ([]Document, error) {
	if ownerID <= 0 {
		return nil, errors.New("owner id required")
	}
	return s.Repo.ListByOwner(ctx, ownerID, limit, offset)
}

func (s *Service) maxBytes() int64 {
	if s.MaxBytes > 0 {
		return s.MaxBytes
	}
	return DefaultMaxUploadBytes
}

// blobKey is <ownerID>/<random token>-<name>.
func (s *Service) blobKey(ownerID int64, safeName string) string {
	token := ""
	if s.NewToken != nil {
		token = s.NewToken()
	}
	if token == "" {
		token = uuid.NewString()
	}
	return strconv.FormatInt(ownerID, 10) + "/" + token + "-" + safeName
}

func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}
