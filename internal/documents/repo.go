package documents

import "context"

// Repo defines persistence operations for documents.
type Repo interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, ownerID, id int64) (Document, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Document, error)
	FindMany(ctx context.Context, filter Filter) ([]Document, error)
	UpdateMany(ctx context.Context, ids []int64, patch Patch) error
	Save(ctx context.Context, doc Document) error
}
