package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu     sync.RWMutex
	data   map[int64]Document
	nextID int64
	now    func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[int64]Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create assigns the next id and a creation time, then stores doc.
func (r *MemoryRepo) Create(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	doc.ID = r.nextID
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now()
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	r.data[doc.ID] = doc.clone()
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, ownerID, id int64) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[id]
	if !ok || doc.OwnerID != ownerID {
		return Document{}, ErrNotFound
	}
	return doc.clone(), nil
}

// ListByOwner returns documents newest first, honoring limit/offset.
func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	docs, _ := r.FindMany(ctx, Filter{OwnerID: ownerID})
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end], nil
}

// FindMany returns matching documents ordered by id.
func (r *MemoryRepo) FindMany(ctx context.Context, filter Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var allowed map[int64]struct{}
	if len(filter.IDs) > 0 {
		allowed = make(map[int64]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			allowed[id] = struct{}{}
		}
	}

	r.mu.RLock()
	out := make([]Document, 0)
	for _, doc := range r.data {
		if doc.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[doc.ID]; !ok {
				continue
			}
		}
		out = append(out, doc.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateMany applies patch to every known id under one lock. Unknown ids are skipped.
func (r *MemoryRepo) UpdateMany(ctx context.Context, ids []int64, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !patch.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidInput, patch.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		doc, ok := r.data[id]
		if !ok {
			continue
		}
		doc.Status = patch.Status
		doc.AnalysisResult = patch.result()
		r.data[id] = doc
	}
	return nil
}

// Save overwrites the mutable fields of an existing document.
func (r *MemoryRepo) Save(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[doc.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = doc.Status
	existing.AnalysisResult = Patch{Status: doc.Status, AnalysisResult: doc.AnalysisResult}.result()
	r.data[doc.ID] = existing
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
