package users

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu     sync.RWMutex
	data   map[int64]User
	nextID int64
	now    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[int64]User),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Create(ctx context.Context, user *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conflict(*user); err != nil {
		return err
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = r.now()
	user.UpdatedAt = user.CreatedAt
	r.data[user.ID] = *user
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id int64) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.data[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryRepo) FindByProvider(ctx context.Context, provider, providerID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.data {
		if user.Provider == provider && user.ProviderID == providerID {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

// List returns users ordered by id.
func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]User, 0, len(r.data))
	for _, user := range r.data {
		out = append(out, user)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	offset = max(offset, 0)
	if offset >= len(out) {
		return []User{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, user User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[user.ID]
	if !ok {
		return ErrNotFound
	}
	if err := r.conflict(user); err != nil {
		return err
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = r.now()
	r.data[user.ID] = user
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return ErrNotFound
	}
	delete(r.data, id)
	return nil
}

// conflict mirrors the unique constraints of the users table. Callers hold mu.
func (r *MemoryRepo) conflict(user User) error {
	for id, other := range r.data {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(other.Username, user.Username) {
			return ErrUsernameTaken
		}
		if user.Email != "" && strings.EqualFold(other.Email, user.Email) {
			return ErrEmailTaken
		}
	}
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
