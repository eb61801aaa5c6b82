package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const (
	selectColumns = `id, username, email, birthdate, gender, provider, provider_id, created_at, updated_at`

	uniqueViolation = "23505"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var email, birthdate, gender, provider, pid sql.NullString
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&email,
		&birthdate,
		&gender,
		&provider,
		&pid,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	user.Email = email.String
	user.Birthdate = birthdate.String
	user.Gender = gender.String
	user.Provider = provider.String
	user.ProviderID = pid.String
	return user, nil
}

func (r *PGRepo) Create(ctx context.Context, user *User) error {
	const query = `
INSERT INTO users (username, email, birthdate, gender, provider, provider_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, updated_at`

	if user == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidInput)
	}
	err := r.DB.QueryRowContext(ctx, query,
		user.Username,
		nullable(user.Email),
		nullable(user.Birthdate),
		nullable(user.Gender),
		nullable(user.Provider),
		nullable(user.ProviderID),
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	return mapError(err)
}

func (r *PGRepo) GetByID(ctx context.Context, id int64) (User, error) {
	query := `SELECT ` + selectColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

func (r *PGRepo) FindByProvider(ctx context.Context, provider, providerID string) (User, error) {
	query := `SELECT ` + selectColumns + ` FROM users WHERE provider = $1 AND provider_id = $2`
	user, err := scanUser(r.DB.QueryRowContext(ctx, query, provider, providerID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]User, error) {
	query := `SELECT ` + selectColumns + ` FROM users ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := r.DB.QueryContext(ctx, query, limit, max(offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

// Update writes the profile fields. Provider linkage is never changed here.
func (r *PGRepo) Update(ctx context.Context, user User) error {
	const query = `
UPDATE users
SET username = $2, email = $3, birthdate = $4, gender = $5, updated_at = NOW()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query,
		user.ID,
		user.Username,
		nullable(user.Email),
		nullable(user.Birthdate),
		nullable(user.Gender),
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (r *PGRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapError turns unique violations into domain errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_username_key":
		return ErrUsernameTaken
	case "users_email_key":
		return ErrEmailTaken
	}
	return err
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var _ Repo = (*PGRepo)(nil)
