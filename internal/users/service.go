package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"analyzer-backend/internal/shared/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("mmdd", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("20060102", "2000"+fl.Field().String())
		return err == nil
	})
	return v
}

// profile carries the rules for user-editable fields.
type profile struct {
	Username  string `validate:"min=3,max=64"`
	Email     string `validate:"omitempty,email"`
	Birthdate string `validate:"omitempty,len=4,mmdd"`
	Gender    string `validate:"omitempty,oneof=male female"`
}

func validateProfile(u User) error {
	err := validate.Struct(profile{
		Username:  u.Username,
		Email:     u.Email,
		Birthdate: u.Birthdate,
		Gender:    u.Gender,
	})
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	switch fieldErrs[0].Field() {
	case "Username":
		return errUsernameLength
	case "Email":
		return errEmail
	case "Birthdate":
		return errBirthdate
	default:
		return errGender
	}
}

// Service manages users.
type Service struct {
	Repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// CreateInput is the body of POST /users.
type CreateInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Birthdate string `json:"birthdate"`
	Gender    string `json:"gender"`
}

// UpdateInput changes only the fields that are set.
type UpdateInput struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	Birthdate *string `json:"birthdate"`
	Gender    *string `json:"gender"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	user := User{
		Username:  strings.TrimSpace(in.Username),
		Email:     strings.TrimSpace(in.Email),
		Birthdate: strings.TrimSpace(in.Birthdate),
		Gender:    strings.ToLower(strings.TrimSpace(in.Gender)),
	}
	if err := validateProfile(user); err != nil {
		return User{}, err
	}
	if err := s.Repo.Create(ctx, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	if id <= 0 {
		return User{}, ErrNotFound
	}
	return s.Repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.Repo.List(ctx, min(limit, maxListLimit), max(offset, 0))
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if in.Username != nil {
		user.Username = strings.TrimSpace(*in.Username)
	}
	if in.Email != nil {
		user.Email = strings.TrimSpace(*in.Email)
	}
	if in.Birthdate != nil {
		user.Birthdate = strings.TrimSpace(*in.Birthdate)
	}
	if in.Gender != nil {
		user.Gender = strings.ToLower(strings.TrimSpace(*in.Gender))
	}
	if err := validateProfile(user); err != nil {
		return User{}, err
	}
	if err := s.Repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return s.Repo.GetByID(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.Repo.Delete(ctx, id)
}

// UpsertFromProvider returns the user linked to the provider account,
// creating it on first login. Profile fields the provider sent in an
// unusable shape are dropped rather than failing the login.
func (s *Service) UpsertFromProvider(ctx context.Context, id Identity) (User, error) {
	if err := s.ready(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(id.Provider) == "" || strings.TrimSpace(id.ProviderID) == "" {
		return User{}, fmt.Errorf("%w: provider identity is required", ErrInvalidInput)
	}

	existing, err := s.Repo.FindByProvider(ctx, id.Provider, id.ProviderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	user := User{
		Username:   strings.TrimSpace(id.Username),
		Email:      strings.TrimSpace(id.Email),
		Birthdate:  strings.TrimSpace(id.Birthdate),
		Gender:     strings.ToLower(strings.TrimSpace(id.Gender)),
		Provider:   id.Provider,
		ProviderID: id.ProviderID,
	}
	fallback := id.Provider + "_" + id.ProviderID
	if validate.Var(user.Username, "min=3,max=64") != nil {
		user.Username = fallback
	}
	if validate.Var(user.Email, "omitempty,email") != nil {
		user.Email = ""
	}
	if validate.Var(user.Birthdate, "omitempty,len=4,mmdd") != nil {
		user.Birthdate = ""
	}
	if validate.Var(user.Gender, "omitempty,oneof=male female") != nil {
		user.Gender = ""
	}

	err = s.Repo.Create(ctx, &user)
	switch {
	case errors.Is(err, ErrUsernameTaken) && user.Username != fallback:
		user.Username = fallback
		err = s.Repo.Create(ctx, &user)
	case errors.Is(err, ErrEmailTaken):
		telemetry.Warn("users.email_taken", map[string]any{"provider": id.Provider})
		user.Email = ""
		err = s.Repo.Create(ctx, &user)
	}
	if err != nil {
		return User{}, err
	}
	telemetry.Info("users.created", map[string]any{"user_id": user.ID, "provider": id.Provider})
	return user, nil
}

func (s *Service) ready() error {
	if s == nil || s.Repo == nil {
		return errors.New("users service not configured")
	}
	return nil
}
