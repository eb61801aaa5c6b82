package users

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrInvalidInput = errors.New("invalid input")

	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already exists")

	errUsernameLength = fmt.Errorf("%w: username must be 3 to 64 characters", ErrInvalidInput)
	errEmail          = fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	errBirthdate      = fmt.Errorf("%w: birthdate must be MMDD", ErrInvalidInput)
	errGender         = fmt.Errorf("%w: gender must be male or female", ErrInvalidInput)
)
