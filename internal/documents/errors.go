package documents

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidInput = errors.New("invalid input")

	ErrUnsupportedType = fmt.Errorf("%w: unsupported file type", ErrInvalidInput)
	ErrTooLarge        = fmt.Errorf("%w: file too large", ErrInvalidInput)

	// ErrStorage wraps blob store failures during upload.
	ErrStorage = errors.New("storage error")
)
