package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"analyzer-backend/internal/shared/util"
	"analyzer-backend/internal/textgen"
)

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrUnsupportedFile = errors.New("only pdf, jpeg and png files can be analyzed")
	ErrFileTooLarge    = errors.New("file exceeds analysis size limit")
)

// Failure classes used in logs and metrics.
const (
	FailureStorage    = "storage"
	FailureOCR        = "ocr"
	FailureGeneration = "generation"
	FailureInternal   = "internal"
)

const maxErrorLength = 500

// stageError tags an error with the pipeline stage that produced it.
type stageError struct {
	class string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

func stageErr(class string, format string, args ...any) error {
	return &stageError{class: class, err: fmt.Errorf(format, args...)}
}

func classifyFailure(err error) string {
	if err == nil {
		return FailureInternal
	}
	var se *stageError
	if errors.As(err, &se) {
		return se.class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, textgen.ErrNotConfigured) {
		return FailureGeneration
	}
	return FailureInternal
}

// sanitizeError flattens an error for the failed event.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	return util.Truncate(msg, maxErrorLength)
}
