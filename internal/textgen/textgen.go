package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured is returned when no text generator provider is set up.
	ErrNotConfigured = errors.New("text generator not configured")
	// ErrInvalidKey matches provider responses rejecting the API key.
	ErrInvalidKey = errors.New("text generator api key invalid")
)

// File is one binary attachment passed to the model.
type File struct {
	Data     []byte
	MimeType string
}

// Request is a single prompt with optional attachments.
type Request struct {
	System string
	User   string
	Files  []File
}

// Generator produces text from a prompt and attachments, either in one shot or streamed.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// GenerateFromImage is the single-shot, single-file call.
func GenerateFromImage(ctx context.Context, g Generator, system, user string, data []byte, mimeType string) (string, error) {
	return g.Generate(ctx, Request{System: system, User: user, Files: []File{{Data: data, MimeType: mimeType}}})
}

// StreamFromImage streams a response for one file.
func StreamFromImage(ctx context.Context, g Generator, system, user string, data []byte, mimeType string) (*Stream, error) {
	return g.Stream(ctx, Request{System: system, User: user, Files: []File{{Data: data, MimeType: mimeType}}})
}

// StreamFromImages streams a response for a batch of files.
func StreamFromImages(ctx context.Context, g Generator, system, user string, files []File) (*Stream, error) {
	return g.Stream(ctx, Request{System: system, User: user, Files: files})
}

// Placeholder is used when AI_PROVIDER is "none".
type Placeholder struct{}

func (Placeholder) Generate(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}

func (Placeholder) Stream(context.Context, Request) (*Stream, error) {
	return nil, ErrNotConfigured
}

// StatusError carries the HTTP status a provider answered with.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInvalidKey) match 401/403 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrInvalidKey && (e.StatusCode == 401 || e.StatusCode == 403)
}

// IsImage reports whether the mime type is a raster image.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// IsPDF reports whether the mime type is a PDF.
func IsPDF(mimeType string) bool {
	return strings.EqualFold(strings.TrimSpace(mimeType), "application/pdf")
}
