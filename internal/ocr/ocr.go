package ocr

import (
	"context"
	"strings"
)

// Image is one base64-encoded page or picture submitted for text extraction.
type Image struct {
	Base64   string
	MimeType string
	Name     string
}

// Extractor turns a batch of images into one text blob.
type Extractor interface {
	ExtractText(ctx context.Context, images []Image) (string, error)
}

// JoinSections joins per-image text with a blank line between images.
func JoinSections(sections []string) string {
	return strings.Join(sections, "\n\n")
}

// Format returns the subtype of a mime type, e.g. "png" for "image/png".
func Format(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	if idx := strings.Index(mimeType, "/"); idx >= 0 {
		return strings.ToLower(strings.TrimSpace(mimeType[idx+1:]))
	}
	return strings.ToLower(mimeType)
}
