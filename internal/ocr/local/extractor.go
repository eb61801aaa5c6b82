package local

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"analyzer-backend/internal/ocr"
	"analyzer-backend/internal/shared/telemetry"
)

// Extractor pulls embedded text out of PDFs without calling an OCR vendor.
// Raster images have no text layer and contribute an empty section.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) ExtractText(ctx context.Context, images []ocr.Image) (string, error) {
	sections := make([]string, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := extractOne(img)
		if err != nil {
			return "", fmt.Errorf("local ocr image=%s: %w", img.Name, err)
		}
		sections = append(sections, text)
	}
	return ocr.JoinSections(sections), nil
}

func extractOne(img ocr.Image) (string, error) {
	if ocr.Format(img.MimeType) != "pdf" {
		telemetry.Debug("ocr.local_skip_image", map[string]any{
			"image_name": img.Name,
			"mime_type":  img.MimeType,
		})
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(img.Base64)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	return extractPDF(data)
}

func extractPDF(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var _ ocr.Extractor = (*Extractor)(nil)
