package clova

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"analyzer-backend/internal/ocr"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/shared/util"
)

const defaultTimeout = 60 * time.Second

// Client calls the Naver Clova general OCR API. The API accepts one image per
// request, so images are sent sequentially.
type Client struct {
	apiKey     string
	gateway    string
	httpClient *http.Client
	now        func() time.Time
	newID      func() string
}

// New constructs a Clova client. A zero timeout uses 60s.
func New(apiKey, gateway string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("CLOVA_OCR_API_KEY is required")
	}
	if strings.TrimSpace(gateway) == "" {
		return nil, fmt.Errorf("CLOVA_OCR_API_GATEWAY is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		gateway:    gateway,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

type requestImage struct {
	Format string `json:"format"`
	Name   string `json:"name"`
	Data   string `json:"data"`
}

type request struct {
	Version   string         `json:"version"`
	RequestID string         `json:"requestId"`
	Timestamp int64          `json:"timestamp"`
	Images    []requestImage `json:"images"`
}

// ExtractText implements ocr.Extractor. Any failing image fails the batch.
func (c *Client) ExtractText(ctx context.Context, images []ocr.Image) (string, error) {
	texts := make([]string, 0, len(images))
	for _, img := range images {
		text, err := c.recognize(ctx, img)
		if err != nil {
			telemetry.Error("ocr.image_failed", map[string]any{
				"image_name": img.Name,
				"error":      err,
			})
			return "", fmt.Errorf("clova ocr image=%s: %w", img.Name, err)
		}
		texts = append(texts, text)
	}
	return ocr.JoinSections(texts), nil
}

func (c *Client) recognize(ctx context.Context, img ocr.Image) (string, error) {
	format := ocr.Format(img.MimeType)
	payload, err := json.Marshal(request{
		Version:   "V2",
		RequestID: c.newID(),
		Timestamp: c.now().UnixMilli(),
		Images:    []requestImage{{Format: format, Name: img.Name, Data: img.Base64}},
	})
	if err != nil {
		return "", err
	}

	telemetry.Debug("ocr.request", map[string]any{
		"image_name":  img.Name,
		"format":      format,
		"data_length": len(img.Base64),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gateway, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OCR-SECRET", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return "", fmt.Errorf("clova request timeout: %w", err)
		}
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: util.Truncate(string(body), 300)}
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("clova response parse: invalid json")
	}

	text := parseText(body)
	telemetry.Debug("ocr.completed", map[string]any{
		"image_name": img.Name,
		"text_len":   len(text),
	})
	return text, nil
}

// parseText joins each image's inferText fields with spaces and images with newlines.
func parseText(body []byte) string {
	var lines []string
	gjson.GetBytes(body, "images").ForEach(func(_, image gjson.Result) bool {
		var words []string
		image.Get("fields").ForEach(func(_, field gjson.Result) bool {
			words = append(words, field.Get("inferText").String())
			return true
		})
		lines = append(lines, strings.Join(words, " "))
		return true
	})
	return strings.Join(lines, "\n")
}

// StatusError is returned for non-2xx Clova responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("clova status %d: %s", e.StatusCode, e.Body)
}

var _ ocr.Extractor = (*Client)(nil)
