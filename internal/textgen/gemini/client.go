package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"analyzer-backend/internal/textgen"
)

const (
	DefaultModel     = "gemini-2.5-flash"
	DefaultMaxTokens = 2048
)

type Options struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	BaseURL   string
}

// Client implements textgen.Generator on the Gemini API. Files are sent inline.
type Client struct {
	api       *genai.Client
	model     string
	maxTokens int32
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required: %w", textgen.ErrInvalidKey)
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	api, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{api: api, model: opts.Model, maxTokens: int32(opts.MaxTokens)}, nil
}

func (c *Client) Generate(ctx context.Context, req textgen.Request) (string, error) {
	resp, err := c.api.Models.GenerateContent(ctx, c.model, buildContents(req), c.buildConfig(req))
	if err != nil {
		return "", wrapError(err)
	}
	return resp.Text(), nil
}

// Stream pulls the first response before returning, so a rejected request
// is an open error and can be retried.
func (c *Client) Stream(ctx context.Context, req textgen.Request) (*textgen.Stream, error) {
	next, stop := iter.Pull2(c.api.Models.GenerateContentStream(ctx, c.model, buildContents(req), c.buildConfig(req)))
	first, err, ok := next()
	if !ok {
		stop()
		return textgen.NewStaticStream(nil, nil), nil
	}
	if err != nil {
		stop()
		return nil, wrapError(err)
	}

	return textgen.NewStream(ctx, func(ctx context.Context, emit textgen.Emit) error {
		defer stop()
		resp := first
		for {
			if resp != nil {
				if text := resp.Text(); text != "" {
					if err := emit(text); err != nil {
						return err
					}
				}
			}
			var (
				err error
				ok  bool
			)
			resp, err, ok = next()
			if !ok {
				return nil
			}
			if err != nil {
				return wrapError(err)
			}
		}
	}), nil
}

func buildContents(req textgen.Request) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Files)+1)
	for _, f := range req.Files {
		parts = append(parts, genai.NewPartFromBytes(f.Data, f.MimeType))
	}
	parts = append(parts, genai.NewPartFromText(req.User))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func (c *Client) buildConfig(req textgen.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: c.maxTokens}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return &textgen.StatusError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	return fmt.Errorf("gemini: %w", err)
}

var _ textgen.Generator = (*Client)(nil)
