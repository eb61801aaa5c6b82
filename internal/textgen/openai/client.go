package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/textgen"
)

const (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 2048
)

// Options configures the OpenAI client.
type Options struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	BaseURL   string
}

// Client implements textgen.Generator using OpenAI Chat Completions with vision input.
type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
}

// NewClient constructs a new OpenAI client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required: %w", textgen.ErrInvalidKey)
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

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Client{
		api:       openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}, nil
}

func (c *Client) Generate(ctx context.Context, req textgen.Request) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response missing choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Stream(ctx context.Context, req textgen.Request) (*textgen.Stream, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(req))
	if err != nil {
		return nil, wrapError(err)
	}
	return textgen.NewStream(ctx, func(ctx context.Context, emit textgen.Emit) error {
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return wrapError(err)
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if err := emit(resp.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
	}), nil
}

func (c *Client) buildRequest(req textgen.Request) openai.ChatCompletionRequest {
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.User}}
	for _, f := range req.Files {
		if !textgen.IsImage(f.MimeType) {
			// Chat Completions only takes images inline; other files reach the model through the OCR text.
			telemetry.Debug("textgen.openai_skip_file", map[string]any{"mime_type": f.MimeType})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(f),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})

	return openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	}
}

func dataURL(f textgen.File) string {
	return "data:" + f.MimeType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &textgen.StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &textgen.StatusError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return fmt.Errorf("openai request timeout: %w", err)
	}
	return fmt.Errorf("openai: %w", err)
}

var _ textgen.Generator = (*Client)(nil)
