package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/textgen"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 2048
)

type Options struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	BaseURL   string
}

// Client implements textgen.Generator on the Anthropic Messages API.
type Client struct {
	api       anthropic.Client
	model     string
	maxTokens int64
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required: %w", textgen.ErrInvalidKey)
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

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithRequestTimeout(timeout),
		// textgen.WithRetry owns retries.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{
		api:       anthropic.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
	}, nil
}

func (c *Client) Generate(ctx context.Context, req textgen.Request) (string, error) {
	resp, err := c.api.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return "", wrapError(err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// Stream reads the first event before returning so that rejected requests
// surface as an open error rather than a mid-stream one.
func (c *Client) Stream(ctx context.Context, req textgen.Request) (*textgen.Stream, error) {
	stream := c.api.Messages.NewStreaming(ctx, c.buildParams(req))
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err != nil {
			return nil, wrapError(err)
		}
		return textgen.NewStaticStream(nil, nil), nil
	}

	return textgen.NewStream(ctx, func(ctx context.Context, emit textgen.Emit) error {
		defer stream.Close()
		for {
			evt := stream.Current()
			if evt.Type == "content_block_delta" && evt.Delta.Type == "text_delta" && evt.Delta.Text != "" {
				if err := emit(evt.Delta.Text); err != nil {
					return err
				}
			}
			if evt.Type == "message_stop" {
				return nil
			}
			if !stream.Next() {
				break
			}
		}
		if err := stream.Err(); err != nil {
			return wrapError(err)
		}
		return nil
	}), nil
}

func (c *Client) buildParams(req textgen.Request) anthropic.MessageNewParams {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Files)+1)
	for _, f := range req.Files {
		data := base64.StdEncoding.EncodeToString(f.Data)
		switch {
		case textgen.IsPDF(f.MimeType):
			blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: data}))
		case textgen.IsImage(f.MimeType):
			blocks = append(blocks, anthropic.NewImageBlockBase64(f.MimeType, data))
		default:
			telemetry.Debug("textgen.anthropic_skip_file", map[string]any{"mime_type": f.MimeType})
		}
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.User))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return &textgen.StatusError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("anthropic: %w", err)
}

var _ textgen.Generator = (*Client)(nil)
