package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"analyzer-backend/internal/textgen"
)

func TestBuildContentsPlacesFilesBeforePrompt(t *testing.T) {
	contents := buildContents(textgen.Request{
		User: "Analyze the following documents: a.pdf",
		Files: []textgen.File{
			{Data: []byte("%PDF"), MimeType: "application/pdf"},
			{Data: []byte("img"), MimeType: "image/png"},
		},
	})

	require.Len(t, contents, 1)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	parts := contents[0].Parts
	require.Len(t, parts, 3)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "application/pdf", parts[0].InlineData.MIMEType)
	assert.Equal(t, []byte("img"), parts[1].InlineData.Data)
	assert.Equal(t, "Analyze the following documents: a.pdf", parts[2].Text)
}

func TestBuildConfigSetsSystemInstruction(t *testing.T) {
	c := &Client{model: DefaultModel, maxTokens: 512}

	cfg := c.buildConfig(textgen.Request{System: "be brief"})
	assert.Equal(t, int32(512), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
	require.Len(t, cfg.SystemInstruction.Parts, 1)
	assert.Equal(t, "be brief", cfg.SystemInstruction.Parts[0].Text)

	assert.Nil(t, c.buildConfig(textgen.Request{}).SystemInstruction)
}

func TestWrapErrorKeepsStatus(t *testing.T) {
	err := wrapError(genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"})
	var statusErr *textgen.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, textgen.ShouldRetry(err))

	assert.ErrorIs(t, wrapError(genai.APIError{Code: http.StatusForbidden}), textgen.ErrInvalidKey)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Options{})
	assert.ErrorIs(t, err, textgen.ErrInvalidKey)
}

func collectStream(t *testing.T, stream *textgen.Stream) string {
	t.Helper()
	var b strings.Builder
	for chunk := range stream.Chunks() {
		b.WriteString(chunk)
	}
	require.NoError(t, stream.Err())
	return b.String()
}

func streamBody(texts ...string) string {
	var b strings.Builder
	for _, text := range texts {
		b.WriteString(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"` + text + `"}]}}]}`)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestStreamReturnsOpenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	stream, err := c.Stream(context.Background(), textgen.Request{User: "u"})
	require.Error(t, err)
	assert.Nil(t, stream)
	var statusErr *textgen.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestStreamOpenIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "streamGenerateContent")
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamBody("Summary: ", "OK")))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	gen := textgen.WithRetry(c, textgen.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond})

	stream, err := gen.Stream(context.Background(), textgen.Request{User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "Summary: OK", collectStream(t, stream))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}
