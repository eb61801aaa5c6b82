package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBatchPromptFormat(t *testing.T) {
	got := DefaultPrompts().BatchPrompt([]string{"a.pdf", "b.jpg"}, "rights: clean")
	assert.Equal(t, "Analyze the following documents: a.pdf, b.jpg\n\nOCR extracted text:\nrights: clean", got)
}

func TestDefaultPromptsPopulated(t *testing.T) {
	p := DefaultPrompts()
	assert.NotEmpty(t, p.System)
	assert.Equal(t, "Analyze the following document.", p.Single)
}

func TestLoadPromptsOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system: be terse\n"), 0o600))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "be terse", p.System)
	assert.Equal(t, DefaultPrompts().Batch, p.Batch)
}

func TestLoadPromptsRejectsBatchWithoutOCR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch: \"just {names}\"\n"), 0o600))

	_, err := LoadPrompts(path)
	assert.ErrorContains(t, err, "{ocr}")
}

func TestLoadPromptsMissingFile(t *testing.T) {
	_, err := LoadPrompts(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
