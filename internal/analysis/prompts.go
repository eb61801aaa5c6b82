package analysis

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts holds the system prompt and the user prompt templates.
// Batch understands the {names} and {ocr} placeholders.
type Prompts struct {
	System string `yaml:"system"`
	Batch  string `yaml:"batch"`
	Single string `yaml:"single"`
}

// DefaultPrompts returns the embedded prompt catalogue.
func DefaultPrompts() Prompts {
	var p Prompts
	if err := yaml.Unmarshal(defaultPromptsYAML, &p); err != nil {
		panic(fmt.Sprintf("embedded prompts.yaml: %v", err))
	}
	return p
}

// LoadPrompts returns the embedded prompts overlaid with the file at path.
// An empty path yields the defaults.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	path = strings.TrimSpace(path)
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file: %w", err)
	}
	var override Prompts
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	if strings.TrimSpace(override.System) != "" {
		p.System = override.System
	}
	if strings.TrimSpace(override.Batch) != "" {
		p.Batch = override.Batch
	}
	if strings.TrimSpace(override.Single) != "" {
		p.Single = override.Single
	}
	if err := p.validate(); err != nil {
		return Prompts{}, fmt.Errorf("prompts file %s: %w", path, err)
	}
	return p, nil
}

func (p Prompts) validate() error {
	if !strings.Contains(p.Batch, "{ocr}") {
		return errors.New("batch prompt must contain {ocr}")
	}
	return nil
}

// BatchPrompt renders the user prompt for a multi-document run.
func (p Prompts) BatchPrompt(names []string, ocrText string) string {
	return strings.NewReplacer(
		"{names}", strings.Join(names, ", "),
		"{ocr}", ocrText,
	).Replace(p.Batch)
}
