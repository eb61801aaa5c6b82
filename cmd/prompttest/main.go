package main

// Run a batch analysis over local files without a database or queue:
//   go run ./cmd/prompttest -prompts prompts.yaml scan1.png scan2.pdf

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"analyzer-backend/internal/analysis"
	"analyzer-backend/internal/documents"
	"analyzer-backend/internal/ocr"
	"analyzer-backend/internal/ocr/clova"
	localocr "analyzer-backend/internal/ocr/local"
	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/storage/object"
	localstore "analyzer-backend/internal/shared/storage/object/local"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/textgen/providers"
)

const localOwnerID int64 = 1

func main() {
	cfg := config.Load()

	promptsPath := flag.String("prompts", cfg.PromptsFile, "Prompts YAML overriding the embedded defaults (optional)")
	provider := flag.String("provider", cfg.AIProvider, "Text generator: gemini, chatgpt, anthropic or none")
	outPath := flag.String("out", "", "Path to write the final analysis text (optional)")
	verbose := flag.Bool("v", false, "Log pipeline events to stderr")
	flag.Parse()

	level := "error"
	if *verbose {
		level = "debug"
	}
	telemetry.Setup(telemetry.Options{Level: level, Format: "console", Output: os.Stderr, Service: "prompttest"})

	if flag.NArg() == 0 {
		exitErr("at least one file is required")
	}
	cfg.PromptsFile = *promptsPath
	cfg.AIProvider = *provider

	result, err := run(context.Background(), cfg, flag.Args(), os.Stdout)
	if err != nil {
		exitErr(err.Error())
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(result), 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}
}

// run uploads paths into a throwaway store and streams one analysis to w.
func run(ctx context.Context, cfg config.Config, paths []string, w io.Writer) (string, error) {
	prompts := analysis.DefaultPrompts()
	if strings.TrimSpace(cfg.PromptsFile) != "" {
		loaded, err := analysis.LoadPrompts(cfg.PromptsFile)
		if err != nil {
			return "", err
		}
		prompts = loaded
	}

	gen, err := providers.New(ctx, cfg)
	if err != nil {
		return "", err
	}
	var extractor ocr.Extractor = localocr.New()
	if cfg.OCRProvider == "clova" {
		if extractor, err = clova.New(cfg.ClovaOCRAPIKey, cfg.ClovaOCRGateway, cfg.OCRTimeout); err != nil {
			return "", err
		}
	}

	dir, err := os.MkdirTemp("", "prompttest-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	blobs := object.NewBlobs(localstore.New(dir))
	repo := documents.NewMemoryRepo()
	docs := &documents.Service{Blobs: blobs, Repo: repo, MaxBytes: cfg.UploadMaxBytes}

	ids := make([]int64, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		mimeType := mimetype.Detect(data).String()
		doc, err := docs.Upload(ctx, localOwnerID, filepath.Base(path), mimeType, int64(len(data)), bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", path, err)
		}
		ids = append(ids, doc.ID)
	}

	svc := &analysis.Service{Repo: repo, Blobs: blobs, OCR: extractor, Generator: gen, Prompts: prompts}
	run := svc.Analyze(ctx, localOwnerID, ids)

	var result string
	for evt := range run.Events() {
		switch evt.Status {
		case analysis.EventAnalyzing:
			if _, err := io.WriteString(w, evt.Chunk); err != nil {
				return "", err
			}
			result += evt.Chunk
		case analysis.EventFailed:
			return "", fmt.Errorf("analysis failed: %s", evt.Error)
		}
	}
	if err := run.Err(); err != nil {
		return "", err
	}
	if !strings.HasSuffix(result, "\n") {
		_, _ = io.WriteString(w, "\n")
	}
	return result, nil
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
