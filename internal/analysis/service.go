package analysis

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"analyzer-backend/internal/documents"
	"analyzer-backend/internal/ocr"
	"analyzer-backend/internal/shared/metrics"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/shared/util"
	"analyzer-backend/internal/textgen"
)

const (
	defaultEventBuffer      = 16
	defaultFinalizeAttempts = 5
	defaultFinalizeInterval = 200 * time.Millisecond
	ocrPreviewLength        = 200

	// DefaultMaxFileBytes caps single-file analysis uploads.
	DefaultMaxFileBytes int64 = 5 << 20
)

// Store is the part of the document repository the pipeline uses.
type Store interface {
	FindMany(ctx context.Context, f documents.Filter) ([]documents.Document, error)
	UpdateMany(ctx context.Context, ids []int64, patch documents.Patch) error
}

// BlobReader fetches stored uploads.
type BlobReader interface {
	Download(ctx context.Context, key string) ([]byte, error)
	DownloadBase64(ctx context.Context, key string) (string, error)
}

// Service runs the document analysis pipeline.
type Service struct {
	Repo      Store
	Blobs     BlobReader
	OCR       ocr.Extractor
	Generator textgen.Generator
	Prompts   Prompts

	// FinalizeAttempts and FinalizeInterval bound the retry of the terminal status write.
	FinalizeAttempts int
	FinalizeInterval time.Duration
	EventBuffer      int
	// CancelOnDisconnect lets a departing subscriber abort OCR and generation.
	// By default collaborators keep running and the batch is still finalized.
	CancelOnDisconnect bool
	MaxFileBytes       int64
}

// Run is a single-pass, single-subscriber handle on one Analyze call.
type Run struct {
	events chan Event
	done   chan struct{}
	err    error
}

// Events yields start, analyzing* and one terminal event, then closes.
// A run whose selection is empty closes without any event.
func (r *Run) Events() <-chan Event { return r.events }

// Err blocks until the run is over. It reports selection failures and
// recovered panics; collaborator failures surface as a failed event instead.
func (r *Run) Err() error {
	<-r.done
	return r.err
}

// Wait discards unread events and returns Err.
func (r *Run) Wait() error {
	for range r.events {
	}
	return r.Err()
}

// Analyze starts a run over the caller's uploaded documents, restricted to
// ids when non-empty, and returns immediately. ctx belongs to the subscriber.
func (s *Service) Analyze(ctx context.Context, ownerID int64, ids []int64) *Run {
	run := &Run{
		events: make(chan Event, s.eventBuffer()),
		done:   make(chan struct{}),
	}
	go s.execute(ctx, run, ownerID, ids)
	return run
}

func (s *Service) execute(ctx context.Context, run *Run, ownerID int64, filterIDs []int64) {
	defer close(run.done)
	defer close(run.events)

	out := emitter{ctx: ctx, events: run.events}
	var (
		admitted   []int64
		terminated bool
		startedAt  time.Time
	)
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		run.err = fmt.Errorf("analysis panic: %v", rec)
		telemetry.Error("analysis.panic", map[string]any{
			"request_id":   requestIDFromContext(ctx),
			"owner_id":     ownerID,
			"document_ids": admitted,
			"error":        fmt.Sprint(rec),
			"stack":        string(debug.Stack()),
		})
		if len(admitted) > 0 && !terminated {
			s.fail(ctx, out, ownerID, admitted, startedAt, run.err)
		}
	}()

	docs, err := s.Repo.FindMany(ctx, documents.Filter{
		OwnerID: ownerID,
		Status:  documents.StatusUploaded,
		IDs:     filterIDs,
	})
	if err != nil {
		run.err = fmt.Errorf("select documents: %w", err)
		telemetry.Error("analysis.select_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"owner_id":   ownerID,
			"error":      err,
		})
		return
	}
	selected := documentIDs(docs)
	telemetry.Info("analysis.selected", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"owner_id":      ownerID,
		"requested_ids": filterIDs,
		"document_ids":  selected,
	})
	if len(selected) == 0 {
		metrics.IncRunEmpty()
		return
	}

	workCtx := ctx
	if !s.CancelOnDisconnect {
		workCtx = context.WithoutCancel(ctx)
	}

	if err := s.Repo.UpdateMany(workCtx, selected, documents.Patch{Status: documents.StatusAnalyzing}); err != nil {
		run.err = fmt.Errorf("mark analyzing: %w", err)
		telemetry.Error("analysis.select_failed", map[string]any{
			"request_id":   requestIDFromContext(ctx),
			"owner_id":     ownerID,
			"document_ids": selected,
			"error":        err,
		})
		return
	}

	admitted = selected
	startedAt = time.Now()
	metrics.IncRunStarted()
	metrics.ObserveRunDocuments(len(admitted))
	logStatus(ctx, ownerID, admitted, documents.StatusAnalyzing, "uploaded->analyzing")
	out.send(Event{DocumentIDs: admitted, Status: EventStart})

	result, err := s.process(workCtx, docs, admitted, out)
	if err != nil {
		s.fail(ctx, out, ownerID, admitted, startedAt, err)
	} else {
		s.complete(ctx, out, ownerID, admitted, startedAt, result)
	}
	terminated = true
}

type batchInput struct {
	images []ocr.Image
	files  []textgen.File
	names  []string
}

// process runs blob fetch, OCR and generation. The accumulated text is only
// returned when the generator stream ends cleanly.
func (s *Service) process(ctx context.Context, docs []documents.Document, ids []int64, out emitter) (string, error) {
	if s.Blobs == nil || s.OCR == nil {
		return "", stageErr(FailureInternal, "analysis dependencies not configured")
	}
	gen := s.Generator
	if gen == nil {
		gen = textgen.Placeholder{}
	}
	prompts := s.prompts()

	batch, err := s.materialize(ctx, docs)
	if err != nil {
		return "", err
	}

	text, err := s.OCR.ExtractText(ctx, batch.images)
	if err != nil {
		return "", stageErr(FailureOCR, "extract text: %w", err)
	}
	telemetry.Info("analysis.ocr", map[string]any{
		"request_id":   requestIDFromContext(ctx),
		"document_ids": ids,
		"chars":        len(text),
		"preview":      util.Truncate(text, ocrPreviewLength),
	})

	userPrompt := prompts.BatchPrompt(batch.names, text)
	stream, err := textgen.StreamFromImages(ctx, gen, prompts.System, userPrompt, batch.files)
	if err != nil {
		return "", stageErr(FailureGeneration, "open generation stream: %w", err)
	}

	var acc strings.Builder
	for chunk := range stream.Chunks() {
		acc.WriteString(chunk)
		out.send(Event{DocumentIDs: ids, Status: EventAnalyzing, Chunk: chunk})
	}
	if err := stream.Err(); err != nil {
		return "", stageErr(FailureGeneration, "generation stream: %w", err)
	}
	return acc.String(), nil
}

// materialize fetches every blob in both encodings. Any failure fails the batch.
func (s *Service) materialize(ctx context.Context, docs []documents.Document) (batchInput, error) {
	batch := batchInput{
		images: make([]ocr.Image, len(docs)),
		files:  make([]textgen.File, len(docs)),
		names:  make([]string, len(docs)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, doc := range docs {
		batch.names[i] = doc.OriginalName
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = stageErr(FailureInternal, "download document %d: panic: %v", doc.ID, rec)
				}
			}()
			encoded, err := s.Blobs.DownloadBase64(gctx, doc.BlobKey)
			if err != nil {
				return stageErr(FailureStorage, "download document %d: %w", doc.ID, err)
			}
			raw, err := s.Blobs.Download(gctx, doc.BlobKey)
			if err != nil {
				return stageErr(FailureStorage, "download document %d: %w", doc.ID, err)
			}
			batch.images[i] = ocr.Image{Base64: encoded, MimeType: doc.MimeType, Name: ocrName(doc.OriginalName)}
			batch.files[i] = textgen.File{Data: raw, MimeType: doc.MimeType}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return batchInput{}, err
	}
	return batch, nil
}

func (s *Service) complete(ctx context.Context, out emitter, ownerID int64, ids []int64, startedAt time.Time, result string) {
	patch := documents.Patch{Status: documents.StatusCompleted, AnalysisResult: &result}
	if err := s.finalize(backgroundWithRequestID(ctx), ids, patch); err != nil {
		s.fail(ctx, out, ownerID, ids, startedAt, stageErr(FailureStorage, "persist analysis result: %w", err))
		return
	}

	elapsed := durationMs(startedAt)
	metrics.IncRunCompleted()
	metrics.ObserveRunDurationMs(elapsed)
	logStatus(ctx, ownerID, ids, documents.StatusCompleted, "analyzing->completed")
	telemetry.Info("analysis.completed", map[string]any{
		"request_id":   requestIDFromContext(ctx),
		"owner_id":     ownerID,
		"document_ids": ids,
		"result_chars": len(result),
		"duration_ms":  elapsed,
	})
	out.send(Event{DocumentIDs: ids, Status: EventCompleted})
}

// fail always writes FAILED for the whole batch so no document stays analyzing.
func (s *Service) fail(ctx context.Context, out emitter, ownerID int64, ids []int64, startedAt time.Time, cause error) {
	class := classifyFailure(cause)
	if err := s.finalize(backgroundWithRequestID(ctx), ids, documents.Patch{Status: documents.StatusFailed}); err != nil {
		telemetry.Error("analysis.finalize_failed", map[string]any{
			"request_id":   requestIDFromContext(ctx),
			"owner_id":     ownerID,
			"document_ids": ids,
			"error":        err,
		})
	}

	elapsed := durationMs(startedAt)
	metrics.IncRunFailed(class)
	metrics.ObserveRunDurationMs(elapsed)
	logStatus(ctx, ownerID, ids, documents.StatusFailed, "analyzing->failed")
	telemetry.Error("analysis.failed", map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"owner_id":      ownerID,
		"document_ids":  ids,
		"failure_class": class,
		"error":         cause,
		"duration_ms":   elapsed,
	})
	out.send(Event{DocumentIDs: ids, Status: EventFailed, Error: sanitizeError(cause)})
}

// finalize writes the terminal status with bounded exponential backoff.
func (s *Service) finalize(ctx context.Context, ids []int64, patch documents.Patch) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.finalizeInterval()
	expo.MaxInterval = 10 * expo.InitialInterval
	expo.MaxElapsedTime = 0

	attempts := s.FinalizeAttempts
	if attempts <= 0 {
		attempts = defaultFinalizeAttempts
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		return s.update(ctx, ids, patch)
	}, policy, func(err error, wait time.Duration) {
		telemetry.Warn("analysis.finalize_retry", map[string]any{
			"request_id":   requestIDFromContext(ctx),
			"document_ids": ids,
			"status":       patch.Status,
			"error":        err,
			"wait_ms":      wait.Milliseconds(),
		})
	})
}

// update turns a repository panic into a permanent error so the terminal
// write can still fall back to FAILED.
func (s *Service) update(ctx context.Context, ids []int64, patch documents.Patch) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = backoff.Permanent(fmt.Errorf("update documents: panic: %v", rec))
		}
	}()
	return s.Repo.UpdateMany(ctx, ids, patch)
}

// AnalyzeFile analyzes one file in a single generator call without storing it.
func (s *Service) AnalyzeFile(ctx context.Context, data []byte, mimeType string) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	if !documents.AllowedMimeType(mimeType) {
		return "", ErrUnsupportedFile
	}
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if int64(len(data)) > s.maxFileBytes() {
		return "", ErrFileTooLarge
	}
	gen := s.Generator
	if gen == nil {
		gen = textgen.Placeholder{}
	}

	prompts := s.prompts()
	out, err := textgen.GenerateFromImage(ctx, gen, prompts.System, prompts.Single, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("analyze file: %w", err)
	}
	return out, nil
}

func (s *Service) prompts() Prompts {
	if s.Prompts.Batch == "" || s.Prompts.System == "" {
		return DefaultPrompts()
	}
	return s.Prompts
}

func (s *Service) eventBuffer() int {
	if s.EventBuffer > 0 {
		return s.EventBuffer
	}
	return defaultEventBuffer
}

func (s *Service) finalizeInterval() time.Duration {
	if s.FinalizeInterval > 0 {
		return s.FinalizeInterval
	}
	return defaultFinalizeInterval
}

func (s *Service) maxFileBytes() int64 {
	if s.MaxFileBytes > 0 {
		return s.MaxFileBytes
	}
	return DefaultMaxFileBytes
}

// emitter delivers events to the subscriber and drops them once it is gone.
type emitter struct {
	ctx    context.Context
	events chan<- Event
}

func (e emitter) send(evt Event) bool {
	if e.ctx.Err() != nil {
		return false
	}
	select {
	case e.events <- evt:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func documentIDs(docs []documents.Document) []int64 {
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

func ocrName(originalName string) string {
	if originalName == "" {
		return "unknown"
	}
	return util.StripExtension(originalName)
}

func logStatus(ctx context.Context, ownerID int64, ids []int64, status documents.Status, transition string) {
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"owner_id":          ownerID,
		"document_ids":      ids,
		"status":            status,
		"status_transition": transition,
	})
}

func durationMs(startedAt time.Time) float64 {
	if startedAt.IsZero() {
		return 0
	}
	return float64(time.Since(startedAt).Microseconds()) / 1000.0
}
