package analysis

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"analyzer-backend/internal/events"
	"analyzer-backend/internal/queue"
	"analyzer-backend/internal/shared/server/middleware"
	"analyzer-backend/internal/shared/server/respond"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/textgen"
)

const (
	multipartOverhead = 1 << 20
	defaultHeartbeat  = 15 * time.Second
)

// Handler exposes the analysis pipeline over HTTP.
type Handler struct {
	Svc *Service
	// Queue and Events are nil when QUEUE_BACKEND is none; the queued
	// endpoints then answer 503.
	Queue     queue.Client
	Events    events.Subscriber
	Heartbeat time.Duration
	Now       func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, q queue.Client, sub events.Subscriber) *Handler {
	return &Handler{Svc: svc, Queue: q, Events: sub}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents/analyze/stream", h.stream)
	rg.POST("/documents/analyze", h.enqueue)
	rg.GET("/documents/analyze/runs/:runId/events", h.runEvents)
	rg.POST("/analyses", h.analyzeFile)
}

func (h *Handler) stream(c *gin.Context) {
	ownerID, ok := middleware.OwnerIDFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
		return
	}
	ids, err := parseDocumentIDs(c.QueryArray("documentIds"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, err.Error(), nil)
		return
	}
	if len(ids) > 0 {
		c.Set("documentIds", ids)
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	run := h.Svc.Analyze(ctx, ownerID, ids)

	started := false
	for evt := range run.Events() {
		if !started {
			startSSE(c)
			started = true
		}
		if err := writeEvent(c.Writer, evt); err != nil {
			telemetry.Warn("analysis.stream_write_failed", map[string]any{
				"request_id": middleware.RequestIDFromContext(c),
				"error":      err,
			})
			return
		}
	}

	if err := run.Err(); err != nil {
		if !started {
			respond.Error(c, http.StatusInternalServerError, respond.CodeQueryFailed, "failed to start analysis", nil)
			return
		}
		telemetry.Error("analysis.stream_error", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"error":      err,
		})
		return
	}
	if !started {
		startSSE(c)
	}
}

type enqueueRequest struct {
	DocumentIDs []int64 `json:"documentIds"`
}

// EnqueueResponse is returned when a run has been queued.
type EnqueueResponse struct {
	RunID     string `json:"runId"`
	Status    string `json:"status"`
	EventsURL string `json:"eventsUrl"`
}

func (h *Handler) enqueue(c *gin.Context) {
	ownerID, ok := middleware.OwnerIDFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
		return
	}
	if h.Queue == nil {
		respond.Error(c, http.StatusServiceUnavailable, respond.CodeUnavailable, queue.ErrNotConfigured.Error(), nil)
		return
	}

	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "invalid request body", nil)
		return
	}
	for _, id := range req.DocumentIDs {
		if id <= 0 {
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "documentIds must be positive integers", nil)
			return
		}
	}

	msg := queue.Message{
		RunID:       uuid.NewString(),
		OwnerID:     ownerID,
		DocumentIDs: req.DocumentIDs,
		RequestID:   middleware.RequestIDFromContext(c),
		EnqueuedAt:  h.now().UTC().Format(time.RFC3339),
		Version:     queue.MessageVersion,
	}
	c.Set("runId", msg.RunID)
	if len(req.DocumentIDs) > 0 {
		c.Set("documentIds", req.DocumentIDs)
	}

	if err := h.Queue.Send(c.Request.Context(), msg); err != nil {
		telemetry.Error("analysis.enqueue_failed", map[string]any{
			"request_id": msg.RequestID,
			"run_id":     msg.RunID,
			"error":      err,
		})
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to enqueue analysis", nil)
		return
	}

	telemetry.Info("analysis.enqueued", map[string]any{
		"request_id":   msg.RequestID,
		"run_id":       msg.RunID,
		"owner_id":     ownerID,
		"document_ids": req.DocumentIDs,
	})
	respond.JSON(c, http.StatusAccepted, EnqueueResponse{
		RunID:     msg.RunID,
		Status:    "queued",
		EventsURL: "/api/v1/documents/analyze/runs/" + msg.RunID + "/events",
	})
}

// runEvents relays a queued run's events until its terminal event. Events
// published before the subscription was made are not replayed.
func (h *Handler) runEvents(c *gin.Context) {
	if h.Events == nil {
		respond.Error(c, http.StatusServiceUnavailable, respond.CodeUnavailable, queue.ErrNotConfigured.Error(), nil)
		return
	}
	runID := strings.TrimSpace(c.Param("runId"))
	if _, err := uuid.Parse(runID); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "invalid run id", nil)
		return
	}
	c.Set("runId", runID)

	ctx := c.Request.Context()
	sub, err := h.Events.Subscribe(ctx, runID)
	if err != nil {
		telemetry.Error("analysis.subscribe_failed", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"run_id":     runID,
			"error":      err,
		})
		respond.Error(c, http.StatusServiceUnavailable, respond.CodeUnavailable, "event relay unavailable", nil)
		return
	}
	defer sub.Close()

	startSSE(c)
	heartbeat := time.NewTicker(h.heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			evt, err := DecodeEvent(payload)
			if err != nil {
				telemetry.Warn("analysis.event_decode_failed", map[string]any{"run_id": runID, "error": err})
				continue
			}
			if err := writeEvent(c.Writer, evt); err != nil {
				return
			}
			if evt.Status.IsTerminal() {
				return
			}
		}
	}
}

// AnalyzeFileResponse carries the single-file analysis text.
type AnalyzeFileResponse struct {
	AnalysisResult string `json:"analysisResult"`
}

func (h *Handler) analyzeFile(c *gin.Context) {
	if _, ok := middleware.OwnerIDFromContext(c); !ok {
		respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
		return
	}
	maxBytes := h.Svc.maxFileBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeInvalidInput, ErrFileTooLarge.Error(), nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, respond.CodeFileNotFound, "file is required", nil)
		return
	}
	if fileHeader.Size > maxBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeInvalidInput, ErrFileTooLarge.Error(), nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeFileUpload, "unable to read file", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeFileUpload, "unable to read file", nil)
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	result, err := h.Svc.AnalyzeFile(ctx, data, mimeType)
	if err != nil {
		switch {
		case errors.Is(err, ErrFileTooLarge):
			respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeInvalidInput, err.Error(), nil)
		case errors.Is(err, ErrUnsupportedFile), errors.Is(err, ErrEmptyFile):
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, err.Error(), nil)
		case errors.Is(err, textgen.ErrNotConfigured):
			respond.Error(c, http.StatusServiceUnavailable, respond.CodeGeneratorError, "text generator not configured", nil)
		case errors.Is(err, textgen.ErrInvalidKey):
			respond.Error(c, http.StatusBadGateway, respond.CodeGeneratorKeyInvalid, "text generator rejected the api key", nil)
		default:
			respond.Error(c, http.StatusBadGateway, respond.CodeGeneratorFailed, "text generator request failed", nil)
		}
		return
	}
	respond.OK(c, AnalyzeFileResponse{AnalysisResult: result})
}

func (h *Handler) heartbeat() time.Duration {
	if h.Heartbeat > 0 {
		return h.Heartbeat
	}
	return defaultHeartbeat
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// parseDocumentIDs accepts repeated and comma separated values. No values
// means no id filter.
func parseDocumentIDs(values []string) ([]int64, error) {
	var ids []int64
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, errors.New("documentIds must be a comma separated list of positive integers")
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func startSSE(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}

func writeEvent(w gin.ResponseWriter, evt Event) error {
	payload, err := EncodeEvent(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
