package documents

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"analyzer-backend/internal/shared/server/middleware"
	"analyzer-backend/internal/shared/server/respond"
)

// multipartOverhead leaves room for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
}

func (h *Handler) upload(c *gin.Context) {
	ownerID, ok := middleware.OwnerIDFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Svc.maxBytes()+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeInvalidInput, ErrTooLarge.Error(), nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, respond.CodeFileNotFound, "file is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeFileUpload, "unable to read file", nil)
		return
	}
	defer file.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = sniff(file)
	}

	doc, err := h.Svc.Upload(c.Request.Context(), ownerID, fileHeader.Filename, mimeType, fileHeader.Size, file)
	if err != nil {
		switch {
		case errors.Is(err, ErrTooLarge):
			respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeInvalidInput, err.Error(), nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, err.Error(), nil)
		case errors.Is(err, ErrStorage):
			respond.Error(c, http.StatusInternalServerError, respond.CodeFileUpload, "failed to store document", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeDatabase, "failed to create document", nil)
		}
		return
	}

	respond.JSON(c, http.StatusCreated, toResponse(doc))
}

func (h *Handler) get(c *gin.Context) {
	ownerID, _ := middleware.OwnerIDFromContext(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "invalid document id", nil)
		return
	}
	c.Set("documentIds", []int64{id})

	doc, err := h.Svc.Get(c.Request.Context(), ownerID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, respond.CodeFileNotFound, "document not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeQueryFailed, "failed to fetch document", nil)
		return
	}
	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	ownerID, _ := middleware.OwnerIDFromContext(c)

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if limit > 50 {
		limit = 50
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), ownerID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeQueryFailed, "failed to list documents", nil)
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toResponse(doc))
	}
	respond.JSON(c, http.StatusOK, resp)
}

func sniff(file io.ReadSeeker) string {
	mtype, err := mimetype.DetectReader(file)
	_, _ = file.Seek(0, io.SeekStart)
	if err != nil {
		return ""
	}
	return mtype.String()
}
