package users

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"analyzer-backend/internal/shared/server/middleware"
	"analyzer-backend/internal/shared/server/respond"
)

// Handler exposes user management. Callers may only change their own record.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/users", h.create)
	rg.GET("/users", h.list)
	rg.GET("/users/:id", h.get)
	rg.PUT("/users/:id", h.update)
	rg.DELETE("/users/:id", h.delete)
}

func (h *Handler) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "invalid request body", nil)
		return
	}
	user, err := h.Svc.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, user)
}

func (h *Handler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	out, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"items": out})
}

func (h *Handler) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, err := h.Svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, user)
}

func (h *Handler) update(c *gin.Context) {
	id, ok := ownID(c)
	if !ok {
		return
	}
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "invalid request body", nil)
		return
	}
	user, err := h.Svc.Update(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, user)
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := ownID(c)
	if !ok {
		return
	}
	if err := h.Svc.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "invalid user id", nil)
		return 0, false
	}
	return id, true
}

// ownID resolves the path id and rejects ids other than the caller's.
func ownID(c *gin.Context) (int64, bool) {
	id, ok := pathID(c)
	if !ok {
		return 0, false
	}
	ownerID, ok := middleware.OwnerIDFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
		return 0, false
	}
	if ownerID != id {
		respond.Error(c, http.StatusForbidden, respond.CodeForbidden, "cannot modify another user", nil)
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeUserNotFound, err.Error(), nil)
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmailTaken):
		respond.Error(c, http.StatusConflict, respond.CodeUserConflict, err.Error(), nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeDatabase, "user storage error", nil)
	}
}
