package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"analyzer-backend/internal/shared/server/middleware"
	"analyzer-backend/internal/shared/server/respond"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/users"
)

// ProfileLookup resolves the stored user behind an owner id.
type ProfileLookup interface {
	GetByID(ctx context.Context, id int64) (users.User, error)
}

// registerMeRoutes attaches the /me endpoint.
func registerMeRoutes(rg *gin.RouterGroup, lookup ProfileLookup) {
	rg.GET("/me", func(c *gin.Context) {
		meHandler(c, lookup)
	})
}

func meHandler(c *gin.Context, lookup ProfileLookup) {
	ownerID, ok := middleware.OwnerIDFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
		return
	}

	response := gin.H{
		"ownerId": ownerID,
	}
	if email := middleware.UserEmailFromContext(c); email != "" {
		response["email"] = email
	}
	if name := middleware.UserNameFromContext(c); name != "" {
		response["name"] = name
	}

	// Dev callers identified by X-User-Id may have no stored user.
	if lookup != nil {
		user, err := lookup.GetByID(c.Request.Context(), ownerID)
		switch {
		case err == nil:
			response["user"] = user
		case !errors.Is(err, users.ErrNotFound):
			telemetry.Warn("me.profile_lookup_failed", map[string]any{"owner_id": ownerID, "error": err})
		}
	}

	respond.JSON(c, http.StatusOK, response)
}
