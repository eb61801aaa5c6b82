package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"analyzer-backend/internal/shared/auth"
	"analyzer-backend/internal/shared/server/respond"
)

const (
	ownerIDKey   = "ownerId"
	userEmailKey = "userEmail"
	userNameKey  = "userName"
)

// AuthConfig controls identity resolution.
type AuthConfig struct {
	Env    string
	Secret []byte
	// Public lists path prefixes served without identity.
	Public []string
}

// Auth validates bearer JWTs and stores the owner id in context.
// In dev-like environments an X-User-Id header is accepted instead.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	devLike := cfg.Env == "dev" || cfg.Env == "local"
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		path := c.Request.URL.Path
		for _, prefix := range cfg.Public {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if token == "" {
				respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
				return
			}

			claims, err := auth.VerifyJWT(cfg.Secret, token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
				return
			}
			ownerID, err := claims.OwnerID()
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "missing or invalid token", nil)
				return
			}

			c.Set(ownerIDKey, ownerID)
			if claims.Email != "" {
				c.Set(userEmailKey, claims.Email)
			}
			if claims.Name != "" {
				c.Set(userNameKey, claims.Name)
			}
			c.Next()
			return
		}

		if devLike {
			if raw := strings.TrimSpace(c.GetHeader("X-User-Id")); raw != "" {
				ownerID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || ownerID <= 0 {
					respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "invalid X-User-Id", nil)
					return
				}
				c.Set(ownerIDKey, ownerID)
				c.Next()
				return
			}
		}

		respond.Error(c, http.StatusUnauthorized, respond.CodeTokenNotFound, "Missing identity", nil)
	}
}

// OwnerIDFromContext fetches the owner ID set by the auth middleware.
func OwnerIDFromContext(c *gin.Context) (int64, bool) {
	if c == nil {
		return 0, false
	}
	val, _ := c.Get(ownerIDKey)
	id, ok := val.(int64)
	return id, ok && id > 0
}

// UserEmailFromContext fetches the user email set by the auth middleware.
func UserEmailFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(userEmailKey)
}

// UserNameFromContext fetches the user name set by the auth middleware.
func UserNameFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(userNameKey)
}
