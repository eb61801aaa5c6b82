package users_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyzer-backend/internal/shared/server/middleware"
	"analyzer-backend/internal/users"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.Auth(middleware.AuthConfig{Env: "dev", Secret: []byte("s")}))
	users.NewHandler(users.NewService(users.NewMemoryRepo())).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func send(router http.Handler, method, target, caller string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", caller)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestCreateThenGetUser(t *testing.T) {
	router := newRouter(t)

	resp := send(router, http.MethodPost, "/api/v1/users", "1", gin.H{"username": "alice", "email": "a@example.com"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created users.User
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)

	resp = send(router, http.MethodGet, "/api/v1/users/1", "1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"username":"alice"`)

	resp = send(router, http.MethodGet, "/api/v1/users", "1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"items":[`)
}

func TestCreateUserErrors(t *testing.T) {
	router := newRouter(t)
	require.Equal(t, http.StatusCreated, send(router, http.MethodPost, "/api/v1/users", "1", gin.H{"username": "alice"}).Code)

	resp := send(router, http.MethodPost, "/api/v1/users", "1", gin.H{"username": "Alice"})
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "U002")

	resp = send(router, http.MethodPost, "/api/v1/users", "1", gin.H{"username": "al"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "E002")
}

func TestGetMissingUser(t *testing.T) {
	router := newRouter(t)

	resp := send(router, http.MethodGet, "/api/v1/users/42", "1", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "U001")

	assert.Equal(t, http.StatusBadRequest, send(router, http.MethodGet, "/api/v1/users/abc", "1", nil).Code)
}

func TestCallersOnlyChangeThemselves(t *testing.T) {
	router := newRouter(t)
	require.Equal(t, http.StatusCreated, send(router, http.MethodPost, "/api/v1/users", "1", gin.H{"username": "alice"}).Code)
	require.Equal(t, http.StatusCreated, send(router, http.MethodPost, "/api/v1/users", "2", gin.H{"username": "bob"}).Code)

	resp := send(router, http.MethodPut, "/api/v1/users/1", "2", gin.H{"gender": "female"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Contains(t, resp.Body.String(), "AUTH004")
	assert.Equal(t, http.StatusForbidden, send(router, http.MethodDelete, "/api/v1/users/1", "2", nil).Code)

	resp = send(router, http.MethodPut, "/api/v1/users/1", "1", gin.H{"gender": "female"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"gender":"female"`)

	assert.Equal(t, http.StatusNoContent, send(router, http.MethodDelete, "/api/v1/users/1", "1", nil).Code)
	assert.Equal(t, http.StatusNotFound, send(router, http.MethodGet, "/api/v1/users/1", "2", nil).Code)
}
