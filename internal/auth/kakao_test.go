package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedauth "analyzer-backend/internal/shared/auth"
	"analyzer-backend/internal/users"
)

var testSecret = []byte("test-secret")

func newKakaoServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"kakao-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v2/user/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer kakao-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":4242,"properties":{"nickname":"kim"},
			"kakao_account":{"email":"kim@example.com","birthday":"0215","gender":"female"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newLoginRouter(srv *httptest.Server, source UserSource, uiRedirect string) (*gin.Engine, *KakaoService) {
	gin.SetMode(gin.TestMode)
	svc := NewKakaoService(KakaoOptions{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://api.test/api/v1/auth/kakao/callback",
		UIRedirect:   uiRedirect,
		Secret:       testSecret,
		AuthURL:      srv.URL + "/oauth/authorize",
		TokenURL:     srv.URL + "/oauth/token",
		ProfileURL:   srv.URL + "/v2/user/me",
	}, source)
	r := gin.New()
	svc.RegisterRoutes(r.Group("/api/v1"))
	return r, svc
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	return resp
}

func startLogin(t *testing.T, r http.Handler) string {
	t.Helper()
	resp := get(r, "/api/v1/auth/kakao")
	require.Equal(t, http.StatusFound, resp.Code)
	loc, err := url.Parse(resp.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client", loc.Query().Get("client_id"))
	assert.Equal(t, "code", loc.Query().Get("response_type"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestKakaoLoginIssuesTokenForUpsertedUser(t *testing.T) {
	srv := newKakaoServer(t)
	svc := users.NewService(users.NewMemoryRepo())
	r, _ := newLoginRouter(srv, svc, "")

	var firstID int64
	for i := 0; i < 2; i++ {
		state := startLogin(t, r)
		resp := get(r, "/api/v1/auth/kakao/callback?code=good-code&state="+state)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		var body struct {
			AccessToken string `json:"access_token"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		claims, err := sharedauth.VerifyJWT(testSecret, body.AccessToken)
		require.NoError(t, err)
		ownerID, err := claims.OwnerID()
		require.NoError(t, err)
		assert.Equal(t, "kim", claims.Name)
		assert.Equal(t, "kim@example.com", claims.Email)
		if i == 0 {
			firstID = ownerID
			continue
		}
		assert.Equal(t, firstID, ownerID, "second login must reuse the user")
	}

	user, err := svc.GetByID(t.Context(), firstID)
	require.NoError(t, err)
	assert.Equal(t, users.ProviderKakao, user.Provider)
	assert.Equal(t, "4242", user.ProviderID)
	assert.Equal(t, "0215", user.Birthdate)
	assert.Equal(t, users.GenderFemale, user.Gender)
}

func TestKakaoLoginRedirectsToUI(t *testing.T) {
	srv := newKakaoServer(t)
	r, _ := newLoginRouter(srv, users.NewService(users.NewMemoryRepo()), "http://ui.test/login?from=kakao")

	state := startLogin(t, r)
	resp := get(r, "/api/v1/auth/kakao/callback?code=good-code&state="+state)
	require.Equal(t, http.StatusFound, resp.Code)
	loc, err := url.Parse(resp.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "ui.test", loc.Host)
	assert.Equal(t, "kakao", loc.Query().Get("from"))
	assert.NotEmpty(t, loc.Query().Get("token"))
}

func TestKakaoCallbackRejectsBadRequests(t *testing.T) {
	srv := newKakaoServer(t)
	r, _ := newLoginRouter(srv, users.NewService(users.NewMemoryRepo()), "")

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/auth/kakao/callback?code=good-code").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/auth/kakao/callback?code=good-code&state=forged").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/v1/auth/kakao/callback?error=access_denied").Code)

	state := startLogin(t, r)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/auth/kakao/callback?code=bad-code&state="+state).Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/auth/kakao/callback?code=good-code&state="+state).Code,
		"a state is only accepted once")
}

func TestKakaoLoginNotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewKakaoService(KakaoOptions{}, nil)
	r := gin.New()
	svc.RegisterRoutes(r.Group("/api/v1"))

	resp := get(r, "/api/v1/auth/kakao")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "AUTH002")
}

func TestStateStoreExpires(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	store := newStateStore(func() time.Time { return now })

	store.put("a", time.Minute)
	store.put("b", time.Minute)
	assert.True(t, store.consume("a"))
	assert.False(t, store.consume("a"))

	now = now.Add(2 * time.Minute)
	assert.False(t, store.consume("b"))

	store.put("c", time.Minute)
	assert.Len(t, store.items, 1)
}
