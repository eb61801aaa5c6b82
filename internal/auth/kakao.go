// Package auth implements Kakao login. A successful login upserts the user
// and answers with a bearer JWT whose subject is the user id.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	sharedauth "analyzer-backend/internal/shared/auth"
	"analyzer-backend/internal/shared/server/respond"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/users"
)

const (
	kakaoAuthURL    = "https://kauth.kakao.com/oauth/authorize"
	kakaoTokenURL   = "https://kauth.kakao.com/oauth/token"
	kakaoProfileURL = "https://kapi.kakao.com/v2/user/me"

	stateTTL = 5 * time.Minute
)

// UserSource links provider identities to local users.
type UserSource interface {
	UpsertFromProvider(ctx context.Context, id users.Identity) (users.User, error)
}

// KakaoOptions configures the login flow. The URL fields override Kakao's
// endpoints and are empty in production.
type KakaoOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	UIRedirect   string
	Secret       []byte

	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// KakaoService handles the Kakao OAuth code flow.
type KakaoService struct {
	oauth      *oauth2.Config
	profileURL string
	uiRedirect string
	secret     []byte
	users      UserSource
	states     *stateStore
}

func NewKakaoService(opts KakaoOptions, source UserSource) *KakaoService {
	endpoint := oauth2.Endpoint{
		AuthURL:   firstNonEmpty(opts.AuthURL, kakaoAuthURL),
		TokenURL:  firstNonEmpty(opts.TokenURL, kakaoTokenURL),
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return &KakaoService{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       []string{"profile_nickname", "account_email"},
			Endpoint:     endpoint,
		},
		profileURL: firstNonEmpty(opts.ProfileURL, kakaoProfileURL),
		uiRedirect: opts.UIRedirect,
		secret:     opts.Secret,
		users:      source,
		states:     newStateStore(time.Now),
	}
}

// RegisterRoutes attaches the login routes. They must be public.
func (s *KakaoService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/kakao", s.start)
	rg.GET("/auth/kakao/callback", s.callback)
}

func (s *KakaoService) configured() bool {
	return s.oauth.ClientID != "" && s.oauth.ClientSecret != "" && s.oauth.RedirectURL != "" && s.users != nil
}

func (s *KakaoService) start(c *gin.Context) {
	if !s.configured() {
		respond.Error(c, http.StatusServiceUnavailable, respond.CodeAuthNotConfigured, "kakao login not configured", nil)
		return
	}
	state := uuid.NewString()
	s.states.put(state, stateTTL)
	c.Redirect(http.StatusFound, s.oauth.AuthCodeURL(state))
}

func (s *KakaoService) callback(c *gin.Context) {
	if !s.configured() {
		respond.Error(c, http.StatusServiceUnavailable, respond.CodeAuthNotConfigured, "kakao login not configured", nil)
		return
	}
	if reason := c.Query("error"); reason != "" {
		respond.Error(c, http.StatusUnauthorized, respond.CodeAuthFailed, "kakao login was not approved", gin.H{"reason": reason})
		return
	}
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "missing state or code", nil)
		return
	}
	if !s.states.consume(state) {
		respond.Error(c, http.StatusBadRequest, respond.CodeInvalidInput, "invalid or expired state", nil)
		return
	}

	ctx := c.Request.Context()
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		telemetry.Warn("auth.kakao_exchange_failed", map[string]any{"error": err})
		respond.Error(c, http.StatusBadRequest, respond.CodeAuthFailed, "failed to exchange code", nil)
		return
	}
	identity, err := s.fetchIdentity(ctx, token)
	if err != nil {
		telemetry.Warn("auth.kakao_profile_failed", map[string]any{"error": err})
		respond.Error(c, http.StatusBadGateway, respond.CodeAuthFailed, "failed to fetch kakao profile", nil)
		return
	}

	user, err := s.users.UpsertFromProvider(ctx, identity)
	if err != nil {
		telemetry.Error("auth.kakao_upsert_failed", map[string]any{"error": err})
		respond.Error(c, http.StatusInternalServerError, respond.CodeDatabase, "failed to save user", nil)
		return
	}

	jwt, err := sharedauth.SignJWT(s.secret, sharedauth.Claims{
		Email:            user.Email,
		Name:             user.Username,
		RegisteredClaims: sharedauth.Subject(user.ID),
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to issue token", nil)
		return
	}
	telemetry.Info("auth.kakao_login", map[string]any{"user_id": user.ID})

	if s.uiRedirect == "" {
		respond.OK(c, gin.H{"access_token": jwt})
		return
	}
	target, err := appendToken(s.uiRedirect, jwt)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to redirect", nil)
		return
	}
	c.Redirect(http.StatusFound, target)
}

type kakaoProfile struct {
	ID         int64 `json:"id"`
	Properties struct {
		Nickname string `json:"nickname"`
	} `json:"properties"`
	Account struct {
		Email    string `json:"email"`
		Birthday string `json:"birthday"`
		Gender   string `json:"gender"`
		Profile  struct {
			Nickname string `json:"nickname"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

func (s *KakaoService) fetchIdentity(ctx context.Context, token *oauth2.Token) (users.Identity, error) {
	resp, err := s.oauth.Client(ctx, token).Get(s.profileURL)
	if err != nil {
		return users.Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return users.Identity{}, fmt.Errorf("kakao profile status %d", resp.StatusCode)
	}

	var profile kakaoProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return users.Identity{}, fmt.Errorf("decode kakao profile: %w", err)
	}
	if profile.ID == 0 {
		return users.Identity{}, fmt.Errorf("kakao profile has no id")
	}
	return users.Identity{
		Provider:   users.ProviderKakao,
		ProviderID: strconv.FormatInt(profile.ID, 10),
		Username:   firstNonEmpty(profile.Properties.Nickname, profile.Account.Profile.Nickname),
		Email:      profile.Account.Email,
		Birthdate:  profile.Account.Birthday,
		Gender:     profile.Account.Gender,
	}, nil
}

// stateStore remembers issued OAuth states until they are used or expire.
type stateStore struct {
	mu    sync.Mutex
	items map[string]time.Time
	now   func() time.Time
}

func newStateStore(now func() time.Time) *stateStore {
	return &stateStore{items: make(map[string]time.Time), now: now}
}

func (s *stateStore) put(state string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, exp := range s.items {
		if now.After(exp) {
			delete(s.items, key)
		}
	}
	s.items[state] = now.Add(ttl)
}

// consume reports whether state was issued and has not expired. A state is
// accepted once.
func (s *stateStore) consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.items[state]
	if !ok {
		return false
	}
	delete(s.items, state)
	return !s.now().After(exp)
}

func appendToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
