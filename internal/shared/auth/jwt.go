package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the identity contained in a JWT.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// OwnerID parses the numeric subject of the token.
func (c Claims) OwnerID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Subject), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Subject returns registered claims whose subject is ownerID.
func Subject(ownerID int64) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: strconv.FormatInt(ownerID, 10)}
}

var (
	errMissingSecret = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

const defaultTTL = 24 * time.Hour

// SecretKey resolves the HMAC secret. Production refuses to fall back to the dev secret.
func SecretKey(env, secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		if env == "production" {
			return nil, fmt.Errorf("%w: JWT_SECRET required in production", errMissingSecret)
		}
		secret = "dev-secret"
	}
	return []byte(secret), nil
}

// SignJWT signs the given claims with HS256.
func SignJWT(secret []byte, claims Claims) (string, error) {
	if len(secret) == 0 {
		return "", errMissingSecret
	}
	if claims.Subject == "" {
		return "", errors.New("sub is required")
	}
	now := time.Now().UTC()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(defaultTTL))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifyJWT verifies a token and returns its claims.
func VerifyJWT(secret []byte, token string) (Claims, error) {
	if len(secret) == 0 {
		return Claims{}, errMissingSecret
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
