// Package security signs the short-lived bearer tokens the SDK presents to
// the feedback backend.
package security

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret is returned when no app secret is configured.
	ErrMissingSecret = errors.New("security: missing app secret")
	// ErrInvalidToken is returned when the JWT is malformed or signature is invalid.
	ErrInvalidToken = errors.New("security: invalid token")
	// ErrExpiredToken is returned when the JWT has expired.
	ErrExpiredToken = errors.New("security: token expired")
)

// DefaultTokenExpiry is the lifetime of an app token.
const DefaultTokenExpiry = 5 * time.Minute

// Claims represents the JWT claims of an app token.
type Claims struct {
	AppID     string `json:"app_id"`
	InstallID string `json:"install_id,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// jwtClaims wraps Claims for jwt-go compatibility.
type jwtClaims struct {
	AppID     string `json:"app_id"`
	InstallID string `json:"install_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed HS256 JWT for the given app and install.
func GenerateToken(appID, installID string, secret []byte, expiry time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	now := time.Now()
	claims := jwtClaims{
		AppID:     appID,
		InstallID: installID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   installID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates a JWT string, returning the claims.
func ValidateToken(tokenStr string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	jc, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid || jc.AppID == "" {
		return nil, ErrInvalidToken
	}

	return &Claims{
		AppID:     jc.AppID,
		InstallID: jc.InstallID,
		IssuedAt:  jc.IssuedAt.Unix(),
		ExpiresAt: jc.ExpiresAt.Unix(),
	}, nil
}

// TokenSource hands out app tokens, re-signing shortly before expiry.
type TokenSource struct {
	appID     string
	installID string
	secret    []byte
	expiry    time.Duration

	mu      sync.Mutex
	token   string
	renewAt time.Time
}

// NewTokenSource creates a TokenSource. A non-positive expiry means
// DefaultTokenExpiry.
func NewTokenSource(appID, installID string, secret []byte, expiry time.Duration) *TokenSource {
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &TokenSource{appID: appID, installID: installID, secret: secret, expiry: expiry}
}

// Token returns a valid token, signing a new one when the cached token is
// within a fifth of its lifetime of expiring.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.token != "" && now.Before(s.renewAt) {
		return s.token, nil
	}

	tok, err := GenerateToken(s.appID, s.installID, s.secret, s.expiry)
	if err != nil {
		return "", err
	}
	s.token = tok
	s.renewAt = now.Add(s.expiry - s.expiry/5)
	return tok, nil
}
