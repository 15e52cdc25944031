// Package auth issues and checks JWT bearer tokens.
//
// JWTAuth signs the tokens accepted by the control API. CheckExpiry inspects
// the broker access token before a connection attempt; that token is signed
// by the broker's issuer, so only its claims are read and the signature is
// left to the broker.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of tokens issued by JWTAuth.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrEmptyToken is returned when a token string is empty
	ErrEmptyToken = errors.New("token cannot be empty")
	// ErrTokenExpired is returned when a broker token is past its expiry
	ErrTokenExpired = errors.New("access token expired")
)

// Claims represents the claims of a control API token
type Claims struct {
	ClientID string `json:"client_id"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth handles token creation and validation for the control API
type JWTAuth struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewJWTAuth creates a new JWT authentication handler
func NewJWTAuth(secretKey string) *JWTAuth {
	return &JWTAuth{
		secretKey: []byte(secretKey),
		ttl:       DefaultTokenTTL,
		now:       time.Now,
	}
}

// GenerateToken creates a signed token for a client
func (j *JWTAuth) GenerateToken(clientID string, isAdmin bool) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, errors.New("clientID cannot be empty")
	}

	now := j.now()
	expiresAt := now.Add(j.ttl)

	claims := Claims{
		ClientID: clientID,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns its claims. A "Bearer "
// prefix is accepted.
func (j *JWTAuth) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = StripBearer(tokenString)
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// StripBearer removes an optional "Bearer " prefix and surrounding space.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if rest, ok := strings.CutPrefix(token, "Bearer"); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
		token = rest
	}
	return strings.TrimSpace(token)
}

// Expiry returns the expiry of a JWT without verifying its signature. ok is
// false when token is not a JWT or carries no exp claim.
func Expiry(token string) (expiresAt time.Time, ok bool) {
	token = StripBearer(token)
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// CheckExpiry fails with ErrTokenExpired when token is a JWT whose expiry is
// not after now. Opaque tokens and tokens without expiry pass.
func CheckExpiry(token string, now time.Time) error {
	expiresAt, ok := Expiry(token)
	if !ok {
		return nil
	}
	if !now.Before(expiresAt) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, expiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}
