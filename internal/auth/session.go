// Package auth validates provider-issued session tokens.
//
// Both backend providers authenticate the device with an HS256 JWT. The
// subject claim carries the user ID; an `anon` claim marks anonymous
// sessions that must never be synced remotely.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds verification parameters shared by both adapters.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the normalized payload extracted from a session token.
type Claims struct {
	Subject   string // user ID
	Email     string
	Anonymous bool
	ExpiresAt time.Time
}

// ErrMissingToken is returned when no token is configured.
var ErrMissingToken = errors.New("missing session token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid session token")

// Parse validates a session JWT and returns normalized claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, ErrInvalidToken
	}

	email, _ := claims["email"].(string)
	anon, _ := claims["anon"].(bool)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}

	return &Claims{
		Subject:   subject,
		Email:     email,
		Anonymous: anon,
		ExpiresAt: exp.Time,
	}, nil
}

// Mint creates a session token. Used by tests and the dev CLI; real
// deployments receive tokens from the provider's auth service.
func Mint(cfg Config, subject, email string, anonymous bool, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": cfg.Issuer,
		"exp": jwt.NewNumericDate(time.Now().Add(ttl)),
		"iat": jwt.NewNumericDate(time.Now()),
	}
	if email != "" {
		claims["email"] = email
	}
	if anonymous {
		claims["anon"] = true
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}
