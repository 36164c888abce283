// Package auth issues and validates the bearer tokens that identify owners.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret is returned when no signing key is configured.
	ErrMissingSecret = errors.New("jwt secret is not configured")
	// ErrInvalidToken covers every token that fails validation.
	ErrInvalidToken = errors.New("invalid token")
)

// JWTValidator signs and checks HS256 tokens. The subject claim is the owner id.
type JWTValidator struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewJWTValidator creates a validator. A zero ttl issues tokens valid for 24h.
func NewJWTValidator(secretKey []byte, issuer string, ttl time.Duration) (*JWTValidator, error) {
	if len(secretKey) == 0 {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTValidator{secretKey: secretKey, issuer: issuer, ttl: ttl}, nil
}

// ValidateHeader checks an Authorization header and returns the owner id.
func (v *JWTValidator) ValidateHeader(authHeader string) (string, error) {
	tokenString, err := extractBearerToken(authHeader)
	if err != nil {
		return "", err
	}
	return v.Validate(tokenString)
}

// Validate parses a raw token and returns its subject.
func (v *JWTValidator) Validate(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Issue signs a token for owner.
func (v *JWTValidator) Issue(owner string) (string, error) {
	if owner == "" {
		return "", errors.New("owner is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}

func extractBearerToken(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("%w: expected a bearer token", ErrInvalidToken)
	}
	return parts[1], nil
}
