package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audiences of the operator endpoints.
const (
	AudienceCleanup = "cleanup"
	AudienceCron    = "cron"
)

// Issue signs an HS256 token for audience that expires after ttl.
func Issue(secret, audience string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("token: %w", ErrNotConfigured)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "omoide-operator",
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify checks an HS256 token: signature, exp (required) and audience.
func Verify(secret, audience, token string) (*jwt.RegisteredClaims, error) {
	if secret == "" {
		return nil, fmt.Errorf("token: %w", ErrNotConfigured)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("missing bearer token")
	}
	return strings.TrimSpace(token), nil
}

// VerifyRequest authenticates a request carrying a bearer token for audience.
func VerifyRequest(r *http.Request, secret, audience string) error {
	token, err := BearerToken(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	_, err = Verify(secret, audience, token)
	return err
}
