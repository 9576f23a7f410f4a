// Package visitor identifies anonymous visitors with a signed cookie so each
// browser maps to one consent record.
package visitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "tagconsent/pkg/domain-errors"
)

const issuer = "tagconsent"

// Claims is the visitor token payload. The subject is the visitor ID.
type Claims struct {
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 visitor tokens.
type Tokens struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokens constructs a token service. ttl bounds the cookie lifetime.
func NewTokens(signingKey string, ttl time.Duration) *Tokens {
	return &Tokens{
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
	}
}

// NewVisitorID mints a random visitor identifier.
func NewVisitorID() string {
	return uuid.NewString()
}

// Issue signs a token for visitorID.
func (t *Tokens) Issue(visitorID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   visitorID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign visitor token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates a token and returns its visitor ID.
func (t *Tokens) Parse(tokenString string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return t.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "visitor token expired")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid visitor token")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid visitor id")
	}
	return claims.Subject, nil
}
