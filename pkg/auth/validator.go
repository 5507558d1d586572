package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quatton/mam/pkg/merr"
)

// TokenAudience is the audience tokens for this service must carry.
const TokenAudience = "mam"

var ErrMissingToken = errors.New("missing bearer token")

// Validator verifies HMAC-signed access tokens.
type Validator struct {
	secret   []byte
	audience string
}

func NewValidator(secret, audience string) *Validator {
	if audience == "" {
		audience = TokenAudience
	}
	return &Validator{secret: []byte(secret), audience: audience}
}

// Validate verifies signature, expiry and audience and returns the
// principal. Failures are Unauthorized errors.
func (v *Validator) Validate(tokenStr string) (*Principal, error) {
	const op = "auth.validate"
	if len(v.secret) == 0 {
		return nil, merr.Errorf(merr.CodeUnauthorized, op, "token validation is not configured")
	}

	var mc jwt.MapClaims
	_, err := jwt.ParseWithClaims(tokenStr, &mc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, merr.New(merr.CodeUnauthorized, op, err)
	}

	c := FromMapClaims(mc)
	if c.Subject == "" {
		return nil, merr.Errorf(merr.CodeUnauthorized, op, "token has no subject")
	}
	return &Principal{ID: c.Subject, Email: c.Email, Name: c.Name, Roles: c.Roles}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
