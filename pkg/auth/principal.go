// Package auth validates bearer tokens and carries the resulting principal
// through request contexts. Tokens are issued elsewhere; this package only
// verifies them.
package auth

import (
	"context"
	"slices"
)

const RoleAdmin = "admin"

// Principal is the authenticated caller.
type Principal struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && slices.Contains(p.Roles, RoleAdmin)
}

// DevPrincipal is attached to unauthenticated requests in development mode.
var DevPrincipal = &Principal{ID: "dev", Name: "Development", Roles: []string{RoleAdmin}}

type ctxKey string

const principalKey ctxKey = "mam.principal"

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal attached by the middleware, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	if v := ctx.Value(principalKey); v != nil {
		if p, ok := v.(*Principal); ok && p != nil {
			return p, true
		}
	}
	return nil, false
}
