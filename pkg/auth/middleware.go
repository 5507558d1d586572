package auth

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/mlog"
)

// Authenticator attaches principals to requests. In development mode a
// request without a valid token runs as DevPrincipal.
type Authenticator struct {
	validator *Validator
	dev       bool
	log       *mlog.Logger
}

func NewAuthenticator(v *Validator, dev bool, log *mlog.Logger) *Authenticator {
	if log == nil {
		log = mlog.Discard()
	}
	return &Authenticator{validator: v, dev: dev, log: log.With("component", "auth")}
}

// Middleware is a huma middleware. It never rejects; handlers call Require.
func (a *Authenticator) Middleware() func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if p := a.authenticate(ctx.Header("Authorization")); p != nil {
			ctx = huma.WithValue(ctx, principalKey, p)
		}
		next(ctx)
	}
}

func (a *Authenticator) authenticate(header string) *Principal {
	if header != "" && a.validator != nil {
		token, err := BearerToken(header)
		if err == nil {
			p, err := a.validator.Validate(token)
			if err == nil {
				a.log.Debug("authenticated", "principal", p.ID)
				return p
			}
			a.log.Warn("invalid token", "error", err)
		}
	}
	if a.dev {
		return DevPrincipal
	}
	return nil
}

// Require returns the request principal or an Unauthorized error.
func (a *Authenticator) Require(ctx context.Context) (*Principal, error) {
	if p, ok := FromContext(ctx); ok {
		return p, nil
	}
	return nil, merr.New(merr.CodeUnauthorized, "auth.require", ErrMissingToken)
}

// RequireAdmin additionally checks the admin role.
func (a *Authenticator) RequireAdmin(ctx context.Context) (*Principal, error) {
	p, err := a.Require(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		return nil, merr.Errorf(merr.CodeForbidden, "auth.require_admin", "principal %s is not an admin", p.ID)
	}
	return p, nil
}

// Dev reports whether development mode is on.
func (a *Authenticator) Dev() bool { return a.dev }
