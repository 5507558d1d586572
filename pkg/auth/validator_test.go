package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quatton/mam/pkg/merr"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestValidate(t *testing.T) {
	v := NewValidator("s3cret", "")
	exp := time.Now().Add(time.Hour).Unix()

	tok := sign(t, "s3cret", jwt.MapClaims{"sub": "u1", "aud": "mam", "exp": exp, "roles": []any{"admin"}, "email": "u1@example.com"})
	p, err := v.Validate(tok)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "u1" || !p.IsAdmin() || p.Email != "u1@example.com" {
		t.Fatalf("principal = %+v", p)
	}

	cases := map[string]string{
		"wrong secret":   sign(t, "other", jwt.MapClaims{"sub": "u1", "aud": "mam", "exp": exp}),
		"wrong audience": sign(t, "s3cret", jwt.MapClaims{"sub": "u1", "aud": "other-service", "exp": exp}),
		"expired":        sign(t, "s3cret", jwt.MapClaims{"sub": "u1", "aud": "mam", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no expiry":      sign(t, "s3cret", jwt.MapClaims{"sub": "u1", "aud": "mam"}),
		"no subject":     sign(t, "s3cret", jwt.MapClaims{"aud": "mam", "exp": exp}),
		"garbage":        "not.a.token",
	}
	for name, tok := range cases {
		if _, err := v.Validate(tok); !merr.IsCode(err, merr.CodeUnauthorized) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	if tok, err := BearerToken("Bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("got %q, %v", tok, err)
	}
	for _, h := range []string{"", "abc", "Basic abc", "Bearer "} {
		if _, err := BearerToken(h); err == nil {
			t.Errorf("BearerToken(%q) accepted", h)
		}
	}
}

func TestAuthenticateDevFallback(t *testing.T) {
	prod := NewAuthenticator(NewValidator("s", ""), false, nil)
	if p := prod.authenticate(""); p != nil {
		t.Fatalf("production principal without token: %+v", p)
	}
	dev := NewAuthenticator(NewValidator("s", ""), true, nil)
	if p := dev.authenticate("Bearer junk"); p != DevPrincipal {
		t.Fatalf("dev principal = %+v", p)
	}
}

func TestRequireAdmin(t *testing.T) {
	a := NewAuthenticator(nil, false, nil)
	ctx := t.Context()
	if _, err := a.Require(ctx); !merr.IsCode(err, merr.CodeUnauthorized) {
		t.Fatalf("no principal: %v", err)
	}
	ctx = WithPrincipal(ctx, &Principal{ID: "u1"})
	if _, err := a.RequireAdmin(ctx); !merr.IsCode(err, merr.CodeForbidden) {
		t.Fatalf("non-admin: %v", err)
	}
	ctx = WithPrincipal(ctx, &Principal{ID: "u2", Roles: []string{RoleAdmin}})
	if p, err := a.RequireAdmin(ctx); err != nil || p.ID != "u2" {
		t.Fatalf("admin: %+v %v", p, err)
	}
}
