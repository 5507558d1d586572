package auth

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is a stable view of a token payload.
type Claims struct {
	Subject string
	Email   string
	Name    string
	Roles   []string
	Iss     string
	Aud     []string
	Iat     int64
	Exp     int64
}

// ParseUnverified extracts claims without checking the signature. Only for
// display in tooling; never for authorization.
func ParseUnverified(tokenStr string) (*Claims, error) {
	var mc jwt.MapClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenStr, &mc); err != nil {
		return nil, err
	}
	return FromMapClaims(mc), nil
}

// FromMapClaims normalises string and numeric forms of the standard claims.
func FromMapClaims(mc jwt.MapClaims) *Claims {
	c := &Claims{}

	switch v := mc["sub"].(type) {
	case string:
		c.Subject = v
	case float64:
		c.Subject = strconv.FormatInt(int64(v), 10)
	case nil:
	default:
		c.Subject = fmt.Sprintf("%v", v)
	}

	c.Email, _ = mc["email"].(string)
	c.Name, _ = mc["name"].(string)
	c.Iss, _ = mc["iss"].(string)

	switch v := mc["roles"].(type) {
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				c.Roles = append(c.Roles, s)
			}
		}
	case string:
		c.Roles = []string{v}
	}
	if r, ok := mc["role"].(string); ok && r != "" {
		c.Roles = append(c.Roles, r)
	}

	switch v := mc["aud"].(type) {
	case string:
		c.Aud = []string{v}
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok {
				c.Aud = append(c.Aud, s)
			}
		}
	}

	c.Iat = numeric(mc["iat"])
	c.Exp = numeric(mc["exp"])
	return c
}

func numeric(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	}
	return 0
}
