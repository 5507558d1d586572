// Package edgesign signs and verifies time-limited preview URLs served by the
// /s/ proxy. A signature is the hex HMAC-SHA256 of "<path>?exp=<unix>".
package edgesign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// PathPrefix is the route the proxy serves signed objects under.
	PathPrefix = "/s/"

	MinKeyLength = 32
	DefaultTTL   = time.Hour
)

var (
	ErrNoKey        = errors.New("edgesign: signing key not configured")
	ErrBadPath      = errors.New("edgesign: bad path")
	ErrExpired      = errors.New("edgesign: url expired")
	ErrBadSignature = errors.New("edgesign: signature mismatch")
)

var pathRe = regexp.MustCompile(`^[-A-Za-z0-9_./]+$`)

// Signer produces and checks signed URLs.
type Signer struct {
	key  []byte
	base string
	now  func() time.Time
}

// NewSigner returns a signer for URLs rooted at base (e.g.
// "https://edge.example.com").
func NewSigner(key, base string) *Signer {
	return &Signer{key: []byte(key), base: strings.TrimRight(base, "/"), now: time.Now}
}

// WithClock overrides the time source.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// ObjectPath returns the proxy path for an object key.
func ObjectPath(key string) string {
	return PathPrefix + strings.TrimLeft(key, "/")
}

// ValidObjectKey reports whether key is safe to proxy.
func ValidObjectKey(key string) bool {
	if key == "" || !pathRe.MatchString(key) {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return false
		}
	}
	return true
}

// Signature computes the hex signature for path and exp.
func (s *Signer) Signature(path string, exp int64) string {
	h := hmac.New(sha256.New, s.key)
	fmt.Fprintf(h, "%s?exp=%d", path, exp)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns a signed absolute URL for an object key valid for ttl.
func (s *Signer) Sign(key string, ttl time.Duration) (string, time.Time, error) {
	if len(s.key) == 0 {
		return "", time.Time{}, ErrNoKey
	}
	if !ValidObjectKey(key) {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrBadPath, key)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	exp := s.now().Add(ttl).Unix()
	path := ObjectPath(key)
	return s.base + path + "?" + Query(exp, s.Signature(path, exp)), time.Unix(exp, 0), nil
}

// Query renders the exp and sig query parameters.
func Query(exp int64, sig string) string {
	v := url.Values{}
	v.Set("exp", strconv.FormatInt(exp, 10))
	v.Set("sig", sig)
	return v.Encode()
}

// Verify checks sig for path at exp in constant time.
func (s *Signer) Verify(path string, exp int64, sig string) error {
	if len(s.key) == 0 {
		return ErrNoKey
	}
	if exp <= 0 || s.now().Unix() >= exp {
		return ErrExpired
	}
	want := s.Signature(path, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}
