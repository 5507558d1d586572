package edgesign

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestSignAndVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewSigner(testKey, "https://edge.example.com/").WithClock(func() time.Time { return now })

	raw, exp, err := s.Sign("previews/video1-abcd/index.m3u8", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("exp = %v", exp)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "edge.example.com" || u.Path != "/s/previews/video1-abcd/index.m3u8" {
		t.Fatalf("url = %s", raw)
	}
	e, _ := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	sig := u.Query().Get("sig")

	if err := s.Verify(u.Path, e, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := s.Verify("/s/previews/other/index.m3u8", e, sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("other path: %v", err)
	}
	if err := s.Verify(u.Path, e+1, sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered exp: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if err := s.Verify(u.Path, e, sig); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired: %v", err)
	}
}

func TestSignatureFormat(t *testing.T) {
	s := NewSigner(testKey, "")
	sig := s.Signature("/s/a/b.ts", 100)
	if len(sig) != 64 || strings.ToLower(sig) != sig {
		t.Fatalf("sig = %q", sig)
	}
}

func TestSignRejects(t *testing.T) {
	if _, _, err := NewSigner("", "x").Sign("previews/a", 0); !errors.Is(err, ErrNoKey) {
		t.Fatalf("no key: %v", err)
	}
	s := NewSigner(testKey, "x")
	for _, key := range []string{"", "previews/../masters/a.mp4", "previews/a b", "previews/a?x=1"} {
		if _, _, err := s.Sign(key, 0); !errors.Is(err, ErrBadPath) {
			t.Errorf("Sign(%q) = %v", key, err)
		}
	}
}
