package objstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/quatton/mam/pkg/merr"
)

const (
	MastersRoot  = "masters/"
	PreviewsRoot = "previews/"

	ManifestName  = "index.m3u8"
	ThumbnailName = "thumbnail.jpg"
)

// DefaultStagingRoots are the namespaces uploads may be promoted from.
var DefaultStagingRoots = []string{"staging/", "uploads/"}

// KeyPolicy decides which staging keys a principal may touch.
type KeyPolicy struct {
	// Roots are the permitted staging namespaces, each ending in "/".
	Roots []string
	// PerUser restricts each principal to <root><principalID>/.
	PerUser bool
}

// DefaultKeyPolicy permits the default roots without per-user scoping.
func DefaultKeyPolicy() KeyPolicy {
	return KeyPolicy{Roots: DefaultStagingRoots}
}

// CheckKey rejects keys that are empty, absolute, contain traversal segments,
// backslashes or control characters. It does not check the namespace.
func CheckKey(key string) error {
	const op = "objstore.check_key"
	if key == "" {
		return merr.Errorf(merr.CodeInvalidKey, op, "key is empty")
	}
	if strings.HasPrefix(key, "/") {
		return merr.Errorf(merr.CodeInvalidKey, op, "key %q is absolute", key)
	}
	if strings.ContainsRune(key, '\\') {
		return merr.Errorf(merr.CodeInvalidKey, op, "key %q contains a backslash", key)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return merr.Errorf(merr.CodeInvalidKey, op, "key %q contains a control character", key)
		}
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return merr.Errorf(merr.CodeInvalidKey, op, "key %q contains a relative segment", key)
		}
	}
	if strings.HasSuffix(key, "/") {
		return merr.Errorf(merr.CodeInvalidKey, op, "key %q names a directory", key)
	}
	return nil
}

// Validate checks key and returns the staging root it lives under.
func (p KeyPolicy) Validate(key, principalID string) (string, error) {
	const op = "objstore.validate_key"
	if err := CheckKey(key); err != nil {
		return "", err
	}
	root := p.root(key)
	if root == "" {
		return "", merr.Errorf(merr.CodeInvalidKey, op, "key %q is outside the staging namespace", key)
	}
	if p.PerUser {
		if principalID == "" || strings.ContainsRune(principalID, '/') {
			return "", merr.Errorf(merr.CodeInvalidKey, op, "per-user staging requires a principal")
		}
		if !strings.HasPrefix(key, root+principalID+"/") {
			return "", merr.Errorf(merr.CodeInvalidKey, op, "key %q is outside %s%s/", key, root, principalID)
		}
	}
	if len(key) == len(root) {
		return "", merr.Errorf(merr.CodeInvalidKey, op, "key %q has no object name", key)
	}
	return root, nil
}

func (p KeyPolicy) root(key string) string {
	roots := p.Roots
	if len(roots) == 0 {
		roots = DefaultStagingRoots
	}
	for _, r := range roots {
		if strings.HasPrefix(key, r) {
			return r
		}
	}
	return ""
}

// MasterKey swaps the staging root of key for masters/.
func (p KeyPolicy) MasterKey(key string) (string, error) {
	root := p.root(key)
	if root == "" {
		return "", merr.Errorf(merr.CodeInvalidKey, "objstore.master_key", "key %q is outside the staging namespace", key)
	}
	return MastersRoot + strings.TrimPrefix(key, root), nil
}

// PreviewPrefix derives the preview prefix for a master key. The same master
// key always yields the same prefix, so rebuilds overwrite the same objects.
//
//	masters/u1/video1.mp4 -> previews/u1/video1-<8 hex>
func PreviewPrefix(masterKey string) string {
	rel := strings.TrimPrefix(masterKey, MastersRoot)
	dir, file := path.Split(rel)
	base := strings.TrimSuffix(file, path.Ext(file))
	if base == "" {
		base = "asset"
	}
	sum := sha1.Sum([]byte(masterKey))
	return PreviewsRoot + dir + base + "-" + hex.EncodeToString(sum[:4])
}

// ManifestKey returns the HLS manifest key under prefix.
func ManifestKey(prefix string) string { return prefix + "/" + ManifestName }

// ThumbnailKey returns the thumbnail key under prefix.
func ThumbnailKey(prefix string) string { return prefix + "/" + ThumbnailName }

// SegmentName returns the file name of the i-th segment (zero based).
func SegmentName(i int) string { return fmt.Sprintf("segment%03d.ts", i) }

// SegmentKey returns the key of the i-th segment under prefix.
func SegmentKey(prefix string, i int) string { return prefix + "/" + SegmentName(i) }

// IsPreviewPrefix reports whether s looks like a prefix derived by
// PreviewPrefix. Used to reject arbitrary prefixes at the API edge.
func IsPreviewPrefix(s string) bool {
	if !strings.HasPrefix(s, PreviewsRoot) || len(s) == len(PreviewsRoot) {
		return false
	}
	return CheckKey(s) == nil
}
