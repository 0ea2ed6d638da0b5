package kb

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// keyDomain separates cache keys from any other sha256 use and lets the key
// layout change without colliding with mappings written by older builds.
const keyDomain = "boqmatch/kb/v1"

// ContextFingerprint canonicalizes project context into sorted, case-folded
// key=value lines. Empty keys and values are dropped, so absent and empty
// context produce the same fingerprint.
func ContextFingerprint(projectContext map[string]string) string {
	if len(projectContext) == 0 {
		return ""
	}
	fold := cases.Fold()
	pairs := make([]string, 0, len(projectContext))
	for key, value := range projectContext {
		k := strings.TrimSpace(fold.String(key))
		v := strings.Join(strings.Fields(fold.String(value)), " ")
		if k == "" || v == "" {
			continue
		}
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\n")
}

// ContextHash returns the sha256 of the context fingerprint, or "" when the
// context is empty.
func ContextHash(projectContext map[string]string) string {
	fp := ContextFingerprint(projectContext)
	if fp == "" {
		return ""
	}
	h := sha256.New()
	writeField(h, keyDomain+"/context")
	writeField(h, fp)
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey returns the hex sha256 of (normalizedText, context fingerprint).
// Fields are length-prefixed so no pair of inputs can produce the same byte
// stream.
func CacheKey(normalizedText string, projectContext map[string]string) string {
	h := sha256.New()
	writeField(h, keyDomain)
	writeField(h, normalizedText)
	writeField(h, ContextFingerprint(projectContext))
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, value string) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(value)))
	h.Write(prefix[:])
	h.Write([]byte(value))
}
