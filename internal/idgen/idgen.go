// Package idgen provides cryptographically random identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// WithPrefix generates a random ID with a prefix (e.g. "pur_", "evt_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives a URL-safe id from a title, e.g. "Lead Generation System" ->
// "lead-generation-system". An empty result falls back to a random suffix.
func Slug(title string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > 56 {
		s = strings.TrimRight(s[:56], "-")
	}
	if len(s) < 3 {
		return "bp-" + Hex(4)
	}
	return s
}
