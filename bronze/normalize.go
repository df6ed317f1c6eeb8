package bronze

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	nonWordRun    = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// NormalizeKey folds a free-text identity component into a stable grouping key:
// lowercase, runs of whitespace/punctuation become a single underscore.
func NormalizeKey(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = nonWordRun.ReplaceAllString(s, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// NormalizeOptional is NormalizeKey for nullable fields; empty results become nil.
func NormalizeOptional(input *string) *string {
	if input == nil {
		return nil
	}
	n := NormalizeKey(*input)
	if n == "" {
		return nil
	}
	return &n
}

func HashHex(text string, hexLen int) string {
	sum := sha256.Sum256([]byte(text))
	full := hex.EncodeToString(sum[:])
	if hexLen <= 0 || hexLen >= len(full) {
		return full
	}
	return full[:hexLen]
}

// trimOrNil returns nil for blank strings.
func trimOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
