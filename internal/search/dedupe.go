package search

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// contentHash fingerprints an item's text with punctuation and spacing
// stripped, so near-identical chunks that differ only in formatting
// collapse to one.
func contentHash(q, a string) string {
	var b strings.Builder
	for _, r := range q + a {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// DedupeByContent removes items whose normalized content duplicates an
// earlier item. The first occurrence wins, order is preserved, and the
// operation is idempotent.
func DedupeByContent(items []SearchResultItem) []SearchResultItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]SearchResultItem, 0, len(items))
	for _, item := range items {
		h := contentHash(item.Q, item.A)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, item)
	}
	return out
}
