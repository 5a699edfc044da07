// Package textutil prepares client-supplied strings for storage.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// Clip returns s as valid UTF-8 without NUL bytes, cut to at most max bytes
// on a rune boundary. Invalid sequences are dropped.
func Clip(s string, max int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	n := max
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
