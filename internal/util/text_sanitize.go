package util

import (
	"math"
	"strings"
	"unicode/utf8"
)

// charsPerToken approximates how many characters make up one model token for
// non-English course prose.
const charsPerToken = 3.5

// EstimateTokens returns ceil(runes/3.5).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / charsPerToken))
}

// NormalizeText drops control characters (0-31, 127), collapses whitespace runs
// into one space and trims. Whitespace controls (\t \n \v \f \r) count as
// whitespace so that line breaks still separate words.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, ch := range s {
		switch {
		case isSpace(ch):
			pendingSpace = b.Len() > 0
			continue
		case ch < 0x20 || ch == 0x7f:
			continue
		case ch == utf8.RuneError:
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// SanitizeText removes bytes and control characters that Postgres text columns reject
// (especially NUL / 0x00 from some PDF extractors) while keeping line structure.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			r = append(r, ch)
			continue
		}
		if ch < 0x20 || ch == 0x7f {
			continue
		}
		r = append(r, ch)
	}
	return strings.TrimSpace(string(r))
}

func isSpace(ch rune) bool {
	switch ch {
	case ' ', '\t', '\n', '\v', '\f', '\r', 0x85, 0xA0:
		return true
	}
	return ch == 0x2028 || ch == 0x2029 || ch == 0x3000 || (ch >= 0x2000 && ch <= 0x200a)
}
