package alias

import (
	"strconv"
	"strings"
	"unicode"
)

// vendorWords are leading model-name words that carry no information in a
// short code, since the provider segment already identifies the vendor.
var vendorWords = map[string]bool{
	"claude": true,
	"gpt":    true,
}

// DeriveShortCode builds a compact alias for a canonical model name in the
// style of the built-in table: "claude-haiku-4-9" → "h49", "gpt-5.4-codex" →
// "54c". Codes already present in taken get a numeric suffix. The result is
// never longer than maxLen and never empty.
func DeriveShortCode(canonical string, maxLen int, taken map[string]bool) string {
	if maxLen <= 0 {
		maxLen = DefaultModelLength
	}
	words := strings.FieldsFunc(strings.ToLower(canonical), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})

	var b strings.Builder
	for i, w := range words {
		switch {
		case isDigits(w):
			b.WriteString(w)
		case isLetters(w):
			if i == 0 && len(words) > 1 && vendorWords[w] {
				continue
			}
			b.WriteByte(w[0])
		default:
			b.WriteString(w)
		}
	}

	code := truncate(b.String(), maxLen)
	if code == "" {
		code = Slug(canonical, maxLen)
	}
	if code == "" {
		code = "m"
	}
	if !taken[code] {
		return code
	}

	base := ""
	if maxLen > 1 {
		base = truncate(code, maxLen-1)
	}
	for n := 2; n <= 9; n++ {
		candidate := base + strconv.Itoa(n)
		if !taken[candidate] {
			return candidate
		}
	}
	return Slug(canonical, maxLen)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}
