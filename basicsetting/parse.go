package basicsetting

import (
	"math"
	"strings"
	"unicode"
)

// parseLeadingInt reads an integer the way a lenient text field would.
// Leading whitespace and a sign are allowed and trailing text is ignored.
// A 0x prefix selects hex. ok is false when no digits were found.
// Values too large for int64 saturate.
func parseLeadingInt(text string) (n int64, ok bool) {
	s := strings.TrimLeftFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\uFEFF'
	})

	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	base := int64(10)
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base = 16
		s = s[2:]
	}

	for _, r := range s {
		d := digitValue(r, base)
		if d < 0 {
			break
		}
		ok = true
		if n > (math.MaxInt64-d)/base {
			n = math.MaxInt64
			continue
		}
		n = n*base + d
	}
	if neg {
		n = -n
	}
	return n, ok
}

func digitValue(r rune, base int64) int64 {
	var d int64
	switch {
	case r >= '0' && r <= '9':
		d = int64(r - '0')
	case r >= 'a' && r <= 'f':
		d = int64(r-'a') + 10
	case r >= 'A' && r <= 'F':
		d = int64(r-'A') + 10
	default:
		return -1
	}
	if d >= base {
		return -1
	}
	return d
}
