package textutil

import (
	"strings"
	"unicode"
)

// Token lowercases value and joins its letter and digit runs with single
// underscores, so "Purchase Orders" and "purchase/orders" both become
// "purchase_orders". Hyphens are kept. It returns "" when nothing survives.
func Token(value string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.TrimSpace(value) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pending = true
		}
	}
	return b.String()
}
