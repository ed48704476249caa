package sms

import "strings"

// NormalizeNumber converts a locally written phone number into E.164 form for
// the configured country. The rules are applied in order:
//
//  1. digits already start with the country code: prefix "+"
//  2. 10 digits with a leading 0: drop the 0, prefix "+<cc>"
//  3. exactly 9 digits: prefix "+<cc>"
//  4. input already starts with "+": returned unchanged
//  5. otherwise: prefix a bare "+"
func NormalizeNumber(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case countryCode != "" && strings.HasPrefix(digits, countryCode):
		return "+" + digits
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		return "+" + countryCode + digits[1:]
	case len(digits) == 9:
		return "+" + countryCode + digits
	case strings.HasPrefix(raw, "+"):
		return raw
	default:
		return "+" + digits
	}
}
