package domain

import "strings"

// NormalizeMSISDN converts Kenyan mobile numbers to the 254XXXXXXXXX form
// (07…, 01…, +2547…, 2541…). Anything else is a validation error.
func NormalizeMSISDN(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")
	switch {
	case len(s) == 10 && s[0] == '0':
		s = "254" + s[1:]
	case len(s) == 9 && (s[0] == '7' || s[0] == '1'):
		s = "254" + s
	}
	if len(s) != 12 || !strings.HasPrefix(s, "254") || (s[3] != '7' && s[3] != '1') {
		return "", Invalid("phone must be a Kenyan mobile number")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", Invalid("phone must be numeric")
		}
	}
	return s, nil
}
