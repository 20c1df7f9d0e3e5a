package identity

import (
	"regexp"
	"strings"
)

// zip5Pattern matches a trailing five-digit group with an optional +4 extension.
var zip5Pattern = regexp.MustCompile(`(\d{5})(?:-\d{4})?$`)

// ZIP5FromText extracts a five-digit ZIP from free text.
//
// Accepted forms are "12345", "12345-6789" and any text ending in one of them
// ("123 MAIN ST, ANYTOWN, TX 75001"). Spreadsheet float artifacts such as
// "75001.0" are tolerated. Returns "" when nothing matches.
func ZIP5FromText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	s = strings.TrimRight(s, " ,;")
	m := zip5Pattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// ZIP3 returns the three-digit sectional prefix of a ZIP5, or "" if z is not a ZIP5.
func ZIP3(z string) string {
	if !IsZIP5(z) {
		return ""
	}
	return z[:3]
}

// IsZIP5 reports whether z is exactly five ASCII digits.
func IsZIP5(z string) bool {
	if len(z) != 5 {
		return false
	}
	for i := 0; i < len(z); i++ {
		if z[i] < '0' || z[i] > '9' {
			return false
		}
	}
	return true
}
