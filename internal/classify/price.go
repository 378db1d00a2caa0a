package classify

import (
	"strconv"
	"strings"
)

// ParsePrice reads a localized, formatted price such as "$19.99", "19,99€"
// or "R$ 1.299,90". When both separators appear the last one is the decimal
// mark; a lone comma is treated as the decimal mark. Unparseable input is 0.
func ParsePrice(formatted string) float64 {
	var digits strings.Builder
	for _, r := range formatted {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			digits.WriteRune(r)
		}
	}
	s := strings.Trim(digits.String(), ".,")
	if s == "" {
		return 0
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return round2(v)
}
