package classify

import (
	"strings"
	"time"
)

// ReleaseDateLayout is how accepted records store their release date.
const ReleaseDateLayout = "2006-01-02T15:04:05.000Z"

var displayLayouts = []string{
	"2 Jan, 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"Jan 2006",
	"2006-01-02",
}

// ParseReleaseDate reads a release date either in the stored form or in any
// of the store's display renderings ("21 Oct, 2008", "Oct 21, 2008", ...).
func ParseReleaseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range displayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeReleaseDate renders a display date in the stored form. Dates the
// store words loosely ("Q4 2024", "Coming soon") are kept as given.
func normalizeReleaseDate(s string) string {
	t, ok := ParseReleaseDate(s)
	if !ok {
		return strings.TrimSpace(s)
	}
	return t.Format(ReleaseDateLayout)
}
