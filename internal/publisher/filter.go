package publisher

import "strings"

// DefaultBlockedTerms mark adult content when found in tags, genres,
// categories or content notes.
var DefaultBlockedTerms = []string{"sexual content", "nudity", "hentai", "nsfw", "adult"}

// ContentFilter decides which records stay out of the index. It never
// changes the dataset.
type ContentFilter struct {
	terms []string
}

// NewContentFilter lowercases terms. Nil terms use DefaultBlockedTerms.
func NewContentFilter(terms []string) *ContentFilter {
	if terms == nil {
		terms = DefaultBlockedTerms
	}
	lowered := make([]string, 0, len(terms))
	for _, term := range terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			lowered = append(lowered, term)
		}
	}
	return &ContentFilter{terms: lowered}
}

func (f *ContentFilter) blocked(rec indexed, tags []string) bool {
	if rec.AdultGame {
		return true
	}
	for _, group := range [][]string{tags, rec.Genres, rec.Categories, {rec.Notes}} {
		for _, value := range group {
			if f.matches(value) {
				return true
			}
		}
	}
	return false
}

func (f *ContentFilter) matches(value string) bool {
	value = strings.ToLower(value)
	for _, term := range f.terms {
		if strings.Contains(value, term) {
			return true
		}
	}
	return false
}
