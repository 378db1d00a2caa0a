package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeReleaseDate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"day month year", "21 Oct, 2008", "2008-10-21T00:00:00.000Z"},
		{"month day year", "Oct 21, 2008", "2008-10-21T00:00:00.000Z"},
		{"month only", "Oct 2008", "2008-10-01T00:00:00.000Z"},
		{"already stored", "2008-10-21T00:00:00.000Z", "2008-10-21T00:00:00.000Z"},
		{"loose wording kept", " Q4 2031 ", "Q4 2031"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, normalizeReleaseDate(tt.in))
		})
	}
}

func TestParseReleaseDateRejectsWords(t *testing.T) {
	t.Parallel()
	_, ok := ParseReleaseDate("Coming soon")
	assert.False(t, ok)
}
