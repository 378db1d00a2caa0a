package classify

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	urlPattern   = regexp.MustCompile(`(?:https|http)://[\w./?=&%-]*\b`)
	spacePattern = regexp.MustCompile(`\s+`)
	audioLegend  = regexp.MustCompile(`\*?\s*languages with full audio support`)
)

// SanitizeText flattens descriptive HTML into a single line of plain text:
// line breaks and tabs become spaces, &quot; becomes an apostrophe, URLs and
// markup are removed and runs of whitespace collapse to one space.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "&quot;", "'")
	text = urlPattern.ReplaceAllString(text, "")
	text = stripTags(text)
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

// stripTags keeps only text nodes, separating them with spaces. Entities are decoded.
func stripTags(text string) string {
	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

// parseLanguages splits the supported_languages HTML fragment. A trailing
// asterisk marks a language with full audio support.
func parseLanguages(raw string) (supported, fullAudio []string) {
	supported = []string{}
	fullAudio = []string{}
	if strings.TrimSpace(raw) == "" {
		return supported, fullAudio
	}
	text := stripTags(raw)
	text = audioLegend.ReplaceAllString(text, "")
	for _, part := range strings.Split(text, ",") {
		lang := strings.TrimSpace(spacePattern.ReplaceAllString(part, " "))
		audio := strings.Contains(lang, "*")
		lang = strings.TrimSpace(strings.ReplaceAll(lang, "*", ""))
		if lang == "" {
			continue
		}
		supported = append(supported, lang)
		if audio {
			fullAudio = append(fullAudio, lang)
		}
	}
	return supported, fullAudio
}
