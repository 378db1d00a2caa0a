package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// appDetails is the subset of the detail payload the classifier and the
// record mapping read. Every field is optional upstream.
type appDetails struct {
	Type                string            `json:"type"`
	Name                string            `json:"name"`
	IsFree              bool              `json:"is_free"`
	RequiredAge         looseInt          `json:"required_age"`
	PriceOverview       *priceOverview    `json:"price_overview"`
	DLC                 []json.RawMessage `json:"dlc"`
	DetailedDescription string            `json:"detailed_description"`
	AboutTheGame        string            `json:"about_the_game"`
	ShortDescription    string            `json:"short_description"`
	Reviews             string            `json:"reviews"`
	HeaderImage         string            `json:"header_image"`
	Website             string            `json:"website"`
	SupportInfo         *struct {
		URL   string `json:"url"`
		Email string `json:"email"`
	} `json:"support_info"`
	Platforms *struct {
		Windows bool `json:"windows"`
		Mac     bool `json:"mac"`
		Linux   bool `json:"linux"`
	} `json:"platforms"`
	Metacritic *struct {
		Score looseInt `json:"score"`
		URL   string   `json:"url"`
	} `json:"metacritic"`
	Achievements *struct {
		Total looseInt `json:"total"`
	} `json:"achievements"`
	Recommendations *struct {
		Total looseInt `json:"total"`
	} `json:"recommendations"`
	ContentDescriptors *struct {
		Notes string `json:"notes"`
	} `json:"content_descriptors"`
	SupportedLanguages string         `json:"supported_languages"`
	PackageGroups      []packageGroup `json:"package_groups"`
	Developers         []string       `json:"developers"`
	Publishers         []string       `json:"publishers"`
	Categories         []described    `json:"categories"`
	Genres             []described    `json:"genres"`
	Screenshots        []struct {
		PathFull string `json:"path_full"`
	} `json:"screenshots"`
	Movies []struct {
		MP4 *struct {
			Max string `json:"max"`
		} `json:"mp4"`
	} `json:"movies"`
	Ratings *struct {
		SteamGermany *struct {
			Banned string `json:"banned"`
		} `json:"steam_germany"`
	} `json:"ratings"`
	ReleaseDate *struct {
		ComingSoon bool   `json:"coming_soon"`
		Date       string `json:"date"`
	} `json:"release_date"`
}

type priceOverview struct {
	FinalFormatted string `json:"final_formatted"`
}

type described struct {
	Description string `json:"description"`
}

type packageGroup struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Subs        []struct {
		OptionText               string   `json:"option_text"`
		OptionDescription        string   `json:"option_description"`
		PriceInCentsWithDiscount looseInt `json:"price_in_cents_with_discount"`
	} `json:"subs"`
}

// looseInt decodes numbers that arrive as JSON numbers, numeric strings
// ("18", "18+"), empty strings or null. Unparseable strings decode to zero.
type looseInt int

func (l *looseInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode numeric string: %w", err)
		}
		*l = looseInt(leadingInt(s))
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", data, err)
	}
	*l = looseInt(int(math.Round(v)))
	return nil
}

// leadingInt parses the leading run of digits of s, so "18+" yields 18.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
