package steamapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// flexInt accepts a JSON number, a numeric string, an empty string or null.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode numeric string: %w", err)
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*f = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", raw, err)
	}
	*f = flexInt(int(math.Round(v)))
	return nil
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*f = flexString(s)
	default:
		*f = flexString(data)
	}
	return nil
}

// tagMap accepts either an object of tag counts or an empty array.
type tagMap map[string]int

func (t *tagMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		*t = tagMap{}
		return nil
	}
	var raw map[string]flexInt
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	out := make(tagMap, len(raw))
	for name, count := range raw {
		out[name] = int(count)
	}
	*t = out
	return nil
}

type popularityPayload struct {
	Developer      string     `json:"developer"`
	UserScore      flexInt    `json:"userscore"`
	ScoreRank      flexString `json:"score_rank"`
	Positive       flexInt    `json:"positive"`
	Negative       flexInt    `json:"negative"`
	Owners         string     `json:"owners"`
	AverageForever flexInt    `json:"average_forever"`
	Average2Weeks  flexInt    `json:"average_2weeks"`
	MedianForever  flexInt    `json:"median_forever"`
	Median2Weeks   flexInt    `json:"median_2weeks"`
	CCU            flexInt    `json:"ccu"`
	Tags           tagMap     `json:"tags"`
}

// ParsePopularity decodes an enrichment response. An empty developer is the
// endpoint's "unknown item" signal and yields a nil block.
func ParsePopularity(body []byte) (*harvest.Popularity, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	var p popularityPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode enrichment: %w", err)
	}
	if strings.TrimSpace(p.Developer) == "" {
		return nil, nil
	}
	tags := map[string]int(p.Tags)
	if tags == nil {
		tags = map[string]int{}
	}
	return &harvest.Popularity{
		UserScore:              int(p.UserScore),
		ScoreRank:              string(p.ScoreRank),
		Positive:               int(p.Positive),
		Negative:               int(p.Negative),
		EstimatedOwners:        FormatOwners(p.Owners),
		AveragePlaytimeForever: int(p.AverageForever),
		AveragePlaytime2Weeks:  int(p.Average2Weeks),
		MedianPlaytimeForever:  int(p.MedianForever),
		MedianPlaytime2Weeks:   int(p.Median2Weeks),
		PeakCCU:                int(p.CCU),
		Tags:                   tags,
	}, nil
}

// FormatOwners turns "1,000,000 .. 2,000,000" into "1000000 - 2000000".
func FormatOwners(owners string) string {
	owners = strings.TrimSpace(owners)
	if owners == "" {
		return "0 - 0"
	}
	owners = strings.ReplaceAll(owners, ",", "")
	return strings.ReplaceAll(owners, "..", "-")
}
