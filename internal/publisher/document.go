package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/steam-harvester/internal/classify"
)

// Document is one search-index entry. Documents are upserted by TrackingID.
type Document struct {
	ChunkHTML          string          `json:"chunk_html"`
	Link               string          `json:"link"`
	ImageURLs          []string        `json:"image_urls"`
	TrackingID         string          `json:"tracking_id"`
	TagSet             []string        `json:"tag_set"`
	Metadata           json.RawMessage `json:"metadata"`
	TimeStamp          string          `json:"time_stamp"`
	UpsertByTrackingID bool            `json:"upsert_by_tracking_id"`
}

// indexed is the part of a stored record the document builder reads.
type indexed struct {
	Name         string          `json:"name"`
	ReleaseDate  string          `json:"release_date"`
	AboutTheGame string          `json:"about_the_game"`
	Notes        string          `json:"notes"`
	AdultGame    bool            `json:"adult_game"`
	Developers   []string        `json:"developers"`
	Publishers   []string        `json:"publishers"`
	Categories   []string        `json:"categories"`
	Genres       []string        `json:"genres"`
	Screenshots  []string        `json:"screenshots"`
	Tags         json.RawMessage `json:"tags"`
}

// tagNames lists tag names by vote count, highest first. Older datasets store
// an empty list instead of an object; both decode.
func tagNames(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var votes map[string]int
	if err := json.Unmarshal(raw, &votes); err != nil {
		return nil
	}
	names := make([]string, 0, len(votes))
	for name := range votes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if votes[names[i]] != votes[names[j]] {
			return votes[names[i]] > votes[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func searchable(rec indexed, tags []string) string {
	var b strings.Builder
	add := func(prefix, value string) {
		if value == "" {
			return
		}
		b.WriteString(prefix)
		b.WriteString(value)
		b.WriteString("\n\n")
	}
	add("Game Description: ", rec.AboutTheGame)
	add("Game Name: ", rec.Name)
	add("Game Categories: ", strings.Join(rec.Categories, ","))
	add("Game Developers: ", strings.Join(rec.Developers, ","))
	add("Game Publishers: ", strings.Join(rec.Publishers, ","))
	add("Game Tags: ", strings.Join(tags, ","))
	return strings.TrimSpace(b.String())
}

// buildDocument transforms a stored record. now stamps items without a
// parseable release date.
func buildDocument(id string, raw json.RawMessage, linkPrefix string, now time.Time) (Document, indexed, error) {
	var rec indexed
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Document{}, rec, fmt.Errorf("decode record %s: %w", id, err)
	}
	tags := tagNames(rec.Tags)

	tagSet := make([]string, 0, len(rec.Genres)+len(rec.Categories)+len(tags))
	tagSet = append(tagSet, rec.Genres...)
	tagSet = append(tagSet, rec.Categories...)
	tagSet = append(tagSet, tags...)

	stamp := now.UTC()
	if t, ok := classify.ParseReleaseDate(rec.ReleaseDate); ok {
		stamp = t
	}

	images := rec.Screenshots
	if images == nil {
		images = []string{}
	}
	return Document{
		ChunkHTML:          searchable(rec, tags),
		Link:               linkPrefix + id,
		ImageURLs:          images,
		TrackingID:         id,
		TagSet:             tagSet,
		Metadata:           raw,
		TimeStamp:          stamp.Format(classify.ReleaseDateLayout),
		UpsertByTrackingID: true,
	}, rec, nil
}
