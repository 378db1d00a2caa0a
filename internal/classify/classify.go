// Package classify turns one raw detail response into a terminal outcome and,
// for accepted items, the canonical record. Everything here is pure: the same
// payload always yields the same outcome and the same record.
package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

const gameType = "game"

var discarded = harvest.Outcome{Kind: harvest.OutcomeDiscarded}

// Classify applies the acceptance rules in order; the first match wins.
// An empty body means the item was absent from the response and is discarded.
// A body that cannot be decoded returns harvest.ErrMalformedPayload and no outcome.
func Classify(id string, body []byte) (harvest.Outcome, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return discarded, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return harvest.Outcome{}, fmt.Errorf("item %s envelope: %w: %v", id, harvest.ErrMalformedPayload, err)
	}
	data := bytes.TrimSpace(env.Data)
	if !env.Success || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return discarded, nil
	}

	var app appDetails
	if err := json.Unmarshal(data, &app); err != nil {
		return harvest.Outcome{}, fmt.Errorf("item %s data: %w: %v", id, harvest.ErrMalformedPayload, err)
	}

	switch {
	case app.Type != gameType:
		return discarded, nil
	case !app.IsFree && app.PriceOverview != nil && app.PriceOverview.FinalFormatted == "":
		return discarded, nil
	case app.Developers != nil && len(app.Developers) == 0:
		return discarded, nil
	case app.ReleaseDate == nil || app.ReleaseDate.ComingSoon || app.ReleaseDate.Date == "":
		return harvest.Outcome{Kind: harvest.OutcomePending}, nil
	}

	rec := mapRecord(app)
	return harvest.Outcome{Kind: harvest.OutcomeAccepted, Record: &rec}, nil
}

// ApplyEnrichment attaches popularity statistics to an accepted record.
// A nil block means the enrichment endpoint had nothing usable; the record
// then carries zeroed statistics instead.
func ApplyEnrichment(rec harvest.Record, pop *harvest.Popularity) harvest.Record {
	if pop == nil {
		rec.Popularity = harvest.EmptyPopularity()
		return rec
	}
	cp := *pop
	if cp.Tags == nil {
		cp.Tags = map[string]int{}
	}
	if cp.EstimatedOwners == "" {
		cp.EstimatedOwners = "0 - 0"
	}
	rec.Popularity = &cp
	return rec
}
