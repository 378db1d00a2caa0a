package classify

import (
	"math"
	"strings"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// mapRecord builds the canonical record. Missing fields map to zero values
// and empty, non-nil slices so every record serializes with the same shape.
func mapRecord(app appDetails) harvest.Record {
	rec := harvest.Record{
		Name:                strings.TrimSpace(app.Name),
		RequiredAge:         int(app.RequiredAge),
		DLCCount:            len(app.DLC),
		DetailedDescription: SanitizeText(app.DetailedDescription),
		AboutTheGame:        SanitizeText(app.AboutTheGame),
		ShortDescription:    SanitizeText(app.ShortDescription),
		Reviews:             SanitizeText(app.Reviews),
		HeaderImage:         strings.TrimSpace(app.HeaderImage),
		Website:             strings.TrimSpace(app.Website),
		Packages:            []harvest.Package{},
		Developers:          trimAll(app.Developers),
		Publishers:          trimAll(app.Publishers),
		Categories:          descriptions(app.Categories),
		Genres:              descriptions(app.Genres),
		Screenshots:         []string{},
		Movies:              []string{},
	}

	if app.ReleaseDate != nil && !app.ReleaseDate.ComingSoon {
		rec.ReleaseDate = normalizeReleaseDate(app.ReleaseDate.Date)
	}
	if !app.IsFree && app.PriceOverview != nil {
		rec.Price = ParsePrice(app.PriceOverview.FinalFormatted)
	}
	if app.SupportInfo != nil {
		rec.SupportURL = strings.TrimSpace(app.SupportInfo.URL)
		rec.SupportEmail = strings.TrimSpace(app.SupportInfo.Email)
	}
	if app.Platforms != nil {
		rec.Windows = app.Platforms.Windows
		rec.Mac = app.Platforms.Mac
		rec.Linux = app.Platforms.Linux
	}
	if app.Metacritic != nil {
		rec.MetacriticScore = int(app.Metacritic.Score)
		rec.MetacriticURL = app.Metacritic.URL
	}
	if app.Achievements != nil {
		rec.Achievements = int(app.Achievements.Total)
	}
	if app.Recommendations != nil {
		rec.Recommendations = int(app.Recommendations.Total)
	}
	if app.ContentDescriptors != nil {
		rec.Notes = SanitizeText(app.ContentDescriptors.Notes)
	}
	rec.SupportedLanguages, rec.FullAudioLanguages = parseLanguages(app.SupportedLanguages)

	for _, group := range app.PackageGroups {
		pkg := harvest.Package{
			Title:       SanitizeText(group.Title),
			Description: SanitizeText(group.Description),
			Subs:        []harvest.PackageSub{},
		}
		for _, sub := range group.Subs {
			pkg.Subs = append(pkg.Subs, harvest.PackageSub{
				Text:        SanitizeText(sub.OptionText),
				Description: sub.OptionDescription,
				Price:       round2(float64(sub.PriceInCentsWithDiscount) * 0.01),
			})
		}
		rec.Packages = append(rec.Packages, pkg)
	}
	for _, shot := range app.Screenshots {
		if shot.PathFull != "" {
			rec.Screenshots = append(rec.Screenshots, shot.PathFull)
		}
	}
	for _, movie := range app.Movies {
		if movie.MP4 != nil && movie.MP4.Max != "" {
			rec.Movies = append(rec.Movies, movie.MP4.Max)
		}
	}
	if app.Ratings != nil && app.Ratings.SteamGermany != nil {
		rec.AdultGame = app.Ratings.SteamGermany.Banned == "1"
	}
	return rec
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

func descriptions(values []described) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.Description)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
