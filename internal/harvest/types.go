// Package harvest defines the core types shared by the catalog crawler subsystems:
// canonical records, classification outcomes, item statuses and the store contract.
package harvest

// OutcomeKind is the terminal classification of one detail response.
type OutcomeKind string

// Classification outcomes produced by the classifier.
const (
	OutcomeAccepted  OutcomeKind = "accepted"
	OutcomePending   OutcomeKind = "pending_release"
	OutcomeDiscarded OutcomeKind = "discarded"
)

// Outcome pairs a classification with the record built for accepted items.
// Record is nil unless Kind is OutcomeAccepted.
type Outcome struct {
	Kind   OutcomeKind
	Record *Record
}

// Status is the state of one item identifier inside the crawl state store.
type Status string

// Item statuses. StatusUnvisited means the id is absent from all collections.
const (
	StatusUnvisited Status = "unvisited"
	StatusAccepted  Status = "accepted"
	StatusPending   Status = "pending_release"
	StatusDiscarded Status = "discarded"
)

// Collection names one of the three durable collections.
type Collection string

// Durable collections of the crawl state.
const (
	CollectionAccepted  Collection = "accepted"
	CollectionPending   Collection = "pending_release"
	CollectionDiscarded Collection = "discarded"
)

// AllCollections lists every collection in checkpoint order.
var AllCollections = []Collection{CollectionAccepted, CollectionPending, CollectionDiscarded}

// Counts reports collection sizes.
type Counts struct {
	Accepted  int `json:"accepted"`
	Pending   int `json:"pending_release"`
	Discarded int `json:"discarded"`
}

// Record is the canonical, fully built description of one accepted item.
// Missing upstream fields map to their zero value; the embedded Popularity
// block is only present when enrichment was requested.
type Record struct {
	Name                string    `json:"name"`
	ReleaseDate         string    `json:"release_date"`
	RequiredAge         int       `json:"required_age"`
	Price               float64   `json:"price"`
	DLCCount            int       `json:"dlc_count"`
	DetailedDescription string    `json:"detailed_description"`
	AboutTheGame        string    `json:"about_the_game"`
	ShortDescription    string    `json:"short_description"`
	Reviews             string    `json:"reviews"`
	HeaderImage         string    `json:"header_image"`
	Website             string    `json:"website"`
	SupportURL          string    `json:"support_url"`
	SupportEmail        string    `json:"support_email"`
	Windows             bool      `json:"windows"`
	Mac                 bool      `json:"mac"`
	Linux               bool      `json:"linux"`
	MetacriticScore     int       `json:"metacritic_score"`
	MetacriticURL       string    `json:"metacritic_url"`
	Achievements        int       `json:"achievements"`
	Recommendations     int       `json:"recommendations"`
	Notes               string    `json:"notes"`
	SupportedLanguages  []string  `json:"supported_languages"`
	FullAudioLanguages  []string  `json:"full_audio_languages"`
	Packages            []Package `json:"packages"`
	Developers          []string  `json:"developers"`
	Publishers          []string  `json:"publishers"`
	Categories          []string  `json:"categories"`
	Genres              []string  `json:"genres"`
	Screenshots         []string  `json:"screenshots"`
	Movies              []string  `json:"movies"`
	AdultGame           bool      `json:"adult_game"`

	*Popularity
}

// Package is one purchasable package group of an item.
type Package struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Subs        []PackageSub `json:"subs"`
}

// PackageSub is one purchase option inside a package group.
type PackageSub struct {
	Text        string  `json:"text"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// Popularity holds the statistics fetched from the enrichment endpoint.
type Popularity struct {
	UserScore              int            `json:"user_score"`
	ScoreRank              string         `json:"score_rank"`
	Positive               int            `json:"positive"`
	Negative               int            `json:"negative"`
	EstimatedOwners        string         `json:"estimated_owners"`
	AveragePlaytimeForever int            `json:"average_playtime_forever"`
	AveragePlaytime2Weeks  int            `json:"average_playtime_2weeks"`
	MedianPlaytimeForever  int            `json:"median_playtime_forever"`
	MedianPlaytime2Weeks   int            `json:"median_playtime_2weeks"`
	PeakCCU                int            `json:"peak_ccu"`
	Tags                   map[string]int `json:"tags"`
}

// EmptyPopularity is the defaulted block used when enrichment is enabled but
// the endpoint returned nothing usable.
func EmptyPopularity() *Popularity {
	return &Popularity{
		EstimatedOwners: "0 - 0",
		Tags:            map[string]int{},
	}
}

// Notification is one entry of the newly-accepted FIFO consumed by the publisher.
type Notification struct {
	Seq int64
	ID  string
}
