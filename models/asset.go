package models

import "time"

// Deal is a time-bounded association between a catalog item and the offers
// that unlock it. A deal without a window is always active.
type Deal struct {
	Offers []string   `json:"offers"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
}

// Channel is a single entry of the tenant's bouquet.
type Channel struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Icon      string `json:"icon"`
	Preview   string `json:"preview"`
	Number    int    `json:"number"`
	Radio     bool   `json:"radio"`
	Available bool   `json:"available"`

	// Now and Next carry the current and upcoming program when the channel
	// listing was enriched with guide data.
	Now  *Program `json:"now,omitempty"`
	Next *Program `json:"next,omitempty"`
}

// Program is a guide entry or VOD item. Start and End are UTC.
type Program struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Cover       string    `json:"cover"`
	Preview     string    `json:"preview"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	ChannelID   string    `json:"channelId"`
	Formats     []string  `json:"formats"`
	Genres      []string  `json:"genres"`
	Replay      bool      `json:"replay"`
	Restart     bool      `json:"restart"`
	Age         int       `json:"age"`
	SeriesID    string    `json:"seriesId,omitempty"`
	Season      int       `json:"season,omitempty"`
	Episode     int       `json:"episode,omitempty"`
	Credits     []Credit  `json:"credits,omitempty"`
	Available   bool      `json:"available"`
}

// Credit attaches a person to a program.
type Credit struct {
	Role      string `json:"role"`
	Person    string `json:"person"`
	Character string `json:"character,omitempty"`
}

// Credit roles as reported by the backend.
const (
	RoleActor     = "Actor"
	RoleComposer  = "Composer"
	RoleDirector  = "Director"
	RoleGuest     = "Guest"
	RolePresenter = "Presenter"
	RoleProducer  = "Producer"
)

// Series groups VOD episodes under one title.
type Series struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Cover       string `json:"cover"`
	Available   bool   `json:"available"`
}

// AssetKind discriminates the variants of Asset.
type AssetKind string

const (
	AssetChannel AssetKind = "channel"
	AssetProgram AssetKind = "program"
	AssetMovie   AssetKind = "movie"
	AssetEpisode AssetKind = "episode"
	AssetSeries  AssetKind = "series"
)

// Asset is a tagged variant for catalog entries that can be one of several
// entity types. Exactly one of the pointers is set, matching Kind: Channel
// for AssetChannel, Program for AssetProgram/AssetMovie/AssetEpisode, and
// Series for AssetSeries.
type Asset struct {
	Kind    AssetKind `json:"kind"`
	Channel *Channel  `json:"channel,omitempty"`
	Program *Program  `json:"program,omitempty"`
	Series  *Series   `json:"series,omitempty"`
}

// Title returns the display title of whichever variant is set.
func (a Asset) Title() string {
	switch {
	case a.Channel != nil:
		return a.Channel.Title
	case a.Program != nil:
		return a.Program.Title
	case a.Series != nil:
		return a.Series.Title
	}
	return ""
}
