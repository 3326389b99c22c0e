package catalog

import (
	"errors"
	"fmt"
	"time"

	"solstream/models"
)

// ErrUnknownAssetType is returned when a response carries a discriminator
// this client cannot parse. The call fails; session state is untouched.
var ErrUnknownAssetType = errors.New("unrecognised asset type")

// Asset type discriminators used by the backend.
const (
	assetTypeChannel   = "Channel"
	assetTypeProgram   = "EPG"
	assetTypeVod       = "VOD"
	assetTypeVodSeries = "VODSeries"
)

type rawImage struct {
	Type string `json:"type"`
	Size string `json:"size"`
	URL  string `json:"url"`
}

type rawDeal struct {
	Offers []string `json:"offers"`
	Start  string   `json:"start"`
	End    string   `json:"end"`
}

type rawTitled struct {
	Title string `json:"title"`
}

type rawCredit struct {
	Role      string `json:"role"`
	Person    string `json:"person"`
	Character string `json:"character"`
}

type rawParams struct {
	LCN       int        `json:"lcn"`
	Radio     bool       `json:"radio"`
	Now       *rawAsset  `json:"now"`
	Next      *rawAsset  `json:"next"`
	Start     string     `json:"start"`
	End       string     `json:"end"`
	ChannelID string     `json:"channelId"`
	Formats   []rawTitled `json:"formats"`
	Genres    []rawTitled `json:"genres"`
	Replay    bool       `json:"replay"`
	Restart   bool       `json:"restart"`
	Age       int        `json:"age"`
	SeriesID  string     `json:"seriesId"`
	Season    int        `json:"seriesSeason"`
	Episode   int        `json:"seriesEpisode"`
	Credits   []rawCredit `json:"credits"`
}

type rawAsset struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Desc   string     `json:"desc"`
	Type   string     `json:"type"`
	Images []rawImage `json:"images"`
	Deals  []rawDeal  `json:"deals"`
	Params rawParams  `json:"params"`
}

// findImage returns the largest image of the given type (la=landscape,
// po=portrait, lv=live preview).
func findImage(images []rawImage, imageType string) string {
	for _, size := range []string{"lg", "md", "sm"} {
		for _, img := range images {
			if img.Type == imageType && img.Size == size {
				return img.URL
			}
		}
	}
	return ""
}

func parseDeals(raw []rawDeal) []models.Deal {
	if len(raw) == 0 {
		return nil
	}
	deals := make([]models.Deal, 0, len(raw))
	for _, d := range raw {
		deal := models.Deal{Offers: d.Offers}
		if start, err := time.Parse(time.RFC3339, d.Start); err == nil {
			deal.Start = &start
		}
		if end, err := time.Parse(time.RFC3339, d.End); err == nil {
			deal.End = &end
		}
		deals = append(deals, deal)
	}
	return deals
}

// available evaluates entitlement for an item. A nil offer map means the
// operation has no entitlement context, which leaves the item unfiltered.
func available(deals []rawDeal, offers map[string]bool, now time.Time) bool {
	if offers == nil {
		return true
	}
	return IsEntitled(parseDeals(deals), offers, now)
}

// parseChannel maps a bouquet or asset record onto a Channel.
func parseChannel(raw rawAsset, offers map[string]bool, now time.Time) models.Channel {
	return models.Channel{
		ID:        raw.ID,
		Title:     raw.Title,
		Icon:      findImage(raw.Images, "la"),
		Preview:   findImage(raw.Images, "lv"),
		Number:    raw.Params.LCN,
		Radio:     raw.Params.Radio,
		Now:       parseOptionalProgram(raw.Params.Now, offers, now),
		Next:      parseOptionalProgram(raw.Params.Next, offers, now),
		Available: available(raw.Deals, offers, now),
	}
}

func parseOptionalProgram(raw *rawAsset, offers map[string]bool, now time.Time) *models.Program {
	if raw == nil {
		return nil
	}
	p := parseProgram(*raw, offers, now)
	return &p
}

// parseProgram maps a guide or VOD record onto a Program. Start and End
// are normalized to UTC.
func parseProgram(raw rawAsset, offers map[string]bool, now time.Time) models.Program {
	p := models.Program{
		ID:          raw.ID,
		Title:       raw.Title,
		Description: raw.Desc,
		Cover:       findImage(raw.Images, "po"),
		Preview:     findImage(raw.Images, "la"),
		ChannelID:   raw.Params.ChannelID,
		Replay:      raw.Params.Replay,
		Restart:     raw.Params.Restart,
		Age:         raw.Params.Age,
		SeriesID:    raw.Params.SeriesID,
		Season:      raw.Params.Season,
		Episode:     raw.Params.Episode,
		Available:   available(raw.Deals, offers, now),
	}

	if start, err := time.Parse(time.RFC3339, raw.Params.Start); err == nil {
		p.Start = start.UTC()
	}
	if end, err := time.Parse(time.RFC3339, raw.Params.End); err == nil {
		p.End = end.UTC()
	}

	for _, f := range raw.Params.Formats {
		p.Formats = append(p.Formats, f.Title)
	}
	for _, g := range raw.Params.Genres {
		p.Genres = append(p.Genres, g.Title)
	}
	for _, c := range raw.Params.Credits {
		p.Credits = append(p.Credits, models.Credit{Role: c.Role, Person: c.Person, Character: c.Character})
	}

	return p
}

func parseSeries(raw rawAsset, offers map[string]bool, now time.Time) models.Series {
	return models.Series{
		ID:          raw.ID,
		Title:       raw.Title,
		Description: raw.Desc,
		Cover:       findImage(raw.Images, "po"),
		Available:   available(raw.Deals, offers, now),
	}
}

// parseAsset dispatches on the backend's type discriminator and produces
// the matching variant.
func parseAsset(raw rawAsset, offers map[string]bool, now time.Time) (models.Asset, error) {
	switch raw.Type {
	case assetTypeChannel:
		ch := parseChannel(raw, offers, now)
		return models.Asset{Kind: models.AssetChannel, Channel: &ch}, nil
	case assetTypeProgram:
		p := parseProgram(raw, offers, now)
		return models.Asset{Kind: models.AssetProgram, Program: &p}, nil
	case assetTypeVod:
		p := parseProgram(raw, offers, now)
		kind := models.AssetMovie
		if p.SeriesID != "" {
			kind = models.AssetEpisode
		}
		return models.Asset{Kind: kind, Program: &p}, nil
	case assetTypeVodSeries:
		sr := parseSeries(raw, offers, now)
		return models.Asset{Kind: models.AssetSeries, Series: &sr}, nil
	default:
		return models.Asset{}, fmt.Errorf("%w %q", ErrUnknownAssetType, raw.Type)
	}
}
