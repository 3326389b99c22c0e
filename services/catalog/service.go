package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"solstream/config"
	"solstream/internal/transport"
	"solstream/models"
	"solstream/services/session"
)

const (
	// The schedule endpoint caps the number of channels per query, so
	// guide requests are issued in chunks of this size.
	epgChunkSize = 40

	// Chunks are independent and merged with a plain map union, so they
	// can be fetched concurrently.
	epgMaxConcurrency = 4

	// The backend pages programs unless told otherwise; the official
	// client sends max int32 as well.
	maxProgramsPerChannel = 2147483647

	queryLimit = 1000
)

var (
	// ErrNotAvailableInOffer indicates the account is authenticated but
	// not entitled to this specific asset (HTTP 402 on a play request).
	ErrNotAvailableInOffer = errors.New("not available in your offer")

	// ErrUnavailable indicates the asset is no longer present (HTTP 404).
	ErrUnavailable = errors.New("asset unavailable")
)

// Service retrieves entitlement-filtered channel and program metadata and
// playback descriptors on top of an authenticated session.
type Service struct {
	tenant config.Tenant
	tp     *transport.Client
	auth   *session.Service
	now    func() time.Time
}

// NewService creates a catalog client for the given tenant.
func NewService(tenant config.Tenant, tp *transport.Client, auth *session.Service) *Service {
	return &Service{
		tenant: tenant,
		tp:     tp,
		auth:   auth,
		now:    time.Now,
	}
}

// SetClock overrides the wall clock used for entitlement windows and
// relative dates, so both are deterministic under test.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Channels fetches the bouquet and returns the channels the account is
// entitled to. With includeEPG, each channel is enriched with its current
// and next program through one batched guide query.
func (s *Service) Channels(ctx context.Context, includeEPG bool) ([]models.Channel, error) {
	ent, err := s.auth.Entitlements(ctx)
	if err != nil {
		return nil, err
	}
	offers := ent.OfferSet()
	now := s.now()

	body, err := s.get(ctx, "/bouquet", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch bouquet: %w", err)
	}

	var reply struct {
		Channels []struct {
			AssetInfo rawAsset `json:"assetInfo"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode bouquet: %w", err)
	}

	channels := make([]models.Channel, 0, len(reply.Channels))
	for _, entry := range reply.Channels {
		ch := parseChannel(entry.AssetInfo, offers, now)
		if !ch.Available {
			continue
		}
		channels = append(channels, ch)
	}

	if includeEPG && len(channels) > 0 {
		ids := make([]string, 0, len(channels))
		for _, ch := range channels {
			ids = append(ids, ch.ID)
		}

		guide, err := s.guideRange(ctx, ids, now, now.Add(3*time.Hour), offers, now)
		if err != nil {
			return nil, err
		}
		for i := range channels {
			now2next(&channels[i], guide[channels[i].ID], now)
		}
	}

	return channels, nil
}

// now2next assigns the first two programs that have not ended yet.
func now2next(ch *models.Channel, programs []models.Program, now time.Time) {
	sort.Slice(programs, func(i, j int) bool { return programs[i].Start.Before(programs[j].Start) })
	for i := range programs {
		if !programs[i].End.After(now) {
			continue
		}
		if ch.Now == nil {
			ch.Now = &programs[i]
			continue
		}
		ch.Next = &programs[i]
		break
	}
}

// Guide fetches the program guide for the given channels. from and to
// accept yesterday/today/tomorrow or explicit dates; an empty from means
// today and an empty to means one day after from.
func (s *Service) Guide(ctx context.Context, channelIDs []string, from, to string) (map[string][]models.Program, error) {
	ent, err := s.auth.Entitlements(ctx)
	if err != nil {
		return nil, err
	}

	start, err := s.ParseDate(from)
	if err != nil {
		return nil, err
	}
	var end time.Time
	if to == "" {
		end = start.Add(24 * time.Hour)
	} else {
		if end, err = s.ParseDate(to); err != nil {
			return nil, err
		}
	}

	return s.guideRange(ctx, channelIDs, start, end, ent.OfferSet(), s.now())
}

// guideRange issues chunked schedule queries and merges the results into
// one map keyed by channel id.
func (s *Service) guideRange(ctx context.Context, channelIDs []string, from, to time.Time, offers map[string]bool, now time.Time) (map[string][]models.Program, error) {
	p := pool.NewWithResults[map[string][]models.Program]().
		WithContext(ctx).
		WithMaxGoroutines(epgMaxConcurrency)

	for start := 0; start < len(channelIDs); start += epgChunkSize {
		chunk := channelIDs[start:min(start+epgChunkSize, len(channelIDs))]
		p.Go(func(ctx context.Context) (map[string][]models.Program, error) {
			return s.fetchSchedule(ctx, chunk, from, to, offers, now)
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	guide := make(map[string][]models.Program)
	for _, chunk := range results {
		for id, programs := range chunk {
			guide[id] = programs
		}
	}
	return guide, nil
}

func (s *Service) fetchSchedule(ctx context.Context, channelIDs []string, from, to time.Time, offers map[string]bool, now time.Time) (map[string][]models.Program, error) {
	params := url.Values{}
	params.Set("channels", strings.Join(channelIDs, ","))
	params.Set("from", scheduleTime(from))
	params.Set("until", scheduleTime(to))
	params.Set("maxProgramsPerChannel", strconv.Itoa(maxProgramsPerChannel))

	body, err := s.get(ctx, "/schedule", params)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}

	var reply struct {
		EPG map[string][]rawAsset `json:"epg"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}

	guide := make(map[string][]models.Program, len(reply.EPG))
	for id, entries := range reply.EPG {
		programs := make([]models.Program, 0, len(entries))
		for _, entry := range entries {
			programs = append(programs, parseProgram(entry, offers, now))
		}
		guide[id] = programs
	}
	return guide, nil
}

// Asset fetches a single asset and dispatches on its type discriminator.
// No entitlement context is requested here, so the result is unfiltered.
func (s *Service) Asset(ctx context.Context, id string) (models.Asset, error) {
	body, err := s.get(ctx, "/assets/"+url.PathEscape(id), nil)
	if err != nil {
		if transport.IsStatus(err, http.StatusNotFound) {
			return models.Asset{}, fmt.Errorf("asset %s: %w", id, ErrUnavailable)
		}
		return models.Asset{}, fmt.Errorf("fetch asset: %w", err)
	}

	var raw rawAsset
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.Asset{}, fmt.Errorf("decode asset: %w", err)
	}
	return parseAsset(raw, nil, s.now())
}

// Stream negotiates playback for an asset and returns its stream
// descriptor. A 402 surfaces as ErrNotAvailableInOffer so callers can
// present a "not in your package" outcome instead of a generic failure.
func (s *Service) Stream(ctx context.Context, assetID string) (models.StreamInfo, error) {
	payload := map[string]any{
		"player": map[string]any{
			"name":    "Bitmovin",
			"version": "8.22.0",
			"capabilities": map[string]any{
				"mediaTypes": []string{"DASH"},
				"drmSystems": []string{"Widevine"},
			},
			"drmSystems": []string{"Widevine"},
		},
	}

	body, err := s.post(ctx, "/assets/"+url.PathEscape(assetID)+"/play", payload)
	if err != nil {
		switch {
		case transport.IsStatus(err, http.StatusPaymentRequired):
			return models.StreamInfo{}, fmt.Errorf("asset %s: %w", assetID, ErrNotAvailableInOffer)
		case transport.IsStatus(err, http.StatusNotFound):
			return models.StreamInfo{}, fmt.Errorf("asset %s: %w", assetID, ErrUnavailable)
		}
		return models.StreamInfo{}, fmt.Errorf("negotiate stream: %w", err)
	}

	var reply struct {
		URL       string `json:"url"`
		MediaType string `json:"mediaType"`
		DRM       struct {
			System     string `json:"system"`
			LicenseURL string `json:"licenseUrl"`
			Cert       string `json:"cert"`
		} `json:"drm"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return models.StreamInfo{}, fmt.Errorf("decode stream: %w", err)
	}

	return models.StreamInfo{
		URL:            reply.URL,
		Protocol:       reply.MediaType,
		DRMSystem:      reply.DRM.System,
		DRMLicenseURL:  reply.DRM.LicenseURL,
		DRMCertificate: reply.DRM.Cert,
	}, nil
}

// Search queries the catalog and returns entitled results. Assets with a
// discriminator this client cannot parse are skipped rather than failing
// the whole listing.
func (s *Service) Search(ctx context.Context, query string) ([]models.Asset, error) {
	ent, err := s.auth.Entitlements(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("query", query)
	body, err := s.get(ctx, "/search", params)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return s.parseAssetList(body, ent.OfferSet())
}

// Replay lists the replay-eligible programs of a channel.
func (s *Service) Replay(ctx context.Context, channelID string) ([]models.Program, error) {
	assets, err := s.queryEntitled(ctx, "replay,station,"+channelID)
	if err != nil {
		return nil, err
	}
	return programsOf(assets), nil
}

// Series lists the episodes of a series.
func (s *Service) Series(ctx context.Context, seriesID string) ([]models.Program, error) {
	assets, err := s.queryEntitled(ctx, "series,"+seriesID)
	if err != nil {
		return nil, err
	}
	return programsOf(assets), nil
}

func (s *Service) queryEntitled(ctx context.Context, query string) ([]models.Asset, error) {
	ent, err := s.auth.Entitlements(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(queryLimit))
	body, err := s.get(ctx, "/assets", params)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}

	return s.parseAssetList(body, ent.OfferSet())
}

func programsOf(assets []models.Asset) []models.Program {
	programs := make([]models.Program, 0, len(assets))
	for _, a := range assets {
		if a.Program != nil {
			programs = append(programs, *a.Program)
		}
	}
	return programs
}

// parseAssetList decodes an asset listing, dropping items the account is
// not entitled to and items of unknown type.
func (s *Service) parseAssetList(body []byte, offers map[string]bool) ([]models.Asset, error) {
	var reply struct {
		Assets []rawAsset `json:"assets"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}

	now := s.now()
	assets := make([]models.Asset, 0, len(reply.Assets))
	for _, raw := range reply.Assets {
		asset, err := parseAsset(raw, offers, now)
		if err != nil {
			slog.Debug("skipping asset", "id", raw.ID, "type", raw.Type)
			continue
		}
		if !assetAvailable(asset) {
			continue
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func assetAvailable(a models.Asset) bool {
	switch {
	case a.Channel != nil:
		return a.Channel.Available
	case a.Program != nil:
		return a.Program.Available
	case a.Series != nil:
		return a.Series.Available
	}
	return false
}

// Catalogs lists the VOD catalogs grouped by content owner, with each
// owner's dark png icon as cover.
func (s *Service) Catalogs(ctx context.Context) ([]models.Catalog, error) {
	body, err := s.get(ctx, "/owners", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch owners: %w", err)
	}

	var owners struct {
		Owners []struct {
			ID    string `json:"id"`
			Icons []struct {
				URL    string `json:"url"`
				Format string `json:"format"`
				Bg     string `json:"bg"`
			} `json:"icons"`
		} `json:"owners"`
	}
	if err := json.Unmarshal(body, &owners); err != nil {
		return nil, fmt.Errorf("decode owners: %w", err)
	}

	covers := make(map[string]string, len(owners.Owners))
	for _, owner := range owners.Owners {
		for _, icon := range owner.Icons {
			if icon.Format == "png" && icon.Bg == "dark" {
				covers[owner.ID] = icon.URL
				break
			}
		}
	}

	params := url.Values{}
	params.Set("group", "owner,genre")
	params.Set("sort", "newest")
	body, err = s.get(ctx, "/collections/movies", params)
	if err != nil {
		return nil, fmt.Errorf("fetch collections: %w", err)
	}

	var reply struct {
		Collection []struct {
			Owner string `json:"owner"`
			Title string `json:"title"`
		} `json:"collection"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}

	catalogs := make([]models.Catalog, 0, len(reply.Collection))
	for _, c := range reply.Collection {
		catalogs = append(catalogs, models.Catalog{
			ID:    c.Owner,
			Title: c.Title,
			Cover: covers[c.Owner],
		})
	}
	return catalogs, nil
}

// Genres lists the VOD genres, optionally scoped to one catalog.
func (s *Service) Genres(ctx context.Context, catalog string) ([]models.Genre, error) {
	path := "/collections/movies"
	if catalog != "" {
		path = "/collections/videos,owner," + url.PathEscape(catalog)
	}

	params := url.Values{}
	params.Set("group", "genre")
	params.Set("sort", "newest")
	body, err := s.get(ctx, path, params)
	if err != nil {
		return nil, fmt.Errorf("fetch genres: %w", err)
	}

	var reply struct {
		Collection []struct {
			Title string `json:"title"`
			Query string `json:"query"`
		} `json:"collection"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode genres: %w", err)
	}

	genres := make([]models.Genre, 0, len(reply.Collection))
	for _, c := range reply.Collection {
		genres = append(genres, models.Genre{Title: c.Title, Query: c.Query})
	}
	return genres, nil
}

// Seasons lists the seasons of a VOD series asset.
func (s *Service) Seasons(ctx context.Context, assetID string) ([]models.Season, error) {
	params := url.Values{}
	params.Set("group", "default")
	params.Set("sort", "default")
	params.Set("asset", assetID)
	body, err := s.get(ctx, "/collections/episodes", params)
	if err != nil {
		return nil, fmt.Errorf("fetch seasons: %w", err)
	}

	var reply struct {
		Collection []struct {
			Title string `json:"title"`
			Query string `json:"query"`
		} `json:"collection"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode seasons: %w", err)
	}

	seasons := make([]models.Season, 0, len(reply.Collection))
	for _, c := range reply.Collection {
		seasons = append(seasons, models.Season{Title: c.Title, Query: c.Query})
	}
	return seasons, nil
}

// QueryAssets runs a backend collection query, as returned by Genres or
// Seasons, and parses the VOD results. The collection queries carry no
// entitlement context; items are unfiltered.
func (s *Service) QueryAssets(ctx context.Context, query string) ([]models.Asset, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(queryLimit))
	body, err := s.get(ctx, "/assets", params)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	return s.parseAssetList(body, nil)
}

// get performs an authenticated GET against the catalog API. When the
// backend rejects the bearer token mid-session, the session is refreshed
// and the call replayed once.
func (s *Service) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	sess, err := s.auth.EnsureSession(ctx, false)
	if err != nil {
		return nil, err
	}

	body, err := s.tp.Get(ctx, session.APIBase+path, params, transport.Auth{Bearer: sess.Token})
	if errors.Is(err, transport.ErrInvalidToken) {
		if sess, err = s.auth.EnsureSession(ctx, true); err != nil {
			return nil, err
		}
		body, err = s.tp.Get(ctx, session.APIBase+path, params, transport.Auth{Bearer: sess.Token})
	}
	return body, err
}

func (s *Service) post(ctx context.Context, path string, payload any) ([]byte, error) {
	sess, err := s.auth.EnsureSession(ctx, false)
	if err != nil {
		return nil, err
	}

	body, err := s.tp.Post(ctx, session.APIBase+path, payload, transport.Auth{Bearer: sess.Token})
	if errors.Is(err, transport.ErrInvalidToken) {
		if sess, err = s.auth.EnsureSession(ctx, true); err != nil {
			return nil, err
		}
		body, err = s.tp.Post(ctx, session.APIBase+path, payload, transport.Auth{Bearer: sess.Token})
	}
	return body, err
}
