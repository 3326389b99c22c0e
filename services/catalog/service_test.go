package catalog

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"solstream/config"
	"solstream/internal/transport"
	"solstream/models"
	"solstream/services/session"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func testJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]any{"exp": exp.Unix()})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(claims) + ".c2ln"
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestCatalog builds a catalog service on top of a session that already
// holds a valid bearer token, so tests exercise catalog calls without the
// login protocol.
func newTestCatalog(t *testing.T, rt roundTripFunc) (*Service, string) {
	t.Helper()
	bearer := testJWT(t, testNow.Add(4*time.Hour))

	store := session.NewFileStore(afero.NewMemMapFs(), "state/account.json")
	seed, _ := json.Marshal(models.AccountState{DeviceSerial: "serial-1", BearerToken: bearer})
	if err := store.Save(seed); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	tenant := config.Tenant{
		Code:     "tvv",
		Domain:   "livetv.example.com",
		Env:      "m7be2iphone",
		App:      "tvv",
		Timezone: "Europe/Brussels",
	}
	tp := transport.New(&http.Client{Transport: rt})
	auth, err := session.NewService(tenant, tp, store, "", "", "TestBox")
	if err != nil {
		t.Fatalf("session.NewService failed: %v", err)
	}
	auth.SetClock(func() time.Time { return testNow })

	svc := NewService(tenant, tp, auth)
	svc.SetClock(func() time.Time { return testNow })
	return svc, bearer
}

func entitlementsBody(offers ...string) string {
	parts := make([]string, 0, len(offers))
	for _, o := range offers {
		parts = append(parts, fmt.Sprintf(`{"id":%q}`, o))
	}
	return `{"products":[],"offers":[` + strings.Join(parts, ",") + `],"assets":[]}`
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func TestGuideChunksRequests(t *testing.T) {
	var (
		mu            sync.Mutex
		scheduleCalls int
	)

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/entitlements":
			return jsonResponse(http.StatusOK, entitlementsBody("o1")), nil
		case "/v1/schedule":
			ids := strings.Split(req.URL.Query().Get("channels"), ",")
			if len(ids) > epgChunkSize {
				t.Errorf("chunk exceeds limit: %d channels", len(ids))
			}
			if req.URL.Query().Get("maxProgramsPerChannel") == "" {
				t.Errorf("expected maxProgramsPerChannel parameter")
			}
			mu.Lock()
			scheduleCalls++
			mu.Unlock()

			epg := make(map[string][]map[string]any, len(ids))
			for _, id := range ids {
				epg[id] = []map[string]any{{
					"id":    "p-" + id,
					"title": "Program " + id,
					"type":  "EPG",
					"params": map[string]any{
						"start":     rfc3339(testNow.Add(-time.Hour)),
						"end":       rfc3339(testNow.Add(time.Hour)),
						"channelId": id,
					},
				}}
			}
			body, _ := json.Marshal(map[string]any{"epg": epg})
			return jsonResponse(http.StatusOK, string(body)), nil
		default:
			t.Errorf("unexpected request: %s", req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	svc, _ := newTestCatalog(t, rt)

	ids := make([]string, 85)
	for i := range ids {
		ids[i] = fmt.Sprintf("ch%d", i)
	}

	guide, err := svc.Guide(context.Background(), ids, "today", "")
	if err != nil {
		t.Fatalf("Guide failed: %v", err)
	}

	mu.Lock()
	calls := scheduleCalls
	mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 85 channels in 3 chunks, got %d calls", calls)
	}
	if len(guide) != 85 {
		t.Fatalf("expected all channels in merged guide, got %d", len(guide))
	}
	if got := guide["ch42"]; len(got) != 1 || got[0].ID != "p-ch42" {
		t.Fatalf("unexpected programs for ch42: %+v", got)
	}
}

func TestChannelsFiltersUnentitled(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/entitlements":
			return jsonResponse(http.StatusOK, entitlementsBody("o1")), nil
		case "/v1/bouquet":
			return jsonResponse(http.StatusOK, `{"channels":[
				{"assetInfo":{"id":"ch1","title":"One","type":"Channel","deals":[{"offers":["o1"]}],"params":{"lcn":1}}},
				{"assetInfo":{"id":"ch2","title":"Two","type":"Channel","deals":[{"offers":["o2"]}],"params":{"lcn":2}}}
			]}`), nil
		default:
			t.Errorf("unexpected request: %s", req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	svc, _ := newTestCatalog(t, rt)
	channels, err := svc.Channels(context.Background(), false)
	if err != nil {
		t.Fatalf("Channels failed: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected only the entitled channel, got %d", len(channels))
	}
	if channels[0].ID != "ch1" || channels[0].Number != 1 {
		t.Fatalf("unexpected channel: %+v", channels[0])
	}
}

func TestChannelsWithNowNext(t *testing.T) {
	program := func(id string, start, end time.Time) map[string]any {
		return map[string]any{
			"id":    id,
			"title": id,
			"type":  "EPG",
			"params": map[string]any{
				"start":     rfc3339(start),
				"end":       rfc3339(end),
				"channelId": "ch1",
			},
		}
	}

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/entitlements":
			return jsonResponse(http.StatusOK, entitlementsBody("o1")), nil
		case "/v1/bouquet":
			return jsonResponse(http.StatusOK, `{"channels":[
				{"assetInfo":{"id":"ch1","title":"One","type":"Channel","deals":[{"offers":["o1"]}],"params":{"lcn":1}}}
			]}`), nil
		case "/v1/schedule":
			body, _ := json.Marshal(map[string]any{"epg": map[string]any{
				"ch1": []map[string]any{
					program("ended", testNow.Add(-2*time.Hour), testNow.Add(-time.Hour)),
					program("current", testNow.Add(-time.Hour), testNow.Add(time.Hour)),
					program("upcoming", testNow.Add(time.Hour), testNow.Add(2*time.Hour)),
				},
			}})
			return jsonResponse(http.StatusOK, string(body)), nil
		default:
			t.Errorf("unexpected request: %s", req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	svc, _ := newTestCatalog(t, rt)
	channels, err := svc.Channels(context.Background(), true)
	if err != nil {
		t.Fatalf("Channels failed: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected one channel, got %d", len(channels))
	}
	ch := channels[0]
	if ch.Now == nil || ch.Now.ID != "current" {
		t.Fatalf("unexpected now program: %+v", ch.Now)
	}
	if ch.Next == nil || ch.Next.ID != "upcoming" {
		t.Fatalf("unexpected next program: %+v", ch.Next)
	}
}

func TestAssetDispatch(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/assets/ep1":
			return jsonResponse(http.StatusOK, `{
				"id":"ep1","title":"Pilot","type":"VOD",
				"params":{"seriesId":"sr1","seriesSeason":1,"seriesEpisode":3}
			}`), nil
		case "/v1/assets/mov1":
			return jsonResponse(http.StatusOK, `{"id":"mov1","title":"Feature","type":"VOD","params":{}}`), nil
		case "/v1/assets/odd1":
			return jsonResponse(http.StatusOK, `{"id":"odd1","title":"???","type":"Banner","params":{}}`), nil
		default:
			t.Errorf("unexpected request: %s", req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	svc, _ := newTestCatalog(t, rt)

	episode, err := svc.Asset(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("Asset(ep1) failed: %v", err)
	}
	if episode.Kind != models.AssetEpisode {
		t.Fatalf("expected episode, got %v", episode.Kind)
	}
	if episode.Program == nil || episode.Program.Season != 1 || episode.Program.Episode != 3 {
		t.Fatalf("unexpected episode payload: %+v", episode.Program)
	}

	movie, err := svc.Asset(context.Background(), "mov1")
	if err != nil {
		t.Fatalf("Asset(mov1) failed: %v", err)
	}
	if movie.Kind != models.AssetMovie {
		t.Fatalf("expected movie, got %v", movie.Kind)
	}

	if _, err := svc.Asset(context.Background(), "odd1"); !errors.Is(err, ErrUnknownAssetType) {
		t.Fatalf("expected ErrUnknownAssetType, got %v", err)
	}
}

func TestStream(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/assets/ch1/play" || req.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", req.Method, req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
		var payload struct {
			Player struct {
				Name string `json:"name"`
			} `json:"player"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Errorf("decode play payload: %v", err)
		}
		if payload.Player.Name != "Bitmovin" {
			t.Errorf("unexpected player payload: %+v", payload)
		}
		return jsonResponse(http.StatusOK, `{
			"url":"https://cdn.example.com/manifest.mpd",
			"mediaType":"DASH",
			"drm":{"system":"Widevine","licenseUrl":"https://lic.example.com","cert":"Y2VydA"}
		}`), nil
	})

	svc, _ := newTestCatalog(t, rt)
	stream, err := svc.Stream(context.Background(), "ch1")
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if stream.URL != "https://cdn.example.com/manifest.mpd" || stream.Protocol != "DASH" {
		t.Fatalf("unexpected stream: %+v", stream)
	}
	if stream.DRMSystem != "Widevine" || stream.DRMLicenseURL != "https://lic.example.com" {
		t.Fatalf("unexpected DRM data: %+v", stream)
	}
}

func TestStreamNotInOffer(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusPaymentRequired, `not purchased`), nil
	})

	svc, bearer := newTestCatalog(t, rt)
	_, err := svc.Stream(context.Background(), "ch1")
	if !errors.Is(err, ErrNotAvailableInOffer) {
		t.Fatalf("expected ErrNotAvailableInOffer, got %v", err)
	}

	// A 402 is a business outcome, not a session problem.
	if got := svc.auth.Account().BearerToken; got != bearer {
		t.Fatalf("session state must be untouched after 402, token changed")
	}
}

func TestStreamUnavailable(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `gone`), nil
	})

	svc, _ := newTestCatalog(t, rt)
	_, err := svc.Stream(context.Background(), "ch1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRejectedTokenTriggersReloginAndReplay(t *testing.T) {
	freshBearer := testJWT(t, testNow.Add(8*time.Hour))

	var (
		mu         sync.Mutex
		assetCalls int
		lastAuth   string
	)
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/assets/mov1":
			mu.Lock()
			assetCalls++
			calls := assetCalls
			lastAuth = req.Header.Get("Authorization")
			mu.Unlock()
			if calls == 1 {
				return jsonResponse(http.StatusUnauthorized, `token revoked`), nil
			}
			return jsonResponse(http.StatusOK, `{"id":"mov1","title":"Feature","type":"VOD","params":{}}`), nil
		case "/m7be2iphone/challenge.aspx":
			return jsonResponse(http.StatusOK, `{"id":"c1","secret":"s1"}`), nil
		case "/m7be2iphone/login.aspx":
			resp := jsonResponse(http.StatusFound, ``)
			resp.Header.Add("Set-Cookie", ".ASPXAUTH=cookie123; path=/")
			return resp, nil
		case "/m7be2iphone/capi.aspx":
			return jsonResponse(http.StatusOK, `{"ssotoken":"sso1"}`), nil
		case "/v1/session":
			return jsonResponse(http.StatusOK, `{"token":"`+freshBearer+`"}`), nil
		default:
			t.Errorf("unexpected request: %s", req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	svc, _ := newTestCatalog(t, rt)
	asset, err := svc.Asset(context.Background(), "mov1")
	if err != nil {
		t.Fatalf("Asset failed: %v", err)
	}
	if asset.Kind != models.AssetMovie {
		t.Fatalf("unexpected asset: %+v", asset)
	}

	mu.Lock()
	defer mu.Unlock()
	if assetCalls != 2 {
		t.Fatalf("expected the call to be replayed once, got %d attempts", assetCalls)
	}
	if lastAuth != "Bearer "+freshBearer {
		t.Fatalf("replay must use the refreshed token, got %q", lastAuth)
	}
}

func TestSearchSkipsUnknownTypes(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/entitlements":
			return jsonResponse(http.StatusOK, entitlementsBody("o1")), nil
		case "/v1/search":
			if got := req.URL.Query().Get("query"); got != "news" {
				t.Errorf("unexpected search query: %q", got)
			}
			return jsonResponse(http.StatusOK, `{"assets":[
				{"id":"p1","title":"Evening News","type":"EPG","deals":[{"offers":["o1"]}],"params":{}},
				{"id":"x1","title":"Promo","type":"Banner","deals":[{"offers":["o1"]}],"params":{}},
				{"id":"p2","title":"Other News","type":"EPG","deals":[{"offers":["o9"]}],"params":{}}
			]}`), nil
		default:
			t.Errorf("unexpected request: %s", req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	svc, _ := newTestCatalog(t, rt)
	assets, err := svc.Search(context.Background(), "news")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected one parsable entitled result, got %d", len(assets))
	}
	if assets[0].Program == nil || assets[0].Program.ID != "p1" {
		t.Fatalf("unexpected result: %+v", assets[0])
	}
}

func TestReplayReturnsPrograms(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v1/entitlements":
			return jsonResponse(http.StatusOK, entitlementsBody("o1")), nil
		case "/v1/assets":
			if got := req.URL.Query().Get("query"); got != "replay,station,ch1" {
				t.Errorf("unexpected query: %q", got)
			}
			return jsonResponse(http.StatusOK, `{"assets":[
				{"id":"p1","title":"Rerun","type":"EPG","deals":[{"offers":["o1"]}],"params":{"replay":true,"channelId":"ch1"}}
			]}`), nil
		default:
			t.Errorf("unexpected request: %s", req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
	})

	svc, _ := newTestCatalog(t, rt)
	programs, err := svc.Replay(context.Background(), "ch1")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(programs) != 1 || programs[0].ID != "p1" || !programs[0].Replay {
		t.Fatalf("unexpected programs: %+v", programs)
	}
}

func TestGenresScopedToCatalog(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if !strings.HasPrefix(req.URL.Path, "/v1/collections/videos,owner,own1") {
			t.Errorf("unexpected request: %s", req.URL)
			return jsonResponse(http.StatusNotFound, ``), nil
		}
		return jsonResponse(http.StatusOK, `{"collection":[
			{"title":"Drama","query":"videos,genre,drama"},
			{"title":"Comedy","query":"videos,genre,comedy"}
		]}`), nil
	})

	svc, _ := newTestCatalog(t, rt)
	genres, err := svc.Genres(context.Background(), "own1")
	if err != nil {
		t.Fatalf("Genres failed: %v", err)
	}
	if len(genres) != 2 || genres[0].Title != "Drama" || genres[1].Query != "videos,genre,comedy" {
		t.Fatalf("unexpected genres: %+v", genres)
	}
}
