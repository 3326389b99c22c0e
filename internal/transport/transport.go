package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
)

const (
	defaultTimeout = 30 * time.Second

	// The backend serves different (broken) payloads to unknown clients, so
	// we identify as a desktop browser like the web player does.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/71.0.3578.98 Safari/537.36"

	cookieName  = ".ASPXAUTH"
	maxErrBody  = 2048
	getAttempts = 3
)

// Auth selects how a request authenticates. Zero value means no auth.
type Auth struct {
	Bearer string
	Cookie string
}

// Client is a reusable HTTP client wrapper. It is constructed once per
// process and passed explicitly to the services that need it.
type Client struct {
	httpc *http.Client
	// bare never follows redirects, so callers can inspect the first hop
	// of a redirect chain.
	bare *http.Client
}

// New creates a transport around the given http.Client. A nil client gets
// a default with a request timeout; tests inject a client with a fake
// RoundTripper.
func New(httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	bare := *httpc
	bare.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{httpc: httpc, bare: &bare}
}

// Get performs an authenticated GET and returns the response body.
// Transient failures (429, 5xx, network errors) are retried with capped
// exponential backoff.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, auth Auth) ([]byte, error) {
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL = rawURL + sep + params.Encode()
	}

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return err
			}
			b, err := c.do(req, auth)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(getAttempts),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code == http.StatusTooManyRequests || se.Code >= 500
			}
			return !errors.Is(err, context.Canceled)
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Post performs an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, rawURL string, payload any, auth Auth) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, auth)
}

// PostForm performs a POST with URL-encoded form values, following
// redirects, and returns the final response body together with the URL the
// chain ended on.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*url.URL, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, nil, statusError(resp.StatusCode, body)
	}
	return resp.Request.URL, body, nil
}

// PostFormNoRedirect posts a form and returns the first response of a
// redirect chain without following it. The caller reads cookies and status
// off that first hop; the body has already been consumed and closed.
func (c *Client) PostFormNoRedirect(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.bare.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, body)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (c *Client) do(req *http.Request, auth Auth) ([]byte, error) {
	req.Header.Set("User-Agent", userAgent)
	if auth.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Bearer)
	}
	if auth.Cookie != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: auth.Cookie})
	}

	slog.Debug("sending request", "method", req.Method, "url", req.URL.Redacted())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

func statusError(code int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrBody {
		text = text[:maxErrBody]
	}
	return &StatusError{Code: code, Body: text}
}
