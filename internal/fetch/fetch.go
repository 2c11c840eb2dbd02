// Package fetch issues the endpoint requests. The upstream endpoints answer a
// bodyless POST from anything that presents browser-like headers and a JSON
// accept type; anything else gets an HTML interstitial, so failures include a
// short summary of whatever page came back instead of data.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"marketstats/internal/metrics"
)

// DefaultTimeout bounds each request. After it the endpoint is treated as
// failed and the run moves on.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failure body is read for diagnostics.
const maxErrorBody = 64 << 10

// DefaultHeaders returns the browser-like header set the endpoints expect.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Content-Type":     "application/json; charset=utf-8",
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"X-Requested-With": "XMLHttpRequest",
		"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	}
}

// StatusError reports a non-2xx response. Summary carries the title or first
// text of an HTML error page when the server sent one.
type StatusError struct {
	URL     string
	Status  int
	Summary string
}

func (e *StatusError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("fetch %s: status %d (%s)", e.URL, e.Status, e.Summary)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

// Client fetches endpoint payloads over HTTP.
type Client struct {
	http    *http.Client
	headers map[string]string
}

// Option mutates a Client during construction.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHeaders merges extra headers over the defaults. An empty value removes
// the header.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if v == "" {
				delete(c.headers, k)
				continue
			}
			c.headers[k] = v
		}
	}
}

// WithHTTPClient substitutes the underlying client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a Client with browser-like defaults.
func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: DefaultTimeout},
		headers: DefaultHeaders(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch POSTs to url with no body and returns the response bytes with any
// UTF byte-order mark stripped.
//
// Edge cases:
//   - Non-2xx responses return *StatusError; the body is drained (bounded)
//     so connections can be reused, and summarized when it is an HTML page.
//   - endpoint names the logical endpoint for metrics only; it does not
//     affect the request.
//
// Errors:
//   - Transport errors come back unwrapped from net/http.
//   - *StatusError for any non-2xx status.
func (c *Client) Fetch(ctx context.Context, endpoint, url string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordHTTP(endpoint, 0, err, time.Since(start), 0, 0)
		return nil, err
	}
	defer resp.Body.Close()
	reqDur := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		ferr := &StatusError{URL: url, Status: resp.StatusCode, Summary: summarizeHTML(body)}
		metrics.RecordHTTP(endpoint, resp.StatusCode, ferr, reqDur, time.Since(start), int64(len(body)))
		return nil, ferr
	}

	// The endpoints occasionally emit a UTF-8 BOM ahead of the JSON payload;
	// BOMOverride strips it (and transcodes the UTF-16 variants) before the
	// decoder sees the bytes.
	body, err := io.ReadAll(transform.NewReader(resp.Body, unicode.BOMOverride(transform.Nop)))
	respDur := time.Since(start)
	metrics.RecordHTTP(endpoint, resp.StatusCode, err, reqDur, respDur, int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", url, err)
	}
	return body, nil
}

// summarizeHTML extracts a one-line description from an HTML error page:
// the <title> if present, otherwise the first <h1>. Returns "" for bodies
// that do not look like HTML.
func summarizeHTML(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "<") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return ""
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}
