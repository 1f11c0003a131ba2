// Package metadata provides a rate-limited client for the paper metadata
// provider (an S2-style graph API).
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/lattice/internal/httputil"
	"github.com/matsen/lattice/internal/paper"
)

const (
	// BaseURL is the default metadata API base URL.
	BaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// RateLimit is the default request budget in requests per second.
	// An API key raises this to KeyedRateLimit.
	RateLimit = 1.0

	// KeyedRateLimit is the per-second budget with an API key.
	KeyedRateLimit = 10.0

	// DefaultTokenWait bounds how long a call waits for a rate-limit
	// token before failing with ErrRateLimited.
	DefaultTokenWait = 2 * time.Minute

	// DefaultPaperFields are the fields requested for paper lookups.
	DefaultPaperFields = "title,abstract,authors,venue,publicationDate,year,citationCount,externalIds,fieldsOfStudy,tldr"

	// DefaultPageSize is the page size for citation and reference listings.
	DefaultPageSize = 100
)

// Client is a rate-limited HTTP client for the metadata provider.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    httputil.BackoffConfig
	counters   *httputil.RetryCounters
	apiKey     string
	baseURL    string
	tokenWait  time.Duration
	pageSize   int
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the API key and raises the rate budget accordingly.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
		if key != "" {
			c.limiter = rate.NewLimiter(rate.Limit(KeyedRateLimit), 1)
		}
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRate overrides the token-bucket fill rate in requests per second.
func WithRate(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithBackoff overrides the retry policy.
func WithBackoff(b httputil.BackoffConfig) Option {
	return func(c *Client) { c.backoff = b }
}

// WithRetryCounters attaches a counter set for retry observability.
func WithRetryCounters(rc *httputil.RetryCounters) Option {
	return func(c *Client) { c.counters = rc }
}

// WithTokenWait bounds the rate-limit token wait.
func WithTokenWait(d time.Duration) Option {
	return func(c *Client) { c.tokenWait = d }
}

// WithPageSize sets the page size for edge listings.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a metadata client. The METADATA_API_KEY environment
// variable supplies the key when no option does.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(RateLimit), 1),
		backoff:    httputil.DefaultBackoff,
		baseURL:    BaseURL,
		tokenWait:  DefaultTokenWait,
		pageSize:   DefaultPageSize,
	}
	if key := os.Getenv("METADATA_API_KEY"); key != "" {
		WithAPIKey(key)(c)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs one rate-limited, retried GET and decodes the body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			var retryAfter time.Duration
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) {
				retryAfter = apiErr.retryAfter
			}
			if err := httputil.Sleep(ctx, c.backoff.Delay(attempt-1, retryAfter)); err != nil {
				return err
			}
		}

		lastErr = c.getOnce(ctx, path, query, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		kind := "network"
		if IsRateLimited(lastErr) {
			kind = "rate_limited"
		} else if errors.Is(lastErr, ErrUnavailable) {
			kind = "unavailable"
		}
		c.counters.Inc("metadata", kind)
	}
	return fmt.Errorf("%w: %w", httputil.ErrRetriesExhausted, lastErr)
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values, out any) error {
	// Bounded wait for a token; a timeout here is a rate-limit failure,
	// not a cancellation.
	waitCtx, cancel := context.WithTimeout(ctx, c.tokenWait)
	err := c.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRateLimited
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return ErrInvalidID
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{StatusCode: 429, Message: "rate limited", retryAfter: httputil.RetryAfter(resp)}
	case resp.StatusCode >= 500:
		return &APIError{StatusCode: resp.StatusCode, Message: "server error"}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// GetPaper fetches the metadata record for a paper.
func (c *Client) GetPaper(ctx context.Context, id string) (*paper.Paper, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	var rec paperRecord
	q := url.Values{"fields": {DefaultPaperFields}}
	if err := c.get(ctx, "/paper/"+url.PathEscape(providerID(id)), q, &rec); err != nil {
		return nil, err
	}
	if rec.PaperID == "" && rec.Title == "" {
		return nil, ErrNotFound
	}
	p := recordToPaper(id, &rec)
	return p, nil
}

// GetCitations fetches one page of papers that cite the given paper.
// cursor is the opaque cursor from a previous page, or "" for the first.
func (c *Client) GetCitations(ctx context.Context, id, cursor string) (*Page, error) {
	return c.links(ctx, id, cursor, "citations")
}

// GetReferences fetches one page of papers the given paper cites.
func (c *Client) GetReferences(ctx context.Context, id, cursor string) (*Page, error) {
	return c.links(ctx, id, cursor, "references")
}

func (c *Client) links(ctx context.Context, id, cursor, kind string) (*Page, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	q := url.Values{
		"fields": {"externalIds,contexts"},
		"limit":  {strconv.Itoa(c.pageSize)},
	}
	if cursor != "" {
		off, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: bad cursor %q", ErrInvalidID, cursor)
		}
		q.Set("offset", strconv.Itoa(off))
	}

	var pg linkPage
	if err := c.get(ctx, "/paper/"+url.PathEscape(providerID(id))+"/"+kind, q, &pg); err != nil {
		return nil, err
	}

	out := &Page{}
	for _, l := range pg.Data {
		rec := l.CitedPaper
		if kind == "citations" {
			rec = l.CitingPaper
		}
		if rec == nil {
			continue
		}
		nid := localID(rec)
		if nid == "" {
			continue
		}
		n := Neighbor{ID: nid}
		if len(l.Contexts) > 0 {
			n.Context = l.Contexts[0]
		}
		out.Neighbors = append(out.Neighbors, n)
	}
	if pg.Next != nil {
		out.NextCursor = strconv.Itoa(*pg.Next)
	}
	return out, nil
}

// providerID maps a local arXiv-style ID onto the provider's composite
// identifier form. IDs that already carry a scheme pass through.
func providerID(id string) string {
	if strings.Contains(id, ":") {
		return id
	}
	if looksArxiv(id) {
		return "ARXIV:" + id
	}
	return id
}

// looksArxiv reports whether the ID has the modern arXiv NNNN.NNNNN shape.
func looksArxiv(id string) bool {
	dot := strings.IndexByte(id, '.')
	if dot != 4 || len(id) < 9 {
		return false
	}
	for i, r := range id {
		if i == dot {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// localID extracts the knowledge-base identifier for a provider record:
// the arXiv ID when present, else the provider's own paper ID.
func localID(rec *paperRecord) string {
	if rec.ExternalIDs.ArXiv != "" {
		return strings.TrimPrefix(rec.ExternalIDs.ArXiv, "arXiv:")
	}
	return rec.PaperID
}

// recordToPaper converts a provider record into the domain Paper,
// preserving the caller's identifier.
func recordToPaper(id string, rec *paperRecord) *paper.Paper {
	p := &paper.Paper{
		ID:            id,
		Title:         rec.Title,
		Abstract:      rec.Abstract,
		Venue:         rec.Venue,
		DOI:           rec.ExternalIDs.DOI,
		PublishedDate: rec.PublicationDate,
		CitationCount: rec.CitationCount,
		Categories:    rec.FieldsOfStudy,
	}
	if p.PublishedDate == "" && rec.Year > 0 {
		p.PublishedDate = strconv.Itoa(rec.Year)
	}
	for _, a := range rec.Authors {
		if a.Name != "" {
			p.Authors = append(p.Authors, a.Name)
		}
	}
	if rec.TLDR != nil {
		p.TLDR = rec.TLDR.Text
	}
	return p
}
