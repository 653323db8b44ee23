// Package radar provides a client for Cloudflare Radar layer 7 attack data,
// used to feed the threat globe with origin/target attack pairs.
package radar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phish-cli/internal/normalize"
	"github.com/sells-group/phish-cli/internal/resilience"
)

const (
	defaultBaseURL   = "https://api.cloudflare.com/client/v4/radar/attacks/layer7/top/attacks"
	defaultDateRange = "30m"
	defaultLimit     = 12
	unknownName      = "Unknown"
)

// ErrMissingToken is returned when no API token is configured.
var ErrMissingToken = eris.New("radar: API token is not configured")

// Client fetches attack pairs.
type Client interface {
	AttackPairs(ctx context.Context, q Query) ([]AttackPair, error)
}

// Query narrows an AttackPairs call. Zero values use the client defaults.
type Query struct {
	DateRange string
	Limit     int
}

// Location is one end of an attack pair.
type Location struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// AttackPair is traffic from one origin country to one target country.
type AttackPair struct {
	ID        string   `json:"id"`
	Origin    Location `json:"origin"`
	Target    Location `json:"target"`
	Magnitude float64  `json:"magnitude"`
}

// APIError is a non-2xx answer from Radar.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Radar API %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus lets the circuit breaker tell client errors from outages.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithDefaults sets the date range and limit used when a Query leaves them
// empty.
func WithDefaults(dateRange string, limit int) Option {
	return func(c *httpClient) {
		if dateRange != "" {
			c.dateRange = dateRange
		}
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithBreaker replaces the circuit breaker guarding API calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	token     string
	baseURL   string
	dateRange string
	limit     int
	http      *http.Client
	breaker   *resilience.Breaker
}

// NewClient creates a Radar client. An empty token yields a client whose
// calls fail with ErrMissingToken.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:     strings.TrimSpace(token),
		baseURL:   defaultBaseURL,
		dateRange: defaultDateRange,
		limit:     defaultLimit,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(resilience.BreakerConfig{
			Name:      "radar",
			Threshold: 3,
			Cooldown:  time.Minute,
		})
	}
	return c
}

func (c *httpClient) AttackPairs(ctx context.Context, q Query) ([]AttackPair, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}
	if q.DateRange == "" {
		q.DateRange = c.dateRange
	}
	if q.Limit <= 0 {
		q.Limit = c.limit
	}
	return resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]AttackPair, error) {
		return c.fetch(ctx, q)
	})
}

func (c *httpClient) fetch(ctx context.Context, q Query) ([]AttackPair, error) {
	params := url.Values{}
	params.Set("dateRange", q.DateRange)
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("metric", "REQUESTS")
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "radar: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "radar: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "radar: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var payload struct {
		Result struct {
			Top0 []map[string]any `json:"top_0"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "radar: unmarshal response")
	}
	return parseRows(payload.Result.Top0), nil
}

// parseRows maps raw top_0 rows onto attack pairs. Radar has shipped several
// dimension layouts, so origin/target and their codes are looked up under a
// list of aliases. Rows missing either code are dropped.
func parseRows(rows []map[string]any) []AttackPair {
	pairs := make([]AttackPair, 0, len(rows))
	for idx, row := range rows {
		dims, _ := row["dimensions"].(map[string]any)
		origin := firstMap(dims, "origin", "source")
		target := firstMap(dims, "target", "destination")

		originCode := firstString(origin, "location", "location_alpha2", "alpha2", "code", "country", "value")
		targetCode := firstString(target, "location", "location_alpha2", "alpha2", "code", "country", "value")
		if originCode == "" || targetCode == "" {
			continue
		}

		id := fmt.Sprintf("%s-%s-%d", originCode, targetCode, idx)
		if v, ok := row["id"]; ok && v != nil {
			id = fmt.Sprint(v)
		}

		pairs = append(pairs, AttackPair{
			ID:        id,
			Origin:    Location{Code: strings.ToUpper(originCode), Name: locationName(origin)},
			Target:    Location{Code: strings.ToUpper(targetCode), Name: locationName(target)},
			Magnitude: magnitude(row),
		})
	}
	return pairs
}

func magnitude(row map[string]any) float64 {
	v := firstPresent(row, "value", "sum", "count")
	if v == nil {
		if metrics, ok := row["metrics"].(map[string]any); ok {
			v = metrics["requests"]
		}
	}
	n, ok := normalize.ToNumber(v)
	if !ok {
		return 0
	}
	return n
}

func locationName(dim map[string]any) string {
	if name := firstString(dim, "name", "location_name", "country", "location"); name != "" {
		return name
	}
	return unknownName
}

func firstMap(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
