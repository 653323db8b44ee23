// Package upstream provides a client for the phishing analysis backend.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	urlPath  = "/analyze_url_v2"
	textPath = "/analyze_text"
)

// Client defines the analysis backend operations. Each call is a single
// attempt; failures surface immediately.
type Client interface {
	// AnalyzeURL submits a URL to the fused URL analyzers.
	AnalyzeURL(ctx context.Context, target string) (*URLAnalysis, error)
	// AnalyzeText submits a message body to the text classifier.
	AnalyzeText(ctx context.Context, text string) (*TextAnalysis, error)
}

// ModelOutput is one analyzer's payload. Analyzers disagree on field names
// and scales, so it stays an untyped tree.
type ModelOutput = map[string]any

// URLAnalysis is the /analyze_url_v2 response. Decoding is lenient: a field
// with the wrong JSON type is left at its zero value instead of failing the
// whole body.
type URLAnalysis struct {
	URL            string                 `json:"url"`
	FinalVerdict   bool                   `json:"final_verdict"`
	Confidence     any                    `json:"confidence"`
	Models         map[string]ModelOutput `json:"models,omitempty"`
	DetectedBrands []string               `json:"detected_brands,omitempty"`
	VisualReasons  []string               `json:"visual_reasons,omitempty"`
	ExtractedURLs  []string               `json:"extracted_urls,omitempty"`
	ModelVersion   string                 `json:"model_version,omitempty"`
	RequestID      string                 `json:"request_id,omitempty"`
	Timestamp      string                 `json:"timestamp,omitempty"`
	Agent          json.RawMessage        `json:"agent,omitempty"`
}

// TextAnalysis is the /analyze_text response. Decoding is lenient, as for
// URLAnalysis.
type TextAnalysis struct {
	IsPhishing    bool     `json:"is_phishing"`
	Confidence    any      `json:"confidence"`
	Reasons       []string `json:"reasons,omitempty"`
	ExtractedURLs []string `json:"extracted_urls,omitempty"`
	ModelVersion  string   `json:"model_version,omitempty"`
	RequestID     string   `json:"request_id,omitempty"`
	Timestamp     string   `json:"timestamp,omitempty"`
}

// ErrInvalidResponse is returned when a 2xx body is not a JSON object.
var ErrInvalidResponse = eris.New("upstream: invalid response body")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client rooted at baseURL. A trailing slash on
// baseURL is ignored.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) AnalyzeURL(ctx context.Context, target string) (*URLAnalysis, error) {
	var out URLAnalysis
	if err := c.postJSON(ctx, urlPath, map[string]string{"url": target}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) AnalyzeText(ctx context.Context, text string) (*TextAnalysis, error) {
	var out TextAnalysis
	if err := c.postJSON(ctx, textPath, map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "upstream: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "upstream: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "upstream: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "upstream: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrapf(ErrInvalidResponse, "unmarshal response: %v", err)
	}
	return nil
}

// errorMessage prefers a JSON detail or message field. Bodies that are not
// JSON are used as-is.
func errorMessage(status int, body []byte) string {
	var msg string
	var data map[string]any
	if err := json.Unmarshal(body, &data); err == nil {
		for _, key := range []string{"detail", "message"} {
			if msg = messageValue(data[key]); msg != "" {
				break
			}
		}
	} else {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		return fmt.Sprintf("Analysis API %d error.", status)
	}
	return msg
}

// messageValue renders FastAPI-style detail fields, which may be a string
// or a list of validation objects.
func messageValue(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(d)
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
