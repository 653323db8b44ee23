package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeURL_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze_url_v2", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "http://good.com", body["url"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"url": "http://good.com",
			"final_verdict": false,
			"confidence": "12",
			"models": {"otx": {"label": "benign", "nested": {"p": 0.1}}},
			"extracted_urls": ["http://good.com/a"],
			"agent": {"planner": "p"}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/")
	got, err := client.AnalyzeURL(context.Background(), "http://good.com")

	require.NoError(t, err)
	assert.False(t, got.FinalVerdict)
	assert.Equal(t, "12", got.Confidence)
	assert.Equal(t, "benign", got.Models["otx"]["label"])
	assert.Equal(t, []string{"http://good.com/a"}, got.ExtractedURLs)
	assert.JSONEq(t, `{"planner": "p"}`, string(got.Agent))
}

func TestAnalyzeText_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze_text", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "click here now", body["text"])

		w.Write([]byte(`{"is_phishing": true, "confidence": 92, "reasons": ["urgency"]}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL).AnalyzeText(context.Background(), "click here now")

	require.NoError(t, err)
	assert.True(t, got.IsPhishing)
	assert.Equal(t, float64(92), got.Confidence)
	assert.Equal(t, []string{"urgency"}, got.Reasons)
}

func TestAnalyze_ErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail field", http.StatusUnprocessableEntity, `{"detail": "url is malformed"}`, "url is malformed"},
		{"message field", http.StatusInternalServerError, `{"message": "model offline"}`, "model offline"},
		{"detail beats message", http.StatusBadRequest, `{"detail": "a", "message": "b"}`, "a"},
		{"structured detail", http.StatusUnprocessableEntity, `{"detail": [{"msg": "field required"}]}`, `[{"msg":"field required"}]`},
		{"raw text", http.StatusBadGateway, "gateway down", "gateway down"},
		{"json without message", http.StatusServiceUnavailable, `{"error": "x"}`, "Analysis API 503 error."},
		{"empty body", http.StatusInternalServerError, "", "Analysis API 500 error."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).AnalyzeText(context.Background(), "x")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.want, apiErr.Message)
		})
	}
}

func TestAnalyze_SingleAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).AnalyzeURL(context.Background(), "https://x.test")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnalyze_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).AnalyzeURL(context.Background(), "https://x.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
	assert.True(t, eris.Is(err, ErrInvalidResponse))
}

func TestAnalyze_NonObjectBodyIsInvalid(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["not", "an", "object"]`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).AnalyzeText(context.Background(), "x")
	assert.True(t, eris.Is(err, ErrInvalidResponse))
}

func TestAnalyzeURL_WrongTypesFallBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"url": 7,
			"final_verdict": 1,
			"confidence": {"odd": true},
			"models": {"otx": "malicious", "graph": {"score": 0.4}, "hf": null},
			"detected_brands": ["Okta", 3, " "],
			"visual_reasons": "login form",
			"extracted_urls": {"a": 1},
			"model_version": 2,
			"request_id": false,
			"timestamp": ["now"]
		}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL).AnalyzeURL(context.Background(), "http://good.com")
	require.NoError(t, err)

	assert.Empty(t, got.URL)
	assert.False(t, got.FinalVerdict)
	assert.Equal(t, map[string]any{"odd": true}, got.Confidence)
	assert.Equal(t, map[string]ModelOutput{"graph": {"score": 0.4}}, got.Models)
	assert.Equal(t, []string{"Okta"}, got.DetectedBrands)
	assert.Equal(t, []string{"login form"}, got.VisualReasons)
	assert.Nil(t, got.ExtractedURLs)
	assert.Empty(t, got.ModelVersion)
	assert.Empty(t, got.RequestID)
	assert.Empty(t, got.Timestamp)
}

func TestAnalyzeText_WrongTypesFallBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"is_phishing": "yes", "confidence": 0.3, "reasons": [1, "urgency"], "model_version": null}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL).AnalyzeText(context.Background(), "x")
	require.NoError(t, err)

	assert.False(t, got.IsPhishing)
	assert.Equal(t, 0.3, got.Confidence)
	assert.Equal(t, []string{"urgency"}, got.Reasons)
	assert.Empty(t, got.ModelVersion)
}

func TestAnalyze_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	_, err := NewClient(base, WithTimeout(2*time.Second)).AnalyzeURL(context.Background(), "https://x.test")
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "request failed")
}

func TestAnalyze_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL).AnalyzeText(ctx, "x")
	require.Error(t, err)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	hc := &http.Client{Timeout: time.Second}
	c := NewClient("http://x", WithHTTPClient(hc)).(*httpClient)
	assert.Same(t, hc, c.http)
	assert.Equal(t, "http://x", c.baseURL)
}
