// Package proxy forwards console traffic to the analysis backend so the
// browser never talks to it cross-origin.
package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	unreachableMessage = "Upstream analysis service unreachable."
	rateLimitedMessage = "Too many requests."
)

// hopByHop headers describe a single connection and are never forwarded.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Option configures a Handler.
type Option func(*Handler)

// WithPrefix strips a mount prefix such as /api/proxy from incoming paths.
func WithPrefix(prefix string) Option {
	return func(h *Handler) {
		h.prefix = strings.TrimRight(prefix, "/")
	}
}

// WithHTTPClient sets the client used for forwarded requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(h *Handler) {
		h.client = hc
	}
}

// WithRateLimit caps forwarded requests with a token bucket. A non-positive
// rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *Handler) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Handler is a buffering pass-through proxy.
type Handler struct {
	base    string
	prefix  string
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a proxy to base. A trailing slash on base is ignored.
func New(base string, opts ...Option) *Handler {
	h := &Handler{
		base: strings.TrimRight(base, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Target maps an incoming request onto the backend URL.
func (h *Handler) Target(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, h.prefix)
	target := h.base + "/" + strings.TrimLeft(path, "/")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		writeMessage(w, http.StatusTooManyRequests, rateLimitedMessage)
		return
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body = r.Body
	}

	target := h.Target(r)
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		zap.L().Warn("proxy: build request", zap.String("target", target), zap.Error(err))
		writeMessage(w, http.StatusBadGateway, unreachableMessage)
		return
	}
	out.ContentLength = r.ContentLength
	if body == nil {
		out.ContentLength = 0
	}
	copyHeaders(out.Header, r.Header, func(k string) bool { return hopByHop[k] })

	resp, err := h.client.Do(out)
	if err != nil {
		zap.L().Warn("proxy request failed",
			zap.String("method", r.Method),
			zap.String("target", target),
			zap.Error(err),
		)
		writeMessage(w, http.StatusBadGateway, unreachableMessage)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		zap.L().Warn("proxy: read upstream body", zap.String("target", target), zap.Error(err))
		writeMessage(w, http.StatusBadGateway, unreachableMessage)
		return
	}

	copyHeaders(w.Header(), resp.Header, func(k string) bool { return k == "Content-Length" })
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		w.Write(buf) //nolint:errcheck
	}
}

func copyHeaders(dst, src http.Header, skip func(canonical string) bool) {
	for k, vv := range src {
		ck := http.CanonicalHeaderKey(k)
		if skip(ck) {
			continue
		}
		for _, v := range vv {
			dst.Add(ck, v)
		}
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg}) //nolint:errcheck
}
