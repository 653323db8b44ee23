package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/phish-cli/internal/analysis"
	"github.com/sells-group/phish-cli/internal/config"
	"github.com/sells-group/phish-cli/internal/model"
	"github.com/sells-group/phish-cli/internal/proxy"
	"github.com/sells-group/phish-cli/internal/resilience"
	"github.com/sells-group/phish-cli/pkg/radar"
)

const (
	maxRequestBytes = 10 << 20

	msgBadBody        = "invalid request body"
	msgUnsupported    = "Image ingress is not yet enabled."
	msgMisconfigured  = "Set PHISH_UPSTREAM_BASE_URL to connect to the live analysis service."
	msgAnalysisFailed = "Analysis failed."
	msgRadarToken     = "Set PHISH_RADAR_TOKEN to enable the live Radar globe."
	msgRadarOpen      = "Radar API temporarily unavailable."
	msgRadarFailed    = "Radar API request failed."
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis API for the console",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		if cfg.Upstream.Mode == config.ModeLive && cfg.Upstream.BaseURL == "" {
			zap.L().Warn("upstream.mode is live but no base URL is set; analysis requests will fail with 503")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildMux(ctx, newServerDeps(cfg)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// serverDeps holds everything the HTTP surface talks to. A nil radar client
// answers 503; a nil proxy is not mounted.
type serverDeps struct {
	analyzer    analyzer
	radar       radar.Client
	proxy       http.Handler
	proxyPrefix string
	corsOrigins []string
}

func newServerDeps(c *config.Config) serverDeps {
	deps := serverDeps{
		analyzer:    newAnalyzer(c),
		proxyPrefix: c.Proxy.Prefix,
		corsOrigins: c.Server.CORSOrigins,
	}
	if c.Radar.Token != "" {
		deps.radar = radar.NewClient(c.Radar.Token,
			radar.WithBaseURL(c.Radar.BaseURL),
			radar.WithDefaults(c.Radar.DateRange, c.Radar.Limit),
		)
	}
	if target := c.ProxyTarget(); target != "" {
		deps.proxy = proxy.New(target,
			proxy.WithPrefix(c.Proxy.Prefix),
			proxy.WithRateLimit(c.Proxy.RateLimit, c.Proxy.Burst),
		)
	}
	return deps
}

// buildMux wires the routes. Streams still open when ctx ends are cut short
// so shutdown does not wait on hijacked connections.
func buildMux(ctx context.Context, deps serverDeps) http.Handler {
	s := &server{ctx: ctx, deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/api/analyze", s.handleAnalyze)
	r.Get("/api/analyze/stream", s.handleAnalyzeStream)
	r.Get("/api/radar/attacks", s.handleRadar)

	if deps.proxy != nil {
		prefix := deps.proxyPrefix
		if prefix == "" {
			prefix = "/api/proxy"
		}
		r.Handle(prefix, deps.proxy)
		r.Handle(prefix+"/*", deps.proxy)
	}

	return r
}

type server struct {
	ctx  context.Context
	deps serverDeps
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	mode := "mock"
	if s.deps.analyzer != nil && s.deps.analyzer.Live() {
		mode = "live"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": mode})
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalysisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, msgBadBody)
		return
	}

	resp, err := s.deps.analyzer.Analyze(r.Context(), req)
	if err != nil {
		status, msg := analysisStatus(err)
		if status >= http.StatusInternalServerError {
			zap.L().Warn("analyze request failed",
				zap.String("mode", string(req.Mode)),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
		writeMessage(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRadar(w http.ResponseWriter, r *http.Request) {
	q := radar.Query{DateRange: r.URL.Query().Get("dateRange")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	if s.deps.radar == nil {
		writeMessage(w, http.StatusServiceUnavailable, msgRadarToken)
		return
	}

	pairs, err := s.deps.radar.AttackPairs(r.Context(), q)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, pairs)
	case eris.Is(err, radar.ErrMissingToken):
		writeMessage(w, http.StatusServiceUnavailable, msgRadarToken)
	case eris.Is(err, resilience.ErrOpen):
		writeMessage(w, http.StatusServiceUnavailable, msgRadarOpen)
	default:
		zap.L().Warn("radar request failed", zap.Error(err))
		writeMessage(w, http.StatusBadGateway, msgRadarFailed)
	}
}

// analysisStatus maps an Assembler failure onto an HTTP status and a message
// the console can show as-is.
func analysisStatus(err error) (int, string) {
	var ve *analysis.ValidationError
	var ue *analysis.UpstreamError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case eris.Is(err, analysis.ErrUnsupportedMode):
		return http.StatusUnprocessableEntity, msgUnsupported
	case eris.Is(err, analysis.ErrMisconfigured):
		return http.StatusServiceUnavailable, msgMisconfigured
	case errors.As(err, &ue):
		return http.StatusBadGateway, ue.Message
	default:
		return http.StatusInternalServerError, msgAnalysisFailed
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
