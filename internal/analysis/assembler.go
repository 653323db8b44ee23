// Package analysis turns console requests into canonical AnalyzeResponse
// values, either from the live backend or from the Simulator.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/phish-cli/internal/model"
	"github.com/sells-group/phish-cli/internal/normalize"
	"github.com/sells-group/phish-cli/pkg/upstream"
)

const (
	defaultURLModelVersion  = "url_service_v2"
	defaultTextModelVersion = "text_service_v2"

	consensusSource = "consensus"
	textSource      = "distilbert"

	unreachableMessage     = "Upstream analysis service unreachable."
	invalidResponseMessage = "Upstream analysis service returned an invalid response."
)

// Assembler produces one canonical response per request. It holds no
// per-request state and is safe for concurrent use.
type Assembler struct {
	client      upstream.Client
	sim         *Simulator
	requireLive bool
	ids         IDProvider
	clock       Clock
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithSimulator sets the simulator used when no client is configured.
func WithSimulator(s *Simulator) Option {
	return func(a *Assembler) {
		a.sim = s
	}
}

// WithRequireLive makes a missing client an ErrMisconfigured failure
// instead of a fallback to the simulator.
func WithRequireLive(required bool) Option {
	return func(a *Assembler) {
		a.requireLive = required
	}
}

// WithIDs sets the request ID provider.
func WithIDs(ids IDProvider) Option {
	return func(a *Assembler) {
		a.ids = ids
	}
}

// WithClock sets the timestamp source.
func WithClock(c Clock) Option {
	return func(a *Assembler) {
		a.clock = c
	}
}

// NewAssembler creates an Assembler. A nil client means no backend is
// configured.
func NewAssembler(client upstream.Client, opts ...Option) *Assembler {
	a := &Assembler{
		client: client,
		ids:    DefaultIDs,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sim == nil {
		a.sim = NewSimulator()
	}
	return a
}

// Live reports whether requests go to the backend.
func (a *Assembler) Live() bool {
	return a.client != nil
}

// Analyze runs one request. Failures are ErrUnsupportedMode,
// *ValidationError, ErrMisconfigured or *UpstreamError.
func (a *Assembler) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalyzeResponse, error) {
	if req.Mode == model.ModeImage {
		return nil, ErrUnsupportedMode
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if a.client == nil {
		if a.requireLive {
			return nil, ErrMisconfigured
		}
		resp, err := a.sim.Analyze(ctx, req)
		if err != nil {
			return nil, eris.Wrap(err, "analysis: simulate")
		}
		a.stamp(resp, "", "")
		return resp, nil
	}

	var (
		resp *model.AnalyzeResponse
		err  error
	)
	switch req.Mode {
	case model.ModeURL:
		resp, err = a.analyzeURL(ctx, req.Value)
	default:
		resp, err = a.analyzeText(ctx, req.Value)
	}
	if err != nil {
		zap.L().Warn("live analysis request failed",
			zap.String("mode", string(req.Mode)),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

func (a *Assembler) analyzeURL(ctx context.Context, target string) (*model.AnalyzeResponse, error) {
	raw, err := a.client.AnalyzeURL(ctx, target)
	if err != nil {
		return nil, upstreamError(ctx, err)
	}
	return a.AdaptURL(raw), nil
}

func (a *Assembler) analyzeText(ctx context.Context, text string) (*model.AnalyzeResponse, error) {
	raw, err := a.client.AnalyzeText(ctx, text)
	if err != nil {
		return nil, upstreamError(ctx, err)
	}
	return a.AdaptText(raw), nil
}

// AdaptURL maps a URL analysis onto the canonical shape.
func (a *Assembler) AdaptURL(raw *upstream.URLAnalysis) *model.AnalyzeResponse {
	prob := normalize.Score(raw.Confidence)
	verdict := normalize.TopLevel(raw.FinalVerdict, prob)

	fusion := normalize.BuildFusion(raw.Models)
	if len(fusion) == 0 {
		fusion = map[string]model.FusionSource{
			consensusSource: {Label: verdict, Score: normalize.Round3(prob)},
		}
	}

	visual := append([]string{}, raw.VisualReasons...)
	visual = append(visual, normalize.CollectReasons(raw.Models)...)

	agent := decodeAgent(raw.Agent)
	if agent == nil {
		agent = normalize.SynthesizeTrace(raw.Models, verdict)
	}

	resp := &model.AnalyzeResponse{
		Verdict:        verdict,
		PhishingProb:   prob,
		Fusion:         fusion,
		DetectedBrands: nonNil(raw.DetectedBrands),
		VisualReasons:  visual,
		ExtractedURLs:  normalize.UniqueStrings(raw.ExtractedURLs, normalize.CollectURLs(raw.Models)),
		ModelVersion:   orDefault(raw.ModelVersion, defaultURLModelVersion),
		Agent:          agent,
	}
	a.stamp(resp, raw.RequestID, raw.Timestamp)
	return resp
}

// AdaptText maps a text analysis onto the canonical shape. The text backend
// runs a single classifier, so fusion has one distilbert entry and there is
// no agent trace.
func (a *Assembler) AdaptText(raw *upstream.TextAnalysis) *model.AnalyzeResponse {
	prob := normalize.Score(raw.Confidence)
	verdict := normalize.TopLevel(raw.IsPhishing, prob)

	resp := &model.AnalyzeResponse{
		Verdict:      verdict,
		PhishingProb: prob,
		Fusion: map[string]model.FusionSource{
			textSource: {Label: verdict, Score: normalize.Round3(prob)},
		},
		DetectedBrands: []string{},
		VisualReasons:  nonNil(raw.Reasons),
		ExtractedURLs:  normalize.UniqueStrings(raw.ExtractedURLs),
		ModelVersion:   orDefault(raw.ModelVersion, defaultTextModelVersion),
	}
	a.stamp(resp, raw.RequestID, raw.Timestamp)
	return resp
}

// stamp fills request_id and timestamp, keeping values the backend supplied.
func (a *Assembler) stamp(resp *model.AnalyzeResponse, requestID, timestamp string) {
	if requestID == "" {
		requestID = a.ids.NewID()
	}
	if timestamp == "" {
		timestamp = FormatTimestamp(a.clock())
	}
	resp.RequestID = requestID
	resp.Timestamp = timestamp
}

// upstreamError classifies a client failure. A request the caller abandoned
// is not an upstream fault and is passed through wrapped.
func upstreamError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrap(ctxErr, "analysis: live request aborted")
	}
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	if eris.Is(err, upstream.ErrInvalidResponse) {
		return &UpstreamError{Message: invalidResponseMessage, Err: err}
	}
	return &UpstreamError{Message: unreachableMessage, Err: err}
}

// decodeAgent accepts a backend-supplied trace when it decodes cleanly.
func decodeAgent(raw json.RawMessage) *model.AgentSummary {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var agent model.AgentSummary
	if err := json.Unmarshal(raw, &agent); err != nil {
		zap.L().Debug("ignoring undecodable upstream agent trace", zap.Error(err))
		return nil
	}
	return &agent
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
