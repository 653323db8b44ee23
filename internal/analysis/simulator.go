package analysis

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sells-group/phish-cli/internal/model"
	"github.com/sells-group/phish-cli/internal/normalize"
)

const (
	defaultMinDelay = 700 * time.Millisecond
	defaultMaxDelay = 1200 * time.Millisecond

	simBudgetMS     = 2000
	simStepFallback = 60
	simPhishCutoff  = 0.7
	simEscalateAt   = 0.85
)

var simFusionSources = []string{"DistilBERT", "pipeline", "graph", "otx"}

// Simulator fabricates complete responses for demos and tests when no
// backend is configured. Unlike the live trace, its agent steps show
// skipped and running states for illustration.
//
// RequestID and Timestamp are left empty; the Assembler stamps them.
type Simulator struct {
	minDelay time.Duration
	maxDelay time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithDelay sets the uniform latency window.
func WithDelay(minDelay, maxDelay time.Duration) SimulatorOption {
	return func(s *Simulator) {
		s.minDelay = minDelay
		s.maxDelay = maxDelay
	}
}

// WithRand fixes the random source, for deterministic tests.
func WithRand(r *rand.Rand) SimulatorOption {
	return func(s *Simulator) {
		s.rng = r
	}
}

// WithSleep replaces the delay function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) SimulatorOption {
	return func(s *Simulator) {
		s.sleep = fn
	}
}

// NewSimulator creates a Simulator with a 700-1200ms latency window.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		minDelay: defaultMinDelay,
		maxDelay: defaultMaxDelay,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxDelay < s.minDelay {
		s.maxDelay = s.minDelay
	}
	return s
}

// Analyze waits out the simulated latency and returns a fabricated
// response. It only fails when ctx ends first.
func (s *Simulator) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalyzeResponse, error) {
	if err := s.sleep(ctx, s.delay()); err != nil {
		return nil, err
	}

	prob := float64(utf8.RuneCountInString(req.Value)%100) / 100
	verdict := normalize.TopLevel(prob > simPhishCutoff, prob)

	steps := simSteps(req.Mode, verdict)
	elapsed := model.SumDurations(steps, simStepFallback)

	brands := []string{"Microsoft 365", "Okta"}
	if req.Mode != model.ModeURL {
		brands = brands[:1]
	}

	return &model.AnalyzeResponse{
		Verdict:        verdict,
		PhishingProb:   prob,
		Fusion:         s.randomFusion(),
		DetectedBrands: brands,
		VisualReasons: []string{
			"Links to mismatched login domains",
			"Form collects credentials over http",
		},
		ExtractedURLs: []string{"https://secure.ms-login.help", "https://cdn-ms-assets.com/js/app.js"},
		ModelVersion:  "analyze_url_v2",
		Agent: &model.AgentSummary{
			Planner:    "Orchestrator v0.2 determines modality workflow based on payload metadata.",
			Conclusion: steps[len(steps)-1].Output,
			Steps:      steps,
			ElapsedMS:  elapsed,
			Guardrails: model.AgentGuardrails{
				BudgetMS:   simBudgetMS,
				ConsumedMS: elapsed,
				Escalated:  verdict == model.VerdictPhish && prob > simEscalateAt,
				Note:       "Operating within normal guardrails.",
			},
		},
	}, nil
}

func (s *Simulator) delay() time.Duration {
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.float()*float64(span))
}

func (s *Simulator) float() float64 {
	if s.rng == nil {
		return rand.Float64()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) randomFusion() map[string]model.FusionSource {
	fusion := make(map[string]model.FusionSource, len(simFusionSources))
	for _, key := range simFusionSources {
		score := s.float()
		label := model.VerdictSafe
		switch {
		case score > 0.66:
			label = model.VerdictPhish
		case score > 0.33:
			label = model.VerdictSuspicious
		}
		fusion[key] = model.FusionSource{Label: label, Score: normalize.Round3(score)}
	}
	return fusion
}

func simSteps(mode model.Mode, verdict model.Verdict) []model.AgentStep {
	text := model.AgentStep{
		ID:          "text",
		Title:       "TextAnalyzer",
		Description: "DistilBERT ONNX inference on message body.",
		Status:      model.StepComplete,
		Action:      model.ActionSkipped,
		Reason:      "Skipped because payload lacked rich text.",
		Output:      "No text payload provided.",
	}
	if mode == model.ModeText {
		text.Action = model.ActionRun
		text.Reason = ""
		text.Output = "Detected urgency + credential harvest language."
		text.DurationMS = model.Ms(340)
	}

	url := model.AgentStep{
		ID:          "url",
		Title:       "UrlScanner",
		Description: "Scanner + HF + Graph + OTX fusion on submitted domain.",
		Status:      model.StepComplete,
		Action:      model.ActionRun,
		Output:      "Domain observed on OpenPhish and newly registered 3 days ago.",
		DurationMS:  model.Ms(270),
	}
	if mode == model.ModeImage {
		url.Action = model.ActionSkipped
		url.Reason = "Skipped until URL artifacts exist."
	}

	image := model.AgentStep{
		ID:          "image",
		Title:       "ImageVision",
		Description: "OCR + brand signature verify screenshot attachments.",
		Status:      model.StepComplete,
		Action:      model.ActionSkipped,
		Reason:      "Skipped - no screenshots detected.",
		Output:      "No screenshot supplied.",
	}
	if mode == model.ModeImage {
		image.Status = model.StepRunning
		image.Action = model.ActionRun
		image.Reason = ""
		image.Output = "Found mismatched bank logo + base64 form."
		image.DurationMS = model.Ms(480)
	}

	decision := model.AgentStep{
		ID:          "decision",
		Title:       "Decision Engine",
		Description: "Fuse tool outputs and apply policy rules.",
		Status:      model.StepComplete,
		Action:      model.ActionRun,
		DurationMS:  model.Ms(90),
	}
	switch verdict {
	case model.VerdictPhish:
		decision.Output = "Multiple sources high-risk. Recommend block and auto-quarantine."
	case model.VerdictSuspicious:
		decision.Output = "Signals mixed. Escalate to analyst queue."
	default:
		decision.Output = "Low risk. Allow but continue monitoring."
	}

	return []model.AgentStep{
		{
			ID:          "plan",
			Title:       "Planner",
			Description: "Decide which analyzers to run based on provided payload.",
			Status:      model.StepComplete,
			Action:      model.ActionRun,
			Output:      "Need text, URL, and image checks; prioritizing URL since payload includes a link.",
			DurationMS:  model.Ms(120),
		},
		text,
		url,
		image,
		decision,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
