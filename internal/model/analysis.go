package model

import (
	"regexp"
	"strings"
)

// Mode selects which upstream analyzer handles a request.
type Mode string

const (
	ModeURL   Mode = "url"
	ModeText  Mode = "text"
	ModeImage Mode = "image" // Accepted by the type, rejected at the boundary.
)

// Verdict is the categorical risk classification of an analysis.
type Verdict string

const (
	VerdictPhish      Verdict = "phish"
	VerdictSuspicious Verdict = "suspicious"
	VerdictSafe       Verdict = "safe"
)

// StepStatus is the progress state of one agent step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
)

// StepAction records whether an agent step ran, was skipped, or was added late.
type StepAction string

const (
	ActionRun     StepAction = "run"
	ActionSkipped StepAction = "skipped"
	ActionAdded   StepAction = "added"
)

var urlPrefix = regexp.MustCompile(`(?i)^https?://`)

// AnalysisRequest is a single request from the console.
type AnalysisRequest struct {
	Mode  Mode   `json:"mode" yaml:"mode"`
	Value string `json:"value" yaml:"value"`
}

// Validate checks the request shape. Image mode is not rejected here; callers
// decide how to surface it.
func (r AnalysisRequest) Validate() error {
	switch r.Mode {
	case ModeURL, ModeText, ModeImage:
	default:
		return &ValidationError{Field: "mode", Message: "mode must be one of url, text, image"}
	}
	value := strings.TrimSpace(r.Value)
	if value == "" {
		return &ValidationError{Field: "value", Message: "Provide a URL or payload to analyze."}
	}
	if r.Mode == ModeURL && !urlPrefix.MatchString(value) {
		return &ValidationError{Field: "value", Message: "Enter a valid URL that includes http(s)://"}
	}
	return nil
}

// ValidationError reports a malformed request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + ": " + e.Message
}

// FusionSource is one analyzer's canonical opinion.
type FusionSource struct {
	Label Verdict `json:"label" yaml:"label"`
	Score float64 `json:"score" yaml:"score"`
}

// AgentStep is one stage of the analysis pipeline narrative.
type AgentStep struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Status      StepStatus `json:"status" yaml:"status"`
	Action      StepAction `json:"action" yaml:"action"`
	Reason      string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	Output      string     `json:"output,omitempty" yaml:"output,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// AgentGuardrails summarizes the time budget of an agent run.
type AgentGuardrails struct {
	BudgetMS   int    `json:"budget_ms" yaml:"budget_ms"`
	ConsumedMS int    `json:"consumed_ms" yaml:"consumed_ms"`
	Escalated  bool   `json:"escalated" yaml:"escalated"`
	Note       string `json:"note,omitempty" yaml:"note,omitempty"`
}

// AgentSummary is the ordered trace of analyzers that ran for a request.
type AgentSummary struct {
	Planner    string          `json:"planner" yaml:"planner"`
	Conclusion string          `json:"conclusion" yaml:"conclusion"`
	Steps      []AgentStep     `json:"steps" yaml:"steps"`
	ElapsedMS  int             `json:"elapsed_ms" yaml:"elapsed_ms"`
	Guardrails AgentGuardrails `json:"guardrails" yaml:"guardrails"`
}

// SumDurations totals step durations, substituting fallback for steps
// without one.
func SumDurations(steps []AgentStep, fallback int) int {
	total := 0
	for _, s := range steps {
		if s.DurationMS != nil {
			total += *s.DurationMS
		} else {
			total += fallback
		}
	}
	return total
}

// AnalyzeResponse is the canonical shape delivered to the console.
type AnalyzeResponse struct {
	Verdict        Verdict                 `json:"verdict" yaml:"verdict"`
	PhishingProb   float64                 `json:"phishing_prob" yaml:"phishing_prob"`
	Fusion         map[string]FusionSource `json:"fusion" yaml:"fusion"`
	DetectedBrands []string                `json:"detected_brands" yaml:"detected_brands"`
	VisualReasons  []string                `json:"visual_reasons" yaml:"visual_reasons"`
	ExtractedURLs  []string                `json:"extracted_urls" yaml:"extracted_urls"`
	ModelVersion   string                  `json:"model_version" yaml:"model_version"`
	RequestID      string                  `json:"request_id" yaml:"request_id"`
	Timestamp      string                  `json:"timestamp" yaml:"timestamp"`
	Agent          *AgentSummary           `json:"agent,omitempty" yaml:"agent,omitempty"`
}

// Ms returns a pointer to a millisecond duration, for AgentStep.DurationMS.
func Ms(v int) *int {
	return &v
}
