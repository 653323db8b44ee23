package normalize

import (
	"fmt"
	"math"
	"regexp"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/phish-cli/internal/model"
)

const (
	liveStepDuration     = 180
	liveStepFallback     = 120
	liveBudgetMS         = 3000
	liveStepDescription  = "Live analyzer output from backend fusion service."
	livePlanner          = "Live fusion orchestrator routed analyzers based on payload metadata."
	liveGuardrailNote    = "Guardrail summary synthesized from analyzer timings."
	conclusionPhish      = "Fusion flagged phishing indicators across multiple analyzers."
	conclusionSuspicious = "Signals mixed; recommend manual review."
	conclusionSafe       = "No strong phishing indicators detected."
)

var separators = regexp.MustCompile(`[_-]+`)

// SynthesizeTrace derives an agent trace from finished analyzer outputs.
// It returns nil when there are no models. Every step is complete/run: a
// finished upstream response carries no partial progress to show.
func SynthesizeTrace(models map[string]ModelOutput, verdict model.Verdict) *model.AgentSummary {
	if len(models) == 0 {
		return nil
	}

	steps := make([]model.AgentStep, 0, len(models))
	for _, source := range sortedKeys(models) {
		m := models[source]
		steps = append(steps, model.AgentStep{
			ID:          source,
			Title:       TitleCaseSource(source),
			Description: liveStepDescription,
			Status:      model.StepComplete,
			Action:      model.ActionRun,
			Output:      stepOutput(m),
			DurationMS:  model.Ms(stepDuration(m)),
		})
	}

	elapsed := model.SumDurations(steps, liveStepFallback)

	return &model.AgentSummary{
		Planner:    livePlanner,
		Conclusion: conclusionFor(verdict),
		Steps:      steps,
		ElapsedMS:  elapsed,
		Guardrails: model.AgentGuardrails{
			BudgetMS:   liveBudgetMS,
			ConsumedMS: elapsed,
			Escalated:  verdict == model.VerdictPhish,
			Note:       liveGuardrailNote,
		},
	}
}

// TitleCaseSource turns "threat_intel-otx" into "Threat Intel Otx" while
// leaving acronyms such as "OTX" alone.
func TitleCaseSource(name string) string {
	// Casers carry state and cannot be shared across goroutines.
	return cases.Title(language.Und, cases.NoLower).String(separators.ReplaceAllString(name, " "))
}

func stepOutput(m ModelOutput) string {
	if reasons := modelReasons(m); len(reasons) > 0 {
		return reasons[0]
	}
	raw := m["confidence"]
	if _, ok := ToNumber(raw); !ok {
		raw = m["score"]
	}
	return fmt.Sprintf("Confidence %.1f%%", Score(raw)*100)
}

// stepDuration reads elapsed_ms, falling back when it is negative or too
// large to sum safely.
func stepDuration(m ModelOutput) int {
	if f, ok := ToNumber(m["elapsed_ms"]); ok && f >= 0 && f <= math.MaxInt32 {
		return int(f)
	}
	return liveStepDuration
}

func conclusionFor(v model.Verdict) string {
	switch v {
	case model.VerdictPhish:
		return conclusionPhish
	case model.VerdictSuspicious:
		return conclusionSuspicious
	default:
		return conclusionSafe
	}
}
