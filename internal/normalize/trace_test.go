package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phish-cli/internal/model"
)

func TestSynthesizeTrace_NoModels(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SynthesizeTrace(nil, model.VerdictPhish))
	assert.Nil(t, SynthesizeTrace(map[string]ModelOutput{}, model.VerdictSafe))
}

func TestSynthesizeTrace_Steps(t *testing.T) {
	t.Parallel()

	models := map[string]ModelOutput{
		"url_scanner": {"confidence": 0.912, "elapsed_ms": 250},
		"graph":       {"reason": "Domain linked to known kit", "score": 0.8},
		"otx":         {"reasons": []any{"Listed on OpenPhish"}},
	}

	got := SynthesizeTrace(models, model.VerdictPhish)
	require.NotNil(t, got)
	require.Len(t, got.Steps, 3)

	ids := []string{got.Steps[0].ID, got.Steps[1].ID, got.Steps[2].ID}
	assert.Equal(t, []string{"graph", "otx", "url_scanner"}, ids)

	for _, s := range got.Steps {
		assert.Equal(t, model.StepComplete, s.Status)
		assert.Equal(t, model.ActionRun, s.Action)
		require.NotNil(t, s.DurationMS)
	}

	assert.Equal(t, "Domain linked to known kit", got.Steps[0].Output)
	assert.Equal(t, "Listed on OpenPhish", got.Steps[1].Output)
	assert.Equal(t, "Confidence 91.2%", got.Steps[2].Output)
	assert.Equal(t, "Url Scanner", got.Steps[2].Title)

	assert.Equal(t, 180, *got.Steps[0].DurationMS)
	assert.Equal(t, 250, *got.Steps[2].DurationMS)
	assert.Equal(t, 180+180+250, got.ElapsedMS)

	assert.Equal(t, 3000, got.Guardrails.BudgetMS)
	assert.Equal(t, got.ElapsedMS, got.Guardrails.ConsumedMS)
	assert.True(t, got.Guardrails.Escalated)
	assert.Equal(t, "Fusion flagged phishing indicators across multiple analyzers.", got.Conclusion)
}

func TestSynthesizeTrace_StepShape(t *testing.T) {
	t.Parallel()

	got := SynthesizeTrace(map[string]ModelOutput{
		"phish_kit-detector": {"score": 0.42, "elapsed_ms": 95},
	}, model.VerdictSuspicious)
	require.NotNil(t, got)
	require.Len(t, got.Steps, 1)

	want := model.AgentStep{
		ID:          "phish_kit-detector",
		Title:       "Phish Kit Detector",
		Description: "Live analyzer output from backend fusion service.",
		Status:      model.StepComplete,
		Action:      model.ActionRun,
		Output:      "Confidence 42.0%",
		DurationMS:  model.Ms(95),
	}
	if diff := cmp.Diff(want, got.Steps[0]); diff != "" {
		t.Errorf("step mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.Guardrails.Escalated)
}

func TestSynthesizeTrace_ConclusionByVerdict(t *testing.T) {
	t.Parallel()

	models := map[string]ModelOutput{"hf": {"score": 0.5}}

	suspicious := SynthesizeTrace(models, model.VerdictSuspicious)
	assert.Equal(t, "Signals mixed; recommend manual review.", suspicious.Conclusion)
	assert.False(t, suspicious.Guardrails.Escalated)

	safe := SynthesizeTrace(models, model.VerdictSafe)
	assert.Equal(t, "No strong phishing indicators detected.", safe.Conclusion)
	assert.Equal(t, "Confidence 50.0%", safe.Steps[0].Output)
}

func TestSynthesizeTrace_OutOfRangeElapsedFallsBack(t *testing.T) {
	t.Parallel()

	got := SynthesizeTrace(map[string]ModelOutput{
		"huge":     {"elapsed_ms": 1e300},
		"negative": {"elapsed_ms": -5},
		"ok":       {"elapsed_ms": "40"},
	}, model.VerdictSafe)
	require.NotNil(t, got)
	require.Len(t, got.Steps, 3)

	assert.Equal(t, 180, *got.Steps[0].DurationMS)
	assert.Equal(t, 180, *got.Steps[1].DurationMS)
	assert.Equal(t, 40, *got.Steps[2].DurationMS)
	assert.Equal(t, 400, got.ElapsedMS)
	assert.Equal(t, 400, got.Guardrails.ConsumedMS)
}

func TestSynthesizeTrace_ConfidenceFallsBackToScore(t *testing.T) {
	t.Parallel()

	got := SynthesizeTrace(map[string]ModelOutput{
		"a": {"confidence": "n/a", "score": 64},
		"b": {},
	}, model.VerdictSafe)

	assert.Equal(t, "Confidence 64.0%", got.Steps[0].Output)
	assert.Equal(t, "Confidence 0.0%", got.Steps[1].Output)
}

func TestTitleCaseSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Distilbert", TitleCaseSource("distilbert"))
	assert.Equal(t, "Threat Intel Otx", TitleCaseSource("threat_intel-otx"))
	assert.Equal(t, "OTX Feed", TitleCaseSource("OTX__feed"))
}
