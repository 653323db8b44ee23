package analysis

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phish-cli/internal/model"
)

func TestSimulator_VerdictFromLength(t *testing.T) {
	t.Parallel()

	sim := NewSimulator(WithSleep(noSleep))

	tests := []struct {
		length    int
		want      model.Verdict
		escalated bool
	}{
		{10, model.VerdictSafe, false},
		{60, model.VerdictSuspicious, false},
		{75, model.VerdictPhish, false},
		{90, model.VerdictPhish, true},
		{110, model.VerdictSafe, false},
	}

	for _, tt := range tests {
		got, err := sim.Analyze(context.Background(), model.AnalysisRequest{
			Mode:  model.ModeText,
			Value: strings.Repeat("a", tt.length),
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Verdict, "length=%d", tt.length)
		assert.InDelta(t, float64(tt.length%100)/100, got.PhishingProb, 1e-12)
		require.NotNil(t, got.Agent)
		assert.Equal(t, tt.escalated, got.Agent.Guardrails.Escalated, "length=%d", tt.length)
	}
}

func TestSimulator_TextModeSteps(t *testing.T) {
	t.Parallel()

	got, err := NewSimulator(WithSleep(noSleep)).Analyze(context.Background(), model.AnalysisRequest{
		Mode:  model.ModeText,
		Value: "urgent: verify your account",
	})
	require.NoError(t, err)

	steps := got.Agent.Steps
	require.Len(t, steps, 5)
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"plan", "text", "url", "image", "decision"}, ids)

	assert.Equal(t, model.ActionRun, steps[1].Action)
	require.NotNil(t, steps[1].DurationMS)
	assert.Equal(t, 340, *steps[1].DurationMS)
	assert.Equal(t, model.ActionSkipped, steps[3].Action)
	assert.Nil(t, steps[3].DurationMS)

	// 120 + 340 + 270 + 60 (image fallback) + 90
	assert.Equal(t, 880, got.Agent.ElapsedMS)
	assert.Equal(t, got.Agent.ElapsedMS, got.Agent.Guardrails.ConsumedMS)
	assert.Equal(t, 2000, got.Agent.Guardrails.BudgetMS)
	assert.Equal(t, steps[4].Output, got.Agent.Conclusion)
	assert.Equal(t, []string{"Microsoft 365"}, got.DetectedBrands)
}

func TestSimulator_URLModeSteps(t *testing.T) {
	t.Parallel()

	got, err := NewSimulator(WithSleep(noSleep)).Analyze(context.Background(), model.AnalysisRequest{
		Mode:  model.ModeURL,
		Value: "https://secure.ms-login.help",
	})
	require.NoError(t, err)

	steps := got.Agent.Steps
	assert.Equal(t, model.ActionSkipped, steps[1].Action)
	assert.Equal(t, "Skipped because payload lacked rich text.", steps[1].Reason)
	assert.Equal(t, model.ActionRun, steps[2].Action)
	assert.Equal(t, 600, got.Agent.ElapsedMS)
	assert.Equal(t, []string{"Microsoft 365", "Okta"}, got.DetectedBrands)
	assert.Equal(t, "analyze_url_v2", got.ModelVersion)
	assert.Empty(t, got.RequestID)
	assert.Empty(t, got.Timestamp)
}

func TestSimulator_ImageModeSteps(t *testing.T) {
	t.Parallel()

	got, err := NewSimulator(WithSleep(noSleep)).Analyze(context.Background(), model.AnalysisRequest{
		Mode:  model.ModeImage,
		Value: "data:image/png;base64,AAAA",
	})
	require.NoError(t, err)

	steps := got.Agent.Steps
	assert.Equal(t, model.ActionSkipped, steps[2].Action)
	assert.Equal(t, model.StepRunning, steps[3].Status)
	assert.Equal(t, model.ActionRun, steps[3].Action)
}

func TestSimulator_FusionShape(t *testing.T) {
	t.Parallel()

	got, err := NewSimulator(WithSleep(noSleep)).Analyze(context.Background(), model.AnalysisRequest{
		Mode:  model.ModeText,
		Value: "hello",
	})
	require.NoError(t, err)

	require.Len(t, got.Fusion, 4)
	for _, key := range []string{"DistilBERT", "pipeline", "graph", "otx"} {
		src, ok := got.Fusion[key]
		require.True(t, ok, key)
		assert.GreaterOrEqual(t, src.Score, 0.0)
		assert.LessOrEqual(t, src.Score, 1.0)
		switch {
		case src.Score > 0.66:
			assert.Equal(t, model.VerdictPhish, src.Label)
		case src.Score > 0.34 && src.Score < 0.66:
			assert.Equal(t, model.VerdictSuspicious, src.Label)
		case src.Score < 0.33:
			assert.Equal(t, model.VerdictSafe, src.Label)
		}
	}
}

func TestSimulator_DelayWindow(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	sim := NewSimulator(WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	for range 20 {
		_, err := sim.Analyze(context.Background(), model.AnalysisRequest{Mode: model.ModeText, Value: "x"})
		require.NoError(t, err)
	}

	require.Len(t, delays, 20)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, 700*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestSimulator_InvertedDelayUsesMin(t *testing.T) {
	t.Parallel()

	var got time.Duration
	sim := NewSimulator(
		WithDelay(50*time.Millisecond, 10*time.Millisecond),
		WithSleep(func(_ context.Context, d time.Duration) error {
			got = d
			return nil
		}),
	)
	_, err := sim.Analyze(context.Background(), model.AnalysisRequest{Mode: model.ModeText, Value: "x"})
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, got)
}

func TestSimulator_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulator(WithDelay(time.Hour, time.Hour)).Analyze(ctx, model.AnalysisRequest{Mode: model.ModeText, Value: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulator_WithRandDeterministic(t *testing.T) {
	t.Parallel()

	req := model.AnalysisRequest{Mode: model.ModeURL, Value: "https://a.test"}

	a, err := NewSimulator(WithSleep(noSleep), WithRand(rand.New(rand.NewPCG(1, 2)))).Analyze(context.Background(), req)
	require.NoError(t, err)
	b, err := NewSimulator(WithSleep(noSleep), WithRand(rand.New(rand.NewPCG(1, 2)))).Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a.Fusion, b.Fusion)
}
