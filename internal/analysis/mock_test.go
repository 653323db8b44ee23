package analysis

import (
	"context"
	"time"

	"github.com/sells-group/phish-cli/pkg/upstream"
)

// mockClient implements upstream.Client for testing.
type mockClient struct {
	urlResp  *upstream.URLAnalysis
	textResp *upstream.TextAnalysis
	err      error

	urlCalls  []string
	textCalls []string
}

func (m *mockClient) AnalyzeURL(_ context.Context, target string) (*upstream.URLAnalysis, error) {
	m.urlCalls = append(m.urlCalls, target)
	if m.err != nil {
		return nil, m.err
	}
	return m.urlResp, nil
}

func (m *mockClient) AnalyzeText(_ context.Context, text string) (*upstream.TextAnalysis, error) {
	m.textCalls = append(m.textCalls, text)
	if m.err != nil {
		return nil, m.err
	}
	return m.textResp, nil
}

var fixedTime = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func fixedClock() time.Time { return fixedTime }

func fixedIDs() IDProvider {
	return IDFunc(func() string { return "req-fixed" })
}

// noSleep skips simulated latency but still honors cancellation.
func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
