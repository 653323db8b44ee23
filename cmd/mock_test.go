//go:build !integration

package main

import (
	"context"
	"sync"

	"github.com/sells-group/phish-cli/internal/analysis"
	"github.com/sells-group/phish-cli/pkg/radar"
)

// simAnalyzer returns an assembler backed by a zero-latency simulator.
func simAnalyzer() *analysis.Assembler {
	return analysis.NewAssembler(nil, analysis.WithSimulator(analysis.NewSimulator(analysis.WithDelay(0, 0))))
}

// mockRadar implements radar.Client for testing.
type mockRadar struct {
	mu      sync.Mutex
	pairs   []radar.AttackPair
	err     error
	queries []radar.Query
}

func (m *mockRadar) AttackPairs(_ context.Context, q radar.Query) ([]radar.AttackPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	return m.pairs, nil
}
