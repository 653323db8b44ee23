package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/phish-cli/internal/analysis"
	"github.com/sells-group/phish-cli/internal/config"
	"github.com/sells-group/phish-cli/internal/model"
	"github.com/sells-group/phish-cli/pkg/upstream"
)

// analyzer is the slice of analysis.Assembler the commands use.
type analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalyzeResponse, error)
	Live() bool
}

// newAnalyzer wires the assembler for the configured routing mode.
func newAnalyzer(c *config.Config) *analysis.Assembler {
	sim := analysis.NewSimulator(analysis.WithDelay(
		time.Duration(c.Simulator.MinDelayMS)*time.Millisecond,
		time.Duration(c.Simulator.MaxDelayMS)*time.Millisecond,
	))

	var client upstream.Client
	if !c.Upstream.UseSimulator() && c.Upstream.BaseURL != "" {
		client = upstream.NewClient(c.Upstream.BaseURL, upstream.WithTimeout(c.Upstream.Timeout()))
	}

	a := analysis.NewAssembler(client,
		analysis.WithSimulator(sim),
		analysis.WithRequireLive(c.Upstream.Mode == config.ModeLive),
	)

	zap.L().Info("analyzer configured",
		zap.String("mode", c.Upstream.Mode),
		zap.Bool("live", a.Live()),
		zap.String("base_url", c.Upstream.BaseURL),
	)
	return a
}
