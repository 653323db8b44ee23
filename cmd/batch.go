package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/phish-cli/internal/model"
)

var (
	batchInput       string
	batchMode        string
	batchConcurrency int
	batchFormat      string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Analyze a file of URLs or messages, one per line",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchConcurrency > 0 {
			cfg.Batch.Concurrency = batchConcurrency
		}
		if err := cfg.Validate("batch"); err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if batchInput != "-" {
			f, err := os.Open(batchInput)
			if err != nil {
				return eris.Wrap(err, "open batch input")
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		values, err := readBatchInput(in)
		if err != nil {
			return err
		}

		a := newAnalyzer(cfg)
		results, err := processBatch(ctx, values, model.Mode(batchMode), cfg.Batch.Concurrency, a.Analyze)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), batchFormat, results)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "-", "file with one value per line (- for stdin)")
	batchCmd.Flags().StringVar(&batchMode, "mode", "url", "payload type: url or text")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel analyses (default from config)")
	batchCmd.Flags().StringVar(&batchFormat, "format", "json", "output format: json or yaml")
	rootCmd.AddCommand(batchCmd)
}

type analyzeFunc func(ctx context.Context, req model.AnalysisRequest) (*model.AnalyzeResponse, error)

// batchResult is one line of batch output. Exactly one of Result and Error
// is set.
type batchResult struct {
	Input  string                 `json:"input" yaml:"input"`
	Result *model.AnalyzeResponse `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string                 `json:"error,omitempty" yaml:"error,omitempty"`
}

// readBatchInput returns the non-blank lines of r, skipping # comments.
func readBatchInput(r io.Reader) ([]string, error) {
	var values []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read batch input")
	}
	return values, nil
}

// processBatch analyzes values with at most concurrency in flight. Results
// keep input order; a failed item is reported in its Error field and does
// not stop the rest.
func processBatch(ctx context.Context, values []string, mode model.Mode, concurrency int, analyze analyzeFunc) ([]batchResult, error) {
	results := make([]batchResult, len(values))
	if len(values) == 0 {
		zap.L().Info("batch input is empty")
		return results, nil
	}

	zap.L().Info("processing batch",
		zap.Int("items", len(values)),
		zap.String("mode", string(mode)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for i, value := range values {
		g.Go(func() error {
			results[i].Input = value

			resp, err := analyze(gctx, model.AnalysisRequest{Mode: mode, Value: value})
			if err != nil {
				failed.Add(1)
				_, msg := analysisStatus(err)
				if msg == msgAnalysisFailed {
					msg = err.Error()
				}
				results[i].Error = msg
				zap.L().Warn("batch item failed", zap.Int("index", i), zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			results[i].Result = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, nil
}
