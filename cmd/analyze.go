package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/phish-cli/internal/model"
)

var (
	analyzeMode   string
	analyzeValue  string
	analyzeFormat string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one URL or message and print the normalized result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		req := model.AnalysisRequest{Mode: model.Mode(analyzeMode), Value: analyzeValue}
		resp, err := newAnalyzer(cfg).Analyze(ctx, req)
		if err != nil {
			return eris.Wrapf(err, "analyze %s", analyzeMode)
		}
		return writeOutput(cmd.OutOrStdout(), analyzeFormat, resp)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", "url", "payload type: url or text")
	analyzeCmd.Flags().StringVar(&analyzeValue, "value", "", "URL or message body to analyze")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "json", "output format: json or yaml")
	_ = analyzeCmd.MarkFlagRequired("value")
	rootCmd.AddCommand(analyzeCmd)
}
