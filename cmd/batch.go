package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchLimit int

// newBatchCmd creates the 'batch' subcommand, which refreshes screenshots
// for the whole published-tool worklist.
func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Refreshes screenshots for every published tool",
		Long: `Walks the published tool catalog in fixed-size groups, capturing
and uploading a fresh screenshot set for each site. Individual failures
are recorded and never halt the run.`,

		RunE: runBatchCommand,
	}
	cmd.Flags().IntVar(&batchLimit, "limit", 0, "cap the worklist to the first N tools (0 = all)")
	return cmd
}

func runBatchCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	summary, err := appInstance.Runner().RunBatch(cmd.Context())
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	logger.Info("batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	for _, failure := range summary.Failures() {
		logger.Warn("target failed",
			zap.String("tool_id", failure.ToolID),
			zap.String("url", failure.URL),
			zap.String("error", failure.ErrorText),
		)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d targets failed", summary.Failed, summary.Processed)
	}
	return nil
}
