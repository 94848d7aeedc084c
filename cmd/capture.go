package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolhub/shotpipe/internal/capture"
)

var captureURL string

// newCaptureCmd creates the 'capture' subcommand, which runs the pipeline
// for a single tool and prints the outcome. Intended for debugging.
func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture <tool-id>",
		Short: "Captures screenshots for a single tool",
		Long: `Runs the full capture pipeline for one tool and prints each stored
region and image URL. Useful for debugging capture problems on a
specific site.`,

		Args: cobra.ExactArgs(1),
		RunE: runCaptureCommand,
	}
	cmd.Flags().StringVar(&captureURL, "url", "", "website URL (defaults to the stored tool URL)")
	return cmd
}

func runCaptureCommand(cmd *cobra.Command, args []string) error {
	toolID := args[0]
	if toolID == "" {
		return errors.New("tool id is required")
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	url := captureURL
	if url == "" {
		target, err := appInstance.Tools().GetTarget(cmd.Context(), toolID)
		if err != nil {
			return fmt.Errorf("resolve tool %s: %w", toolID, err)
		}
		url = target.URL
	}

	result := appInstance.Runner().ProcessTarget(cmd.Context(), capture.Target{
		ToolID: toolID,
		URL:    url,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tool:     %s\n", result.ToolID)
	fmt.Fprintf(out, "url:      %s\n", result.URL)
	fmt.Fprintf(out, "state:    %s\n", result.State)
	fmt.Fprintf(out, "fallback: %t\n", result.UsedFallback)
	fmt.Fprintf(out, "duration: %s\n", result.Duration.Round(time.Millisecond))
	for _, region := range result.Regions {
		fmt.Fprintf(out, "region:   %-8s %7d bytes  %-10s fp=%s\n",
			region.Region, region.Bytes, region.ContentType, region.Fingerprint)
	}
	for _, u := range result.URLs {
		fmt.Fprintf(out, "image:    %s\n", u)
	}
	if !result.Success {
		return fmt.Errorf("capture failed: %s", result.ErrorText)
	}
	return nil
}
