package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/id/runid"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl over the
// configured start URLs and exits when every queued record is written.
func newCrawlCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl",
		RunE: withApp(func(ctx context.Context, a App) error {
			return runCrawl(ctx, a, runID)
		}),
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "identifier attached to logs and announcements (default: a new UUIDv7)")
	return cmd
}

func runCrawl(ctx context.Context, appInstance App, runID string) error {
	runID, err := runid.New().Resolve(runID)
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}

	summary, err := appInstance.Crawl(ctx, runID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			appInstance.Logger().Warn("crawl interrupted", zap.String("run_id", runID))
			return nil
		}
		return fmt.Errorf("crawl: %w", err)
	}
	appInstance.Logger().Info("crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.Int64("pages", summary.Fetch.Pages),
		zap.Int("records_written", summary.Writes.Handled),
	)
	return nil
}
