package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"media-pipeline/application/lifecycle"
	"media-pipeline/infrastructure/config"

	"github.com/spf13/cobra"
)

var sweepRetention time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired artifacts and jobs once",
	Long: `Remove artifact files older than the retention period from the temp
directory, and drop persisted jobs that were last updated before it.

The sweep is skipped when another process (such as a running server) is
sweeping the same directory.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().DurationVar(&sweepRetention, "retention", 0, "override lifecycle.retention")
}

func runSweep(cmd *cobra.Command, args []string) error {
	c, err := GetConfig()
	if err != nil {
		return err
	}
	if sweepRetention > 0 {
		c.Lifecycle.Retention = config.Duration(sweepRetention)
	}
	logger, err := newLogger(c, os.Stderr)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), c, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	return RunSweepWithDependencies(cmd.Context(), a.artifacts, a.pipeline, c.Lifecycle.Retention.Std(), os.Stdout)
}

// Sweeper removes expired artifact files
type Sweeper interface {
	SweepExpired(ctx context.Context, retention time.Duration) (lifecycle.SweepResult, error)
}

// JobPurger removes expired job records
type JobPurger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int, error)
}

// RunSweepWithDependencies runs one sweep with injected dependencies
func RunSweepWithDependencies(ctx context.Context, sweeper Sweeper, purger JobPurger, retention time.Duration, out OutputWriter) error {
	purged, err := purger.PurgeExpired(ctx, retention)
	if err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}

	result, err := sweeper.SweepExpired(ctx, retention)
	if err != nil {
		return err
	}
	if result.Skipped {
		fmt.Fprintln(out, "Another sweep is in progress; nothing done.")
		return nil
	}

	fmt.Fprintf(out, "Removed %d expired file(s) and %d job(s) older than %s\n", len(result.Removed), purged, retention)
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  failed to remove %s: %v\n", e.Path, e.Error)
	}
	return nil
}
