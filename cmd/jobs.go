package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"media-pipeline/domain/job"
	"media-pipeline/infrastructure/store"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List persisted jobs",
	Long: `List the jobs recorded in paths.database with their stage, artifact
sizes and last update. Requires a configured database; the in-memory store
used without one does not outlive the server.`,
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	c, err := GetConfig()
	if err != nil {
		return err
	}
	if c.Paths.Database == "" {
		return fmt.Errorf("paths.database is not set; jobs are only kept in server memory")
	}

	jobs, err := store.OpenSQLite(c.Paths.Database)
	if err != nil {
		return err
	}
	defer jobs.Close()

	return RunJobsWithDependencies(cmd.Context(), jobs, time.Now(), os.Stdout)
}

// JobLister lists stored jobs
type JobLister interface {
	List(ctx context.Context) ([]*job.Job, error)
}

// RunJobsWithDependencies prints a table of jobs
func RunJobsWithDependencies(ctx context.Context, lister JobLister, now time.Time, out OutputWriter) error {
	jobs, err := lister.List(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs.")
		return nil
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Job", "Stage", "Source", "Working", "Final", "Updated", "Failure"})
	for _, j := range jobs {
		tw.AppendRow(table.Row{
			j.ID,
			string(j.Stage),
			artifactSize(j.Source),
			artifactSize(j.Working),
			artifactSize(j.FinalArtifact()),
			humanize.RelTime(j.UpdatedAt, now, "ago", "from now"),
			j.Failure,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 7, WidthMax: 60},
	})

	fmt.Fprintln(out, tw.Render())
	return nil
}

func artifactSize(a *job.Artifact) string {
	if a == nil {
		return "-"
	}
	return humanize.Bytes(uint64(a.SizeBytes))
}
