package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mergestat/timediff"
	"github.com/spf13/cobra"

	"github.com/checkloops/checkloops/internal/database"
)

var historyFlags struct {
	JobID  string
	Audit  bool
	Action string
	Limit  int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show job run statistics and the audit log",
	Example: `checkloops history
checkloops history --job expire_invites --limit 20
checkloops history --audit --action role_changed`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		if historyFlags.Audit {
			return printAudit(cmd, db)
		}
		return printJobHistory(cmd, db)
	},
}

func printJobHistory(cmd *cobra.Command, db *database.Client) error {
	stats, err := db.GetJobStats(cmd.Context(), nil)
	if err != nil {
		return fmt.Errorf("failed to get job stats: %w", err)
	}

	now := time.Now()
	fmt.Println("Job Statistics:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tRUNS\tOK\tFAILED\tITEMS\tAVG\tLAST SUCCESS") //nolint:errcheck
	for _, s := range stats {
		last := "never"
		if s.LastSuccessfulRun != nil {
			last = timediff.TimeDiff(*s.LastSuccessfulRun, timediff.WithStartTime(now))
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n", s.JobID, s.TotalRuns, s.SuccessfulRuns, s.FailedRuns, //nolint:errcheck
			humanize.Comma(s.TotalItems), s.AverageDuration.Round(time.Millisecond), last)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	runs, _, err := db.GetJobRuns(cmd.Context(), historyFlags.JobID, 1, historyFlags.Limit)
	if err != nil {
		return fmt.Errorf("failed to get job runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Println("\nRecent Job Runs:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tJOB\tSTARTED\tSTATUS\tITEMS\tERROR") //nolint:errcheck
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.JobID, r.StartedAt.Format(time.DateTime), r.Status, r.Items, r.Error) //nolint:errcheck
	}
	return w.Flush()
}

func printAudit(cmd *cobra.Command, db *database.Client) error {
	filter := database.AuditFilter{Action: database.AuditAction(historyFlags.Action)}
	events, total, err := db.GetAuditEvents(cmd.Context(), filter, 1, historyFlags.Limit, database.SortOrderDesc)
	if err != nil {
		return fmt.Errorf("failed to get audit events: %w", err)
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tACTOR\tACTION\tSUBJECT\tSITE") //nolint:errcheck
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", timediff.TimeDiff(e.EventTime, timediff.WithStartTime(now)), e.Actor, e.Action, e.Subject, e.SiteID) //nolint:errcheck
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nShowing %d of %s events\n", len(events), humanize.Comma(total))
	return nil
}

func init() {
	historyCmd.Flags().StringVar(&historyFlags.JobID, "job", "", "Only show runs of this job")
	historyCmd.Flags().BoolVar(&historyFlags.Audit, "audit", false, "Show the audit log instead of job runs")
	historyCmd.Flags().StringVar(&historyFlags.Action, "action", "", "Only show audit events with this action")
	historyCmd.Flags().IntVar(&historyFlags.Limit, "limit", 10, "Number of entries to show")
	rootCmd.AddCommand(historyCmd)
}
