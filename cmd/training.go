package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/checkloops/checkloops/internal/training"
)

var trainingCmd = &cobra.Command{
	Use:   "training",
	Short: "Training records",
}

var trainingReportFlags struct {
	SiteID      int64
	OnlyOverdue bool
}

var trainingReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the training matrix of a site",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		now := time.Now()
		m, err := e.Training().Matrix(cmd.Context(), trainingReportFlags.SiteID, now)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTRAINING\tSTATUS\tEXPIRES") //nolint:errcheck
		for _, row := range m.Rows {
			for _, c := range row.Cells {
				if trainingReportFlags.OnlyOverdue && c.Status.Compliant() {
					continue
				}
				expires := "-"
				if c.ExpiresAt != nil {
					expires = c.ExpiresAt.String() + " (" + humanize.RelTime(c.ExpiresAt.Time, now, "ago", "from now") + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Name, c.Training, c.Status.Label(), expires) //nolint:errcheck
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		counts := make([]string, 0, len(m.Counts))
		for _, s := range []training.Status{training.StatusValid, training.StatusDueSoon, training.StatusExpired, training.StatusMissing} {
			counts = append(counts, fmt.Sprintf("%s: %d", s.Label(), m.Counts[s]))
		}
		fmt.Printf("\nCompliance: %.1f%% (%s)\n", m.Compliance, strings.Join(counts, ", "))
		return nil
	},
}

func init() {
	trainingReportCmd.Flags().Int64Var(&trainingReportFlags.SiteID, "site", 0, "Site ID")
	trainingReportCmd.Flags().BoolVar(&trainingReportFlags.OnlyOverdue, "overdue", false, "Only show expired, due soon and missing trainings")
	_ = trainingReportCmd.MarkFlagRequired("site")

	trainingCmd.AddCommand(trainingReportCmd)
	rootCmd.AddCommand(trainingCmd)
}
