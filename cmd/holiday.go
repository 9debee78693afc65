package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/checkloops/checkloops/internal/database"
)

var holidayCmd = &cobra.Command{
	Use:   "holiday",
	Short: "Holiday balance maintenance",
}

var holidayReconcileFlags struct {
	Sites []int64
	Year  int
	Apply bool
}

var holidayReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute holiday balances from approved requests",
	Long: `Compares the stored taken and remaining days of every active member with the approved requests of the holiday year.
Without --apply the differences are only reported.`,
	Example: `checkloops holiday reconcile --site 1
checkloops holiday reconcile --year 2025 --apply`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		sites := holidayReconcileFlags.Sites
		if len(sites) == 0 {
			sites = e.Config().Sites
		}
		if len(sites) == 0 {
			return errors.New("no sites given and none configured")
		}
		year := holidayReconcileFlags.Year
		if year == 0 {
			year = e.Holidays().CurrentYear()
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SITE\tUSER\tNAME\tTAKEN\tCOMPUTED\tREMAINING\tCOMPUTED") //nolint:errcheck
		var errs []error
		for _, site := range sites {
			report, err := e.Holidays().Reconcile(cmd.Context(), site, year, holidayReconcileFlags.Apply, database.SystemActor)
			if err != nil {
				errs = append(errs, fmt.Errorf("site %d: %w", site, err))
			}
			if report == nil {
				continue
			}
			for _, d := range report.Discrepancies {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n", site, d.UserID, d.Name, //nolint:errcheck
					humanize.Ftoa(d.StoredTaken), humanize.Ftoa(d.ComputedTaken),
					humanize.Ftoa(d.StoredRemaining), humanize.Ftoa(d.ComputedRemaining))
			}
			log.Info("Reconciled holidays", "site", site, "year", year, "checked", report.Checked,
				"discrepancies", len(report.Discrepancies), "applied", report.Applied, "failed", report.Failed)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return errors.Join(errs...)
	},
}

func init() {
	holidayReconcileCmd.Flags().Int64SliceVar(&holidayReconcileFlags.Sites, "site", nil, "Site IDs to reconcile (default: the configured sites)")
	holidayReconcileCmd.Flags().IntVar(&holidayReconcileFlags.Year, "year", 0, "Holiday year, named by its starting calendar year (default: current)")
	holidayReconcileCmd.Flags().BoolVar(&holidayReconcileFlags.Apply, "apply", false, "Write the recomputed balances back")

	holidayCmd.AddCommand(holidayReconcileCmd)
	rootCmd.AddCommand(holidayCmd)
}
