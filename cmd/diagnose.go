package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/checkloops/checkloops/internal/diagnose"
)

var diagnoseFlags struct {
	Tables  []string
	Columns bool
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check that the Supabase tables are reachable",
	Long:  `Counts the rows of every staff table and reads the columns of one row. Fails if any table cannot be read.`,
	Example: `checkloops diagnose
checkloops diagnose --table master_users --table site_invites --columns`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		reports := e.Prober().Probe(cmd.Context(), diagnoseFlags.Tables)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tROWS\tTIME\tSTATUS") //nolint:errcheck
		for _, r := range reports {
			status := "ok"
			if !r.OK() {
				status = r.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Table, humanize.Comma(int64(r.Count)), r.Duration.Round(time.Millisecond), status) //nolint:errcheck
			if diagnoseFlags.Columns && len(r.Columns) > 0 {
				fmt.Fprintf(w, "\t\t\t%s\n", strings.Join(r.Columns, ", ")) //nolint:errcheck
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		failed := lo.Filter(reports, func(r diagnose.TableReport, _ int) bool { return !r.OK() })
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d tables failed", len(failed), len(reports))
		}
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().StringSliceVar(&diagnoseFlags.Tables, "table", nil, "Tables to probe (default: all staff tables)")
	diagnoseCmd.Flags().BoolVar(&diagnoseFlags.Columns, "columns", false, "Also print the columns of each table")
	rootCmd.AddCommand(diagnoseCmd)
}
