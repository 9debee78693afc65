package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var practicesCmd = &cobra.Command{
	Use:   "practices",
	Short: "NHS GP practice directory",
}

var practicesSearchFlags struct {
	Name     string
	Postcode string
}

var practicesSearchCmd = &cobra.Command{
	Use:     "search",
	Short:   "Search active GP practices by name and postcode",
	Example: `checkloops practices search --name densham --postcode "TR2"`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		practices, err := e.Practices().Search(cmd.Context(), practicesSearchFlags.Name, practicesSearchFlags.Postcode)
		if err != nil {
			return err
		}
		if len(practices) == 0 {
			fmt.Println("No practices found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tPOSTCODE") //nolint:errcheck
		for _, p := range practices {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Code, p.Name, p.PostCode) //nolint:errcheck
		}
		return w.Flush()
	},
}

func init() {
	practicesSearchCmd.Flags().StringVar(&practicesSearchFlags.Name, "name", "", "Part of the practice name")
	practicesSearchCmd.Flags().StringVar(&practicesSearchFlags.Postcode, "postcode", "", "Postcode or postcode prefix")

	practicesCmd.AddCommand(practicesSearchCmd)
	rootCmd.AddCommand(practicesCmd)
}
