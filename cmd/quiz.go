package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/checkloops/checkloops/internal/database"
)

var quizCmd = &cobra.Command{
	Use:   "quiz",
	Short: "Compliance quiz administration",
}

var quizImportCmd = &cobra.Command{
	Use:   "import <seed.yml|->",
	Short: "Import quiz questions from a YAML seed file",
	Long: `Imports questions with their options. The whole file is validated first: every question needs
at least two options with exactly one marked correct. Use - to read from stdin.`,
	Example: `checkloops quiz import questions.yml
cat questions.yml | checkloops quiz import -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open seed file: %w", err)
			}
			defer f.Close() //nolint:errcheck
			r = f
		}

		e, closeEngine, err := openEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		n, err := e.Quiz().Import(cmd.Context(), r, database.SystemActor)
		if err != nil {
			return err
		}
		log.Info("Imported quiz questions", "count", n)
		return nil
	},
}

func init() {
	quizCmd.AddCommand(quizImportCmd)
	rootCmd.AddCommand(quizCmd)
}
