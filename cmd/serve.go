package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/checkloops/checkloops/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CheckLoops server",
	Long:  `Start the HTTP API and the scheduled jobs: invite expiry, holiday reconciliation and reminders.`,
	Example: `checkloops serve --config config.yml
checkloops serve -c /path/to/config.yml --log-level debug
`,
	RunE: startServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func startServer(cmd *cobra.Command, _ []string) error {
	e, closeEngine, err := openEngine()
	if err != nil {
		return err
	}
	defer closeEngine()

	server, err := api.New(e.Config(), e)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Run(ctx)
	})
	g.Go(func() error {
		return server.Run(ctx)
	})

	log.Info("checkloops started successfully", "version", Version)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("checkloops stopped")
	return nil
}
