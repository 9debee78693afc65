package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/engine"
)

// Version is set at build time.
var Version = "dev"

var rootCmdPersistentFlags struct {
	LogFile    string
	ConfigFile string
	LogLevel   string
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootCmdPersistentFlags.LogFile, "log-file", "", "File to write logs to")
	rootCmd.PersistentFlags().StringVarP(&rootCmdPersistentFlags.ConfigFile, "config", "c", "", "Path to config file (default: search for config.yml in current dir, ~/.checkloops, /etc/checkloops)")
	rootCmd.PersistentFlags().StringVar(&rootCmdPersistentFlags.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

var rootCmd = &cobra.Command{
	Use:   "checkloops",
	Short: "CheckLoops manages practice staff on top of Supabase",
	Long:  `CheckLoops runs the staff management backend of a CheckLoops site: invitations, accounts, holidays, training, quizzes and avatars, all stored in Supabase.`,
	Example: `checkloops serve --config config.yml
  checkloops invite create --email ann@example.com --role staff --site 1
  checkloops diagnose --log-level debug`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		setLogLevel(rootCmdPersistentFlags.LogLevel)
		logToFile()
	},
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Warnf("unknown log level %s, defaulting to info", level)
		log.SetLevel(log.InfoLevel)
	}
}

func logToFile() {
	if rootCmdPersistentFlags.LogFile == "" {
		return
	}
	file, err := os.OpenFile(rootCmdPersistentFlags.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		log.Errorf("failed to open log file: %v", err)
		return
	}

	multiWriter := io.MultiWriter(os.Stderr, file)
	log.SetOutput(multiWriter)
	log.Debug("logging to both console and file", "file", rootCmdPersistentFlags.LogFile)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootCmdPersistentFlags.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens the local journal, creating its directory if needed.
func openDatabase(cfg *config.Config) (*database.Client, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// openEngine loads the config and builds an engine. The returned close func releases both.
func openEngine() (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return e, func() {
		_ = e.Close()
		_ = db.Close()
	}, nil
}

func Execute() error {
	return fang.Execute(context.Background(), rootCmd, fang.WithVersion(Version))
}
