package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"docqa/internal/app"
	"docqa/internal/config"
	"docqa/internal/observability"
)

var (
	// cfgPath is the YAML config file; empty uses the default search order
	cfgPath string
	// owner is the identity used by the local commands
	owner string
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Document ingestion and question answering over your own files",
	Long: `docqa stores documents, splits them into chunks, embeds the chunks into a
vector index and answers questions from the most similar chunks.

Examples:
  # Create the schema and the vector collection
  docqa init

  # Add files for one owner
  docqa ingest --owner alice notes.txt paper.pdf

  # Ask a question
  docqa ask --owner alice "how does raft elect a leader?"

  # Run the HTTP API
  docqa serve`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (defaults to ./config.yaml or ~/.config/docqa/config.yaml)")
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config, wires the components and initialises storage.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(cfg.Log.Service, cfg.Log.Level)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func requireOwner() error {
	if owner == "" {
		return fmt.Errorf("--owner is required")
	}
	return nil
}
