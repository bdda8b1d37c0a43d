package main

import (
	"fmt"
	"os"

	"smb-ledger/internal/config"
	"smb-ledger/internal/logger"
	"smb-ledger/internal/server"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "smb-ledger",
	Short:         "Finance ledger API for small businesses",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	Long: `Start the API server together with the audit mirror, session and
token sweepers and the scheduled backup job.

Secrets are read from the config file or LEDGER_* environment variables:
  LEDGER_SECURITY_ACCESS_TOKEN_SECRET
  LEDGER_SECURITY_REFRESH_TOKEN_SECRET
  LEDGER_SECURITY_SESSION_SECRET
  LEDGER_SECURITY_ENCRYPTION_KEY`,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd, backupCmd)
}

// loadConfig reads and validates configuration, then installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.Format, cfg.Log.Level)
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return server.RunWithSignalHandling(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
