package main

import (
	"encoding/json"
	"fmt"

	"smb-ledger/internal/backup"
	"smb-ledger/internal/database"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create or inspect encrypted backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write one encrypted backup now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Init(cfg.Database)
		if err != nil {
			return err
		}
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		svc := backup.NewService(db, cfg.Security.EncryptionKey, cfg.Backup, nil, nil)
		path, err := svc.Trigger(cmd.Context(), "", "cli")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var backupDecryptCmd = &cobra.Command{
	Use:   "decrypt <file>",
	Short: "Decrypt a backup file and print its JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := backup.Open(args[0], cfg.Security.EncryptionKey)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd, backupDecryptCmd)
}
