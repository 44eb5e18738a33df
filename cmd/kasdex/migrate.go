package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kasdex/kasdex/internal/checkpoint"
	"github.com/kasdex/kasdex/internal/config"
	"github.com/kasdex/kasdex/internal/logging"
	"github.com/kasdex/kasdex/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or initialize the PostgreSQL schema",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("initialize", false, "drop and recreate the schema from scratch")
	migrateCmd.Flags().Bool("upgrade", true, "apply forward migrations against an existing schema")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	initialize, _ := cmd.Flags().GetBool("initialize")
	upgrade, _ := cmd.Flags().GetBool("upgrade")

	ctx := cmd.Context()
	store, err := postgres.Open(ctx, cfg.DatabaseURL, log.Named("postgres"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx, initialize, upgrade); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if initialize || upgrade {
		cp := checkpoint.New(store)
		if err := cp.SetSchemaVersion(ctx, checkpoint.CurrentSchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	fmt.Println("schema up to date")
	return nil
}
