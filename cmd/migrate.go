package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coopertaxi/dispatchd/config"
	"github.com/coopertaxi/dispatchd/infra/logger"
	"github.com/coopertaxi/dispatchd/infra/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Kind != "postgres" {
		return fmt.Errorf("store kind %q has no migrations", cfg.Store.Kind)
	}
	return postgres.Migrate(cfg.Store.Postgres, logger.New("migrate"))
}
