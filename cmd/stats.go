package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coopertaxi/dispatchd/config"
	corestore "github.com/coopertaxi/dispatchd/core/store"
	"github.com/coopertaxi/dispatchd/infra/postgres"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print fleet and request statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Kind != "postgres" {
		return fmt.Errorf("stats need a persistent store, got %q", cfg.Store.Kind)
	}
	pg, err := postgres.Connect(cfg.Store.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	var st corestore.Store = pg
	ctx := cmd.Context()
	ds, err := st.DriverStats(ctx)
	if err != nil {
		return fmt.Errorf("driver stats: %w", err)
	}
	rs, err := st.RequestStats(ctx)
	if err != nil {
		return fmt.Errorf("request stats: %w", err)
	}

	fmt.Printf("Drivers:   %d total, %d active, %d inactive\n", ds.Total, ds.Active, ds.Inactive)
	fmt.Printf("Requests:  %d total\n", rs.Total)
	fmt.Printf("  pending:   %d\n", rs.Pending)
	fmt.Printf("  assigned:  %d\n", rs.Assigned)
	fmt.Printf("  completed: %d\n", rs.Completed)
	fmt.Printf("  cancelled: %d\n", rs.Cancelled)
	return nil
}
