package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskboard/api/internal/store"
)

func newMigrateCmd(e *env) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		Example: `  taskboard migrate
  taskboard migrate --down 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative")
			}
			ctx := cmd.Context()
			dataStore, db, err := openStore(ctx, e.cfg, down == 0)
			if err != nil {
				return err
			}
			defer db.Close()

			if down == 0 {
				e.log.Info("migrations applied", "dialect", dataStore.Dialect())
				return nil
			}
			reverted, err := store.RollbackMigrations(ctx, db, dataStore.Dialect(), down)
			if err != nil {
				return err
			}
			for _, version := range reverted {
				fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", version)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	return cmd
}
