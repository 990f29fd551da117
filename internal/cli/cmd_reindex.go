package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"taskboard/api/internal/app"
	"taskboard/api/internal/search"
)

func newReindexCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every task to Meilisearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(e.cfg.MeiliURL) == "" {
				return fmt.Errorf("MEILI_URL is not configured")
			}
			dataStore, db, err := openStore(cmd.Context(), e.cfg, false)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(e.cfg.MeiliURL, e.cfg.MeiliMasterKey, e.log)
			defer meili.Close()
			if !meili.Healthy() {
				return fmt.Errorf("meilisearch at %s is unavailable", e.cfg.MeiliURL)
			}

			service := app.New(e.cfg, dataStore, app.Deps{
				Search: search.NewService(meili, search.NewSQL(db), e.log),
				Log:    e.log,
			})
			count, err := service.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d tasks\n", count)
			return nil
		},
	}
}
