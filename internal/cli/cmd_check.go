package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"taskboard/api/internal/store"
)

// GapsError is returned by check when some sibling list is not 0..n-1.
type GapsError struct {
	Scopes []store.ScopeReport
}

func (e *GapsError) Error() string {
	return fmt.Sprintf("%d sibling lists have gaps or duplicates", len(e.Scopes))
}

func newCheckCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that column and task positions are dense",
		Long: `Scan every board's columns and every column's tasks and report the
lists whose positions are not exactly 0..n-1. Exits non-zero when any
list is broken.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataStore, db, err := openStore(cmd.Context(), e.cfg, false)
			if err != nil {
				return err
			}
			defer db.Close()

			reports, err := dataStore.Audit(cmd.Context())
			if err != nil {
				return err
			}

			var broken []store.ScopeReport
			for _, report := range reports {
				if !report.Dense {
					broken = append(broken, report)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				for _, report := range broken {
					fmt.Fprintf(out, "%s %s: positions %v\n", report.Kind, report.Scope, report.Positions)
				}
				fmt.Fprintf(out, "checked %d lists, %d broken\n", len(reports), len(broken))
			}

			if len(broken) > 0 {
				return &GapsError{Scopes: broken}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print every list as JSON")
	return cmd
}
