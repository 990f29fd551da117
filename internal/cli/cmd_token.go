package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskboard/api/internal/auth"
)

func newTokenCmd(e *env) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Issue a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl == 0 {
				ttl = e.cfg.TokenTTL
			}
			token, err := auth.IssueToken([]byte(e.cfg.JWTSecret), args[0], name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default TASKBOARD_TOKEN_TTL)")
	return cmd
}
