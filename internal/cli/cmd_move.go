package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"taskboard/api/internal/client"
)

type moveOptions struct {
	apiURL string
	token  string
	board  string
}

func newMoveCmd(e *env) *cobra.Command {
	opts := &moveOptions{}
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a task or column on a running server",
		Long: `Move a task or column through the HTTP API, the way a drag and drop
would: the local order changes first, the server is asked to persist it,
and the board is refetched afterwards.`,
	}
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", "http://localhost:8787", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("TASKBOARD_TOKEN"), "bearer token (default $TASKBOARD_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.board, "board", "", "board uuid")
	_ = cmd.MarkPersistentFlagRequired("board")

	cmd.AddCommand(&cobra.Command{
		Use:   "task TASK_UUID COLUMN_UUID POSITION",
		Short: "Move a task into a column at a position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("position must be an integer: %w", err)
			}
			syncer, err := opts.syncer(cmd, e)
			if err != nil {
				return err
			}
			if _, err := syncer.MoveTask(cmd.Context(), args[0], args[1], position); err != nil {
				return err
			}
			return printScope(cmd, syncer.Reducer(), args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "column COLUMN_UUID POSITION",
		Short: "Move a column to a position on its board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("position must be an integer: %w", err)
			}
			syncer, err := opts.syncer(cmd, e)
			if err != nil {
				return err
			}
			if _, err := syncer.MoveColumn(cmd.Context(), args[0], position); err != nil {
				return err
			}
			return printScope(cmd, syncer.Reducer(), opts.board)
		},
	})
	return cmd
}

func (o *moveOptions) syncer(cmd *cobra.Command, e *env) (*client.Syncer, error) {
	api := client.NewAPI(o.apiURL, o.token, nil)
	syncer := client.NewSyncer(api, client.NewReducer(o.board), o.board, e.log)
	if err := syncer.Refresh(cmd.Context()); err != nil {
		return nil, err
	}
	return syncer, nil
}

func printScope(cmd *cobra.Command, reducer *client.Reducer, scope string) error {
	names := []string{}
	for _, id := range reducer.Lists()[scope] {
		names = append(names, reducer.Name(id))
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "version %d: %s\n", reducer.Version(), strings.Join(names, ", "))
	return err
}
