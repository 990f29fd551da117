// Package cli implements the taskboard command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"taskboard/api/internal/config"
	"taskboard/api/internal/store"
)

// env holds what the root command resolved before a subcommand runs.
type env struct {
	configPath string
	logLevel   string
	cfg        config.Config
	log        *slog.Logger
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	e := &env{}
	cmd := &cobra.Command{
		Use:   "taskboard",
		Short: "Kanban board API with ordered columns and tasks",
		Long: `taskboard serves boards, columns and tasks over HTTP and keeps
sibling positions dense across every move.

Quick start:
  taskboard migrate           Apply database migrations
  taskboard serve             Start the API server
  taskboard check             Verify every sibling list is gap free`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(e.configPath)
			if err != nil {
				return err
			}
			if e.logLevel != "" {
				cfg.LogLevel = e.logLevel
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.log = log
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&e.configPath, "config", "config.yml", "config file; missing files fall back to the environment")
	cmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(e))
	cmd.AddCommand(newMigrateCmd(e))
	cmd.AddCommand(newCheckCmd(e))
	cmd.AddCommand(newTokenCmd(e))
	cmd.AddCommand(newMoveCmd(e))
	cmd.AddCommand(newReindexCmd(e))
	return cmd
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// openStore connects to the configured database, applying migrations first
// when migrate is set. The caller closes the returned handle.
func openStore(ctx context.Context, cfg config.Config, migrate bool) (*store.Store, *sqlx.DB, error) {
	dialect, err := store.ParseDialect(cfg.DatabaseDialect)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
	}
	return store.New(db, dialect), db, nil
}
