package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"taskboard/api/internal/app"
	"taskboard/api/internal/archive"
	"taskboard/api/internal/config"
	"taskboard/api/internal/events"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(e *env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the taskboard API server.

Migrations are applied on start. Redis, Meilisearch and MinIO are used
when their URLs are configured; otherwise events stay in process, search
runs against the database and exports are disabled.

Example:
  taskboard serve
  taskboard serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := e.cfg
			if addr != "" {
				cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, e.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides API_ADDR")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	dataStore, db, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	var bus events.Bus
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisBus, err := events.NewRedisBus(cfg.RedisURL, log)
		if err != nil {
			return err
		}
		log.Info("events: using redis")
		bus = redisBus
	} else {
		bus = events.NewLocal(log)
	}
	defer bus.Close()

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewSQL(db), log)

	var exporter *archive.Exporter
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		exporter, err = archive.New(archive.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		if err := exporter.EnsureBucket(ctx); err != nil {
			log.Warn("archive: bucket not ready", "bucket", cfg.MinioBucket, "error", err)
		}
	}

	service := app.New(cfg, dataStore, app.Deps{
		Bus:      bus,
		Search:   searchService,
		Exporter: exporter,
		Log:      log,
	})

	hub := realtime.NewHub(cfg.CORSOrigin, log)
	subscription, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin, cfg.WebhookSecret, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Forward(gctx, subscription)
		return nil
	})
	g.Go(func() error {
		log.Info("taskboard API listening", "addr", cfg.Addr, "dialect", dataStore.Dialect())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("taskboard API stopped")
		return nil
	})
	return g.Wait()
}
