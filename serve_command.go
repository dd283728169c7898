package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harrywu96/AniverseGateway-sub001/internal/api"
	"github.com/harrywu96/AniverseGateway-sub001/internal/auth"
	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/job"
	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and task workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			database, err := db.NewSQLite(cfg.Server.DBPath)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer database.Close()

			if err := database.EnsureAdmin(cfg.Server.AdminUsername, cfg.Server.AdminPassword); err != nil {
				return fmt.Errorf("create admin user: %w", err)
			}
			logger.Info("admin user ensured", zap.String("username", cfg.Server.AdminUsername))
			if cfg.GeneratedSecret {
				logger.Warn("no jwt_secret configured; generated one for this process, tokens will not survive a restart")
			}

			jwtService := auth.NewJWTService(cfg.Server.JWTSecret, "aniverse", 0)
			sink := storage.NewFileSink(cfg.Server.OutputPath, logger)
			manager := job.NewManager(job.Options{
				MaxConcurrent:    cfg.Tasks.MaxConcurrent,
				Retention:        cfg.Retention(),
				HistoryRetention: cfg.HistoryRetention(),
				Store:            job.NewStore(database.DB()),
				Sink:             sink,
				Limiter:          newLimiter(cfg),
				Logger:           logger,
			})
			if err := manager.Start(runCtx); err != nil {
				return fmt.Errorf("start task manager: %w", err)
			}
			defer manager.Stop()

			router := api.NewRouter(runCtx, api.Deps{
				Config:   cfg,
				DB:       database,
				JWT:      jwtService,
				Manager:  manager,
				Provider: profile.NewProvider(database, providerDefaults(cfg)),
				Sink:     sink,
				Logger:   logger,
			})

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting server",
					zap.String("addr", srv.Addr),
					zap.String("backend", cfg.Backends.Default.Kind),
					zap.String("output_path", cfg.Server.OutputPath),
				)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-runCtx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			return nil
		},
	}
}
