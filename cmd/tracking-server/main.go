package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eni9889/ez-tracking-board-sub000/internal/config"
	"github.com/eni9889/ez-tracking-board-sub000/internal/domain/credentials"
	"github.com/eni9889/ez-tracking-board-sub000/internal/domain/notecheck"
	"github.com/eni9889/ez-tracking-board-sub000/internal/domain/vitals"
	"github.com/eni9889/ez-tracking-board-sub000/internal/jobs"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/analysis"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/db"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/ezderm"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/middleware"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/queue"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tracking-server",
		Short: "Clinical note compliance and vitals carryforward service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scanCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the tracking server and job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// scanCmd enqueues a note-check scan into the durable queue. A running
// serve process picks it up; the command itself does not process jobs.
func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Enqueue a note-check scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			payload, err := json.Marshal(jobs.ScanPayload{Force: force, TriggeredBy: "cli"})
			if err != nil {
				return err
			}

			job := &queue.Job{
				Queue:       jobs.QueueScan,
				Payload:     payload,
				MaxAttempts: cfg.CheckMaxAttempts,
				ScheduledAt: time.Now().UTC(),
			}
			if err := queue.NewStore(pool).Enqueue(ctx, job); err != nil {
				return fmt.Errorf("failed to enqueue scan: %w", err)
			}

			fmt.Printf("Enqueued scan job %s (force=%v)\n", job.ID, force)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Re-check notes even when unchanged")
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// EZDerm gateway and credential lifecycle
	client := ezderm.NewClient(cfg.EZDermLoginURL, logger, ezderm.WithTimeout(cfg.HTTPTimeout))
	credRepo := credentials.NewRepo(pool)
	tokens := credentials.NewService(credRepo, client, cfg.EZDermUsername, cfg.EZDermPassword, logger)
	gateway := ezderm.NewBound(client, tokens)

	// Note analysis backend
	var analyzer analysis.Analyzer
	if cfg.AnalysisURL != "" {
		analyzer = analysis.NewHTTPAnalyzer(cfg.AnalysisURL, cfg.AnalysisAPIKey, cfg.HTTPTimeout)
	} else {
		logger.Warn().Msg("ANALYSIS_URL not set; note analysis is disabled")
		analyzer = analysis.NoopAnalyzer{}
	}

	fp, err := notecheck.NewFingerprinter(cfg.FingerprintAlgo)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid fingerprint algorithm")
	}

	// Domain services
	checkRepo := notecheck.NewRepo(pool)
	checks := notecheck.NewService(checkRepo, gateway, analyzer, fp, cfg.StaggerDelay, cfg.EZDermUsername, logger)
	vitalsRepo := vitals.NewRepo(pool)
	sweeper := vitals.NewService(vitalsRepo, gateway, logger)

	// Job runtime
	handlers := jobs.New(checks, sweeper, logger)
	rt := queue.NewRuntime(queue.NewStore(pool), logger, handlers.QueueConfigs(jobs.Config{
		CheckConcurrency: cfg.CheckConcurrency,
		MaxAttempts:      cfg.CheckMaxAttempts,
		ScanEvery:        cfg.ScanInterval,
		VitalsEvery:      cfg.VitalsInterval,
	}))
	handlers.Bind(rt)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := rt.Start(runCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start job runtime")
	}
	logger.Info().
		Dur("scan_interval", cfg.ScanInterval).
		Dur("vitals_interval", cfg.VitalsInterval).
		Int("check_concurrency", cfg.CheckConcurrency).
		Msg("job runtime started")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	apiV1.GET("/queues/stats", queue.StatsHandler(rt))
	notecheck.NewHandler(checks, handlers).RegisterRoutes(apiV1)

	// Serve
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		errCh <- e.Start(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
		}
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	cancel()
	if err := rt.Drain(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("job runtime did not drain cleanly")
	}
	rt.Stop()
	logger.Info().Msg("shutdown complete")
	return nil
}
