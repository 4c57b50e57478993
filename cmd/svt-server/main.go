package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/apsvt/svt-registry/internal/config"
	"github.com/apsvt/svt-registry/internal/domain/analytics"
	"github.com/apsvt/svt-registry/internal/domain/assist"
	"github.com/apsvt/svt-registry/internal/domain/registry"
	"github.com/apsvt/svt-registry/internal/platform/auth"
	"github.com/apsvt/svt-registry/internal/platform/db"
	"github.com/apsvt/svt-registry/internal/platform/middleware"
	"github.com/apsvt/svt-registry/internal/platform/uploads"
)

const serverVersion = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "svt-server",
		Short: "Splanchnic vein thrombosis registry API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCSVCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registry API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func importCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-csv",
		Short: "Ingest a proforma CSV export without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}

			logger := newLogger(os.Getenv("ENV"))
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read csv file: %w", err)
			}

			svc, err := buildRegistryService(cfg, logger)
			if err != nil {
				return err
			}

			ack, err := svc.IngestCSV(context.Background(), raw)
			if err != nil {
				return err
			}

			fmt.Printf("Rows: %d  Accepted: %d  Rejected: %d\n", ack.TotalRows, ack.AcceptedRows, ack.RejectedRows)
			for _, rowErr := range ack.Errors {
				fmt.Printf("  row %d: %s\n", rowErr.RowNumber, rowErr.Message)
			}
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the CSV export")
	return cmd
}

func newLogger(env string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func buildRegistryService(cfg *config.Config, logger zerolog.Logger) (*registry.Service, error) {
	fileStore, err := uploads.NewStore(cfg.UploadsDir)
	if err != nil {
		return nil, err
	}
	eventStore := registry.NewJSONLEventStore(cfg.EventStorePath)
	templates := registry.NewTemplateRegistry(cfg.TemplatesDir)
	notes := registry.NewNoteWriter(cfg.NotesDir)
	return registry.NewService(eventStore, templates, notes, fileStore, logger), nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Storage
	fileStore, err := uploads.NewStore(cfg.UploadsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare uploads directory")
	}
	eventStore := registry.NewJSONLEventStore(cfg.EventStorePath)
	templates := registry.NewTemplateRegistry(cfg.TemplatesDir)
	notes := registry.NewNoteWriter(cfg.NotesDir)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("2M", "50M"))
	e.Use(middleware.RequestTimeout(2 * time.Minute))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Attachment assist job store: Postgres when configured, JSON file
	// otherwise.
	var jobRepo assist.JobRepository
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		pgRepo := assist.NewPGJobRepository(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare job table")
		}
		jobRepo = pgRepo
		e.GET("/health/db", db.HealthHandler(pool))
	} else {
		fileRepo, err := assist.NewFileJobRepository(cfg.JobsPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open job store")
		}
		jobRepo = fileRepo
	}

	// Services
	registrySvc := registry.NewService(eventStore, templates, notes, fileStore, logger)
	analyticsSvc := analytics.NewService(eventStore, cfg.CohortTarget, logger)
	extractor := assist.NewExtractor(cfg.OCRCommand, time.Duration(cfg.OCRTimeoutSec)*time.Second, cfg.DocumentMaxChars)
	assistSvc := assist.NewService(jobRepo, fileStore, extractor, logger)

	assistSvc.Start(ctx)
	defer assistSvc.Stop()

	// Routes
	apiV1 := e.Group("/api/v1")
	registry.NewHandler(registrySvc).RegisterRoutes(apiV1)
	analytics.NewHandler(analyticsSvc).RegisterRoutes(apiV1)
	assist.NewHandler(assistSvc).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": serverVersion,
		})
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
