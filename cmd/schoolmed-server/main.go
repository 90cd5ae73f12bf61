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
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/schoolmed/schoolmed/internal/config"
	"github.com/schoolmed/schoolmed/internal/domain/medication"
	"github.com/schoolmed/schoolmed/internal/platform/auth"
	"github.com/schoolmed/schoolmed/internal/platform/db"
	"github.com/schoolmed/schoolmed/internal/platform/middleware"
	"github.com/schoolmed/schoolmed/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "schoolmed-server",
		Short: "School medication scheduling and administration API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

	// migrate up
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
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

// dayPartSchedule converts the configured HH:MM strings into engine times.
func dayPartSchedule(cfg *config.Config) (map[medication.DayPart]medication.TimeOfDay, error) {
	out := make(map[medication.DayPart]medication.TimeOfDay, 4)
	for part, raw := range cfg.DayPartTimes() {
		tod, err := medication.ParseTimeOfDay(raw)
		if err != nil {
			return nil, fmt.Errorf("day part %s: %w", part, err)
		}
		out[medication.DayPart(part)] = tod
	}
	return out, nil
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
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case "development":
		e.Use(auth.DevAuthMiddleware())
	default:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// API group with rate limiting
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Notification pipeline
	sender := &notification.LogSender{Logger: logger}
	notifyStore := notification.NewInMemoryStore()
	dispatcher := notification.NewDispatcher(sender, notifyStore, logger)

	// Medication engine
	dayParts, err := dayPartSchedule(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid day part configuration")
	}

	orderRepo := medication.NewOrderRepoPG(pool)
	scheduleRepo := medication.NewScheduleRepoPG(pool)
	adminRepo := medication.NewAdministrationRepoPG(pool)
	stockRepo := medication.NewStockRepoPG(pool)
	usageRepo := medication.NewUsageHistoryRepoPG(pool)

	ledger := medication.NewLedger(stockRepo, orderRepo, dispatcher, logger)
	generator := medication.NewGenerator(dayParts)
	attendance := medication.NewInMemoryAttendance()

	medSvc := medication.NewService(orderRepo, scheduleRepo, adminRepo, usageRepo, ledger, generator, attendance, &db.TxRunner{Pool: pool}, logger)
	medHandler := medication.NewHandler(medSvc)
	medHandler.RegisterRoutes(apiV1)

	// Reminder coordinator runs for the life of the server
	coordinator := medication.NewCoordinator(scheduleRepo, orderRepo, attendance, dispatcher, medication.ReminderConfig{
		Interval:      cfg.ReminderInterval,
		LeadWindow:    cfg.ReminderLeadWindow,
		OverdueWindow: cfg.ReminderOverdueWindow,
		MaxReminders:  cfg.ReminderMaxCount,
	}, logger)
	coordCtx, coordCancel := context.WithCancel(ctx)
	defer coordCancel()
	go coordinator.Start(coordCtx)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	coordCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
