package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"warranty-reminder/internal/api"
	"warranty-reminder/internal/assistant"
	"warranty-reminder/internal/clock"
	"warranty-reminder/internal/config"
	"warranty-reminder/internal/database"
	"warranty-reminder/internal/ledger"
	"warranty-reminder/internal/scheduler"
	"warranty-reminder/internal/services"
	"warranty-reminder/internal/store"
	"warranty-reminder/internal/warranty"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	runOnce := flag.Bool("once", false, "perform a single reminder run and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		return 1
	}

	logger := config.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	// Initialize database
	db, err := database.Open(&cfg.Database)
	if err != nil {
		logger.Error("failed to initialize database", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}()
	logger.Info("database initialized", slog.String("path", cfg.Database.Path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatches, closeLedger, err := openLedger(ctx, cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize dispatch ledger", slog.String("error", err.Error()))
		return 1
	}
	defer closeLedger()

	// Initialize services
	notifyService, err := services.NewNotifyService(&cfg.Notifications, logger)
	if err != nil {
		logger.Error("failed to initialize notifications", slog.String("error", err.Error()))
		return 1
	}
	if len(notifyService.Channels()) == 0 {
		logger.Warn("no notification channel enabled, reminders will fail until one is configured")
	}

	st := store.New(db)
	clk := clock.NewRealClock()
	calc := warranty.NewCalculator(cfg.Reminder.ExpiringSoonDays, cfg.Reminder.RejectFuturePurchase)
	policy := warranty.NewPolicy(calc, cfg.Reminder.ExpiredNotice)
	reminderService := services.NewReminderService(st, dispatches, notifyService, st, policy, clk, logger,
		services.ReminderOptions{
			Workers:     cfg.Reminder.Workers,
			CallTimeout: cfg.Reminder.CallTimeout,
		})

	sched := scheduler.NewScheduler(reminderService, cfg.Reminder.RunTimeout, logger)

	if *runOnce {
		summary := sched.RunOnce()
		if summary == nil || summary.State != services.RunCompleted {
			return 1
		}
		return 0
	}

	if err := sched.Start(cfg.Reminder.CheckInterval); err != nil {
		logger.Error("failed to start scheduler", slog.String("error", err.Error()))
		return 1
	}
	defer sched.Stop()

	// Setup Gin
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.LoggingMiddleware(logger))
	r.Use(api.NewCORSMiddleware(cfg.Server.AllowOrigins))

	handler := api.NewHandler(ctx, st, dispatches, reminderService, calc, assistant.New(assistant.DefaultCatalog()), clk, cfg.Reminder.RunTimeout)
	api.SetupRoutes(r, handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			slog.String("port", cfg.Server.Port),
			slog.String("check_interval", cfg.Reminder.CheckInterval),
			slog.String("ledger", cfg.Ledger.Backend),
			slog.Any("channels", notifyService.Channels()),
		)
		serverErr <- srv.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			return 1
		}

		logger.Info("server exited properly")
		return 0

	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return 0
		}
		logger.Error("server exited with error", slog.String("error", err.Error()))
		return 1
	}
}

// openLedger returns the configured dispatch ledger and a close function
func openLedger(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *slog.Logger) (ledger.Ledger, func(), error) {
	if cfg.Ledger.Backend != "redis" {
		return ledger.NewGormLedger(db), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("redis dispatch ledger connected", slog.String("addr", cfg.Redis.Addr))

	return ledger.NewRedisLedger(client), func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}, nil
}
