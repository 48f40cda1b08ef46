package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ghvault/internal/bootstrap"
	"ghvault/internal/config"
	"ghvault/internal/executor"
	"ghvault/internal/login"
	"ghvault/internal/middleware"
	"ghvault/internal/pkg/notify"
	"ghvault/internal/repository"
	"ghvault/internal/router"
	"ghvault/internal/scheduler"
	"ghvault/internal/vault"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if hasArg("--bootstrap-db") {
		if err := runDBBootstrap(); err != nil {
			logger.Fatal("Database bootstrap failed", zap.Error(err))
		}
		logger.Info("Database bootstrap completed")
		return
	}

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	// --- Credential vault ---
	credVault, err := vault.New(cfg.Vault.Key)
	if err != nil {
		logger.Fatal("Failed to open credential vault", zap.Error(err))
	}

	// --- Repositories ---
	taskRepo := repository.NewTaskRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	logRepo := repository.NewExecutionLogRepository(db)

	// --- Notifier ---
	notifier := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger.Named("notify"))

	// --- Login engine + executor ---
	registry := login.SetupRegistry(cfg, logger)
	exec := executor.New(cfg.Scheduler, registry, credVault, taskRepo, accountRepo, logRepo, notifier, logger.Named("executor"))

	// --- Scheduler ---
	sched := scheduler.New(cfg.Scheduler, taskRepo, exec, logger.Named("scheduler"))
	schedCtx, stopSched := context.WithCancel(context.Background())
	sched.Start(schedCtx)

	// --- Trigger Deduper (Redis with in-memory fallback) ---
	triggerDeduper, dedupeErr := middleware.NewTriggerDeduper(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		5*time.Second,
	)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for trigger dedup, using in-memory fallback", zap.Error(dedupeErr))
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, db, sched, credVault, triggerDeduper, cfg.API.Key, logger.Named("api"))

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	notifier.NotifyStartup(cfg.Server.Env)

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop dispatching and interrupt in-flight runs; every interrupted
	// run seals its log before the scheduler reports drained.
	stopSched()
	sched.Wait()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

func runDBBootstrap() error {
	dbCfg, err := config.LoadDatabaseOnly()
	if err != nil {
		return err
	}
	db, err := config.NewDatabase(dbCfg)
	if err != nil {
		return err
	}
	return bootstrap.MigrateAndSeed(db)
}
