package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/proplio/be-fm-engine/internal/authz"
	"github.com/proplio/be-fm-engine/internal/client"
	"github.com/proplio/be-fm-engine/internal/config"
	"github.com/proplio/be-fm-engine/internal/database"
	"github.com/proplio/be-fm-engine/internal/handler"
	"github.com/proplio/be-fm-engine/internal/logger"
	"github.com/proplio/be-fm-engine/internal/repository"
	"github.com/proplio/be-fm-engine/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Facility-Management Behavior Engine")

	// A hole in the permission matrix is a deploy-time failure, not a
	// request-time one.
	if err := authz.ValidateMatrix(); err != nil {
		log.Fatal().Err(err).Msg("Permission matrix is incomplete")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		DSN:      cfg.Database.DSN(),
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	natsClient, err := client.NewNATSClient(cfg.NATS.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer natsClient.Close()

	directoryURL := getEnv("DIRECTORY_URL", "http://localhost:8081")
	directoryClient := client.NewDirectoryClient(directoryURL)

	log.Info().
		Str("redis", cfg.Redis.Addr).
		Str("nats", cfg.NATS.URL).
		Str("directory", directoryURL).
		Msg("External clients initialized")

	// Repositories
	workOrderRepo := repository.NewWorkOrderRepository(db)
	rulesRepo := repository.NewApprovalRulesRepository(db)
	workflowRepo := repository.NewApprovalWorkflowRepository(db)
	historyRepo := repository.NewApprovalHistoryRepository(db)
	financeRepo := repository.NewFinanceRepository(db)

	// Services
	publisher := client.NewNotificationPublisher(natsClient, log.Logger)
	dispatcher := service.NewNotificationDispatcher(publisher, directoryClient, log)
	financeService := service.NewFinancePostingService(financeRepo, log)
	approvalService := service.NewApprovalRoutingService(rulesRepo, workflowRepo, historyRepo, directoryClient, dispatcher, log)
	workOrderService := service.NewWorkOrderService(workOrderRepo, financeService, approvalService, dispatcher, log)

	scanLock := client.NewRedisScanLock(redisClient, log.Logger)
	escalationService := service.NewEscalationService(workflowRepo, directoryClient, dispatcher, scanLock, cfg.Approval.ScanLockTTL, log)

	// Escalation scanner
	go func() {
		ticker := time.NewTicker(cfg.Approval.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := escalationService.CheckTimeouts(ctx); err != nil {
					log.Error().Err(err).Msg("Escalation scan failed")
				}
			}
		}
	}()

	// HTTP routes
	httpHandler := handler.NewHTTPHandler(workOrderService, approvalService, financeService, log)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
