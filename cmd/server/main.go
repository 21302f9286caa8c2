package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/triago/triago/infrastructure/config"
	httpserver "github.com/triago/triago/infrastructure/http"
	"github.com/triago/triago/infrastructure/http/handler"
	"github.com/triago/triago/infrastructure/http/middleware"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/infrastructure/service/password"
	"github.com/triago/triago/infrastructure/service/ratelimit"
	"github.com/triago/triago/infrastructure/service/token"
	"github.com/triago/triago/internal/glpi"
	"github.com/triago/triago/internal/service"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	structuredLogger := logger.NewStructuredLogger(logger.LoggerConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "triago",
	})
	structuredLogger.Info(ctx, "Application starting", map[string]interface{}{
		"env":      cfg.Environment,
		"upstream": cfg.GLPIBaseURL,
	})

	// Build the service facade over the upstream GLPI API
	facade := service.NewFacade(glpi.ClientConfig{
		BaseURL:   cfg.GLPIBaseURL,
		AppToken:  cfg.GLPIAppToken,
		UserToken: cfg.GLPIUserToken,
		Username:  cfg.GLPIUsername,
		Password:  cfg.GLPIPassword,
		Timeout:   cfg.GLPITimeout,
	}, structuredLogger)

	// Eager login so a bad credential fails the deploy, not the first request
	if !facade.Authenticate(ctx) {
		structuredLogger.Warn(ctx, "Initial upstream authentication failed, continuing degraded", map[string]interface{}{
			"upstream": cfg.GLPIBaseURL,
		})
	}

	// Initialize dashboard API services
	tokenService, err := token.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		structuredLogger.Error(ctx, "Failed to initialize token service", err, map[string]interface{}{})
		log.Fatalf("Failed to initialize token service: %v", err)
	}
	passwordService := password.NewBcryptPasswordService(10)

	rateLimitService, err := ratelimit.NewRateLimitService(ratelimit.RateLimitConfig{
		Enabled:       cfg.RateLimitEnabled,
		RedisURL:      cfg.RedisURL,
		LoginAttempts: cfg.RateLimitLoginAttempts,
		LoginWindow:   cfg.RateLimitLoginWindow,
		BlockDuration: cfg.RateLimitBlockDuration,
	}, logrus.New())
	if err != nil {
		structuredLogger.Error(ctx, "Failed to initialize rate limit service", err, map[string]interface{}{
			"redis_url": cfg.RedisURL,
		})
		log.Fatalf("Failed to initialize rate limit service: %v", err)
	}

	// Initialize middleware and handlers
	authMiddleware := middleware.NewAuthMiddleware(tokenService)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(
		rateLimitService, structuredLogger,
		cfg.RateLimitLoginAttempts, cfg.RateLimitLoginWindow, cfg.RateLimitBlockDuration,
	)
	authHandler := handler.NewAuthHandler(tokenService, passwordService, cfg.DashboardUser, cfg.DashboardPassHash, structuredLogger)
	metricsHandler := handler.NewMetricsHandler(facade, authMiddleware)

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:               cfg.ServerHost,
		Port:               cfg.ServerPort,
		CORSEnabled:        cfg.CORSEnabled,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, authHandler, metricsHandler, rateLimitMiddleware, structuredLogger)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			structuredLogger.Error(ctx, "Server failed", err, map[string]interface{}{})
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	structuredLogger.Info(ctx, "Shutting down...", map[string]interface{}{})

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		structuredLogger.Error(ctx, "Server forced to shutdown", err, map[string]interface{}{})
	}
	facade.Logout(shutdownCtx)
	structuredLogger.Info(ctx, "Server exited", map[string]interface{}{})
}
