// Package http hosts the route layer over the service facade.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/triago/triago/infrastructure/http/handler"
	"github.com/triago/triago/infrastructure/http/middleware"
	"github.com/triago/triago/infrastructure/service/logger"
)

// ServerConfig represents server construction settings.
type ServerConfig struct {
	Host               string
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CORSEnabled        bool
	CORSAllowedOrigins []string
}

// Server is the HTTP host for the dashboard API.
type Server struct {
	server *http.Server
	logger logger.Logger
}

// NewServer assembles the router, middleware chain and http.Server.
func NewServer(
	config ServerConfig,
	authHandler *handler.AuthHandler,
	metricsHandler *handler.MetricsHandler,
	rateLimit *middleware.RateLimitMiddleware,
	log logger.Logger,
) *Server {
	router := mux.NewRouter()

	router.Handle("/api/v1/auth/login",
		rateLimit.RateLimit(http.HandlerFunc(authHandler.Login))).Methods("POST")
	metricsHandler.RegisterRoutes(router)

	router.Use(loggingMiddleware(log))
	router.Use(recoveryMiddleware(log))

	var root http.Handler = middleware.CorrelationIDMiddleware(router)
	if config.CORSEnabled && len(config.CORSAllowedOrigins) > 0 {
		root = middleware.CORSMiddleware(root, config.CORSAllowedOrigins)
	}

	if config.ReadTimeout == 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout == 0 {
		// metrics calls wait out upstream retries, keep writes generous
		config.WriteTimeout = 60 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}

	return &Server{
		server: &http.Server{
			Addr:         config.Host + ":" + config.Port,
			Handler:      root,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger: log,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Starting HTTP server", map[string]interface{}{
		"addr": s.server.Addr,
	})
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server", map[string]interface{}{})
	return s.server.Shutdown(ctx)
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info(r.Context(), "request handled", map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"remote":   r.RemoteAddr,
				"duration": time.Since(start).String(),
			})
		})
	}
}

func recoveryMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error(r.Context(), "panic recovered", nil, map[string]interface{}{
						"panic": rec,
						"path":  r.URL.Path,
					})
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
