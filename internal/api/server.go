package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/api/handlers"
	"example.com/backstage/services/auctions/internal/api/middleware"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/tracing"
)

// Dependencies are the services the HTTP surface calls into
type Dependencies struct {
	Auctions handlers.AuctionCommands
	Admin    handlers.AdminCommands
	Results  handlers.ResultSearcher
	Metrics  *metrics.Metrics
	Tracer   tracing.Tracer
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	deps       Dependencies
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deps Dependencies) *Server {
	server := &Server{
		config: cfg,
		deps:   deps,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	return server
}

// Router exposes the configured engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	if s.deps.Tracer != nil && s.deps.Tracer.Application() != nil {
		router.Use(middleware.NewRelicMiddleware(s.deps.Tracer.Application()))
	}
	router.Use(middleware.RequestID(), middleware.Logger(), middleware.Metrics(s.deps.Metrics))
	if s.config.Server.CorsEnabled {
		router.Use(middleware.CORS(s.config.Server.CorsOrigins))
	}

	metricsHandler := handlers.NewMetricsHandler(s.deps.Metrics)
	metricsHandler.RegisterRoutes(router, s.config.Server.MetricsEnabled)

	v1 := router.Group("/api/v1", middleware.Auth(s.config.Auth))

	// static segment first so it is not read as an auction id
	if s.deps.Results != nil {
		handlers.NewResultsHandler(s.deps.Results).RegisterRoutes(v1)
	}
	handlers.NewAuctionHandler(s.deps.Auctions).RegisterRoutes(v1)
	handlers.NewAdminHandler(s.deps.Admin).RegisterRoutes(v1)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
