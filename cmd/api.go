package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/auctions/internal/api"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for sellers, buyers and admins`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := bootstrap(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg, api.Dependencies{
		Auctions: a.auctions,
		Admin:    a.auctions,
		Results:  a.elastic,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}

	if shutdownErr := server.Shutdown(context.Background()); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("Server shutdown error")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.close(drainCtx)

	log.Info().Msg("Shutting down API server")
	return err
}
