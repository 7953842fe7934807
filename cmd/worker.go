package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/auctions/internal/cache"
	"example.com/backstage/services/auctions/internal/scheduler"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that fires auction jobs, dispatches the outbox and reconciles missed work`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a, err := bootstrap(cfg)
	if err != nil {
		return err
	}

	// Without Redis every worker runs every pass; claims keep that safe
	var locker gocron.Locker
	if a.redis.Enabled() {
		locker = cache.NewLocker(a.redis.Client(), "auctions:scheduler:", cfg.Redis.LockTTL)
	} else {
		log.Warn().Msg("Redis disabled, scheduler passes are not coordinated across workers")
	}

	sched, err := scheduler.New(cfg.Scheduler, a.jobs, a.auctions, a.dispatcher, a.settlements, locker, a.metrics, a.tracer)
	if err != nil {
		return err
	}

	g.Go(func() error {
		log.Info().Msg("Starting auction scheduler")
		return sched.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.close(drainCtx)

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
