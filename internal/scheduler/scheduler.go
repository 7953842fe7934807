// Package scheduler runs the worker's periodic passes: firing due lifecycle
// jobs, draining the outbox and the ending-soon, offer expiry and
// reconciliation sweeps.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/tracing"
)

// JobStore hands out due lifecycle jobs
type JobStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, job models.ScheduledJob, cause error, retryAt time.Time, maxAttempts int) error
	RequeueStale(ctx context.Context, lockedBefore time.Time, maxAttempts int) (int64, error)
}

// Lifecycle runs job handlers and sweeps against auctions
type Lifecycle interface {
	ActivateAuction(ctx context.Context, id uuid.UUID) error
	CloseAuction(ctx context.Context, id uuid.UUID) (auction.CloseOutcome, error)
	SweepEndingSoon(ctx context.Context) (int, error)
	ExpireOffers(ctx context.Context) (int, error)
	Reconcile(ctx context.Context) (int, error)
}

// OutboxProcessor drains pending outbox rows
type OutboxProcessor interface {
	ProcessPending(ctx context.Context) (int, error)
}

// Settlements picks up settlements whose event never completed
type Settlements interface {
	SettleOverdue(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler wraps a gocron scheduler. With a distributed locker each pass
// runs on one worker at a time across the fleet.
type Scheduler struct {
	cron        gocron.Scheduler
	cfg         config.SchedulerConfig
	jobs        JobStore
	lifecycle   Lifecycle
	outbox      OutboxProcessor
	settlements Settlements
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
	now         func() time.Time
}

// New creates a scheduler. locker may be nil for a single worker.
func New(
	cfg config.SchedulerConfig,
	jobs JobStore,
	lifecycle Lifecycle,
	outbox OutboxProcessor,
	settlements Settlements,
	locker gocron.Locker,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) (*Scheduler, error) {
	var opts []gocron.SchedulerOption
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}
	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}
	if tracer == nil {
		tracer = tracing.Disabled()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 10
	}
	if cfg.JobRetryBackoff <= 0 {
		cfg.JobRetryBackoff = 30 * time.Second
	}
	return &Scheduler{
		cron:        cron,
		cfg:         cfg,
		jobs:        jobs,
		lifecycle:   lifecycle,
		outbox:      outbox,
		settlements: settlements,
		metrics:     m,
		tracer:      tracer,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

type pass struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int, error)
}

func (s *Scheduler) passes() []pass {
	return []pass{
		{name: "fire-due-jobs", interval: s.cfg.PollInterval, run: s.FireDueJobs},
		{name: "dispatch-outbox", interval: s.cfg.OutboxInterval, run: s.outbox.ProcessPending},
		{name: "ending-soon", interval: s.cfg.EndingSoonInterval, run: s.lifecycle.SweepEndingSoon},
		{name: "expire-offers", interval: s.cfg.OfferExpiryInterval, run: s.lifecycle.ExpireOffers},
		{name: "reconcile", interval: s.cfg.ReconcileInterval, run: s.reconcile},
	}
}

// Start registers every pass and blocks until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	for _, p := range s.passes() {
		if p.interval <= 0 {
			log.Warn().Str("job", p.name).Msg("no interval configured, pass disabled")
			continue
		}
		p := p
		_, err := s.cron.NewJob(
			gocron.DurationJob(p.interval),
			gocron.NewTask(func() { s.runPass(ctx, p) }),
			gocron.WithName(p.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return errors.Wrapf(err, "failed to register %s job", p.name)
		}
		log.Info().Str("job", p.name).Dur("interval", p.interval).Msg("scheduled worker pass")
	}

	s.cron.Start()
	<-ctx.Done()
	return s.Stop()
}

// Stop shuts down the scheduler, waiting for running passes
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return errors.Wrap(err, "failed to shut down scheduler")
	}
	log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) runPass(ctx context.Context, p pass) {
	if ctx.Err() != nil {
		return
	}
	txn := s.tracer.StartTransaction("worker/" + p.name)
	defer s.tracer.EndTransaction(txn)

	start := time.Now()
	n, err := p.run(tracing.NewContext(ctx, txn))
	if err != nil {
		s.tracer.RecordError(txn, err)
		log.Error().Err(err).Str("job", p.name).Msg("worker pass failed")
		return
	}
	if n > 0 {
		log.Info().Str("job", p.name).Int("processed", n).Dur("took", time.Since(start)).Msg("worker pass finished")
	}
}

// FireDueJobs claims due activate and end jobs and runs their handlers. A
// failed job goes back to the queue and is retried on a later pass.
func (s *Scheduler) FireDueJobs(ctx context.Context) (int, error) {
	due, err := s.jobs.ClaimDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, job := range due {
		logger := log.With().Str("job_id", job.ID.String()).Str("auction_id", job.AuctionID.String()).Str("kind", string(job.Kind)).Logger()

		if err := s.fire(ctx, job); err != nil {
			s.metrics.IncrementCounter(metrics.JobsFailed)
			if job.Attempts >= s.cfg.JobMaxAttempts {
				logger.Error().Err(err).Int("attempt", job.Attempts).Msg("job failed, giving up")
			} else {
				logger.Error().Err(err).Int("attempt", job.Attempts).Msg("job failed, releasing")
			}
			if rerr := s.jobs.Release(ctx, job, err, s.retryAt(job.Attempts), s.cfg.JobMaxAttempts); rerr != nil {
				logger.Error().Err(rerr).Msg("failed to release job")
			}
			continue
		}
		if err := s.jobs.Complete(ctx, job.ID); err != nil {
			logger.Error().Err(err).Msg("failed to complete job")
			continue
		}
		s.metrics.IncrementCounter(metrics.JobsFired)
		fired++
	}
	return fired, nil
}

// maxJobBackoff caps the exponential retry delay
const maxJobBackoff = time.Hour

// retryAt doubles the configured backoff per failed attempt
func (s *Scheduler) retryAt(attempts int) time.Time {
	delay := s.cfg.JobRetryBackoff
	for i := 1; i < attempts && delay < maxJobBackoff; i++ {
		delay *= 2
	}
	if delay > maxJobBackoff {
		delay = maxJobBackoff
	}
	return s.now().Add(delay)
}

func (s *Scheduler) fire(ctx context.Context, job models.ScheduledJob) error {
	switch job.Kind {
	case models.JobActivate:
		return s.lifecycle.ActivateAuction(ctx, job.AuctionID)
	case models.JobEnd:
		_, err := s.lifecycle.CloseAuction(ctx, job.AuctionID)
		return err
	}
	return errors.Errorf("unknown job kind %q", job.Kind)
}

// reconcile requeues jobs abandoned by dead workers, reschedules stranded
// auctions and settles sold auctions whose settle event was lost
func (s *Scheduler) reconcile(ctx context.Context) (int, error) {
	lease := s.cfg.LeaseTimeout
	if lease <= 0 {
		lease = 5 * time.Minute
	}

	requeued, err := s.jobs.RequeueStale(ctx, s.now().Add(-lease), s.cfg.JobMaxAttempts)
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		log.Warn().Int64("jobs", requeued).Msg("requeued jobs with expired leases")
	}

	fixed, err := s.lifecycle.Reconcile(ctx)
	if err != nil {
		return int(requeued), err
	}

	settled := 0
	if s.settlements != nil {
		settled, err = s.settlements.SettleOverdue(ctx, lease)
		if err != nil {
			return int(requeued) + fixed, err
		}
	}
	return int(requeued) + fixed + settled, nil
}
