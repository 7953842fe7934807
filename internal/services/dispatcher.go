package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/notify"
	"example.com/backstage/services/auctions/internal/payments"
	"example.com/backstage/services/auctions/internal/repositories"
	"example.com/backstage/services/auctions/internal/tracing"
)

// OutboxStore hands out and settles outbox rows
type OutboxStore interface {
	ClaimByIDs(ctx context.Context, ids []uuid.UUID, now time.Time) ([]models.OutboxEvent, error)
	ClaimPending(ctx context.Context, now time.Time, leaseTimeout time.Duration, maxAttempts, limit int) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkFailed(ctx context.Context, ev models.OutboxEvent, cause error, maxAttempts int) error
	CountByStatus(ctx context.Context) (map[models.OutboxStatus]int64, error)
}

// AuctionReader loads an auction by id
type AuctionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Auction, error)
}

// UserFinder queries the user directory
type UserFinder interface {
	FindUsers(ctx context.Context, filter repositories.UserFilter) ([]models.User, error)
}

// ResultIndexer stores resolved auctions for search
type ResultIndexer interface {
	IndexAuctionResult(ctx context.Context, a *models.Auction) error
}

// Settler runs settlement for an auction
type Settler interface {
	Settle(ctx context.Context, id uuid.UUID) error
}

// DispatcherConfig tunes outbox processing
type DispatcherConfig struct {
	MaxAttempts   int
	LeaseTimeout  time.Duration
	BatchSize     int
	AnnounceBatch int
	AdminRole     string
}

// Dispatcher carries out committed side effects: notifications, payment
// holds, settlement and indexing. Rows are claimed before they run, so the
// immediate path and the poller never execute the same row twice at once.
type Dispatcher struct {
	outbox   OutboxStore
	auctions AuctionReader
	users    UserFinder
	notifier notify.Notifier
	payments PaymentManager
	settler  Settler
	indexer  ResultIndexer
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	cfg      DispatcherConfig

	wg  sync.WaitGroup
	now func() time.Time
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(
	outbox OutboxStore,
	auctions AuctionReader,
	users UserFinder,
	notifier notify.Notifier,
	pm PaymentManager,
	settler Settler,
	indexer ResultIndexer,
	m *metrics.Metrics,
	tracer tracing.Tracer,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.AnnounceBatch <= 0 {
		cfg.AnnounceBatch = 500
	}
	if tracer == nil {
		tracer = tracing.Disabled()
	}
	return &Dispatcher{
		outbox:   outbox,
		auctions: auctions,
		users:    users,
		notifier: notifier,
		payments: pm,
		settler:  settler,
		indexer:  indexer,
		metrics:  m,
		tracer:   tracer,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue runs freshly committed rows in the background. Rows the poller has
// already claimed are skipped.
func (d *Dispatcher) Enqueue(ctx context.Context, events []models.OutboxEvent) {
	ids := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		claimed, err := d.outbox.ClaimByIDs(ctx, ids, d.now())
		if err != nil {
			log.Error().Err(err).Int("events", len(ids)).Msg("failed to claim outbox events, leaving them to the poller")
			return
		}
		for _, ev := range claimed {
			d.handle(ctx, ev)
		}
	}()
}

// ProcessPending claims a batch of due rows and runs them in order
func (d *Dispatcher) ProcessPending(ctx context.Context) (int, error) {
	events, err := d.outbox.ClaimPending(ctx, d.now(), d.cfg.LeaseTimeout, d.cfg.MaxAttempts, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, ev := range events {
		d.handle(ctx, ev)
	}

	if counts, err := d.outbox.CountByStatus(ctx); err == nil {
		d.metrics.SetGauge(metrics.OutboxPendingGauge, counts[models.OutboxPending])
	}
	return len(events), nil
}

// Drain waits for in-flight background dispatches or ctx to end
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev models.OutboxEvent) {
	txn := d.tracer.StartTransaction("outbox/" + string(ev.Kind))
	defer d.tracer.EndTransaction(txn)
	d.tracer.AddAttribute(txn, "auction_id", ev.AuctionID.String())

	err := d.execute(tracing.NewContext(ctx, txn), ev)
	d.metrics.RecordOutcome(metrics.DispatchErrorRate, err)
	if err != nil {
		d.tracer.RecordError(txn, err)
		d.metrics.IncrementCounter(metrics.OutboxFailed)
		log.Warn().Err(err).
			Str("event_id", ev.ID.String()).
			Str("kind", string(ev.Kind)).
			Int("attempt", ev.Attempts).
			Msg("outbox event failed")
		if merr := d.outbox.MarkFailed(ctx, ev, err, d.cfg.MaxAttempts); merr != nil {
			log.Error().Err(merr).Str("event_id", ev.ID.String()).Msg("failed to record outbox failure")
		}
		return
	}

	if err := d.outbox.MarkProcessed(ctx, ev.ID, d.now()); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("failed to mark outbox event processed")
		return
	}
	d.metrics.IncrementCounter(metrics.OutboxDispatched)
}

func (d *Dispatcher) execute(ctx context.Context, ev models.OutboxEvent) error {
	var p auction.Payload
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return errors.Wrap(err, "failed to decode outbox payload")
		}
	}

	switch ev.Kind {
	case models.OutboxNotify:
		a, err := d.load(ctx, ev.AuctionID)
		if err != nil {
			return err
		}
		return d.notifier.Notify(ctx, p.Event, p.Recipients, snapshot(ev.AuctionID, a), p.Data)

	case models.OutboxAnnounceLive:
		a, err := d.load(ctx, ev.AuctionID)
		if err != nil || a == nil {
			return err
		}
		return d.announce(ctx, a, p)

	case models.OutboxAuthorizeBidder:
		a, err := d.load(ctx, ev.AuctionID)
		if err != nil || a == nil {
			return err
		}
		if !holdStillUseful(a, p.UserID) {
			log.Debug().Str("auction_id", a.ID.String()).Str("bidder_id", p.UserID).Msg("auction resolved, skipping bid hold")
			return nil
		}
		_, err = d.payments.EnsureBidAuthorization(ctx, a, p.UserID)
		if errors.Is(err, payments.ErrNoCommissionRate) {
			log.Warn().Str("auction_id", a.ID.String()).Str("category", a.Category).Msg("no commission rate for category, bid hold skipped")
			return nil
		}
		return err

	case models.OutboxSettle:
		return d.settler.Settle(ctx, ev.AuctionID)

	case models.OutboxReleaseAuthorizations:
		n, err := d.payments.ReleaseAll(ctx, ev.AuctionID, p.UserID)
		if err != nil {
			return err
		}
		log.Info().Str("auction_id", ev.AuctionID.String()).Int("released", n).Msg("released bid holds")
		return nil

	case models.OutboxIndexResult:
		a, err := d.load(ctx, ev.AuctionID)
		if err != nil || a == nil {
			return err
		}
		return d.indexer.IndexAuctionResult(ctx, a)
	}

	log.Error().Str("kind", string(ev.Kind)).Str("event_id", ev.ID.String()).Msg("unknown outbox event kind")
	return nil
}

// load returns nil without error when the auction has since been deleted
func (d *Dispatcher) load(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := d.auctions.Get(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Debug().Str("auction_id", id.String()).Msg("auction gone, dropping side effect")
		return nil, nil
	}
	return a, err
}

func snapshot(id uuid.UUID, a *models.Auction) notify.Snapshot {
	if a == nil {
		return notify.Snapshot{ID: id}
	}
	return notify.SnapshotOf(a)
}

// announce notifies every active, opted-in user except the seller and admins
func (d *Dispatcher) announce(ctx context.Context, a *models.Auction, p auction.Payload) error {
	filter := repositories.UserFilter{
		ExcludeIDs:      []string{a.SellerID},
		ActiveOnly:      true,
		NotOptedOutOnly: true,
	}
	if d.cfg.AdminRole != "" {
		filter.ExcludeRoles = []string{d.cfg.AdminRole}
	}
	users, err := d.users.FindUsers(ctx, filter)
	if err != nil {
		return err
	}

	event := p.Event
	if event == "" {
		event = auction.EventAuctionLive
	}
	snap := notify.SnapshotOf(a)
	for start := 0; start < len(users); start += d.cfg.AnnounceBatch {
		end := start + d.cfg.AnnounceBatch
		if end > len(users) {
			end = len(users)
		}
		recipients := make([]string, 0, end-start)
		for _, u := range users[start:end] {
			recipients = append(recipients, u.ID)
		}
		if err := d.notifier.Notify(ctx, event, recipients, snap, p.Data); err != nil {
			return errors.Wrapf(err, "failed to announce to batch starting at %d", start)
		}
	}
	log.Info().Str("auction_id", a.ID.String()).Int("recipients", len(users)).Msg("auction announced")
	return nil
}

// holdStillUseful reports whether a bid hold for userID can still matter:
// the auction is open, or userID won and settlement has not run yet.
func holdStillUseful(a *models.Auction, userID string) bool {
	if !a.Status.IsTerminal() {
		return true
	}
	return a.WinnerID != nil && *a.WinnerID == userID && a.PaymentStatus == models.PaymentPending
}
