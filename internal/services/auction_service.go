package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/cache"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/repositories"
	"example.com/backstage/services/auctions/internal/tracing"
)

const maxCASAttempts = 3

// errNoChange tells mutate the operation left the auction untouched
var errNoChange = errors.New("no change")

// ErrAdminOnly is returned when a non-admin calls an admin override
var ErrAdminOnly = &auction.Error{Kind: auction.KindForbidden, Code: "admin_only", Message: "only admins can do this"}

// AuctionStore persists auctions with their intents
type AuctionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	Create(ctx context.Context, a *models.Auction, intents []auction.Intent) ([]models.OutboxEvent, error)
	Save(ctx context.Context, a *models.Auction, expectedVersion int, intents []auction.Intent) ([]models.OutboxEvent, error)
	Delete(ctx context.Context, a *models.Auction, expectedVersion int, intents []auction.Intent) error
	ListEndingBetween(ctx context.Context, from, to time.Time, limit int) ([]models.Auction, error)
	ListWithOpenOffers(ctx context.Context, limit int) ([]models.Auction, error)
	ListMissingJobs(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
	ListUnsettled(ctx context.Context, olderThan time.Time, limit int) ([]models.Auction, error)
}

// Cache holds read snapshots of auctions
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Enqueuer hands freshly committed outbox rows to the dispatcher
type Enqueuer interface {
	Enqueue(ctx context.Context, events []models.OutboxEvent)
}

// Actor is the authenticated caller of a command
type Actor struct {
	ID      string
	IsAdmin bool
}

// AuctionService runs every auction command as one serialised, versioned
// read-modify-write and hands the resulting side effects to the outbox.
type AuctionService struct {
	store      AuctionStore
	cache      Cache
	dispatcher Enqueuer
	metrics    *metrics.Metrics
	locks      *keyedMutex
	batchSize  int
	now        func() time.Time
}

// NewAuctionService creates a new auction service
func NewAuctionService(store AuctionStore, c Cache, m *metrics.Metrics, batchSize int) *AuctionService {
	if c == nil {
		c = cache.Disabled()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &AuctionService{
		store:     store,
		cache:     c,
		metrics:   m,
		locks:     newKeyedMutex(),
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetDispatcher wires the post-commit dispatcher
func (s *AuctionService) SetDispatcher(d Enqueuer) {
	s.dispatcher = d
}

type mutation func(a *models.Auction, now time.Time) (auction.Effects, error)

// mutate loads the auction, applies fn and saves it with a version check,
// retrying on conflicts. Callers never see a half-applied operation.
func (s *AuctionService) mutate(ctx context.Context, id uuid.UUID, op string, fn mutation) (*models.Auction, error) {
	defer tracing.StartSegment(ctx, "auction/"+op)()
	defer s.metrics.RecordDuration(metrics.MutationTimer, time.Now())

	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, auction.ErrAuctionNotFound
			}
			return nil, err
		}

		a := current.Clone()
		fx, opErr := fn(a, s.now())
		if errors.Is(opErr, errNoChange) {
			return current, nil
		}
		var persisted *auction.Persisted
		if opErr != nil && !errors.As(opErr, &persisted) {
			return nil, opErr
		}

		expected := a.Version
		a.Version++
		events, err := s.store.Save(ctx, a, expected, fx)
		if errors.Is(err, repositories.ErrVersionConflict) {
			s.metrics.IncrementCounter(metrics.CASConflicts)
			log.Debug().Str("auction_id", id.String()).Str("op", op).Int("attempt", attempt).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.invalidate(ctx, id)
		s.enqueue(ctx, events)
		if persisted != nil {
			return a, persisted.Err
		}
		return a, nil
	}

	log.Warn().Str("auction_id", id.String()).Str("op", op).Msg("giving up after repeated version conflicts")
	return nil, auction.ErrConcurrentUpdate
}

func (s *AuctionService) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.Delete(ctx, cache.AuctionKey(id)); err != nil {
		log.Warn().Err(err).Str("auction_id", id.String()).Msg("failed to invalidate auction cache")
	}
}

func (s *AuctionService) enqueue(ctx context.Context, events []models.OutboxEvent) {
	if s.dispatcher == nil || len(events) == 0 {
		return
	}
	s.dispatcher.Enqueue(context.WithoutCancel(ctx), events)
}

// Create stores a new draft listing
func (s *AuctionService) Create(ctx context.Context, actor Actor, in auction.CreateInput) (*models.Auction, error) {
	a, err := auction.New(actor.ID, in, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Create(ctx, a, nil); err != nil {
		return nil, err
	}
	log.Info().Str("auction_id", a.ID.String()).Str("seller_id", a.SellerID).Msg("auction created")
	return a, nil
}

// Get returns an auction, served from cache when possible
func (s *AuctionService) Get(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	key := cache.AuctionKey(id)
	var cached models.Auction
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	a, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, auction.ErrAuctionNotFound
		}
		return nil, err
	}
	if err := s.cache.Set(ctx, key, a, 0); err != nil {
		log.Warn().Err(err).Str("auction_id", id.String()).Msg("failed to cache auction")
	}
	return a, nil
}

// PlaceBid places a bid for actor
func (s *AuctionService) PlaceBid(ctx context.Context, id uuid.UUID, actor Actor, amount int64) (*models.Auction, error) {
	a, err := s.mutate(ctx, id, "place-bid", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.PlaceBid(a, actor.ID, amount, now)
	})
	if err != nil {
		s.metrics.IncrementCounter(metrics.BidsRejected)
		return nil, err
	}
	s.metrics.IncrementCounter(metrics.BidsPlaced)
	log.Info().Str("auction_id", id.String()).Str("bidder_id", actor.ID).Int64("amount", amount).Msg("bid placed")
	return a, nil
}

// BuyNow purchases the auction at its buy now price
func (s *AuctionService) BuyNow(ctx context.Context, id uuid.UUID, actor Actor) (*models.Auction, error) {
	a, err := s.mutate(ctx, id, "buy-now", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.BuyNow(a, actor.ID, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementCounter(metrics.BuyNowPurchases)
	s.metrics.IncrementCounter(metrics.AuctionsSold)
	log.Info().Str("auction_id", id.String()).Str("buyer_id", actor.ID).Msg("auction bought now")
	return a, nil
}

// MakeOffer records an offer from actor
func (s *AuctionService) MakeOffer(ctx context.Context, id uuid.UUID, actor Actor, amount int64, message string) (*models.Auction, *models.Offer, error) {
	var offerID uuid.UUID
	a, err := s.mutate(ctx, id, "make-offer", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		fx, o, err := auction.MakeOffer(a, actor.ID, amount, message, now)
		if err != nil {
			return nil, err
		}
		offerID = o.ID
		return fx, nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.metrics.IncrementCounter(metrics.OffersMade)
	offer := *a.FindOffer(offerID)
	return a, &offer, nil
}

// RespondToOffer lets the seller or an admin accept, reject or counter
func (s *AuctionService) RespondToOffer(ctx context.Context, id, offerID uuid.UUID, actor Actor, resp auction.OfferResponse) (*models.Auction, error) {
	a, err := s.mutate(ctx, id, "respond-offer", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.RespondToOffer(a, offerID, actor.ID, actor.IsAdmin, resp, now)
	})
	if err == nil && a.Status.IsSold() {
		s.metrics.IncrementCounter(metrics.AuctionsSold)
	}
	return a, err
}

// RespondToCounter lets the buyer accept or reject the seller's counter
func (s *AuctionService) RespondToCounter(ctx context.Context, id, offerID uuid.UUID, actor Actor, accept bool) (*models.Auction, error) {
	a, err := s.mutate(ctx, id, "respond-counter", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.RespondToCounter(a, offerID, actor.ID, accept, now)
	})
	if err == nil && a.Status.IsSold() {
		s.metrics.IncrementCounter(metrics.AuctionsSold)
	}
	return a, err
}

// WithdrawOffer withdraws the buyer's pending offer
func (s *AuctionService) WithdrawOffer(ctx context.Context, id, offerID uuid.UUID, actor Actor) (*models.Auction, error) {
	return s.mutate(ctx, id, "withdraw-offer", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.WithdrawOffer(a, offerID, actor.ID, now)
	})
}

// ReactivateOffer accepts a previously rejected offer
func (s *AuctionService) ReactivateOffer(ctx context.Context, id, offerID uuid.UUID, actor Actor) (*models.Auction, error) {
	a, err := s.mutate(ctx, id, "reactivate-offer", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.ReactivateAndAccept(a, offerID, actor.ID, actor.IsAdmin, now)
	})
	if err == nil {
		s.metrics.IncrementCounter(metrics.AuctionsSold)
	}
	return a, err
}

// UpdateListing edits dates and prices
func (s *AuctionService) UpdateListing(ctx context.Context, id uuid.UUID, actor Actor, u auction.ListingUpdate) (*models.Auction, error) {
	return s.mutate(ctx, id, "update-listing", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.UpdateListing(a, u, actor.ID, actor.IsAdmin, now)
	})
}

// Delete soft-deletes a listing that never saw any activity
func (s *AuctionService) Delete(ctx context.Context, id uuid.UUID, actor Actor) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return auction.ErrAuctionNotFound
			}
			return err
		}
		fx, err := auction.CheckDeletable(a, actor.ID, actor.IsAdmin)
		if err != nil {
			return err
		}
		err = s.store.Delete(ctx, a, a.Version, fx)
		if errors.Is(err, repositories.ErrVersionConflict) {
			s.metrics.IncrementCounter(metrics.CASConflicts)
			continue
		}
		if err != nil {
			return err
		}
		s.invalidate(ctx, id)
		log.Info().Str("auction_id", id.String()).Str("actor_id", actor.ID).Msg("auction deleted")
		return nil
	}
	return auction.ErrConcurrentUpdate
}

// Approve is the admin approval of a draft
func (s *AuctionService) Approve(ctx context.Context, id uuid.UUID, actor Actor) (*models.Auction, error) {
	if !actor.IsAdmin {
		return nil, ErrAdminOnly
	}
	return s.mutate(ctx, id, "approve", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.Approve(a, now)
	})
}

// Cancel is the admin cancellation of a live auction
func (s *AuctionService) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*models.Auction, error) {
	if !actor.IsAdmin {
		return nil, ErrAdminOnly
	}
	return s.mutate(ctx, id, "cancel", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.Cancel(a, now)
	})
}

// Reactivate puts a cancelled auction back on the market
func (s *AuctionService) Reactivate(ctx context.Context, id uuid.UUID, actor Actor, newEnd *time.Time) (*models.Auction, error) {
	if !actor.IsAdmin {
		return nil, ErrAdminOnly
	}
	return s.mutate(ctx, id, "reactivate", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return auction.Reactivate(a, newEnd, now)
	})
}

// ReopenSettlement resets a failed or stuck settlement to pending
func (s *AuctionService) ReopenSettlement(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return s.mutate(ctx, id, "reopen-settlement", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		return nil, auction.ReopenSettlement(a)
	})
}

// ActivateAuction runs the activate job
func (s *AuctionService) ActivateAuction(ctx context.Context, id uuid.UUID) error {
	activated := false
	_, err := s.mutate(ctx, id, "activate", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		fx, ok := auction.Activate(a, now)
		if !ok {
			return nil, errNoChange
		}
		activated = true
		return fx, nil
	})
	if err != nil {
		return err
	}
	if activated {
		s.metrics.IncrementCounter(metrics.AuctionsActivated)
		log.Info().Str("auction_id", id.String()).Msg("auction activated")
	}
	return nil
}

// CloseAuction runs the end job
func (s *AuctionService) CloseAuction(ctx context.Context, id uuid.UUID) (auction.CloseOutcome, error) {
	outcome := auction.CloseNoop
	a, err := s.mutate(ctx, id, "close", func(a *models.Auction, now time.Time) (auction.Effects, error) {
		fx, out := auction.Close(a, now)
		if out == auction.CloseNoop {
			return nil, errNoChange
		}
		outcome = out
		return fx, nil
	})
	if err != nil {
		return auction.CloseNoop, err
	}
	if outcome == auction.CloseResolved {
		s.metrics.IncrementCounter(metrics.AuctionsClosed)
		if a.Status.IsSold() {
			s.metrics.IncrementCounter(metrics.AuctionsSold)
		}
		log.Info().Str("auction_id", id.String()).Str("status", string(a.Status)).Msg("auction closed")
	}
	return outcome, nil
}

// SweepEndingSoon sends ending-soon notices for auctions inside a window
func (s *AuctionService) SweepEndingSoon(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ListEndingBetween(ctx, now, now.Add(auction.WidestWindow()), s.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, c := range candidates {
		fired := false
		_, err := s.mutate(ctx, c.ID, "ending-soon", func(a *models.Auction, now time.Time) (auction.Effects, error) {
			fx, _, ok := auction.MarkEndingSoon(a, now)
			if !ok {
				return nil, errNoChange
			}
			fired = true
			return fx, nil
		})
		if err != nil {
			log.Error().Err(err).Str("auction_id", c.ID.String()).Msg("ending-soon notice failed")
			continue
		}
		if fired {
			sent++
		}
	}
	s.metrics.IncrementCounterBy(metrics.EndingSoonSent, int64(sent))
	return sent, nil
}

// ExpireOffers marks offers past their expiry as expired
func (s *AuctionService) ExpireOffers(ctx context.Context) (int, error) {
	candidates, err := s.store.ListWithOpenOffers(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range candidates {
		expired := 0
		_, err := s.mutate(ctx, c.ID, "expire-offers", func(a *models.Auction, now time.Time) (auction.Effects, error) {
			fx, n := auction.ExpireOffers(a, now)
			if n == 0 {
				return nil, errNoChange
			}
			expired = n
			return fx, nil
		})
		if err != nil {
			log.Error().Err(err).Str("auction_id", c.ID.String()).Msg("offer expiry failed")
			continue
		}
		total += expired
	}
	s.metrics.IncrementCounterBy(metrics.OffersExpired, int64(total))
	return total, nil
}

// Reconcile gives auctions that are due for a lifecycle step but have no
// scheduled job an immediate one
func (s *AuctionService) Reconcile(ctx context.Context) (int, error) {
	stranded, err := s.store.ListMissingJobs(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, c := range stranded {
		repaired := false
		_, err := s.mutate(ctx, c.ID, "reconcile", func(a *models.Auction, now time.Time) (auction.Effects, error) {
			fx, ok := auction.Reconcile(a, now)
			if !ok {
				return nil, errNoChange
			}
			repaired = true
			return fx, nil
		})
		if err != nil {
			log.Error().Err(err).Str("auction_id", c.ID.String()).Msg("reconciliation failed")
			continue
		}
		if repaired {
			fixed++
			log.Warn().Str("auction_id", c.ID.String()).Str("status", string(c.Status)).Msg("rescheduled stranded auction")
		}
	}
	s.metrics.IncrementCounterBy(metrics.JobsReconciled, int64(fixed))
	return fixed, nil
}

// ListUnsettled returns sold auctions whose settlement never started or
// stalled mid-way
func (s *AuctionService) ListUnsettled(ctx context.Context, olderThan time.Duration) ([]models.Auction, error) {
	return s.store.ListUnsettled(ctx, s.now().Add(-olderThan), s.batchSize)
}
