package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/commission"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/payments"
	"example.com/backstage/services/auctions/internal/tracing"
)

const (
	methodCharge   = "charge"
	methodCapture  = "capture"
	methodRecorded = "recorded"
)

// PaymentManager is the slice of the payments package settlement needs
type PaymentManager interface {
	EnsureBidAuthorization(ctx context.Context, a *models.Auction, bidderID string) (*models.PaymentAuthorization, error)
	Cancel(ctx context.Context, p models.PaymentAuthorization) error
	ReleaseAll(ctx context.Context, auctionID uuid.UUID, keepBidderID string) (int, error)
	LiveBidAuthorization(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.PaymentAuthorization, error)
	FinalCommission(ctx context.Context, auctionID uuid.UUID) (*models.PaymentAuthorization, error)
	ChargeCommission(ctx context.Context, a *models.Auction, winnerID string, amount int64) (*models.PaymentAuthorization, error)
	CaptureAsCommission(ctx context.Context, a *models.Auction, hold models.PaymentAuthorization) (*models.PaymentAuthorization, error)
}

// CommissionResolver computes the commission owed on a final price
type CommissionResolver interface {
	Resolve(finalPrice int64) commission.Result
}

// SettlementService collects the buyer's commission once an auction is sold
type SettlementService struct {
	auctions *AuctionService
	payments PaymentManager
	resolver CommissionResolver
	metrics  *metrics.Metrics
}

// NewSettlementService creates a new settlement service
func NewSettlementService(auctions *AuctionService, payments PaymentManager, resolver CommissionResolver, m *metrics.Metrics) *SettlementService {
	return &SettlementService{
		auctions: auctions,
		payments: payments,
		resolver: resolver,
		metrics:  m,
	}
}

// Settle runs settlement for a sold auction. It is a no-op unless the
// auction's payment is pending, so repeated deliveries are harmless.
func (s *SettlementService) Settle(ctx context.Context, id uuid.UUID) error {
	defer tracing.StartSegment(ctx, "settlement/settle")()
	defer s.metrics.RecordDuration(metrics.SettlementTimer, time.Now())

	claimed := false
	a, err := s.auctions.mutate(ctx, id, "claim-settlement", func(a *models.Auction, _ time.Time) (auction.Effects, error) {
		if !auction.ClaimSettlement(a) {
			return nil, errNoChange
		}
		claimed = true
		return nil, nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug().Str("auction_id", id.String()).Str("payment_status", string(a.PaymentStatus)).Msg("settlement already claimed, skipping")
		return nil
	}

	method, amount, err := s.collect(ctx, a)
	if err != nil && !errors.Is(err, errCollectionFailed) {
		// infrastructure failure: hand the auction back so a retry can claim it
		if _, rerr := s.auctions.ReopenSettlement(ctx, id); rerr != nil {
			log.Error().Err(rerr).Str("auction_id", id.String()).Msg("failed to reopen settlement")
		}
		s.metrics.RecordOutcome(metrics.SettlementErrorRate, err)
		return err
	}

	if err != nil {
		reason := err.Error()
		_, ferr := s.auctions.mutate(ctx, id, "fail-settlement", func(a *models.Auction, _ time.Time) (auction.Effects, error) {
			return auction.FailSettlement(a, reason)
		})
		s.metrics.IncrementCounter(metrics.SettlementsFailed)
		s.metrics.RecordOutcome(metrics.SettlementErrorRate, err)
		log.Error().Err(err).Str("auction_id", id.String()).Msg("settlement failed, needs attention")
		return ferr
	}

	_, err = s.auctions.mutate(ctx, id, "complete-settlement", func(a *models.Auction, _ time.Time) (auction.Effects, error) {
		return auction.CompleteSettlement(a, amount, method)
	})
	if err != nil {
		return err
	}
	switch method {
	case methodCharge:
		s.metrics.IncrementCounter(metrics.SettlementsCharged)
	case methodCapture:
		s.metrics.IncrementCounter(metrics.SettlementsCaptured)
	}
	s.metrics.RecordOutcome(metrics.SettlementErrorRate, nil)
	log.Info().Str("auction_id", id.String()).Str("method", method).Int64("commission", amount).Msg("settlement completed")
	return nil
}

// Retry reopens a failed or stuck settlement and runs it again
func (s *SettlementService) Retry(ctx context.Context, id uuid.UUID) error {
	if _, err := s.auctions.ReopenSettlement(ctx, id); err != nil {
		return err
	}
	log.Info().Str("auction_id", id.String()).Msg("settlement reopened for retry")
	return s.Settle(ctx, id)
}

// SettleOverdue runs settlement for sold auctions whose settle event never
// completed. A claim left in processing for longer than olderThan belongs to a
// worker that died, so it is reopened first.
func (s *SettlementService) SettleOverdue(ctx context.Context, olderThan time.Duration) (int, error) {
	pending, err := s.auctions.ListUnsettled(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	cutoff := s.auctions.now().Add(-olderThan)
	settled := 0
	for _, a := range pending {
		if a.PaymentStatus == models.PaymentProcessing {
			if err := s.reclaim(ctx, a.ID, cutoff); err != nil {
				log.Error().Err(err).Str("auction_id", a.ID.String()).Msg("failed to reclaim stalled settlement")
				continue
			}
		}
		if err := s.Settle(ctx, a.ID); err != nil {
			log.Error().Err(err).Str("auction_id", a.ID.String()).Msg("overdue settlement failed")
			continue
		}
		settled++
	}
	return settled, nil
}

// reclaim reopens a processing settlement unless it was touched after cutoff
func (s *SettlementService) reclaim(ctx context.Context, id uuid.UUID, cutoff time.Time) error {
	_, err := s.auctions.mutate(ctx, id, "reclaim-settlement", func(a *models.Auction, _ time.Time) (auction.Effects, error) {
		if a.PaymentStatus != models.PaymentProcessing || a.UpdatedAt.After(cutoff) {
			return nil, errNoChange
		}
		log.Warn().Str("auction_id", id.String()).Time("claimed_at", a.UpdatedAt).Msg("reopening stalled settlement")
		return nil, auction.ReopenSettlement(a)
	})
	return err
}

var errCollectionFailed = errors.New("commission collection failed")

// collect releases the losers' holds and takes the commission from the winner,
// by direct charge first and by capturing their hold only when the charge was
// declined.
func (s *SettlementService) collect(ctx context.Context, a *models.Auction) (string, int64, error) {
	winnerID := *a.WinnerID

	released, err := s.payments.ReleaseAll(ctx, a.ID, winnerID)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", a.ID.String()).Msg("failed to release losing holds")
	} else if released > 0 {
		log.Info().Str("auction_id", a.ID.String()).Int("released", released).Msg("released losing holds")
	}

	existing, err := s.payments.FinalCommission(ctx, a.ID)
	if err != nil {
		return "", 0, err
	}
	if existing != nil && existing.Status == models.AuthSucceeded {
		return methodRecorded, existing.Amount, nil
	}

	hold, err := s.payments.LiveBidAuthorization(ctx, a.ID, winnerID)
	if err != nil {
		return "", 0, err
	}

	result := s.resolver.Resolve(*a.FinalPrice)
	_, chargeErr := s.payments.ChargeCommission(ctx, a, winnerID, result.Amount)
	if chargeErr == nil {
		if hold != nil && hold.Status == models.AuthRequiresCapture {
			if err := s.payments.Cancel(ctx, *hold); err != nil {
				log.Warn().Err(err).Str("auction_id", a.ID.String()).Msg("failed to cancel winner hold after charge")
			}
		}
		return methodCharge, result.Amount, nil
	}
	if !payments.ChargeDeclined(chargeErr) {
		// the charge may have landed; capturing the hold now could take the
		// commission twice
		return "", 0, chargeErr
	}
	log.Warn().Err(chargeErr).Str("auction_id", a.ID.String()).Msg("commission charge declined, trying hold capture")

	if hold == nil || hold.Status != models.AuthRequiresCapture {
		return "", 0, errors.Wrap(errCollectionFailed, chargeErr.Error())
	}
	captured, err := s.payments.CaptureAsCommission(ctx, a, *hold)
	if err != nil {
		return "", 0, errors.Wrapf(errCollectionFailed, "%s; %s", chargeErr.Error(), err.Error())
	}
	return methodCapture, captured.Amount, nil
}
