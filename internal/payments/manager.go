package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/repositories"
)

var (
	// ErrNoPaymentMethod is returned when a user has no stored payment method
	ErrNoPaymentMethod = errors.New("user has no default payment method")
	// ErrNoCommissionRate is returned when a category has no flat estimate
	ErrNoCommissionRate = errors.New("no commission rate configured for category")
	// ErrChargeDeclined is returned when the gateway refused a commission charge
	ErrChargeDeclined = errors.New("commission charge declined")
	// ErrChargeUnconfirmed is returned when a commission charge may have gone
	// through but the outcome is unknown
	ErrChargeUnconfirmed = errors.New("commission charge outcome unknown")
	// ErrChargeUnrecorded is returned when the gateway took the charge but the
	// commission record could not be stored
	ErrChargeUnrecorded = errors.New("commission charged but not recorded")
)

// ChargeDeclined reports whether a ChargeCommission error means no money moved.
// Any other error may hide a completed charge and must be retried, not
// compensated for.
func ChargeDeclined(err error) bool {
	return errors.Is(err, ErrChargeDeclined) || errors.Is(err, ErrNoPaymentMethod)
}

// Store persists payment records
type Store interface {
	Create(ctx context.Context, p *models.PaymentAuthorization) error
	Transition(ctx context.Context, id uuid.UUID, from, to models.AuthorizationStatus, reason *string) (bool, error)
	FindLiveBidAuthorization(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.PaymentAuthorization, error)
	ListLiveBidAuthorizations(ctx context.Context, auctionID uuid.UUID) ([]models.PaymentAuthorization, error)
	FindFinalCommission(ctx context.Context, auctionID uuid.UUID) (*models.PaymentAuthorization, error)
}

// UserDirectory resolves a user's stored payment details
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// RateSource returns the flat per-category commission estimate
type RateSource interface {
	GetCommissionRateConfig(ctx context.Context, category string) (*models.CategoryCommissionRate, error)
}

// Manager owns the payment record state machine on top of the gateway
type Manager struct {
	gateway  Gateway
	store    Store
	users    UserDirectory
	rates    RateSource
	currency string
}

// NewManager creates a payment authorization manager
func NewManager(gateway Gateway, store Store, users UserDirectory, rates RateSource, currency string) *Manager {
	return &Manager{
		gateway:  gateway,
		store:    store,
		users:    users,
		rates:    rates,
		currency: currency,
	}
}

// EnsureBidAuthorization places a hold for the category estimate unless the
// bidder already has a live one on this auction. Declined holds are recorded as
// failed and do not return an error; temporary gateway errors do.
func (m *Manager) EnsureBidAuthorization(ctx context.Context, a *models.Auction, bidderID string) (*models.PaymentAuthorization, error) {
	existing, err := m.store.FindLiveBidAuthorization(ctx, a.ID, bidderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	rate, err := m.rates.GetCommissionRateConfig(ctx, a.Category)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.Wrapf(ErrNoCommissionRate, "category %q", a.Category)
		}
		return nil, err
	}

	record := &models.PaymentAuthorization{
		ID:        uuid.New(),
		AuctionID: a.ID,
		BidderID:  bidderID,
		Kind:      models.KindBidAuthorization,
		Amount:    rate.CommissionAmount,
	}

	user, err := m.users.GetUser(ctx, bidderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load bidder")
	}
	if user.PaymentCustomerID == "" || user.DefaultPaymentMethodID == "" {
		return m.recordFailed(ctx, record, ErrNoPaymentMethod)
	}

	intent, err := m.gateway.CreateAuthorization(ctx, AuthorizationRequest{
		CustomerID:      user.PaymentCustomerID,
		PaymentMethodID: user.DefaultPaymentMethodID,
		Amount:          rate.CommissionAmount,
		Currency:        m.currency,
		Description:     fmt.Sprintf("Commission hold for auction %s", a.ID),
		IdempotencyKey:  fmt.Sprintf("hold-%s-%s", a.ID, bidderID),
		Metadata:        map[string]string{"auction_id": a.ID.String(), "bidder_id": bidderID},
	})
	if err != nil {
		if IsTemporary(err) {
			return nil, errors.Wrap(err, "failed to create authorization")
		}
		return m.recordFailed(ctx, record, err)
	}

	record.ExternalIntentID = intent.ID
	record.Status = models.AuthRequiresCapture
	if err := m.store.Create(ctx, record); err != nil {
		// a concurrent attempt may have won the unique live-hold index
		if live, findErr := m.store.FindLiveBidAuthorization(ctx, a.ID, bidderID); findErr == nil {
			if live.ExternalIntentID != intent.ID {
				if cancelErr := m.gateway.CancelAuthorization(ctx, intent.ID); cancelErr != nil {
					log.Warn().Err(cancelErr).Str("intent_id", intent.ID).Msg("failed to cancel duplicate hold")
				}
			}
			return live, nil
		}
		return nil, err
	}

	log.Info().
		Str("auction_id", a.ID.String()).
		Str("bidder_id", bidderID).
		Int64("amount", record.Amount).
		Msg("bid authorization placed")
	return record, nil
}

func (m *Manager) recordFailed(ctx context.Context, record *models.PaymentAuthorization, cause error) (*models.PaymentAuthorization, error) {
	reason := cause.Error()
	record.Status = models.AuthFailed
	record.FailureReason = &reason
	if err := m.store.Create(ctx, record); err != nil {
		return nil, err
	}
	log.Warn().
		Str("auction_id", record.AuctionID.String()).
		Str("bidder_id", record.BidderID).
		Str("reason", reason).
		Msg("bid authorization failed")
	return record, nil
}

// Cancel releases a live hold
func (m *Manager) Cancel(ctx context.Context, p models.PaymentAuthorization) error {
	if p.Status != models.AuthRequiresCapture {
		return nil
	}
	if err := m.gateway.CancelAuthorization(ctx, p.ExternalIntentID); err != nil {
		return errors.Wrapf(err, "failed to cancel authorization %s", p.ID)
	}
	if _, err := m.store.Transition(ctx, p.ID, models.AuthRequiresCapture, models.AuthCanceled, nil); err != nil {
		return err
	}
	return nil
}

// ReleaseAll cancels every live hold on an auction except keepBidderID's.
// Individual failures are logged and the rest still run.
func (m *Manager) ReleaseAll(ctx context.Context, auctionID uuid.UUID, keepBidderID string) (int, error) {
	holds, err := m.store.ListLiveBidAuthorizations(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, h := range holds {
		if keepBidderID != "" && h.BidderID == keepBidderID {
			continue
		}
		if err := m.Cancel(ctx, h); err != nil {
			log.Error().Err(err).
				Str("auction_id", auctionID.String()).
				Str("bidder_id", h.BidderID).
				Msg("failed to release bid authorization")
			continue
		}
		released++
	}
	return released, nil
}

// LiveBidAuthorization returns a bidder's live hold or nil
func (m *Manager) LiveBidAuthorization(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.PaymentAuthorization, error) {
	p, err := m.store.FindLiveBidAuthorization(ctx, auctionID, bidderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// FinalCommission returns the auction's commission record or nil
func (m *Manager) FinalCommission(ctx context.Context, auctionID uuid.UUID) (*models.PaymentAuthorization, error) {
	p, err := m.store.FindFinalCommission(ctx, auctionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// ChargeCommission charges the winner's stored payment method for amount and
// records the final commission. Retrying after ErrChargeUnconfirmed or
// ErrChargeUnrecorded is safe: the gateway deduplicates on the auction's
// idempotency key.
func (m *Manager) ChargeCommission(ctx context.Context, a *models.Auction, winnerID string, amount int64) (*models.PaymentAuthorization, error) {
	user, err := m.users.GetUser(ctx, winnerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load winner")
	}
	if user.PaymentCustomerID == "" || user.DefaultPaymentMethodID == "" {
		return nil, ErrNoPaymentMethod
	}

	intent, err := m.gateway.ChargeNow(ctx, AuthorizationRequest{
		CustomerID:      user.PaymentCustomerID,
		PaymentMethodID: user.DefaultPaymentMethodID,
		Amount:          amount,
		Currency:        m.currency,
		Description:     fmt.Sprintf("Commission for auction %s", a.ID),
		IdempotencyKey:  fmt.Sprintf("commission-%s", a.ID),
		Metadata:        map[string]string{"auction_id": a.ID.String(), "winner_id": winnerID},
	})
	if err != nil {
		if IsTemporary(err) {
			return nil, errors.Wrapf(ErrChargeUnconfirmed, "%v", err)
		}
		return nil, errors.Wrapf(ErrChargeDeclined, "%v", err)
	}

	record := &models.PaymentAuthorization{
		AuctionID:        a.ID,
		BidderID:         winnerID,
		Kind:             models.KindFinalCommission,
		ExternalIntentID: intent.ID,
		Amount:           amount,
		Status:           models.AuthSucceeded,
	}
	if err := m.store.Create(ctx, record); err != nil {
		log.Error().Err(err).Str("auction_id", a.ID.String()).Str("intent_id", intent.ID).Msg("commission charged but record not stored")
		return nil, errors.Wrapf(ErrChargeUnrecorded, "intent %s: %v", intent.ID, err)
	}
	return record, nil
}

// CaptureAsCommission captures the winner's hold and records it as the final
// commission at the hold amount.
func (m *Manager) CaptureAsCommission(ctx context.Context, a *models.Auction, hold models.PaymentAuthorization) (*models.PaymentAuthorization, error) {
	if _, err := m.gateway.CaptureAuthorization(ctx, hold.ExternalIntentID); err != nil {
		return nil, errors.Wrap(err, "hold capture failed")
	}
	if _, err := m.store.Transition(ctx, hold.ID, models.AuthRequiresCapture, models.AuthSucceeded, nil); err != nil {
		return nil, err
	}

	record := &models.PaymentAuthorization{
		AuctionID:        a.ID,
		BidderID:         hold.BidderID,
		Kind:             models.KindFinalCommission,
		ExternalIntentID: hold.ExternalIntentID,
		Amount:           hold.Amount,
		Status:           models.AuthSucceeded,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
