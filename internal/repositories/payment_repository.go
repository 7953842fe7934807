package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/auctions/internal/database"
	"example.com/backstage/services/auctions/internal/models"
)

// PaymentRepository stores authorization and commission records
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment record
func (r *PaymentRepository) Create(ctx context.Context, p *models.PaymentAuthorization) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return errors.Wrap(err, "failed to create payment record")
	}
	return nil
}

// Transition moves a record from one status to another. It reports false when
// the record was no longer in the expected status.
func (r *PaymentRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.AuthorizationStatus, reason *string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if reason != nil {
		updates["failure_reason"] = *reason
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentAuthorization{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to update payment record")
	}
	return res.RowsAffected == 1, nil
}

// FindLiveBidAuthorization returns the bidder's live hold on an auction
func (r *PaymentRepository) FindLiveBidAuthorization(ctx context.Context, auctionID uuid.UUID, bidderID string) (*models.PaymentAuthorization, error) {
	var p models.PaymentAuthorization
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND bidder_id = ? AND kind = ? AND status IN ?",
			auctionID, bidderID, models.KindBidAuthorization, liveStatuses).
		First(&p).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find bid authorization")
	}
	return &p, nil
}

// ListLiveBidAuthorizations returns every live hold on an auction
func (r *PaymentRepository) ListLiveBidAuthorizations(ctx context.Context, auctionID uuid.UUID) ([]models.PaymentAuthorization, error) {
	var ps []models.PaymentAuthorization
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND kind = ? AND status IN ?", auctionID, models.KindBidAuthorization, liveStatuses).
		Order("created_at ASC").
		Find(&ps).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bid authorizations")
	}
	return ps, nil
}

// FindFinalCommission returns the auction's commission record
func (r *PaymentRepository) FindFinalCommission(ctx context.Context, auctionID uuid.UUID) (*models.PaymentAuthorization, error) {
	var p models.PaymentAuthorization
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND kind = ?", auctionID, models.KindFinalCommission).
		First(&p).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find final commission")
	}
	return &p, nil
}

// ListForAuction returns every payment record of an auction
func (r *PaymentRepository) ListForAuction(ctx context.Context, auctionID uuid.UUID) ([]models.PaymentAuthorization, error) {
	var ps []models.PaymentAuthorization
	err := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("created_at ASC").
		Find(&ps).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list payment records")
	}
	return ps, nil
}

var liveStatuses = []models.AuthorizationStatus{models.AuthRequiresCapture, models.AuthSucceeded}
