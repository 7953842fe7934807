package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/database"
	"example.com/backstage/services/auctions/internal/models"
)

// AuctionRepository persists auctions together with the job and outbox rows
// their transitions produce.
type AuctionRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
	jobs       *JobRepository
	outbox     *OutboxRepository
}

// NewAuctionRepository creates a new auction repository
func NewAuctionRepository(db, readOnlyDB *gorm.DB, jobs *JobRepository, outbox *OutboxRepository) *AuctionRepository {
	return &AuctionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
		jobs:       jobs,
		outbox:     outbox,
	}
}

// Get loads an auction from the write database so the version read is the one
// a following Save compares against.
func (r *AuctionRepository) Get(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	var a models.Auction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get auction")
	}
	return &a, nil
}

// Create inserts a new auction with its intents
func (r *AuctionRepository) Create(ctx context.Context, a *models.Auction, intents []auction.Intent) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return errors.Wrap(err, "failed to create auction")
		}
		var err error
		events, err = r.applyIntents(tx, a.ID, intents)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Save writes a with a compare-and-swap on expectedVersion. The caller has
// already bumped a.Version. Job intents are applied and outbox rows inserted in
// the same transaction.
func (r *AuctionRepository) Save(ctx context.Context, a *models.Auction, expectedVersion int, intents []auction.Intent) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(a).
			Where("version = ?", expectedVersion).
			Select("*").
			Omit("id", "created_at", "deleted_at").
			Updates(a)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to update auction")
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		var err error
		events, err = r.applyIntents(tx, a.ID, intents)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Delete soft-deletes a with the same version check as Save
func (r *AuctionRepository) Delete(ctx context.Context, a *models.Auction, expectedVersion int, intents []auction.Intent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND version = ?", a.ID, expectedVersion).Delete(&models.Auction{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to delete auction")
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		_, err := r.applyIntents(tx, a.ID, intents)
		return err
	})
}

func (r *AuctionRepository) applyIntents(tx *gorm.DB, auctionID uuid.UUID, intents []auction.Intent) ([]models.OutboxEvent, error) {
	var side []auction.Intent
	for _, in := range intents {
		if !in.IsJobIntent() {
			side = append(side, in)
			continue
		}
		if err := r.jobs.Apply(tx, auctionID, in); err != nil {
			return nil, err
		}
	}
	return r.outbox.Insert(tx, auctionID, side)
}

// ListEndingBetween returns active auctions whose end falls in (from, to]
func (r *AuctionRepository) ListEndingBetween(ctx context.Context, from, to time.Time, limit int) ([]models.Auction, error) {
	var auctions []models.Auction
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND end_date > ? AND end_date <= ?", models.StatusActive, from, to).
		Where("NOT (ending_soon_30m_sent AND ending_soon_2h_sent AND ending_soon_24h_sent)").
		Order("end_date ASC").
		Limit(limit).
		Find(&auctions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list auctions ending soon")
	}
	return auctions, nil
}

// ListWithOpenOffers returns live auctions holding pending or countered offers
func (r *AuctionRepository) ListWithOpenOffers(ctx context.Context, limit int) ([]models.Auction, error) {
	var auctions []models.Auction
	err := r.readOnlyDB.WithContext(ctx).
		Where("status IN ?", []models.Status{models.StatusActive, models.StatusApproved}).
		Where(`offers @> '[{"status":"pending"}]' OR offers @> '[{"status":"countered"}]'`).
		Limit(limit).
		Find(&auctions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list auctions with open offers")
	}
	return auctions, nil
}

// ListMissingJobs returns auctions that are due for activation or closing but
// have no live job to do it.
func (r *AuctionRepository) ListMissingJobs(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	var auctions []models.Auction
	noLiveJob := `NOT EXISTS (SELECT 1 FROM scheduled_jobs j WHERE j.auction_id = auctions.id AND j.status IN ('scheduled', 'running'))`
	err := r.db.WithContext(ctx).
		Where("(status = ? AND start_date <= ?) OR (status = ? AND end_date <= ?)",
			models.StatusApproved, now, models.StatusActive, now).
		Where(noLiveJob).
		Order("end_date ASC").
		Limit(limit).
		Find(&auctions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list auctions missing jobs")
	}
	return auctions, nil
}

// ListUnsettled returns sold auctions still waiting for settlement, and those
// whose settlement claim has not moved since olderThan
func (r *AuctionRepository) ListUnsettled(ctx context.Context, olderThan time.Time, limit int) ([]models.Auction, error) {
	var auctions []models.Auction
	err := r.db.WithContext(ctx).
		Where("status IN ? AND payment_status IN ? AND updated_at < ?",
			[]models.Status{models.StatusSold, models.StatusSoldBuyNow},
			[]models.PaymentStatus{models.PaymentPending, models.PaymentProcessing}, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&auctions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unsettled auctions")
	}
	return auctions, nil
}
