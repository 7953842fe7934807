package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/models"
)

// JobRepository is the durable store behind activate and end triggers
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Apply carries out a schedule or cancel intent inside tx. Scheduling a kind
// first cancels the live job of that kind so at most one stays scheduled.
func (r *JobRepository) Apply(tx *gorm.DB, auctionID uuid.UUID, in auction.Intent) error {
	switch in.Kind {
	case auction.IntentCancelJobs:
		return r.cancel(tx, auctionID, in.JobKind)
	case auction.IntentScheduleJob:
		if err := r.cancel(tx, auctionID, in.JobKind); err != nil {
			return err
		}
		job := models.ScheduledJob{
			ID:        uuid.New(),
			AuctionID: auctionID,
			Kind:      in.JobKind,
			FireAt:    in.FireAt,
			Status:    models.JobScheduled,
		}
		if err := tx.Create(&job).Error; err != nil {
			return errors.Wrapf(err, "failed to schedule %s job", in.JobKind)
		}
		return nil
	}
	return errors.Errorf("unsupported job intent %q", in.Kind)
}

func (r *JobRepository) cancel(tx *gorm.DB, auctionID uuid.UUID, kind models.JobKind) error {
	q := tx.Model(&models.ScheduledJob{}).
		Where("auction_id = ? AND status = ?", auctionID, models.JobScheduled)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Update("status", models.JobCancelled).Error; err != nil {
		return errors.Wrap(err, "failed to cancel jobs")
	}
	return nil
}

// ClaimDue moves up to limit due jobs from scheduled to running. Rows already
// claimed by another worker are skipped.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	var claimed []models.ScheduledJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.ScheduledJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND fire_at <= ?", models.JobScheduled, now).
			Order("fire_at ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return errors.Wrap(err, "failed to select due jobs")
		}
		for _, job := range due {
			res := tx.Model(&models.ScheduledJob{}).
				Where("id = ? AND status = ?", job.ID, models.JobScheduled).
				Updates(map[string]interface{}{
					"status":    models.JobRunning,
					"locked_at": now,
					"attempts":  gorm.Expr("attempts + 1"),
				})
			if res.Error != nil {
				return errors.Wrap(res.Error, "failed to claim job")
			}
			if res.RowsAffected == 1 {
				job.Status = models.JobRunning
				job.Attempts++
				job.LockedAt = &now
				claimed = append(claimed, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a running job done
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&models.ScheduledJob{}).
		Where("id = ? AND status = ?", id, models.JobRunning).
		Updates(map[string]interface{}{"status": models.JobDone, "locked_at": nil}).Error
	if err != nil {
		return errors.Wrap(err, "failed to complete job")
	}
	return nil
}

// releaseStatus picks where a failed job goes: cancelled when a newer job of
// its kind is live, failed once it has used maxAttempts, scheduled otherwise.
// maxAttempts <= 0 retries forever.
func releaseStatus(job models.ScheduledJob, newerLive bool, maxAttempts int) models.JobStatus {
	switch {
	case newerLive:
		return models.JobCancelled
	case maxAttempts > 0 && job.Attempts >= maxAttempts:
		return models.JobFailed
	}
	return models.JobScheduled
}

// Release puts a running job back after a failure, due again at retryAt. When
// a newer job of the same kind was scheduled meanwhile the failed one is
// cancelled, and after maxAttempts it is parked as failed.
func (r *JobRepository) Release(ctx context.Context, job models.ScheduledJob, cause error, retryAt time.Time, maxAttempts int) error {
	msg := cause.Error()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var live int64
		err := tx.Model(&models.ScheduledJob{}).
			Where("auction_id = ? AND kind = ? AND status = ?", job.AuctionID, job.Kind, models.JobScheduled).
			Count(&live).Error
		if err != nil {
			return errors.Wrap(err, "failed to count live jobs")
		}
		next := releaseStatus(job, live > 0, maxAttempts)
		updates := map[string]interface{}{"status": next, "last_error": msg, "locked_at": nil}
		if next == models.JobScheduled {
			updates["fire_at"] = retryAt
		}
		err = tx.Model(&models.ScheduledJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobRunning).
			Updates(updates).Error
		if err != nil {
			return errors.Wrap(err, "failed to release job")
		}
		return nil
	})
}

// RequeueStale releases running jobs whose worker died before finishing. They
// are due again immediately.
func (r *JobRepository) RequeueStale(ctx context.Context, lockedBefore time.Time, maxAttempts int) (int64, error) {
	var stale []models.ScheduledJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND locked_at < ?", models.JobRunning, lockedBefore).
		Find(&stale).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to list stale jobs")
	}
	var n int64
	for _, job := range stale {
		if err := r.Release(ctx, job, errors.New("lease expired"), job.FireAt, maxAttempts); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ListForAuction returns every job of an auction, newest first
func (r *JobRepository) ListForAuction(ctx context.Context, auctionID uuid.UUID) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	return jobs, nil
}
