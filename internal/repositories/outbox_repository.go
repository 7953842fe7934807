package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/models"
)

// OutboxRepository stores side-effect intents until the dispatcher runs them
type OutboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Insert writes intents as pending outbox rows inside tx, keeping their order
func (r *OutboxRepository) Insert(tx *gorm.DB, auctionID uuid.UUID, intents []auction.Intent) ([]models.OutboxEvent, error) {
	if len(intents) == 0 {
		return nil, nil
	}
	events := make([]models.OutboxEvent, 0, len(intents))
	for i, in := range intents {
		payload, err := json.Marshal(in.Payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode outbox payload")
		}
		events = append(events, models.OutboxEvent{
			ID:        uuid.New(),
			AuctionID: auctionID,
			Position:  i,
			Kind:      in.OutboxKind(),
			Payload:   datatypes.JSON(payload),
			Status:    models.OutboxPending,
		})
	}
	if err := tx.Create(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to insert outbox events")
	}
	return events, nil
}

// ClaimByIDs claims specific pending rows right after the commit that wrote them
func (r *OutboxRepository) ClaimByIDs(ctx context.Context, ids []uuid.UUID, now time.Time) ([]models.OutboxEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.claim(ctx, now, func(q *gorm.DB) *gorm.DB {
		return q.Where("id IN ? AND status = ?", ids, models.OutboxPending)
	})
}

// ClaimPending claims pending rows and processing rows whose lease expired
func (r *OutboxRepository) ClaimPending(ctx context.Context, now time.Time, leaseTimeout time.Duration, maxAttempts, limit int) ([]models.OutboxEvent, error) {
	return r.claim(ctx, now, func(q *gorm.DB) *gorm.DB {
		return q.Where("(status = ? OR (status = ? AND locked_at < ?)) AND attempts < ?",
			models.OutboxPending, models.OutboxProcessing, now.Add(-leaseTimeout), maxAttempts).
			Limit(limit)
	})
}

func (r *OutboxRepository) claim(ctx context.Context, now time.Time, scope func(*gorm.DB) *gorm.DB) ([]models.OutboxEvent, error) {
	var claimed []models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("created_at ASC").
			Order("position ASC")
		if err := scope(q).Find(&claimed).Error; err != nil {
			return errors.Wrap(err, "failed to select outbox events")
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].ID
			claimed[i].Status = models.OutboxProcessing
			claimed[i].Attempts++
			claimed[i].LockedAt = &now
		}
		err := tx.Model(&models.OutboxEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":    models.OutboxProcessing,
				"locked_at": now,
				"attempts":  gorm.Expr("attempts + 1"),
			}).Error
		if err != nil {
			return errors.Wrap(err, "failed to claim outbox events")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkProcessed records a successful dispatch
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.OutboxProcessed,
			"processed_at": now,
			"locked_at":    nil,
			"last_error":   nil,
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark outbox event processed")
	}
	return nil
}

// MarkFailed records a failed dispatch. The row goes back to pending until it
// runs out of attempts.
func (r *OutboxRepository) MarkFailed(ctx context.Context, ev models.OutboxEvent, cause error, maxAttempts int) error {
	status := models.OutboxPending
	if ev.Attempts >= maxAttempts {
		status = models.OutboxFailed
	}
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", ev.ID).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": cause.Error(),
			"locked_at":  nil,
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark outbox event failed")
	}
	return nil
}

// CountByStatus reports the outbox backlog per status
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[models.OutboxStatus]int64, error) {
	var rows []struct {
		Status models.OutboxStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to count outbox events")
	}
	counts := make(map[models.OutboxStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
