package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// OutboxKind names a post-commit side effect
type OutboxKind string

const (
	OutboxNotify                OutboxKind = "notify"
	OutboxAnnounceLive          OutboxKind = "announce_live"
	OutboxAuthorizeBidder       OutboxKind = "authorize_bidder"
	OutboxSettle                OutboxKind = "settle"
	OutboxReleaseAuthorizations OutboxKind = "release_authorizations"
	OutboxIndexResult           OutboxKind = "index_result"
)

// OutboxStatus is the processing state of an outbox row
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxProcessed  OutboxStatus = "processed"
	OutboxFailed     OutboxStatus = "failed"
)

// OutboxEvent is a side-effect intent written in the same transaction as the
// auction change that produced it.
type OutboxEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	AuctionID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"auction_id"`
	Position    int            `gorm:"not null;default:0" json:"position"`
	Kind        OutboxKind     `gorm:"type:varchar(32);not null" json:"kind"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Status      OutboxStatus   `gorm:"type:varchar(16);not null;index" json:"status"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	LastError   *string        `json:"last_error,omitempty"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}
