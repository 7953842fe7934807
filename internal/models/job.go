package models

import (
	"time"

	"github.com/google/uuid"
)

// JobKind names a deferred lifecycle step
type JobKind string

const (
	JobActivate JobKind = "activate"
	JobEnd      JobKind = "end"
)

// JobStatus is the state of a durable scheduled job
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// ScheduledJob is a durable activate/end trigger for one auction.
// At most one scheduled row per (auction, kind) exists at a time.
type ScheduledJob struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	AuctionID uuid.UUID  `gorm:"type:uuid;not null;index;index:idx_live_job,unique,where:status = 'scheduled'" json:"auction_id"`
	Kind      JobKind    `gorm:"type:varchar(16);not null;index:idx_live_job,unique" json:"kind"`
	FireAt    time.Time  `gorm:"not null;index" json:"fire_at"`
	Status    JobStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	Attempts  int        `gorm:"not null;default:0" json:"attempts"`
	LastError *string    `json:"last_error,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
}
