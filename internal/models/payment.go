package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizationKind distinguishes bid-time holds from the final commission charge
type AuthorizationKind string

const (
	KindBidAuthorization AuthorizationKind = "bid_authorization"
	KindFinalCommission  AuthorizationKind = "final_commission"
)

// AuthorizationStatus mirrors the gateway's payment intent status
type AuthorizationStatus string

const (
	AuthRequiresCapture AuthorizationStatus = "requires_capture"
	AuthSucceeded       AuthorizationStatus = "succeeded"
	AuthCanceled        AuthorizationStatus = "canceled"
	AuthFailed          AuthorizationStatus = "failed"
)

// IsLive reports whether the record still holds or has collected funds
func (s AuthorizationStatus) IsLive() bool {
	return s == AuthRequiresCapture || s == AuthSucceeded
}

// PaymentAuthorization records a hold or charge placed with the payment gateway.
// The partial unique indexes keep one live hold per (auction, bidder) and one
// final commission record per auction.
type PaymentAuthorization struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	AuctionID        uuid.UUID           `gorm:"type:uuid;not null;index;index:idx_live_bid_authorization,unique,where:kind = 'bid_authorization' AND status <> 'canceled' AND status <> 'failed';index:idx_final_commission,unique,where:kind = 'final_commission'" json:"auction_id"`
	BidderID         string              `gorm:"not null;index:idx_live_bid_authorization,unique" json:"bidder_id"`
	Kind             AuthorizationKind   `gorm:"type:varchar(24);not null" json:"kind"`
	ExternalIntentID string              `gorm:"index" json:"external_intent_id"`
	Amount           int64               `gorm:"not null" json:"amount"`
	Status           AuthorizationStatus `gorm:"type:varchar(24);not null" json:"status"`
	FailureReason    *string             `json:"failure_reason,omitempty"`
}
