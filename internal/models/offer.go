package models

import (
	"time"

	"github.com/google/uuid"
)

// OfferStatus is the negotiation state of one offer thread
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCountered OfferStatus = "countered"
	OfferExpired   OfferStatus = "expired"
	OfferWithdrawn OfferStatus = "withdrawn"
)

// CounterOffer is the seller's proposed price in reply to an offer
type CounterOffer struct {
	Amount  int64  `json:"amount"`
	Message string `json:"message,omitempty"`
}

// Offer is a negotiation thread between one buyer and the seller
type Offer struct {
	ID               uuid.UUID     `json:"id"`
	BuyerID          string        `json:"buyer_id"`
	Amount           int64         `json:"amount"`
	Message          string        `json:"message,omitempty"`
	Status           OfferStatus   `json:"status"`
	CounterOffer     *CounterOffer `json:"counter_offer,omitempty"`
	SellerResponse   string        `json:"seller_response,omitempty"`
	ExpiresAt        time.Time     `json:"expires_at"`
	CanBeReactivated bool          `json:"can_be_reactivated"`
	CreatedAt        time.Time     `json:"created_at"`
	RespondedAt      *time.Time    `json:"responded_at,omitempty"`
}

// IsOpen reports whether the offer still awaits a response from either side
func (o *Offer) IsOpen() bool {
	return o.Status == OfferPending || o.Status == OfferCountered
}
