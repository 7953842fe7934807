package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SaleMode is how a listing is sold
type SaleMode string

const (
	SaleModeStandard SaleMode = "standard"
	SaleModeReserve  SaleMode = "reserve"
	SaleModeBuyNow   SaleMode = "buy_now"
)

// Status is the lifecycle state of an auction
type Status string

const (
	StatusDraft         Status = "draft"
	StatusApproved      Status = "approved"
	StatusActive        Status = "active"
	StatusEnded         Status = "ended"
	StatusSold          Status = "sold"
	StatusSoldBuyNow    Status = "sold_buy_now"
	StatusReserveNotMet Status = "reserve_not_met"
	StatusCancelled     Status = "cancelled"
)

// IsSold reports whether s is one of the sold variants
func (s Status) IsSold() bool {
	return s == StatusSold || s == StatusSoldBuyNow
}

// IsTerminal reports whether no further automatic transition applies
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusSold, StatusSoldBuyNow, StatusReserveNotMet, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks commission collection for a resolved auction
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// Bid is an append-only entry in an auction's bid history
type Bid struct {
	ID        uuid.UUID `json:"id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	IsBuyNow  bool      `json:"is_buy_now"`
}

// Auction is the root aggregate. Bids and offers are embedded so that a single
// versioned row update covers every mutation of one auction.
type Auction struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SellerID       string                             `gorm:"not null;index" json:"seller_id"`
	Title          string                             `gorm:"not null" json:"title"`
	Description    string                             `json:"description"`
	Category       string                             `gorm:"index" json:"category"`
	Specifications datatypes.JSONType[Specifications] `gorm:"type:jsonb" json:"specifications"`

	SaleMode     SaleMode `gorm:"type:varchar(16);not null" json:"sale_mode"`
	AllowOffers  bool     `gorm:"not null;default:false" json:"allow_offers"`
	StartPrice   int64    `gorm:"not null" json:"start_price"`
	CurrentPrice int64    `gorm:"not null" json:"current_price"`
	BidIncrement int64    `json:"bid_increment"`
	ReservePrice *int64   `json:"reserve_price,omitempty"`
	BuyNowPrice  *int64   `json:"buy_now_price,omitempty"`

	StartDate   time.Time  `gorm:"not null;index" json:"start_date"`
	EndDate     time.Time  `gorm:"not null;index" json:"end_date"`
	AutoExtend  bool       `gorm:"not null;default:false" json:"auto_extend"`
	LastBidTime *time.Time `json:"last_bid_time,omitempty"`

	Status          Status                     `gorm:"type:varchar(24);not null;index" json:"status"`
	Bids            datatypes.JSONSlice[Bid]   `gorm:"type:jsonb" json:"bids"`
	BidCount        int                        `gorm:"not null;default:0" json:"bid_count"`
	CurrentBidderID *string                    `json:"current_bidder_id,omitempty"`
	Offers          datatypes.JSONSlice[Offer] `gorm:"type:jsonb" json:"offers"`

	WinnerID   *string `json:"winner_id,omitempty"`
	FinalPrice *int64  `json:"final_price,omitempty"`

	PaymentStatus    PaymentStatus `gorm:"type:varchar(16);not null;default:pending" json:"payment_status"`
	CommissionAmount int64         `gorm:"not null;default:0" json:"commission_amount"`

	EndingSoon30mSent bool `gorm:"column:ending_soon_30m_sent;not null;default:false" json:"-"`
	EndingSoon2hSent  bool `gorm:"column:ending_soon_2h_sent;not null;default:false" json:"-"`
	EndingSoon24hSent bool `gorm:"column:ending_soon_24h_sent;not null;default:false" json:"-"`

	Version int `gorm:"not null;default:1" json:"version"`
}

// HasWinner reports whether the auction has been resolved to a buyer
func (a *Auction) HasWinner() bool {
	return a.WinnerID != nil && *a.WinnerID != ""
}

// IsSeller reports whether userID owns the listing
func (a *Auction) IsSeller(userID string) bool {
	return a.SellerID == userID
}

// FindOffer returns the offer with the given id, or nil
func (a *Auction) FindOffer(id uuid.UUID) *Offer {
	for i := range a.Offers {
		if a.Offers[i].ID == id {
			return &a.Offers[i]
		}
	}
	return nil
}

// PendingOfferBy returns the buyer's pending offer, or nil
func (a *Auction) PendingOfferBy(buyerID string) *Offer {
	for i := range a.Offers {
		if a.Offers[i].BuyerID == buyerID && a.Offers[i].Status == OfferPending {
			return &a.Offers[i]
		}
	}
	return nil
}

// Bidders returns the distinct bidder ids in first-bid order
func (a *Auction) Bidders() []string {
	seen := make(map[string]struct{}, len(a.Bids))
	var ids []string
	for _, b := range a.Bids {
		if _, ok := seen[b.BidderID]; ok {
			continue
		}
		seen[b.BidderID] = struct{}{}
		ids = append(ids, b.BidderID)
	}
	return ids
}

// HasParticipant reports whether userID has bid or made an offer before
func (a *Auction) HasParticipant(userID string) bool {
	for _, b := range a.Bids {
		if b.BidderID == userID {
			return true
		}
	}
	for _, o := range a.Offers {
		if o.BuyerID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without sharing slices
func (a *Auction) Clone() *Auction {
	c := *a
	if a.Bids != nil {
		c.Bids = make(datatypes.JSONSlice[Bid], len(a.Bids))
		copy(c.Bids, a.Bids)
	}
	if a.Offers != nil {
		c.Offers = make(datatypes.JSONSlice[Offer], len(a.Offers))
		for i, o := range a.Offers {
			if o.CounterOffer != nil {
				co := *o.CounterOffer
				o.CounterOffer = &co
			}
			o.RespondedAt = clonePtr(o.RespondedAt)
			c.Offers[i] = o
		}
	}
	if src := a.Specifications.Data(); src != nil {
		specs := make(Specifications, len(src))
		for k, v := range src {
			specs[k] = v
		}
		c.Specifications = datatypes.NewJSONType(specs)
	}
	c.ReservePrice = clonePtr(a.ReservePrice)
	c.BuyNowPrice = clonePtr(a.BuyNowPrice)
	c.FinalPrice = clonePtr(a.FinalPrice)
	c.WinnerID = clonePtr(a.WinnerID)
	c.CurrentBidderID = clonePtr(a.CurrentBidderID)
	c.LastBidTime = clonePtr(a.LastBidTime)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
