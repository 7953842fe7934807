package auction

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an arbitration failure for the caller
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindForbidden
	KindTransient
)

// Error is a synchronous, user-facing arbitration failure
type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Minimum int64  `json:"minimum,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func forbidden(code, msg string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: msg}
}

var (
	ErrAuctionNotFound       = &Error{Kind: KindNotFound, Code: "auction_not_found", Message: "auction not found"}
	ErrOfferNotFound         = &Error{Kind: KindNotFound, Code: "offer_not_found", Message: "offer not found"}
	ErrAuctionNotActive      = conflict("auction_not_active", "auction is not active")
	ErrAuctionEnded          = conflict("auction_ended", "auction has ended")
	ErrAlreadySold           = conflict("auction_has_winner", "auction already has a winner")
	ErrDuplicatePendingOffer = conflict("duplicate_pending_offer", "you already have a pending offer on this auction")
	ErrOfferExpired          = conflict("offer_expired", "offer has expired")
	ErrOfferNotPending       = conflict("offer_not_pending", "offer is no longer pending")
	ErrOfferNotCountered     = conflict("offer_not_countered", "offer has no open counter offer")
	ErrOfferNotReactivatable = conflict("offer_not_reactivatable", "only rejected offers marked reactivatable can be reactivated")
	ErrInvalidTransition     = conflict("invalid_transition", "action is not allowed in the auction's current status")
	ErrCannotDelete          = conflict("auction_has_activity", "auctions that received bids or offers cannot be deleted")
	ErrConcurrentUpdate      = &Error{Kind: KindTransient, Code: "concurrent_update", Message: "auction was modified concurrently, please retry"}

	ErrInvalidAmount           = validation("invalid_amount", "amount must be greater than zero")
	ErrOfferBelowStartPrice    = validation("offer_below_start_price", "amount must not be below the starting price")
	ErrOffersNotAllowed        = validation("offers_not_allowed", "this auction does not accept offers")
	ErrNoBuyNowPrice           = validation("no_buy_now_price", "this auction has no buy now price")
	ErrSellerCannotParticipate = validation("seller_cannot_participate", "sellers cannot bid on or buy their own auction")
	ErrCounterAmountRequired   = validation("counter_amount_required", "a counter offer needs a positive amount")
	ErrInvalidOfferAction      = validation("invalid_offer_action", "action must be accept, reject or counter")
	ErrReserveRaised           = validation("reserve_raised", "the reserve price can only be lowered while the auction is live")
	ErrEndBeforeStart          = validation("end_before_start", "end date must be after start date")
	ErrEndDatePassed           = validation("end_date_passed", "end date must be in the future")

	ErrNotSeller     = forbidden("not_seller", "only the seller or an admin can do this")
	ErrNotOfferBuyer = forbidden("not_offer_buyer", "only the buyer who made the offer can do this")
)

// BidTooLow reports the minimum amount the bid needed to reach
func BidTooLow(minimum int64) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "bid_too_low",
		Message: fmt.Sprintf("bid must be at least %d", minimum),
		Minimum: minimum,
	}
}

// Invalid builds an ad hoc validation error
func Invalid(msg string) *Error {
	return validation("validation_failed", msg)
}

// KindOf returns the classification of err, or KindUnknown for
// infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Persisted wraps an error raised after the auction was changed in a way that
// must still be saved, such as an offer found to be expired.
type Persisted struct {
	Err error
}

func (p *Persisted) Error() string { return p.Err.Error() }
func (p *Persisted) Unwrap() error { return p.Err }
