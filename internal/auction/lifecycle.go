// Package auction holds the lifecycle state machine and the bid/offer
// arbitration rules. Every function mutates the auction it is given and
// returns the intents the transition produced; nothing here performs I/O.
package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"example.com/backstage/services/auctions/internal/models"
)

const (
	reasonBuyNow        = "purchased via buy now"
	reasonOfferAccepted = "another offer was accepted"
	reasonAuctionWon    = "auction ended with a winning bid"
)

// CreateInput is a seller's listing submission
type CreateInput struct {
	Title          string
	Description    string
	Category       string
	Specifications models.Specifications
	SaleMode       models.SaleMode
	AllowOffers    bool
	StartPrice     int64
	BidIncrement   int64
	ReservePrice   *int64
	BuyNowPrice    *int64
	StartDate      time.Time
	EndDate        time.Time
	AutoExtend     bool
}

// New validates a submission and returns a draft auction
func New(sellerID string, in CreateInput, now time.Time) (*models.Auction, error) {
	if sellerID == "" {
		return nil, Invalid("seller is required")
	}
	if in.Title == "" {
		return nil, Invalid("title is required")
	}
	if in.StartPrice <= 0 {
		return nil, Invalid("start price must be greater than zero")
	}
	switch in.SaleMode {
	case models.SaleModeStandard, models.SaleModeReserve:
		if in.BidIncrement <= 0 {
			return nil, Invalid("bid increment is required for standard and reserve auctions")
		}
	case models.SaleModeBuyNow:
		if in.BuyNowPrice == nil {
			return nil, Invalid("buy now price is required for buy now auctions")
		}
	default:
		return nil, Invalid(fmt.Sprintf("unknown sale mode %q", in.SaleMode))
	}
	if in.SaleMode == models.SaleModeReserve {
		if in.ReservePrice == nil || *in.ReservePrice <= 0 {
			return nil, Invalid("reserve price is required for reserve auctions")
		}
	} else if in.ReservePrice != nil {
		return nil, Invalid("reserve price is only allowed on reserve auctions")
	}
	if in.BuyNowPrice != nil && *in.BuyNowPrice < in.StartPrice {
		return nil, Invalid("buy now price must not be below the start price")
	}
	if !in.EndDate.After(in.StartDate) {
		return nil, ErrEndBeforeStart
	}
	if !in.EndDate.After(now) {
		return nil, ErrEndDatePassed
	}

	specs := in.Specifications
	if specs == nil {
		specs = models.Specifications{}
	}
	for key, v := range specs {
		switch v.Kind {
		case models.ScalarString, models.ScalarNumber, models.ScalarBool:
		default:
			return nil, Invalid(fmt.Sprintf("specification %q has unknown kind %q", key, v.Kind))
		}
	}

	return &models.Auction{
		ID:             uuid.New(),
		SellerID:       sellerID,
		Title:          in.Title,
		Description:    in.Description,
		Category:       in.Category,
		Specifications: datatypes.NewJSONType(specs),
		SaleMode:       in.SaleMode,
		AllowOffers:    in.AllowOffers,
		StartPrice:     in.StartPrice,
		CurrentPrice:   in.StartPrice,
		BidIncrement:   in.BidIncrement,
		ReservePrice:   in.ReservePrice,
		BuyNowPrice:    in.BuyNowPrice,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		AutoExtend:     in.AutoExtend,
		Status:         models.StatusDraft,
		Bids:           datatypes.JSONSlice[models.Bid]{},
		Offers:         datatypes.JSONSlice[models.Offer]{},
		PaymentStatus:  models.PaymentPending,
		Version:        1,
	}, nil
}

// Approve moves a draft to approved and schedules both lifecycle jobs
func Approve(a *models.Auction, now time.Time) (Effects, error) {
	if a.Status != models.StatusDraft {
		return nil, ErrInvalidTransition
	}
	if !a.EndDate.After(now) {
		return nil, ErrEndDatePassed
	}
	var fx Effects
	a.Status = models.StatusApproved
	fx.cancelJobs("")
	fx.scheduleJob(models.JobActivate, a.StartDate)
	fx.scheduleJob(models.JobEnd, a.EndDate)
	fx.notify(EventAuctionApproved, nil, a.SellerID)
	return fx, nil
}

// Activate handles the activate job. Anything but an approved auction is left
// untouched so late or duplicate firings are harmless.
func Activate(a *models.Auction, now time.Time) (Effects, bool) {
	if a.Status != models.StatusApproved {
		return nil, false
	}
	var fx Effects
	a.Status = models.StatusActive
	fx.add(IntentAnnounceLive, Payload{Event: EventAuctionLive, UserID: a.SellerID})
	return fx, true
}

// EnsureActive flips a draft or approved auction to active when the clock is
// already inside its bidding window. It covers activation jobs that never fired.
func EnsureActive(a *models.Auction, now time.Time, fx *Effects) bool {
	if a.Status != models.StatusDraft && a.Status != models.StatusApproved {
		return false
	}
	if now.Before(a.StartDate) || !now.Before(a.EndDate) {
		return false
	}
	a.Status = models.StatusActive
	fx.cancelJobs(models.JobActivate)
	fx.scheduleJob(models.JobEnd, a.EndDate)
	fx.add(IntentAnnounceLive, Payload{Event: EventAuctionLive, UserID: a.SellerID})
	return true
}

// requireOpen is the shared precondition of every buyer action
func requireOpen(a *models.Auction, now time.Time) error {
	if a.HasWinner() || a.Status.IsSold() {
		return ErrAlreadySold
	}
	if a.Status != models.StatusActive {
		return ErrAuctionNotActive
	}
	if !now.Before(a.EndDate) {
		return ErrAuctionEnded
	}
	return nil
}

// CloseOutcome describes what the end job did
type CloseOutcome int

const (
	CloseNoop CloseOutcome = iota
	CloseRescheduled
	CloseResolved
)

// Close handles the end job: it resolves the auction to sold, reserve_not_met
// or ended, or reschedules itself when the auction was extended.
func Close(a *models.Auction, now time.Time) (Effects, CloseOutcome) {
	if a.Status.IsSold() || a.HasWinner() {
		return nil, CloseNoop
	}

	var fx Effects
	if a.Status == models.StatusApproved {
		// never activated; run the transition it missed before closing
		if now.Before(a.StartDate) {
			return nil, CloseNoop
		}
		a.Status = models.StatusActive
		fx.cancelJobs(models.JobActivate)
	}
	if a.Status != models.StatusActive {
		return nil, CloseNoop
	}
	if now.Before(a.EndDate) {
		fx.scheduleJob(models.JobEnd, a.EndDate)
		return fx, CloseRescheduled
	}

	fx.cancelJobs("")
	switch {
	case a.BidCount == 0:
		a.Status = models.StatusEnded
		fx.notify(EventAuctionEnded, nil, a.SellerID)
		fx.add(IntentIndexResult, Payload{})
	case a.SaleMode == models.SaleModeReserve && a.ReservePrice != nil && a.CurrentPrice < *a.ReservePrice:
		a.Status = models.StatusReserveNotMet
		fx.notify(EventReserveNotMet, nil, append([]string{a.SellerID}, a.Bidders()...)...)
		fx.add(IntentIndexResult, Payload{})
	default:
		winner := ""
		if a.CurrentBidderID != nil {
			winner = *a.CurrentBidderID
		}
		sell(a, winner, a.CurrentPrice, now, false, reasonAuctionWon, uuid.Nil, &fx)
	}
	return fx, CloseResolved
}

// sell records the winner and final price and emits every consequence of a
// sale: other open offers are rejected, jobs cancelled and settlement queued.
func sell(a *models.Auction, buyerID string, price int64, now time.Time, immediate bool, reason string, keepOffer uuid.UUID, fx *Effects) {
	a.WinnerID = &buyerID
	a.FinalPrice = &price
	a.CurrentPrice = price
	a.Status = models.StatusSold
	if immediate {
		a.EndDate = now
	}

	for i := range a.Offers {
		o := &a.Offers[i]
		if o.ID == keepOffer || !o.IsOpen() {
			continue
		}
		o.Status = models.OfferRejected
		o.SellerResponse = reason
		o.CanBeReactivated = false
		o.RespondedAt = &now
		if o.BuyerID != buyerID {
			fx.notify(EventOfferRejected, map[string]any{"offer_id": o.ID.String(), "reason": reason}, o.BuyerID)
		}
	}

	fx.cancelJobs("")
	fx.add(IntentSettle, Payload{UserID: buyerID})
	fx.add(IntentIndexResult, Payload{})
	fx.notify(EventAuctionWon, map[string]any{"final_price": price}, buyerID)
	fx.notify(EventAuctionSold, map[string]any{"final_price": price, "winner_id": buyerID}, a.SellerID)

	var losers []string
	for _, id := range a.Bidders() {
		if id != buyerID {
			losers = append(losers, id)
		}
	}
	fx.notify(EventAuctionLost, map[string]any{"final_price": price}, losers...)
}

// Cancel is the admin override taking a live auction off the market
func Cancel(a *models.Auction, now time.Time) (Effects, error) {
	if a.Status != models.StatusActive {
		return nil, ErrInvalidTransition
	}
	var fx Effects
	a.Status = models.StatusCancelled
	fx.cancelJobs("")
	fx.add(IntentReleaseAuthorizations, Payload{})
	fx.notify(EventAuctionCancelled, nil, append([]string{a.SellerID}, a.Bidders()...)...)
	return fx, nil
}

// Reactivate is the admin override putting a cancelled auction back on the
// market, optionally with a new end date.
func Reactivate(a *models.Auction, newEnd *time.Time, now time.Time) (Effects, error) {
	if a.Status != models.StatusCancelled {
		return nil, ErrInvalidTransition
	}
	end := a.EndDate
	if newEnd != nil {
		end = *newEnd
	}
	if !end.After(a.StartDate) {
		return nil, ErrEndBeforeStart
	}
	if !end.After(now) {
		return nil, ErrEndDatePassed
	}

	var fx Effects
	a.EndDate = end
	a.Status = models.StatusActive
	a.EndingSoon30mSent, a.EndingSoon2hSent, a.EndingSoon24hSent = false, false, false
	fx.cancelJobs("")
	fx.scheduleJob(models.JobEnd, a.EndDate)

	// holds were released on cancellation
	seen := map[string]struct{}{}
	for _, id := range a.Bidders() {
		seen[id] = struct{}{}
		fx.add(IntentAuthorizeBidder, Payload{UserID: id})
	}
	for _, o := range a.Offers {
		if _, ok := seen[o.BuyerID]; ok || !o.IsOpen() {
			continue
		}
		seen[o.BuyerID] = struct{}{}
		fx.add(IntentAuthorizeBidder, Payload{UserID: o.BuyerID})
	}
	fx.notify(EventAuctionReopened, nil, append([]string{a.SellerID}, a.Bidders()...)...)
	return fx, nil
}

// ListingUpdate is a partial edit of timing and pricing
type ListingUpdate struct {
	StartDate    *time.Time
	EndDate      *time.Time
	ReservePrice *int64
	BuyNowPrice  *int64
}

// UpdateListing applies a seller or admin edit. Any date change supersedes
// every scheduled job for the auction.
func UpdateListing(a *models.Auction, u ListingUpdate, actorID string, isAdmin bool, now time.Time) (Effects, error) {
	if !isAdmin && !a.IsSeller(actorID) {
		return nil, ErrNotSeller
	}
	if a.Status.IsTerminal() && a.Status != models.StatusCancelled {
		return nil, ErrInvalidTransition
	}

	start, end := a.StartDate, a.EndDate
	if u.StartDate != nil {
		if a.Status == models.StatusActive {
			return nil, Invalid("start date cannot change once the auction is live")
		}
		start = *u.StartDate
	}
	if u.EndDate != nil {
		end = *u.EndDate
	}
	datesChanged := !start.Equal(a.StartDate) || !end.Equal(a.EndDate)
	if datesChanged {
		if !end.After(start) {
			return nil, ErrEndBeforeStart
		}
		if !end.After(now) {
			return nil, ErrEndDatePassed
		}
	}

	if u.ReservePrice != nil {
		if a.SaleMode != models.SaleModeReserve {
			return nil, Invalid("reserve price is only allowed on reserve auctions")
		}
		if *u.ReservePrice <= 0 {
			return nil, Invalid("reserve price must be greater than zero")
		}
		if a.Status == models.StatusActive && a.ReservePrice != nil && *u.ReservePrice > *a.ReservePrice {
			return nil, ErrReserveRaised
		}
	}
	if u.BuyNowPrice != nil && *u.BuyNowPrice < a.StartPrice {
		return nil, Invalid("buy now price must not be below the start price")
	}

	var fx Effects
	a.StartDate, a.EndDate = start, end
	if u.ReservePrice != nil {
		v := *u.ReservePrice
		a.ReservePrice = &v
	}
	if u.BuyNowPrice != nil {
		v := *u.BuyNowPrice
		a.BuyNowPrice = &v
	}

	if datesChanged {
		a.EndingSoon30mSent, a.EndingSoon2hSent, a.EndingSoon24hSent = false, false, false
		switch a.Status {
		case models.StatusApproved:
			fx.cancelJobs("")
			fx.scheduleJob(models.JobActivate, a.StartDate)
			fx.scheduleJob(models.JobEnd, a.EndDate)
		case models.StatusActive:
			fx.cancelJobs("")
			fx.scheduleJob(models.JobEnd, a.EndDate)
			fx.notify(EventAuctionExtended, map[string]any{"end_date": a.EndDate}, a.Bidders()...)
		}
	}
	return fx, nil
}

// CheckDeletable refuses deletion of auctions with any bid or offer history
func CheckDeletable(a *models.Auction, actorID string, isAdmin bool) (Effects, error) {
	if !isAdmin && !a.IsSeller(actorID) {
		return nil, ErrNotSeller
	}
	if len(a.Bids) > 0 || len(a.Offers) > 0 {
		return nil, ErrCannotDelete
	}
	var fx Effects
	fx.cancelJobs("")
	return fx, nil
}
