package auction

import (
	"time"

	"github.com/google/uuid"

	"example.com/backstage/services/auctions/internal/models"
)

const (
	// AutoExtendWindow is how close to the end a bid must land to extend the auction
	AutoExtendWindow = 2 * time.Minute
	// AutoExtendBy is how far the end date moves on extension
	AutoExtendBy = 2 * time.Minute
)

// MinimumBid is the lowest amount the next bid may carry
func MinimumBid(a *models.Auction) int64 {
	if a.BidCount == 0 {
		return a.CurrentPrice
	}
	inc := a.BidIncrement
	if inc < 1 {
		inc = 1
	}
	return a.CurrentPrice + inc
}

// PlaceBid validates and applies a bid
func PlaceBid(a *models.Auction, bidderID string, amount int64, now time.Time) (Effects, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if a.IsSeller(bidderID) {
		return nil, ErrSellerCannotParticipate
	}

	var fx Effects
	EnsureActive(a, now, &fx)
	if err := requireOpen(a, now); err != nil {
		return nil, err
	}
	if min := MinimumBid(a); amount < min {
		return nil, BidTooLow(min)
	}

	firstCommitment := !a.HasParticipant(bidderID)
	previousHigh := ""
	if a.CurrentBidderID != nil {
		previousHigh = *a.CurrentBidderID
	}
	priorBidders := a.Bidders()

	a.Bids = append(a.Bids, models.Bid{
		ID:        uuid.New(),
		BidderID:  bidderID,
		Amount:    amount,
		Timestamp: now,
	})
	a.CurrentPrice = amount
	a.CurrentBidderID = &bidderID
	a.BidCount++
	a.LastBidTime = &now

	if a.AutoExtend && a.EndDate.Sub(now) < AutoExtendWindow {
		a.EndDate = a.EndDate.Add(AutoExtendBy)
		fx.cancelJobs(models.JobEnd)
		fx.scheduleJob(models.JobEnd, a.EndDate)
	}

	if firstCommitment {
		fx.add(IntentAuthorizeBidder, Payload{UserID: bidderID})
	}

	data := map[string]any{"amount": amount, "end_date": a.EndDate}
	var outbid []string
	if previousHigh != "" && previousHigh != bidderID {
		outbid = append(outbid, previousHigh)
	}
	for _, id := range priorBidders {
		if id != bidderID && id != previousHigh {
			outbid = append(outbid, id)
		}
	}
	fx.notify(EventOutbid, data, outbid...)
	fx.notify(EventNewBid, data, a.SellerID)
	fx.notify(EventBidConfirmed, data, bidderID)
	return fx, nil
}

// BuyNow sells the auction to buyerID at its buy now price
func BuyNow(a *models.Auction, buyerID string, now time.Time) (Effects, error) {
	if a.IsSeller(buyerID) {
		return nil, ErrSellerCannotParticipate
	}

	var fx Effects
	EnsureActive(a, now, &fx)
	if err := requireOpen(a, now); err != nil {
		return nil, err
	}
	if a.BuyNowPrice == nil {
		return nil, ErrNoBuyNowPrice
	}

	price := *a.BuyNowPrice
	if !a.HasParticipant(buyerID) {
		fx.add(IntentAuthorizeBidder, Payload{UserID: buyerID})
	}
	a.Bids = append(a.Bids, models.Bid{
		ID:        uuid.New(),
		BidderID:  buyerID,
		Amount:    price,
		Timestamp: now,
		IsBuyNow:  true,
	})
	a.BidCount++
	a.CurrentBidderID = &buyerID
	a.LastBidTime = &now
	sell(a, buyerID, price, now, true, reasonBuyNow, uuid.Nil, &fx)
	return fx, nil
}
