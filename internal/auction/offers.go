package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/backstage/services/auctions/internal/models"
)

// OfferTTL is how long an offer stays open without a response
const OfferTTL = 48 * time.Hour

// OfferAction is the seller's reply to an offer
type OfferAction string

const (
	OfferAccept  OfferAction = "accept"
	OfferReject  OfferAction = "reject"
	OfferCounter OfferAction = "counter"
)

// OfferResponse carries the seller's reply
type OfferResponse struct {
	Action        OfferAction
	CounterAmount int64
	Message       string
}

// MakeOffer opens a negotiation thread for buyerID
func MakeOffer(a *models.Auction, buyerID string, amount int64, message string, now time.Time) (Effects, *models.Offer, error) {
	if !a.AllowOffers {
		return nil, nil, ErrOffersNotAllowed
	}
	if a.IsSeller(buyerID) {
		return nil, nil, ErrSellerCannotParticipate
	}
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if amount < a.StartPrice {
		return nil, nil, ErrOfferBelowStartPrice
	}

	var fx Effects
	EnsureActive(a, now, &fx)
	if err := requireOpen(a, now); err != nil {
		return nil, nil, err
	}
	if a.PendingOfferBy(buyerID) != nil {
		return nil, nil, ErrDuplicatePendingOffer
	}

	if !a.HasParticipant(buyerID) {
		fx.add(IntentAuthorizeBidder, Payload{UserID: buyerID})
	}
	offer := models.Offer{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		Amount:    amount,
		Message:   message,
		Status:    models.OfferPending,
		ExpiresAt: now.Add(OfferTTL),
		CreatedAt: now,
	}
	a.Offers = append(a.Offers, offer)
	fx.notify(EventOfferReceived, map[string]any{"offer_id": offer.ID.String(), "amount": amount}, a.SellerID)
	return fx, &a.Offers[len(a.Offers)-1], nil
}

// expireIfDue marks an open offer expired once its deadline has passed
func expireIfDue(a *models.Auction, o *models.Offer, now time.Time, fx *Effects) bool {
	if !o.IsOpen() || !now.After(o.ExpiresAt) {
		return false
	}
	o.Status = models.OfferExpired
	o.RespondedAt = &now
	fx.notify(EventOfferExpired, map[string]any{"offer_id": o.ID.String()}, o.BuyerID, a.SellerID)
	return true
}

// RespondToOffer applies the seller's accept, reject or counter
func RespondToOffer(a *models.Auction, offerID uuid.UUID, actorID string, isAdmin bool, resp OfferResponse, now time.Time) (Effects, error) {
	o := a.FindOffer(offerID)
	if o == nil {
		return nil, ErrOfferNotFound
	}
	if !isAdmin && !a.IsSeller(actorID) {
		return nil, ErrNotSeller
	}

	var fx Effects
	if expireIfDue(a, o, now, &fx) {
		return fx, &Persisted{Err: ErrOfferExpired}
	}
	if o.Status != models.OfferPending {
		return nil, ErrOfferNotPending
	}

	data := map[string]any{"offer_id": o.ID.String()}
	switch resp.Action {
	case OfferAccept:
		EnsureActive(a, now, &fx)
		if err := requireOpen(a, now); err != nil {
			return nil, err
		}
		o.Status = models.OfferAccepted
		o.SellerResponse = resp.Message
		o.RespondedAt = &now
		data["amount"] = o.Amount
		fx.notify(EventOfferAccepted, data, o.BuyerID)
		sell(a, o.BuyerID, o.Amount, now, true, reasonOfferAccepted, o.ID, &fx)
	case OfferCounter:
		if resp.CounterAmount <= 0 {
			return nil, ErrCounterAmountRequired
		}
		if resp.CounterAmount < a.StartPrice {
			return nil, ErrOfferBelowStartPrice
		}
		if err := requireOpen(a, now); err != nil {
			return nil, err
		}
		o.Status = models.OfferCountered
		o.CounterOffer = &models.CounterOffer{Amount: resp.CounterAmount, Message: resp.Message}
		o.SellerResponse = resp.Message
		o.RespondedAt = &now
		data["counter_amount"] = resp.CounterAmount
		fx.notify(EventOfferCountered, data, o.BuyerID)
	case OfferReject:
		o.Status = models.OfferRejected
		o.SellerResponse = resp.Message
		o.CanBeReactivated = true
		o.RespondedAt = &now
		fx.notify(EventOfferRejected, data, o.BuyerID)
	default:
		return nil, ErrInvalidOfferAction
	}
	return fx, nil
}

// RespondToCounter applies the buyer's answer to a counter offer
func RespondToCounter(a *models.Auction, offerID uuid.UUID, buyerID string, accept bool, now time.Time) (Effects, error) {
	o := a.FindOffer(offerID)
	if o == nil {
		return nil, ErrOfferNotFound
	}
	if o.BuyerID != buyerID {
		return nil, ErrNotOfferBuyer
	}

	var fx Effects
	if expireIfDue(a, o, now, &fx) {
		return fx, &Persisted{Err: ErrOfferExpired}
	}
	if o.Status != models.OfferCountered || o.CounterOffer == nil {
		return nil, ErrOfferNotCountered
	}

	data := map[string]any{"offer_id": o.ID.String(), "counter_amount": o.CounterOffer.Amount}
	if !accept {
		o.Status = models.OfferRejected
		o.CanBeReactivated = true
		o.RespondedAt = &now
		fx.notify(EventCounterRejected, data, a.SellerID)
		return fx, nil
	}

	EnsureActive(a, now, &fx)
	if err := requireOpen(a, now); err != nil {
		return nil, err
	}
	o.Status = models.OfferAccepted
	o.RespondedAt = &now
	fx.notify(EventCounterAccepted, data, a.SellerID)
	sell(a, o.BuyerID, o.CounterOffer.Amount, now, true, reasonOfferAccepted, o.ID, &fx)
	return fx, nil
}

// WithdrawOffer lets the buyer retract a pending offer
func WithdrawOffer(a *models.Auction, offerID uuid.UUID, requesterID string, now time.Time) (Effects, error) {
	o := a.FindOffer(offerID)
	if o == nil {
		return nil, ErrOfferNotFound
	}
	if o.BuyerID != requesterID {
		return nil, ErrNotOfferBuyer
	}
	if o.Status != models.OfferPending {
		return nil, ErrOfferNotPending
	}

	var fx Effects
	o.Status = models.OfferWithdrawn
	o.RespondedAt = &now
	fx.notify(EventOfferWithdrawn, map[string]any{"offer_id": o.ID.String()}, a.SellerID)
	return fx, nil
}

// ReactivateAndAccept overrides an earlier rejection and sells to the offer's
// buyer. The audit line is appended to the existing seller response.
func ReactivateAndAccept(a *models.Auction, offerID uuid.UUID, actorID string, isAdmin bool, now time.Time) (Effects, error) {
	o := a.FindOffer(offerID)
	if o == nil {
		return nil, ErrOfferNotFound
	}
	if !isAdmin && !a.IsSeller(actorID) {
		return nil, ErrNotSeller
	}
	if o.Status != models.OfferRejected || !o.CanBeReactivated {
		return nil, ErrOfferNotReactivatable
	}

	var fx Effects
	EnsureActive(a, now, &fx)
	if err := requireOpen(a, now); err != nil {
		return nil, err
	}

	role := "seller"
	if isAdmin && !a.IsSeller(actorID) {
		role = "admin"
	}
	audit := fmt.Sprintf("[reactivated and accepted by %s %s at %s]", role, actorID, now.UTC().Format(time.RFC3339))
	if o.SellerResponse != "" {
		o.SellerResponse += "\n" + audit
	} else {
		o.SellerResponse = audit
	}
	o.Status = models.OfferAccepted
	o.CanBeReactivated = false
	o.RespondedAt = &now
	fx.notify(EventOfferAccepted, map[string]any{"offer_id": o.ID.String(), "amount": o.Amount}, o.BuyerID)
	sell(a, o.BuyerID, o.Amount, now, true, reasonOfferAccepted, o.ID, &fx)
	return fx, nil
}

// ExpireOffers marks every overdue open offer expired and reports how many
func ExpireOffers(a *models.Auction, now time.Time) (Effects, int) {
	var fx Effects
	n := 0
	for i := range a.Offers {
		if expireIfDue(a, &a.Offers[i], now, &fx) {
			n++
		}
	}
	return fx, n
}
