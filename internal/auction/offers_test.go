package auction

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auctions/internal/models"
)

func offerAuction(t *testing.T) *models.Auction {
	return newActive(t, models.SaleModeStandard, func(in *CreateInput) { in.AllowOffers = true })
}

func TestMakeOffer(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)

	fx, offer, err := MakeOffer(a, "B", 1500, "cash on pickup", now)
	require.NoError(t, err)
	require.Equal(t, models.OfferPending, offer.Status)
	require.Equal(t, now.Add(48*time.Hour), offer.ExpiresAt)
	require.True(t, fx.Has(IntentAuthorizeBidder))

	_, _, err = MakeOffer(a, "B", 1600, "", now)
	require.ErrorIs(t, err, ErrDuplicatePendingOffer)

	_, _, err = MakeOffer(a, "C", 900, "", now)
	require.ErrorIs(t, err, ErrOfferBelowStartPrice)

	_, _, err = MakeOffer(a, "seller", 1500, "", now)
	require.ErrorIs(t, err, ErrSellerCannotParticipate)

	closed := newActive(t, models.SaleModeStandard, nil)
	_, _, err = MakeOffer(closed, "B", 1500, "", now)
	require.ErrorIs(t, err, ErrOffersNotAllowed)
}

func TestOnePendingOfferPerBuyer(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)

	_, first, err := MakeOffer(a, "B", 1500, "", now)
	require.NoError(t, err)
	firstID := first.ID

	_, err = RespondToOffer(a, firstID, "seller", false, OfferResponse{Action: OfferReject, Message: "too low"}, now)
	require.NoError(t, err)

	// a rejected offer frees the buyer to try again
	_, _, err = MakeOffer(a, "B", 1800, "", now)
	require.NoError(t, err)

	pending := 0
	for _, o := range a.Offers {
		if o.BuyerID == "B" && o.Status == models.OfferPending {
			pending++
		}
	}
	require.Equal(t, 1, pending)
}

func TestAcceptOfferSells(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)
	_, err := PlaceBid(a, "A", 1200, now)
	require.NoError(t, err)

	_, accepted, err := MakeOffer(a, "B", 3000, "", now)
	require.NoError(t, err)
	acceptedID := accepted.ID
	_, other, err := MakeOffer(a, "C", 2500, "", now)
	require.NoError(t, err)
	otherID := other.ID

	fx, err := RespondToOffer(a, acceptedID, "seller", false, OfferResponse{Action: OfferAccept}, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, models.StatusSold, a.Status)
	require.Equal(t, "B", *a.WinnerID)
	require.Equal(t, int64(3000), *a.FinalPrice)
	require.Equal(t, int64(3000), a.CurrentPrice)
	require.Equal(t, now.Add(time.Minute), a.EndDate)
	require.Equal(t, models.OfferAccepted, a.FindOffer(acceptedID).Status)

	o := a.FindOffer(otherID)
	require.Equal(t, models.OfferRejected, o.Status)
	require.NotEmpty(t, o.SellerResponse)
	require.True(t, fx.Has(IntentSettle))
	require.True(t, fx.Has(IntentCancelJobs))
}

func TestRespondToOfferRequiresSeller(t *testing.T) {
	a := offerAuction(t)
	_, offer, err := MakeOffer(a, "B", 1500, "", t0.Add(time.Hour))
	require.NoError(t, err)

	_, err = RespondToOffer(a, offer.ID, "C", false, OfferResponse{Action: OfferAccept}, t0.Add(time.Hour))
	require.ErrorIs(t, err, ErrNotSeller)

	_, err = RespondToOffer(a, offer.ID, "admin-1", true, OfferResponse{Action: OfferReject}, t0.Add(time.Hour))
	require.NoError(t, err)

	_, err = RespondToOffer(a, uuid.New(), "seller", false, OfferResponse{Action: OfferReject}, t0.Add(time.Hour))
	require.ErrorIs(t, err, ErrOfferNotFound)
}

func TestExpiredOfferIsMarkedAndRefused(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)
	_, offer, err := MakeOffer(a, "B", 1500, "", now)
	require.NoError(t, err)
	id := offer.ID

	fx, err := RespondToOffer(a, id, "seller", false, OfferResponse{Action: OfferAccept}, now.Add(49*time.Hour))
	require.ErrorIs(t, err, ErrOfferExpired)
	var persisted *Persisted
	require.ErrorAs(t, err, &persisted)
	require.Equal(t, models.OfferExpired, a.FindOffer(id).Status)
	require.True(t, fx.Has(IntentNotify))
	require.False(t, a.HasWinner())
}

func TestCounterOfferFlow(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)
	_, offer, err := MakeOffer(a, "B", 1500, "", now)
	require.NoError(t, err)
	id := offer.ID

	_, err = RespondToOffer(a, id, "seller", false, OfferResponse{Action: OfferCounter}, now)
	require.ErrorIs(t, err, ErrCounterAmountRequired)

	_, err = RespondToOffer(a, id, "seller", false, OfferResponse{Action: OfferCounter, CounterAmount: 2200, Message: "meet me at 2200"}, now)
	require.NoError(t, err)
	o := a.FindOffer(id)
	require.Equal(t, models.OfferCountered, o.Status)
	require.Equal(t, int64(2200), o.CounterOffer.Amount)

	_, err = RespondToCounter(a, id, "C", true, now)
	require.ErrorIs(t, err, ErrNotOfferBuyer)

	_, err = RespondToCounter(a, id, "B", true, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, models.StatusSold, a.Status)
	require.Equal(t, int64(2200), *a.FinalPrice)
	require.Equal(t, "B", *a.WinnerID)
}

func TestRejectCounter(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)
	_, offer, err := MakeOffer(a, "B", 1500, "", now)
	require.NoError(t, err)
	id := offer.ID
	_, err = RespondToOffer(a, id, "seller", false, OfferResponse{Action: OfferCounter, CounterAmount: 2200}, now)
	require.NoError(t, err)

	_, err = RespondToCounter(a, id, "B", false, now)
	require.NoError(t, err)
	require.Equal(t, models.OfferRejected, a.FindOffer(id).Status)
	require.Equal(t, models.StatusActive, a.Status)

	_, err = RespondToCounter(a, id, "B", true, now)
	require.ErrorIs(t, err, ErrOfferNotCountered)
}

func TestWithdrawOffer(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)
	_, offer, err := MakeOffer(a, "B", 1500, "", now)
	require.NoError(t, err)
	id := offer.ID

	_, err = WithdrawOffer(a, id, "C", now)
	require.ErrorIs(t, err, ErrNotOfferBuyer)

	_, err = WithdrawOffer(a, id, "B", now)
	require.NoError(t, err)
	require.Equal(t, models.OfferWithdrawn, a.FindOffer(id).Status)

	_, err = WithdrawOffer(a, id, "B", now)
	require.ErrorIs(t, err, ErrOfferNotPending)
}

func TestReactivateAndAccept(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)
	_, offer, err := MakeOffer(a, "B", 1500, "", now)
	require.NoError(t, err)
	id := offer.ID

	_, err = ReactivateAndAccept(a, id, "seller", false, now)
	require.ErrorIs(t, err, ErrOfferNotReactivatable)

	_, err = RespondToOffer(a, id, "seller", false, OfferResponse{Action: OfferReject, Message: "not yet"}, now)
	require.NoError(t, err)

	_, err = ReactivateAndAccept(a, id, "C", false, now)
	require.ErrorIs(t, err, ErrNotSeller)

	fx, err := ReactivateAndAccept(a, id, "seller", false, now.Add(time.Hour))
	require.NoError(t, err)
	o := a.FindOffer(id)
	require.Equal(t, models.OfferAccepted, o.Status)
	require.True(t, strings.HasPrefix(o.SellerResponse, "not yet\n[reactivated and accepted by seller seller"))
	require.Equal(t, models.StatusSold, a.Status)
	require.Equal(t, "B", *a.WinnerID)
	require.True(t, fx.Has(IntentSettle))
}

func TestReactivateRequiresLiveAuction(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)
	_, offer, err := MakeOffer(a, "B", 1500, "", now)
	require.NoError(t, err)
	id := offer.ID
	_, err = RespondToOffer(a, id, "seller", false, OfferResponse{Action: OfferReject}, now)
	require.NoError(t, err)

	_, err = ReactivateAndAccept(a, id, "admin-1", true, a.EndDate.Add(time.Minute))
	require.ErrorIs(t, err, ErrAuctionEnded)
	require.Equal(t, models.OfferRejected, a.FindOffer(id).Status)
}

func TestExpireOffers(t *testing.T) {
	a := offerAuction(t)
	now := t0.Add(time.Hour)
	_, _, err := MakeOffer(a, "B", 1500, "", now)
	require.NoError(t, err)
	_, _, err = MakeOffer(a, "C", 1600, "", now.Add(10*time.Hour))
	require.NoError(t, err)

	_, n := ExpireOffers(a, now.Add(49*time.Hour))
	require.Equal(t, 1, n)
	require.Equal(t, models.OfferExpired, a.Offers[0].Status)
	require.Equal(t, models.OfferPending, a.Offers[1].Status)
}
