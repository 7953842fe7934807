package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auctions/internal/models"
)

func soldAuction(t *testing.T) *models.Auction {
	a := newActive(t, models.SaleModeBuyNow, nil)
	_, err := BuyNow(a, "B", t0.Add(time.Hour))
	require.NoError(t, err)
	return a
}

func TestSettlementClaimIsSingleShot(t *testing.T) {
	a := soldAuction(t)

	require.True(t, ClaimSettlement(a))
	require.Equal(t, models.PaymentProcessing, a.PaymentStatus)
	require.False(t, ClaimSettlement(a))

	fx, err := CompleteSettlement(a, 400, "charge")
	require.NoError(t, err)
	require.Equal(t, models.PaymentCompleted, a.PaymentStatus)
	require.Equal(t, int64(400), a.CommissionAmount)
	require.Len(t, fx.Of(IntentNotify), 2)

	_, err = CompleteSettlement(a, 400, "charge")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.False(t, ClaimSettlement(a))
}

func TestSettlementFailureCanBeReopened(t *testing.T) {
	a := soldAuction(t)
	require.True(t, ClaimSettlement(a))

	_, err := FailSettlement(a, "card declined")
	require.NoError(t, err)
	require.Equal(t, models.PaymentFailed, a.PaymentStatus)

	require.NoError(t, ReopenSettlement(a))
	require.True(t, ClaimSettlement(a))
}

func TestUnsoldAuctionIsNotSettled(t *testing.T) {
	a := newActive(t, models.SaleModeStandard, nil)
	require.False(t, ClaimSettlement(a))
	require.ErrorIs(t, ReopenSettlement(a), ErrInvalidTransition)
}

func TestReconcile(t *testing.T) {
	a := newAuction(t, models.SaleModeStandard, nil)
	a.Status = models.StatusApproved

	_, ok := Reconcile(a, a.StartDate.Add(-time.Minute))
	require.False(t, ok)

	now := a.StartDate.Add(time.Minute)
	fx, ok := Reconcile(a, now)
	require.True(t, ok)
	jobs := fx.Of(IntentScheduleJob)
	require.Len(t, jobs, 2)
	require.Equal(t, models.JobActivate, jobs[0].JobKind)
	require.Equal(t, now, jobs[0].FireAt)

	a.Status = models.StatusActive
	fx, ok = Reconcile(a, a.EndDate.Add(time.Second))
	require.True(t, ok)
	require.Equal(t, models.JobEnd, fx.Of(IntentScheduleJob)[0].JobKind)
}
