package auction

import (
	"time"

	"example.com/backstage/services/auctions/internal/models"
)

// Reconcile re-creates the jobs of an auction that is due for a lifecycle step
// but has none scheduled. It reports false when nothing is due.
func Reconcile(a *models.Auction, now time.Time) (Effects, bool) {
	var fx Effects
	switch {
	case a.Status == models.StatusApproved && !now.Before(a.StartDate):
		fx.scheduleJob(models.JobActivate, now)
		fx.scheduleJob(models.JobEnd, a.EndDate)
	case a.Status == models.StatusActive && !now.Before(a.EndDate):
		fx.scheduleJob(models.JobEnd, now)
	default:
		return nil, false
	}
	return fx, true
}

// ClaimSettlement moves a sold auction's payment from pending to processing.
// It reports false when the auction is not sold or was already claimed.
func ClaimSettlement(a *models.Auction) bool {
	if !a.Status.IsSold() || !a.HasWinner() || a.FinalPrice == nil {
		return false
	}
	if a.PaymentStatus != models.PaymentPending {
		return false
	}
	a.PaymentStatus = models.PaymentProcessing
	return true
}

// CompleteSettlement records the collected commission
func CompleteSettlement(a *models.Auction, commission int64, method string) (Effects, error) {
	if a.PaymentStatus != models.PaymentProcessing {
		return nil, ErrInvalidTransition
	}
	var fx Effects
	a.PaymentStatus = models.PaymentCompleted
	a.CommissionAmount = commission
	data := map[string]any{"commission_amount": commission, "method": method}
	fx.notify(EventPaymentCompleted, data, *a.WinnerID)
	fx.notify(EventPaymentCompleted, data, a.SellerID)
	fx.add(IntentIndexResult, Payload{})
	return fx, nil
}

// FailSettlement leaves the auction for manual follow-up
func FailSettlement(a *models.Auction, reason string) (Effects, error) {
	if a.PaymentStatus != models.PaymentProcessing {
		return nil, ErrInvalidTransition
	}
	var fx Effects
	a.PaymentStatus = models.PaymentFailed
	fx.notify(EventPaymentNeedsCheck, map[string]any{"reason": reason}, *a.WinnerID)
	return fx, nil
}

// ReopenSettlement puts a stuck or failed settlement back to pending so it can
// be run again.
func ReopenSettlement(a *models.Auction) error {
	if !a.Status.IsSold() || !a.HasWinner() {
		return ErrInvalidTransition
	}
	switch a.PaymentStatus {
	case models.PaymentProcessing, models.PaymentFailed:
		a.PaymentStatus = models.PaymentPending
		return nil
	}
	return ErrInvalidTransition
}
