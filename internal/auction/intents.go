package auction

import (
	"time"

	"example.com/backstage/services/auctions/internal/models"
)

// IntentKind names a consequence of a state transition
type IntentKind string

const (
	// Job store intents, applied in the same transaction as the auction write.
	IntentScheduleJob IntentKind = "schedule_job"
	IntentCancelJobs  IntentKind = "cancel_jobs"

	// Outbox intents, dispatched after commit.
	IntentNotify                IntentKind = IntentKind(models.OutboxNotify)
	IntentAnnounceLive          IntentKind = IntentKind(models.OutboxAnnounceLive)
	IntentAuthorizeBidder       IntentKind = IntentKind(models.OutboxAuthorizeBidder)
	IntentSettle                IntentKind = IntentKind(models.OutboxSettle)
	IntentReleaseAuthorizations IntentKind = IntentKind(models.OutboxReleaseAuthorizations)
	IntentIndexResult           IntentKind = IntentKind(models.OutboxIndexResult)
)

// Notification events
const (
	EventOutbid            = "outbid"
	EventNewBid            = "new_bid"
	EventBidConfirmed      = "bid_confirmed"
	EventAuctionLive       = "auction_live"
	EventAuctionApproved   = "auction_approved"
	EventAuctionWon        = "auction_won"
	EventAuctionSold       = "auction_sold"
	EventAuctionLost       = "auction_lost"
	EventAuctionEnded      = "auction_ended"
	EventReserveNotMet     = "reserve_not_met"
	EventAuctionCancelled  = "auction_cancelled"
	EventAuctionReopened   = "auction_reactivated"
	EventAuctionExtended   = "auction_extended"
	EventEndingSoon        = "ending_soon"
	EventOfferReceived     = "offer_received"
	EventOfferAccepted     = "offer_accepted"
	EventOfferRejected     = "offer_rejected"
	EventOfferCountered    = "offer_countered"
	EventOfferWithdrawn    = "offer_withdrawn"
	EventOfferExpired      = "offer_expired"
	EventCounterAccepted   = "counter_offer_accepted"
	EventCounterRejected   = "counter_offer_rejected"
	EventPaymentCompleted  = "payment_completed"
	EventPaymentNeedsCheck = "payment_needs_attention"
)

// Payload is the outbox body of a side-effect intent
type Payload struct {
	Event      string         `json:"event,omitempty"`
	Recipients []string       `json:"recipients,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Intent is emitted by a transition and carried out by the job store or the
// outbox dispatcher. JobKind empty on a cancel intent means every kind.
type Intent struct {
	Kind    IntentKind
	JobKind models.JobKind
	FireAt  time.Time
	Payload Payload
}

// IsJobIntent reports whether the intent targets the job store
func (i Intent) IsJobIntent() bool {
	return i.Kind == IntentScheduleJob || i.Kind == IntentCancelJobs
}

// OutboxKind maps a side-effect intent onto its outbox row kind
func (i Intent) OutboxKind() models.OutboxKind {
	return models.OutboxKind(i.Kind)
}

// Effects collects the intents produced by one operation, in order
type Effects []Intent

func (e *Effects) scheduleJob(kind models.JobKind, at time.Time) {
	*e = append(*e, Intent{Kind: IntentScheduleJob, JobKind: kind, FireAt: at})
}

func (e *Effects) cancelJobs(kind models.JobKind) {
	*e = append(*e, Intent{Kind: IntentCancelJobs, JobKind: kind})
}

func (e *Effects) notify(event string, data map[string]any, recipients ...string) {
	var to []string
	for _, r := range recipients {
		if r != "" {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return
	}
	*e = append(*e, Intent{Kind: IntentNotify, Payload: Payload{Event: event, Recipients: to, Data: data}})
}

func (e *Effects) add(kind IntentKind, p Payload) {
	*e = append(*e, Intent{Kind: kind, Payload: p})
}

// Has reports whether an intent of the given kind was emitted
func (e Effects) Has(kind IntentKind) bool {
	for _, i := range e {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

// Of returns the intents of the given kind
func (e Effects) Of(kind IntentKind) []Intent {
	var out []Intent
	for _, i := range e {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}
