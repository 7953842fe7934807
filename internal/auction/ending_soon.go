package auction

import (
	"time"

	"example.com/backstage/services/auctions/internal/models"
)

// Window is an ending-soon lookahead tracked by a sent flag on the auction
type Window struct {
	Label    string
	Duration time.Duration
	flag     func(a *models.Auction) *bool
}

// EndingSoonWindows is ordered from the tightest window to the widest
var EndingSoonWindows = []Window{
	{Label: "30m", Duration: 30 * time.Minute, flag: func(a *models.Auction) *bool { return &a.EndingSoon30mSent }},
	{Label: "2h", Duration: 2 * time.Hour, flag: func(a *models.Auction) *bool { return &a.EndingSoon2hSent }},
	{Label: "24h", Duration: 24 * time.Hour, flag: func(a *models.Auction) *bool { return &a.EndingSoon24hSent }},
}

// WidestWindow is the furthest lookahead the sweep needs to query
func WidestWindow() time.Duration {
	return EndingSoonWindows[len(EndingSoonWindows)-1].Duration
}

// MarkEndingSoon sends at most one notice per window. Only the tightest window
// containing the remaining time fires; wider windows are marked as covered.
func MarkEndingSoon(a *models.Auction, now time.Time) (Effects, string, bool) {
	if a.Status != models.StatusActive || !now.Before(a.EndDate) {
		return nil, "", false
	}
	remaining := a.EndDate.Sub(now)
	for i, w := range EndingSoonWindows {
		if remaining > w.Duration {
			continue
		}
		if *w.flag(a) {
			return nil, "", false
		}
		for _, wider := range EndingSoonWindows[i:] {
			*wider.flag(a) = true
		}

		var fx Effects
		recipients := []string{a.SellerID}
		recipients = append(recipients, a.Bidders()...)
		for _, o := range a.Offers {
			if o.IsOpen() {
				recipients = append(recipients, o.BuyerID)
			}
		}
		fx.notify(EventEndingSoon, map[string]any{"window": w.Label, "end_date": a.EndDate}, dedupe(recipients)...)
		return fx, w.Label, true
	}
	return nil, "", false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
