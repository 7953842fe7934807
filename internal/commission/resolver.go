// Package commission computes the buyer's commission on a final sale price.
package commission

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"example.com/backstage/services/auctions/config"
)

const (
	TierCapped = "standard_capped"
	TierHigh   = "high_value"
)

// Result is the commission owed on a sale
type Result struct {
	Rate      decimal.Decimal `json:"rate"`
	Amount    int64           `json:"amount"`
	TierLabel string          `json:"tier_label"`
}

// Resolver applies a two-tier schedule: a capped percentage up to and including
// Threshold, and an uncapped percentage above it.
type Resolver struct {
	Threshold int64
	LowRate   decimal.Decimal
	LowCap    int64
	HighRate  decimal.Decimal
}

// Default returns the marketplace's standard schedule
func Default() *Resolver {
	return &Resolver{
		Threshold: 500000,
		LowRate:   decimal.RequireFromString("0.05"),
		LowCap:    10000,
		HighRate:  decimal.RequireFromString("0.03"),
	}
}

// NewResolver builds a resolver from configuration, falling back to defaults
// for unset fields.
func NewResolver(cfg config.CommissionConfig) (*Resolver, error) {
	r := Default()
	if cfg.Threshold > 0 {
		r.Threshold = cfg.Threshold
	}
	if cfg.LowCap > 0 {
		r.LowCap = cfg.LowCap
	}
	if cfg.LowRate != "" {
		rate, err := decimal.NewFromString(cfg.LowRate)
		if err != nil {
			return nil, errors.Wrap(err, "invalid commission.low_rate")
		}
		r.LowRate = rate
	}
	if cfg.HighRate != "" {
		rate, err := decimal.NewFromString(cfg.HighRate)
		if err != nil {
			return nil, errors.Wrap(err, "invalid commission.high_rate")
		}
		r.HighRate = rate
	}
	return r, nil
}

// Resolve computes the commission for finalPrice. Amounts are rounded half up
// to whole currency units.
func (r *Resolver) Resolve(finalPrice int64) Result {
	price := decimal.NewFromInt(finalPrice)
	if finalPrice <= r.Threshold {
		amount := price.Mul(r.LowRate).Round(0).IntPart()
		if amount > r.LowCap {
			amount = r.LowCap
		}
		return Result{Rate: r.LowRate, Amount: amount, TierLabel: TierCapped}
	}
	return Result{
		Rate:      r.HighRate,
		Amount:    price.Mul(r.HighRate).Round(0).IntPart(),
		TierLabel: TierHigh,
	}
}
