package schema

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgerlens/errs"
)

// Mark price bounds for unresolved positions. Last trade prices outside this
// band produce degenerate valuations, so they are clamped.
var (
	MarkPriceFloor   = decimal.NewFromFloat(0.01)
	MarkPriceCeiling = decimal.NewFromFloat(0.99)
	MarkPriceDefault = decimal.NewFromFloat(0.5)
)

// Resolution is the normalized payout vector of a resolved condition. Entries
// sum to one; exactly one strictly positive entry identifies the winner except
// in combinatorial markets, which are flagged ambiguous rather than guessed.
type Resolution struct {
	ConditionID string
	Payouts     []decimal.Decimal
}

// Validate checks that the payout vector sums to the expected denominator.
func (r Resolution) Validate() error {
	if len(r.Payouts) == 0 {
		return errs.New("schema/resolution", errs.CodeInvalid,
			errs.WithCondition(r.ConditionID), errs.WithMessage("empty payout vector"))
	}
	sum := decimal.Zero
	for _, p := range r.Payouts {
		if p.IsNegative() {
			return errs.New("schema/resolution", errs.CodeInvalid,
				errs.WithCondition(r.ConditionID), errs.WithMessage("negative payout entry"))
		}
		sum = sum.Add(p)
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		return errs.New("schema/resolution", errs.CodeResolutionAmbiguous,
			errs.WithCondition(r.ConditionID),
			errs.WithMessage("payout vector does not sum to one"),
			errs.WithField("sum", sum.String()))
	}
	return nil
}

// WinningOutcome returns the index of the single strictly positive payout.
// When more than one entry is strictly positive (combinatorial resolutions)
// it returns -1 and false; the caller must surface the ambiguity.
func (r Resolution) WinningOutcome() (int, bool) {
	winner := -1
	for i, p := range r.Payouts {
		if !p.IsPositive() {
			continue
		}
		if winner >= 0 {
			return -1, false
		}
		winner = i
	}
	if winner < 0 {
		return -1, false
	}
	return winner, true
}

// PayoutFor returns the payout assigned to an outcome index, zero when the
// index lies outside the vector.
func (r Resolution) PayoutFor(outcome int) decimal.Decimal {
	if outcome < 0 || outcome >= len(r.Payouts) {
		return decimal.Zero
	}
	return r.Payouts[outcome]
}

// ClampMarkPrice bounds a last-trade price into the valuation band. The zero
// value (price unavailable) maps to the 0.5 default.
func ClampMarkPrice(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return MarkPriceDefault
	}
	if price.LessThan(MarkPriceFloor) {
		return MarkPriceFloor
	}
	if price.GreaterThan(MarkPriceCeiling) {
		return MarkPriceCeiling
	}
	return price
}
