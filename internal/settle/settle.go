// Package settle values replayed positions against resolutions and mark prices.
package settle

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgerlens/internal/engine"
	"github.com/coachpo/ledgerlens/internal/schema"
)

// Calculator turns final replay state into per-position realized/unrealized
// values. Resolved positions settle against the payout vector; open positions
// on unresolved conditions are marked to the clamped last trade price.
type Calculator struct{}

// New constructs a settlement calculator.
func New() *Calculator {
	return &Calculator{}
}

// Settle values every position in the replay state. resolutions maps condition
// ids to validated payout vectors for resolved conditions; marks maps position
// keys to last observed trade prices (zero value means unavailable). Output is
// sorted by (condition, outcome) so results are stable across runs.
func (c *Calculator) Settle(state engine.ReplayResult, resolutions map[string]schema.Resolution, marks map[schema.PositionKey]decimal.Decimal) []schema.PositionResult {
	results := make([]schema.PositionResult, 0, len(state.Positions))

	for key, pos := range state.Positions {
		result := schema.PositionResult{
			ConditionID:  key.ConditionID,
			OutcomeIndex: key.OutcomeIndex,
			Realized:     pos.Realized,
			Unrealized:   decimal.Zero,
			Quantity:     pos.Quantity,
			AvgCost:      pos.AvgCost,
			Status:       pos.Status,
		}

		res, resolved := resolutions[key.ConditionID]
		_, ambiguousCondition := state.AmbiguousConditions[key.ConditionID]

		switch {
		case pos.Status == schema.PositionAmbiguous || ambiguousCondition:
			// Surfaced, never valued: realized stays at what replay booked.
			result.Status = schema.PositionAmbiguous
		case resolved:
			if _, ok := res.WinningOutcome(); !ok {
				result.Status = schema.PositionAmbiguous
				break
			}
			// Terminal: residual quantity settles at the outcome's payout, so
			// the whole position value is realized.
			payout := res.PayoutFor(key.OutcomeIndex)
			result.Realized = pos.CashNet().Add(pos.Quantity.Mul(payout))
			result.Unrealized = decimal.Zero
			result.Status = schema.PositionResolved
		case pos.Quantity.IsPositive():
			mark := schema.ClampMarkPrice(marks[key])
			result.Unrealized = pos.Quantity.Mul(mark.Sub(pos.AvgCost))
		}

		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].ConditionID != results[j].ConditionID {
			return results[i].ConditionID < results[j].ConditionID
		}
		return results[i].OutcomeIndex < results[j].OutcomeIndex
	})
	return results
}

// Totals sums realized and unrealized values across position results.
func Totals(results []schema.PositionResult) (realized, unrealized decimal.Decimal) {
	realized, unrealized = decimal.Zero, decimal.Zero
	for _, r := range results {
		realized = realized.Add(r.Realized)
		unrealized = unrealized.Add(r.Unrealized)
	}
	return realized, unrealized
}
