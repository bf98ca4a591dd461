// Package engine replays a wallet's ordered ledger sequence into position state.
package engine

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgerlens/internal/schema"
)

// ReplayResult is the final position state produced by one deterministic pass
// over the ordered event sequence, plus the anomaly bookkeeping accumulated on
// the way.
type ReplayResult struct {
	Positions map[schema.PositionKey]*schema.Position
	// PhantomEvents counts consuming events that required inferred inventory.
	PhantomEvents int
	// PhantomNotional values inferred inventory at the consuming event's price.
	PhantomNotional decimal.Decimal
	// AmbiguousConditions collects conditions whose redemptions could not be
	// re-attributed because the payout vector names more than one winner (or
	// none). Surfaced on the result, never guessed.
	AmbiguousConditions map[string]struct{}
	// RealizedSeries records per-event realized contributions in replay order
	// for the aggregator's daily statistics.
	RealizedSeries []schema.RealizedPoint
}

// Engine performs the single-pass inventory replay. The pass is pure: all
// inputs are in memory before it starts and it performs no I/O.
type Engine struct {
	logger zerolog.Logger
}

// New constructs a replay engine.
func New(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Replay applies the ordered sequence to fresh position state. resolutions is
// consulted only to re-attribute redemption events to the true winning
// outcome; valuation of open and resolved positions belongs to the settlement
// calculator.
//
// Invariants preserved on every step: no position quantity ever goes negative
// (the excess of a consuming event is covered by phantom inference), and cash
// conservation holds under the documented phantom policy.
func (e *Engine) Replay(wallet string, ordered []schema.LedgerEvent, resolutions map[string]schema.Resolution) ReplayResult {
	state := ReplayResult{
		Positions:           make(map[schema.PositionKey]*schema.Position),
		PhantomNotional:     decimal.Zero,
		AmbiguousConditions: make(map[string]struct{}),
	}

	for _, ev := range ordered {
		switch ev.Action {
		case schema.ActionBuy:
			pos := e.position(&state, ev.Key())
			applyCredit(pos, ev.Quantity, ev.Price)
			pos.CashOut = pos.CashOut.Add(ev.CashDelta.Neg())
			pos.BuyQuantity = pos.BuyQuantity.Add(ev.Quantity)
			pos.BuyNotional = pos.BuyNotional.Add(ev.Quantity.Mul(ev.Price))
		case schema.ActionSplitCredit:
			pos := e.position(&state, ev.Key())
			applyCredit(pos, ev.Quantity, ev.Price)
			pos.CashOut = pos.CashOut.Add(ev.CashDelta.Neg())
		case schema.ActionSell:
			e.consume(&state, wallet, ev.Key(), ev, true)
		case schema.ActionMergeDebit:
			e.consume(&state, wallet, ev.Key(), ev, true)
		case schema.ActionRedeem:
			e.redeem(&state, wallet, ev, resolutions)
		}
	}

	return state
}

func (e *Engine) position(state *ReplayResult, key schema.PositionKey) *schema.Position {
	if pos, ok := state.Positions[key]; ok {
		return pos
	}
	pos := schema.NewPosition(key)
	state.Positions[key] = pos
	return pos
}

// applyCredit increases quantity and folds the acquisition into the
// weighted-average cost.
func applyCredit(pos *schema.Position, quantity, price decimal.Decimal) {
	if !quantity.IsPositive() {
		return
	}
	newQuantity := pos.Quantity.Add(quantity)
	pos.AvgCost = pos.AvgCost.Mul(pos.Quantity).Add(price.Mul(quantity)).Div(newQuantity)
	pos.Quantity = newQuantity
	if pos.Status == schema.PositionClosedBySale {
		pos.Status = schema.PositionOpen
	}
}

// consume debits inventory at the event's exit price. The effective quantity
// is min(requested, held); any excess is phantom inventory acquired outside
// the tracked event set. The phantom slice is covered by an inferred split
// priced from the complementary outcome's observed average buy price
// (max(0, 1 − complementAvgBuy)); when no complement buys were observed it is
// valued at the exit price itself, yielding zero P&L on that slice. Both legs
// book a matching synthetic cash-out so cash conservation survives inference.
func (e *Engine) consume(state *ReplayResult, wallet string, key schema.PositionKey, ev schema.LedgerEvent, closable bool) {
	pos := e.position(state, key)
	requested := ev.Quantity
	price := ev.Price
	eventRealized := decimal.Zero

	effective := requested
	if effective.GreaterThan(pos.Quantity) {
		effective = pos.Quantity
	}
	phantom := requested.Sub(effective)

	if effective.IsPositive() {
		eventRealized = eventRealized.Add(effective.Mul(price.Sub(pos.AvgCost)))
		pos.Quantity = pos.Quantity.Sub(effective)
	}

	if phantom.IsPositive() {
		phantomCost := price
		if complementAvg, ok := complementAvgBuy(state, key); ok {
			phantomCost = decimal.NewFromInt(1).Sub(complementAvg)
			if phantomCost.IsNegative() {
				phantomCost = decimal.Zero
			}
		}
		eventRealized = eventRealized.Add(phantom.Mul(price.Sub(phantomCost)))
		pos.CashOut = pos.CashOut.Add(phantom.Mul(phantomCost))
		pos.PhantomQuantity = pos.PhantomQuantity.Add(phantom)

		state.PhantomEvents++
		state.PhantomNotional = state.PhantomNotional.Add(phantom.Mul(price))

		e.logger.Debug().Str("wallet", wallet).Str("condition", key.ConditionID).
			Int("outcome", key.OutcomeIndex).Str("requested", requested.String()).
			Str("phantom", phantom.String()).Str("inferred_cost", phantomCost.String()).
			Msg("phantom inventory inferred for consuming event")
	}

	pos.Realized = pos.Realized.Add(eventRealized)
	pos.CashIn = pos.CashIn.Add(ev.CashDelta)
	state.RealizedSeries = append(state.RealizedSeries, schema.RealizedPoint{
		Time:   ev.Time,
		Amount: eventRealized,
	})

	if closable && pos.Quantity.IsZero() && pos.Status == schema.PositionOpen {
		pos.Status = schema.PositionClosedBySale
	}
}

// redeem re-attributes a redemption to the winning outcome derived from the
// resolution vector. The recorded outcome index is always zero upstream and is
// never trusted. When the vector is missing or names more than one winner the
// cash stays on the recorded position and the condition is flagged ambiguous.
func (e *Engine) redeem(state *ReplayResult, wallet string, ev schema.LedgerEvent, resolutions map[string]schema.Resolution) {
	res, ok := resolutions[ev.ConditionID]
	winner := -1
	if ok {
		winner, ok = res.WinningOutcome()
	}
	if !ok {
		pos := e.position(state, ev.Key())
		pos.CashIn = pos.CashIn.Add(ev.CashDelta)
		pos.Status = schema.PositionAmbiguous
		state.AmbiguousConditions[ev.ConditionID] = struct{}{}
		e.logger.Debug().Str("wallet", wallet).Str("condition", ev.ConditionID).
			Msg("redemption without unambiguous winner; cash kept on recorded position")
		return
	}

	payout := res.PayoutFor(winner)
	quantity := ev.CashDelta.Div(payout)

	attributed := ev
	attributed.OutcomeIndex = winner
	attributed.Quantity = quantity
	attributed.Price = payout
	e.consume(state, wallet, attributed.Key(), attributed, false)
}

// complementAvgBuy returns the volume-weighted average buy price observed on
// the other outcomes of the same condition.
func complementAvgBuy(state *ReplayResult, key schema.PositionKey) (decimal.Decimal, bool) {
	quantity := decimal.Zero
	notional := decimal.Zero
	for other, pos := range state.Positions {
		if other.ConditionID != key.ConditionID || other.OutcomeIndex == key.OutcomeIndex {
			continue
		}
		quantity = quantity.Add(pos.BuyQuantity)
		notional = notional.Add(pos.BuyNotional)
	}
	if !quantity.IsPositive() {
		return decimal.Zero, false
	}
	return notional.Div(quantity), true
}
