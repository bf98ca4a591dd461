package schema

import "github.com/shopspring/decimal"

// PositionKey identifies one (condition, outcome) position within a wallet.
type PositionKey struct {
	ConditionID  string
	OutcomeIndex int
}

// PositionStatus tracks the lifecycle of a replayed position.
type PositionStatus string

const (
	// PositionOpen marks a position holding quantity with no settlement yet.
	PositionOpen PositionStatus = "open"
	// PositionClosedBySale marks a position fully exited through sells or merges
	// before resolution.
	PositionClosedBySale PositionStatus = "closed_by_sale"
	// PositionResolved marks a position on a resolved condition. Terminal: any
	// residual quantity is absorbed by settlement.
	PositionResolved PositionStatus = "resolved"
	// PositionAmbiguous marks a position whose condition resolved with a payout
	// vector that does not identify exactly one winner. Surfaced, never guessed.
	PositionAmbiguous PositionStatus = "resolution_ambiguous"
)

// Position is the ephemeral replay state for one (condition, outcome). It is
// rebuilt from the full event history on every computation; recomputation is
// the source of truth and no mutable position state is ever persisted.
type Position struct {
	Key PositionKey
	// Quantity is the currently held token quantity. Never negative.
	Quantity decimal.Decimal
	// AvgCost is the weighted-average acquisition cost per token. Meaningful
	// only while Quantity is positive.
	AvgCost decimal.Decimal
	// Realized accumulates P&L booked by consuming events during replay.
	Realized decimal.Decimal
	// CashIn / CashOut accumulate collateral flows attributed to the position.
	CashIn  decimal.Decimal
	CashOut decimal.Decimal
	// PhantomQuantity accumulates inventory inferred to cover consuming events
	// that exceeded tracked holdings.
	PhantomQuantity decimal.Decimal
	// BuyQuantity / BuyNotional track observed order-book buys, used to price
	// phantom inventory from the complementary outcome.
	BuyQuantity decimal.Decimal
	BuyNotional decimal.Decimal
	Status      PositionStatus
}

// NewPosition returns an open position with zeroed accumulators.
func NewPosition(key PositionKey) *Position {
	return &Position{
		Key:             key,
		Quantity:        decimal.Zero,
		AvgCost:         decimal.Zero,
		Realized:        decimal.Zero,
		CashIn:          decimal.Zero,
		CashOut:         decimal.Zero,
		PhantomQuantity: decimal.Zero,
		BuyQuantity:     decimal.Zero,
		BuyNotional:     decimal.Zero,
		Status:          PositionOpen,
	}
}

// CashNet returns inflows minus outflows attributed to the position.
func (p *Position) CashNet() decimal.Decimal {
	return p.CashIn.Sub(p.CashOut)
}

// AvgBuyPrice returns the volume-weighted average price of observed buys, or
// zero when the position saw no buys.
func (p *Position) AvgBuyPrice() decimal.Decimal {
	if p.BuyQuantity.IsZero() {
		return decimal.Zero
	}
	return p.BuyNotional.Div(p.BuyQuantity)
}
