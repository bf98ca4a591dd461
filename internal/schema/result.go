package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionResult is the settled view of one (condition, outcome) position.
type PositionResult struct {
	ConditionID  string          `json:"condition_id"`
	OutcomeIndex int             `json:"outcome_index"`
	Realized     decimal.Decimal `json:"realized"`
	Unrealized   decimal.Decimal `json:"unrealized"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	Status       PositionStatus  `json:"status"`
}

// CoverageDetail itemizes how much of the wallet's history the engine could
// fully explain.
type CoverageDetail struct {
	// TotalEvents counts distinct raw records after dedup.
	TotalEvents int `json:"total_events"`
	// DroppedEvents counts records skipped for missing token mappings.
	DroppedEvents int `json:"dropped_events"`
	// DefaultedIndexSets counts lifecycle events whose malformed index set was
	// defaulted to binary.
	DefaultedIndexSets int `json:"defaulted_index_sets"`
	// PhantomEvents counts consuming events that required phantom inference.
	PhantomEvents int `json:"phantom_events"`
	// AmbiguousConditions counts conditions flagged resolution-ambiguous.
	AmbiguousConditions int `json:"ambiguous_conditions"`
	// PhantomNotional is the total collateral value of inferred inventory.
	PhantomNotional decimal.Decimal `json:"phantom_notional"`
	// GrossNotional is the total collateral value moved by all events.
	GrossNotional decimal.Decimal `json:"gross_notional"`
}

// Coverage returns the share of events fully explained, in [0, 1].
func (c CoverageDetail) Coverage() decimal.Decimal {
	if c.TotalEvents == 0 {
		return decimal.NewFromInt(1)
	}
	explained := c.TotalEvents - c.DroppedEvents
	if explained < 0 {
		explained = 0
	}
	return decimal.NewFromInt(int64(explained)).Div(decimal.NewFromInt(int64(c.TotalEvents)))
}

// Confidence blends coverage with the share of inventory the engine had to
// infer: coverage × (1 − phantomNotional/grossNotional), clamped to [0, 1].
func (c CoverageDetail) Confidence() decimal.Decimal {
	confidence := c.Coverage()
	if c.GrossNotional.IsPositive() {
		phantomShare := c.PhantomNotional.Div(c.GrossNotional)
		if phantomShare.GreaterThan(decimal.NewFromInt(1)) {
			phantomShare = decimal.NewFromInt(1)
		}
		confidence = confidence.Mul(decimal.NewFromInt(1).Sub(phantomShare))
	}
	if confidence.IsNegative() {
		return decimal.Zero
	}
	return confidence
}

// ActivityStats carries derived wallet statistics. Ratio fields are nil when
// undefined (no losing days, fewer than two data points, zero variance); a
// sentinel number is never substituted.
type ActivityStats struct {
	PositionsResolved int      `json:"positions_resolved"`
	PositionsWon      int      `json:"positions_won"`
	WinRate           *float64 `json:"win_rate,omitempty"`
	Omega             *float64 `json:"omega,omitempty"`
	Sharpe            *float64 `json:"sharpe,omitempty"`
	Sortino           *float64 `json:"sortino,omitempty"`
}

// WalletResult is the engine's output for one wallet.
type WalletResult struct {
	Wallet      string           `json:"wallet"`
	Realized    decimal.Decimal  `json:"realized_pnl"`
	Unrealized  decimal.Decimal  `json:"unrealized_pnl"`
	Total       decimal.Decimal  `json:"total_pnl"`
	Positions   []PositionResult `json:"per_position"`
	CoveragePct decimal.Decimal  `json:"coverage_pct"`
	Confidence  decimal.Decimal  `json:"confidence"`
	Detail      CoverageDetail   `json:"coverage_detail"`
	Stats       ActivityStats    `json:"stats"`
	ComputedAt  time.Time        `json:"computed_at"`
}
