// Package schema defines the canonical event and position types replayed by the
// reconciliation engine.
package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgerlens/errs"
)

// TradeSide identifies the direction of an order-book fill.
type TradeSide string

const (
	// TradeSideBuy marks a fill that acquired outcome tokens for collateral.
	TradeSideBuy TradeSide = "buy"
	// TradeSideSell marks a fill that disposed of outcome tokens for collateral.
	TradeSideSell TradeSide = "sell"
)

// LifecycleKind identifies a conditional-token framework operation.
type LifecycleKind string

const (
	// LifecycleSplit locks collateral and mints one token per outcome.
	LifecycleSplit LifecycleKind = "split"
	// LifecycleMerge burns one token per outcome and unlocks collateral.
	LifecycleMerge LifecycleKind = "merge"
	// LifecycleRedemption burns winning tokens after resolution for payout.
	LifecycleRedemption LifecycleKind = "redemption"
)

// RawTradeFill is an order-matched fill as delivered by the upstream indexer.
// Amounts are scaled integers (1e6 units); duplicates with identical EventID
// may appear due to re-delivery and must be discarded by the normalizer.
type RawTradeFill struct {
	EventID          string          `json:"event_id"`
	Wallet           string          `json:"wallet"`
	TokenID          string          `json:"token_id"`
	Side             TradeSide       `json:"side"`
	TokenAmount      decimal.Decimal `json:"token_amount"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	BlockHeight      uint64          `json:"block_height"`
	TxID             string          `json:"tx_id"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Validate checks the structural fields of a raw fill.
func (f RawTradeFill) Validate() error {
	if strings.TrimSpace(f.EventID) == "" {
		return errs.New("schema/trade-fill", errs.CodeInvalid, errs.WithMessage("event id required"))
	}
	if f.Side != TradeSideBuy && f.Side != TradeSideSell {
		return errs.New("schema/trade-fill", errs.CodeInvalid,
			errs.WithMessage("unknown trade side"), errs.WithField("side", string(f.Side)))
	}
	return nil
}

// RawLifecycleEvent is a conditional-token operation as delivered by the
// upstream indexer. Redemption events arrive recorded against outcome index 0
// regardless of the winning outcome; the engine re-attributes them from the
// resolution vector.
type RawLifecycleEvent struct {
	TxID            string          `json:"tx_id"`
	Wallet          string          `json:"wallet"`
	ConditionID     string          `json:"condition_id"`
	Kind            LifecycleKind   `json:"kind"`
	OutcomeIndexSet []int           `json:"outcome_index_set"`
	Amount          decimal.Decimal `json:"amount"`
	BlockHeight     uint64          `json:"block_height"`
	Timestamp       time.Time       `json:"timestamp"`
}

// IdentityKey returns the stable dedup identity of the lifecycle event.
func (e RawLifecycleEvent) IdentityKey() string {
	return e.TxID + ":" + string(e.Kind) + ":" + e.ConditionID
}

// TokenKey is the resolved (condition, outcome) identity of an outcome token.
type TokenKey struct {
	ConditionID  string
	OutcomeIndex int
}

// Action identifies how a ledger event moves inventory.
type Action string

const (
	// ActionBuy credits inventory from an order-book fill.
	ActionBuy Action = "buy"
	// ActionSell debits inventory from an order-book fill.
	ActionSell Action = "sell"
	// ActionSplitCredit credits inventory minted by a collateral split.
	ActionSplitCredit Action = "split_credit"
	// ActionMergeDebit debits inventory burned by a merge.
	ActionMergeDebit Action = "merge_debit"
	// ActionRedeem debits inventory burned by a post-resolution redemption.
	ActionRedeem Action = "redeem"
)

// Funding reports whether the action supplies inventory. Funding actions sort
// ahead of consuming actions within the same block so that a same-block buy can
// back a same-block sell.
func (a Action) Funding() bool {
	return a == ActionBuy || a == ActionSplitCredit
}

// LedgerEvent is the canonical replay unit: one inventory movement on one
// (condition, outcome) position, in decimal units.
type LedgerEvent struct {
	ConditionID  string
	OutcomeIndex int
	Action       Action
	// Quantity is the token quantity moved, always positive.
	Quantity decimal.Decimal
	// Price is the per-token price implied by the source event.
	Price decimal.Decimal
	// CashDelta is the signed collateral movement for the wallet: negative for
	// outflows (buys, splits), positive for inflows (sells, merges, redemptions).
	CashDelta decimal.Decimal
	// IndexSetSize carries the cardinality of the source index set for
	// lifecycle events; zero for trade fills.
	IndexSetSize int
	BlockHeight  uint64
	// Time is the block timestamp, used only for daily P&L bucketing in the
	// aggregator; replay ordering relies on block height alone.
	Time time.Time
	TxID string
	// SourceID traces back to the originating raw record.
	SourceID string
}

// RealizedPoint records the realized P&L contribution of one consuming event,
// timestamped for daily aggregation.
type RealizedPoint struct {
	Time   time.Time
	Amount decimal.Decimal
}

// Key returns the position key the event applies to.
func (e LedgerEvent) Key() PositionKey {
	return PositionKey{ConditionID: e.ConditionID, OutcomeIndex: e.OutcomeIndex}
}
