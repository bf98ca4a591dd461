// Package normalize converts raw indexer records into canonical ledger events.
package normalize

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgerlens/internal/schema"
)

// DefaultAmountScale is the scaled-integer exponent used by the upstream
// indexer for both token and collateral amounts (USDC and CTF six decimals).
const DefaultAmountScale = 6

// Result carries the canonical events for one wallet together with the
// coverage bookkeeping accumulated while normalizing.
type Result struct {
	// Events is the canonical event set, unordered. The ledger builder owns
	// ordering.
	Events []schema.LedgerEvent
	// TotalEvents counts distinct raw records after dedup.
	TotalEvents int
	// DroppedEvents counts fills skipped for missing token mappings.
	DroppedEvents int
	// DefaultedIndexSets counts lifecycle events whose malformed index set was
	// defaulted to a binary {0, 1} set.
	DefaultedIndexSets int
	// GrossNotional sums the absolute collateral moved by every kept event.
	GrossNotional decimal.Decimal
}

// Normalizer dedupes raw records, converts scaled integers to decimal units,
// and expands lifecycle events into per-outcome ledger events. It is a pure
// transform: anomalies are counted, never fatal.
type Normalizer struct {
	scale  int32
	logger zerolog.Logger
}

// New constructs a normalizer using the default amount scale.
func New(logger zerolog.Logger) *Normalizer {
	return &Normalizer{scale: DefaultAmountScale, logger: logger}
}

// WithScale overrides the scaled-integer exponent.
func (n *Normalizer) WithScale(scale int32) *Normalizer {
	n.scale = scale
	return n
}

// Normalize produces the canonical event set for one wallet. tokens maps
// outcome-token ids to their resolved (condition, outcome) keys; fills whose
// token is absent are dropped and counted as a coverage gap.
func (n *Normalizer) Normalize(wallet string, fills []schema.RawTradeFill, lifecycle []schema.RawLifecycleEvent, tokens map[string]schema.TokenKey) Result {
	out := Result{
		Events:        make([]schema.LedgerEvent, 0, len(fills)+len(lifecycle)*2),
		GrossNotional: decimal.Zero,
	}

	seenFills := make(map[string]struct{}, len(fills))
	for _, fill := range fills {
		if _, dup := seenFills[fill.EventID]; dup {
			continue
		}
		seenFills[fill.EventID] = struct{}{}
		out.TotalEvents++

		if err := fill.Validate(); err != nil {
			n.logger.Debug().Str("wallet", wallet).Str("event_id", fill.EventID).
				Err(err).Msg("dropping malformed fill")
			out.DroppedEvents++
			continue
		}
		key, ok := tokens[fill.TokenID]
		if !ok {
			n.logger.Debug().Str("wallet", wallet).Str("token_id", fill.TokenID).
				Str("event_id", fill.EventID).Msg("dropping fill without token mapping")
			out.DroppedEvents++
			continue
		}
		event, ok := n.normalizeFill(fill, key)
		if !ok {
			out.DroppedEvents++
			continue
		}
		out.Events = append(out.Events, event)
		out.GrossNotional = out.GrossNotional.Add(event.CashDelta.Abs())
	}

	seenLifecycle := make(map[string]struct{}, len(lifecycle))
	for _, ev := range lifecycle {
		if _, dup := seenLifecycle[ev.IdentityKey()]; dup {
			continue
		}
		seenLifecycle[ev.IdentityKey()] = struct{}{}
		out.TotalEvents++

		indexSet, defaulted := sanitizeIndexSet(ev.OutcomeIndexSet)
		if defaulted {
			n.logger.Debug().Str("wallet", wallet).Str("tx_id", ev.TxID).
				Str("kind", string(ev.Kind)).Msg("defaulting malformed index set to binary")
			out.DefaultedIndexSets++
		}

		events := n.normalizeLifecycle(ev, indexSet)
		if len(events) == 0 {
			out.DroppedEvents++
			continue
		}
		for _, event := range events {
			out.Events = append(out.Events, event)
			out.GrossNotional = out.GrossNotional.Add(event.CashDelta.Abs())
		}
	}

	return out
}

func (n *Normalizer) normalizeFill(fill schema.RawTradeFill, key schema.TokenKey) (schema.LedgerEvent, bool) {
	quantity := fill.TokenAmount.Shift(-n.scale)
	collateral := fill.CollateralAmount.Shift(-n.scale)
	if !quantity.IsPositive() {
		return schema.LedgerEvent{}, false
	}

	action := schema.ActionBuy
	cash := collateral.Neg()
	if fill.Side == schema.TradeSideSell {
		action = schema.ActionSell
		cash = collateral
	}

	return schema.LedgerEvent{
		ConditionID:  key.ConditionID,
		OutcomeIndex: key.OutcomeIndex,
		Action:       action,
		Quantity:     quantity,
		Price:        collateral.Div(quantity),
		CashDelta:    cash,
		IndexSetSize: 0,
		BlockHeight:  fill.BlockHeight,
		Time:         fill.Timestamp,
		TxID:         fill.TxID,
		SourceID:     fill.EventID,
	}, true
}

func (n *Normalizer) normalizeLifecycle(ev schema.RawLifecycleEvent, indexSet []int) []schema.LedgerEvent {
	amount := ev.Amount.Shift(-n.scale)
	if !amount.IsPositive() {
		return nil
	}
	setSize := len(indexSet)
	notional := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(setSize)))
	cashSlice := amount.Mul(notional)

	switch ev.Kind {
	case schema.LifecycleSplit:
		events := make([]schema.LedgerEvent, 0, setSize)
		for _, outcome := range indexSet {
			events = append(events, schema.LedgerEvent{
				ConditionID:  ev.ConditionID,
				OutcomeIndex: outcome,
				Action:       schema.ActionSplitCredit,
				Quantity:     amount,
				Price:        notional,
				CashDelta:    cashSlice.Neg(),
				IndexSetSize: setSize,
				BlockHeight:  ev.BlockHeight,
				Time:         ev.Timestamp,
				TxID:         ev.TxID,
				SourceID:     ev.IdentityKey(),
			})
		}
		return events
	case schema.LifecycleMerge:
		events := make([]schema.LedgerEvent, 0, setSize)
		for _, outcome := range indexSet {
			events = append(events, schema.LedgerEvent{
				ConditionID:  ev.ConditionID,
				OutcomeIndex: outcome,
				Action:       schema.ActionMergeDebit,
				Quantity:     amount,
				Price:        notional,
				CashDelta:    cashSlice,
				IndexSetSize: setSize,
				BlockHeight:  ev.BlockHeight,
				Time:         ev.Timestamp,
				TxID:         ev.TxID,
				SourceID:     ev.IdentityKey(),
			})
		}
		return events
	case schema.LifecycleRedemption:
		// Redemptions are recorded against outcome index 0 upstream regardless
		// of the winning outcome. The engine re-attributes from the resolution
		// vector; the recorded index is carried as-is here.
		return []schema.LedgerEvent{{
			ConditionID:  ev.ConditionID,
			OutcomeIndex: 0,
			Action:       schema.ActionRedeem,
			Quantity:     amount,
			Price:        decimal.NewFromInt(1),
			CashDelta:    amount,
			IndexSetSize: setSize,
			BlockHeight:  ev.BlockHeight,
			Time:         ev.Timestamp,
			TxID:         ev.TxID,
			SourceID:     ev.IdentityKey(),
		}}
	default:
		n.logger.Debug().Str("tx_id", ev.TxID).Str("kind", string(ev.Kind)).
			Msg("dropping lifecycle event of unknown kind")
		return nil
	}
}

// sanitizeIndexSet validates and sorts an outcome index set, defaulting to the
// binary {0, 1} set when the recorded one is empty, negative, or duplicated.
func sanitizeIndexSet(set []int) ([]int, bool) {
	if len(set) == 0 {
		return []int{0, 1}, true
	}
	seen := make(map[int]struct{}, len(set))
	cleaned := make([]int, 0, len(set))
	for _, idx := range set {
		if idx < 0 {
			return []int{0, 1}, true
		}
		if _, dup := seen[idx]; dup {
			return []int{0, 1}, true
		}
		seen[idx] = struct{}{}
		cleaned = append(cleaned, idx)
	}
	sort.Ints(cleaned)
	return cleaned, false
}
