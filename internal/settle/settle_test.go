package settle

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/ledgerlens/internal/engine"
	"github.com/coachpo/ledgerlens/internal/ledger"
	"github.com/coachpo/ledgerlens/internal/schema"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func replay(t *testing.T, events []schema.LedgerEvent, resolutions map[string]schema.Resolution) engine.ReplayResult {
	t.Helper()
	return engine.New(zerolog.Nop()).Replay("w1", ledger.Build(events), resolutions)
}

func buyEvent(cond string, outcome int, qty, price string) schema.LedgerEvent {
	q, p := dec(qty), dec(price)
	return schema.LedgerEvent{
		ConditionID: cond, OutcomeIndex: outcome, Action: schema.ActionBuy,
		Quantity: q, Price: p, CashDelta: q.Mul(p).Neg(),
		BlockHeight: 10, TxID: "tx1", SourceID: "s1",
	}
}

func sellEvent(cond string, outcome int, qty, price string) schema.LedgerEvent {
	q, p := dec(qty), dec(price)
	return schema.LedgerEvent{
		ConditionID: cond, OutcomeIndex: outcome, Action: schema.ActionSell,
		Quantity: q, Price: p, CashDelta: q.Mul(p),
		BlockHeight: 20, TxID: "tx2", SourceID: "s2",
	}
}

func TestResolvedWinnerSettlesAtPayout(t *testing.T) {
	// Buy 100 @ 0.40, condition resolves [1, 0]: realized = 100·1 − 40 = 60.
	resolutions := map[string]schema.Resolution{
		"c1": {ConditionID: "c1", Payouts: []decimal.Decimal{dec("1"), dec("0")}},
	}
	state := replay(t, []schema.LedgerEvent{buyEvent("c1", 0, "100", "0.40")}, resolutions)

	results := New().Settle(state, resolutions, nil)

	require.Len(t, results, 1)
	assert.Equal(t, schema.PositionResolved, results[0].Status)
	assert.True(t, results[0].Realized.Equal(dec("60")), "realized %s", results[0].Realized)
	assert.True(t, results[0].Unrealized.IsZero())
}

func TestResolvedLoserSettlesToCashNet(t *testing.T) {
	resolutions := map[string]schema.Resolution{
		"c1": {ConditionID: "c1", Payouts: []decimal.Decimal{dec("0"), dec("1")}},
	}
	state := replay(t, []schema.LedgerEvent{buyEvent("c1", 0, "100", "0.40")}, resolutions)

	results := New().Settle(state, resolutions, nil)

	require.Len(t, results, 1)
	assert.True(t, results[0].Realized.Equal(dec("-40")), "full loss, got %s", results[0].Realized)
}

func TestUnresolvedOpenPositionMarksToMarket(t *testing.T) {
	state := replay(t, []schema.LedgerEvent{
		buyEvent("c1", 0, "100", "0.40"),
		sellEvent("c1", 0, "50", "0.60"),
	}, nil)
	marks := map[schema.PositionKey]decimal.Decimal{
		{ConditionID: "c1", OutcomeIndex: 0}: dec("0.70"),
	}

	results := New().Settle(state, nil, marks)

	require.Len(t, results, 1)
	assert.True(t, results[0].Realized.Equal(dec("10")))
	// 50 · (0.70 − 0.40)
	assert.True(t, results[0].Unrealized.Equal(dec("15")), "unrealized %s", results[0].Unrealized)
	assert.Equal(t, schema.PositionOpen, results[0].Status)
}

func TestUnresolvedWithoutMarkDefaultsToHalf(t *testing.T) {
	state := replay(t, []schema.LedgerEvent{buyEvent("c1", 0, "100", "0.40")}, nil)

	results := New().Settle(state, nil, nil)

	require.Len(t, results, 1)
	// 100 · (0.50 − 0.40)
	assert.True(t, results[0].Unrealized.Equal(dec("10")), "unrealized %s", results[0].Unrealized)
}

func TestMarkPriceClampedBeforeValuation(t *testing.T) {
	state := replay(t, []schema.LedgerEvent{buyEvent("c1", 0, "100", "0.40")}, nil)
	marks := map[schema.PositionKey]decimal.Decimal{
		{ConditionID: "c1", OutcomeIndex: 0}: dec("0.999"),
	}

	results := New().Settle(state, nil, marks)

	// clamped to 0.99: 100 · (0.99 − 0.40)
	assert.True(t, results[0].Unrealized.Equal(dec("59")), "unrealized %s", results[0].Unrealized)
}

func TestAmbiguousResolutionSurfacedNotValued(t *testing.T) {
	resolutions := map[string]schema.Resolution{
		"c1": {ConditionID: "c1", Payouts: []decimal.Decimal{dec("0.5"), dec("0.5")}},
	}
	state := replay(t, []schema.LedgerEvent{buyEvent("c1", 0, "100", "0.40")}, resolutions)

	results := New().Settle(state, resolutions, nil)

	require.Len(t, results, 1)
	assert.Equal(t, schema.PositionAmbiguous, results[0].Status)
	assert.True(t, results[0].Realized.IsZero(), "nothing guessed")
	assert.True(t, results[0].Unrealized.IsZero())
}

func TestTotalsSumAcrossPositions(t *testing.T) {
	results := []schema.PositionResult{
		{Realized: dec("10"), Unrealized: dec("5")},
		{Realized: dec("-4"), Unrealized: dec("2")},
	}
	realized, unrealized := Totals(results)
	assert.True(t, realized.Equal(dec("6")))
	assert.True(t, unrealized.Equal(dec("7")))
}

func TestSettleOutputSorted(t *testing.T) {
	state := replay(t, []schema.LedgerEvent{
		buyEvent("c2", 1, "10", "0.50"),
		buyEvent("c2", 0, "10", "0.50"),
		buyEvent("c1", 0, "10", "0.50"),
	}, nil)

	results := New().Settle(state, nil, nil)

	require.Len(t, results, 3)
	assert.Equal(t, "c1", results[0].ConditionID)
	assert.Equal(t, "c2", results[1].ConditionID)
	assert.Equal(t, 0, results[1].OutcomeIndex)
	assert.Equal(t, 1, results[2].OutcomeIndex)
}
