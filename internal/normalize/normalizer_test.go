package normalize

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/ledgerlens/internal/schema"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// scaled returns a human amount in 1e6 scaled-integer units.
func scaled(s string) decimal.Decimal {
	return dec(s).Shift(6)
}

func testNormalizer() *Normalizer {
	return New(zerolog.Nop())
}

func TestNormalizeFillConvertsScaleAndPrice(t *testing.T) {
	tokens := map[string]schema.TokenKey{
		"tok-a": {ConditionID: "c1", OutcomeIndex: 0},
	}
	fills := []schema.RawTradeFill{{
		EventID:          "f1",
		Wallet:           "w1",
		TokenID:          "tok-a",
		Side:             schema.TradeSideBuy,
		TokenAmount:      scaled("100"),
		CollateralAmount: scaled("40"),
		BlockHeight:      10,
		TxID:             "tx1",
	}}

	out := testNormalizer().Normalize("w1", fills, nil, tokens)

	require.Len(t, out.Events, 1)
	ev := out.Events[0]
	assert.Equal(t, schema.ActionBuy, ev.Action)
	assert.True(t, ev.Quantity.Equal(dec("100")), "quantity %s", ev.Quantity)
	assert.True(t, ev.Price.Equal(dec("0.4")), "price %s", ev.Price)
	assert.True(t, ev.CashDelta.Equal(dec("-40")), "cash %s", ev.CashDelta)
	assert.Equal(t, 1, out.TotalEvents)
	assert.True(t, out.GrossNotional.Equal(dec("40")))
}

func TestNormalizeDedupsRedeliveredFills(t *testing.T) {
	tokens := map[string]schema.TokenKey{"tok-a": {ConditionID: "c1", OutcomeIndex: 0}}
	fill := schema.RawTradeFill{
		EventID: "f1", Wallet: "w1", TokenID: "tok-a", Side: schema.TradeSideSell,
		TokenAmount: scaled("50"), CollateralAmount: scaled("30"), BlockHeight: 11, TxID: "tx2",
	}

	out := testNormalizer().Normalize("w1", []schema.RawTradeFill{fill, fill, fill}, nil, tokens)

	assert.Len(t, out.Events, 1)
	assert.Equal(t, 1, out.TotalEvents)
	assert.True(t, out.Events[0].CashDelta.Equal(dec("30")), "sell cash flows in")
}

func TestNormalizeDropsUnmappedTokens(t *testing.T) {
	fills := []schema.RawTradeFill{{
		EventID: "f1", Wallet: "w1", TokenID: "unknown", Side: schema.TradeSideBuy,
		TokenAmount: scaled("10"), CollateralAmount: scaled("5"), BlockHeight: 1, TxID: "tx1",
	}}

	out := testNormalizer().Normalize("w1", fills, nil, map[string]schema.TokenKey{})

	assert.Empty(t, out.Events)
	assert.Equal(t, 1, out.TotalEvents)
	assert.Equal(t, 1, out.DroppedEvents)
}

func TestNormalizeBinarySplitExpansion(t *testing.T) {
	lifecycle := []schema.RawLifecycleEvent{{
		TxID: "tx9", Wallet: "w1", ConditionID: "c1", Kind: schema.LifecycleSplit,
		OutcomeIndexSet: []int{0, 1}, Amount: scaled("100"), BlockHeight: 5,
	}}

	out := testNormalizer().Normalize("w1", nil, lifecycle, nil)

	require.Len(t, out.Events, 2)
	totalCash := decimal.Zero
	for _, ev := range out.Events {
		assert.Equal(t, schema.ActionSplitCredit, ev.Action)
		assert.True(t, ev.Quantity.Equal(dec("100")))
		assert.True(t, ev.Price.Equal(dec("0.5")))
		totalCash = totalCash.Add(ev.CashDelta)
	}
	assert.True(t, totalCash.Equal(dec("-100")), "full collateral flows out, got %s", totalCash)
}

func TestNormalizeMalformedIndexSetDefaultsToBinary(t *testing.T) {
	lifecycle := []schema.RawLifecycleEvent{{
		TxID: "tx9", Wallet: "w1", ConditionID: "c1", Kind: schema.LifecycleMerge,
		OutcomeIndexSet: nil, Amount: scaled("10"), BlockHeight: 5,
	}}

	out := testNormalizer().Normalize("w1", nil, lifecycle, nil)

	assert.Len(t, out.Events, 2)
	assert.Equal(t, 1, out.DefaultedIndexSets)
}

func TestNormalizeRedemptionKeepsRecordedIndex(t *testing.T) {
	lifecycle := []schema.RawLifecycleEvent{{
		TxID: "tx3", Wallet: "w1", ConditionID: "c1", Kind: schema.LifecycleRedemption,
		OutcomeIndexSet: []int{0, 1}, Amount: scaled("25"), BlockHeight: 99,
	}}

	out := testNormalizer().Normalize("w1", nil, lifecycle, nil)

	require.Len(t, out.Events, 1)
	ev := out.Events[0]
	assert.Equal(t, schema.ActionRedeem, ev.Action)
	assert.Equal(t, 0, ev.OutcomeIndex, "recorded index carried as-is; engine re-attributes")
	assert.True(t, ev.CashDelta.Equal(dec("25")))
}

func TestSanitizeIndexSet(t *testing.T) {
	cases := []struct {
		name      string
		in        []int
		want      []int
		defaulted bool
	}{
		{"sorted kept", []int{1, 0}, []int{0, 1}, false},
		{"empty defaulted", nil, []int{0, 1}, true},
		{"negative defaulted", []int{-1, 2}, []int{0, 1}, true},
		{"duplicate defaulted", []int{1, 1}, []int{0, 1}, true},
		{"multi outcome kept", []int{2, 0, 3}, []int{0, 2, 3}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, defaulted := sanitizeIndexSet(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.defaulted, defaulted)
		})
	}
}
