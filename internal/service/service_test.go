package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/ledgerlens/errs"
	"github.com/coachpo/ledgerlens/internal/schema"
)

type fakeSources struct {
	fills       []schema.RawTradeFill
	lifecycle   []schema.RawLifecycleEvent
	tokens      map[string]schema.TokenKey
	resolutions map[string]schema.Resolution
	marks       map[schema.PositionKey]decimal.Decimal

	fillCalls   atomic.Int64
	failFills   bool
	failureLeft atomic.Int64

	markKeys []schema.PositionKey
}

func (f *fakeSources) TradeFills(_ context.Context, _ string) ([]schema.RawTradeFill, error) {
	f.fillCalls.Add(1)
	if f.failFills {
		return nil, errors.New("indexer unavailable")
	}
	if f.failureLeft.Load() > 0 {
		f.failureLeft.Add(-1)
		return nil, errors.New("transient indexer error")
	}
	return f.fills, nil
}

func (f *fakeSources) LifecycleEvents(_ context.Context, _ string) ([]schema.RawLifecycleEvent, error) {
	return f.lifecycle, nil
}

func (f *fakeSources) ResolveTokens(_ context.Context, ids []string) (map[string]schema.TokenKey, error) {
	out := make(map[string]schema.TokenKey, len(ids))
	for _, id := range ids {
		if key, ok := f.tokens[id]; ok {
			out[id] = key
		}
	}
	return out, nil
}

func (f *fakeSources) Resolutions(_ context.Context, ids []string) (map[string]schema.Resolution, error) {
	out := make(map[string]schema.Resolution, len(ids))
	for _, id := range ids {
		if res, ok := f.resolutions[id]; ok {
			out[id] = res
		}
	}
	return out, nil
}

func (f *fakeSources) MarkPrices(_ context.Context, keys []schema.PositionKey) (map[schema.PositionKey]decimal.Decimal, error) {
	f.markKeys = append(f.markKeys[:0], keys...)
	out := make(map[schema.PositionKey]decimal.Decimal, len(keys))
	for _, key := range keys {
		if price, ok := f.marks[key]; ok {
			out[key] = price
		}
	}
	return out, nil
}

func (f *fakeSources) bundle() Sources {
	return Sources{Events: f, Tokens: f, Resolutions: f, Marks: f}
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*schema.WalletResult
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*schema.WalletResult)}
}

func (c *fakeCache) Get(_ context.Context, wallet string) (*schema.WalletResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[wallet], nil
}

func (c *fakeCache) Set(_ context.Context, result *schema.WalletResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[result.Wallet] = result
	c.sets++
	return nil
}

func testConfig() Config {
	return Config{
		Workers:         4,
		FetchTimeout:    2 * time.Second,
		FetchRate:       1000,
		FetchBurst:      100,
		RetryMaxElapsed: 500 * time.Millisecond,
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// winningBuy is a wallet that bought 100 YES at 0.40 and held through a YES
// resolution: realized P&L is 100·1 − 40 = 60.
func winningBuy() *fakeSources {
	return &fakeSources{
		fills: []schema.RawTradeFill{{
			EventID:          "fill-1",
			Wallet:           "0xabc",
			TokenID:          "tok-yes",
			Side:             schema.TradeSideBuy,
			TokenAmount:      dec("100000000"),
			CollateralAmount: dec("40000000"),
			BlockHeight:      100,
			TxID:             "0x01",
			Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}},
		tokens: map[string]schema.TokenKey{
			"tok-yes": {ConditionID: "cond-1", OutcomeIndex: 0},
		},
		resolutions: map[string]schema.Resolution{
			"cond-1": {ConditionID: "cond-1", Payouts: []decimal.Decimal{dec("1"), dec("0")}},
		},
		marks: map[schema.PositionKey]decimal.Decimal{},
	}
}

func TestComputeWalletResolvedWinner(t *testing.T) {
	src := winningBuy()
	svc := New(src.bundle(), testConfig(), zerolog.Nop())

	result, err := svc.ComputeWallet(context.Background(), "0xabc")
	require.NoError(t, err)

	assert.True(t, result.Realized.Equal(dec("60")), "realized = %s", result.Realized)
	assert.True(t, result.Unrealized.IsZero())
	assert.True(t, result.Total.Equal(dec("60")))
	require.Len(t, result.Positions, 1)
	assert.Equal(t, schema.PositionResolved, result.Positions[0].Status)
	assert.True(t, result.CoveragePct.Equal(dec("1")))
	assert.True(t, result.Confidence.Equal(dec("1")))
	assert.Equal(t, 1, result.Stats.PositionsResolved)
	assert.Equal(t, 1, result.Stats.PositionsWon)
	assert.False(t, result.ComputedAt.IsZero())
}

func TestComputeWalletMarksOnlyUnresolved(t *testing.T) {
	src := winningBuy()
	src.fills = append(src.fills, schema.RawTradeFill{
		EventID:          "fill-2",
		Wallet:           "0xabc",
		TokenID:          "tok-open",
		Side:             schema.TradeSideBuy,
		TokenAmount:      dec("10000000"),
		CollateralAmount: dec("5000000"),
		BlockHeight:      110,
		TxID:             "0x02",
		Timestamp:        time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	})
	src.tokens["tok-open"] = schema.TokenKey{ConditionID: "cond-open", OutcomeIndex: 1}
	src.marks[schema.PositionKey{ConditionID: "cond-open", OutcomeIndex: 1}] = dec("0.7")

	svc := New(src.bundle(), testConfig(), zerolog.Nop())
	result, err := svc.ComputeWallet(context.Background(), "0xabc")
	require.NoError(t, err)

	// Mark prices are requested only for keys on unresolved conditions.
	require.Len(t, src.markKeys, 1)
	assert.Equal(t, "cond-open", src.markKeys[0].ConditionID)

	// 10 tokens marked at 0.7 against avg cost 0.5.
	assert.True(t, result.Unrealized.Equal(dec("2")), "unrealized = %s", result.Unrealized)
}

func TestComputeWalletCacheHitSkipsFetch(t *testing.T) {
	src := winningBuy()
	cache := newFakeCache()
	cached := &schema.WalletResult{Wallet: "0xabc", Realized: dec("60")}
	cache.entries["0xabc"] = cached

	svc := New(src.bundle(), testConfig(), zerolog.Nop(), WithCache(cache))
	result, err := svc.ComputeWallet(context.Background(), "0xabc")
	require.NoError(t, err)

	assert.Same(t, cached, result)
	assert.Equal(t, int64(0), src.fillCalls.Load())
}

func TestComputeWalletCacheMissStoresResult(t *testing.T) {
	src := winningBuy()
	cache := newFakeCache()

	svc := New(src.bundle(), testConfig(), zerolog.Nop(), WithCache(cache))
	result, err := svc.ComputeWallet(context.Background(), "0xabc")
	require.NoError(t, err)

	assert.Equal(t, 1, cache.sets)
	assert.Same(t, cache.entries["0xabc"], result)
}

func TestComputeWalletRetriesTransientFailure(t *testing.T) {
	src := winningBuy()
	src.failureLeft.Store(2)

	svc := New(src.bundle(), testConfig(), zerolog.Nop())
	result, err := svc.ComputeWallet(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, result.Realized.Equal(dec("60")))
	assert.GreaterOrEqual(t, src.fillCalls.Load(), int64(3))
}

func TestComputeWalletUpstreamUnavailable(t *testing.T) {
	src := winningBuy()
	src.failFills = true

	svc := New(src.bundle(), testConfig(), zerolog.Nop())
	_, err := svc.ComputeWallet(context.Background(), "0xabc")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeUpstreamUnavailable))
}

func TestComputeWalletEmptyWallet(t *testing.T) {
	svc := New(winningBuy().bundle(), testConfig(), zerolog.Nop())
	_, err := svc.ComputeWallet(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestComputeWalletCoverageGap(t *testing.T) {
	src := winningBuy()
	src.fills = append(src.fills, schema.RawTradeFill{
		EventID:          "fill-unmapped",
		Wallet:           "0xabc",
		TokenID:          "tok-unknown",
		Side:             schema.TradeSideBuy,
		TokenAmount:      dec("1000000"),
		CollateralAmount: dec("500000"),
		BlockHeight:      120,
		TxID:             "0x03",
		Timestamp:        time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
	})

	svc := New(src.bundle(), testConfig(), zerolog.Nop())
	result, err := svc.ComputeWallet(context.Background(), "0xabc")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Detail.TotalEvents)
	assert.Equal(t, 1, result.Detail.DroppedEvents)
	assert.True(t, result.CoveragePct.Equal(dec("0.5")), "coverage = %s", result.CoveragePct)
}

func TestComputeBatchPreservesOrderAndIsolatesFailures(t *testing.T) {
	good := winningBuy()
	svc := New(good.bundle(), testConfig(), zerolog.Nop())

	items := svc.ComputeBatch(context.Background(), []string{"0xabc", "", "0xdef"})
	require.Len(t, items, 3)

	assert.Equal(t, "0xabc", items[0].Wallet)
	require.NoError(t, items[0].Err)
	assert.True(t, items[0].Result.Realized.Equal(dec("60")))

	assert.Equal(t, "", items[1].Wallet)
	require.Error(t, items[1].Err)
	assert.Nil(t, items[1].Result)

	assert.Equal(t, "0xdef", items[2].Wallet)
	require.NoError(t, items[2].Err)
	assert.True(t, items[2].Result.Realized.Equal(dec("60")))
}
