// Package service orchestrates wallet P&L computation: a blocking fetch stage
// followed by a pure in-memory replay.
package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/ledgerlens/errs"
	"github.com/coachpo/ledgerlens/internal/engine"
	"github.com/coachpo/ledgerlens/internal/ledger"
	"github.com/coachpo/ledgerlens/internal/normalize"
	"github.com/coachpo/ledgerlens/internal/schema"
	"github.com/coachpo/ledgerlens/internal/settle"
	"github.com/coachpo/ledgerlens/internal/stats"
	"github.com/coachpo/ledgerlens/internal/telemetry"
)

// EventSource supplies a wallet's raw event history.
type EventSource interface {
	TradeFills(ctx context.Context, wallet string) ([]schema.RawTradeFill, error)
	LifecycleEvents(ctx context.Context, wallet string) ([]schema.RawLifecycleEvent, error)
}

// TokenResolver maps outcome-token ids to (condition, outcome) keys. Tokens
// without a mapping are simply absent from the returned map.
type TokenResolver interface {
	ResolveTokens(ctx context.Context, tokenIDs []string) (map[string]schema.TokenKey, error)
}

// ResolutionSource supplies payout vectors for resolved conditions.
// Unresolved conditions are absent from the returned map.
type ResolutionSource interface {
	Resolutions(ctx context.Context, conditionIDs []string) (map[string]schema.Resolution, error)
}

// MarkPriceSource supplies last trade prices for unresolved outcomes.
// Unavailable prices are absent from the returned map.
type MarkPriceSource interface {
	MarkPrices(ctx context.Context, keys []schema.PositionKey) (map[schema.PositionKey]decimal.Decimal, error)
}

// ResultCache fronts the engine with a reproducible, TTL-bounded cache. Get
// returns (nil, nil) on miss. The cache is an optimization layer only: every
// cached value must be reproducible by a fresh recompute.
type ResultCache interface {
	Get(ctx context.Context, wallet string) (*schema.WalletResult, error)
	Set(ctx context.Context, result *schema.WalletResult) error
}

// Config sizes the fetch stage and the batch worker pool.
type Config struct {
	// Workers bounds concurrent wallet computations in a batch run.
	Workers int
	// AmountScale is the scaled-integer exponent of upstream amounts. Zero
	// keeps the normalizer default.
	AmountScale int32
	// FetchTimeout bounds the whole fetch stage for one wallet. The in-memory
	// replay has no timeout; it is expected to finish in well under a second.
	FetchTimeout time.Duration
	// FetchRate / FetchBurst throttle upstream reads to the data source's
	// rate limits.
	FetchRate  float64
	FetchBurst int
	// RetryMaxElapsed caps fetch retries on transient upstream failures.
	RetryMaxElapsed time.Duration
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.FetchRate <= 0 {
		c.FetchRate = 20
	}
	if c.FetchBurst <= 0 {
		c.FetchBurst = 5
	}
	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = 20 * time.Second
	}
	return c
}

// Sources bundles the read-only repositories consumed by the fetch stage.
type Sources struct {
	Events      EventSource
	Tokens      TokenResolver
	Resolutions ResolutionSource
	Marks       MarkPriceSource
}

// Service computes wallet P&L results. Per-wallet computation is strictly
// sequential; wallets are independent and parallelized by ComputeBatch.
type Service struct {
	sources    Sources
	cache      ResultCache
	cfg        Config
	limiter    *rate.Limiter
	normalizer *normalize.Normalizer
	engine     *engine.Engine
	settler    *settle.Calculator
	metrics    *telemetry.EngineMetrics
	logger     zerolog.Logger
	clock      func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithCache installs a result cache in front of the engine.
func WithCache(cache ResultCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithMetrics installs engine telemetry instruments.
func WithMetrics(metrics *telemetry.EngineMetrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides the service clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a wallet P&L service.
func New(sources Sources, cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	svc := &Service{
		sources:    sources,
		cache:      nil,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.FetchRate), cfg.FetchBurst),
		normalizer: normalize.New(logger),
		engine:     engine.New(logger),
		settler:    settle.New(),
		metrics:    nil,
		logger:     logger,
		clock:      time.Now,
	}
	if cfg.AmountScale > 0 {
		svc.normalizer.WithScale(cfg.AmountScale)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// ComputeWallet returns the wallet's P&L result, consulting the cache first.
// Fetch-stage failures are the only fatal errors and carry
// errs.CodeUpstreamUnavailable after retries are exhausted.
func (s *Service) ComputeWallet(ctx context.Context, wallet string) (*schema.WalletResult, error) {
	if wallet == "" {
		return nil, errs.New("service/compute", errs.CodeInvalid, errs.WithMessage("wallet required"))
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, wallet)
		if err != nil {
			s.logger.Warn().Str("wallet", wallet).Err(err).Msg("result cache read failed")
		} else if cached != nil {
			s.metrics.CacheHit(ctx)
			return cached, nil
		}
		s.metrics.CacheMiss(ctx)
	}

	inputs, err := s.fetch(ctx, wallet)
	if err != nil {
		return nil, err
	}

	start := s.clock()
	result := s.compute(wallet, inputs)
	s.metrics.WalletComputed(ctx, float64(s.clock().Sub(start).Microseconds())/1000.0)
	s.metrics.CoverageGaps(ctx, int64(result.Detail.DroppedEvents))
	s.metrics.PhantomInferences(ctx, int64(result.Detail.PhantomEvents))

	if s.cache != nil {
		if err := s.cache.Set(ctx, result); err != nil {
			s.logger.Warn().Str("wallet", wallet).Err(err).Msg("result cache write failed")
		}
	}
	return result, nil
}

// inputs is everything the pure pipeline needs, gathered before replay begins.
type inputs struct {
	fills       []schema.RawTradeFill
	lifecycle   []schema.RawLifecycleEvent
	tokens      map[string]schema.TokenKey
	resolutions map[string]schema.Resolution
	marks       map[schema.PositionKey]decimal.Decimal
}

// fetch runs the blocking I/O stage: events, token mappings, resolutions and
// mark prices, rate limited and retried with exponential backoff. Once it
// returns, the computation performs no further I/O.
func (s *Service) fetch(ctx context.Context, wallet string) (*inputs, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	in := &inputs{}

	fills, err := fetchWithRetry(ctx, s, "trade fills", func() ([]schema.RawTradeFill, error) {
		return s.sources.Events.TradeFills(ctx, wallet)
	})
	if err != nil {
		return nil, s.upstreamErr(wallet, "trade fills", err)
	}
	in.fills = fills

	lifecycle, err := fetchWithRetry(ctx, s, "lifecycle events", func() ([]schema.RawLifecycleEvent, error) {
		return s.sources.Events.LifecycleEvents(ctx, wallet)
	})
	if err != nil {
		return nil, s.upstreamErr(wallet, "lifecycle events", err)
	}
	in.lifecycle = lifecycle

	tokenIDs := distinctTokenIDs(fills)
	tokens, err := fetchWithRetry(ctx, s, "token mappings", func() (map[string]schema.TokenKey, error) {
		if len(tokenIDs) == 0 {
			return map[string]schema.TokenKey{}, nil
		}
		return s.sources.Tokens.ResolveTokens(ctx, tokenIDs)
	})
	if err != nil {
		return nil, s.upstreamErr(wallet, "token mappings", err)
	}
	in.tokens = tokens

	conditionIDs, keys := conditionUniverse(fills, lifecycle, tokens)

	resolutions, err := fetchWithRetry(ctx, s, "resolutions", func() (map[string]schema.Resolution, error) {
		if len(conditionIDs) == 0 {
			return map[string]schema.Resolution{}, nil
		}
		return s.sources.Resolutions.Resolutions(ctx, conditionIDs)
	})
	if err != nil {
		return nil, s.upstreamErr(wallet, "resolutions", err)
	}
	in.resolutions = resolutions

	openKeys := make([]schema.PositionKey, 0, len(keys))
	for _, key := range keys {
		if _, resolved := resolutions[key.ConditionID]; !resolved {
			openKeys = append(openKeys, key)
		}
	}
	marks, err := fetchWithRetry(ctx, s, "mark prices", func() (map[schema.PositionKey]decimal.Decimal, error) {
		if len(openKeys) == 0 {
			return map[schema.PositionKey]decimal.Decimal{}, nil
		}
		return s.sources.Marks.MarkPrices(ctx, openKeys)
	})
	if err != nil {
		return nil, s.upstreamErr(wallet, "mark prices", err)
	}
	in.marks = marks

	return in, nil
}

// compute is the pure pipeline: normalize, order, replay, settle, aggregate.
func (s *Service) compute(wallet string, in *inputs) *schema.WalletResult {
	normalized := s.normalizer.Normalize(wallet, in.fills, in.lifecycle, in.tokens)
	ordered := ledger.Build(normalized.Events)
	state := s.engine.Replay(wallet, ordered, in.resolutions)
	positions := s.settler.Settle(state, in.resolutions, in.marks)
	realized, unrealized := settle.Totals(positions)

	detail := schema.CoverageDetail{
		TotalEvents:         normalized.TotalEvents,
		DroppedEvents:       normalized.DroppedEvents,
		DefaultedIndexSets:  normalized.DefaultedIndexSets,
		PhantomEvents:       state.PhantomEvents,
		AmbiguousConditions: len(state.AmbiguousConditions),
		PhantomNotional:     state.PhantomNotional,
		GrossNotional:       normalized.GrossNotional,
	}

	return &schema.WalletResult{
		Wallet:      wallet,
		Realized:    realized,
		Unrealized:  unrealized,
		Total:       realized.Add(unrealized),
		Positions:   positions,
		CoveragePct: detail.Coverage(),
		Confidence:  detail.Confidence(),
		Detail:      detail,
		Stats:       stats.Compute(positions, state.RealizedSeries),
		ComputedAt:  s.clock().UTC(),
	}
}

func (s *Service) upstreamErr(wallet, stage string, err error) error {
	return errs.New("service/fetch", errs.CodeUpstreamUnavailable,
		errs.WithWallet(wallet),
		errs.WithMessage(stage+" unavailable"),
		errs.WithCause(err))
}

// fetchWithRetry rate-limits and retries one upstream read with exponential
// backoff. Context cancellation is permanent; everything else is retried
// until RetryMaxElapsed.
func fetchWithRetry[T any](ctx context.Context, s *Service, stage string, op func() (T, error)) (T, error) {
	var zero T
	if err := s.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	return backoff.Retry(ctx, func() (T, error) {
		out, err := op()
		if err != nil {
			if ctx.Err() != nil {
				return zero, backoff.Permanent(err)
			}
			s.logger.Debug().Str("stage", stage).Err(err).Msg("upstream read failed; retrying")
		}
		return out, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(s.cfg.RetryMaxElapsed))
}

func distinctTokenIDs(fills []schema.RawTradeFill) []string {
	seen := make(map[string]struct{}, len(fills))
	ids := make([]string, 0, len(fills))
	for _, f := range fills {
		if _, ok := seen[f.TokenID]; ok {
			continue
		}
		seen[f.TokenID] = struct{}{}
		ids = append(ids, f.TokenID)
	}
	return ids
}

// conditionUniverse returns every condition id and (condition, outcome) key
// the wallet's history can touch, for resolution and mark-price prefetching.
func conditionUniverse(fills []schema.RawTradeFill, lifecycle []schema.RawLifecycleEvent, tokens map[string]schema.TokenKey) ([]string, []schema.PositionKey) {
	conditions := make(map[string]struct{})
	keySet := make(map[schema.PositionKey]struct{})

	for _, f := range fills {
		key, ok := tokens[f.TokenID]
		if !ok {
			continue
		}
		conditions[key.ConditionID] = struct{}{}
		keySet[schema.PositionKey{ConditionID: key.ConditionID, OutcomeIndex: key.OutcomeIndex}] = struct{}{}
	}
	for _, ev := range lifecycle {
		conditions[ev.ConditionID] = struct{}{}
		indexes := ev.OutcomeIndexSet
		if len(indexes) == 0 {
			indexes = []int{0, 1}
		}
		for _, outcome := range indexes {
			if outcome < 0 {
				continue
			}
			keySet[schema.PositionKey{ConditionID: ev.ConditionID, OutcomeIndex: outcome}] = struct{}{}
		}
	}

	conditionIDs := make([]string, 0, len(conditions))
	for id := range conditions {
		conditionIDs = append(conditionIDs, id)
	}
	keys := make([]schema.PositionKey, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	return conditionIDs, keys
}
