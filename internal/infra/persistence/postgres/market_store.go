package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgerlens/internal/schema"
)

// MarketStore reads market reference data: token mappings, resolution payout
// vectors and last trade prices.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore constructs a MarketStore backed by the provided pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const (
	tokenMappingSelectSQL = `
SELECT
    m.token_id,
    m.condition_id,
    m.outcome_index
FROM token_mappings m
WHERE m.token_id = ANY(@token_ids);
`

	resolutionSelectSQL = `
SELECT
    r.condition_id,
    ARRAY(SELECT unnest(r.payouts)::text)
FROM resolutions r
WHERE r.condition_id = ANY(@condition_ids);
`

	markPriceSelectSQL = `
SELECT
    p.condition_id,
    p.outcome_index,
    p.last_price::text
FROM mark_prices p
WHERE p.condition_id = ANY(@condition_ids);
`
)

func (s *MarketStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("market store: nil pool")
	}
	return s.pool, nil
}

// ResolveTokens returns the (condition, outcome) key for each known token id.
// Unknown ids are absent from the result.
func (s *MarketStore) ResolveTokens(ctx context.Context, tokenIDs []string) (map[string]schema.TokenKey, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	out := make(map[string]schema.TokenKey, len(tokenIDs))
	if len(tokenIDs) == 0 {
		return out, nil
	}

	rows, err := pool.Query(ctx, tokenMappingSelectSQL, pgx.NamedArgs{"token_ids": tokenIDs})
	if err != nil {
		return nil, fmt.Errorf("market store: list token mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tokenID string
			key     schema.TokenKey
		)
		if err := rows.Scan(&tokenID, &key.ConditionID, &key.OutcomeIndex); err != nil {
			return nil, fmt.Errorf("market store: scan token mapping: %w", err)
		}
		out[tokenID] = key
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("market store: iterate token mappings: %w", err)
	}
	return out, nil
}

// Resolutions returns the payout vector for each resolved condition.
// Unresolved conditions are absent from the result.
func (s *MarketStore) Resolutions(ctx context.Context, conditionIDs []string) (map[string]schema.Resolution, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	out := make(map[string]schema.Resolution, len(conditionIDs))
	if len(conditionIDs) == 0 {
		return out, nil
	}

	rows, err := pool.Query(ctx, resolutionSelectSQL, pgx.NamedArgs{"condition_ids": conditionIDs})
	if err != nil {
		return nil, fmt.Errorf("market store: list resolutions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			conditionID string
			payoutTexts []string
		)
		if err := rows.Scan(&conditionID, &payoutTexts); err != nil {
			return nil, fmt.Errorf("market store: scan resolution: %w", err)
		}
		payouts, err := decimalsFromTexts(payoutTexts)
		if err != nil {
			return nil, fmt.Errorf("market store: resolution payouts for %s: %w", conditionID, err)
		}
		out[conditionID] = schema.Resolution{ConditionID: conditionID, Payouts: payouts}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("market store: iterate resolutions: %w", err)
	}
	return out, nil
}

// MarkPrices returns the last trade price for each requested (condition,
// outcome) key. Keys with no recorded trade are absent from the result.
func (s *MarketStore) MarkPrices(ctx context.Context, keys []schema.PositionKey) (map[schema.PositionKey]decimal.Decimal, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	out := make(map[schema.PositionKey]decimal.Decimal, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	wanted := make(map[schema.PositionKey]struct{}, len(keys))
	conditionIDs := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
		if _, ok := seen[key.ConditionID]; ok {
			continue
		}
		seen[key.ConditionID] = struct{}{}
		conditionIDs = append(conditionIDs, key.ConditionID)
	}

	rows, err := pool.Query(ctx, markPriceSelectSQL, pgx.NamedArgs{"condition_ids": conditionIDs})
	if err != nil {
		return nil, fmt.Errorf("market store: list mark prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key       schema.PositionKey
			priceText string
		)
		if err := rows.Scan(&key.ConditionID, &key.OutcomeIndex, &priceText); err != nil {
			return nil, fmt.Errorf("market store: scan mark price: %w", err)
		}
		if _, ok := wanted[key]; !ok {
			continue
		}
		price, err := decimalFromText(priceText)
		if err != nil {
			return nil, fmt.Errorf("market store: mark price for %s/%d: %w", key.ConditionID, key.OutcomeIndex, err)
		}
		out[key] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("market store: iterate mark prices: %w", err)
	}
	return out, nil
}
