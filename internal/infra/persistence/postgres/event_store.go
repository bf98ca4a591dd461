// Package postgres provides read-only repositories over the indexer's
// PostgreSQL mirror.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/ledgerlens/internal/schema"
)

// EventStore reads a wallet's raw trade fills and lifecycle events. The
// indexer mirror is append-only; this store never writes.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore constructs an EventStore backed by the provided pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const (
	tradeFillSelectSQL = `
SELECT
    f.event_id,
    f.wallet,
    f.token_id,
    f.side,
    f.token_amount::text,
    f.collateral_amount::text,
    f.block_height,
    f.tx_id,
    f.block_time
FROM trade_fills f
WHERE f.wallet = @wallet
ORDER BY f.block_height ASC, f.event_id ASC;
`

	lifecycleSelectSQL = `
SELECT
    l.tx_id,
    l.wallet,
    l.condition_id,
    l.kind,
    l.outcome_index_set,
    l.amount::text,
    l.block_height,
    l.block_time
FROM lifecycle_events l
WHERE l.wallet = @wallet
ORDER BY l.block_height ASC, l.tx_id ASC;
`
)

func (s *EventStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("event store: nil pool")
	}
	return s.pool, nil
}

// TradeFills returns every order-book fill recorded for the wallet, in block
// order. Scaled integer amounts are preserved as delivered.
func (s *EventStore) TradeFills(ctx context.Context, wallet string) ([]schema.RawTradeFill, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(wallet) == "" {
		return nil, fmt.Errorf("event store: wallet required")
	}

	rows, err := pool.Query(ctx, tradeFillSelectSQL, pgx.NamedArgs{"wallet": wallet})
	if err != nil {
		return nil, fmt.Errorf("event store: list trade fills: %w", err)
	}
	defer rows.Close()

	var fills []schema.RawTradeFill
	for rows.Next() {
		var (
			fill             schema.RawTradeFill
			side             string
			tokenAmount      string
			collateralAmount string
		)
		if err := rows.Scan(
			&fill.EventID,
			&fill.Wallet,
			&fill.TokenID,
			&side,
			&tokenAmount,
			&collateralAmount,
			&fill.BlockHeight,
			&fill.TxID,
			&fill.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("event store: scan trade fill: %w", err)
		}
		fill.Side = schema.TradeSide(strings.ToLower(side))
		if fill.TokenAmount, err = decimalFromText(tokenAmount); err != nil {
			return nil, fmt.Errorf("event store: token amount: %w", err)
		}
		if fill.CollateralAmount, err = decimalFromText(collateralAmount); err != nil {
			return nil, fmt.Errorf("event store: collateral amount: %w", err)
		}
		fills = append(fills, fill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event store: iterate trade fills: %w", err)
	}
	return fills, nil
}

// LifecycleEvents returns every split, merge and redemption recorded for the
// wallet, in block order.
func (s *EventStore) LifecycleEvents(ctx context.Context, wallet string) ([]schema.RawLifecycleEvent, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(wallet) == "" {
		return nil, fmt.Errorf("event store: wallet required")
	}

	rows, err := pool.Query(ctx, lifecycleSelectSQL, pgx.NamedArgs{"wallet": wallet})
	if err != nil {
		return nil, fmt.Errorf("event store: list lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []schema.RawLifecycleEvent
	for rows.Next() {
		var (
			ev     schema.RawLifecycleEvent
			kind   string
			amount string
		)
		if err := rows.Scan(
			&ev.TxID,
			&ev.Wallet,
			&ev.ConditionID,
			&kind,
			&ev.OutcomeIndexSet,
			&amount,
			&ev.BlockHeight,
			&ev.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("event store: scan lifecycle event: %w", err)
		}
		ev.Kind = schema.LifecycleKind(strings.ToLower(kind))
		if ev.Amount, err = decimalFromText(amount); err != nil {
			return nil, fmt.Errorf("event store: lifecycle amount: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event store: iterate lifecycle events: %w", err)
	}
	return events, nil
}
