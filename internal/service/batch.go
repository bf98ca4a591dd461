package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/ledgerlens/internal/schema"
)

// BatchItem is the outcome of one wallet in a batch run. Exactly one of
// Result and Err is set.
type BatchItem struct {
	Wallet string
	Result *schema.WalletResult
	Err    error
}

// ComputeBatch computes results for many wallets over a bounded worker pool.
// Per-wallet failures are recorded on the corresponding item and never abort
// the rest of the batch. Items are returned in input order.
func (s *Service) ComputeBatch(ctx context.Context, wallets []string) []BatchItem {
	runID := uuid.NewString()
	logger := s.logger.With().Str("batch_run", runID).Logger()
	logger.Info().Int("wallets", len(wallets)).Int("workers", s.cfg.Workers).Msg("batch run started")

	items := make([]BatchItem, len(wallets))
	workers := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for i, wallet := range wallets {
		i, wallet := i, wallet
		workers.Go(func() {
			result, err := s.ComputeWallet(ctx, wallet)
			items[i] = BatchItem{Wallet: wallet, Result: result, Err: err}
			if err != nil {
				logger.Error().Str("wallet", wallet).Err(err).Msg("wallet computation failed")
			}
		})
	}
	workers.Wait()

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	logger.Info().Int("wallets", len(wallets)).Int("failed", failed).Msg("batch run finished")
	return items
}
