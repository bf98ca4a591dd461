// Package ledger builds the strictly ordered replay sequence for one wallet.
package ledger

import (
	"sort"
	"strings"

	"github.com/coachpo/ledgerlens/internal/schema"
)

// Category ranks applied within a block: funding operations (buys, split
// credits) are applied before consuming operations (sells, merge debits,
// redemptions) so that a same-block buy can back a same-block sell. This
// ordering is the load-bearing correctness property of the whole engine.
const (
	rankFunding   = 0
	rankConsuming = 1
)

func categoryRank(action schema.Action) int {
	if action.Funding() {
		return rankFunding
	}
	return rankConsuming
}

// Build returns the canonical total order over the wallet's event set:
// block height ascending, then category rank, then transaction id, then the
// source id as a final stable tie-break. The input slice is not mutated, and
// the output is invariant under any permutation of the input.
func Build(events []schema.LedgerEvent) []schema.LedgerEvent {
	ordered := make([]schema.LedgerEvent, len(events))
	copy(ordered, events)

	sort.SliceStable(ordered, func(i, j int) bool {
		return Less(ordered[i], ordered[j])
	})
	return ordered
}

// Less reports whether event a precedes event b in the canonical order.
func Less(a, b schema.LedgerEvent) bool {
	if a.BlockHeight != b.BlockHeight {
		return a.BlockHeight < b.BlockHeight
	}
	ra, rb := categoryRank(a.Action), categoryRank(b.Action)
	if ra != rb {
		return ra < rb
	}
	if cmp := strings.Compare(a.TxID, b.TxID); cmp != 0 {
		return cmp < 0
	}
	if cmp := strings.Compare(a.SourceID, b.SourceID); cmp != 0 {
		return cmp < 0
	}
	// Split/merge expansions share a source id; order the legs by outcome.
	return a.OutcomeIndex < b.OutcomeIndex
}
