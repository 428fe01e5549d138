package invariants

import (
	"time"

	"github.com/klaytn-labs/otc-broker-engine/deal"
)

// EligibleDeposits retains deposits whose confirmation count meets
// minConfirms and whose block time (if known) is at or before
// expiresAt (§4.1). Deposits lacking a block time pass the time
// filter unconditionally — the adapter could not observe it, so the
// engine cannot penalize the deposit for it.
//
// A zero expiresAt (unset, e.g. SWAP stage) disables the time filter
// entirely: the deadline has already served its purpose and the spec
// mandates timeouts never fire past SWAP (§3 invariant 3).
func EligibleDeposits(deposits []deal.EscrowDeposit, minConfirms int, expiresAt time.Time) []deal.EscrowDeposit {
	out := make([]deal.EscrowDeposit, 0, len(deposits))
	for _, d := range deposits {
		if d.Confirms < minConfirms {
			continue
		}
		if !expiresAt.IsZero() && d.BlockTime != nil && d.BlockTime.After(expiresAt) {
			continue
		}
		out = append(out, d)
	}
	return out
}
