package invariants

import (
	"fmt"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// ValidateDealStructure checks the handful of structural facts that
// must hold for any persisted Deal regardless of stage, matching the
// "Structural deal corruption" failure kind of §7. It deliberately
// does not touch chain/adapter state — this is the stateless half of
// "validate_deal_invariants"; the stage machine additionally checks
// the transition graph and lock consistency (§3 invariant 2) when it
// applies a mutation.
func ValidateDealStructure(d *deal.Deal) error {
	if d.DealID == "" {
		return fmt.Errorf("invariants: deal has empty id")
	}
	if d.AliceSpec.ChainID == "" || d.BobSpec.ChainID == "" {
		return fmt.Errorf("invariants: deal %s missing chain id on a side", d.DealID)
	}
	if d.AliceSpec.Asset == "" || d.BobSpec.Asset == "" {
		return fmt.Errorf("invariants: deal %s missing asset code on a side", d.DealID)
	}
	if !decimal.IsPositive(d.AliceSpec.Amount) || !decimal.IsPositive(d.BobSpec.Amount) {
		return fmt.Errorf("invariants: deal %s has non-positive trade amount", d.DealID)
	}
	if d.TimeoutSeconds <= 0 {
		return fmt.Errorf("invariants: deal %s has non-positive timeout", d.DealID)
	}
	// §3 invariant 2 ("locked at some point") is a history property over
	// Events, not a structural one — the stage machine enforces it at
	// the point of transition rather than here.
	return nil
}
