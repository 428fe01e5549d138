package stagemachine

import (
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/invariants"
)

// commissionAmountFor computes the frozen commission amount for one
// side, falling back to zero if the asset's decimals are unknown
// rather than failing an entire pass over an obscure config gap.
func commissionAmountFor(m *Machine, spec deal.PartySpec, req deal.CommissionRequirement) decimal.D {
	decimals, err := m.registry.Decimals(spec.Asset)
	if err != nil {
		decimals = 0
	}
	return invariants.ComputeCommission(spec.Amount, req, decimals)
}
