package invariants

import (
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// HasSufficientFunds implements the COLLECTION-stage "has_sufficient_funds"
// check (§4.3): raw (0-confirm) per-asset totals compared against the
// required trade (+ same-asset commission, or separately for
// native-commission) pair. It never inspects confirmation counts or
// block time — that's reserved for the WAITING-stage lock evaluation.
func HasSufficientFunds(deposits []deal.EscrowDeposit, tradeAsset string, tradeAmount decimal.D, commission deal.CommissionRequirement, assetDecimals int32) bool {
	totals := SumAllByAsset(deposits)
	commissionAmount := ComputeCommission(tradeAmount, commission, assetDecimals)

	sameAsset := commission.Asset == tradeAsset
	if sameAsset {
		return decimal.GTE(totals[tradeAsset], decimal.Add(tradeAmount, commissionAmount))
	}
	return decimal.GTE(totals[tradeAsset], tradeAmount) && decimal.GTE(totals[commission.Asset], commissionAmount)
}
