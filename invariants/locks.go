package invariants

import (
	"time"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// LockCheckResult is the return value of CheckLocks (§4.1).
type LockCheckResult struct {
	TradeLocked         bool
	CommissionLocked    bool
	TradeCollected      decimal.D
	CommissionCollected decimal.D
	Eligible            []deal.EscrowDeposit
}

// CheckLocks sums a side's eligible deposits by asset and decides
// whether the trade and commission requirements are met (§4.1).
//
// Commission lock rule: when the commission asset equals the trade
// asset, commission can never be carved out of the trade amount — the
// side must hold trade+commission together (the "same-asset surplus
// rule"). Otherwise the commission asset's own collected total is
// compared against the commission amount independently.
func CheckLocks(
	deposits []deal.EscrowDeposit,
	tradeAsset string,
	tradeAmount decimal.D,
	commissionAsset string,
	commissionAmount decimal.D,
	minConfirms int,
	expiresAt time.Time,
) LockCheckResult {
	eligible := EligibleDeposits(deposits, minConfirms, expiresAt)

	byAsset := sumByAsset(eligible)

	tradeCollected := byAsset[tradeAsset]
	sameAsset := commissionAsset == tradeAsset

	var commissionCollected decimal.D
	var commissionLocked bool
	if sameAsset {
		commissionCollected = tradeCollected
		commissionLocked = decimal.GTE(tradeCollected, decimal.Add(tradeAmount, commissionAmount))
	} else {
		commissionCollected = byAsset[commissionAsset]
		commissionLocked = decimal.GTE(commissionCollected, commissionAmount)
	}

	tradeLocked := decimal.GTE(tradeCollected, tradeAmount)

	return LockCheckResult{
		TradeLocked:         tradeLocked,
		CommissionLocked:    commissionLocked,
		TradeCollected:      tradeCollected,
		CommissionCollected: commissionCollected,
		Eligible:            eligible,
	}
}

func sumByAsset(deposits []deal.EscrowDeposit) map[string]decimal.D {
	totals := make(map[string]decimal.D)
	for _, d := range deposits {
		totals[d.Asset] = decimal.Add(totals[d.Asset], d.Amount)
	}
	return totals
}

// CalculateSurplus returns max(0, collected - (trade + commission)) for
// the same-asset case, or max(0, collected - trade) otherwise (§4.1).
func CalculateSurplus(collected, trade, commission decimal.D, sameAsset bool) decimal.D {
	required := trade
	if sameAsset {
		required = decimal.Add(trade, commission)
	}
	return decimal.MaxZero(decimal.Sub(collected, required))
}

// SumAllByAsset sums every deposit (pending and confirmed) by asset —
// the CREATED/COLLECTION raw-total rule of §3 invariant 6.
func SumAllByAsset(deposits []deal.EscrowDeposit) map[string]decimal.D {
	return sumByAsset(deposits)
}
