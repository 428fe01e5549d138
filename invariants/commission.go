package invariants

import (
	"strconv"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

// ComputeCommission implements the two commission modes of §4.1.
//
// PERCENT_BPS: floor(tradeAmount * bps / 10000, assetDecimals), plus —
// when the trade asset is an ERC20 with a configured fixed fee — that
// fee added in (same asset as the trade).
//
// FIXED_USD_NATIVE: the native (or same-asset stablecoin) amount
// frozen into the requirement at deal creation, treated 1:1.
func ComputeCommission(tradeAmount decimal.D, req deal.CommissionRequirement, assetDecimals int32) decimal.D {
	switch req.Mode {
	case deal.CommissionFixedUSDNative:
		return decimal.Floor(req.FixedAmount, assetDecimals)
	case deal.CommissionPercentBPS:
		pct := decimal.Floor(
			tradeAmount.Mul(decimal.MustParse(strconv.FormatInt(int64(req.BPS), 10))).Div(decimal.MustParse("10000")),
			assetDecimals,
		)
		if decimal.IsPositive(req.FixedFee) {
			pct = decimal.Add(pct, req.FixedFee)
		}
		return pct
	default:
		return decimal.Zero
	}
}
