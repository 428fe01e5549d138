package invariants

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

func TestValidTransitionGraph(t *testing.T) {
	legal := []struct{ from, to deal.Stage }{
		{deal.StageCreated, deal.StageCollection},
		{deal.StageCollection, deal.StageWaiting},
		{deal.StageCollection, deal.StageReverted},
		{deal.StageWaiting, deal.StageSwap},
		{deal.StageWaiting, deal.StageCollection},
		{deal.StageSwap, deal.StageClosed},
		{deal.StageSwap, deal.StageCollection},
		{deal.StageReverted, deal.StageClosed},
	}
	for _, tc := range legal {
		require.True(t, ValidTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to deal.Stage }{
		{deal.StageCreated, deal.StageWaiting},
		{deal.StageCreated, deal.StageSwap},
		{deal.StageCollection, deal.StageSwap},
		{deal.StageSwap, deal.StageReverted},
		{deal.StageReverted, deal.StageCollection},
		{deal.StageClosed, deal.StageCreated},
	}
	for _, tc := range illegal {
		require.False(t, ValidTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}

	require.True(t, IsTerminal(deal.StageClosed))
	require.False(t, IsTerminal(deal.StageSwap))
}

func TestEligibleDepositsMinConfirmsZero(t *testing.T) {
	deposits := []deal.EscrowDeposit{
		{Txid: "a", Confirms: 0},
		{Txid: "b", Confirms: 3},
	}
	elig := EligibleDeposits(deposits, 0, time.Time{})
	require.Len(t, elig, 2)
}

func TestEligibleDepositsBlockTimeBoundary(t *testing.T) {
	expiry := time.Unix(1000, 0)
	onTime := expiry
	late := expiry.Add(time.Second)
	deposits := []deal.EscrowDeposit{
		{Txid: "on-time", Confirms: 5, BlockTime: &onTime},
		{Txid: "late", Confirms: 5, BlockTime: &late},
		{Txid: "unknown", Confirms: 5, BlockTime: nil},
	}
	elig := EligibleDeposits(deposits, 1, expiry)
	require.Len(t, elig, 2)
	var ids []string
	for _, d := range elig {
		ids = append(ids, d.Txid)
	}
	require.Contains(t, ids, "on-time")
	require.Contains(t, ids, "unknown")
	require.NotContains(t, ids, "late")
}

func TestCheckLocksSameAssetSurplusRule(t *testing.T) {
	trade := decimal.MustParse("100")
	commission := decimal.MustParse("1")
	deposits := []deal.EscrowDeposit{
		{Txid: "x", Asset: "USDC@ETH", Amount: decimal.MustParse("100.5"), Confirms: 3},
	}
	result := CheckLocks(deposits, "USDC@ETH", trade, "USDC@ETH", commission, 3, time.Time{})
	require.True(t, result.TradeLocked)
	require.False(t, result.CommissionLocked, "100.5 < 100+1, commission must not be satisfied out of trade amount")

	deposits[0].Amount = decimal.MustParse("101")
	result = CheckLocks(deposits, "USDC@ETH", trade, "USDC@ETH", commission, 3, time.Time{})
	require.True(t, result.CommissionLocked)
}

func TestCheckLocksDifferentAssetCommission(t *testing.T) {
	trade := decimal.MustParse("1.5")
	commission := decimal.MustParse("9")
	deposits := []deal.EscrowDeposit{
		{Txid: "trade-tx", Asset: "ETH@ETH", Amount: decimal.MustParse("1.5"), Confirms: 3},
	}
	result := CheckLocks(deposits, "ETH@ETH", trade, "USDC@ETH", commission, 3, time.Time{})
	require.True(t, result.TradeLocked)
	require.False(t, result.CommissionLocked, "no USDC deposit observed yet")
}

func TestCalculateSurplus(t *testing.T) {
	s := CalculateSurplus(decimal.MustParse("110"), decimal.MustParse("100"), decimal.MustParse("5"), true)
	require.True(t, s.Equal(decimal.MustParse("5")))

	s = CalculateSurplus(decimal.MustParse("90"), decimal.MustParse("100"), decimal.MustParse("5"), true)
	require.True(t, s.Equal(decimal.Zero))

	s = CalculateSurplus(decimal.MustParse("2"), decimal.MustParse("1.5"), decimal.MustParse("9"), false)
	require.True(t, s.Equal(decimal.MustParse("0.5")))
}

func TestComputeCommissionPercentBPS(t *testing.T) {
	req := deal.CommissionRequirement{Mode: deal.CommissionPercentBPS, BPS: 30, Asset: "USDC@ETH"}
	got := ComputeCommission(decimal.MustParse("3000"), req, 6)
	require.True(t, got.Equal(decimal.MustParse("9")), "0.3%% of 3000 is 9, got %s", got)
}

func TestComputeCommissionPercentBPSWithFixedFee(t *testing.T) {
	req := deal.CommissionRequirement{
		Mode:     deal.CommissionPercentBPS,
		BPS:      30,
		Asset:    "TOKEN@ETH",
		FixedFee: decimal.MustParse("0.5"),
	}
	got := ComputeCommission(decimal.MustParse("1000"), req, 6)
	require.True(t, got.Equal(decimal.MustParse("3.5")), "0.3%% of 1000 (3) + fixed fee 0.5 = 3.5, got %s", got)
}

func TestComputeCommissionFixedUSDNative(t *testing.T) {
	req := deal.CommissionRequirement{Mode: deal.CommissionFixedUSDNative, FixedAmount: decimal.MustParse("0.0045")}
	got := ComputeCommission(decimal.MustParse("1.5"), req, 18)
	require.True(t, got.Equal(decimal.MustParse("0.0045")))
}

func TestHasSufficientFundsRawTotals(t *testing.T) {
	req := deal.CommissionRequirement{Mode: deal.CommissionPercentBPS, BPS: 30, Asset: "USDC@ETH"}
	deposits := []deal.EscrowDeposit{
		{Txid: "a", Asset: "USDC@ETH", Amount: decimal.MustParse("1000"), Confirms: 0},
	}
	require.False(t, HasSufficientFunds(deposits, "USDC@ETH", decimal.MustParse("3000"), req, 6))

	deposits = append(deposits, deal.EscrowDeposit{Txid: "b", Asset: "USDC@ETH", Amount: decimal.MustParse("2009"), Confirms: 0})
	require.True(t, HasSufficientFunds(deposits, "USDC@ETH", decimal.MustParse("3000"), req, 6))
}

func TestValidateDealStructureRejectsNonPositiveAmount(t *testing.T) {
	d := &deal.Deal{
		DealID:         "d1",
		AliceSpec:      deal.PartySpec{ChainID: "ETH", Asset: "ETH@ETH", Amount: decimal.Zero},
		BobSpec:        deal.PartySpec{ChainID: "ETH", Asset: "USDC@ETH", Amount: decimal.MustParse("1")},
		TimeoutSeconds: 3600,
	}
	require.Error(t, ValidateDealStructure(d))
}
