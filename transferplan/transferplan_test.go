package transferplan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
)

func newTestDeal() *deal.Deal {
	return &deal.Deal{
		DealID: "d1",
		AliceSpec: deal.PartySpec{ChainID: "ETH", Asset: "ETH@ETH", Amount: decimal.MustParse("1.5")},
		BobSpec:   deal.PartySpec{ChainID: "ETH", Asset: "USDC@ETH", Amount: decimal.MustParse("3000")},
		CommissionPlan: deal.CommissionPlan{
			AliceCommission: deal.CommissionRequirement{Mode: deal.CommissionPercentBPS, BPS: 30, Asset: "ETH@ETH"},
			BobCommission:   deal.CommissionRequirement{Mode: deal.CommissionPercentBPS, BPS: 30, Asset: "USDC@ETH"},
		},
		EscrowA:      deal.EscrowRef{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"},
		EscrowB:      deal.EscrowRef{ChainID: "ETH", Address: "escrow-b", KeyHandle: "key-b"},
		AliceDetails: &deal.PartyDetails{PaybackAddress: "alice-payback", RecipientAddress: "alice-recipient"},
		BobDetails:   &deal.PartyDetails{PaybackAddress: "bob-payback", RecipientAddress: "bob-recipient"},
		SideA: deal.SideState{CollectedByAsset: map[string]decimal.D{"ETH@ETH": decimal.MustParse("1.5")}},
		SideB: deal.SideState{CollectedByAsset: map[string]decimal.D{"USDC@ETH": decimal.MustParse("3000")}},
	}
}

func TestBuildSwapPlanFallbackPathOrdering(t *testing.T) {
	registry := chainadapter.NewRegistry()
	fake := chainadapter.NewFake()
	fake.BrokerAvailable = false
	registry.Register("ETH", fake)

	planner := NewPlanner(registry)
	d := newTestDeal()
	items, err := planner.BuildSwapPlan(context.Background(), d, 18, 6)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	var alicePurposes []queueitem.Purpose
	for _, it := range items {
		if it.From.Address == "escrow-a" {
			alicePurposes = append(alicePurposes, it.Purpose)
		}
	}
	require.Equal(t, []queueitem.Purpose{queueitem.PurposeSwapPayout, queueitem.PurposeOpCommission}, alicePurposes)
}

func TestBuildSwapPlanBrokerPath(t *testing.T) {
	registry := chainadapter.NewRegistry()
	fake := chainadapter.NewFake()
	fake.BrokerAvailable = true
	registry.Register("ETH", fake)

	planner := NewPlanner(registry)
	d := newTestDeal()
	items, err := planner.BuildSwapPlan(context.Background(), d, 18, 6)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		require.Equal(t, queueitem.PurposeBrokerSwap, it.Purpose)
	}
}

func TestBuildSwapPlanSurplusRefund(t *testing.T) {
	registry := chainadapter.NewRegistry()
	fake := chainadapter.NewFake()
	registry.Register("ETH", fake)

	planner := NewPlanner(registry)
	d := newTestDeal()
	d.SideB.CollectedByAsset["USDC@ETH"] = decimal.MustParse("3100")

	items, err := planner.BuildSwapPlan(context.Background(), d, 18, 6)
	require.NoError(t, err)

	var bobPurposes []queueitem.Purpose
	for _, it := range items {
		if it.From.Address == "escrow-b" {
			bobPurposes = append(bobPurposes, it.Purpose)
		}
	}
	require.Contains(t, bobPurposes, queueitem.PurposeSurplusRefund)
}

func TestBuildRevertPlanOnePerAssetPerSide(t *testing.T) {
	registry := chainadapter.NewRegistry()
	fake := chainadapter.NewFake()
	registry.Register("ETH", fake)

	planner := NewPlanner(registry)
	d := newTestDeal()
	d.SideB.CollectedByAsset = map[string]decimal.D{"USDC@ETH": decimal.MustParse("1000")}

	items := planner.BuildRevertPlan(context.Background(), d)
	require.Len(t, items, 2)
	for _, it := range items {
		require.Equal(t, queueitem.PurposeTimeoutRefund, it.Purpose)
	}
}
