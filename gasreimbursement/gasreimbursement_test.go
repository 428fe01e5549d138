package gasreimbursement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klaytn-labs/otc-broker-engine/assets"
	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository/memrepo"
)

func newRegistry() *assets.Registry {
	r := assets.NewRegistry()
	r.RegisterChain(assets.ChainParams{ChainID: "ETH", Family: assets.FamilyEVM, NativeAsset: "ETH@ETH", ConfirmThreshold: 3, CollectConfirms: 3})
	r.RegisterAsset(assets.AssetSpec{Code: "ETH@ETH", ChainID: "ETH", Native: true, Decimals: 18})
	r.RegisterAsset(assets.AssetSpec{Code: "USDC@ETH", ChainID: "ETH", Native: false, Decimals: 6})
	return r
}

func seedSwapPayoutItem(store *memrepo.Store, dealID, txid string) *queueitem.QueueItem {
	store.PutDeal(&deal.Deal{DealID: dealID, Stage: deal.StageSwap, SideA: deal.NewSideState(), SideB: deal.NewSideState()})
	item := &queueitem.QueueItem{
		DealID:  dealID,
		ChainID: "ETH",
		From:    queueitem.Endpoint{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"},
		To:      "recipient",
		Asset:   "ETH@ETH",
		Amount:  decimal.MustParse("1"),
		Purpose: queueitem.PurposeSwapPayout,
		Status:  queueitem.StatusSubmitted,
		SubmittedTx: &queueitem.TxRef{
			ChainID: "ETH", Txid: txid, Confirmations: 1, RequiredConfirms: 3, Status: queueitem.TxPending,
		},
	}
	_ = store.Queue().Enqueue(context.Background(), nil, item)
	return item
}

func seedFakeRates(fake *chainadapter.Fake) {
	fake.TankAddress = "tank-eth"
	fake.SetGasReceipt("tx1", chainadapter.GasReceipt{GasUsed: 21000, GasPrice: decimal.MustParse("50000000000")}) // 50 gwei
	fake.SetUSDRate("ETH@ETH", decimal.MustParse("2000"))
	fake.SetUSDRate("USDC@ETH", decimal.MustParse("1"))
	fake.SetBalance("USDC@ETH", "escrow-a", decimal.MustParse("1000"))
}

func newCalculator(store *memrepo.Store, adapters *chainadapter.Registry, enabled bool) *Calculator {
	cfg := Config{Enabled: enabled, ReimbursementAsset: map[string]string{"ETH": "USDC@ETH"}}
	return New(store, adapters, newRegistry(), cfg, func() time.Time { return time.Now() })
}

func TestCalculatorQueuesReimbursementOnFirstConfirmation(t *testing.T) {
	fake := chainadapter.NewFake()
	seedFakeRates(fake)
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	calc := newCalculator(store, adapters, true)

	item := seedSwapPayoutItem(store, "d1", "tx1")

	require.NoError(t, calc.OnFirstConfirmation(context.Background(), "d1", item))

	d, err := store.Deals().Get(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, deal.GasReimbursementQueued, d.GasReimbursement.Status)
	require.NotEmpty(t, d.GasReimbursement.QueueItemID)
	require.NotNil(t, d.GasReimbursement.Calculation)

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)

	var reimb *queueitem.QueueItem
	for _, it := range items {
		if it.Purpose == queueitem.PurposeGasReimbursement {
			reimb = it
		}
	}
	require.NotNil(t, reimb)
	require.Equal(t, "tank-eth", reimb.To)
	require.Equal(t, "USDC@ETH", reimb.Asset)
	require.True(t, decimal.IsPositive(reimb.Amount))
}

func TestCalculatorSkipsWhenDisabled(t *testing.T) {
	fake := chainadapter.NewFake()
	seedFakeRates(fake)
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	calc := newCalculator(store, adapters, false)

	item := seedSwapPayoutItem(store, "d1", "tx1")
	require.NoError(t, calc.OnFirstConfirmation(context.Background(), "d1", item))

	d, err := store.Deals().Get(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, deal.GasReimbursementSkipped, d.GasReimbursement.Status)
	require.Equal(t, "reimbursement disabled", d.GasReimbursement.SkippedReason)
}

func TestCalculatorSkipsWhenTankAddressUnavailable(t *testing.T) {
	fake := chainadapter.NewFake()
	seedFakeRates(fake)
	fake.TankAddress = ""
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	calc := newCalculator(store, adapters, true)

	item := seedSwapPayoutItem(store, "d1", "tx1")
	require.NoError(t, calc.OnFirstConfirmation(context.Background(), "d1", item))

	d, err := store.Deals().Get(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, deal.GasReimbursementSkipped, d.GasReimbursement.Status)
	require.Equal(t, "tank address unavailable", d.GasReimbursement.SkippedReason)
}

func TestCalculatorSkipsOnInsufficientBalance(t *testing.T) {
	fake := chainadapter.NewFake()
	seedFakeRates(fake)
	fake.SetBalance("USDC@ETH", "escrow-a", decimal.MustParse("0.01"))
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	calc := newCalculator(store, adapters, true)

	item := seedSwapPayoutItem(store, "d1", "tx1")
	require.NoError(t, calc.OnFirstConfirmation(context.Background(), "d1", item))

	d, err := store.Deals().Get(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, deal.GasReimbursementSkipped, d.GasReimbursement.Status)
	require.Equal(t, "insufficient escrow balance of reimbursement token", d.GasReimbursement.SkippedReason)
}

func TestCalculatorIsIdempotentPerDeal(t *testing.T) {
	fake := chainadapter.NewFake()
	seedFakeRates(fake)
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	calc := newCalculator(store, adapters, true)

	item := seedSwapPayoutItem(store, "d1", "tx1")
	require.NoError(t, calc.OnFirstConfirmation(context.Background(), "d1", item))
	require.NoError(t, calc.OnFirstConfirmation(context.Background(), "d1", item))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	count := 0
	for _, it := range items {
		if it.Purpose == queueitem.PurposeGasReimbursement {
			count++
		}
	}
	require.Equal(t, 1, count)
}
