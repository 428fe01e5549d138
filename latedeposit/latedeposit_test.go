package latedeposit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository/memrepo"
)

func seedClosedDeal(store *memrepo.Store, dealID string, lastTransition time.Time) *deal.Deal {
	d := &deal.Deal{
		DealID: dealID,
		Stage:  deal.StageClosed,
		AliceSpec: deal.PartySpec{ChainID: "ETH", Asset: "ETH@ETH", Amount: decimal.MustParse("1")},
		BobSpec:   deal.PartySpec{ChainID: "ETH", Asset: "ETH@ETH", Amount: decimal.MustParse("1")},
		EscrowA: deal.EscrowRef{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"},
		EscrowB: deal.EscrowRef{ChainID: "ETH", Address: "escrow-b", KeyHandle: "key-b"},
		AliceDetails:     &deal.PartyDetails{PaybackAddress: "alice-payback", RecipientAddress: "alice-recipient"},
		BobDetails:       &deal.PartyDetails{PaybackAddress: "bob-payback", RecipientAddress: "bob-recipient"},
		SideA:            deal.NewSideState(),
		SideB:            deal.NewSideState(),
		LastTransitionAt: lastTransition,
	}
	store.PutDeal(d)
	return d
}

func TestWatcherQueuesRefundForResidualBalance(t *testing.T) {
	fake := chainadapter.NewFake()
	fake.SetBalance("ETH@ETH", "escrow-a", decimal.MustParse("0.05"))
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	now := time.Now()
	seedClosedDeal(store, "d1", now.Add(-10*time.Minute))

	w := New(store, adapters, nil, func() time.Time { return now })
	require.NoError(t, w.RunOnce(context.Background()))

	allPending, err := store.Queue().GetAll(context.Background(), nil, queueitem.StatusPending)
	require.NoError(t, err)
	require.Len(t, allPending, 1)
	require.Equal(t, queueitem.PurposeTimeoutRefund, allPending[0].Purpose)
	require.Equal(t, "alice-payback", allPending[0].To)
	require.NotEqual(t, "d1", allPending[0].DealID)
}

func TestWatcherSkipsWithinSettleGuard(t *testing.T) {
	fake := chainadapter.NewFake()
	fake.SetBalance("ETH@ETH", "escrow-a", decimal.MustParse("0.05"))
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	now := time.Now()
	seedClosedDeal(store, "d1", now.Add(-1*time.Minute))

	w := New(store, adapters, nil, func() time.Time { return now })
	require.NoError(t, w.RunOnce(context.Background()))

	allPending, err := store.Queue().GetAll(context.Background(), nil, queueitem.StatusPending)
	require.NoError(t, err)
	require.Len(t, allPending, 0)
}

func TestWatcherSkipsDustBalance(t *testing.T) {
	fake := chainadapter.NewFake()
	fake.SetBalance("ETH@ETH", "escrow-a", decimal.MustParse("0.0000001"))
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	now := time.Now()
	seedClosedDeal(store, "d1", now.Add(-10*time.Minute))

	w := New(store, adapters, nil, func() time.Time { return now })
	require.NoError(t, w.RunOnce(context.Background()))

	allPending, err := store.Queue().GetAll(context.Background(), nil, queueitem.StatusPending)
	require.NoError(t, err)
	require.Len(t, allPending, 0)
}

func TestWatcherSkipsBeyondWindow(t *testing.T) {
	fake := chainadapter.NewFake()
	fake.SetBalance("ETH@ETH", "escrow-a", decimal.MustParse("0.05"))
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	now := time.Now()
	seedClosedDeal(store, "d1", now.Add(-8*24*time.Hour))

	w := New(store, adapters, nil, func() time.Time { return now })
	require.NoError(t, w.RunOnce(context.Background()))

	allPending, err := store.Queue().GetAll(context.Background(), nil, queueitem.StatusPending)
	require.NoError(t, err)
	require.Len(t, allPending, 0)
}

func TestWatcherUsesBrokerRefundWhenAvailable(t *testing.T) {
	fake := chainadapter.NewFake()
	fake.BrokerAvailable = true
	fake.SetBalance("ETH@ETH", "escrow-a", decimal.MustParse("0.05"))
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	now := time.Now()
	seedClosedDeal(store, "d1", now.Add(-10*time.Minute))

	w := New(store, adapters, nil, func() time.Time { return now })
	require.NoError(t, w.RunOnce(context.Background()))

	allPending, err := store.Queue().GetAll(context.Background(), nil, queueitem.StatusPending)
	require.NoError(t, err)
	require.Len(t, allPending, 1)
	require.Equal(t, queueitem.PurposeBrokerRefund, allPending[0].Purpose)
}
