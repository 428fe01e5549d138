package queueproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/internal/alert"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository/memrepo"
)

func newTestProcessor(t *testing.T, fake *chainadapter.Fake, now time.Time) (*Processor, *memrepo.Store) {
	t.Helper()
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	alerts := alert.NewSink(store)
	clock := func() time.Time { return now }
	p := New(store, adapters, alerts, clock)
	p.sleep = func(time.Duration) {}
	return p, store
}

func seedDeal(store *memrepo.Store, dealID string, stage deal.Stage) {
	store.PutDeal(&deal.Deal{DealID: dealID, Stage: stage, SideA: deal.NewSideState(), SideB: deal.NewSideState()})
}

func TestProcessorSubmitsAccountItemWithReservedNonce(t *testing.T) {
	fake := chainadapter.NewFake()
	now := time.Now()
	p, store := newTestProcessor(t, fake, now)
	seedDeal(store, "d1", deal.StageSwap)

	item := &queueitem.QueueItem{
		DealID:  "d1",
		ChainID: "ETH",
		From:    queueitem.Endpoint{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"},
		To:      "alice-recipient",
		Asset:   "ETH@ETH",
		Amount:  decimal.MustParse("1.5"),
		Purpose: queueitem.PurposeSwapPayout,
	}
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, item))

	require.NoError(t, p.RunOnce(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, queueitem.StatusSubmitted, items[0].Status)
	require.NotNil(t, items[0].SubmittedTx)
	require.NotNil(t, items[0].OriginalNonce)
	require.Equal(t, uint64(0), *items[0].OriginalNonce)
}

func TestProcessorProcessesSameSenderItemsInSeqOrder(t *testing.T) {
	fake := chainadapter.NewFake()
	now := time.Now()
	p, store := newTestProcessor(t, fake, now)
	seedDeal(store, "d1", deal.StageSwap)

	from := queueitem.Endpoint{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"}
	first := &queueitem.QueueItem{DealID: "d1", ChainID: "ETH", From: from, To: "r1", Asset: "ETH@ETH", Amount: decimal.MustParse("1"), Purpose: queueitem.PurposeSwapPayout}
	second := &queueitem.QueueItem{DealID: "d1", ChainID: "ETH", From: from, To: "r2", Asset: "ETH@ETH", Amount: decimal.MustParse("2"), Purpose: queueitem.PurposeOpCommission}
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, first))
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, second))

	require.NoError(t, p.RunOnce(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		require.Equal(t, queueitem.StatusSubmitted, it.Status)
	}
	// Ascending seq means first enqueued reserved nonce 0, second nonce 1.
	require.Equal(t, uint64(0), *items[0].OriginalNonce)
	require.Equal(t, uint64(1), *items[1].OriginalNonce)
}

func TestProcessorBrokerItemBypassesNonceReservation(t *testing.T) {
	fake := chainadapter.NewFake()
	fake.BrokerAvailable = true
	now := time.Now()
	p, store := newTestProcessor(t, fake, now)
	seedDeal(store, "d1", deal.StageSwap)

	item := &queueitem.QueueItem{
		DealID:       "d1",
		ChainID:      "ETH",
		From:         queueitem.Endpoint{ChainID: "ETH", Address: "broker-escrow", KeyHandle: "key-a"},
		Purpose:      queueitem.PurposeBrokerSwap,
		Payback:      "alice-payback",
		Recipient:    "bob-recipient",
		FeeRecipient: "fee-sink",
		Amount:       decimal.MustParse("1"),
		Asset:        "ETH@ETH",
	}
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, item))

	require.NoError(t, p.RunOnce(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, queueitem.StatusSubmitted, items[0].Status)
	require.Nil(t, items[0].OriginalNonce)

	state, err := store.Accounts().GetNextNonce(context.Background(), nil, "ETH", "broker-escrow")
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestProcessorTimeoutRefundGatedUntilSwapPayoutsResolved(t *testing.T) {
	fake := chainadapter.NewFake()
	now := time.Now()
	p, store := newTestProcessor(t, fake, now)
	seedDeal(store, "d1", deal.StageReverted)

	from := queueitem.Endpoint{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"}
	pendingSwap := &queueitem.QueueItem{DealID: "d1", ChainID: "ETH", From: from, To: "r1", Asset: "ETH@ETH", Amount: decimal.MustParse("1"), Purpose: queueitem.PurposeSwapPayout}
	refund := &queueitem.QueueItem{DealID: "d1", ChainID: "ETH", From: from, To: "r2", Asset: "ETH@ETH", Amount: decimal.MustParse("1"), Purpose: queueitem.PurposeTimeoutRefund}
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, pendingSwap))
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, refund))

	require.NoError(t, p.RunOnce(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, queueitem.StatusSubmitted, items[0].Status)
	// Refund stayed PENDING: the swap payout ahead of it hasn't resolved
	// and the deal isn't CLOSED.
	require.Equal(t, queueitem.StatusPending, items[1].Status)
}

func TestProcessorUsesIdempotencyCheckBeforeResubmitting(t *testing.T) {
	fake := chainadapter.NewFake()
	now := time.Now()
	p, store := newTestProcessor(t, fake, now)
	seedDeal(store, "d1", deal.StageSwap)

	from := chainadapter.EscrowWithKey{Address: "escrow-a", KeyHandle: "key-a"}
	fake.RecordExisting(from, "recipient", "ETH@ETH", decimal.MustParse("1"), chainadapter.ExistingTransfer{Txid: "already-landed", BlockNumber: 42})

	item := &queueitem.QueueItem{DealID: "d1", ChainID: "ETH", From: queueitem.Endpoint{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"}, To: "recipient", Asset: "ETH@ETH", Amount: decimal.MustParse("1"), Purpose: queueitem.PurposeSwapPayout}
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, item))

	require.NoError(t, p.RunOnce(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, queueitem.StatusSubmitted, items[0].Status)
	require.Equal(t, "already-landed", items[0].SubmittedTx.Txid)
}

func TestSweepStuckBumpsGasAndResubmitsAtSameNonce(t *testing.T) {
	fake := chainadapter.NewFake()
	now := time.Now()
	p, store := newTestProcessor(t, fake, now)
	seedDeal(store, "d1", deal.StageSwap)

	nonce := uint64(7)
	item := &queueitem.QueueItem{
		DealID:       "d1",
		ChainID:      "ETH",
		From:         queueitem.Endpoint{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"},
		To:           "recipient",
		Asset:        "ETH@ETH",
		Amount:       decimal.MustParse("1"),
		Purpose:      queueitem.PurposeSwapPayout,
		Status:       queueitem.StatusSubmitted,
		OriginalNonce: &nonce,
		LastGasPrice: decimal.MustParse("10"),
		LastSubmitAt: now.Add(-10 * time.Minute),
		SubmittedTx: &queueitem.TxRef{
			ChainID: "ETH", Txid: "stuck-tx", Confirmations: 0, RequiredConfirms: 3, Status: queueitem.TxPending,
		},
	}
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, item))
	fake.MarkStuck("stuck-tx", true)

	require.NoError(t, p.sweepStuck(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, 1, items[0].GasBumpAttempts)
	require.Equal(t, queueitem.StatusSubmitted, items[0].Status)
	require.Zero(t, decimal.Cmp(items[0].SubmittedTx.GasPrice, decimal.MustParse("12")))
}

func TestSweepStuckForceCompletesAfterMaxAttempts(t *testing.T) {
	fake := chainadapter.NewFake()
	now := time.Now()
	p, store := newTestProcessor(t, fake, now)
	seedDeal(store, "d1", deal.StageSwap)

	nonce := uint64(7)
	item := &queueitem.QueueItem{
		DealID:          "d1",
		ChainID:         "ETH",
		From:            queueitem.Endpoint{ChainID: "ETH", Address: "escrow-a", KeyHandle: "key-a"},
		To:              "recipient",
		Asset:           "ETH@ETH",
		Amount:          decimal.MustParse("1"),
		Purpose:         queueitem.PurposeSwapPayout,
		Status:          queueitem.StatusSubmitted,
		OriginalNonce:   &nonce,
		GasBumpAttempts: 5,
		LastSubmitAt:    now.Add(-10 * time.Minute),
		SubmittedTx: &queueitem.TxRef{
			ChainID: "ETH", Txid: "stuck-tx", Confirmations: 0, RequiredConfirms: 3, Status: queueitem.TxPending,
		},
	}
	require.NoError(t, store.Queue().Enqueue(context.Background(), nil, item))
	fake.MarkStuck("stuck-tx", true)

	require.NoError(t, p.sweepStuck(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, queueitem.StatusCompleted, items[0].Status)
}
