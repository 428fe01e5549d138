package confirmmonitor

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

type recordingTrigger struct {
	calls int
}

func (t *recordingTrigger) OnFirstConfirmation(ctx context.Context, dealID string, item *queueitem.QueueItem) error {
	t.calls++
	return nil
}

func seedSubmittedItem(store *memrepo.Store, dealID, txid string, purpose queueitem.Purpose) *queueitem.QueueItem {
	store.PutDeal(&deal.Deal{DealID: dealID, Stage: deal.StageSwap, SideA: deal.NewSideState(), SideB: deal.NewSideState()})
	item := &queueitem.QueueItem{
		DealID:  dealID,
		ChainID: "ETH",
		From:    queueitem.Endpoint{ChainID: "ETH", Address: "escrow-a"},
		To:      "recipient",
		Asset:   "ETH@ETH",
		Amount:  decimal.MustParse("1"),
		Purpose: purpose,
		Status:  queueitem.StatusSubmitted,
		SubmittedTx: &queueitem.TxRef{
			ChainID: "ETH", Txid: txid, Confirmations: 0, RequiredConfirms: 3, Status: queueitem.TxPending,
		},
	}
	_ = store.Queue().Enqueue(context.Background(), nil, item)
	return item
}

func TestMonitorMarksCompletedOnceThresholdReached(t *testing.T) {
	fake := chainadapter.NewFake()
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	trigger := &recordingTrigger{}
	mon := New(store, adapters, trigger, func() time.Time { return time.Now() })

	seedSubmittedItem(store, "d1", "tx1", queueitem.PurposeSwapPayout)
	fake.SetConfirms("tx1", 3)

	require.NoError(t, mon.RunOnce(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, queueitem.StatusCompleted, items[0].Status)
	require.Equal(t, queueitem.TxConfirmed, items[0].SubmittedTx.Status)
}

func TestMonitorTriggersGasReimbursementOnFirstConfirmation(t *testing.T) {
	fake := chainadapter.NewFake()
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	trigger := &recordingTrigger{}
	mon := New(store, adapters, trigger, func() time.Time { return time.Now() })

	seedSubmittedItem(store, "d1", "tx1", queueitem.PurposeSwapPayout)
	fake.SetConfirms("tx1", 1)

	require.NoError(t, mon.RunOnce(context.Background()))
	require.Equal(t, 1, trigger.calls)

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, queueitem.StatusSubmitted, items[0].Status)
	require.Equal(t, 1, items[0].SubmittedTx.Confirmations)

	// A second pass at the same confirmation count must not re-trigger.
	require.NoError(t, mon.RunOnce(context.Background()))
	require.Equal(t, 1, trigger.calls)
}

func TestMonitorReturnsDroppedTxToPending(t *testing.T) {
	fake := chainadapter.NewFake()
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", fake)
	mon := New(store, adapters, nil, func() time.Time { return time.Now() })

	seedSubmittedItem(store, "d1", "tx1", queueitem.PurposeSwapPayout)
	// fake.SetConfirms never called for tx1: GetTxConfirmations defaults to -1.

	require.NoError(t, mon.RunOnce(context.Background()))

	items, err := store.Queue().GetByDeal(context.Background(), nil, "d1")
	require.NoError(t, err)
	require.Equal(t, queueitem.StatusPending, items[0].Status)
	require.Equal(t, queueitem.TxDropped, items[0].SubmittedTx.Status)
}
