package sqlrepo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
)

func TestEncodeDecodeDealRoundTrips(t *testing.T) {
	idx := 2
	d := &deal.Deal{
		DealID:         "deal-1",
		AliceSpec:      deal.PartySpec{ChainID: "ETH", Asset: "ETH", Amount: decimal.MustParse("1")},
		BobSpec:        deal.PartySpec{ChainID: "ETH", Asset: "USDT", Amount: decimal.MustParse("2000")},
		TimeoutSeconds: 3600,
		Stage:          deal.StageCollection,
		EscrowA:        deal.EscrowRef{ChainID: "ETH", Address: "0xA", KeyHandle: "key-a"},
		EscrowB:        deal.EscrowRef{ChainID: "ETH", Address: "0xB", KeyHandle: "key-b"},
		SideA:          deal.NewSideState(),
		SideB:          deal.NewSideState(),
		CreatedAt:      time.Now().Truncate(time.Second),
	}
	d.SideA.MergeDeposit(deal.EscrowDeposit{Txid: "tx1", Index: &idx, Amount: decimal.MustParse("1"), Asset: "ETH"})

	row, err := encodeDeal(d)
	require.NoError(t, err)
	require.Equal(t, "deal-1", row.DealID)
	require.Equal(t, string(deal.StageCollection), row.Stage)

	decoded, err := decodeDeal(row)
	require.NoError(t, err)
	require.Equal(t, d.DealID, decoded.DealID)
	require.Equal(t, d.Stage, decoded.Stage)
	require.Len(t, decoded.SideA.AllDeposits(), 1)
	require.Equal(t, "tx1", decoded.SideA.AllDeposits()[0].Txid)
}

func TestEncodeDecodeQueueItemRoundTrips(t *testing.T) {
	it := &queueitem.QueueItem{
		QueueID: "q-1",
		DealID:  "deal-1",
		ChainID: "ETH",
		From:    queueitem.Endpoint{ChainID: "ETH", Address: "0xA", KeyHandle: "key-a"},
		To:      "0xB",
		Asset:   "ETH",
		Amount:  decimal.MustParse("1"),
		Purpose: queueitem.PurposeSwapPayout,
		Status:  queueitem.StatusPending,
		Seq:     1,
	}

	row, err := encodeQueueItem(it)
	require.NoError(t, err)
	require.Equal(t, "q-1", row.QueueID)
	require.Equal(t, "0xA", row.Address)
	require.Equal(t, string(queueitem.StatusPending), row.Status)

	decoded, err := decodeQueueItem(row)
	require.NoError(t, err)
	require.Equal(t, it.QueueID, decoded.QueueID)
	require.Equal(t, it.Purpose, decoded.Purpose)
	require.True(t, it.Amount.Equal(decoded.Amount))
}

func TestSecondsToTimeAndParseDecimal(t *testing.T) {
	require.True(t, secondsToTime(0).IsZero())
	ts := secondsToTime(1700000000)
	require.Equal(t, int64(1700000000), ts.Unix())

	d, err := parseDecimal("12.5")
	require.NoError(t, err)
	require.True(t, d.Equal(decimal.MustParse("12.5")))
}
