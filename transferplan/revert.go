package transferplan

import (
	"context"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
)

// BuildRevertPlan constructs the refund plan for a timed-out or
// single-side-locked deal (§4.4). The broker path uses one atomic
// BROKER_REVERT per side; the fallback path enqueues one
// TIMEOUT_REFUND per (asset, side) with a non-zero collected amount,
// routed to that side's payback address.
func (p *Planner) BuildRevertPlan(ctx context.Context, d *deal.Deal) []*queueitem.QueueItem {
	var items []*queueitem.QueueItem
	items = append(items, p.revertSide(d, d.EscrowA, d.AliceDetails, &d.SideA)...)
	items = append(items, p.revertSide(d, d.EscrowB, d.BobDetails, &d.SideB)...)
	return items
}

func (p *Planner) revertSide(d *deal.Deal, escrow deal.EscrowRef, details *deal.PartyDetails, side *deal.SideState) []*queueitem.QueueItem {
	if details == nil {
		return nil
	}
	adapter, _ := p.adapters.Get(escrow.ChainID)
	fromEndpoint := queueitem.Endpoint{ChainID: escrow.ChainID, Address: escrow.Address, KeyHandle: escrow.KeyHandle}

	if adapter != nil && adapter.IsBrokerAvailable() {
		total := decimal.Zero
		for _, amt := range side.CollectedByAsset {
			total = decimal.Add(total, amt)
		}
		if !decimal.IsPositive(total) {
			return nil
		}
		return []*queueitem.QueueItem{{
			DealID:    d.DealID,
			ChainID:   escrow.ChainID,
			From:      fromEndpoint,
			To:        details.PaybackAddress,
			Purpose:   queueitem.PurposeBrokerRevert,
			Status:    queueitem.StatusPending,
			Payback:   details.PaybackAddress,
			Recipient: details.PaybackAddress,
		}}
	}

	var items []*queueitem.QueueItem
	for asset, amount := range side.CollectedByAsset {
		if !decimal.IsPositive(amount) {
			continue
		}
		items = append(items, &queueitem.QueueItem{
			DealID:  d.DealID,
			ChainID: escrow.ChainID,
			From:    fromEndpoint,
			To:      details.PaybackAddress,
			Asset:   asset,
			Amount:  amount,
			Purpose: queueitem.PurposeTimeoutRefund,
			Status:  queueitem.StatusPending,
		})
	}
	return items
}
