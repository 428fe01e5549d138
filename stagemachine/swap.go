package stagemachine

import (
	"context"
	"time"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// handleSwap implements the SWAP stage (§4.3). Sufficiency is never
// re-evaluated here — entering SWAP already cleared expires_at
// permanently — so this stage only ensures the transfer plan exists
// (built once, on first entry) and watches for full completion. Actual
// submission and confirmation polling run on the queue processor's and
// confirmation monitor's own schedules (§4.5, §4.7), not per tick.
func (m *Machine) handleSwap(ctx context.Context, tx repository.Tx, d *deal.Deal, now time.Time) error {
	items, err := m.store.Queue().GetByDeal(ctx, tx, d.DealID)
	if err != nil {
		return err
	}

	active := make([]*queueitem.QueueItem, 0, len(items))
	for _, item := range items {
		if item.Status != queueitem.StatusCancelled {
			active = append(active, item)
		}
	}

	if len(active) == 0 {
		aliceDecimals, err := m.registry.Decimals(d.AliceSpec.Asset)
		if err != nil {
			return err
		}
		bobDecimals, err := m.registry.Decimals(d.BobSpec.Asset)
		if err != nil {
			return err
		}
		planned, err := m.planner.BuildSwapPlan(ctx, d, aliceDecimals, bobDecimals)
		if err != nil {
			return err
		}
		for i, item := range planned {
			item.DealID = d.DealID
			item.Seq = int64(i)
			if err := m.store.Queue().Enqueue(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	}

	for _, item := range active {
		if item.Status != queueitem.StatusCompleted {
			return nil
		}
	}

	return m.transition(ctx, tx, d, deal.StageClosed, now)
}
