package stagemachine

import (
	"context"
	"time"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// handleReverted implements the REVERTED stage (§4.3): identical
// polling to SWAP but over the refund items revert_deal enqueued
// rather than the swap plan.
func (m *Machine) handleReverted(ctx context.Context, tx repository.Tx, d *deal.Deal, now time.Time) error {
	items, err := m.store.Queue().GetByDeal(ctx, tx, d.DealID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		// revert_deal always enqueues the refund plan itself before
		// transitioning into REVERTED; an empty queue here means the
		// revert produced nothing to refund (both sides at zero).
		return m.transition(ctx, tx, d, deal.StageClosed, now)
	}
	for _, item := range items {
		if item.Status != queueitem.StatusCompleted {
			return nil
		}
	}
	return m.transition(ctx, tx, d, deal.StageClosed, now)
}
